package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Settings is the JSON configuration of sandboxd.
type Settings struct {
	Table  TableSettings  `json:"table"`
	Server ServerSettings `json:"server"`
	GPU    GPUSettings    `json:"gpu"`
}

type TableSettings struct {
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	CellSize [2]float32 `json:"cellSize"`

	// DEM is an elevation grid file (.grid or .tif). Empty selects a
	// synthetic bowl.
	DEM string `json:"dem"`

	// DEMScale and DEMOffset map TIFF samples to elevations.
	DEMScale  float32 `json:"demScale"`
	DEMOffset float32 `json:"demOffset"`

	Rain        float32        `json:"rain"`
	Attenuation float32        `json:"attenuation"`
	MaxStepSize float32        `json:"maxStepSize"`
	SnowLine    *float32       `json:"snowLine,omitempty"`
	Sources     []DiskSettings `json:"sources"`
}

// DiskSettings places a circular water source.
type DiskSettings struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Radius float32 `json:"radius"`
	Rate   float32 `json:"rate"`
}

type ServerSettings struct {
	Addr            string `json:"addr"`
	WSAddr          string `json:"wsAddr"`
	TickMs          int    `json:"tickMs"`
	FrameIntervalMs int    `json:"frameIntervalMs"`
	StatsIntervalS  int    `json:"statsIntervalS"`
}

type GPUSettings struct {
	Hardware bool `json:"hardware"`
}

func (s ServerSettings) tick() time.Duration { return time.Duration(s.TickMs) * time.Millisecond }

func (s ServerSettings) frameInterval() time.Duration {
	return time.Duration(s.FrameIntervalMs) * time.Millisecond
}

func (s ServerSettings) statsInterval() time.Duration {
	return time.Duration(s.StatsIntervalS) * time.Second
}

func defaultSettings() Settings {
	return Settings{
		Table: TableSettings{
			Width:       128,
			Height:      96,
			CellSize:    [2]float32{1, 1},
			DEMScale:    1,
			Attenuation: 127.0 / 128.0,
			MaxStepSize: 1,
		},
		Server: ServerSettings{
			Addr:            ":26000",
			TickMs:          33,
			FrameIntervalMs: 33,
			StatsIntervalS:  5,
		},
	}
}

// loadSettings returns the defaults overlaid with the settings file at
// path. A missing file is not an error.
func loadSettings(path string) (Settings, bool, error) {
	s := defaultSettings()
	if path == "" {
		return s, false, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, false, nil
		}
		return s, false, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s); err != nil {
		return s, false, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return s, true, s.validate()
}

func (s Settings) validate() error {
	t := s.Table
	if t.DEM == "" && (t.Width < 2 || t.Height < 2) {
		return fmt.Errorf("table size %dx%d, need at least 2x2", t.Width, t.Height)
	}
	if !(t.CellSize[0] > 0) || !(t.CellSize[1] > 0) {
		return fmt.Errorf("cell size %v must be positive", t.CellSize)
	}
	if s.Server.TickMs <= 0 {
		return fmt.Errorf("tick %dms must be positive", s.Server.TickMs)
	}
	for i, d := range t.Sources {
		if !(d.Radius > 0) {
			return fmt.Errorf("source %d: radius %v must be positive", i, d.Radius)
		}
	}
	return nil
}
