// Command sandboxd runs a water table headless and streams it to remote
// viewers.
//
// The terrain is either loaded from an elevation grid (-dem, .grid or grey
// .tif) or a synthetic bowl. Water enters as rain and through the disk
// sources of the settings file. Viewers connect over TCP (-addr) or a
// websocket at /stream (-ws).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/tiff"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/elevation"
	_ "github.com/gogpu/sandbox/gpu"
	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/remote"
)

// maxStepsPerTick bounds the solver steps run to catch up one tick.
const maxStepsPerTick = 64

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		settingsPath = flag.String("settings", "sandboxd.json", "settings file")
		addr         = flag.String("addr", "", "TCP listen address for viewers")
		wsAddr       = flag.String("ws", "", "HTTP listen address for websocket viewers")
		size         = flag.String("size", "", "water grid size WxH")
		cell         = flag.Float64("cell", 0, "cell size")
		dem          = flag.String("dem", "", "elevation grid (.grid or .tif)")
		rain         = flag.Float64("rain", 0, "rain rate in height per second")
		tick         = flag.Duration("tick", 0, "simulated time per tick")
		hardware     = flag.Bool("gpu", false, "run on the GPU when available")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	sandbox.SetLogger(log)
	remote.SetLogger(log)

	settings, loaded, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	if loaded {
		log.Info("settings loaded", "path", *settingsPath)
	}

	// Flags given on the command line override the settings file.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			settings.Server.Addr = *addr
		case "ws":
			settings.Server.WSAddr = *wsAddr
		case "size":
			if _, err := fmt.Sscanf(*size, "%dx%d", &settings.Table.Width, &settings.Table.Height); err != nil {
				flagErr = fmt.Errorf("-size %q: want WxH", *size)
			}
		case "cell":
			settings.Table.CellSize = [2]float32{float32(*cell), float32(*cell)}
		case "dem":
			settings.Table.DEM = *dem
		case "rain":
			settings.Table.Rain = float32(*rain)
		case "tick":
			settings.Server.TickMs = int(tick.Milliseconds())
		case "gpu":
			settings.GPU.Hardware = *hardware
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := settings.validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev := sandbox.NewDevice(settings.GPU.Hardware)
	defer dev.Close()

	table, grid, err := newTable(dev, settings.Table)
	if err != nil {
		return err
	}
	defer table.Close()
	if grid != nil {
		defer grid.Close()
	}
	configure(table, settings.Table, log)

	w, h := table.Size()
	domain := table.Domain()
	srv, err := remote.NewServer(remote.GridInfo{
		Size:         [2]int{w, h},
		CellSize:     table.CellSize(),
		ElevationMin: domain.Min[2],
		ElevationMax: domain.Max[2],
	}, remote.WithRequestInterval(settings.Server.frameInterval()))
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := listen(ctx, srv, settings.Server, log); err != nil {
		return err
	}

	log.Info("sandbox running",
		"device", dev.Name(),
		"size", fmt.Sprintf("%dx%d", w, h),
		"mode", table.Mode(),
		"tick", settings.Server.tick())
	return loop(ctx, dev, table, srv, settings.Server, log)
}

// newTable builds the water table and its initial bathymetry. A DEM is
// returned as the table's elevation provider and must be closed by the
// caller.
func newTable(dev gpucore.Device, s TableSettings) (*sandbox.WaterTable, *elevation.Grid, error) {
	if s.DEM != "" {
		return newGridTable(dev, s)
	}

	height := 0.25 * min(float32(s.Width)*s.CellSize[0], float32(s.Height)*s.CellSize[1])
	table, err := sandbox.NewOfflineWaterTable(s.Width, s.Height, s.CellSize,
		sandbox.WithElevationRange(-0.1*height, 1.5*height))
	if err != nil {
		return nil, nil, err
	}
	if err := table.SetBathymetry(dev, bowl(table, height)); err != nil {
		table.Close()
		return nil, nil, err
	}
	return table, nil, nil
}

// bowl returns a paraboloid bathymetry rising to height at the shorter
// domain edge, with a shallow ridge across it.
func bowl(table *sandbox.WaterTable, height float32) []float32 {
	bw, bh := table.BathymetrySize()
	cs := table.CellSize()
	d := table.Domain()
	center := d.Min.Add(d.Max).Mul(0.5).Vec2()
	radius := 0.5 * min(d.Max[0]-d.Min[0], d.Max[1]-d.Min[1])

	grid := make([]float32, bw*bh)
	for j := range bh {
		for i := range bw {
			p := mgl32.Vec2{d.Min[0] + float32(i+1)*cs[0], d.Min[1] + float32(j+1)*cs[1]}
			r := min(p.Sub(center).Len()/radius, 1)
			ridge := 0.15 * height * float32(math.Exp(-float64(sq(10*(p[0]-center[0])/radius))))
			grid[j*bw+i] = height*r*r + ridge
		}
	}
	return grid
}

func sq(v float32) float32 { return v * v }

// newGridTable sizes a table so that its bathymetry vertices coincide with
// the samples of the DEM.
func newGridTable(dev gpucore.Device, s TableSettings) (*sandbox.WaterTable, *elevation.Grid, error) {
	grid, err := loadDEM(s)
	if err != nil {
		return nil, nil, err
	}
	gw, gh := grid.Size()
	box := grid.Box()
	cx := (box[2] - box[0]) / float32(gw-1)
	cy := (box[3] - box[1]) / float32(gh-1)
	x0, y0, x1, y1 := box[0]-cx, box[1]-cy, box[2]+cx, box[3]+cy
	corners := [4]mgl32.Vec3{{x0, y0, 0}, {x1, y0, 0}, {x0, y1, 0}, {x1, y1, 0}}

	samples := grid.Samples()
	lo, hi := slices.Min(samples), slices.Max(samples)
	pad := 0.1*(hi-lo) + 1
	table, err := sandbox.NewWaterTable(gw+1, gh+1, grid, corners,
		sandbox.WithElevationRange(lo-pad, hi+pad))
	if err != nil {
		grid.Close()
		return nil, nil, err
	}
	if err := table.UpdateBathymetry(dev); err != nil {
		table.Close()
		grid.Close()
		return nil, nil, err
	}
	return table, grid, nil
}

// loadDEM reads a .grid file, or a grey TIFF whose pixels are spaced by
// the configured cell size.
func loadDEM(s TableSettings) (*elevation.Grid, error) {
	switch strings.ToLower(filepath.Ext(s.DEM)) {
	case ".tif", ".tiff":
		f, err := os.Open(s.DEM)
		if err != nil {
			return nil, err
		}
		cfg, err := tiff.DecodeConfig(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.DEM, err)
		}
		box := [4]float32{0, 0, float32(cfg.Width-1) * s.CellSize[0], float32(cfg.Height-1) * s.CellSize[1]}
		return elevation.LoadTIFF(s.DEM, box, s.DEMScale, s.DEMOffset)
	default:
		return elevation.LoadGridFile(s.DEM)
	}
}

// diskSource adds water over a disk at a constant rate.
type diskSource struct {
	center mgl32.Vec2
	radius float32
	rate   float32
}

func (d *diskSource) AddWater(ctx *sandbox.WaterAddContext) error {
	return ctx.AddDisk(d.center, d.radius, d.rate)
}

func configure(table *sandbox.WaterTable, s TableSettings, log *slog.Logger) {
	table.SetAttenuation(s.Attenuation)
	table.SetMaxStepSize(s.MaxStepSize)
	table.SetWaterDeposit(s.Rain)
	if s.SnowLine != nil {
		table.SetSnowLine(*s.SnowLine)
	}

	sources := s.Sources
	if len(sources) == 0 && s.Rain == 0 {
		d := table.Domain()
		c := d.Min.Add(d.Max).Mul(0.5)
		sources = []DiskSettings{{X: c[0], Y: c[1], Radius: 4 * table.CellSize()[0], Rate: 0.5}}
		log.Info("no rain or sources configured, adding a central source")
	}
	for _, d := range sources {
		table.AddWaterSource(&diskSource{center: mgl32.Vec2{d.X, d.Y}, radius: d.Radius, rate: d.Rate})
	}
}

func listen(ctx context.Context, srv *remote.Server, s ServerSettings, log *slog.Logger) error {
	if s.Addr == "" && s.WSAddr == "" {
		log.Warn("no listen address, viewers cannot connect")
	}
	if s.Addr != "" {
		l, err := net.Listen("tcp", s.Addr)
		if err != nil {
			return err
		}
		log.Info("listening for viewers", "addr", l.Addr())
		go func() {
			if err := srv.Serve(ctx, l); err != nil {
				log.Error("viewer listener stopped", "err", err)
			}
		}()
	}
	if s.WSAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/stream", srv.ServeWS)
		hs := &http.Server{Addr: s.WSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		l, err := net.Listen("tcp", s.WSAddr)
		if err != nil {
			return err
		}
		log.Info("listening for websocket viewers", "url", "ws://"+l.Addr().String()+"/stream")
		go func() {
			if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("websocket listener stopped", "err", err)
			}
		}()
		context.AfterFunc(ctx, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			hs.Shutdown(sctx)
		})
	}
	return nil
}

// loop advances the simulation by one tick of simulated time per wall
// clock tick and publishes the grids to the viewers.
func loop(ctx context.Context, dev gpucore.Device, table *sandbox.WaterTable, srv *remote.Server, s ServerSettings, log *slog.Logger) error {
	w, h := table.Size()
	bw, bh := table.BathymetrySize()
	src := remote.GridSourceFunc(func(bathymetry, water, snow []float32) error {
		return table.ReadGrids(dev, bathymetry, water, snow)
	})
	p := message.NewPrinter(language.English)

	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()

	var (
		simTime   float64
		steps     int
		lastStats time.Time
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "simulated", time.Duration(simTime*float64(time.Second)), "steps", steps)
			return nil
		case <-ticker.C:
		}

		if table.ElevationProvider() != nil {
			if err := table.UpdateBathymetry(dev); err != nil {
				return err
			}
		}
		target := simTime + s.tick().Seconds()
		for n := 0; simTime < target && n < maxStepsPerTick; n++ {
			dt, err := table.RunSimulationStep(dev, false)
			if err != nil {
				return err
			}
			if dt <= 0 {
				break
			}
			simTime += float64(dt)
			steps++
		}

		now := time.Duration(simTime * float64(time.Second))
		if err := srv.Frame(now, src); err != nil {
			return err
		}

		if si := s.statsInterval(); si > 0 && time.Since(lastStats) >= si {
			lastStats = time.Now()
			st, err := table.Stats(dev)
			if err != nil {
				return err
			}
			log.Info("water",
				"simulated", now.Round(time.Millisecond),
				"steps", p.Sprintf("%d", steps),
				"volume", p.Sprintf("%.2f", st.Volume),
				"max_depth", p.Sprintf("%.3f", st.MaxDepth),
				"wet", p.Sprintf("%d/%d", st.WetCells, w*h),
				"snow", p.Sprintf("%.2f", st.Snow),
				"vertices", p.Sprintf("%d", bw*bh),
				"viewers", srv.Clients())
		}
	}
}
