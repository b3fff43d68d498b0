// Command sandboxview connects to a sandboxd server, receives a number of
// frames and renders the last one as a PNG map: terrain in grey, water in
// blue by depth, snow in white.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/remote"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxview:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr    = flag.String("addr", "localhost:26000", "server address, or a ws:// URL")
		frames  = flag.Int("frames", 10, "frames to receive before rendering")
		output  = flag.String("out", "sandbox.png", "output file")
		scale   = flag.Int("scale", 4, "output pixels per cell")
		timeout = flag.Duration("timeout", 10*time.Second, "connect timeout")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	remote.SetLogger(log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	var (
		c   *remote.Client
		err error
	)
	if strings.HasPrefix(*addr, "ws://") || strings.HasPrefix(*addr, "wss://") {
		c, err = remote.DialWS(ctx, *addr)
	} else {
		c, err = remote.Dial(ctx, *addr)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	info := c.Info()
	p := message.NewPrinter(language.English)
	log.Info("connected", "size", fmt.Sprintf("%dx%d", info.Size[0], info.Size[1]),
		"range", p.Sprintf("[%.2f, %.2f]", info.ElevationMin, info.ElevationMax))

	// Report an overhead viewer so the server can show where we look from.
	center := mgl32.Vec3{0, 0, info.ElevationMax}
	if err := c.SendPosition(center, mgl32.Vec3{0, 0, -1}); err != nil {
		return err
	}

	f := remote.NewFrame(info)
	start := time.Now()
	for i := range *frames {
		if err := c.ReadFrame(f); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	elapsed := time.Since(start)

	depths := sandbox.CellDepths(info.Size[0], info.Size[1], f.Bathymetry, f.WaterLevel)
	area := float64(info.CellSize[0]) * float64(info.CellSize[1])
	var volume float64
	for _, d := range depths {
		volume += d * area
	}
	log.Info("received",
		"frames", p.Sprintf("%d", c.Frames()),
		"rate", p.Sprintf("%.1f fps", float64(*frames)/max(elapsed.Seconds(), 1e-9)),
		"volume", p.Sprintf("%.2f", volume))

	img := render(info, f, depths)
	if *scale > 1 {
		b := img.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx()**scale, b.Dy()**scale))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	out, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	log.Info("wrote", "path", *output)
	return nil
}

// render draws one pixel per water cell, with the top image row at the
// maximum y of the grid.
func render(info remote.GridInfo, f *remote.Frame, depths []float64) *image.RGBA {
	w, h := info.Size[0], info.Size[1]
	bw, bh := info.BathymetrySize()
	span := info.ElevationMax - info.ElevationMin
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := range h {
		by := min(max(y, 0), bh-1)
		for x := range w {
			bx := min(max(x, 0), bw-1)
			i := y*w + x
			e := (f.Bathymetry[by*bw+bx] - info.ElevationMin) / span
			g := uint8(255 * min(max(e, 0), 1))
			c := color.RGBA{g, g, g, 255}

			switch {
			case f.Snow[i] > 0:
				c = color.RGBA{250, 250, 255, 255}
			case depths[i] > 0:
				a := min(float32(depths[i])/(0.1*span), 1)
				c = mix(c, color.RGBA{20, 60, 200, 255}, 0.3+0.7*a)
			}
			img.SetRGBA(x, h-1-y, c)
		}
	}
	return img
}

func mix(a, b color.RGBA, t float32) color.RGBA {
	l := func(u, v uint8) uint8 { return uint8(float32(u)*(1-t) + float32(v)*t) }
	return color.RGBA{l(a.R, b.R), l(a.G, b.G), l(a.B, b.B), 255}
}
