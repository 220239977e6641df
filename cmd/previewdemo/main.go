// Command previewdemo runs the compositing engine headless with synthetic
// sources: an animated color-bar video layer blended over a generated
// still, composited at a fixed rate with live stats printed each second.
//
// It needs a Vulkan-capable GPU; no window is opened.
package main

import (
	"flag"
	"image"
	"image/color"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	compositor "github.com/Sportinger/mse-compositor"
	"github.com/Sportinger/mse-compositor/blend"
)

// barsSource generates a scrolling color-bar test pattern.
type barsSource struct {
	width, height int
	start         time.Time
}

func (s *barsSource) CurrentFrame() *compositor.Frame {
	t := time.Since(s.start).Seconds()
	shift := int(t*60) % s.width

	data := make([]byte, s.width*s.height*4)
	bars := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, A: 255},
		{G: 255, B: 255, A: 255},
		{G: 255, A: 255},
		{R: 255, B: 255, A: 255},
		{R: 255, A: 255},
		{B: 255, A: 255},
	}
	barW := s.width / len(bars)
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			c := bars[((x+shift)/barW)%len(bars)]
			i := (y*s.width + x) * 4
			data[i], data[i+1], data[i+2], data[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return &compositor.Frame{Width: s.width, Height: s.height, Data: data}
}

// gradientStill is a static radial-gradient image layer.
type gradientStill struct {
	size int
}

func (g *gradientStill) ImageKey() string        { return "demo-gradient" }
func (g *gradientStill) ImageGeneration() uint64 { return 1 }

func (g *gradientStill) Image() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, g.size, g.size))
	cx, cy := float64(g.size)/2, float64(g.size)/2
	maxD := math.Hypot(cx, cy)
	for y := 0; y < g.size; y++ {
		for x := 0; x < g.size; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy) / maxD
			v := uint8(255 * (1 - d))
			img.SetRGBA(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func main() {
	var (
		width    = flag.Uint("width", 1280, "composition width")
		height   = flag.Uint("height", 720, "composition height")
		fps      = flag.Int("fps", 60, "render loop rate")
		duration = flag.Duration("duration", 10*time.Second, "how long to run (0 = until interrupt)")
		verbose  = flag.Bool("v", false, "engine debug logging")
	)
	flag.Parse()

	cfg := compositor.Config{
		Width:  uint32(*width),
		Height: uint32(*height),
		FPS:    *fps,
	}
	if *verbose {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	engine, err := compositor.New(cfg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	if err := engine.Initialize(); err != nil {
		log.Fatalf("initialize GPU: %v", err)
	}
	defer engine.Destroy()

	engine.SetLayers([]compositor.Layer{
		{
			ID:        1,
			Source:    &barsSource{width: 640, height: 360, start: time.Now()},
			Scale:     compositor.Vec2{X: 0.6, Y: 0.6},
			Opacity:   0.9,
			BlendMode: blend.ModeScreen,
		},
		{
			ID:      2,
			Source:  &gradientStill{size: 512},
			Opacity: 1,
		},
	})

	if err := engine.Start(nil); err != nil {
		log.Fatalf("start render loop: %v", err)
	}
	log.Printf("compositing %dx%d at %d fps", *width, *height, *fps)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := engine.Stats()
			log.Printf("fps=%d avg=%s last=%s layers=%d %s",
				s.FPS, s.AverageFrameTime, s.LastFrameTime, s.LayerCount, s.Memory)
		case <-interrupt:
			log.Print("interrupted")
			return
		case <-timeout:
			return
		}
	}
}
