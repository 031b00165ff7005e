package flatrender

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/soypat/flatsdf"
	"golang.org/x/sync/errgroup"
)

// FrameConfig configures a [FrameRenderer].
type FrameConfig struct {
	Tracer TracerConfig
	// Workers is the number of goroutines tracing rows. If zero GOMAXPROCS is used.
	Workers int
}

// DefaultFrameConfig returns a configuration with the default tracer and one worker per CPU.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{Tracer: DefaultTracerConfig()}
}

// Validate checks the configuration.
func (cfg FrameConfig) Validate() error {
	if cfg.Workers < 0 {
		return errors.New("negative Workers")
	}
	return cfg.Tracer.Validate()
}

// FrameRenderer traces one ray per pixel in parallel. The scene must not
// be modified while a frame renders.
type FrameRenderer struct {
	tracer  Tracer
	workers int
	frames  uint64
}

// NewFrameRenderer returns a FrameRenderer with a validated configuration.
func NewFrameRenderer(cfg FrameConfig) (*FrameRenderer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &FrameRenderer{tracer: Tracer{cfg: cfg.Tracer}, workers: workers}, nil
}

// Tracer returns the tracer used for every pixel.
func (fr *FrameRenderer) Tracer() *Tracer { return &fr.tracer }

// Frames returns the number of frames rendered to completion.
func (fr *FrameRenderer) Frames() uint64 { return fr.frames }

// Render traces every pixel of img through cam. Rows are distributed among workers
// and each worker owns its evaluation stack. If ctx is cancelled Render returns
// ctx.Err() and the contents of img are undefined.
func (fr *FrameRenderer) Render(ctx context.Context, sdf PointSDF, cam Camera, img *image.RGBA) error {
	err := cam.Validate()
	if err != nil {
		return err
	}
	bb := img.Bounds()
	width, height := bb.Dx(), bb.Dy()
	if width <= 0 || height <= 0 {
		return errors.New("empty image")
	}
	stackSize := sdf.StackSize()
	if stackSize <= 0 {
		return fmt.Errorf("invalid scene stack size %d", stackSize)
	}
	start := time.Now()
	fwd, right, up := cam.frame(width, height)
	workers := min(fr.workers, height)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			stack := make([]float32, stackSize)
			for y := w; y < height; y += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				for x := 0; x < width; x++ {
					dir := cam.ray(fwd, right, up, x, y, width, height)
					res := fr.tracer.Trace(sdf, cam.Position, dir, stack)
					off := img.PixOffset(bb.Min.X+x, bb.Min.Y+y)
					px := img.Pix[off : off+4 : off+4]
					px[0], px[1], px[2], px[3] = RGBA(res.Color)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		return err
	}
	fr.frames++
	flatsdf.Logger().Debug("rendered frame", "frame", fr.frames, "width", width, "height", height, "workers", workers, "elapsed", time.Since(start))
	return nil
}
