// Package flataux implements an offline viewer that packs, traces and exports
// frames of a scene. It is the display used by the scripting console when no window is available.
package flataux

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"sync"
	"time"

	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/flatsdf/flatrender"
	"github.com/soypat/geometry/ms3"
)

var errNoScene = errors.New("no scene shown")

type RenderConfig struct {
	Width, Height int
	Frame         flatrender.FrameConfig
	Packer        flatbuild.PackerConfig
	// Log receives progress output. If nil the standard logger is used.
	Log    *log.Logger
	Silent bool
}

// DefaultRenderConfig returns a 640×480 configuration with default tracer and packer.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Width:  640,
		Height: 480,
		Frame:  flatrender.DefaultFrameConfig(),
		Packer: flatbuild.NewDefaultPacker().Config(),
	}
}

// Viewer renders a scene to an in-memory frame. It re-renders whenever the scene or
// bounds change unless debug mode is enabled, in which case frames are only
// produced by [Viewer.DebugStep]. Viewer is safe for concurrent use.
type Viewer struct {
	mu       sync.Mutex
	cfg      RenderConfig
	packer   flatbuild.Packer
	renderer *flatrender.FrameRenderer
	root     flatsdf.Entity
	scene    *flatbuild.Scene
	sdf      *flateval.SceneCPU
	bounds   ms3.Box
	// userBounds is set once SetBounds is called and overrides the scene's bounds for framing.
	userBounds bool
	img        *image.RGBA
	// back receives frames in progress so a cancelled render leaves img intact.
	back *image.RGBA
	// stale is set when the frame does not reflect the current scene and bounds.
	stale bool
	debug bool
}

// NewViewer returns a Viewer with no scene.
func NewViewer(cfg RenderConfig) (*Viewer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("zero or negative frame size")
	}
	renderer, err := flatrender.NewFrameRenderer(cfg.Frame)
	if err != nil {
		return nil, err
	}
	v := &Viewer{
		cfg:      cfg,
		renderer: renderer,
		img:      image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		back:     image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
	}
	err = v.packer.Configure(cfg.Packer)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Viewer) logf(format string, args ...any) {
	if v.cfg.Silent {
		return
	}
	if v.cfg.Log != nil {
		v.cfg.Log.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

// Show packs root and makes it the current scene. If packing fails the previous
// scene is kept and the error is returned.
func (v *Viewer) Show(ctx context.Context, root flatsdf.Entity) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	watch := stopwatch()
	scene, err := v.packer.Pack(root)
	if err != nil {
		return fmt.Errorf("packing scene: %w", err)
	}
	sdf, err := flateval.NewCPUSDF3(scene)
	if err != nil {
		return err
	}
	v.root = root
	v.scene = scene
	v.sdf = sdf
	if !v.userBounds {
		v.bounds = scene.Bounds
	}
	v.stale = true
	v.logf("packed %d primitives in %d steps (stack %d) in %s", scene.NumPrimitives(), len(scene.Steps), scene.MaxDepth, watch())
	return v.refresh(ctx)
}

// SetBounds sets the region framed by the camera.
func (v *Viewer) SetBounds(ctx context.Context, bb ms3.Box) error {
	if bb.Min.X > bb.Max.X || bb.Min.Y > bb.Max.Y || bb.Min.Z > bb.Max.Z {
		return fmt.Errorf("bounds max %v below min %v", bb.Max, bb.Min)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bounds = bb
	v.userBounds = true
	v.stale = true
	return v.refresh(ctx)
}

// SetDebugMode enables or disables debug mode. Disabling it renders the pending frame.
func (v *Viewer) SetDebugMode(ctx context.Context, enable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.debug = enable
	v.logf("debug mode %t", enable)
	return v.refresh(ctx)
}

// DebugMode reports whether debug mode is enabled.
func (v *Viewer) DebugMode() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debug
}

// DebugStep renders exactly one frame of the current scene. It fails outside of debug mode.
func (v *Viewer) DebugStep(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.debug {
		return errors.New("debug step requires debug mode")
	}
	return v.render(ctx)
}

// ExportFrame writes the current frame to filename, as BMP or PNG depending on the extension.
// Frames exported in debug mode carry a caption with the frame number and tracer settings.
func (v *Viewer) ExportFrame(ctx context.Context, filename string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sdf == nil {
		return errNoScene
	}
	if !v.debug {
		err := v.refresh(ctx)
		if err != nil {
			return err
		}
	}
	img := v.img
	if v.debug {
		img = image.NewRGBA(v.img.Rect)
		copy(img.Pix, v.img.Pix)
		tcfg := v.renderer.Tracer().Config()
		caption := fmt.Sprintf("frame %d  iters %d  tol %g", v.renderer.Frames(), tcfg.MaxIterations, tcfg.Tolerance)
		err := flatrender.DrawCaption(img, caption)
		if err != nil {
			return err
		}
	}
	watch := stopwatch()
	err := flatrender.WriteImageFile(filename, img)
	if err != nil {
		return err
	}
	v.logf("wrote %s in %s", filename, watch())
	return nil
}

// Image returns a copy of the current frame.
func (v *Viewer) Image() *image.RGBA {
	v.mu.Lock()
	defer v.mu.Unlock()
	img := image.NewRGBA(v.img.Rect)
	copy(img.Pix, v.img.Pix)
	return img
}

// Frames returns the number of frames rendered.
func (v *Viewer) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.renderer.Frames()
}

// Scene returns the packed current scene or nil if none has been shown.
func (v *Viewer) Scene() *flatbuild.Scene {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scene
}

// Root returns the entity of the current scene or nil if none has been shown.
func (v *Viewer) Root() flatsdf.Entity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.root
}

// WriteSTL meshes the current scene within the viewer bounds and writes a binary STL to w.
func (v *Viewer) WriteSTL(w io.Writer, cells int) error {
	v.mu.Lock()
	sdf, bb := v.sdf, v.bounds
	v.mu.Unlock()
	if sdf == nil {
		return errNoScene
	}
	watch := stopwatch()
	n, err := WriteSTL(w, sdf, bb, cells)
	if err != nil {
		return err
	}
	v.logf("meshed %d triangles in %s", n, watch())
	return nil
}

// refresh renders a frame if the current one is stale and debug mode is off. Must hold mu.
func (v *Viewer) refresh(ctx context.Context) error {
	if v.debug || !v.stale || v.sdf == nil {
		return nil
	}
	return v.render(ctx)
}

// render traces a frame of the current scene. Must hold mu.
func (v *Viewer) render(ctx context.Context) error {
	if v.sdf == nil {
		return errNoScene
	}
	cam := flatrender.FitCamera(v.bounds, v.renderer.Tracer().Config().Bound)
	watch := stopwatch()
	err := v.renderer.Render(ctx, v.sdf, cam, v.back)
	if err != nil {
		return err
	}
	v.img, v.back = v.back, v.img
	v.stale = false
	v.logf("rendered frame %d in %s", v.renderer.Frames(), watch())
	return nil
}

func stopwatch() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
