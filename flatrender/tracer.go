package flatrender

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/math/ms1"
)

// PointSDF is the single point evaluator traced by [Tracer], i.e. [flateval.SceneCPU].
type PointSDF = flateval.PointSDF

// TracerConfig configures a sphere [Tracer].
type TracerConfig struct {
	// MaxIterations is the step budget of a single ray.
	MaxIterations int
	// Tolerance is the distance under which a ray is considered to hit the surface.
	Tolerance float32
	// Bound is the half side of the axis aligned cube centered at the origin
	// outside of which rays are considered to miss.
	Bound float32
	// MinBoundSteps is the number of steps a ray may take before the bound is checked.
	MinBoundSteps int
	// GradientStep is the central difference step used to compute surface normals.
	GradientStep float32
	// Background is the packed 0xAABBGGRR color of rays that miss.
	Background uint32
	// Dark and Light are the gray levels of surfaces facing away from and toward the ray.
	Dark, Light float32
}

// DefaultTracerConfig returns the tracer configuration used by the viewer.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		MaxIterations: 128,
		Tolerance:     1e-4,
		Bound:         20,
		MinBoundSteps: 5,
		GradientStep:  1e-3,
		Background:    0xff101010,
		Dark:          0.2,
		Light:         0.9,
	}
}

// Validate checks the configuration yields a terminating trace with valid colors.
func (cfg TracerConfig) Validate() error {
	err := cfg.TraceParams().Validate()
	if err != nil {
		return err
	}
	if cfg.Dark < 0 || cfg.Dark > 1 || cfg.Light < 0 || cfg.Light > 1 {
		return errors.New("shade levels must be within 0..1")
	}
	return nil
}

// TraceParams converts the configuration to the parameters of a GPU trace program.
func (cfg TracerConfig) TraceParams() flatbuild.TraceParams {
	return flatbuild.TraceParams{
		MaxIterations: cfg.MaxIterations,
		Tolerance:     cfg.Tolerance,
		Bound:         cfg.Bound,
		MinBoundSteps: cfg.MinBoundSteps,
		GradientStep:  cfg.GradientStep,
		Background:    cfg.Background,
		Dark:          cfg.Dark,
		Light:         cfg.Light,
	}
}

// Result is the outcome of tracing a single ray.
type Result struct {
	Hit bool
	// Color is the packed 0xAABBGGRR color. Background on a miss.
	Color uint32
	// Point is the last position of the ray. On a hit it lies within tolerance of the surface.
	Point ms3.Vec
	// Normal is the unit surface normal at Point. Zero on a miss.
	Normal ms3.Vec
	// Steps is the number of distance evaluations taken, excluding the gradient.
	Steps int
}

// Tracer sphere traces rays against a [PointSDF].
type Tracer struct {
	cfg TracerConfig
}

// NewTracer returns a Tracer with a validated configuration.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	return &Tracer{cfg: cfg}, nil
}

// Config returns the tracer's configuration.
func (t *Tracer) Config() TracerConfig { return t.cfg }

// Trace marches the ray from origin along dir. dir need not be normalized.
// stack must have at least sdf.StackSize() elements and is not shared with other goroutines.
// A zero direction, a ray starting inside the solid, a ray leaving the bound
// and an exhausted step budget all miss.
func (t *Tracer) Trace(sdf PointSDF, origin, dir ms3.Vec, stack []float32) Result {
	cfg := &t.cfg
	miss := Result{Color: cfg.Background, Point: origin}
	dn := ms3.Norm(dir)
	if dn == 0 || math32.IsNaN(dn) {
		return miss
	}
	dir = ms3.Scale(1/dn, dir)
	pt := origin
	for i := 0; i < cfg.MaxIterations; i++ {
		d := sdf.EvaluatePoint(pt, stack)
		miss.Steps = i + 1
		miss.Point = pt
		if d < 0 || math32.IsNaN(d) {
			break
		} else if d < cfg.Tolerance {
			n := flateval.GradientCentralDiff(sdf, pt, cfg.GradientStep, stack)
			nn := ms3.Norm(n)
			var k float32
			if nn > 0 {
				n = ms3.Scale(1/nn, n)
				k = ms1.Clamp(ms3.Dot(n, ms3.Scale(-1, dir)), 0, 1)
			}
			shade := cfg.Dark*(1-k) + cfg.Light*k
			return Result{
				Hit:    true,
				Color:  ColorToUint32(ms3.Vec{X: shade, Y: shade, Z: shade}),
				Point:  pt,
				Normal: n,
				Steps:  i + 1,
			}
		}
		pt = ms3.Add(pt, ms3.Scale(d, dir))
		if i > cfg.MinBoundSteps && outOfBound(pt, cfg.Bound) {
			miss.Point = pt
			break
		}
	}
	return miss
}

func outOfBound(p ms3.Vec, bound float32) bool {
	return math32.Abs(p.X) > bound || math32.Abs(p.Y) > bound || math32.Abs(p.Z) > bound
}

// ColorToUint32 packs an RGB color with components in 0..1 into 0xAABBGGRR with opaque alpha.
// Components outside of 0..1 are clamped.
func ColorToUint32(rgb ms3.Vec) uint32 {
	r := uint32(ms1.Clamp(rgb.X, 0, 1) * 255)
	g := uint32(ms1.Clamp(rgb.Y, 0, 1) * 255)
	b := uint32(ms1.Clamp(rgb.Z, 0, 1) * 255)
	return 0xff000000 | r | g<<8 | b<<16
}

// RGBA unpacks a color packed by [ColorToUint32].
func RGBA(c uint32) (r, g, b, a uint8) {
	return uint8(c), uint8(c >> 8), uint8(c >> 16), uint8(c >> 24)
}
