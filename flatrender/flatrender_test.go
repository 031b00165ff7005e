package flatrender_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/flatsdf/flatrender"
	"github.com/soypat/geometry/ms3"
	"golang.org/x/image/bmp"
)

func TestTraceSphereHit(t *testing.T) {
	var bld flatsdf.Builder
	sdf := mustCPU(t, bld.NewSphere(ms3.Vec{}, 1))
	cfg := flatrender.DefaultTracerConfig()
	cfg.MaxIterations = 64
	cfg.Tolerance = 1e-4
	tracer, err := flatrender.NewTracer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	stack := make([]float32, sdf.StackSize())
	res := tracer.Trace(sdf, ms3.Vec{Z: 5}, ms3.Vec{Z: -3}, stack)
	if !res.Hit {
		t.Fatalf("expected hit, got %+v", res)
	}
	if math32.Abs(res.Point.Z-1) > 1e-3 || math32.Abs(res.Point.X) > 1e-5 || math32.Abs(res.Point.Y) > 1e-5 {
		t.Errorf("hit point %v not near (0,0,1)", res.Point)
	}
	if ms3.Norm(ms3.Sub(res.Normal, ms3.Vec{Z: 1})) > 1e-2 {
		t.Errorf("normal %v not near (0,0,1)", res.Normal)
	}
	if luminance(res.Color) <= luminance(cfg.Background) {
		t.Errorf("hit color %#x not brighter than background %#x", res.Color, cfg.Background)
	}
	// Head on rays see the surface at full light.
	if want := flatrender.ColorToUint32(ms3.Vec{X: cfg.Light, Y: cfg.Light, Z: cfg.Light}); res.Color != want {
		t.Errorf("head on hit color %#x, want %#x", res.Color, want)
	}
}

func TestTraceMiss(t *testing.T) {
	var bld flatsdf.Builder
	sdf := mustCPU(t, bld.NewSphere(ms3.Vec{}, 1))
	tracer := mustTracer(t)
	stack := make([]float32, sdf.StackSize())
	bg := tracer.Config().Background
	for _, test := range []struct {
		name        string
		origin, dir ms3.Vec
	}{
		{name: "away", origin: ms3.Vec{Z: 5}, dir: ms3.Vec{Z: 1}},
		{name: "beside", origin: ms3.Vec{X: 3, Z: 5}, dir: ms3.Vec{Z: -1}},
		{name: "inside", origin: ms3.Vec{}, dir: ms3.Vec{X: 1}},
		{name: "zerodir", origin: ms3.Vec{Z: 5}, dir: ms3.Vec{}},
	} {
		t.Run(test.name, func(t *testing.T) {
			res := tracer.Trace(sdf, test.origin, test.dir, stack)
			if res.Hit || res.Color != bg {
				t.Errorf("expected background miss, got %+v", res)
			}
		})
	}
}

// cappedPlane is the floor z=0 with distances capped at 1 so rays advance one unit per step.
type cappedPlane struct{}

func (cappedPlane) EvaluatePoint(p ms3.Vec, stack []float32) float32 { return math32.Min(p.Z, 1) }

func (cappedPlane) StackSize() int { return 1 }

func TestTraceBoundAfterMinSteps(t *testing.T) {
	cfg := flatrender.DefaultTracerConfig()
	cfg.MaxIterations = 64
	cfg.Bound = 20
	cfg.MinBoundSteps = 5
	tracer, err := flatrender.NewTracer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	stack := make([]float32, 1)
	down := ms3.Vec{Z: -1}
	// Starts outside the bound and reenters it before the bound is first checked.
	res := tracer.Trace(cappedPlane{}, ms3.Vec{Z: 25}, down, stack)
	if !res.Hit || math32.Abs(res.Point.Z) > cfg.Tolerance {
		t.Errorf("ray reentering the bound should hit the floor, got %+v", res)
	}
	// Still outside the bound once checked.
	res = tracer.Trace(cappedPlane{}, ms3.Vec{Z: 30}, down, stack)
	if res.Hit || res.Color != cfg.Background || res.Steps != cfg.MinBoundSteps+2 {
		t.Errorf("ray outside the bound should miss after %d steps, got %+v", cfg.MinBoundSteps+2, res)
	}
	cfg.MinBoundSteps = 0
	tracer, err = flatrender.NewTracer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res = tracer.Trace(cappedPlane{}, ms3.Vec{Z: 25}, down, stack)
	if res.Hit {
		t.Errorf("bound checked from the second step should miss, got %+v", res)
	}
}

func TestTraceBudget(t *testing.T) {
	var bld flatsdf.Builder
	// Grazing ray along a flat surface approaches slowly and exhausts the budget.
	sdf := mustCPU(t, bld.NewHalfSpace(ms3.Vec{}, ms3.Vec{Y: 1}))
	cfg := flatrender.DefaultTracerConfig()
	cfg.MaxIterations = 3
	cfg.Bound = 1e6
	tracer, err := flatrender.NewTracer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	res := tracer.Trace(sdf, ms3.Vec{Y: 1}, ms3.Vec{X: 1, Y: -1e-3}, make([]float32, sdf.StackSize()))
	if res.Hit || res.Steps != 3 {
		t.Errorf("expected miss after 3 steps, got %+v", res)
	}
}

func TestTracerConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*flatrender.TracerConfig){
		"iterations": func(c *flatrender.TracerConfig) { c.MaxIterations = 0 },
		"tolerance":  func(c *flatrender.TracerConfig) { c.Tolerance = 0 },
		"bound":      func(c *flatrender.TracerConfig) { c.Bound = -1 },
		"gradient":   func(c *flatrender.TracerConfig) { c.GradientStep = 0 },
		"light":      func(c *flatrender.TracerConfig) { c.Light = 2 },
	} {
		cfg := flatrender.DefaultTracerConfig()
		mutate(&cfg)
		if _, err := flatrender.NewTracer(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestColorToUint32(t *testing.T) {
	for _, test := range []struct {
		rgb  ms3.Vec
		want uint32
	}{
		{rgb: ms3.Vec{}, want: 0xff000000},
		{rgb: ms3.Vec{X: 1}, want: 0xff0000ff},
		{rgb: ms3.Vec{Y: 1}, want: 0xff00ff00},
		{rgb: ms3.Vec{Z: 1}, want: 0xffff0000},
		{rgb: ms3.Vec{X: 2, Y: -1, Z: 1}, want: 0xffff00ff},
	} {
		got := flatrender.ColorToUint32(test.rgb)
		if got != test.want {
			t.Errorf("ColorToUint32(%v)=%#x, want %#x", test.rgb, got, test.want)
		}
	}
}

func TestFrameRender(t *testing.T) {
	var bld flatsdf.Builder
	sdf := mustCPU(t, bld.NewSphere(ms3.Vec{}, 1))
	fr, err := flatrender.NewFrameRenderer(flatrender.FrameConfig{Tracer: flatrender.DefaultTracerConfig(), Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	const size = 31
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	err = fr.Render(context.Background(), sdf, flatrender.DefaultCamera(), img)
	if err != nil {
		t.Fatal(err)
	}
	bg := fr.Tracer().Config().Background
	center := packed(img, size/2, size/2)
	corner := packed(img, 0, 0)
	if center == bg {
		t.Error("center pixel should hit the sphere")
	}
	if corner != bg {
		t.Errorf("corner pixel should be background, got %#x", corner)
	}
	if fr.Frames() != 1 {
		t.Errorf("want 1 frame rendered, got %d", fr.Frames())
	}

	var buf bytes.Buffer
	err = flatrender.EncodeImage(&buf, img, flatrender.FormatBMP)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := bmp.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds %v, want %v", decoded.Bounds(), img.Bounds())
	}
}

func TestFrameRenderCancelled(t *testing.T) {
	var bld flatsdf.Builder
	sdf := mustCPU(t, bld.NewSphere(ms3.Vec{}, 1))
	fr, err := flatrender.NewFrameRenderer(flatrender.DefaultFrameConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	err = fr.Render(ctx, sdf, flatrender.DefaultCamera(), img)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if fr.Frames() != 0 {
		t.Error("cancelled frame should not count")
	}
}

func TestFitCamera(t *testing.T) {
	bb := ms3.Box{Min: ms3.Vec{X: 1, Y: 1, Z: 1}, Max: ms3.Vec{X: 3, Y: 3, Z: 3}}
	cam := flatrender.FitCamera(bb, 20)
	if cam.Target != bb.Center() {
		t.Errorf("camera should target box center, got %v", cam.Target)
	}
	if err := cam.Validate(); err != nil {
		t.Error(err)
	}
	// Unbounded scenes fall back to the default view.
	huge := ms3.Box{Min: ms3.Vec{X: -1e20, Y: -1e20, Z: -1e20}, Max: ms3.Vec{X: 1e20, Y: 1e20, Z: 1e20}}
	if flatrender.FitCamera(huge, 20) != flatrender.DefaultCamera() {
		t.Error("unbounded box should yield default camera")
	}
}

func TestImageFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	err := flatrender.DrawCaption(img, "frame 1")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	err = flatrender.EncodeImage(&buf, img, flatrender.FormatPNG)
	if err != nil {
		t.Fatal(err)
	}
	_, err = png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]flatrender.ImageFormat{"a.png": flatrender.FormatPNG, "B.BMP": flatrender.FormatBMP} {
		got, err := flatrender.FormatFromFilename(name)
		if err != nil || got != want {
			t.Errorf("FormatFromFilename(%q)=%v,%v", name, got, err)
		}
	}
	if _, err := flatrender.FormatFromFilename("a.jpg"); err == nil {
		t.Error("expected error for jpg")
	}
}

func mustCPU(t testing.TB, root flatsdf.Entity) *flateval.SceneCPU {
	t.Helper()
	scene, err := flatbuild.NewDefaultPacker().Pack(root)
	if err != nil {
		t.Fatal(err)
	}
	sdf, err := flateval.NewCPUSDF3(scene)
	if err != nil {
		t.Fatal(err)
	}
	return sdf
}

func mustTracer(t testing.TB) *flatrender.Tracer {
	t.Helper()
	tracer, err := flatrender.NewTracer(flatrender.DefaultTracerConfig())
	if err != nil {
		t.Fatal(err)
	}
	return tracer
}

func packed(img *image.RGBA, x, y int) uint32 {
	c := img.RGBAAt(x, y)
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

func luminance(c uint32) int {
	r, g, b, _ := flatrender.RGBA(c)
	return int(r) + int(g) + int(b)
}
