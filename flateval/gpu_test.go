//go:build !tinygo && cgo

package flateval_test

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/flatsdf/flatrender"
	"github.com/soypat/geometry/ms3"
)

// GPU calls must happen on the main thread so GPU checks run from TestMain
// before the regular tests.
func TestMain(m *testing.M) {
	runtime.LockOSThread()
	exit := 0
	term, err := flateval.Init1x1GLFW()
	if err != nil {
		log.Println("skipping GPU tests:", err)
	} else {
		err = testGPU()
		term()
		if err != nil {
			log.Println(err)
			exit = 1
		}
	}
	runtime.UnlockOSThread()
	os.Exit(m.Run() | exit)
}

func testGPU() error {
	names := make([]string, 0, 3)
	scenes := testScenes()
	for name := range scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		scene, err := flatbuild.NewDefaultPacker().Pack(scenes[name])
		if err != nil {
			return err
		}
		err = testGPUEvaluate(scene)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", name, err)
		}
		err = testGPUTrace(scene)
		if err != nil {
			return fmt.Errorf("trace %s: %w", name, err)
		}
	}
	return nil
}

func testGPUEvaluate(scene *flatbuild.Scene) error {
	cpu, err := flateval.NewCPUSDF3(scene)
	if err != nil {
		return err
	}
	gpu, err := flateval.NewComputeGPUSDF3(scene, flateval.DefaultComputeConfig())
	if err != nil {
		return err
	}
	defer gpu.Delete()
	pos := randomPoints(1000, 3, 3)
	want := make([]float32, len(pos))
	got := make([]float32, len(pos))
	err = cpu.Evaluate(pos, want, nil)
	if err != nil {
		return err
	}
	err = gpu.Evaluate(pos, got, nil)
	if err != nil {
		return err
	}
	for i := range pos {
		// GPU trigonometry is less precise than the CPU's.
		tol := 1e-3 * (1 + math32.Abs(want[i]))
		if math32.Abs(got[i]-want[i]) > tol {
			return fmt.Errorf("at %v: gpu %g, cpu %g", pos[i], got[i], want[i])
		}
	}
	return nil
}

func testGPUTrace(scene *flatbuild.Scene) error {
	const w, h = 48, 32
	cfg := flatrender.DefaultTracerConfig()
	cpu, err := flateval.NewCPUSDF3(scene)
	if err != nil {
		return err
	}
	tracer, err := flatrender.NewTracer(cfg)
	if err != nil {
		return err
	}
	gpu, err := flateval.NewComputeGPUTracer(scene, cfg.TraceParams(), flateval.DefaultComputeConfig())
	if err != nil {
		return err
	}
	defer gpu.Delete()
	cam := flatrender.DefaultCamera()
	origins := make([]ms3.Vec, w*h)
	dirs := make([]ms3.Vec, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			origins[y*w+x], dirs[y*w+x] = cam.Ray(x, y, w, h)
		}
	}
	colors := make([]uint32, w*h)
	err = gpu.Trace(origins, dirs, colors)
	if err != nil {
		return err
	}
	stack := make([]float32, cpu.StackSize())
	mismatch := 0
	for i := range colors {
		want := tracer.Trace(cpu, origins[i], dirs[i], stack).Color
		if (want == cfg.Background) != (colors[i] == cfg.Background) {
			mismatch++
		}
	}
	// Rays grazing a surface may land on either side of the tolerance.
	if mismatch > len(colors)/50 {
		return fmt.Errorf("%d of %d rays disagree on hit", mismatch, len(colors))
	}
	return nil
}
