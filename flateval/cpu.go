package flateval

import (
	"errors"
	"fmt"

	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/geometry/ms3"
)

var _ SDF3 = (*SceneCPU)(nil) // Interface implementation compile-time check.

// SceneCPU evaluates a packed [flatbuild.Scene] on the CPU with a stack machine.
// It is read only after construction and safe for concurrent use as long as
// each goroutine supplies its own stack or VecPool.
type SceneCPU struct {
	// params holds all parameter blocks decoded to float32.
	params []float32
	// start[i] is the index into params of primitive i's block.
	start    []int
	types    []flatsdf.Kind
	steps    []flatbuild.Step
	maxDepth int
	bb       ms3.Box
}

// NewCPUSDF3 validates scene and returns a CPU evaluator for it. The scene's
// step buffer is referenced, not copied, and must not be modified afterwards.
func NewCPUSDF3(scene *flatbuild.Scene) (*SceneCPU, error) {
	if scene == nil {
		return nil, errors.New("nil scene")
	}
	err := scene.Validate()
	if err != nil {
		return nil, err
	}
	sdf := &SceneCPU{
		params:   make([]float32, 0, len(scene.Params)/4),
		start:    make([]int, len(scene.Types)),
		types:    scene.Types,
		steps:    scene.Steps,
		maxDepth: scene.MaxDepth,
		bb:       scene.Bounds,
	}
	for i := range scene.Types {
		sdf.start[i] = len(sdf.params)
		sdf.params = scene.AppendParams(sdf.params, i)
	}
	return sdf, nil
}

// Bounds returns the scene's bounding box.
func (s *SceneCPU) Bounds() ms3.Box { return s.bb }

// StackSize returns the minimum length of the stack passed to [SceneCPU.EvaluatePoint].
func (s *SceneCPU) StackSize() int { return s.maxDepth }

// EvaluatePoint executes the scene program at p and returns the root distance.
// stack is scratch memory of at least [SceneCPU.StackSize] length owned by the caller
// for the duration of the call. EvaluatePoint panics with an error wrapping
// [ErrCorruptProgram] if the program underflows or overflows the stack or leaves
// other than exactly one value on it.
func (s *SceneCPU) EvaluatePoint(p ms3.Vec, stack []float32) float32 {
	if len(stack) < s.maxDepth {
		panic("stack buffer shorter than StackSize")
	}
	sp := 0
	for j := range s.steps {
		step := &s.steps[j]
		if step.Op == flatbuild.OpPush {
			if sp >= len(stack) {
				panic(fmt.Errorf("%w: stack overflow at step %d", ErrCorruptProgram, j))
			}
			kind := s.types[step.Primitive]
			start := s.start[step.Primitive]
			stack[sp] = flatsdf.EvalPrimitive(kind, s.params[start:start+kind.NumParams()], p)
			sp++
			continue
		}
		arity := step.Op.Arity()
		if arity == 0 || sp < arity {
			panic(fmt.Errorf("%w: stack underflow at step %d (%s with depth %d)", ErrCorruptProgram, j, step.Op, sp))
		}
		var b float32
		if arity == 2 {
			sp--
			b = stack[sp]
		}
		stack[sp-1] = flatsdf.EvalOp(step.Op, step.Params, stack[sp-1], b, p)
	}
	if sp != 1 {
		panic(fmt.Errorf("%w: program ended with stack depth %d", ErrCorruptProgram, sp))
	}
	return stack[0]
}

// Evaluate implements the [SDF3] interface. If userData is a [VecPool] the stack
// is acquired from it.
func (s *SceneCPU) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	if len(pos) != len(dist) {
		return errMismatchBufferLength
	} else if len(pos) == 0 {
		return errEmptyBuffers
	}
	var stack []float32
	vp, err := GetVecPool(userData)
	if err == nil {
		stack = vp.Float.Acquire(s.maxDepth)
		defer vp.Float.Release(stack)
	} else {
		stack = make([]float32, s.maxDepth)
	}
	for i, p := range pos {
		dist[i] = s.EvaluatePoint(p, stack)
	}
	return nil
}
