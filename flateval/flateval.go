package flateval

import (
	"errors"
	"fmt"

	"github.com/soypat/geometry/ms3"
)

// SDF3 implements a 3D signed distance field in vectorized
// form suitable for running on GPU.
type SDF3 interface {
	// Evaluate evaluates the signed distance field over pos positions.
	// dist and pos must be of same length.  Resulting distances are stored
	// in dist.
	//
	// userData facilitates getting data to the evaluators for use in processing, such as [VecPool].
	Evaluate(pos []ms3.Vec, dist []float32, userData any) error
	// Bounds returns the SDF's bounding box such that all of the shape is contained within.
	Bounds() ms3.Box
}

var (
	// ErrCorruptProgram is the error wrapped by the panics of the stack machine when a program
	// underflows or overflows its stack or does not end with a single value.
	// A valid packer never produces such a program.
	ErrCorruptProgram = errors.New("corrupt scene program")

	errEmptyBuffers         = errors.New("empty buffers")
	errMismatchBufferLength = errors.New("position and distance buffer length mismatch")
)

// PointSDF evaluates the signed distance of single points with a caller owned stack.
// It is implemented by [SceneCPU].
type PointSDF interface {
	EvaluatePoint(p ms3.Vec, stack []float32) float32
	StackSize() int
}

// GradientCentralDiff returns the central difference gradient of s at p using
// samples step away on each side of every axis. The result is not normalized.
// The gradient is unreliable where the field is not differentiable, such as sharp CSG seams.
func GradientCentralDiff(s PointSDF, p ms3.Vec, step float32, stack []float32) ms3.Vec {
	dx := ms3.Vec{X: step}
	dy := ms3.Vec{Y: step}
	dz := ms3.Vec{Z: step}
	return ms3.Vec{
		X: s.EvaluatePoint(ms3.Add(p, dx), stack) - s.EvaluatePoint(ms3.Sub(p, dx), stack),
		Y: s.EvaluatePoint(ms3.Add(p, dy), stack) - s.EvaluatePoint(ms3.Sub(p, dy), stack),
		Z: s.EvaluatePoint(ms3.Add(p, dz), stack) - s.EvaluatePoint(ms3.Sub(p, dz), stack),
	}
}

// VecPool holds scratch buffers reused between evaluations.
// A VecPool must not be shared between goroutines.
type VecPool struct {
	Float bufPool[float32]
}

// GetVecPool returns the VecPool passed as userData, or an error if userData holds none.
func GetVecPool(userData any) (*VecPool, error) {
	switch v := userData.(type) {
	case *VecPool:
		if v == nil {
			return nil, errors.New("nil VecPool")
		}
		return v, nil
	case interface{ VecPool() *VecPool }:
		vp := v.VecPool()
		if vp == nil {
			return nil, errors.New("nil VecPool returned by userData")
		}
		return vp, nil
	}
	return nil, fmt.Errorf("want *VecPool userData, got %T", userData)
}

// AcquireFloat implements the scratch buffer provider of the recursive entity evaluators.
func (vp *VecPool) AcquireFloat(length int) []float32 { return vp.Float.Acquire(length) }

// ReleaseFloat releases a buffer acquired with [VecPool.AcquireFloat].
func (vp *VecPool) ReleaseFloat(buf []float32) { vp.Float.Release(buf) }

// AssertAllReleased returns an error if any buffer has not been released.
func (vp *VecPool) AssertAllReleased() error {
	err := vp.Float.assertAllReleased()
	if err != nil {
		return fmt.Errorf("float pool: %w", err)
	}
	return nil
}

type bufPool[T any] struct {
	instances [][]T
	acquired  []bool
}

// Acquire returns a buffer of the given length. Its contents are undefined.
func (bp *bufPool[T]) Acquire(length int) []T {
	for i, locked := range bp.acquired {
		if !locked && cap(bp.instances[i]) >= length {
			bp.acquired[i] = true
			return bp.instances[i][:length]
		}
	}
	buf := make([]T, length)
	bp.instances = append(bp.instances, buf)
	bp.acquired = append(bp.acquired, true)
	return buf
}

// Release returns buf to the pool. buf must have been returned by Acquire.
func (bp *bufPool[T]) Release(buf []T) error {
	for i, instance := range bp.instances {
		if cap(instance) > 0 && cap(buf) > 0 && &instance[:1][0] == &buf[:1][0] {
			if !bp.acquired[i] {
				return errors.New("release of unacquired buffer")
			}
			bp.acquired[i] = false
			return nil
		}
	}
	return errors.New("release of buffer not in pool")
}

func (bp *bufPool[T]) assertAllReleased() error {
	for _, locked := range bp.acquired {
		if locked {
			return errors.New("buffer not released")
		}
	}
	return nil
}
