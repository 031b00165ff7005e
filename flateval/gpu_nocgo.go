//go:build tinygo || !cgo

package flateval

import (
	"errors"

	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/geometry/ms3"
)

var errNoCGO = errors.New("GPU evaluation requires CGo and is not supported on TinyGo")

// Init1x1GLFW returns an error when built without CGo.
func Init1x1GLFW() (terminate func(), err error) {
	return nil, errNoCGO
}

// NewComputeGPUSDF3 returns an error when built without CGo.
func NewComputeGPUSDF3(scene *flatbuild.Scene, cfg ComputeConfig) (*SceneGPU, error) {
	return nil, errNoCGO
}

type SceneGPU struct {
	bb ms3.Box
}

func (sdf *SceneGPU) Bounds() ms3.Box { return sdf.bb }

func (sdf *SceneGPU) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return errNoCGO
}

func (sdf *SceneGPU) Delete() {}

// NewComputeGPUTracer returns an error when built without CGo.
func NewComputeGPUTracer(scene *flatbuild.Scene, params flatbuild.TraceParams, cfg ComputeConfig) (*TracerGPU, error) {
	return nil, errNoCGO
}

type TracerGPU struct{}

func (tr *TracerGPU) Trace(origins, dirs []ms3.Vec, colors []uint32) error {
	return errNoCGO
}

func (tr *TracerGPU) Delete() {}
