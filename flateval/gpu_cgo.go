//go:build !tinygo && cgo

package flateval

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/v4.6-core/glgl"
)

// Init1x1GLFW starts a hidden 1x1 sized GLFW window so that user can start working with GPU.
// It returns a termination function that should be called when user is done running loads on GPU.
// Must be called from the main thread, see [runtime.LockOSThread].
func Init1x1GLFW() (terminate func(), err error) {
	err = glfw.Init()
	if err != nil {
		return nil, fmt.Errorf("initializing GLFW: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.Visible, glfw.False)
	window, err := glfw.CreateWindow(1, 1, "compute", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("creating GLFW window: %w", err)
	}
	window.MakeContextCurrent()
	err = gl.Init()
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("initializing OpenGL: %w", err)
	}
	flatsdf.Logger().Debug("GL context ready", "version", gl.GoStr(gl.GetString(gl.VERSION)))
	return glfw.Terminate, nil
}

// sceneBuffers holds the SSBOs of a packed scene which stay resident on the GPU.
type sceneBuffers struct {
	params, offsets, types, steps uint32
}

func loadScene(scene *flatbuild.Scene) (sb sceneBuffers, err error) {
	sb.params = loadSSBO(scene.Params, flatbuild.BindingParams, gl.STATIC_DRAW)
	sb.offsets = loadSSBO(scene.Offsets, flatbuild.BindingOffsets, gl.STATIC_DRAW)
	sb.types = loadSSBO(scene.AppendGPUTypes(nil), flatbuild.BindingTypes, gl.STATIC_DRAW)
	sb.steps = loadSSBO(scene.AppendGPUSteps(nil), flatbuild.BindingSteps, gl.STATIC_DRAW)
	if sb.params == 0 || sb.offsets == 0 || sb.types == 0 || sb.steps == 0 {
		sb.delete()
		return sceneBuffers{}, glErrOrMessage("zero SSBO id set by GL during scene loading")
	}
	return sb, glgl.Err()
}

func (sb *sceneBuffers) bind() {
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, flatbuild.BindingParams, sb.params)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, flatbuild.BindingOffsets, sb.offsets)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, flatbuild.BindingTypes, sb.types)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, flatbuild.BindingSteps, sb.steps)
}

func (sb *sceneBuffers) delete() {
	ids := [4]uint32{sb.params, sb.offsets, sb.types, sb.steps}
	var p runtime.Pinner
	p.Pin(&ids[0])
	gl.DeleteBuffers(int32(len(ids)), &ids[0])
	p.Unpin()
	*sb = sceneBuffers{}
}

func compile(source []byte) (glgl.Program, error) {
	source = append(source, 0)
	prog, err := glgl.CompileProgram(glgl.ShaderSource{Compute: string(source)})
	if err != nil {
		return glgl.Program{}, fmt.Errorf("%s\n%w", source[:len(source)-1], err)
	}
	return prog, nil
}

var _ SDF3 = (*SceneGPU)(nil) // Interface implementation compile-time check.

// SceneGPU evaluates a packed scene on the GPU using the compute program generated
// by [flatbuild.Programmer.WriteComputeEvaluate]. It must be used from the goroutine
// that owns the GL context.
type SceneGPU struct {
	prog   glgl.Program
	sb     sceneBuffers
	invocX int
	bb     ms3.Box
	pos4   []float32
}

// NewComputeGPUSDF3 instantiates a [SDF3] that runs on the GPU. A GL context must be current.
func NewComputeGPUSDF3(scene *flatbuild.Scene, cfg ComputeConfig) (*SceneGPU, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	var source bytes.Buffer
	programmer := flatbuild.NewDefaultProgrammer()
	programmer.SetComputeInvocations(cfg.InvocX, 1, 1)
	_, err = programmer.WriteComputeEvaluate(&source, scene)
	if err != nil {
		return nil, err
	}
	prog, err := compile(source.Bytes())
	if err != nil {
		return nil, err
	}
	sb, err := loadScene(scene)
	if err != nil {
		prog.Delete()
		return nil, err
	}
	flatsdf.Logger().Debug("GPU scene loaded", "steps", len(scene.Steps), "sourcelen", source.Len())
	return &SceneGPU{prog: prog, sb: sb, invocX: cfg.InvocX, bb: scene.Bounds}, nil
}

// Bounds returns the scene's bounding box.
func (sdf *SceneGPU) Bounds() ms3.Box { return sdf.bb }

// Evaluate implements the [SDF3] interface.
func (sdf *SceneGPU) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	if len(pos) != len(dist) {
		return errMismatchBufferLength
	} else if len(pos) == 0 {
		return errEmptyBuffers
	} else if sdf.prog.ID() == 0 {
		return errors.New("program deleted or not initialized")
	}
	sdf.prog.Bind()
	defer sdf.prog.Unbind()
	sdf.sb.bind()
	sdf.pos4 = appendVec4(sdf.pos4[:0], pos)
	return computeRun(sdf.invocX, dist, sdf.pos4, nil)
}

// Delete frees the GPU resources held by the evaluator.
func (sdf *SceneGPU) Delete() {
	sdf.sb.delete()
	sdf.prog.Delete()
}

// TracerGPU sphere traces rays against a packed scene on the GPU using the compute program
// generated by [flatbuild.Programmer.WriteComputeTrace].
type TracerGPU struct {
	prog   glgl.Program
	sb     sceneBuffers
	invocX int
	org4   []float32
	dir4   []float32
}

// NewComputeGPUTracer compiles the trace program for scene with the given tracing parameters.
// A GL context must be current.
func NewComputeGPUTracer(scene *flatbuild.Scene, params flatbuild.TraceParams, cfg ComputeConfig) (*TracerGPU, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	var source bytes.Buffer
	programmer := flatbuild.NewDefaultProgrammer()
	programmer.SetComputeInvocations(cfg.InvocX, 1, 1)
	_, err = programmer.WriteComputeTrace(&source, scene, params)
	if err != nil {
		return nil, err
	}
	prog, err := compile(source.Bytes())
	if err != nil {
		return nil, err
	}
	sb, err := loadScene(scene)
	if err != nil {
		prog.Delete()
		return nil, err
	}
	return &TracerGPU{prog: prog, sb: sb, invocX: cfg.InvocX}, nil
}

// Trace traces one ray per origin and direction pair and stores packed 0xAABBGGRR colors.
func (tr *TracerGPU) Trace(origins, dirs []ms3.Vec, colors []uint32) error {
	if len(origins) != len(dirs) || len(dirs) != len(colors) {
		return errors.New("ray and color buffer length mismatch")
	} else if len(colors) == 0 {
		return errEmptyBuffers
	} else if tr.prog.ID() == 0 {
		return errors.New("program deleted or not initialized")
	}
	tr.prog.Bind()
	defer tr.prog.Unbind()
	tr.sb.bind()
	tr.org4 = appendVec4(tr.org4[:0], origins)
	tr.dir4 = appendVec4(tr.dir4[:0], dirs)
	return computeRun(tr.invocX, colors, tr.org4, tr.dir4)
}

// Delete frees the GPU resources held by the tracer.
func (tr *TracerGPU) Delete() {
	tr.sb.delete()
	tr.prog.Delete()
}

// computeRun loads the inputs, dispatches the bound program and reads back the output.
// aux is bound to the auxiliary input binding when not nil.
func computeRun[T float32 | uint32](invocX int, out []T, in, aux []float32) error {
	var p runtime.Pinner
	var inSSBO, auxSSBO, outSSBO uint32
	p.Pin(&inSSBO)
	p.Pin(&auxSSBO)
	p.Pin(&outSSBO)
	defer p.Unpin()

	inSSBO = loadSSBO(in, flatbuild.BindingInput, gl.STATIC_DRAW)
	if inSSBO == 0 {
		return glErrOrMessage("zero SSBO id set by GL during compute loading")
	}
	defer gl.DeleteBuffers(1, &inSSBO)
	if aux != nil {
		auxSSBO = loadSSBO(aux, flatbuild.BindingAuxInput, gl.STATIC_DRAW)
		if auxSSBO == 0 {
			return glErrOrMessage("zero SSBO id set by GL during auxiliary loading")
		}
		defer gl.DeleteBuffers(1, &auxSSBO)
	}
	outSSBO = createSSBO(elemSize[T]()*len(out), flatbuild.BindingOutput, gl.DYNAMIC_READ)
	if outSSBO == 0 {
		return glErrOrMessage("zero id SSBO creating output buffer")
	}
	defer gl.DeleteBuffers(1, &outSSBO)
	nWorkX := (len(out) + invocX - 1) / invocX
	gl.DispatchCompute(uint32(nWorkX), 1, 1)
	gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT)
	err := copySSBO(out, outSSBO)
	if err != nil {
		return err
	}
	return glgl.Err()
}

// appendVec4 pads 3D vectors to the 16 byte stride of std430 vec4 arrays.
func appendVec4(dst []float32, v []ms3.Vec) []float32 {
	for _, p := range v {
		dst = append(dst, p.X, p.Y, p.Z, 0)
	}
	return dst
}

func loadSSBO[T any](slice []T, base, usage uint32) (ssbo uint32) {
	var p runtime.Pinner
	p.Pin(&ssbo)
	gl.GenBuffers(1, &ssbo)
	p.Unpin()
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, ssbo)
	size := len(slice) * elemSize[T]()
	var data unsafe.Pointer
	if len(slice) > 0 {
		data = unsafe.Pointer(&slice[0])
	}
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, data, usage)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, base, ssbo)
	return ssbo
}

func createSSBO(size int, base, usage uint32) (ssbo uint32) {
	gl.GenBuffers(1, &ssbo)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, ssbo)
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, nil, usage)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, base, ssbo)
	return ssbo
}

func copySSBO[T any](dst []T, ssbo uint32) error {
	singleSize := elemSize[T]()
	bufSize := singleSize * len(dst)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, ssbo)
	ptr := gl.MapBufferRange(gl.SHADER_STORAGE_BUFFER, 0, bufSize, gl.MAP_READ_BIT)
	if ptr == nil {
		return glErrOrMessage("failed to map SSBO buffer during copy")
	}
	defer gl.UnmapBuffer(gl.SHADER_STORAGE_BUFFER)
	gpuBytes := unsafe.Slice((*byte)(ptr), bufSize)
	bufBytes := unsafe.Slice((*byte)(unsafe.Pointer(&dst[0])), bufSize)
	copy(bufBytes, gpuBytes)
	return nil
}

func elemSize[T any]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

func glErrOrMessage(defaultMsg string) (err error) {
	err = glgl.Err()
	if err == nil {
		err = errors.New(defaultMsg)
	} else {
		err = fmt.Errorf("%s: %w", defaultMsg, err)
	}
	return err
}
