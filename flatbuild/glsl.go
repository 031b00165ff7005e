package flatbuild

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild/glsllib"
)

// VersionStr is the GLSL version directive of generated programs.
const VersionStr = "#version 430\n"

// GPUStepWords is the number of 32 bit words a [Step] occupies in the GPU step buffer.
// Matches the std430 layout of the FlatStep struct:
//
//	struct FlatStep { uint op; uint prim; float dist; float pad; vec4 p1; vec4 p2; };
const GPUStepWords = 12

// Buffer bindings used by generated programs.
const (
	BindingInput = iota
	BindingOutput
	BindingParams
	BindingOffsets
	BindingTypes
	BindingSteps
	// BindingAuxInput is the second input of the trace program, the ray directions.
	BindingAuxInput
)

// TraceParams are the sphere tracing parameters baked into a trace compute program.
type TraceParams struct {
	MaxIterations int
	Tolerance     float32
	// Bound is the half side of the cube outside of which rays miss.
	Bound         float32
	MinBoundSteps int
	GradientStep  float32
	// Background is the packed 0xAABBGGRR color of rays that miss.
	Background uint32
	Dark       float32
	Light      float32
}

// Validate checks the parameters produce a terminating, well defined trace.
func (tp TraceParams) Validate() error {
	switch {
	case tp.MaxIterations <= 0:
		return errors.New("zero or negative MaxIterations")
	case tp.Tolerance <= 0:
		return errors.New("zero or negative Tolerance")
	case tp.Bound <= 0:
		return errors.New("zero or negative Bound")
	case tp.MinBoundSteps < 0:
		return errors.New("negative MinBoundSteps")
	case tp.GradientStep <= 0:
		return errors.New("zero or negative GradientStep")
	}
	return nil
}

// Programmer generates GLSL compute programs that evaluate a packed [Scene]
// with the same stack machine as the CPU evaluator.
type Programmer struct {
	scratch []byte
	// Invocations size in X (local group size) to give each compute work group.
	invocX int
}

// NewDefaultProgrammer returns a Programmer with reasonable default parameters for use with glgl package on the local machine.
func NewDefaultProgrammer() *Programmer {
	return &Programmer{
		scratch: make([]byte, 0, 4096),
		invocX:  32,
	}
}

// SetComputeInvocations sets the work group local-sizes. x*y*z must be less than maximum number of invocations.
func (p *Programmer) SetComputeInvocations(x, y, z int) {
	if y != 1 || z != 1 {
		panic("unsupported")
	} else if x < 1 {
		panic("zero or negative X invocation size")
	}
	p.invocX = x
}

// ComputeInvocations returns the worker group invocation size in x y and z.
func (p *Programmer) ComputeInvocations() (int, int, int) {
	return p.invocX, 1, 1
}

// WriteComputeEvaluate writes a compute program that evaluates the scene's distance
// at each position of the input buffer and stores it in the output buffer.
func (p *Programmer) WriteComputeEvaluate(w io.Writer, scene *Scene) (int, error) {
	b, err := p.appendHeader(p.scratch[:0], scene)
	if err != nil {
		return 0, err
	}
	b = fmt.Appendf(b, `
// Input: 3D positions at which to evaluate SDF.
layout(std430, binding = %d) buffer PositionsBuffer {
	vec4 vbo_positions[];
};

// Output: Result of SDF evaluation are the distances. Maps to position buffer.
layout(std430, binding = %d) buffer DistancesBuffer {
	float vbo_distances[];
};

void main() {
	int idx = int( gl_GlobalInvocationID.x );
	if (idx >= vbo_distances.length()) {
		return;
	}
	vbo_distances[idx] = flatEval(vbo_positions[idx].xyz);
}
`, BindingInput, BindingOutput)
	p.scratch = b
	return w.Write(b)
}

// WriteComputeTrace writes a compute program that sphere traces one ray per invocation.
// Ray origins and directions are read from the input and auxiliary input buffers and
// packed 0xAABBGGRR colors are written to the output buffer.
func (p *Programmer) WriteComputeTrace(w io.Writer, scene *Scene, params TraceParams) (int, error) {
	if err := params.Validate(); err != nil {
		return 0, err
	}
	b, err := p.appendHeader(p.scratch[:0], scene)
	if err != nil {
		return 0, err
	}
	b = appendDefine(b, "FLAT_MAXITER", strconv.Itoa(params.MaxIterations))
	b = appendDefine(b, "FLAT_MINBOUNDSTEPS", strconv.Itoa(params.MinBoundSteps))
	b = appendDefine(b, "FLAT_TOLERANCE", string(AppendFloat(nil, '-', '.', params.Tolerance)))
	b = appendDefine(b, "FLAT_BOUND", string(AppendFloat(nil, '-', '.', params.Bound)))
	b = appendDefine(b, "FLAT_GRADSTEP", string(AppendFloat(nil, '-', '.', params.GradientStep)))
	b = appendDefine(b, "FLAT_DARK", string(AppendFloat(nil, '-', '.', params.Dark)))
	b = appendDefine(b, "FLAT_LIGHT", string(AppendFloat(nil, '-', '.', params.Light)))
	b = appendDefine(b, "FLAT_BACKGROUND", "0x"+strconv.FormatUint(uint64(params.Background), 16)+"u")
	b = append(b, glsllib.Trace()...)
	b = fmt.Appendf(b, `
// Input: ray origins.
layout(std430, binding = %d) buffer OriginsBuffer {
	vec4 vbo_origins[];
};

// Input: ray directions. Need not be normalized.
layout(std430, binding = %d) buffer DirectionsBuffer {
	vec4 vbo_directions[];
};

// Output: packed colors.
layout(std430, binding = %d) buffer ColorsBuffer {
	uint vbo_colors[];
};

void main() {
	int idx = int( gl_GlobalInvocationID.x );
	if (idx >= vbo_colors.length()) {
		return;
	}
	vbo_colors[idx] = flatTrace(vbo_origins[idx].xyz, vbo_directions[idx].xyz);
}
`, BindingInput, BindingAuxInput, BindingOutput)
	p.scratch = b
	return w.Write(b)
}

// appendHeader appends the version, defines, scene buffer declarations and stack machine.
func (p *Programmer) appendHeader(b []byte, scene *Scene) ([]byte, error) {
	if scene == nil {
		return b, errors.New("nil scene")
	}
	err := scene.Validate()
	if err != nil {
		return b, err
	}
	b = append(b, VersionStr...)
	b = fmt.Appendf(b, "layout(local_size_x = %d, local_size_y = 1, local_size_z = 1) in;\n", p.invocX)
	b = appendDefine(b, "FLAT_MAXDEPTH", strconv.Itoa(scene.MaxDepth))
	b = appendDefine(b, "FLAT_OP_PUSH", uintLit(uint8(OpPush)))
	for op := flatsdf.OpUnion; op.IsValid(); op++ {
		b = appendDefine(b, "FLAT_OP_"+upper(op.String()), uintLit(uint8(op)))
	}
	for kind := flatsdf.KindBox; kind.IsValid(); kind++ {
		b = appendDefine(b, "FLAT_KIND_"+upper(kind.String()), uintLit(uint8(kind)))
	}
	b = fmt.Appendf(b, `
struct FlatStep {
	uint op;
	uint prim;
	float dist;
	float pad;
	vec4 p1;
	vec4 p2;
};

layout(std430, binding = %d) readonly buffer ParamsBuffer {
	float flat_params[];
};

layout(std430, binding = %d) readonly buffer OffsetsBuffer {
	uint flat_offsets[];
};

layout(std430, binding = %d) readonly buffer TypesBuffer {
	uint flat_types[];
};

layout(std430, binding = %d) readonly buffer StepsBuffer {
	FlatStep flat_steps[];
};

`, BindingParams, BindingOffsets, BindingTypes, BindingSteps)
	for _, src := range glsllib.Primitives() {
		b = append(b, src...)
		b = append(b, '\n')
	}
	b = append(b, glsllib.StackMachine()...)
	return b, nil
}

// AppendGPUSteps appends the scene's steps in the std430 layout of GLSL's FlatStep struct.
func (s *Scene) AppendGPUSteps(dst []uint32) []uint32 {
	for _, step := range s.Steps {
		prm := step.Params
		dst = append(dst,
			uint32(step.Op), step.Primitive, f32bits(prm.Distance), 0,
			f32bits(prm.P1.X), f32bits(prm.P1.Y), f32bits(prm.P1.Z), 0,
			f32bits(prm.P2.X), f32bits(prm.P2.Y), f32bits(prm.P2.Z), 0,
		)
	}
	return dst
}

// AppendGPUTypes appends the scene's type tags widened to 32 bits.
func (s *Scene) AppendGPUTypes(dst []uint32) []uint32 {
	for _, kind := range s.Types {
		dst = append(dst, uint32(kind))
	}
	return dst
}

func appendDefine(b []byte, alias, replace string) []byte {
	b = append(b, "#define "...)
	b = append(b, alias...)
	b = append(b, ' ')
	b = append(b, replace...)
	return append(b, '\n')
}

func uintLit(v uint8) string {
	return strconv.Itoa(int(v)) + "u"
}

func upper(s string) string {
	return string(bytes.ToUpper([]byte(s)))
}

const decimalDigits = 9

// AppendFloat appends a GLSL float literal of v to b. neg and decimal replace the
// minus sign and decimal point characters, which allows writing identifier-safe numbers.
func AppendFloat(b []byte, neg, decimal byte, v float32) []byte {
	start := len(b)
	b = strconv.AppendFloat(b, float64(v), 'f', decimalDigits, 32)
	idx := bytes.IndexByte(b[start:], '.')
	if decimal != '.' && idx >= 0 {
		b[start+idx] = decimal
	}
	if b[start] == '-' {
		b[start] = neg
	}
	// Finally trim zeroes.
	end := len(b)
	for i := len(b) - 1; idx >= 0 && i > idx+start+1 && b[i] == '0'; i-- {
		end--
	}
	return b[:end]
}
