package flatbuild

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/soypat/flatsdf"
	"github.com/soypat/geometry/ms3"
)

// OpPush is the [Step] operator that pushes the distance of a primitive onto the stack.
// It is the zero value of [flatsdf.OpKind] which is not a valid composite operator.
const OpPush flatsdf.OpKind = 0

var (
	// ErrUnboundedDepth is returned when the program needs a deeper stack than [PackerConfig.MaxDepth].
	ErrUnboundedDepth = errors.New("scene exceeds maximum stack depth")
	// ErrArityMismatch is returned when a composite has a number of children other than its operator's arity.
	ErrArityMismatch = flatsdf.ErrArityMismatch
	// ErrCycle is returned when an entity is reachable from itself.
	ErrCycle = errors.New("cyclic entity graph")
	// ErrTooManySteps is returned when the program exceeds [PackerConfig.MaxSteps].
	ErrTooManySteps = errors.New("scene exceeds maximum number of steps")

	errNilEntity     = errors.New("nil entity")
	errUnknownEntity = errors.New("entity is neither primitive nor composite")
	// Entities are identified by interface equality, which panics on slices and maps.
	errIncomparable = errors.New("entity of incomparable type, use a pointer receiver")
)

// Step is a single instruction of a [Scene] program.
type Step struct {
	// Op is the operator applied by the step. [OpPush] pushes a primitive's distance.
	Op flatsdf.OpKind
	// Primitive is the index into Scene.Offsets and Scene.Types of the primitive pushed by an [OpPush] step.
	Primitive uint32
	// Params are the operator's scalar parameters. Zero for OpPush.
	Params flatsdf.OpParams
}

// Scene is the flattened, pointer free representation of an entity graph.
// Offsets and Types are index aligned. A Scene is read only once packed and may
// be shared freely between goroutines.
type Scene struct {
	// Params holds the little endian float32 parameter blocks of all distinct primitives.
	Params []byte
	// Offsets[i] is the byte offset into Params of primitive i's block.
	Offsets []uint32
	// Types[i] selects the distance formula of primitive i.
	Types []flatsdf.Kind
	// Steps is the postfix program. Executing it leaves a single value on the stack.
	Steps []Step
	// MaxDepth is the largest stack depth reached while executing Steps.
	MaxDepth int
	// Bounds of the root entity.
	Bounds ms3.Box
}

// NumPrimitives returns the number of distinct primitives in the scene.
func (s *Scene) NumPrimitives() int { return len(s.Types) }

// AppendParams decodes primitive i's parameter block, appends it to dst and returns the result.
func (s *Scene) AppendParams(dst []float32, i int) []float32 {
	off := int(s.Offsets[i])
	n := s.Types[i].NumParams()
	for j := 0; j < n; j++ {
		bits := binary.LittleEndian.Uint32(s.Params[off+4*j:])
		dst = append(dst, math32.Float32frombits(bits))
	}
	return dst
}

// Validate checks the scene is a well formed program: contiguous in-range parameter blocks,
// known type tags and operators, in-range push indices, no stack underflow, a final depth of 1
// and a maximum depth no larger than MaxDepth.
func (s *Scene) Validate() error {
	if len(s.Offsets) != len(s.Types) {
		return fmt.Errorf("offsets length %d does not match types length %d", len(s.Offsets), len(s.Types))
	} else if len(s.Steps) == 0 {
		return errors.New("empty program")
	}
	var expectOffset uint32
	for i, kind := range s.Types {
		if !kind.IsValid() {
			return fmt.Errorf("primitive %d has invalid type %s", i, kind)
		} else if s.Offsets[i] != expectOffset {
			return fmt.Errorf("primitive %d offset %d not contiguous, expected %d", i, s.Offsets[i], expectOffset)
		}
		expectOffset += 4 * uint32(kind.NumParams())
	}
	if int(expectOffset) != len(s.Params) {
		return fmt.Errorf("parameter blocks span %d bytes, buffer has %d", expectOffset, len(s.Params))
	}
	pushed := make([]bool, len(s.Types))
	depth, maxDepth := 0, 0
	for j, step := range s.Steps {
		switch {
		case step.Op == OpPush:
			if int(step.Primitive) >= len(s.Types) {
				return fmt.Errorf("step %d pushes primitive %d out of range [0,%d)", j, step.Primitive, len(s.Types))
			}
			pushed[step.Primitive] = true
			depth++
		case step.Op.IsValid():
			arity := step.Op.Arity()
			if depth < arity {
				return fmt.Errorf("step %d: %s underflows stack of depth %d", j, step.Op, depth)
			}
			depth -= arity - 1
		default:
			return fmt.Errorf("step %d has invalid operator %s", j, step.Op)
		}
		maxDepth = max(maxDepth, depth)
	}
	if depth != 1 {
		return fmt.Errorf("program leaves %d values on the stack", depth)
	} else if maxDepth > s.MaxDepth {
		return fmt.Errorf("program reaches depth %d above declared maximum %d", maxDepth, s.MaxDepth)
	}
	for i, ok := range pushed {
		if !ok {
			return fmt.Errorf("primitive %d never pushed", i)
		}
	}
	return nil
}

// Format returns a human readable listing of the program, one step per line.
func (s *Scene) Format() string {
	var b []byte
	var params []float32
	for j, step := range s.Steps {
		b = strconv.AppendInt(b, int64(j), 10)
		b = append(b, '\t')
		switch {
		case step.Op == OpPush && int(step.Primitive) < len(s.Types):
			params = s.AppendParams(params[:0], int(step.Primitive))
			b = append(b, "push "...)
			b = strconv.AppendUint(b, uint64(step.Primitive), 10)
			b = append(b, ' ')
			b = append(b, s.Types[step.Primitive].String()...)
			b = appendFloatList(b, params...)
		case step.Op == OpPush:
			b = append(b, "push <out of range>"...)
		case step.Op == flatsdf.OpOffset:
			b = append(b, step.Op.String()...)
			b = appendFloatList(b, step.Params.Distance)
		case step.Op.IsBlend():
			p1, p2 := step.Params.P1, step.Params.P2
			b = append(b, step.Op.String()...)
			b = appendFloatList(b, p1.X, p1.Y, p1.Z, p2.X, p2.Y, p2.Z)
		default:
			b = append(b, step.Op.String()...)
		}
		b = append(b, '\n')
	}
	return string(b)
}

func f32bits(f float32) uint32 { return math32.Float32bits(f) }

func appendFloatList(b []byte, v ...float32) []byte {
	b = append(b, '(')
	for i, f := range v {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendFloat(b, float64(f), 'g', -1, 32)
	}
	return append(b, ')')
}

// PackerConfig configures the limits of a [Packer].
type PackerConfig struct {
	// MaxDepth is the largest stack depth a packed program may reach.
	MaxDepth int
	// MaxSteps is the largest number of steps a packed program may have.
	MaxSteps int
}

// Packer flattens entity graphs into [Scene]s. A Packer reuses its internal buffers
// between calls and is not safe for concurrent use.
type Packer struct {
	cfg PackerConfig
	// prims maps distinct primitives to their index in the scene.
	prims map[flatsdf.Entity]uint32
	// onPath holds the composites between the root and the current node.
	onPath map[flatsdf.Entity]struct{}
	frames []packFrame
	kids   []flatsdf.Entity
	pbuf   []float32
	// primBounds[i] holds the bounds of scene primitive i.
	primBounds []ms3.Box
	// bstack mirrors the program's value stack with the bounds of each value.
	bstack []ms3.Box
}

type packFrame struct {
	e    flatsdf.Composite
	kid0 int // Index of first child in kids.
	next int // Next child to visit, relative to kid0.
	nkid int
}

// NewDefaultPacker returns a Packer with limits suitable for interactive scenes.
func NewDefaultPacker() *Packer {
	var p Packer
	err := p.Configure(PackerConfig{MaxDepth: 64, MaxSteps: 1 << 16})
	if err != nil {
		panic(err)
	}
	return &p
}

// Configure sets the Packer's limits.
func (p *Packer) Configure(cfg PackerConfig) error {
	if cfg.MaxDepth < 1 {
		return errors.New("invalid MaxDepth")
	} else if cfg.MaxSteps < 1 {
		return errors.New("invalid MaxSteps")
	}
	p.cfg = cfg
	return nil
}

// Config returns the Packer's current limits.
func (p *Packer) Config() PackerConfig { return p.cfg }

// Pack flattens the entity graph rooted at root into a new Scene.
func (p *Packer) Pack(root flatsdf.Entity) (*Scene, error) {
	scene := new(Scene)
	err := p.AppendScene(scene, root)
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// AppendScene flattens the entity graph rooted at root into dst, reusing dst's buffers.
// The graph is traversed in post-order without recursion. Primitives are stored once
// no matter how many parents reference them but are pushed once per reference.
// On error dst is left in an unspecified state.
func (p *Packer) AppendScene(dst *Scene, root flatsdf.Entity) error {
	if p.cfg.MaxDepth == 0 {
		return errors.New("unconfigured Packer")
	} else if root == nil {
		return errNilEntity
	}
	if p.prims == nil {
		p.prims = make(map[flatsdf.Entity]uint32)
		p.onPath = make(map[flatsdf.Entity]struct{})
	} else {
		clear(p.prims)
		clear(p.onPath)
	}
	*dst = Scene{
		Params:  dst.Params[:0],
		Offsets: dst.Offsets[:0],
		Types:   dst.Types[:0],
		Steps:   dst.Steps[:0],
	}
	p.frames = p.frames[:0]
	p.kids = p.kids[:0]
	p.primBounds = p.primBounds[:0]
	p.bstack = p.bstack[:0]
	depth := 0
	emit := func(step Step) error {
		if len(dst.Steps) >= p.cfg.MaxSteps {
			return fmt.Errorf("%w: limit %d", ErrTooManySteps, p.cfg.MaxSteps)
		}
		if step.Op == OpPush {
			depth++
			p.bstack = append(p.bstack, p.primBounds[step.Primitive])
		} else {
			arity := step.Op.Arity()
			depth -= arity - 1
			top := len(p.bstack) - arity
			var bb ms3.Box
			if arity == 2 {
				bb = p.bstack[top+1]
			}
			p.bstack[top] = flatsdf.OpBounds(step.Op, step.Params, p.bstack[top], bb)
			p.bstack = p.bstack[:top+1]
		}
		if depth > p.cfg.MaxDepth {
			return fmt.Errorf("%w: depth %d exceeds %d", ErrUnboundedDepth, depth, p.cfg.MaxDepth)
		}
		dst.MaxDepth = max(dst.MaxDepth, depth)
		dst.Steps = append(dst.Steps, step)
		return nil
	}
	// visit pushes a primitive or opens a frame for a composite.
	visit := func(e flatsdf.Entity) error {
		if e == nil {
			return errNilEntity
		} else if !reflect.ValueOf(e).Comparable() {
			return fmt.Errorf("%w: %T", errIncomparable, e)
		}
		if prim, ok := e.(flatsdf.Primitive); ok {
			idx, err := p.addPrimitive(dst, prim)
			if err != nil {
				return err
			}
			return emit(Step{Op: OpPush, Primitive: idx})
		}
		comp, ok := e.(flatsdf.Composite)
		if !ok {
			return fmt.Errorf("%w: %T", errUnknownEntity, e)
		}
		if _, cyclic := p.onPath[e]; cyclic {
			return fmt.Errorf("%w: %s revisited", ErrCycle, comp.Op())
		}
		kid0 := len(p.kids)
		err := comp.ForEachChild(nil, func(_ any, child flatsdf.Entity) error {
			p.kids = append(p.kids, child)
			return nil
		})
		if err != nil {
			return err
		}
		nkid := len(p.kids) - kid0
		if !comp.Op().IsValid() {
			return fmt.Errorf("invalid operator %s", comp.Op())
		} else if nkid != comp.Op().Arity() {
			return fmt.Errorf("%w: %s has %d operands, expects %d", ErrArityMismatch, comp.Op(), nkid, comp.Op().Arity())
		}
		p.onPath[e] = struct{}{}
		p.frames = append(p.frames, packFrame{e: comp, kid0: kid0, nkid: nkid})
		return nil
	}

	err := visit(root)
	for err == nil && len(p.frames) > 0 {
		top := &p.frames[len(p.frames)-1]
		if top.next < top.nkid {
			child := p.kids[top.kid0+top.next]
			top.next++
			err = visit(child) // May grow p.frames, top is invalid after this.
			continue
		}
		// All operands emitted, close the frame with the operator step.
		frame := *top
		p.frames = p.frames[:len(p.frames)-1]
		p.kids = p.kids[:frame.kid0]
		delete(p.onPath, flatsdf.Entity(frame.e))
		err = emit(Step{Op: frame.e.Op(), Params: frame.e.OpParams()})
	}
	if err != nil {
		return err
	}
	dst.Bounds = p.bstack[0]
	flatsdf.Logger().Debug("packed scene", "primitives", len(dst.Types), "steps", len(dst.Steps),
		"maxdepth", dst.MaxDepth, "parambytes", len(dst.Params))
	return nil
}

func (p *Packer) addPrimitive(dst *Scene, prim flatsdf.Primitive) (uint32, error) {
	if idx, ok := p.prims[prim]; ok {
		return idx, nil
	}
	kind := prim.Kind()
	if !kind.IsValid() {
		return 0, fmt.Errorf("%w: primitive type %s", flatsdf.ErrInvalidParameter, kind)
	}
	p.pbuf = prim.AppendParams(p.pbuf[:0])
	if len(p.pbuf) != kind.NumParams() {
		return 0, fmt.Errorf("%w: %s appended %d parameters, expects %d", flatsdf.ErrInvalidParameter, kind, len(p.pbuf), kind.NumParams())
	}
	idx := uint32(len(dst.Types))
	dst.Offsets = append(dst.Offsets, uint32(len(dst.Params)))
	dst.Types = append(dst.Types, kind)
	for _, v := range p.pbuf {
		dst.Params = binary.LittleEndian.AppendUint32(dst.Params, math32.Float32bits(v))
	}
	p.primBounds = append(p.primBounds, prim.Bounds())
	p.prims[prim] = idx
	return idx, nil
}
