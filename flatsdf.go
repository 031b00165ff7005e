// Package flatsdf builds CSG scenes from implicit primitives and operators.
// Scenes are packed into flat programs by flatbuild and evaluated by flateval.
package flatsdf

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

const (
	largenum = 1e20
	// epstol is used to check for badly conditioned denominators
	// such as lengths used for normalization.
	epstol = 6e-7
)

var (
	// ErrInvalidParameter is returned (or panicked with) when a primitive or operator
	// is constructed with a parameter outside of its valid domain, such as a negative radius.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrArityMismatch is returned when a composite receives a number of operands
	// that does not match its operator's arity.
	ErrArityMismatch = errors.New("operand count does not match operator arity")
)

// Entity is a node of a CSG tree. It is either a [Primitive] leaf or a [Composite]
// that combines the distances of its operands. Entities are immutable after construction
// and may be shared freely between several parents.
type Entity interface {
	// ForEachChild iterates over the entity's direct operands in evaluation order.
	// Primitives have no children. Offset has one child. Boolean and blend operations have two.
	ForEachChild(userData any, fn func(userData any, e Entity) error) error
	// Bounds returns a bounding box that contains the region where the SDF is negative.
	// Unbounded entities such as half-spaces and lattices return a very large box.
	Bounds() ms3.Box
	// Evaluate evaluates the entity's signed distance field directly (recursively)
	// over pos positions and stores the result in dist. dist and pos must be of same length.
	Evaluate(pos []ms3.Vec, dist []float32, userData any) error
}

// Primitive is a leaf [Entity] with a fixed size parameter block.
type Primitive interface {
	Entity
	// Kind returns the type tag that selects the primitive's distance formula.
	Kind() Kind
	// AppendParams appends the primitive's parameter block to dst and returns the result.
	// The number of appended values is always Kind().NumParams().
	AppendParams(dst []float32) []float32
}

// Composite is an internal [Entity] combining the distances of its operands with an operator.
type Composite interface {
	Entity
	// Op returns the composite's operator kind.
	Op() OpKind
	// OpParams returns the operator-specific scalar parameters.
	OpParams() OpParams
}

// Flags modify the behaviour of a [Builder].
type Flags uint64

const (
	// FlagNoParameterPanic makes the Builder accumulate parameter errors instead of panicking.
	// Errors are then retrieved with [Builder.Err].
	FlagNoParameterPanic Flags = 1 << iota
)

// Builder wraps all primitive and operation construction logic.
// Provides error handling strategies with panics or error accumulation during entity construction.
type Builder struct {
	flags     Flags
	accumErrs []error
}

// SetFlags sets the Builder's flags, replacing all previous flags.
func (bld *Builder) SetFlags(flags Flags) { bld.flags = flags }

// Flags returns the currently set flags.
func (bld *Builder) Flags() Flags { return bld.flags }

// Err returns all errors accumulated since the last call to [Builder.ClearErrors].
// Errors are only accumulated when [FlagNoParameterPanic] is set.
func (bld *Builder) Err() error {
	if len(bld.accumErrs) == 0 {
		return nil
	}
	return errors.Join(bld.accumErrs...)
}

// ClearErrors discards accumulated errors.
func (bld *Builder) ClearErrors() {
	bld.accumErrs = bld.accumErrs[:0]
}

func (bld *Builder) shapeErrorf(msg string, args ...any) {
	err := fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(msg, args...))
	bld.addErr(err)
}

func (bld *Builder) addErr(err error) {
	if bld.flags&FlagNoParameterPanic == 0 {
		panic(err.Error())
	}
	bld.accumErrs = append(bld.accumErrs, err)
}

func (*Builder) nilEntity(msg string) {
	panic("nil entity argument: " + msg)
}

func minf(a, b float32) float32 {
	return math32.Min(a, b)
}

func maxf(a, b float32) float32 {
	return math32.Max(a, b)
}

func absf(a float32) float32 {
	return math32.Abs(a)
}

func signf(a float32) float32 {
	if a == 0 {
		return 0
	}
	return math32.Copysign(1, a)
}

func clampf(v, Min, Max float32) float32 {
	if v < Min {
		return Min
	} else if v > Max {
		return Max
	}
	return v
}

func mixf(x, y, a float32) float32 {
	return x*(1-a) + y*a
}

func isFinite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}

func isFiniteVec(v ms3.Vec) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func unboundedBox() ms3.Box {
	return ms3.Box{
		Min: ms3.Vec{X: -largenum, Y: -largenum, Z: -largenum},
		Max: ms3.Vec{X: largenum, Y: largenum, Z: largenum},
	}
}
