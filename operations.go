package flatsdf

import (
	"fmt"
	"strconv"

	"github.com/soypat/geometry/ms3"
)

// OpKind is the operator of a [Composite]. The zero value is not a valid operator.
type OpKind uint8

// Operator kinds.
const (
	OpUnion OpKind = iota + 1
	OpIntersection
	OpSubtraction
	OpOffset
	OpLinearBlend
	OpSmoothBlend
)

// Arity returns the number of operands consumed by the operator. Returns 0 for an invalid operator.
func (op OpKind) Arity() int {
	switch op {
	case OpOffset:
		return 1
	case OpUnion, OpIntersection, OpSubtraction, OpLinearBlend, OpSmoothBlend:
		return 2
	}
	return 0
}

// IsValid reports whether op is a known operator.
func (op OpKind) IsValid() bool { return op.Arity() > 0 }

// IsBlend reports whether the operator interpolates between two points.
func (op OpKind) IsBlend() bool { return op == OpLinearBlend || op == OpSmoothBlend }

func (op OpKind) String() string {
	switch op {
	case OpUnion:
		return "union"
	case OpIntersection:
		return "intersection"
	case OpSubtraction:
		return "subtraction"
	case OpOffset:
		return "offset"
	case OpLinearBlend:
		return "linblend"
	case OpSmoothBlend:
		return "smoothblend"
	}
	return "OpKind(" + strconv.Itoa(int(op)) + ")"
}

// OpParams holds the scalar parameters of an operator. Fields not used
// by an operator are zero.
type OpParams struct {
	// Distance is the OFFSET distance. Positive grows the surface.
	Distance float32
	// P1 and P2 are the blend interpolation points. The blend reproduces the
	// first operand at P1 and the second operand at P2.
	P1, P2 ms3.Vec
}

// composite is the tagged union of all operators.
type composite struct {
	op  OpKind
	prm OpParams
	// a is always set. b is nil for unary operators.
	a, b Entity
	// bb is computed on construction so shared operands are not walked again.
	bb ms3.Box
}

func newComposite(op OpKind, prm OpParams, a, b Entity) *composite {
	c := &composite{op: op, prm: prm, a: a, b: b}
	var bbB ms3.Box
	if b != nil {
		bbB = b.Bounds()
	}
	c.bb = OpBounds(op, prm, a.Bounds(), bbB)
	return c
}

var _ Composite = (*composite)(nil)

// NewComposite creates a composite entity from an operator, its operands and parameters.
// It returns [ErrArityMismatch] if the number of operands does not match op.Arity()
// and [ErrInvalidParameter] on invalid parameters or nil operands.
func NewComposite(op OpKind, operands []Entity, params OpParams) (Entity, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: unknown operator %s", ErrInvalidParameter, op)
	}
	if len(operands) != op.Arity() {
		return nil, fmt.Errorf("%w: %s takes %d operands, got %d", ErrArityMismatch, op, op.Arity(), len(operands))
	}
	for i, e := range operands {
		if e == nil {
			return nil, fmt.Errorf("%w: nil operand %d to %s", ErrInvalidParameter, i, op)
		}
	}
	if err := validateOpParams(op, params); err != nil {
		return nil, err
	}
	var prm OpParams
	switch op {
	case OpOffset:
		prm.Distance = params.Distance
	case OpLinearBlend, OpSmoothBlend:
		prm.P1 = params.P1
		prm.P2 = params.P2
	}
	var b Entity
	if len(operands) == 2 {
		b = operands[1]
	}
	return newComposite(op, prm, operands[0], b), nil
}

func validateOpParams(op OpKind, params OpParams) error {
	switch op {
	case OpOffset:
		if !isFinite(params.Distance) {
			return fmt.Errorf("%w: non-finite offset distance", ErrInvalidParameter)
		}
	case OpLinearBlend, OpSmoothBlend:
		if !isFiniteVec(params.P1) || !isFiniteVec(params.P2) {
			return fmt.Errorf("%w: non-finite %s point", ErrInvalidParameter, op)
		}
		if ms3.Norm(ms3.Sub(params.P2, params.P1)) < epstol {
			return fmt.Errorf("%w: %s points coincide", ErrInvalidParameter, op)
		}
	}
	return nil
}

func (c *composite) Op() OpKind { return c.op }

func (c *composite) OpParams() OpParams { return c.prm }

func (c *composite) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	err := fn(userData, c.a)
	if err != nil || c.b == nil {
		return err
	}
	return fn(userData, c.b)
}

func (c *composite) Bounds() ms3.Box { return c.bb }

// OpBounds returns the bounds of the result of op given the bounds of its operands.
// bb is ignored by unary operators.
func OpBounds(op OpKind, prm OpParams, ba, bb ms3.Box) ms3.Box {
	switch op {
	case OpOffset:
		// Negative offsets shrink the box. Canon keeps it well formed when it collapses.
		return ms3.Box{
			Min: ms3.AddScalar(-prm.Distance, ba.Min),
			Max: ms3.AddScalar(prm.Distance, ba.Max),
		}.Canon()
	case OpIntersection:
		return ba.Intersect(bb)
	case OpSubtraction:
		return ba
	}
	// Union and blends: the result is never negative outside both operands.
	return ba.Union(bb)
}

// Union joins the shapes of a and b. Is exact outside of the union.
func (bld *Builder) Union(a, b Entity) Entity {
	return bld.compose(OpUnion, OpParams{}, a, b)
}

// Intersection keeps the volume shared by a and b.
func (bld *Builder) Intersection(a, b Entity) Entity {
	return bld.compose(OpIntersection, OpParams{}, a, b)
}

// Subtraction removes b from a.
func (bld *Builder) Subtraction(a, b Entity) Entity {
	return bld.compose(OpSubtraction, OpParams{}, a, b)
}

// Offset grows the surface of a by distance. A negative distance shrinks it.
func (bld *Builder) Offset(a Entity, distance float32) Entity {
	return bld.compose(OpOffset, OpParams{Distance: distance}, a)
}

// LinearBlend interpolates linearly from a at p1 to b at p2. The weight is clamped
// outside of the segment so a dominates behind p1 and b beyond p2.
func (bld *Builder) LinearBlend(a, b Entity, p1, p2 ms3.Vec) Entity {
	return bld.compose(OpLinearBlend, OpParams{P1: p1, P2: p2}, a, b)
}

// SmoothBlend is like [Builder.LinearBlend] but eases the weight with a smoothstep,
// so the transition has a continuous derivative at p1 and p2.
func (bld *Builder) SmoothBlend(a, b Entity, p1, p2 ms3.Vec) Entity {
	return bld.compose(OpSmoothBlend, OpParams{P1: p1, P2: p2}, a, b)
}

func (bld *Builder) compose(op OpKind, prm OpParams, operands ...Entity) Entity {
	for i, e := range operands {
		if e == nil {
			bld.nilEntity(fmt.Sprintf("arg[%d] to %s", i, op))
		}
	}
	c, err := NewComposite(op, operands, prm)
	if err != nil {
		bld.addErr(err)
		// Return a usable entity so accumulation mode can continue building.
		var b Entity
		if len(operands) > 1 {
			b = operands[1]
		}
		c = newComposite(op, prm, operands[0], b)
	}
	return c
}
