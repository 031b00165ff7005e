package flatsdf

import (
	"strconv"

	"github.com/soypat/geometry/ms3"
)

// Kind is the type tag of a [Primitive]. It selects the distance formula
// used by the evaluators and determines the size of the parameter block.
type Kind uint8

// Primitive kinds. The zero value is not a valid kind.
const (
	KindBox Kind = iota + 1
	KindSphere
	KindCylinder
	KindHalfSpace
	KindGyroid
	KindSchwarz
)

// MaxParams is the largest parameter block size of any primitive kind.
const MaxParams = 7

// NumParams returns the number of float32 values in the kind's parameter block.
// Returns 0 for an invalid kind.
func (k Kind) NumParams() int {
	switch k {
	case KindBox:
		return 6 // min, max.
	case KindSphere:
		return 4 // center, radius.
	case KindCylinder:
		return 7 // start, end, radius.
	case KindHalfSpace:
		return 6 // origin, unit normal.
	case KindGyroid, KindSchwarz:
		return 2 // scale, thickness.
	}
	return 0
}

// IsValid reports whether k is a known primitive kind.
func (k Kind) IsValid() bool { return k.NumParams() > 0 }

func (k Kind) String() string {
	switch k {
	case KindBox:
		return "box"
	case KindSphere:
		return "sphere"
	case KindCylinder:
		return "cylinder"
	case KindHalfSpace:
		return "halfspace"
	case KindGyroid:
		return "gyroid"
	case KindSchwarz:
		return "schwarz"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// NewBox creates an axis aligned box spanning from the min to the max corner.
func (bld *Builder) NewBox(min, max ms3.Vec) Entity {
	if !isFiniteVec(min) || !isFiniteVec(max) {
		bld.shapeErrorf("non-finite box corner")
	} else if min.X > max.X || min.Y > max.Y || min.Z > max.Z {
		bld.shapeErrorf("box max corner %v below min corner %v", max, min)
	}
	return &box{min: min, max: max}
}

type box struct {
	min, max ms3.Vec
}

func (*box) Kind() Kind { return KindBox }

func (s *box) AppendParams(dst []float32) []float32 {
	return append(dst, s.min.X, s.min.Y, s.min.Z, s.max.X, s.max.Y, s.max.Z)
}

func (s *box) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	return nil
}

func (s *box) Bounds() ms3.Box {
	return ms3.Box{Min: s.min, Max: s.max}
}

// NewSphere creates a sphere of radius r centered at center.
func (bld *Builder) NewSphere(center ms3.Vec, r float32) Entity {
	if !isFiniteVec(center) || !isFinite(r) {
		bld.shapeErrorf("non-finite sphere parameter")
	} else if r <= 0 {
		bld.shapeErrorf("zero or negative sphere radius %g", r)
	}
	return &sphere{c: center, r: r}
}

type sphere struct {
	c ms3.Vec
	r float32
}

func (*sphere) Kind() Kind { return KindSphere }

func (s *sphere) AppendParams(dst []float32) []float32 {
	return append(dst, s.c.X, s.c.Y, s.c.Z, s.r)
}

func (s *sphere) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	return nil
}

func (s *sphere) Bounds() ms3.Box {
	return ms3.Box{
		Min: ms3.AddScalar(-s.r, s.c),
		Max: ms3.AddScalar(s.r, s.c),
	}
}

// NewCylinder creates a capped cylinder of radius r whose axis goes from start to end.
func (bld *Builder) NewCylinder(start, end ms3.Vec, r float32) Entity {
	if !isFiniteVec(start) || !isFiniteVec(end) || !isFinite(r) {
		bld.shapeErrorf("non-finite cylinder parameter")
	} else if r <= 0 {
		bld.shapeErrorf("zero or negative cylinder radius %g", r)
	} else if ms3.Norm(ms3.Sub(end, start)) < epstol {
		bld.shapeErrorf("cylinder start and end coincide")
	}
	return &cylinder{a: start, b: end, r: r}
}

type cylinder struct {
	a, b ms3.Vec
	r    float32
}

func (*cylinder) Kind() Kind { return KindCylinder }

func (s *cylinder) AppendParams(dst []float32) []float32 {
	return append(dst, s.a.X, s.a.Y, s.a.Z, s.b.X, s.b.Y, s.b.Z, s.r)
}

func (s *cylinder) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	return nil
}

func (s *cylinder) Bounds() ms3.Box {
	// Box containing spheres of radius r at both ends contains the cylinder.
	return ms3.Box{
		Min: ms3.AddScalar(-s.r, ms3.MinElem(s.a, s.b)),
		Max: ms3.AddScalar(s.r, ms3.MaxElem(s.a, s.b)),
	}
}

// NewHalfSpace creates the half-space bounded by the plane through origin with the given normal.
// The normal points away from the solid, so points in the normal's direction are outside.
func (bld *Builder) NewHalfSpace(origin, normal ms3.Vec) Entity {
	n := ms3.Norm(normal)
	if !isFiniteVec(origin) || !isFiniteVec(normal) {
		bld.shapeErrorf("non-finite halfspace parameter")
	} else if n < epstol {
		bld.shapeErrorf("zero length halfspace normal")
	} else {
		normal = ms3.Scale(1/n, normal)
	}
	return &halfspace{o: origin, n: normal}
}

type halfspace struct {
	o ms3.Vec
	n ms3.Vec // Unit length.
}

func (*halfspace) Kind() Kind { return KindHalfSpace }

func (s *halfspace) AppendParams(dst []float32) []float32 {
	return append(dst, s.o.X, s.o.Y, s.o.Z, s.n.X, s.n.Y, s.n.Z)
}

func (s *halfspace) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	return nil
}

func (s *halfspace) Bounds() ms3.Box { return unboundedBox() }

// NewGyroid creates an infinite gyroid sheet lattice with period scale and wall thickness.
func (bld *Builder) NewGyroid(scale, thickness float32) Entity {
	bld.validateLattice("gyroid", scale, thickness)
	return &lattice{kind: KindGyroid, scale: scale, thick: thickness}
}

// NewSchwarz creates an infinite Schwarz-P sheet lattice with period scale and wall thickness.
func (bld *Builder) NewSchwarz(scale, thickness float32) Entity {
	bld.validateLattice("schwarz", scale, thickness)
	return &lattice{kind: KindSchwarz, scale: scale, thick: thickness}
}

func (bld *Builder) validateLattice(name string, scale, thickness float32) {
	if !isFinite(scale) || !isFinite(thickness) {
		bld.shapeErrorf("non-finite %s parameter", name)
	} else if scale <= 0 {
		bld.shapeErrorf("zero or negative %s scale %g", name, scale)
	} else if thickness < 0 {
		bld.shapeErrorf("negative %s thickness %g", name, thickness)
	}
}

// lattice is shared by the triply periodic surfaces which only differ in their kind.
type lattice struct {
	kind  Kind
	scale float32
	thick float32
}

func (l *lattice) Kind() Kind { return l.kind }

func (l *lattice) AppendParams(dst []float32) []float32 {
	return append(dst, l.scale, l.thick)
}

func (l *lattice) ForEachChild(userData any, fn func(userData any, e Entity) error) error {
	return nil
}

func (l *lattice) Bounds() ms3.Box { return unboundedBox() }
