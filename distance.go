package flatsdf

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/math/ms1"
)

// latticeNorm rescales the lattice implicit functions so their gradient
// magnitude stays at or below 1 and tracing does not overshoot.
const latticeNorm = 1.5

// EvalPrimitive returns the signed distance at p of the primitive of the given kind
// with parameter block params as written by [Primitive.AppendParams].
// EvalPrimitive panics if params is shorter than kind.NumParams() and returns NaN for invalid kinds.
func EvalPrimitive(kind Kind, params []float32, p ms3.Vec) float32 {
	switch kind {
	case KindBox:
		_ = params[5]
		min := ms3.Vec{X: params[0], Y: params[1], Z: params[2]}
		max := ms3.Vec{X: params[3], Y: params[4], Z: params[5]}
		return distBox(min, max, p)
	case KindSphere:
		_ = params[3]
		c := ms3.Vec{X: params[0], Y: params[1], Z: params[2]}
		return ms3.Norm(ms3.Sub(p, c)) - params[3]
	case KindCylinder:
		_ = params[6]
		a := ms3.Vec{X: params[0], Y: params[1], Z: params[2]}
		b := ms3.Vec{X: params[3], Y: params[4], Z: params[5]}
		return distCylinder(a, b, params[6], p)
	case KindHalfSpace:
		_ = params[5]
		o := ms3.Vec{X: params[0], Y: params[1], Z: params[2]}
		n := ms3.Vec{X: params[3], Y: params[4], Z: params[5]}
		return ms3.Dot(ms3.Sub(p, o), n)
	case KindGyroid:
		_ = params[1]
		scale, thick := params[0], params[1]
		q := ms3.Scale(2*math32.Pi/scale, p)
		sx, cx := math32.Sincos(q.X)
		sy, cy := math32.Sincos(q.Y)
		sz, cz := math32.Sincos(q.Z)
		g := sx*cy + sy*cz + sz*cx
		return latticeDist(g, scale, thick)
	case KindSchwarz:
		_ = params[1]
		scale, thick := params[0], params[1]
		q := ms3.Scale(2*math32.Pi/scale, p)
		g := math32.Cos(q.X) + math32.Cos(q.Y) + math32.Cos(q.Z)
		return latticeDist(g, scale, thick)
	}
	return math32.NaN()
}

// EvalOp combines operand distances a and b at point p with operator op.
// b is ignored by unary operators. Returns NaN for invalid operators.
func EvalOp(op OpKind, prm OpParams, a, b float32, p ms3.Vec) float32 {
	switch op {
	case OpUnion:
		return minf(a, b)
	case OpIntersection:
		return maxf(a, b)
	case OpSubtraction:
		return maxf(a, -b)
	case OpOffset:
		return a - prm.Distance
	case OpLinearBlend:
		return mixf(a, b, blendWeight(prm.P1, prm.P2, p))
	case OpSmoothBlend:
		t := blendWeight(prm.P1, prm.P2, p)
		return mixf(a, b, ms1.SmoothStep(0, 1, t))
	}
	return math32.NaN()
}

// blendWeight projects p onto the segment p1-p2 and returns the clamped
// parameter t, 0 at p1 and 1 at p2. Coincident points yield 0.
func blendWeight(p1, p2, p ms3.Vec) float32 {
	axis := ms3.Sub(p2, p1)
	l2 := ms3.Dot(axis, axis)
	if l2 < epstol*epstol {
		return 0
	}
	return clampf(ms3.Dot(ms3.Sub(p, p1), axis)/l2, 0, 1)
}

func distBox(min, max, p ms3.Vec) float32 {
	c := ms3.Scale(0.5, ms3.Add(min, max))
	h := ms3.Scale(0.5, ms3.Sub(max, min))
	q := ms3.Sub(ms3.AbsElem(ms3.Sub(p, c)), h)
	return ms3.Norm(ms3.MaxElem(q, ms3.Vec{})) + minf(maxf(q.X, maxf(q.Y, q.Z)), 0)
}

// distCylinder is the exact distance to a capped cylinder with axis a-b.
func distCylinder(a, b ms3.Vec, r float32, p ms3.Vec) float32 {
	ba := ms3.Sub(b, a)
	pa := ms3.Sub(p, a)
	baba := ms3.Dot(ba, ba)
	paba := ms3.Dot(pa, ba)
	x := ms3.Norm(ms3.Sub(ms3.Scale(baba, pa), ms3.Scale(paba, ba))) - r*baba
	y := absf(paba-baba*0.5) - baba*0.5
	x2 := x * x
	y2 := y * y * baba
	var d float32
	if maxf(x, y) < 0 {
		d = -minf(x2, y2)
	} else {
		if x > 0 {
			d += x2
		}
		if y > 0 {
			d += y2
		}
	}
	return signf(d) * math32.Sqrt(absf(d)) / baba
}

func latticeDist(g, scale, thick float32) float32 {
	return absf(g)*scale/(2*math32.Pi)/latticeNorm - thick/2
}
