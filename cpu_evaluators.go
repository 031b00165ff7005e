package flatsdf

import (
	"errors"

	"github.com/soypat/geometry/ms3"
)

var errMismatchBufferLength = errors.New("position and distance buffer length mismatch")

// FloatPool provides scratch distance buffers to the recursive evaluators.
// It is passed as the userData argument of [Entity.Evaluate]. When userData does not
// implement FloatPool the evaluators allocate their own buffers.
type FloatPool interface {
	AcquireFloat(length int) []float32
	ReleaseFloat(buf []float32)
}

func acquireFloat(userData any, n int) []float32 {
	if fp, ok := userData.(FloatPool); ok {
		return fp.AcquireFloat(n)
	}
	return make([]float32, n)
}

func releaseFloat(userData any, buf []float32) {
	if fp, ok := userData.(FloatPool); ok {
		fp.ReleaseFloat(buf)
	}
}

// evalPrimitive evaluates a primitive over pos using the same formulas as the flattened evaluator.
func evalPrimitive(p Primitive, pos []ms3.Vec, dist []float32) error {
	if len(pos) != len(dist) {
		return errMismatchBufferLength
	}
	var buf [MaxParams]float32
	params := p.AppendParams(buf[:0])
	kind := p.Kind()
	for i, v := range pos {
		dist[i] = EvalPrimitive(kind, params, v)
	}
	return nil
}

func (s *box) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return evalPrimitive(s, pos, dist)
}

func (s *sphere) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return evalPrimitive(s, pos, dist)
}

func (s *cylinder) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return evalPrimitive(s, pos, dist)
}

func (s *halfspace) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return evalPrimitive(s, pos, dist)
}

func (l *lattice) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	return evalPrimitive(l, pos, dist)
}

// Evaluate recursively evaluates the operands and combines them. Composites
// referenced more than once in the graph are evaluated once per call.
func (c *composite) Evaluate(pos []ms3.Vec, dist []float32, userData any) error {
	if len(pos) != len(dist) {
		return errMismatchBufferLength
	}
	ev := compositeEval{refs: make(map[*composite]int), userData: userData}
	ev.countRefs(c)
	err := ev.eval(c, pos, dist)
	for _, buf := range ev.memo {
		releaseFloat(userData, buf)
	}
	return err
}

// compositeEval holds the state of a single top level composite evaluation.
type compositeEval struct {
	// refs counts the pending references to each composite.
	refs     map[*composite]int
	memo     map[*composite][]float32
	userData any
}

func (ev *compositeEval) countRefs(c *composite) {
	ev.refs[c]++
	if ev.refs[c] > 1 {
		return
	}
	for _, e := range [2]Entity{c.a, c.b} {
		if child, ok := e.(*composite); ok {
			ev.countRefs(child)
		}
	}
}

func (ev *compositeEval) evalEntity(e Entity, pos []ms3.Vec, dist []float32) error {
	if c, ok := e.(*composite); ok {
		return ev.eval(c, pos, dist)
	}
	return e.Evaluate(pos, dist, ev.userData)
}

func (ev *compositeEval) eval(c *composite, pos []ms3.Vec, dist []float32) error {
	ev.refs[c]--
	pending := ev.refs[c]
	if buf, ok := ev.memo[c]; ok {
		copy(dist, buf)
		if pending == 0 {
			delete(ev.memo, c)
			releaseFloat(ev.userData, buf)
		}
		return nil
	}
	err := ev.evalOp(c, pos, dist)
	if err != nil || pending == 0 {
		return err
	}
	buf := acquireFloat(ev.userData, len(dist))
	copy(buf, dist)
	if ev.memo == nil {
		ev.memo = make(map[*composite][]float32)
	}
	ev.memo[c] = buf
	return nil
}

func (ev *compositeEval) evalOp(c *composite, pos []ms3.Vec, dist []float32) error {
	err := ev.evalEntity(c.a, pos, dist)
	if err != nil {
		return err
	}
	if c.b == nil {
		for i, p := range pos {
			dist[i] = EvalOp(c.op, c.prm, dist[i], 0, p)
		}
		return nil
	}
	d2 := acquireFloat(ev.userData, len(dist))
	defer releaseFloat(ev.userData, d2)
	err = ev.evalEntity(c.b, pos, d2)
	if err != nil {
		return err
	}
	for i, p := range pos {
		dist[i] = EvalOp(c.op, c.prm, dist[i], d2[i], p)
	}
	return nil
}
