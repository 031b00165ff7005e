package flatbuild_test

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/soypat/flatsdf"
	"github.com/soypat/flatsdf/flatbuild"
	"github.com/soypat/geometry/ms3"
)

func TestPackSharedPrimitive(t *testing.T) {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	b := bld.NewBox(ms3.Vec{X: -2, Y: -2, Z: -2}, ms3.Vec{})
	root := bld.Union(bld.Offset(s, 0.5), bld.Subtraction(b, s))
	packer := flatbuild.NewDefaultPacker()
	scene, err := packer.Pack(root)
	if err != nil {
		t.Fatal(err)
	}
	if scene.NumPrimitives() != 2 {
		t.Errorf("shared sphere should be stored once, got %d primitives", scene.NumPrimitives())
	}
	wantOps := []flatsdf.OpKind{flatbuild.OpPush, flatsdf.OpOffset, flatbuild.OpPush, flatbuild.OpPush, flatsdf.OpSubtraction, flatsdf.OpUnion}
	wantPrims := []uint32{0, 0, 1, 0, 0, 0}
	if len(scene.Steps) != len(wantOps) {
		t.Fatalf("want %d steps, got %d:\n%s", len(wantOps), len(scene.Steps), scene.Format())
	}
	for j, step := range scene.Steps {
		if step.Op != wantOps[j] || step.Primitive != wantPrims[j] {
			t.Errorf("step %d: want %s %d, got %s %d", j, wantOps[j], wantPrims[j], step.Op, step.Primitive)
		}
	}
	if scene.Steps[1].Params.Distance != 0.5 {
		t.Errorf("offset distance not carried: %+v", scene.Steps[1].Params)
	}
	if scene.MaxDepth != 3 {
		t.Errorf("want max depth 3, got %d", scene.MaxDepth)
	}
	if scene.Types[0] != flatsdf.KindSphere || scene.Types[1] != flatsdf.KindBox {
		t.Errorf("unexpected types %v", scene.Types)
	}
	if scene.Offsets[0] != 0 || scene.Offsets[1] != 16 || len(scene.Params) != 16+24 {
		t.Errorf("unexpected offsets %v for %d param bytes", scene.Offsets, len(scene.Params))
	}
	got := scene.AppendParams(nil, 1)
	if !reflect.DeepEqual(got, []float32{-2, -2, -2, 0, 0, 0}) {
		t.Errorf("box params decoded incorrectly: %v", got)
	}
	if err := scene.Validate(); err != nil {
		t.Error(err)
	}
	if scene.Bounds != root.Bounds() {
		t.Errorf("scene bounds %+v differ from root bounds %+v", scene.Bounds, root.Bounds())
	}
}

func TestPackIdempotent(t *testing.T) {
	root := testScene()
	packer := flatbuild.NewDefaultPacker()
	s1, err := packer.Pack(root)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := packer.Pack(root)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s1.Params, s2.Params) {
		t.Error("params differ between packs")
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Error("scenes differ between packs")
	}
	// Reusing a scene must give identical results as well.
	err = packer.AppendScene(s2, root)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Error("scene differs after AppendScene reuse")
	}
}

func TestPackDepth(t *testing.T) {
	var bld flatsdf.Builder
	prims := make([]flatsdf.Entity, 6)
	for i := range prims {
		prims[i] = bld.NewSphere(ms3.Vec{X: float32(i)}, 1)
	}
	// Right leaning chain needs one stack slot per operand.
	right := prims[len(prims)-1]
	for i := len(prims) - 2; i >= 0; i-- {
		right = bld.Union(prims[i], right)
	}
	left := prims[0]
	for i := 1; i < len(prims); i++ {
		left = bld.Union(left, prims[i])
	}
	var packer flatbuild.Packer
	err := packer.Configure(flatbuild.PackerConfig{MaxDepth: 4, MaxSteps: 100})
	if err != nil {
		t.Fatal(err)
	}
	_, err = packer.Pack(right)
	if !errors.Is(err, flatbuild.ErrUnboundedDepth) {
		t.Errorf("want unbounded depth error, got %v", err)
	}
	scene, err := packer.Pack(left)
	if err != nil {
		t.Fatal(err)
	}
	if scene.MaxDepth != 2 {
		t.Errorf("left leaning chain: want depth 2, got %d", scene.MaxDepth)
	}
	err = packer.Configure(flatbuild.PackerConfig{MaxDepth: 4, MaxSteps: 5})
	if err != nil {
		t.Fatal(err)
	}
	_, err = packer.Pack(left)
	if !errors.Is(err, flatbuild.ErrTooManySteps) {
		t.Errorf("want too many steps error, got %v", err)
	}
}

// badComposite lets tests build graphs the Builder refuses to create.
type badComposite struct {
	op       flatsdf.OpKind
	children []flatsdf.Entity
}

func (c *badComposite) ForEachChild(userData any, fn func(userData any, e flatsdf.Entity) error) error {
	for _, child := range c.children {
		if err := fn(userData, child); err != nil {
			return err
		}
	}
	return nil
}

func (c *badComposite) Bounds() ms3.Box { return ms3.Box{} }

func (c *badComposite) Op() flatsdf.OpKind { return c.op }

func (c *badComposite) OpParams() flatsdf.OpParams { return flatsdf.OpParams{} }

func (c *badComposite) Evaluate(pos []ms3.Vec, dist []float32, userData any) error { return nil }

func TestPackMalformed(t *testing.T) {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	packer := flatbuild.NewDefaultPacker()

	_, err := packer.Pack(&badComposite{op: flatsdf.OpUnion, children: []flatsdf.Entity{s}})
	if !errors.Is(err, flatbuild.ErrArityMismatch) {
		t.Errorf("want arity mismatch, got %v", err)
	}
	cyclic := &badComposite{op: flatsdf.OpUnion}
	cyclic.children = []flatsdf.Entity{s, bld.Offset(cyclic, 1)}
	_, err = packer.Pack(cyclic)
	if !errors.Is(err, flatbuild.ErrCycle) {
		t.Errorf("want cycle error, got %v", err)
	}
	_, err = packer.Pack(nil)
	if err == nil {
		t.Error("want error packing nil entity")
	}
	_, err = packer.Pack(&badComposite{op: flatsdf.OpUnion, children: []flatsdf.Entity{s, nil}})
	if err == nil {
		t.Error("want error packing nil child")
	}
	// Packer must remain usable after errors.
	scene, err := packer.Pack(bld.Union(s, s))
	if err != nil {
		t.Fatal(err)
	}
	if len(scene.Steps) != 3 || scene.NumPrimitives() != 1 {
		t.Errorf("unexpected scene after errors:\n%s", scene.Format())
	}
}

func TestPackSelfSharedChain(t *testing.T) {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	e := s
	for i := 0; i < 48; i++ {
		e = bld.Union(e, e)
	}
	// Each level doubles the program so packing must stop at the step limit.
	_, err := flatbuild.NewDefaultPacker().Pack(e)
	if !errors.Is(err, flatbuild.ErrTooManySteps) {
		t.Errorf("want too many steps error, got %v", err)
	}
	small := s
	for i := 0; i < 8; i++ {
		small = bld.Union(small, small)
	}
	scene, err := flatbuild.NewDefaultPacker().Pack(small)
	if err != nil {
		t.Fatal(err)
	}
	if len(scene.Steps) != 1<<9-1 || scene.NumPrimitives() != 1 {
		t.Errorf("want %d steps and 1 primitive, got %d and %d", 1<<9-1, len(scene.Steps), scene.NumPrimitives())
	}
	if scene.Bounds != s.Bounds() {
		t.Errorf("scene bounds %+v differ from sphere bounds %+v", scene.Bounds, s.Bounds())
	}
}

// slicePrimitive is a valid primitive whose dynamic type cannot be a map key.
type slicePrimitive struct {
	params []float32
}

func (p slicePrimitive) ForEachChild(userData any, fn func(userData any, e flatsdf.Entity) error) error {
	return nil
}

func (p slicePrimitive) Bounds() ms3.Box { return ms3.Box{Max: ms3.Vec{X: 1, Y: 1, Z: 1}} }

func (p slicePrimitive) Evaluate(pos []ms3.Vec, dist []float32, userData any) error { return nil }

func (p slicePrimitive) Kind() flatsdf.Kind { return flatsdf.KindSphere }

func (p slicePrimitive) AppendParams(dst []float32) []float32 { return append(dst, p.params...) }

func TestPackIncomparable(t *testing.T) {
	var bld flatsdf.Builder
	prim := slicePrimitive{params: []float32{0, 0, 0, 1}}
	packer := flatbuild.NewDefaultPacker()
	_, err := packer.Pack(prim)
	if err == nil {
		t.Error("want error packing incomparable primitive")
	}
	_, err = packer.Pack(bld.Union(bld.NewSphere(ms3.Vec{}, 1), prim))
	if err == nil {
		t.Error("want error packing incomparable operand")
	}
	_, err = packer.Pack(&slicePrimitive{params: prim.params})
	if err != nil {
		t.Errorf("pointer to primitive should pack: %v", err)
	}
}

func TestValidate(t *testing.T) {
	scene, err := flatbuild.NewDefaultPacker().Pack(testScene())
	if err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name    string
		corrupt func(s *flatbuild.Scene)
	}{
		{name: "underflow", corrupt: func(s *flatbuild.Scene) { s.Steps = s.Steps[1:] }},
		{name: "leftover", corrupt: func(s *flatbuild.Scene) { s.Steps = s.Steps[:len(s.Steps)-1] }},
		{name: "index", corrupt: func(s *flatbuild.Scene) { s.Steps[0].Primitive = 100 }},
		{name: "operator", corrupt: func(s *flatbuild.Scene) { s.Steps[len(s.Steps)-1].Op = 200 }},
		{name: "type", corrupt: func(s *flatbuild.Scene) { s.Types[0] = 0 }},
		{name: "offset", corrupt: func(s *flatbuild.Scene) { s.Offsets[len(s.Offsets)-1] += 4 }},
		{name: "params", corrupt: func(s *flatbuild.Scene) { s.Params = s.Params[:len(s.Params)-4] }},
		{name: "depth", corrupt: func(s *flatbuild.Scene) { s.MaxDepth = 1 }},
		{name: "empty", corrupt: func(s *flatbuild.Scene) { s.Steps = nil }},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := cloneScene(scene)
			test.corrupt(s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFormat(t *testing.T) {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	scene, err := flatbuild.NewDefaultPacker().Pack(bld.LinearBlend(s, bld.Offset(s, -0.25), ms3.Vec{}, ms3.Vec{X: 1}))
	if err != nil {
		t.Fatal(err)
	}
	const want = "0\tpush 0 sphere(0,0,0,1)\n" +
		"1\tpush 0 sphere(0,0,0,1)\n" +
		"2\toffset(-0.25)\n" +
		"3\tlinblend(0,0,0,1,0,0)\n"
	if got := scene.Format(); got != want {
		t.Errorf("want\n%s\ngot\n%s", want, got)
	}
}

func TestWriteCompute(t *testing.T) {
	scene, err := flatbuild.NewDefaultPacker().Pack(testScene())
	if err != nil {
		t.Fatal(err)
	}
	prog := flatbuild.NewDefaultProgrammer()
	var buf bytes.Buffer
	n, err := prog.WriteComputeEvaluate(&buf, scene)
	if err != nil {
		t.Fatal(err)
	} else if n != buf.Len() {
		t.Fatal("written length mismatch")
	}
	src := buf.String()
	for _, want := range []string{
		flatbuild.VersionStr,
		"#define FLAT_MAXDEPTH 4\n",
		"#define FLAT_OP_SMOOTHBLEND 6u\n",
		"#define FLAT_KIND_SCHWARZ 6u\n",
		"float flatEval(vec3 p)",
		"float flatCylinder(",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("evaluate program missing %q", want)
		}
	}
	if strings.Contains(src, "flatTrace") {
		t.Error("evaluate program should not contain tracer")
	}
	if !strings.HasPrefix(src, flatbuild.VersionStr) {
		t.Error("version directive must be first")
	}

	buf.Reset()
	params := flatbuild.TraceParams{
		MaxIterations: 64, Tolerance: 1e-4, Bound: 20, MinBoundSteps: 5,
		GradientStep: 1e-3, Background: 0xff101010, Dark: 0.2, Light: 0.9,
	}
	_, err = prog.WriteComputeTrace(&buf, scene, params)
	if err != nil {
		t.Fatal(err)
	}
	src = buf.String()
	for _, want := range []string{
		"#define FLAT_MAXITER 64\n",
		"#define FLAT_TOLERANCE 0.0001\n",
		"#define FLAT_BOUND 20.0\n",
		"#define FLAT_BACKGROUND 0xff101010u\n",
		"uint flatTrace(vec3 pt, vec3 dir)",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("trace program missing %q", want)
		}
	}
	params.MaxIterations = 0
	_, err = prog.WriteComputeTrace(&buf, scene, params)
	if err == nil {
		t.Error("expected error for invalid trace params")
	}
}

func TestGPUBuffers(t *testing.T) {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	scene, err := flatbuild.NewDefaultPacker().Pack(bld.SmoothBlend(s, s, ms3.Vec{X: 1}, ms3.Vec{Y: 2}))
	if err != nil {
		t.Fatal(err)
	}
	words := scene.AppendGPUSteps(nil)
	if len(words) != flatbuild.GPUStepWords*len(scene.Steps) {
		t.Fatalf("want %d words, got %d", flatbuild.GPUStepWords*len(scene.Steps), len(words))
	}
	last := words[2*flatbuild.GPUStepWords:]
	if last[0] != uint32(flatsdf.OpSmoothBlend) || last[4] != 0x3f800000 || last[9] != 0x40000000 {
		t.Errorf("unexpected blend step words %x", last)
	}
	types := scene.AppendGPUTypes(nil)
	if len(types) != 1 || types[0] != uint32(flatsdf.KindSphere) {
		t.Errorf("unexpected types %v", types)
	}
}

func TestAppendFloat(t *testing.T) {
	for _, test := range []struct {
		v    float32
		want string
	}{
		{v: 1, want: "1.0"},
		{v: -0.5, want: "n0p5"},
		{v: 0.0001, want: "0p0001"},
		{v: 20, want: "20.0"},
	} {
		neg, dec := byte('-'), byte('.')
		if strings.ContainsAny(test.want, "np") {
			neg, dec = 'n', 'p'
		}
		got := string(flatbuild.AppendFloat(nil, neg, dec, test.v))
		if got != test.want {
			t.Errorf("AppendFloat(%g): want %q, got %q", test.v, test.want, got)
		}
	}
}

func testScene() flatsdf.Entity {
	var bld flatsdf.Builder
	s := bld.NewSphere(ms3.Vec{}, 1)
	cyl := bld.NewCylinder(ms3.Vec{Z: -2}, ms3.Vec{Z: 2}, 0.5)
	lattice := bld.Intersection(bld.NewGyroid(0.5, 0.05), bld.NewBox(ms3.Vec{X: -1, Y: -1, Z: -1}, ms3.Vec{X: 1, Y: 1, Z: 1}))
	half := bld.NewHalfSpace(ms3.Vec{}, ms3.Vec{X: 1, Y: 1})
	blend := bld.SmoothBlend(s, lattice, ms3.Vec{X: -1}, ms3.Vec{X: 1})
	return bld.Union(
		bld.Subtraction(blend, cyl),
		bld.Intersection(half, bld.LinearBlend(bld.Offset(s, 0.2), bld.NewSchwarz(1, 0.1), ms3.Vec{}, ms3.Vec{Y: 1})),
	)
}

func cloneScene(s *flatbuild.Scene) *flatbuild.Scene {
	c := *s
	c.Params = append([]byte(nil), s.Params...)
	c.Offsets = append([]uint32(nil), s.Offsets...)
	c.Types = append([]flatsdf.Kind(nil), s.Types...)
	c.Steps = append([]flatbuild.Step(nil), s.Steps...)
	return &c
}
