package flataux

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/chewxy/math32"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/geometry/ms3"
)

// maxMeshExtent bounds the region a scene may be meshed in. Unbounded scenes
// must be given explicit bounds.
const maxMeshExtent = 1e6

// SDFX adapts a flattened scene to the [sdf.SDF3] interface so it can be meshed
// and combined with sdfx shapes. It is safe for concurrent use.
type SDFX struct {
	mu    sync.Mutex
	sdf   *flateval.SceneCPU
	stack []float32
	bb    sdf.Box3
}

var _ sdf.SDF3 = (*SDFX)(nil)

// NewSDFX returns an sdfx shape evaluating s with bounding box bb.
func NewSDFX(s *flateval.SceneCPU, bb ms3.Box) (*SDFX, error) {
	if s == nil {
		return nil, errNoScene
	}
	sz := bb.Size()
	if sz.X <= 0 || sz.Y <= 0 || sz.Z <= 0 {
		return nil, errors.New("empty mesh bounds")
	}
	for _, v := range [...]float32{bb.Min.X, bb.Min.Y, bb.Min.Z, bb.Max.X, bb.Max.Y, bb.Max.Z} {
		if math32.Abs(v) > maxMeshExtent || math32.IsNaN(v) {
			return nil, errors.New("mesh bounds too large, set explicit bounds for unbounded scenes")
		}
	}
	return &SDFX{
		sdf:   s,
		stack: make([]float32, s.StackSize()),
		bb: sdf.Box3{
			Min: toV3(bb.Min),
			Max: toV3(bb.Max),
		},
	}, nil
}

func (s *SDFX) Evaluate(p v3.Vec) float64 {
	s.mu.Lock()
	d := s.sdf.EvaluatePoint(ms3.Vec{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}, s.stack)
	s.mu.Unlock()
	return float64(d)
}

func (s *SDFX) BoundingBox() sdf.Box3 { return s.bb }

// WriteSTL meshes s within bb with marching cubes of the given number of cells
// along the longest axis and writes the binary STL to w. It returns the number of triangles written.
func WriteSTL(w io.Writer, s *flateval.SceneCPU, bb ms3.Box, cells int) (int, error) {
	if cells <= 0 {
		return 0, errors.New("zero or negative mesh cells")
	}
	shape, err := NewSDFX(s, bb)
	if err != nil {
		return 0, err
	}
	triangles := render.ToTriangles(shape, render.NewMarchingCubesUniform(cells))

	var header [84]byte
	copy(header[:], "flatsdf binary STL")
	binary.LittleEndian.PutUint32(header[80:], uint32(len(triangles)))
	_, err = w.Write(header[:])
	if err != nil {
		return 0, err
	}
	var rec [50]byte
	for i, tri := range triangles {
		n := tri.Normal()
		putVec(rec[0:], n)
		for j := 0; j < 3; j++ {
			putVec(rec[12+12*j:], tri[j])
		}
		// Attribute byte count stays zero.
		_, err = w.Write(rec[:])
		if err != nil {
			return i, err
		}
	}
	return len(triangles), nil
}

func putVec(b []byte, v v3.Vec) {
	binary.LittleEndian.PutUint32(b[0:], math32.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(b[4:], math32.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(b[8:], math32.Float32bits(float32(v.Z)))
}

func toV3(v ms3.Vec) v3.Vec {
	return v3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}
