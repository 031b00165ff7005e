package flatrender

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Camera is a pinhole camera looking from Position toward Target.
type Camera struct {
	Position ms3.Vec
	Target   ms3.Vec
	// Up is the approximate up direction of the image. Need not be orthogonal to the view direction.
	Up ms3.Vec
	// FOV is the vertical field of view in radians.
	FOV float32
}

// DefaultCamera looks at the origin from 5 units along +Z with Y up.
func DefaultCamera() Camera {
	return Camera{
		Position: ms3.Vec{Z: 5},
		Up:       ms3.Vec{Y: 1},
		FOV:      math32.Pi / 3,
	}
}

// FitCamera returns a camera looking down -Z at the center of bb, far enough
// to see the whole box. Degenerate or unbounded boxes yield [DefaultCamera].
func FitCamera(bb ms3.Box, bound float32) Camera {
	cam := DefaultCamera()
	sz := bb.Size()
	if !finiteVec(bb.Min) || !finiteVec(bb.Max) || sz.X < 0 || sz.Y < 0 || sz.Z < 0 {
		return cam
	}
	radius := ms3.Norm(sz) / 2
	if radius <= 0 || radius > bound {
		return cam
	}
	center := bb.Center()
	dist := radius / math32.Sin(cam.FOV/2)
	cam.Target = center
	cam.Position = ms3.Add(center, ms3.Vec{Z: dist})
	return cam
}

// Validate checks the camera defines a view frame.
func (c Camera) Validate() error {
	fwd := ms3.Sub(c.Target, c.Position)
	switch {
	case !finiteVec(c.Position) || !finiteVec(c.Target) || !finiteVec(c.Up):
		return errors.New("non-finite camera vector")
	case ms3.Norm(fwd) == 0:
		return errors.New("camera target equals position")
	case ms3.Norm(ms3.Cross(fwd, c.Up)) == 0:
		return errors.New("camera up parallel to view direction")
	case c.FOV <= 0 || c.FOV >= math32.Pi:
		return errors.New("camera FOV must be within (0, π)")
	}
	return nil
}

// frame returns the orthonormal camera basis scaled to the image plane at unit distance.
func (c Camera) frame(width, height int) (fwd, right, up ms3.Vec) {
	fwd = ms3.Unit(ms3.Sub(c.Target, c.Position))
	right = ms3.Unit(ms3.Cross(fwd, c.Up))
	up = ms3.Cross(right, fwd)
	halfh := math32.Tan(c.FOV / 2)
	halfw := halfh * float32(width) / float32(height)
	return fwd, ms3.Scale(halfw, right), ms3.Scale(halfh, up)
}

// Ray returns the ray through the center of pixel (x, y) of a width×height image.
// Pixel (0, 0) is the top left corner. The direction is not normalized.
func (c Camera) Ray(x, y, width, height int) (origin, dir ms3.Vec) {
	fwd, right, up := c.frame(width, height)
	return c.Position, c.ray(fwd, right, up, x, y, width, height)
}

func (c Camera) ray(fwd, right, up ms3.Vec, x, y, width, height int) ms3.Vec {
	u := 2*(float32(x)+0.5)/float32(width) - 1
	v := 1 - 2*(float32(y)+0.5)/float32(height)
	return ms3.Add(fwd, ms3.Add(ms3.Scale(u, right), ms3.Scale(v, up)))
}

func finiteVec(v ms3.Vec) bool {
	return !math32.IsNaN(v.X+v.Y+v.Z) && !math32.IsInf(v.X+v.Y+v.Z, 0)
}
