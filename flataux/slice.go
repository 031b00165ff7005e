package flataux

import (
	"errors"
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/soypat/flatsdf/flateval"
	"github.com/soypat/geometry/ms3"
	"github.com/soypat/glgl/math/ms1"
)

// A great portion of logic in this file taken from Esme Lamb's (@dedelala)
// excellent color manipulation work presented at Gophercon AU 2024.
// https://github.com/dedelala/disco/tree/main/color

var red = color.RGBA{R: 255, A: 255}

// ColorConversionInigoQuilez creates a distance to color conversion in [Inigo Quilez]'s style.
// Exterior is orange, interior is blue and the surface is white. Returns red for NaN values.
// A good value for characteristic distance is the bounding box diagonal divided by 3.
//
// [Inigo Quilez]: https://iquilezles.org/articles/distfunctions2d/
func ColorConversionInigoQuilez(characteristicDistance float32) func(float32) color.Color {
	inv := 1 / characteristicDistance
	return func(d float32) color.Color {
		if math32.IsNaN(d) {
			return red
		}
		d *= inv
		var c ms3.Vec
		if d > 0 {
			c = ms3.Vec{X: 0.9, Y: 0.6, Z: 0.3}
		} else {
			c = ms3.Vec{X: 0.65, Y: 0.85, Z: 1.0}
		}
		c = ms3.Scale(1-math32.Exp(-6*math32.Abs(d)), c)
		c = ms3.Scale(0.8+0.2*math32.Cos(150*d), c)
		edge := 1 - ms1.SmoothStep(0, 0.01, math32.Abs(d))
		return color.RGBA{
			R: uint8(ms1.Interp(c.X, 1, edge) * 255),
			G: uint8(ms1.Interp(c.Y, 1, edge) * 255),
			B: uint8(ms1.Interp(c.Z, 1, edge) * 255),
			A: 255,
		}
	}
}

// RenderSlice draws the distance field on the plane z=const within the XY extent of bb.
// Image rows go from bb.Max.Y at the top to bb.Min.Y at the bottom. If conv is nil
// [ColorConversionInigoQuilez] is used with a third of the extent's diagonal.
func RenderSlice(s flateval.SDF3, img draw.Image, bb ms3.Box, z float32, conv func(float32) color.Color, userData any) error {
	imgBB := img.Bounds()
	w, h := imgBB.Dx(), imgBB.Dy()
	if w == 0 || h == 0 {
		return errors.New("empty image")
	}
	sz := bb.Size()
	if sz.X <= 0 || sz.Y <= 0 {
		return errors.New("empty slice extent")
	}
	if conv == nil {
		conv = ColorConversionInigoQuilez(math32.Hypot(sz.X, sz.Y) / 3)
	}
	dx := sz.X / float32(w)
	dy := sz.Y / float32(h)
	pos := make([]ms3.Vec, w)
	dist := make([]float32, w)
	for j := 0; j < h; j++ {
		y := bb.Max.Y - (float32(j)+0.5)*dy
		for i := range pos {
			pos[i] = ms3.Vec{X: bb.Min.X + (float32(i)+0.5)*dx, Y: y, Z: z}
		}
		err := s.Evaluate(pos, dist, userData)
		if err != nil {
			return err
		}
		for i, d := range dist {
			img.Set(imgBB.Min.X+i, imgBB.Min.Y+j, conv(d))
		}
	}
	return nil
}

// SliceImage is a convenience wrapper around [RenderSlice] returning a new image of the given size.
func SliceImage(s flateval.SDF3, width, height int, bb ms3.Box, z float32) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	err := RenderSlice(s, img, bb, z, nil, nil)
	if err != nil {
		return nil, err
	}
	return img, nil
}
