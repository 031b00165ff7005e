package flatrender

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// ImageFormat selects the encoding of an exported frame.
type ImageFormat uint8

const (
	FormatPNG ImageFormat = iota + 1
	FormatBMP
)

// FormatFromFilename selects the image format from the file extension.
func FormatFromFilename(filename string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	}
	return 0, fmt.Errorf("unsupported image extension %q, want .png or .bmp", filepath.Ext(filename))
}

// EncodeImage writes img to w in the given format.
func EncodeImage(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	}
	return errors.New("invalid image format")
}

// WriteImageFile encodes img to filename choosing the format by extension.
func WriteImageFile(filename string, img image.Image) error {
	format, err := FormatFromFilename(filename)
	if err != nil {
		return err
	}
	fp, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer fp.Close()
	err = EncodeImage(fp, img, format)
	if err != nil {
		return err
	}
	return fp.Sync()
}

var captionFace = sync.OnceValues(func() (font.Face, error) {
	ttf, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(ttf, &truetype.Options{Size: 12, DPI: 72, Hinting: font.HintingFull}), nil
})

// DrawCaption writes a single line of text in the top left corner of img over a dark band.
func DrawCaption(img draw.Image, text string) error {
	face, err := captionFace()
	if err != nil {
		return err
	}
	metrics := face.Metrics()
	bb := img.Bounds()
	const margin = 4
	band := image.Rect(bb.Min.X, bb.Min.Y, bb.Max.X, bb.Min.Y+metrics.Height.Ceil()+2*margin).Intersect(bb)
	draw.Draw(img, band, image.NewUniform(color.RGBA{A: 200}), image.Point{}, draw.Over)
	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(bb.Min.X+margin, bb.Min.Y+margin+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
	return nil
}
