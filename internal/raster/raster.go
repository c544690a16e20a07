// Package raster renders label content into the image the D30 prints.
//
// Bright pixels are ink: the printer's encoder sets a dot where the red
// channel is above its threshold, so labels are drawn light on black.
package raster

import (
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"d30-print/internal/d30"
)

// Label canvas before rotation, in dots.
const (
	LabelWidth  = 320
	LabelHeight = 96
	Margin      = 15
)

// Common errors
var (
	ErrFontNotFound = errors.New("font not found")
	ErrEmptyText    = errors.New("label text is empty")
	ErrQRTooLarge   = errors.New("text does not fit in a QR code on this label")
)

// Options selects what goes on the label.
type Options struct {
	Text      string
	Font      string // name or path, empty for the embedded font
	QR        bool
	ImagePath string
	Dither    bool
}

// Label renders the label described by opts, rotated into feed orientation.
func Label(opts Options) (image.Image, error) {
	var (
		canvas image.Image
		err    error
	)
	switch {
	case opts.ImagePath != "":
		var src image.Image
		src, err = LoadImage(opts.ImagePath)
		if err == nil {
			canvas = RenderImage(src, opts.Dither)
		}
	case opts.QR:
		canvas, err = RenderQR(opts.Text)
	default:
		f, ferr := LoadFont(opts.Font)
		if ferr != nil {
			return nil, ferr
		}
		canvas, err = RenderText(opts.Text, f)
	}
	if err != nil {
		return nil, err
	}
	return Rotate270(canvas), nil
}

// LoadImage loads an image from file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// NewCanvas returns an all-blank label canvas
func NewCanvas() *image.NRGBA {
	return imaging.New(LabelWidth, LabelHeight, color.Black)
}

// RenderImage fits img into the label canvas so that dark pixels print.
// Transparent areas stay blank.
func RenderImage(img image.Image, useDither bool) *image.NRGBA {
	fitted := imaging.Fit(img, LabelWidth, LabelHeight, imaging.Lanczos)
	b := fitted.Bounds()
	flat := imaging.Overlay(imaging.New(b.Dx(), b.Dy(), color.White), fitted, image.Point{}, 1.0)

	var gray image.Image = imaging.Grayscale(flat)
	if useDither {
		d := dither.NewDitherer([]color.Color{color.Black, color.White})
		d.Matrix = dither.FloydSteinberg
		gray = d.DitherCopy(gray)
	}

	return imaging.PasteCenter(NewCanvas(), imaging.Invert(gray))
}

// Rotate270 rotates img 270 degrees clockwise into feed orientation.
func Rotate270(img image.Image) *image.NRGBA {
	return imaging.Rotate90(img)
}

// Preview renders what the printer will put on paper: black dots on white.
// Columns the encoder drops are left white.
func Preview(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i := range out.Pix {
		out.Pix[i] = 0xff
	}

	packed := d30.EncodeBand(img)
	rowBytes := d30.RowBytes(b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < rowBytes*8; x++ {
			bit := (packed[y*rowBytes+x/8] >> (7 - x%8)) & 1
			if bit == 1 {
				out.SetGray(x, y, color.Gray{0})
			}
		}
	}
	return out
}
