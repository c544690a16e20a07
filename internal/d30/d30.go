// Package d30 builds the raster payloads understood by the Phomemo D30 label printer.
package d30

import (
	"image"
	"image/color"
)

// MaxBandRows is the number of rows one payload may carry.
// The row count travels in a single byte on the wire.
const MaxBandRows = 255

// Threshold is the red channel cutoff; values above it print a dot.
const Threshold = 127

// Preamble precedes the bitmap bytes of every payload (1f1124001b401d7630000c004001).
var Preamble = [14]byte{31, 17, 36, 0, 27, 64, 29, 118, 48, 0, 12, 0, 64, 1}

// Band is a half-open row range [Start, End) of a raster.
type Band struct {
	Start int
	End   int
}

// Rows returns the band height
func (b Band) Rows() int {
	return b.End - b.Start
}

// Rect returns the band as a rectangle spanning the given image bounds
func (b Band) Rect(bounds image.Rectangle) image.Rectangle {
	return image.Rect(bounds.Min.X, bounds.Min.Y+b.Start, bounds.Max.X, bounds.Min.Y+b.End)
}

// Bands partitions [0, height) into consecutive bands of at most MaxBandRows rows.
func Bands(height int) []Band {
	if height <= 0 {
		return nil
	}
	bands := make([]Band, 0, (height+MaxBandRows-1)/MaxBandRows)
	for start := 0; start < height; start += MaxBandRows {
		end := start + MaxBandRows
		if end > height {
			end = height
		}
		bands = append(bands, Band{Start: start, End: end})
	}
	return bands
}

// RowBytes returns the packed size of one row. Columns past the last
// complete group of 8 are not encoded.
func RowBytes(width int) int {
	if width <= 0 {
		return 0
	}
	return width / 8
}

// EncodeBand binarizes and packs img row by row, MSB first.
func EncodeBand(img image.Image) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	rowBytes := RowBytes(w)
	if rowBytes == 0 || h <= 0 {
		return []byte{}
	}

	red := redReader(img)
	out := make([]byte, rowBytes*h)
	for y := 0; y < h; y++ {
		row := out[y*rowBytes : (y+1)*rowBytes]
		for i := range row {
			var b byte
			for bit := 0; bit < 8; bit++ {
				if red(bounds.Min.X+i*8+bit, bounds.Min.Y+y) > Threshold {
					b |= 1 << (7 - bit)
				}
			}
			row[i] = b
		}
	}
	return out
}

// Payload returns Preamble followed by the packed band.
func Payload(img image.Image) []byte {
	packed := EncodeBand(img)
	out := make([]byte, 0, len(Preamble)+len(packed))
	out = append(out, Preamble[:]...)
	return append(out, packed...)
}

// redReader returns a function reading the non-premultiplied red channel.
func redReader(img image.Image) func(x, y int) uint8 {
	switch m := img.(type) {
	case *image.NRGBA:
		return func(x, y int) uint8 {
			return m.Pix[m.PixOffset(x, y)]
		}
	case *image.RGBA:
		return func(x, y int) uint8 {
			i := m.PixOffset(x, y)
			a := m.Pix[i+3]
			if a == 0xff {
				return m.Pix[i]
			}
			return color.NRGBAModel.Convert(m.RGBAAt(x, y)).(color.NRGBA).R
		}
	case *image.Gray:
		return func(x, y int) uint8 {
			return m.Pix[m.PixOffset(x, y)]
		}
	}
	return func(x, y int) uint8 {
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA).R
	}
}
