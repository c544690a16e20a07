package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	findfont "github.com/flopp/go-findfont"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// measureSize is the point size text is measured at before fitting.
const measureSize = 100.0

// LoadFont returns the embedded Go Regular font for an empty name. Otherwise
// name is looked up among the system fonts first and then read as a path.
func LoadFont(name string) (*truetype.Font, error) {
	if name == "" {
		return truetype.Parse(goregular.TTF)
	}

	path, err := findfont.Find(name)
	if err != nil {
		if _, statErr := os.Stat(name); statErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrFontNotFound, name)
		}
		path = name
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return f, nil
}

// textSize returns the advance width and line height of text at size points.
func textSize(f *truetype.Font, text string, size float64) (w, h float64) {
	face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72})
	defer face.Close()

	m := face.Metrics()
	w = float64(font.MeasureString(face, text)) / 64
	h = float64(m.Ascent+m.Descent) / 64
	return w, h
}

// FitSize returns the largest point size at which text fits the canvas
// inside the margins.
func FitSize(f *truetype.Font, text string) float64 {
	w, h := textSize(f, text, measureSize)

	scaleX := math.Inf(1)
	if w > 0 {
		scaleX = (LabelWidth - 2*Margin) / w
	}
	scaleY := (LabelHeight - 2*Margin) / h

	size := measureSize*math.Min(scaleX, scaleY) - 1
	return math.Max(size, 1)
}

// RenderText draws text centered on the label canvas, scaled to fit.
func RenderText(text string, f *truetype.Font) (*image.NRGBA, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	size := FitSize(f, text)
	w, h := textSize(f, text, size)

	face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72})
	ascent := float64(face.Metrics().Ascent) / 64
	face.Close()

	img := NewCanvas()

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(image.NewUniform(color.White))
	c.SetHinting(font.HintingFull)

	x := (LabelWidth - w) / 2
	y := (LabelHeight-h)/2 + ascent
	if _, err := c.DrawString(text, freetype.Pt(int(x), int(y))); err != nil {
		return nil, err
	}
	return img, nil
}
