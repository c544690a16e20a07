package raster

import (
	"image"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR draws text as a QR code centered on the label canvas.
func RenderQR(text string) (*image.NRGBA, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	// The bitmap includes the quiet zone.
	modules := q.Bitmap()
	n := len(modules)
	scale := LabelHeight / n
	if scale < 1 {
		return nil, ErrQRTooLarge
	}

	img := NewCanvas()
	x0 := (LabelWidth - n*scale) / 2
	y0 := (LabelHeight - n*scale) / 2
	for my, row := range modules {
		for mx, dark := range row {
			if !dark {
				continue
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetNRGBA(x0+mx*scale+dx, y0+my*scale+dy, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
				}
			}
		}
	}
	return img, nil
}
