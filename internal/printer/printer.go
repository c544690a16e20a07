// Package printer streams a raster to the D30 band by band.
package printer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"d30-print/internal/d30"
	"d30-print/internal/logger"
)

// Common errors
var (
	ErrPrintFailed = errors.New("print failed")
	ErrEmptyRaster = errors.New("raster has no pixels")
	ErrNotOpen     = errors.New("printer port not open")
)

// Writer delivers one payload and returns once the transport confirmed it.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// Print sends img to w as consecutive bands of at most d30.MaxBandRows rows.
// Bands are written strictly in order; the first failure aborts the job.
func Print(ctx context.Context, img image.Image, w Writer) error {
	bounds := img.Bounds()
	if bounds.Empty() {
		return fault.Wrap(ErrEmptyRaster, ftag.With(ftag.InvalidArgument))
	}

	log := logger.With(zap.String("job", uuid.NewString()))
	bands := d30.Bands(bounds.Dy())
	log.Info("Printing label",
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("bands", len(bands)))

	for i, band := range bands {
		if err := ctx.Err(); err != nil {
			return fault.Wrap(err, fmsg.With(fmt.Sprintf("band %d", i)), ftag.With(ftag.Cancelled))
		}

		payload := d30.Payload(crop(img, band.Rect(bounds)))
		log.Debug("Sending band",
			zap.Int("band", i),
			zap.Int("row", band.Start),
			zap.Int("rows", band.Rows()),
			zap.Int("bytes", len(payload)))

		if err := w.Write(ctx, payload); err != nil {
			return fault.Wrap(fmt.Errorf("%w: %w", ErrPrintFailed, err),
				fmsg.With(fmt.Sprintf("band %d of %d", i+1, len(bands))),
			)
		}
	}

	log.Info("Label sent")
	return nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop returns the part of img inside r without copying when possible.
func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, r.Min, draw.Src)
	return dst
}
