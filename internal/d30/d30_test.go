package d30

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ink   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	blank = color.RGBA{A: 255}
)

func rowImage(bits []int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, len(bits), 1))
	for x, b := range bits {
		if b == 1 {
			img.Set(x, 0, ink)
		} else {
			img.Set(x, 0, blank)
		}
	}
	return img
}

func TestPreamble(t *testing.T) {
	assert.Equal(t, []byte{0x1f, 0x11, 0x24, 0x00, 0x1b, 0x40, 0x1d, 0x76, 0x30, 0x00, 0x0c, 0x00, 0x40, 0x01}, Preamble[:])
}

func TestBands(t *testing.T) {
	testCases := []struct {
		name   string
		height int
		want   []Band
	}{
		{"Empty", 0, nil},
		{"Negative", -3, nil},
		{"Single", 1, []Band{{0, 1}}},
		{"Exact", 255, []Band{{0, 255}}},
		{"JustOver", 256, []Band{{0, 255}, {255, 256}}},
		{"Label", 320, []Band{{0, 255}, {255, 320}}},
		{"TwoFull", 510, []Band{{0, 255}, {255, 510}}},
		{"Three", 600, []Band{{0, 255}, {255, 510}, {510, 600}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Bands(tc.height))
		})
	}
}

func TestBandsPartitionHeight(t *testing.T) {
	for h := 1; h <= 1200; h++ {
		bands := Bands(h)
		require.Len(t, bands, (h+MaxBandRows-1)/MaxBandRows, "height %d", h)

		next := 0
		for _, b := range bands {
			require.Equal(t, next, b.Start)
			require.LessOrEqual(t, b.Rows(), MaxBandRows)
			require.Greater(t, b.Rows(), 0)
			next = b.End
		}
		require.Equal(t, h, next)
	}
}

func TestEncodeBandBitOrder(t *testing.T) {
	img := rowImage([]int{1, 0, 1, 0, 1, 0, 1, 0, 1, 1})

	out := EncodeBand(img)

	require.Len(t, out, 1)
	assert.Equal(t, byte(0b10101010), out[0])
}

func TestEncodeBandThreshold(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 1))
	reds := []uint8{0, 127, 128, 255, 126, 200, 127, 128}
	for x, r := range reds {
		// Green and blue never influence the result.
		img.Set(x, 0, color.RGBA{R: r, G: 255 - r, B: 255, A: 255})
	}

	assert.Equal(t, []byte{0b00110101}, EncodeBand(img))
}

func TestEncodeBandTruncatesTrailingColumns(t *testing.T) {
	for w := 1; w <= 40; w++ {
		img := image.NewRGBA(image.Rect(0, 0, w, 3))
		for y := 0; y < 3; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, blank)
			}
		}
		base := EncodeBand(img)
		assert.Len(t, base, (w/8)*3, "width %d", w)

		for y := 0; y < 3; y++ {
			for x := (w / 8) * 8; x < w; x++ {
				img.Set(x, y, ink)
			}
		}
		assert.Equal(t, base, EncodeBand(img), "width %d", w)
	}
}

func TestEncodeBandRowMajor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, blank)
		}
	}
	img.Set(0, 0, ink)
	img.Set(15, 0, ink)
	img.Set(7, 1, ink)
	img.Set(8, 1, ink)

	assert.Equal(t, []byte{0x80, 0x01, 0x01, 0x80}, EncodeBand(img))
}

func TestEncodeBandDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 96, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x*7 + y*13) % 256), A: 255})
		}
	}

	assert.Equal(t, EncodeBand(img), EncodeBand(img))
}

func TestEncodeBandSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, blank)
		}
	}
	img.Set(0, 2, ink)

	sub := img.SubImage(image.Rect(0, 2, 8, 4))

	assert.Equal(t, []byte{0x80, 0x00}, EncodeBand(sub))
}

func TestEncodeBandGenericImage(t *testing.T) {
	gray := image.NewGray16(image.Rect(0, 0, 8, 1))
	gray.Set(0, 0, color.White)
	gray.Set(1, 0, color.Black)
	gray.Set(2, 0, color.Gray16{Y: 0x8000})

	assert.Equal(t, []byte{0b10100000}, EncodeBand(gray))
}

func TestEncodeBandNarrowImage(t *testing.T) {
	assert.Empty(t, EncodeBand(rowImage([]int{1, 1, 1})))
}

func TestPayload(t *testing.T) {
	img := rowImage([]int{1, 1, 1, 1, 0, 0, 0, 0})

	out := Payload(img)

	require.Len(t, out, len(Preamble)+1)
	assert.Equal(t, Preamble[:], out[:len(Preamble)])
	assert.Equal(t, byte(0xf0), out[len(Preamble)])
}
