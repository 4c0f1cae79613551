package decode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleSize(t *testing.T) {
	cases := []struct {
		name             string
		w, h, reqW, reqH int
		want             int
	}{
		{"zero bounds", 4000, 3000, 0, 0, 1},
		{"zero width bound", 4000, 3000, 0, 300, 1},
		{"halving loop", 4000, 3000, 400, 300, 8},
		{"fits already", 300, 200, 400, 300, 1},
		{"just over", 801, 601, 400, 300, 2},
		{"one side limits", 4000, 400, 400, 300, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SampleSize(tc.w, tc.h, tc.reqW, tc.reqH))
		})
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// streamOnly hides io.Seeker.
type streamOnly struct{ io.Reader }

func TestStdDownsamples(t *testing.T) {
	data := pngBytes(t, 64, 48)

	for name, r := range map[string]io.Reader{
		"seeker": bytes.NewReader(data),
		"stream": streamOnly{bytes.NewReader(data)},
	} {
		t.Run(name, func(t *testing.T) {
			img, err := Std{}.Decode(r, 8, 6)
			require.NoError(t, err)
			// 32/1>=8,24>=6 ->2; 16,12 ->4; 8,6 ->8; 4 stop
			assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
			assert.Equal(t, int64(8*6*4), ImageSize(img))
		})
	}
}

func TestStdNoBounds(t *testing.T) {
	img, err := Std{}.Decode(bytes.NewReader(pngBytes(t, 10, 7)), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 7, img.Bounds().Dy())
}

func TestStdRejectsGarbage(t *testing.T) {
	_, err := Std{}.Decode(bytes.NewReader([]byte("definitely not an image")), 10, 10)
	assert.Error(t, err)

	data := pngBytes(t, 20, 20)
	_, err = Std{}.Decode(bytes.NewReader(data[:len(data)/2]), 10, 10)
	assert.Error(t, err)
}
