package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"certhub/internal/imaging"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeJPEGDownscalesLongEdge(t *testing.T) {
	src := encodePNG(t, 400, 200)

	out, err := imaging.ResizeJPEG(src, 100, 80)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 50, img.Bounds().Dy())
}

func TestResizeJPEGNeverUpscales(t *testing.T) {
	src := encodePNG(t, 60, 40)

	out, err := imaging.ResizeJPEG(src, 1600, 80)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 60, img.Bounds().Dx())
	require.Equal(t, 40, img.Bounds().Dy())
}

func TestResizeJPEGRejectsGarbage(t *testing.T) {
	_, err := imaging.ResizeJPEG([]byte("not an image"), 100, 80)
	require.Error(t, err)
}
