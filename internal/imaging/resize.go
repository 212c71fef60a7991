// Package imaging produces the compressed derivative stored next to each raw
// upload.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ResizeJPEG decodes src (jpeg/png/webp), scales its long edge down to
// maxEdge when larger (never upscales), and re-encodes as JPEG at the given
// quality.
func ResizeJPEG(src []byte, maxEdge, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if maxEdge > 0 && long > maxEdge {
		scale := float64(maxEdge) / float64(long)
		w = int(float64(w)*scale + 0.5)
		h = int(float64(h)*scale + 0.5)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}
