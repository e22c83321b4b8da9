// Package cover normalises uploaded book cover images.
package cover

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/erazemk/knjiznica/internal/apperr"
)

// Covers are fitted into a portrait box of MaxWidth x MaxHeight.
const (
	MaxWidth  = 600
	MaxHeight = 900
)

// MaxUploadSize is the largest accepted upload in bytes.
const MaxUploadSize = 5 << 20

// JPEGQuality is the compression quality of stored covers.
const JPEGQuality = 85

// MIME is the type of every stored cover.
const MIME = "image/jpeg"

var accepted = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Normalize reads an uploaded JPEG or PNG, flattens any transparency onto
// white, shrinks it to fit the cover box and re-encodes it as JPEG.
func Normalize(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading cover: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, apperr.Validation("cover image is too large", map[string]any{"max_bytes": MaxUploadSize})
	}

	// The client's Content-Type is not trusted.
	detected := http.DetectContentType(data)
	if !accepted[detected] {
		return nil, apperr.Validation("cover must be a JPEG or PNG image", map[string]any{"detected": detected})
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("cover image could not be decoded", map[string]any{"error": err.Error()})
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), MaxWidth, MaxHeight)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding cover: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h down to fit inside maxW x maxH, keeping the aspect ratio.
// Images already inside the box keep their size.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}
