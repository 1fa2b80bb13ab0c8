// Package imagecodec prepares images for the radio link and validates them on arrival.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

var (
	ErrUnrecognizedImage = errors.New("imagecodec: unrecognized image data")
	ErrEmptyImage        = errors.New("imagecodec: empty image")
)

// Options control sender-side preprocessing.
type Options struct {
	Grayscale  bool
	Downsample bool
	Quality    int
}

// DefaultOptions shrinks a capture to grayscale at half resolution.
func DefaultOptions() Options {
	return Options{Grayscale: true, Downsample: true, Quality: 90}
}

// EncodeFile reads an image from disk and returns its prepared JPEG bytes.
func EncodeFile(path string, opts Options) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imagecodec: read %s: %w", path, err)
	}
	return Encode(raw, opts)
}

// Encode decodes any registered format and re-encodes it as JPEG.
func Encode(raw []byte, opts Options) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedImage, err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if opts.Grayscale {
		img = toGray(img)
	}
	if opts.Downsample {
		img = halve(img)
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imagecodec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// halve scales to ceil(w/2) x ceil(h/2).
func halve(src image.Image) image.Image {
	b := src.Bounds()
	w, h := (b.Dx()+1)/2, (b.Dy()+1)/2
	rect := image.Rect(0, 0, w, h)
	var dst draw.Image
	if _, ok := src.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, src, b, draw.Src, nil)
	return dst
}

// Finalizer turns a reassembled payload into bytes ready to persist.
type Finalizer struct{}

// Finalize checks that data is a decodable image and reports the file extension
// for its format. The bytes are returned unchanged.
func (Finalizer) Finalize(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnrecognizedImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, "", ErrEmptyImage
	}
	return data, extension(format), nil
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
