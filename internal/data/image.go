package data

import (
	"fmt"
	"image"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"
)

// LoadImageFile reads an image from disk and scales it to 32x32.
func LoadImageFile(path string) (*image.NRGBA, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data: open image %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() != ImageSize || b.Dy() != ImageSize {
		img = transform.Resize(img, ImageSize, ImageSize, transform.Linear)
	}
	return imaging.Clone(img), nil
}

// DecodeImage decodes an encoded image (PNG, JPEG, ...) and scales it to 32x32.
func DecodeImage(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("data: decode image: %w", err)
	}
	return Fit(img), nil
}

// Fit scales img to 32x32, returning a copy even when no scaling is needed.
func Fit(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == ImageSize && b.Dy() == ImageSize {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, ImageSize, ImageSize, imaging.Lanczos)
}
