package data

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"

	"github.com/samcharles93/wrn/internal/hparams"
)

var ErrAugmentNotImplemented = errors.New("data: augmentation mode not implemented")

// Per-channel CIFAR-10 statistics.
var (
	CIFAR10Mean = [Channels]float32{0.4914, 0.4822, 0.4465}
	CIFAR10Std  = [Channels]float32{0.2023, 0.1994, 0.2010}
)

// ImageTransform maps one image to another using rng for any randomness.
type ImageTransform interface {
	Apply(img *image.NRGBA, rng *rand.Rand) *image.NRGBA
}

// RandomCrop zero-pads the image by Padding on every side and takes a
// Size x Size crop at a uniformly random offset.
type RandomCrop struct {
	Size    int
	Padding int
}

func (t RandomCrop) Apply(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx()+2*t.Padding, b.Dy()+2*t.Padding
	padded := imaging.New(w, h, color.NRGBA{A: 0xff})
	padded = imaging.Paste(padded, img, image.Pt(t.Padding, t.Padding))
	x0 := rng.Intn(w - t.Size + 1)
	y0 := rng.Intn(h - t.Size + 1)
	return imaging.Crop(padded, image.Rect(x0, y0, x0+t.Size, y0+t.Size))
}

// RandomHorizontalFlip mirrors the image with probability P.
type RandomHorizontalFlip struct {
	P float64
}

func (t RandomHorizontalFlip) Apply(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	if rng.Float64() < t.P {
		return imaging.FlipH(img)
	}
	return img
}

// Pipeline applies image transforms and then writes the normalised CHW
// tensor of the result.
type Pipeline struct {
	Transforms []ImageTransform
	Mean       [Channels]float32
	Std        [Channels]float32
}

// Apply transforms img and writes SampleBytes normalised values into dst.
func (p *Pipeline) Apply(dst []float32, img *image.NRGBA, rng *rand.Rand) {
	for _, t := range p.Transforms {
		img = t.Apply(img, rng)
	}
	Normalize(dst, img, p.Mean, p.Std)
}

// Normalize writes (pixel/255 - mean)/std in CHW order. img must be 32x32.
func Normalize(dst []float32, img *image.NRGBA, mean, std [Channels]float32) {
	if len(dst) < SampleBytes {
		panic("normalize: destination too small")
	}
	b := img.Bounds()
	if b.Dx() != ImageSize || b.Dy() != ImageSize {
		panic(fmt.Sprintf("normalize: expected %dx%d image, got %dx%d", ImageSize, ImageSize, b.Dx(), b.Dy()))
	}
	for y := 0; y < ImageSize; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < ImageSize; x++ {
			px := row[x*4 : x*4+3]
			p := y*ImageSize + x
			for c := 0; c < Channels; c++ {
				dst[c*PlaneSize+p] = (float32(px[c])/255 - mean[c]) / std[c]
			}
		}
	}
}

// Pipelines builds the train and test pipelines for an augmentation mode.
func Pipelines(augment string) (train, test *Pipeline, err error) {
	switch augment {
	case hparams.AugmentMeanStd:
		train = &Pipeline{
			Transforms: []ImageTransform{
				RandomCrop{Size: ImageSize, Padding: 4},
				RandomHorizontalFlip{P: 0.5},
			},
			Mean: CIFAR10Mean,
			Std:  CIFAR10Std,
		}
		test = &Pipeline{Mean: CIFAR10Mean, Std: CIFAR10Std}
		return train, test, nil
	case hparams.AugmentZCA:
		return nil, nil, fmt.Errorf("%w: ZCA whitening (%q)", ErrAugmentNotImplemented, augment)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrAugmentNotImplemented, augment)
	}
}
