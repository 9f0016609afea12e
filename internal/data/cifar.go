// Package data reads CIFAR-10 and feeds normalised mini-batches to the
// trainer.
package data

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
)

const (
	ImageSize   = 32
	Channels    = 3
	PlaneSize   = ImageSize * ImageSize
	SampleBytes = Channels * PlaneSize
	recordBytes = 1 + SampleBytes

	batchesDir = "cifar-10-batches-bin"
)

var (
	ErrDatasetNotFound = errors.New("data: CIFAR-10 binary batches not found")
	ErrCorruptDataset  = errors.New("data: corrupt CIFAR-10 batch")
)

// Classes are the CIFAR-10 label names in label order.
var Classes = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

var (
	trainFiles = []string{
		"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
		"data_batch_4.bin", "data_batch_5.bin",
	}
	testFiles = []string{"test_batch.bin"}
)

// Dataset is an indexable collection of labelled images.
type Dataset interface {
	Len() int
	Sample(i int) (*image.NRGBA, int)
}

// CIFAR10 holds decoded samples in the on-disk CHW byte layout.
type CIFAR10 struct {
	labels []uint8
	pixels []byte
}

// NewCIFAR10 wraps raw labels and CHW pixel bytes.
func NewCIFAR10(labels []uint8, pixels []byte) (*CIFAR10, error) {
	if len(pixels) != len(labels)*SampleBytes {
		return nil, fmt.Errorf("%w: %d labels for %d pixel bytes", ErrCorruptDataset, len(labels), len(pixels))
	}
	return &CIFAR10{labels: labels, pixels: pixels}, nil
}

// LoadCIFAR10 reads the train or test split from root. root may be the
// extracted cifar-10-batches-bin directory or its parent.
func LoadCIFAR10(root string, train bool) (*CIFAR10, error) {
	files := testFiles
	if train {
		files = trainFiles
	}
	dir, err := locate(root, files[0])
	if err != nil {
		return nil, err
	}

	ds := &CIFAR10{}
	for _, name := range files {
		if err := ds.readBatch(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func locate(root, first string) (string, error) {
	for _, dir := range []string{filepath.Join(root, batchesDir), root} {
		if _, err := os.Stat(filepath.Join(dir, first)); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w under %s", ErrDatasetNotFound, root)
}

func (d *CIFAR10) readBatch(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
		}
		return err
	}
	defer func() { _ = f.Close() }()
	return d.ReadFrom(f)
}

// ReadFrom appends every record in r to the dataset.
func (d *CIFAR10) ReadFrom(r io.Reader) error {
	buf := make([]byte, recordBytes)
	for {
		_, err := io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptDataset, err)
		}
		if int(buf[0]) >= len(Classes) {
			return fmt.Errorf("%w: label %d", ErrCorruptDataset, buf[0])
		}
		d.labels = append(d.labels, buf[0])
		d.pixels = append(d.pixels, buf[1:]...)
	}
}

func (d *CIFAR10) Len() int { return len(d.labels) }

// Label returns the class index of sample i.
func (d *CIFAR10) Label(i int) int { return int(d.labels[i]) }

// Raw returns the CHW bytes of sample i without copying.
func (d *CIFAR10) Raw(i int) []byte {
	return d.pixels[i*SampleBytes : (i+1)*SampleBytes]
}

// Sample returns sample i as an image and its label.
func (d *CIFAR10) Sample(i int) (*image.NRGBA, int) {
	return ImageFromCHW(d.Raw(i)), d.Label(i)
}

// ImageFromCHW converts a 3x32x32 planar byte slice to an image.
func ImageFromCHW(chw []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, ImageSize, ImageSize))
	for y := 0; y < ImageSize; y++ {
		for x := 0; x < ImageSize; x++ {
			p := y*ImageSize + x
			img.SetNRGBA(x, y, color.NRGBA{
				R: chw[p],
				G: chw[PlaneSize+p],
				B: chw[2*PlaneSize+p],
				A: 0xff,
			})
		}
	}
	return img
}
