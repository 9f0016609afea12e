package api

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/tensor"
)

// Classifier labels 32x32 images.
type Classifier interface {
	Info() ModelInfo
	Classify(ctx context.Context, img *image.NRGBA) (Prediction, error)
}

// CheckpointClassifier serves a WideResNet restored from a checkpoint.
// Calls are serialised because the network keeps per-call scratch state.
type CheckpointClassifier struct {
	mu    sync.Mutex
	model *nn.WideResNet
	pipe  *data.Pipeline
	info  ModelInfo
	x     tensor.Mat
}

// LoadClassifier reads a checkpoint file and builds a classifier from it.
func LoadClassifier(path string, workers int) (*CheckpointClassifier, error) {
	ck, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	return NewClassifier(ck, workers)
}

// NewClassifier rebuilds the network described by ck and loads its weights.
func NewClassifier(ck *checkpoint.Checkpoint, workers int) (*CheckpointClassifier, error) {
	cfg := nn.ConfigFromOptions(&ck.Options)
	cfg.DropoutRate = 0
	cfg.Workers = workers
	model, err := nn.NewWideResNet(cfg)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	if err := ck.Restore(model.Params(), nil); err != nil {
		return nil, fmt.Errorf("restore model: %w", err)
	}
	model.Eval()

	_, pipe, err := data.Pipelines(ck.Options.Augment)
	if err != nil {
		return nil, err
	}
	return &CheckpointClassifier{
		model: model,
		pipe:  pipe,
		x:     tensor.NewMat(1, nn.InputDim),
		info: ModelInfo{
			Name:       ck.Options.ModelName(),
			Epoch:      ck.Epoch,
			RunID:      ck.RunID,
			Created:    ck.Created,
			Parameters: model.Params().Count(),
			Classes:    classNames(ck.Options.NumClasses),
			Options:    ck.Options,
		},
	}, nil
}

func (c *CheckpointClassifier) Info() ModelInfo { return c.info }

func (c *CheckpointClassifier) Classify(ctx context.Context, img *image.NRGBA) (Prediction, error) {
	if b := img.Bounds(); b.Dx() != data.ImageSize || b.Dy() != data.ImageSize {
		img = data.Fit(img)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	c.pipe.Apply(c.x.Row(0), img, nil)
	probs := c.model.Predict(&c.x)
	return newPrediction(probs.Row(0), c.info.Classes), nil
}

func newPrediction(probs []float32, classes []string) Prediction {
	best := tensor.Argmax(probs)
	p := Prediction{
		Class:         best,
		Probabilities: append([]float32(nil), probs...),
	}
	if best < len(classes) {
		p.Label = classes[best]
	}
	return p
}

func classNames(n int) []string {
	if n == len(data.Classes) {
		return append([]string(nil), data.Classes...)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("class_%d", i)
	}
	return out
}
