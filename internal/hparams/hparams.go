// Package hparams holds the hyperparameter record of a training run.
//
// The record is filled from command-line flags and embedded in every
// checkpoint. On resume the embedded copy wins over the flags, apart from
// the resume path and the test-only switch which always come from the
// current invocation.
package hparams

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	AugmentMeanStd = "meanstd"
	AugmentZCA     = "zac"
)

var (
	ErrInvalidDecayEpochs = errors.New("hparams: invalid lr decay epochs")
	ErrInvalidDepth       = errors.New("hparams: depth must satisfy (depth-4)%6 == 0")
	ErrInvalidOption      = errors.New("hparams: invalid option")
)

// Options is the hyperparameter record.
type Options struct {
	LR            float64 `json:"lr"`
	Depth         int     `json:"depth"`
	WidenFactor   int     `json:"widen_factor"`
	NumClasses    int     `json:"num_classes"`
	DropoutRate   float64 `json:"dropout_rate"`
	Epochs        int     `json:"epochs"`
	BatchSize     int     `json:"batch_size"`
	LRDecayEpochs []int   `json:"lr_decay_epochs"`
	LRDecayRate   float64 `json:"lr_decay_rate"`
	Momentum      float64 `json:"momentum"`
	WeightDecay   float64 `json:"weight_decay"`
	Augment       string  `json:"augment"`

	Resume     string `json:"resume"`
	StartEpoch int    `json:"start_epoch"`
	TestOnly   bool   `json:"test_only"`
	SaveFreq   int    `json:"save_freq"`
	GPU        []int  `json:"gpu"`

	Workers  int    `json:"workers"`
	DataDir  string `json:"data_dir"`
	ModelDir string `json:"model_dir"`
	Seed     int64  `json:"seed"`
}

// Default returns the stock WRN-28-10 CIFAR-10 recipe.
func Default() Options {
	return Options{
		LR:            0.1,
		Depth:         28,
		WidenFactor:   10,
		NumClasses:    10,
		DropoutRate:   0.3,
		Epochs:        200,
		BatchSize:     128,
		LRDecayEpochs: []int{60, 120, 160},
		LRDecayRate:   0.2,
		Momentum:      0.9,
		WeightDecay:   5e-4,
		Augment:       AugmentMeanStd,
		StartEpoch:    1,
		SaveFreq:      10,
		GPU:           []int{0},
		Workers:       2,
		DataDir:       "./data",
		ModelDir:      "model",
	}
}

// ParseDecayEpochs parses a comma-separated epoch list such as "60,120,160".
func ParseDecayEpochs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDecayEpochs, p)
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatDecayEpochs is the inverse of ParseDecayEpochs.
func FormatDecayEpochs(epochs []int) string {
	parts := make([]string, len(epochs))
	for i, e := range epochs {
		parts[i] = strconv.Itoa(e)
	}
	return strings.Join(parts, ",")
}

// BlocksPerGroup returns the number of residual blocks in each of the three
// groups of a WRN of the given depth.
func BlocksPerGroup(depth int) (int, error) {
	if depth < 10 || (depth-4)%6 != 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	return (depth - 4) / 6, nil
}

// Validate checks the record for values the trainer cannot run with.
func (o *Options) Validate() error {
	if _, err := BlocksPerGroup(o.Depth); err != nil {
		return err
	}
	switch {
	case o.WidenFactor < 1:
		return fmt.Errorf("%w: widen factor %d", ErrInvalidOption, o.WidenFactor)
	case o.NumClasses < 2:
		return fmt.Errorf("%w: num classes %d", ErrInvalidOption, o.NumClasses)
	case o.DropoutRate < 0 || o.DropoutRate >= 1:
		return fmt.Errorf("%w: dropout rate %g", ErrInvalidOption, o.DropoutRate)
	case o.Epochs < 1:
		return fmt.Errorf("%w: epochs %d", ErrInvalidOption, o.Epochs)
	case o.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d", ErrInvalidOption, o.BatchSize)
	case o.SaveFreq < 1:
		return fmt.Errorf("%w: save frequency %d", ErrInvalidOption, o.SaveFreq)
	case o.StartEpoch < 1:
		return fmt.Errorf("%w: start epoch %d", ErrInvalidOption, o.StartEpoch)
	case o.LR <= 0:
		return fmt.Errorf("%w: learning rate %g", ErrInvalidOption, o.LR)
	case o.Momentum < 0:
		return fmt.Errorf("%w: momentum %g", ErrInvalidOption, o.Momentum)
	case o.WeightDecay < 0:
		return fmt.Errorf("%w: weight decay %g", ErrInvalidOption, o.WeightDecay)
	case o.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalidOption, o.Workers)
	}
	for i := 1; i < len(o.LRDecayEpochs); i++ {
		if o.LRDecayEpochs[i] <= o.LRDecayEpochs[i-1] {
			return fmt.Errorf("%w: %v is not strictly increasing", ErrInvalidDecayEpochs, o.LRDecayEpochs)
		}
	}
	return nil
}

// MergeResumed returns the saved record with Resume and TestOnly taken from o.
func (o Options) MergeResumed(saved Options) Options {
	merged := saved.Clone()
	merged.Resume = o.Resume
	merged.TestOnly = o.TestOnly
	return merged
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	out := o
	out.LRDecayEpochs = append([]int(nil), o.LRDecayEpochs...)
	out.GPU = append([]int(nil), o.GPU...)
	return out
}

// ModelName is the WRN_<depth>_<widen> name used for run folders.
func (o *Options) ModelName() string {
	return fmt.Sprintf("WRN_%d_%d", o.Depth, o.WidenFactor)
}

// Marshal encodes the record as JSON.
func (o *Options) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// Unmarshal decodes a JSON record produced by Marshal.
func Unmarshal(data []byte) (Options, error) {
	var o Options
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("hparams: decode: %w", err)
	}
	return o, nil
}
