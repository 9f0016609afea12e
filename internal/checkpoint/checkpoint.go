// Package checkpoint persists training state.
//
// A checkpoint file is laid out like a safetensors file: an 8-byte
// little-endian header length, a JSON header describing each tensor's dtype,
// shape and byte range, then the raw little-endian F32 data. The header's
// __metadata__ entry carries the epoch, run id and hyperparameter record.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/optim"
)

const (
	FormatName    = "wrn-checkpoint"
	FormatVersion = 1

	Ext         = ".wrn"
	CurrentFile = "current" + Ext
	HistoryFile = "history.json"

	metadataKey  = "__metadata__"
	modelPrefix  = "model/"
	optimPrefix  = "optim/momentum/"
	dtypeF32     = "F32"
	headerLenMax = 64 << 20
)

var (
	ErrNotFound      = errors.New("checkpoint: not found")
	ErrCorrupt       = errors.New("checkpoint: corrupt file")
	ErrUnsupported   = errors.New("checkpoint: unsupported format")
	ErrNoCheckpoints = errors.New("checkpoint: no checkpoints in folder")
)

// Checkpoint bundles model parameters, optimizer state, the last completed
// epoch and the run's hyperparameters.
type Checkpoint struct {
	Model     map[string]nn.Tensor
	Optimizer optim.State
	Epoch     int
	Options   hparams.Options

	RunID   string
	Created time.Time
}

// New snapshots the given model and optimizer.
func New(params nn.Params, opt *optim.SGD, epoch int, opts hparams.Options, runID string) *Checkpoint {
	ck := &Checkpoint{
		Model:   params.StateDict(),
		Epoch:   epoch,
		Options: opts.Clone(),
		RunID:   runID,
		Created: time.Now().UTC(),
	}
	if opt != nil {
		ck.Optimizer = opt.StateDict()
	}
	if ck.RunID == "" {
		ck.RunID = NewRunID()
	}
	return ck
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Restore loads the checkpoint into params and, when non-nil, opt.
func (c *Checkpoint) Restore(params nn.Params, opt *optim.SGD) error {
	if err := params.LoadStateDict(c.Model); err != nil {
		return err
	}
	if opt != nil {
		return opt.LoadStateDict(c.Optimizer)
	}
	return nil
}

// ModelFolder returns <modelDir>/WRN_<depth>_<widen>.
func ModelFolder(modelDir string, o *hparams.Options) string {
	return filepath.Join(modelDir, o.ModelName())
}

// EpochFile is the periodic checkpoint name for epoch.
func EpochFile(epoch int) string {
	return fmt.Sprintf("ckpt_epoch_%d%s", epoch, Ext)
}

// Latest returns current.wrn in dir when present, otherwise the periodic
// checkpoint with the highest epoch.
func Latest(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoCheckpoints, dir)
		}
		return "", err
	}
	type found struct {
		epoch int
		name  string
	}
	var all []found
	hasCurrent := false
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if name == CurrentFile {
			hasCurrent = true
			continue
		}
		num, ok := strings.CutPrefix(name, "ckpt_epoch_")
		if !ok {
			continue
		}
		num, ok = strings.CutSuffix(num, Ext)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		all = append(all, found{epoch: n, name: name})
	}
	if hasCurrent {
		return filepath.Join(dir, CurrentFile), nil
	}
	if len(all) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoCheckpoints, dir)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].epoch > all[j].epoch })
	return filepath.Join(dir, all[0].name), nil
}
