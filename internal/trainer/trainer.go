// Package trainer drives the epoch loop: training, validation, testing and
// periodic checkpoints.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/logger"
	"github.com/samcharles93/wrn/internal/meter"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/optim"
	"github.com/samcharles93/wrn/internal/schedule"
	"github.com/samcharles93/wrn/internal/tensor"
)

var (
	ErrNoValidation  = errors.New("trainer: validation loader not configured")
	ErrNonFiniteLoss = errors.New("trainer: loss is not finite")
)

// Model is the network surface the trainer needs.
type Model interface {
	Forward(logits, x *tensor.Mat)
	Backward(dlogits *tensor.Mat)
	Params() nn.Params
	Train()
	Eval()
}

// EpochStats summarises one training epoch.
type EpochStats struct {
	Epoch int
	LR    float64
	// Loss is the loss of the last batch.
	Loss float64
	Acc  meter.Average
}

// EvalResult is the outcome of a pass without parameter updates.
type EvalResult struct {
	// Loss is the loss of the last batch.
	Loss    float64
	AvgLoss meter.Average
	Acc     meter.Average
}

// Trainer owns the optimisation state of a single run.
type Trainer struct {
	opts  hparams.Options
	model Model
	opt   *optim.SGD
	sched schedule.Scheduler

	train *data.Loader
	valid *data.Loader

	log     logger.Logger
	folder  string
	runID   string
	history *meter.History
	now     func() time.Time

	logits tensor.Mat
	dlog   tensor.Mat
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger; the default discards output.
func WithLogger(l logger.Logger) Option {
	return func(t *Trainer) { t.log = l }
}

// WithOptimizer replaces the SGD optimizer built from the options, e.g.
// one restored from a checkpoint.
func WithOptimizer(o *optim.SGD) Option {
	return func(t *Trainer) { t.opt = o }
}

// WithHistory continues an existing history.
func WithHistory(h *meter.History) Option {
	return func(t *Trainer) { t.history = h }
}

// WithRunID tags checkpoints with id.
func WithRunID(id string) Option {
	return func(t *Trainer) { t.runID = id }
}

// WithFolder overrides the checkpoint folder.
func WithFolder(dir string) Option {
	return func(t *Trainer) { t.folder = dir }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// New builds a Trainer. valid may be nil when only Evaluate/Test are used
// with explicit loaders.
func New(opts hparams.Options, model Model, train, valid *data.Loader, options ...Option) (*Trainer, error) {
	sched, err := schedule.NewStepDecay(opts.LR, opts.LRDecayRate, opts.LRDecayEpochs)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		opts:  opts.Clone(),
		model: model,
		sched: sched,
		train: train,
		valid: valid,
		log:   logger.Discard(),
		now:   time.Now,
	}
	for _, o := range options {
		o(t)
	}
	if t.opt == nil {
		t.opt, err = optim.NewSGD(model.Params(), optim.SGDConfig{
			LR:          opts.LR,
			Momentum:    opts.Momentum,
			WeightDecay: opts.WeightDecay,
		})
		if err != nil {
			return nil, err
		}
	}
	if t.folder == "" {
		t.folder = checkpoint.ModelFolder(opts.ModelDir, &t.opts)
	}
	if t.runID == "" {
		t.runID = checkpoint.NewRunID()
	}
	if t.history == nil {
		t.history = &meter.History{}
	}
	t.log = t.log.With(logger.ComponentKey, "trainer")
	return t, nil
}

func (t *Trainer) Optimizer() *optim.SGD         { return t.opt }
func (t *Trainer) History() *meter.History       { return t.history }
func (t *Trainer) Folder() string                { return t.folder }
func (t *Trainer) RunID() string                 { return t.runID }
func (t *Trainer) Scheduler() schedule.Scheduler { return t.sched }

// TrainOneEpoch runs one pass over the training loader with the learning
// rate the schedule assigns to epoch.
func (t *Trainer) TrainOneEpoch(ctx context.Context, epoch int) (EpochStats, error) {
	lr := t.sched.LR(epoch)
	t.opt.SetLR(lr)
	t.model.Train()

	stats := EpochStats{Epoch: epoch, LR: lr}
	total := t.train.NumBatches()
	t.log.Info("training epoch", "epoch", epoch, "lr", lr, "batches", total)

	err := t.train.Each(ctx, epoch, func(b *data.Batch) error {
		t.opt.ZeroGrad()
		t.model.Forward(&t.logits, &b.X)
		loss, err := nn.CrossEntropy(&t.logits, b.Y, &t.dlog)
		if err != nil {
			return err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return fmt.Errorf("%w: epoch %d iter %d: %v", ErrNonFiniteLoss, epoch, b.Index+1, loss)
		}
		t.model.Backward(&t.dlog)
		t.opt.Step()

		acc := 100 * float64(nn.Correct(&t.logits, b.Y)) / float64(b.Len())
		stats.Acc.Update(acc, b.Len())
		stats.Loss = loss
		t.log.Debug("batch", "epoch", epoch, "iter", b.Index+1, "of", total, "loss", loss, "acc", stats.Acc.Avg)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("train epoch %d: %w", epoch, err)
	}
	return stats, nil
}

// Evaluate runs the model in eval mode over loader without updating
// parameters.
func (t *Trainer) Evaluate(ctx context.Context, loader *data.Loader) (EvalResult, error) {
	var res EvalResult
	t.model.Eval()
	defer t.model.Train()

	err := loader.Each(ctx, 0, func(b *data.Batch) error {
		t.model.Forward(&t.logits, &b.X)
		loss, err := nn.CrossEntropy(&t.logits, b.Y, nil)
		if err != nil {
			return err
		}
		res.Loss = loss
		res.AvgLoss.Update(loss, b.Len())
		res.Acc.Update(100*float64(nn.Correct(&t.logits, b.Y))/float64(b.Len()), b.Len())
		return nil
	})
	return res, err
}

// Validate evaluates the validation loader and logs the result for epoch.
func (t *Trainer) Validate(ctx context.Context, epoch int) (EvalResult, error) {
	if t.valid == nil {
		return EvalResult{}, ErrNoValidation
	}
	res, err := t.Evaluate(ctx, t.valid)
	if err != nil {
		return res, fmt.Errorf("validate epoch %d: %w", epoch, err)
	}
	t.log.Info("validation", "epoch", epoch, "loss", res.Loss, "acc", res.Acc.Avg)
	return res, nil
}

// Test evaluates loader and logs the final result.
func (t *Trainer) Test(ctx context.Context, loader *data.Loader) (EvalResult, error) {
	res, err := t.Evaluate(ctx, loader)
	if err != nil {
		return res, fmt.Errorf("test: %w", err)
	}
	t.log.Info("test result", "loss", res.Loss, "avg_loss", res.AvgLoss.Avg, "acc", res.Acc.Avg, "samples", res.Acc.Count)
	return res, nil
}

// Run trains epochs StartEpoch..Epochs, validating after each, writing a
// checkpoint and the history every SaveFreq epochs and current.wrn plus the
// history at the end. It returns the last completed epoch. A cancelled run writes nothing
// further and returns the context error.
func (t *Trainer) Run(ctx context.Context) (int, error) {
	if err := os.MkdirAll(t.folder, 0o755); err != nil {
		return 0, fmt.Errorf("create model folder: %w", err)
	}

	start := t.now()
	last := t.opts.StartEpoch - 1
	t.log.Info("starting run", "run_id", t.runID, "model", t.opts.ModelName(), "start_epoch", t.opts.StartEpoch, "epochs", t.opts.Epochs, "folder", t.folder)

	for epoch := t.opts.StartEpoch; epoch <= t.opts.Epochs; epoch++ {
		epochStart := t.now()
		stats, err := t.TrainOneEpoch(ctx, epoch)
		if err != nil {
			return last, err
		}
		val, err := t.Validate(ctx, epoch)
		if err != nil {
			return last, err
		}
		last = epoch

		elapsed := t.now().Sub(start)
		t.history.Append(meter.Epoch{
			Epoch:       epoch,
			LR:          stats.LR,
			TrainAcc:    stats.Acc.Avg,
			TrainLoss:   stats.Loss,
			ValidAcc:    val.Acc.Avg,
			ValidLoss:   val.Loss,
			ElapsedSecs: elapsed.Seconds(),
		})
		t.log.Info("epoch done",
			"epoch", epoch,
			"train_acc", stats.Acc.Avg,
			"train_loss", stats.Loss,
			"valid_acc", val.Acc.Avg,
			"epoch_time", t.now().Sub(epochStart),
			"elapsed", elapsed,
		)

		if t.opts.SaveFreq > 0 && epoch%t.opts.SaveFreq == 0 {
			if _, err := t.save(checkpoint.EpochFile(epoch), epoch); err != nil {
				return last, err
			}
			if err := t.saveHistory(); err != nil {
				return last, err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return last, err
	}
	path, err := t.save(checkpoint.CurrentFile, last)
	if err != nil {
		return last, err
	}
	if err := t.saveHistory(); err != nil {
		return last, err
	}
	t.log.Info("run finished", "epoch", last, "checkpoint", path, "elapsed", t.now().Sub(start))
	return last, nil
}

// Checkpoint snapshots the current state as of epoch.
func (t *Trainer) Checkpoint(epoch int) *checkpoint.Checkpoint {
	return checkpoint.New(t.model.Params(), t.opt, epoch, t.opts, t.runID)
}

func (t *Trainer) save(name string, epoch int) (string, error) {
	path := filepath.Join(t.folder, name)
	if err := checkpoint.Save(path, t.Checkpoint(epoch)); err != nil {
		return "", err
	}
	t.log.Info("saved checkpoint", "epoch", epoch, "path", path)
	return path, nil
}

func (t *Trainer) saveHistory() error {
	return checkpoint.SaveHistory(filepath.Join(t.folder, checkpoint.HistoryFile), t.history)
}
