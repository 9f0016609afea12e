package trainer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/tensor"
)

func testOptions(t *testing.T) hparams.Options {
	t.Helper()
	o := hparams.Default()
	o.Depth = 10
	o.WidenFactor = 1
	o.DropoutRate = 0
	o.Epochs = 2
	o.BatchSize = 4
	o.LRDecayEpochs = []int{1}
	o.SaveFreq = 1
	o.Workers = 0
	o.ModelDir = t.TempDir()
	return o
}

func testDataset(t *testing.T, n int) *data.CIFAR10 {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	labels := make([]uint8, n)
	pixels := make([]byte, n*data.SampleBytes)
	for i := range labels {
		labels[i] = uint8(i % 10)
	}
	rng.Read(pixels)
	ds, err := data.NewCIFAR10(labels, pixels)
	if err != nil {
		t.Fatalf("NewCIFAR10: %v", err)
	}
	return ds
}

func testTrainer(t *testing.T, o hparams.Options, options ...Option) (*Trainer, *nn.WideResNet) {
	t.Helper()
	cfg := nn.ConfigFromOptions(&o)
	cfg.Workers = 1
	cfg.Seed = 1
	m, err := nn.NewWideResNet(cfg)
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	m.Init()

	trainPipe, testPipe, err := data.Pipelines(o.Augment)
	if err != nil {
		t.Fatalf("Pipelines: %v", err)
	}
	train := data.NewLoader(testDataset(t, 12), trainPipe, data.LoaderConfig{BatchSize: o.BatchSize, Shuffle: true, Seed: 5})
	valid := data.NewLoader(testDataset(t, 6), testPipe, data.LoaderConfig{BatchSize: o.BatchSize})

	tr, err := New(o, m, train, valid, options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, m
}

func stepClock() func() time.Time {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestRunWritesCheckpointsAndHistory(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	tr, _ := testTrainer(t, o, WithClock(stepClock()), WithRunID("run-1"))

	last, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 2 {
		t.Fatalf("expected last epoch 2, got %d", last)
	}

	folder := filepath.Join(o.ModelDir, "WRN_10_1")
	if tr.Folder() != folder {
		t.Fatalf("folder %q, want %q", tr.Folder(), folder)
	}
	for _, name := range []string{"ckpt_epoch_1.wrn", "ckpt_epoch_2.wrn", checkpoint.CurrentFile, checkpoint.HistoryFile} {
		if _, err := os.Stat(filepath.Join(folder, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	ck, err := checkpoint.Load(filepath.Join(folder, checkpoint.CurrentFile))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ck.Epoch != 2 || ck.RunID != "run-1" {
		t.Fatalf("unexpected checkpoint epoch=%d run=%q", ck.Epoch, ck.RunID)
	}
	if ck.Optimizer.Steps != int64(2*3) {
		t.Fatalf("expected 6 optimizer steps, got %d", ck.Optimizer.Steps)
	}

	h, err := checkpoint.LoadHistory(filepath.Join(folder, checkpoint.HistoryFile))
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Epochs) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(h.Epochs))
	}
	if h.Epochs[0].LR != 0.1 {
		t.Fatalf("epoch 1 lr %v, want 0.1", h.Epochs[0].LR)
	}
	if got := h.Epochs[1].LR; got < 0.0199 || got > 0.0201 {
		t.Fatalf("epoch 2 lr %v, want 0.02", got)
	}
	if h.Epochs[1].ElapsedSecs <= h.Epochs[0].ElapsedSecs {
		t.Fatalf("elapsed not increasing: %+v", h.Epochs)
	}
}

func TestRunZeroEpochsRecordsPreviousEpoch(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	o.StartEpoch = 3
	tr, _ := testTrainer(t, o)

	last, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 2 {
		t.Fatalf("expected last epoch 2, got %d", last)
	}
	ck, err := checkpoint.Load(filepath.Join(tr.Folder(), checkpoint.CurrentFile))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ck.Epoch != 2 {
		t.Fatalf("expected checkpoint epoch 2, got %d", ck.Epoch)
	}
	if ck.Optimizer.Steps != 0 {
		t.Fatalf("expected no optimizer steps, got %d", ck.Optimizer.Steps)
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	tr, _ := testTrainer(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(tr.Folder(), checkpoint.CurrentFile)); !os.IsNotExist(err) {
		t.Fatalf("cancelled run must not write %s: %v", checkpoint.CurrentFile, err)
	}
}

func TestTrainOneEpochUpdatesParameters(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	tr, m := testTrainer(t, o)

	before := slices.Clone(m.Params()[0].W.Data)
	stats, err := tr.TrainOneEpoch(context.Background(), 2)
	if err != nil {
		t.Fatalf("TrainOneEpoch: %v", err)
	}
	if stats.Acc.Count != 12 {
		t.Fatalf("expected 12 samples, got %d", stats.Acc.Count)
	}
	if stats.LR != tr.Optimizer().LR() || tr.Scheduler().LR(2) != stats.LR {
		t.Fatalf("optimizer lr %v does not follow schedule %v", tr.Optimizer().LR(), stats.LR)
	}
	if slices.Equal(before, m.Params()[0].W.Data) {
		t.Fatal("expected parameters to change")
	}
	if stats.Loss <= 0 {
		t.Fatalf("expected positive loss, got %v", stats.Loss)
	}
}

func TestEvaluateDoesNotUpdate(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	tr, m := testTrainer(t, o)

	before := m.Params().StateDict()
	res, err := tr.Validate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Acc.Count != 6 || res.AvgLoss.Count != 6 {
		t.Fatalf("expected 6 samples, got acc=%d loss=%d", res.Acc.Count, res.AvgLoss.Count)
	}
	if res.Acc.Avg < 0 || res.Acc.Avg > 100 {
		t.Fatalf("accuracy out of range: %v", res.Acc.Avg)
	}
	for name, w := range m.Params().StateDict() {
		if !slices.Equal(w.Data, before[name].Data) {
			t.Fatalf("parameter %s changed during evaluation", name)
		}
	}
	if tr.Optimizer().Steps() != 0 {
		t.Fatalf("expected no optimizer steps, got %d", tr.Optimizer().Steps())
	}
}

func TestValidateWithoutLoader(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	cfg := nn.ConfigFromOptions(&o)
	m, err := nn.NewWideResNet(cfg)
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	tr, err := New(o, m, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Validate(context.Background(), 1); !errors.Is(err, ErrNoValidation) {
		t.Fatalf("expected ErrNoValidation, got %v", err)
	}
}

func TestNewRejectsUnsortedDecay(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	o.LRDecayEpochs = []int{5, 3}
	m, err := nn.NewWideResNet(nn.ConfigFromOptions(&o))
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	if _, err := New(o, m, nil, nil); err == nil {
		t.Fatal("expected error for unsorted decay epochs")
	}
}

// nanAfter wraps a model and corrupts the logits once more than n forward
// passes have run.
type nanAfter struct {
	*nn.WideResNet
	n, calls int
}

func (m *nanAfter) Forward(logits, x *tensor.Mat) {
	m.WideResNet.Forward(logits, x)
	m.calls++
	if m.calls > m.n {
		logits.Data[0] = float32(math.NaN())
	}
}

func TestRunStopsOnNonFiniteLoss(t *testing.T) {
	t.Parallel()
	o := testOptions(t)
	_, m := testTrainer(t, o)

	trainPipe, testPipe, err := data.Pipelines(o.Augment)
	if err != nil {
		t.Fatalf("Pipelines: %v", err)
	}
	train := data.NewLoader(testDataset(t, 12), trainPipe, data.LoaderConfig{BatchSize: o.BatchSize, Seed: 5})
	valid := data.NewLoader(testDataset(t, 6), testPipe, data.LoaderConfig{BatchSize: o.BatchSize})

	// Epoch 1 runs 3 training and 2 validation batches; epoch 2 goes bad.
	bad := &nanAfter{WideResNet: m, n: 5}
	tr, err := New(o, bad, train, valid)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	last, err := tr.Run(context.Background())
	if !errors.Is(err, ErrNonFiniteLoss) {
		t.Fatalf("expected ErrNonFiniteLoss, got %v", err)
	}
	if last != 1 {
		t.Fatalf("expected last epoch 1, got %d", last)
	}
	if tr.Optimizer().Steps() != 3 {
		t.Fatalf("expected 3 optimizer steps, got %d", tr.Optimizer().Steps())
	}
	if _, err := os.Stat(filepath.Join(tr.Folder(), checkpoint.CurrentFile)); !os.IsNotExist(err) {
		t.Fatalf("failed run must not write %s: %v", checkpoint.CurrentFile, err)
	}
	if _, err := os.Stat(filepath.Join(tr.Folder(), checkpoint.EpochFile(1))); err != nil {
		t.Fatalf("expected epoch 1 checkpoint: %v", err)
	}

	// The periodic checkpoint carries the history up to its epoch.
	h, err := checkpoint.LoadHistory(filepath.Join(tr.Folder(), checkpoint.HistoryFile))
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(h.Epochs) != 1 || h.Epochs[0].Epoch != 1 {
		t.Fatalf("unexpected history %+v", h.Epochs)
	}
}

func TestDefaultRecipeLossFalls(t *testing.T) {
	t.Parallel()
	o := hparams.Default()
	o.Depth = 10
	o.WidenFactor = 1
	o.BatchSize = 16
	o.ModelDir = t.TempDir()

	cfg := nn.ConfigFromOptions(&o)
	cfg.Workers = 1
	m, err := nn.NewWideResNet(cfg)
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	m.Init()

	_, testPipe, err := data.Pipelines(o.Augment)
	if err != nil {
		t.Fatalf("Pipelines: %v", err)
	}
	loader := data.NewLoader(testDataset(t, 16), testPipe, data.LoaderConfig{BatchSize: o.BatchSize})
	tr, err := New(o, m, loader, loader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	before, err := tr.Evaluate(ctx, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for epoch := 1; epoch <= 30; epoch++ {
		stats, err := tr.TrainOneEpoch(ctx, epoch)
		if err != nil {
			t.Fatalf("TrainOneEpoch %d: %v", epoch, err)
		}
		if stats.LR != 0.1 {
			t.Fatalf("epoch %d lr %v, want 0.1", epoch, stats.LR)
		}
	}
	after, err := tr.Evaluate(ctx, loader)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.IsNaN(after.Loss) || math.IsInf(after.Loss, 0) {
		t.Fatalf("loss diverged: %v", after.Loss)
	}
	if after.Loss >= before.Loss {
		t.Fatalf("loss did not fall: before %v after %v", before.Loss, after.Loss)
	}
}
