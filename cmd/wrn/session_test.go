package main

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/wrn/internal/api"
	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/logger"
)

// writeCIFAR writes a tiny CIFAR-10 binary layout with perFile samples
// in each batch file.
func writeCIFAR(t *testing.T, perFile int) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "cifar-10-batches-bin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	names := []string{
		"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
		"data_batch_4.bin", "data_batch_5.bin", "test_batch.bin",
	}
	for _, name := range names {
		var buf bytes.Buffer
		for i := 0; i < perFile; i++ {
			rec := make([]byte, 1+data.SampleBytes)
			rec[0] = byte(i % 10)
			rng.Read(rec[1:])
			buf.Write(rec)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func tinyOptions(t *testing.T) hparams.Options {
	t.Helper()
	o := hparams.Default()
	o.Depth = 10
	o.WidenFactor = 1
	o.Epochs = 2
	o.BatchSize = 4
	o.LRDecayEpochs = []int{1}
	o.SaveFreq = 1
	o.Workers = 1
	o.Seed = 3
	o.DataDir = writeCIFAR(t, 4)
	o.ModelDir = t.TempDir()
	if err := o.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return o
}

func quietContext() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func TestRunSessionTrainsAndResumes(t *testing.T) {
	o := tinyOptions(t)
	ctx := quietContext()

	if err := runSession(ctx, o); err != nil {
		t.Fatalf("runSession returned error: %v", err)
	}
	folder := checkpoint.ModelFolder(o.ModelDir, &o)
	for _, name := range []string{checkpoint.EpochFile(1), checkpoint.EpochFile(2), checkpoint.CurrentFile, checkpoint.HistoryFile} {
		if _, err := os.Stat(filepath.Join(folder, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	ck, err := checkpoint.Load(filepath.Join(folder, checkpoint.CurrentFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ck.Epoch != 2 {
		t.Fatalf("checkpoint epoch = %d, want 2", ck.Epoch)
	}

	t.Run("test only from latest", func(t *testing.T) {
		resumed := o.Clone()
		resumed.Resume = latestCheckpoint
		resumed.TestOnly = true
		if err := runSession(ctx, resumed); err != nil {
			t.Fatalf("test-only session returned error: %v", err)
		}
	})

	t.Run("resume continues epochs", func(t *testing.T) {
		resumed := o.Clone()
		resumed.Resume = filepath.Join(folder, checkpoint.CurrentFile)
		resumed.Epochs = 3
		ck, merged, err := loadResume(resumed, logger.Discard())
		if err != nil {
			t.Fatalf("loadResume returned error: %v", err)
		}
		if ck == nil {
			t.Fatal("expected a checkpoint")
		}
		if merged.StartEpoch != ck.Epoch+1 {
			t.Fatalf("start epoch = %d, want %d", merged.StartEpoch, ck.Epoch+1)
		}
		if merged.Epochs != o.Epochs {
			t.Fatalf("epochs = %d, want saved %d", merged.Epochs, o.Epochs)
		}
		if merged.Resume != resumed.Resume {
			t.Fatalf("resume = %q, want %q", merged.Resume, resumed.Resume)
		}
	})

	t.Run("served classifier loads checkpoint", func(t *testing.T) {
		cls, err := api.LoadClassifier(filepath.Join(folder, checkpoint.CurrentFile), 1)
		if err != nil {
			t.Fatalf("LoadClassifier returned error: %v", err)
		}
		if info := cls.Info(); info.Name != o.ModelName() || info.Epoch != 2 {
			t.Fatalf("unexpected info %+v", info)
		}
	})
}

func TestLoadResumeMergesSavedOptions(t *testing.T) {
	o := tinyOptions(t)
	o.Epochs = 1
	if err := runSession(quietContext(), o); err != nil {
		t.Fatalf("runSession returned error: %v", err)
	}

	flags := o.Clone()
	flags.LR = 0.5
	flags.Resume = latestCheckpoint
	_, merged, err := loadResume(flags, logger.Discard())
	if err != nil {
		t.Fatalf("loadResume returned error: %v", err)
	}
	if merged.LR != o.LR {
		t.Fatalf("lr = %g, want saved %g", merged.LR, o.LR)
	}
	if merged.StartEpoch != 2 {
		t.Fatalf("start epoch = %d, want 2", merged.StartEpoch)
	}
	if merged.Resume != latestCheckpoint {
		t.Fatalf("resume = %q", merged.Resume)
	}
}

func TestRunSessionTestOnlyNeedsCheckpoint(t *testing.T) {
	o := tinyOptions(t)
	o.Resume = latestCheckpoint
	o.TestOnly = true
	err := runSession(quietContext(), o)
	if !errors.Is(err, ErrTestOnlyNeedsCheckpoint) {
		t.Fatalf("expected ErrTestOnlyNeedsCheckpoint, got %v", err)
	}
}

func TestLoadResumeMissingStartsFromScratch(t *testing.T) {
	o := tinyOptions(t)
	o.Resume = filepath.Join(t.TempDir(), "missing.wrn")
	ck, got, err := loadResume(o, logger.Discard())
	if err != nil {
		t.Fatalf("loadResume returned error: %v", err)
	}
	if ck != nil {
		t.Fatal("expected no checkpoint")
	}
	if got.StartEpoch != 1 {
		t.Fatalf("start epoch = %d", got.StartEpoch)
	}
}

func TestLoadResumeDirectoryStartsFromScratch(t *testing.T) {
	o := tinyOptions(t)
	o.Resume = t.TempDir()
	ck, got, err := loadResume(o, logger.Discard())
	if err != nil {
		t.Fatalf("loadResume returned error: %v", err)
	}
	if ck != nil {
		t.Fatal("expected no checkpoint")
	}
	if got.StartEpoch != 1 {
		t.Fatalf("start epoch = %d", got.StartEpoch)
	}
}

func TestRunSessionMissingDataset(t *testing.T) {
	o := tinyOptions(t)
	o.DataDir = t.TempDir()
	err := runSession(quietContext(), o)
	if !errors.Is(err, data.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestPrintPrediction(t *testing.T) {
	pred := api.Prediction{Class: 2, Label: "bird", Probabilities: []float32{0.1, 0.2, 0.7}}
	var buf bytes.Buffer
	printPrediction(&buf, "a.png", pred, []string{"airplane", "automobile", "bird"}, 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if lines[0] != "a.png\t1\tbird\t70.00%" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "a.png\t2\tautomobile\t") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}
