package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/logger"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/optim"
	"github.com/samcharles93/wrn/internal/trainer"
)

var ErrTestOnlyNeedsCheckpoint = errors.New("test-only mode requires a checkpoint to resume from")

// buildOptions assembles the run's hyperparameters: flags, then the
// environment, then the config file, then defaults.
func buildOptions(cmd *cli.Command) (hparams.Options, error) {
	o := opts.Clone()
	applyTrainConfig(cmd, LoadConfig(), &o)
	applyEnvDirs(cmd.IsSet, &o)

	var err error
	if o.LRDecayEpochs, err = hparams.ParseDecayEpochs(decayEpochs); err != nil {
		return o, err
	}
	if o.GPU, err = parseGPUs(gpuIDs); err != nil {
		return o, err
	}
	return o, o.Validate()
}

// loadResume loads the checkpoint named by o.Resume. A missing checkpoint,
// or a path that is not a regular file, is not an error: training starts
// from scratch.
func loadResume(o hparams.Options, log logger.Logger) (*checkpoint.Checkpoint, hparams.Options, error) {
	if o.Resume == "" {
		return nil, o, nil
	}
	path, err := resolveCheckpoint(o.Resume, &o)
	var ck *checkpoint.Checkpoint
	if err == nil {
		ck, err = checkpoint.Load(path)
	}
	switch {
	case errors.Is(err, checkpoint.ErrNotFound), errors.Is(err, checkpoint.ErrNoCheckpoints):
		log.Warn("no checkpoint found, training from scratch", "resume", o.Resume)
		return nil, o, nil
	case err != nil:
		return nil, o, err
	}

	merged := o.MergeResumed(ck.Options)
	merged.StartEpoch = ck.Epoch + 1
	log.Info("resumed checkpoint", "path", path, "epoch", ck.Epoch, "run_id", ck.RunID)
	return ck, merged, nil
}

// runSession trains and tests, or only tests when o.TestOnly is set.
func runSession(ctx context.Context, o hparams.Options) error {
	log := logger.FromContext(ctx)

	ck, o, err := loadResume(o, log)
	if err != nil {
		return err
	}
	if o.TestOnly && ck == nil {
		return ErrTestOnlyNeedsCheckpoint
	}

	model, err := nn.NewWideResNet(nn.ConfigFromOptions(&o))
	if err != nil {
		return err
	}
	opt, err := optim.NewSGD(model.Params(), optim.SGDConfig{
		LR:          o.LR,
		Momentum:    o.Momentum,
		WeightDecay: o.WeightDecay,
	})
	if err != nil {
		return err
	}
	if ck != nil {
		if err := ck.Restore(model.Params(), opt); err != nil {
			return fmt.Errorf("restore %s: %w", o.Resume, err)
		}
	} else {
		model.Init()
	}
	log.Info("model ready", "model", model.String(), "gpu", o.GPU)

	trainPipe, testPipe, err := data.Pipelines(o.Augment)
	if err != nil {
		return err
	}
	testSet, err := data.LoadCIFAR10(o.DataDir, false)
	if err != nil {
		return err
	}
	testLoader := data.NewLoader(testSet, testPipe, data.LoaderConfig{
		BatchSize: o.BatchSize,
		Workers:   o.Workers,
		Seed:      o.Seed,
	})

	options := []trainer.Option{trainer.WithLogger(log), trainer.WithOptimizer(opt)}
	if ck != nil {
		options = append(options, trainer.WithRunID(ck.RunID))
	}

	if o.TestOnly {
		tr, err := trainer.New(o, model, nil, nil, options...)
		if err != nil {
			return err
		}
		_, err = tr.Test(ctx, testLoader)
		return err
	}

	trainSet, err := data.LoadCIFAR10(o.DataDir, true)
	if err != nil {
		return err
	}
	trainLoader := data.NewLoader(trainSet, trainPipe, data.LoaderConfig{
		BatchSize: o.BatchSize,
		Shuffle:   true,
		Workers:   o.Workers,
		Seed:      o.Seed,
	})
	log.Info("datasets loaded", "train", trainSet.Len(), "test", testSet.Len(), "data_dir", o.DataDir)

	if ck != nil {
		folder := checkpoint.ModelFolder(o.ModelDir, &o)
		h, err := checkpoint.LoadHistory(filepath.Join(folder, checkpoint.HistoryFile))
		if err != nil {
			return err
		}
		options = append(options, trainer.WithHistory(h))
	}

	tr, err := trainer.New(o, model, trainLoader, testLoader, options...)
	if err != nil {
		return err
	}
	if _, err := tr.Run(ctx); err != nil {
		return err
	}
	_, err = tr.Test(ctx, testLoader)
	return err
}
