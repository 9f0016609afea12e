package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/hparams"
)

var (
	opts        = hparams.Default()
	decayEpochs string
	gpuIDs      string

	checkpointPath string
	logLevel       string
	logFormat      string
	debug          bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "depth",
			Usage:       "network depth; (depth-4) must be divisible by 6",
			Value:       opts.Depth,
			Destination: &opts.Depth,
		},
		&cli.IntFlag{
			Name:        "widen-factor",
			Aliases:     []string{"widen_factor"},
			Usage:       "width multiplier k",
			Value:       opts.WidenFactor,
			Destination: &opts.WidenFactor,
		},
		&cli.IntFlag{
			Name:        "num-classes",
			Usage:       "number of output classes",
			Value:       opts.NumClasses,
			Destination: &opts.NumClasses,
		},
		&cli.StringFlag{
			Name:        "model-dir",
			Usage:       "directory holding WRN_<depth>_<widen> checkpoint folders (env " + envModelDir + ")",
			Value:       opts.ModelDir,
			Destination: &opts.ModelDir,
		},
	}
}

func trainingFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.Float64Flag{
			Name:        "lr",
			Usage:       "initial learning rate",
			Value:       opts.LR,
			Destination: &opts.LR,
		},
		&cli.Float64Flag{
			Name:        "dropout-rate",
			Aliases:     []string{"dropout_rate"},
			Usage:       "dropout probability inside residual blocks",
			Value:       opts.DropoutRate,
			Destination: &opts.DropoutRate,
		},
		&cli.IntFlag{
			Name:        "epochs",
			Usage:       "last epoch to train",
			Value:       opts.Epochs,
			Destination: &opts.Epochs,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Aliases:     []string{"batch_size"},
			Usage:       "mini-batch size",
			Value:       opts.BatchSize,
			Destination: &opts.BatchSize,
		},
		&cli.StringFlag{
			Name:        "lr-decay-epochs",
			Aliases:     []string{"lr_decay_epochs"},
			Usage:       "comma-separated epochs after which the learning rate decays",
			Value:       hparams.FormatDecayEpochs(opts.LRDecayEpochs),
			Destination: &decayEpochs,
		},
		&cli.Float64Flag{
			Name:        "lr-decay-rate",
			Aliases:     []string{"lr_decay_rate"},
			Usage:       "learning rate multiplier applied per decay epoch",
			Value:       opts.LRDecayRate,
			Destination: &opts.LRDecayRate,
		},
		&cli.Float64Flag{
			Name:        "momentum",
			Usage:       "SGD momentum",
			Value:       opts.Momentum,
			Destination: &opts.Momentum,
		},
		&cli.Float64Flag{
			Name:        "weight-decay",
			Aliases:     []string{"weight_decay"},
			Usage:       "L2 weight decay",
			Value:       opts.WeightDecay,
			Destination: &opts.WeightDecay,
		},
		&cli.StringFlag{
			Name:        "augment",
			Usage:       "input preprocessing (meanstd, zac)",
			Value:       opts.Augment,
			Destination: &opts.Augment,
		},
		&cli.StringFlag{
			Name:        "resume",
			Usage:       "checkpoint to resume from, or \"latest\"",
			Destination: &opts.Resume,
		},
		&cli.IntFlag{
			Name:        "start-epoch",
			Aliases:     []string{"start_epoch"},
			Usage:       "first epoch to train (overridden when resuming)",
			Value:       opts.StartEpoch,
			Destination: &opts.StartEpoch,
		},
		&cli.BoolFlag{
			Name:        "test-only",
			Aliases:     []string{"test_only"},
			Usage:       "only evaluate the resumed checkpoint on the test set",
			Destination: &opts.TestOnly,
		},
		&cli.IntFlag{
			Name:        "save-freq",
			Aliases:     []string{"save_freq"},
			Usage:       "write a checkpoint every N epochs",
			Value:       opts.SaveFreq,
			Destination: &opts.SaveFreq,
		},
		&cli.StringFlag{
			Name:        "gpu",
			Usage:       "comma-separated device ids (recorded in checkpoints)",
			Value:       "0",
			Destination: &gpuIDs,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "data loading goroutines",
			Value:       opts.Workers,
			Destination: &opts.Workers,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "CIFAR-10 binary dataset location (env " + envDataDir + ")",
			Value:       opts.DataDir,
			Destination: &opts.DataDir,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "random seed for initialisation, shuffling and augmentation",
			Value:       opts.Seed,
			Destination: &opts.Seed,
		},
	}
	return append(flags, modelFlags()...)
}

func checkpointFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "checkpoint",
		Aliases:     []string{"c"},
		Usage:       "checkpoint file; defaults to the latest in the model folder",
		Destination: &checkpointPath,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
