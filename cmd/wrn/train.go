package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:   "train",
		Usage:  "Train a Wide ResNet on CIFAR-10, then evaluate it on the test set",
		Flags:  append(trainingFlags(), loggingFlags()...),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			o, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			return runSession(ctx, o)
		},
	}
}

func testCmd() *cli.Command {
	return &cli.Command{
		Name:   "test",
		Usage:  "Evaluate a checkpoint on the CIFAR-10 test set",
		Flags:  append(trainingFlags(), loggingFlags()...),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			o, err := buildOptions(cmd)
			if err != nil {
				return err
			}
			o.TestOnly = true
			if o.Resume == "" {
				o.Resume = latestCheckpoint
			}
			return runSession(ctx, o)
		},
	}
}
