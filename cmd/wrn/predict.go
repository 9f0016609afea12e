package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/api"
	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/logger"
)

func predictCmd() *cli.Command {
	var top int

	return &cli.Command{
		Name:      "predict",
		Usage:     "Classify image files with a trained checkpoint",
		ArgsUsage: "IMAGE [IMAGE...]",
		Flags: append(append(modelFlags(),
			checkpointFlag(),
			&cli.IntFlag{
				Name:        "top",
				Usage:       "number of labels to print per image",
				Value:       1,
				Destination: &top,
			},
		), loggingFlags()...),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			files := cmd.Args().Slice()
			if len(files) == 0 {
				return cli.Exit("error: at least one image path is required", 1)
			}

			o := opts.Clone()
			applyModelConfig(cmd, LoadConfig(), &o)
			applyEnvDirs(cmd.IsSet, &o)
			path, err := resolveCheckpoint(checkpointPath, &o)
			if err != nil {
				return err
			}
			cls, err := api.LoadClassifier(path, 0)
			if err != nil {
				return err
			}
			info := cls.Info()
			log.Info("loaded checkpoint", "path", path, "model", info.Name, "epoch", info.Epoch)

			for _, f := range files {
				img, err := data.LoadImageFile(f)
				if err != nil {
					return err
				}
				pred, err := cls.Classify(ctx, img)
				if err != nil {
					return err
				}
				printPrediction(os.Stdout, f, pred, info.Classes, top)
			}
			return nil
		},
	}
}

func printPrediction(w io.Writer, file string, pred api.Prediction, classes []string, top int) {
	idx := make([]int, len(pred.Probabilities))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return pred.Probabilities[idx[a]] > pred.Probabilities[idx[b]]
	})
	top = max(1, min(top, len(idx)))
	for rank, i := range idx[:top] {
		label := fmt.Sprintf("class_%d", i)
		if i < len(classes) {
			label = classes[i]
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%.2f%%\n", file, rank+1, label, 100*pred.Probabilities[i])
	}
}
