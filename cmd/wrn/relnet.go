package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/logger"
	"github.com/samcharles93/wrn/internal/relnet"
)

var errOverridesNeedOpts = errors.New("config overrides must follow --opts")

func relnetCmd() *cli.Command {
	var (
		configFile string
		withOpts   bool
		freeze     bool
	)

	return &cli.Command{
		Name:      "relnet-config",
		Usage:     "Print the RelationNet detection config after merging a YAML file and overrides",
		ArgsUsage: "[--opts KEY VALUE ...]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "RelationNet YAML config (supports _BASE_)",
				Value:       relnet.DefaultConfigFile,
				Destination: &configFile,
			},
			&cli.BoolFlag{
				Name:        "opts",
				Usage:       "treat the remaining arguments as KEY VALUE override pairs",
				Destination: &withOpts,
			},
			&cli.BoolFlag{
				Name:        "freeze",
				Usage:       "freeze the config before printing",
				Destination: &freeze,
			},
		}, loggingFlags()...),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := relnet.DefaultConfig()
			if err := relnet.AddRelationNetConfig(cfg, configFile); err != nil {
				return err
			}
			args := cmd.Args().Slice()
			if len(args) > 0 && !withOpts {
				return fmt.Errorf("%w: got %q", errOverridesNeedOpts, args[0])
			}
			if err := cfg.MergeFromList(args); err != nil {
				return err
			}
			block, err := relnet.RelationNet(cfg)
			if err != nil {
				return err
			}
			log.Debug("merged relationnet config", "file", configFile, "overrides", len(args)/2, "feat_dim", block.FeatDim, "num_relation", block.NumRelation)
			if freeze {
				cfg.Freeze()
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(os.Stdout, out)
			return err
		},
	}
}
