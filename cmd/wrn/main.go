package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "wrn",
		Usage: "Wide ResNet training and inference for CIFAR-10",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			trainCmd(),
			testCmd(),
			predictCmd(),
			serveCmd(),
			relnetCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the logger selected by the logging flags (or the
// config file) into the command context.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyLoggingConfig(cmd, LoadConfig())
	log, err := logger.Setup(os.Stderr, logLevel, logFormat, debug)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
