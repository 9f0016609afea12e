package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wrn/internal/api"
	"github.com/samcharles93/wrn/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		workers     int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the classification API for a checkpoint",
		Flags: append(append(modelFlags(),
			checkpointFlag(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "gemm-workers",
				Usage:       "goroutines per matrix product (0 = GOMAXPROCS)",
				Destination: &workers,
			},
		), loggingFlags()...),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			o := opts.Clone()
			applyServeConfig(cmd, LoadConfig(), &o, &addr)
			applyEnvDirs(cmd.IsSet, &o)
			path, err := resolveCheckpoint(checkpointPath, &o)
			if err != nil {
				return err
			}
			cls, err := api.LoadClassifier(path, workers)
			if err != nil {
				return err
			}
			info := cls.Info()
			log.Info("loaded checkpoint", "path", path, "model", info.Name, "epoch", info.Epoch, "parameters", info.Parameters)

			server := api.NewServer(cls, api.NewMetrics(), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					srv.Handler = server.Handler(e)
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
