package main

import (
	"context"
	"errors"
	"slices"
	"testing"
)

const relnetConfig = "../../configs/relationnet_faster_R_50_C4.yaml"

func TestRelnetCmdLogging(t *testing.T) {
	cmd := relnetCmd()
	if cmd.Before == nil {
		t.Fatal("relnet-config must install the logger")
	}
	var names []string
	for _, f := range cmd.Flags {
		names = append(names, f.Names()...)
	}
	for _, want := range []string{"log-level", "log-format", "debug", "config-file", "opts"} {
		if !slices.Contains(names, want) {
			t.Fatalf("missing flag %q in %v", want, names)
		}
	}
}

func TestRelnetCmdRun(t *testing.T) {
	t.Run("overrides after opts", func(t *testing.T) {
		err := relnetCmd().Run(context.Background(), []string{
			"relnet-config", "--config-file", relnetConfig, "--log-level", "error",
			"--opts", "MODEL.RELATIONNET.FEAT_DIM", "512",
		})
		if err != nil {
			t.Fatalf("relnet-config returned error: %v", err)
		}
	})

	t.Run("overrides without opts", func(t *testing.T) {
		err := relnetCmd().Run(context.Background(), []string{
			"relnet-config", "--config-file", relnetConfig, "--log-level", "error",
			"MODEL.RELATIONNET.FEAT_DIM", "512",
		})
		if !errors.Is(err, errOverridesNeedOpts) {
			t.Fatalf("expected errOverridesNeedOpts, got %v", err)
		}
	})
}
