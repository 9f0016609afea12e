package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/wrn/internal/checkpoint"
	"github.com/samcharles93/wrn/internal/hparams"
)

const (
	envDataDir  = "WRN_DATA_DIR"
	envModelDir = "WRN_MODEL_DIR"

	latestCheckpoint = "latest"
)

// applyEnvDirs fills directories from the environment unless the flag was
// given explicitly. isSet reports whether a flag was set on the command line.
func applyEnvDirs(isSet func(string) bool, o *hparams.Options) {
	if v := strings.TrimSpace(os.Getenv(envDataDir)); v != "" && !isSet("data-dir") {
		o.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envModelDir)); v != "" && !isSet("model-dir") {
		o.ModelDir = v
	}
}

// resolveCheckpoint maps "" and "latest" to the newest checkpoint in the
// run's model folder; anything else is taken as a path.
func resolveCheckpoint(ref string, o *hparams.Options) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref != "" && ref != latestCheckpoint {
		return ref, nil
	}
	folder := checkpoint.ModelFolder(o.ModelDir, o)
	path, err := checkpoint.Latest(folder)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNoCheckpoints) {
			return "", fmt.Errorf("%w; pass --checkpoint or train first", err)
		}
		return "", err
	}
	return path, nil
}

// parseGPUs parses "0,1" into device ids. An empty string yields [0].
func parseGPUs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{0}, nil
	}
	var ids []int
	for part := range strings.SplitSeq(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid --gpu value %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
