package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/samcharles93/wrn/internal/meter"
)

// SaveHistory writes h as indented JSON.
func SaveHistory(path string, h *meter.History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadHistory reads a history file. A missing file yields an empty history.
func LoadHistory(path string) (*meter.History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &meter.History{}, nil
		}
		return nil, err
	}
	var h meter.History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("checkpoint: decode history %s: %w", path, err)
	}
	return &h, nil
}
