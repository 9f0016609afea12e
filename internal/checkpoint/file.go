package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/nn"
	"github.com/samcharles93/wrn/internal/optim"
)

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

type metadata struct {
	Format         string          `json:"format"`
	Version        int             `json:"version"`
	Epoch          int             `json:"epoch"`
	RunID          string          `json:"run_id"`
	Created        time.Time       `json:"created"`
	OptimizerSteps int64           `json:"optimizer_steps"`
	Options        hparams.Options `json:"opt"`
}

type entry struct {
	name  string
	shape []int
	data  []float32
}

func (c *Checkpoint) entries() []entry {
	out := make([]entry, 0, len(c.Model)+len(c.Optimizer.Momentum))
	for name, t := range c.Model {
		out = append(out, entry{name: modelPrefix + name, shape: t.Shape, data: t.Data})
	}
	for name, buf := range c.Optimizer.Momentum {
		out = append(out, entry{name: optimPrefix + name, shape: []int{len(buf)}, data: buf})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Save writes the checkpoint to path atomically, creating parent
// directories as needed.
func Save(path string, c *Checkpoint) error {
	entries := c.entries()

	header := make(map[string]any, len(entries)+1)
	var off int64
	for _, e := range entries {
		n := int64(len(e.data)) * 4
		header[e.name] = tensorHeader{
			DType:       dtypeF32,
			Shape:       e.shape,
			DataOffsets: []int64{off, off + n},
		}
		off += n
	}
	header[metadataKey] = metadata{
		Format:         FormatName,
		Version:        FormatVersion,
		Epoch:          c.Epoch,
		RunID:          c.RunID,
		Created:        c.Created,
		OptimizerSteps: c.Optimizer.Steps,
		Options:        c.Options,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("checkpoint: encode header: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}

	w := bufio.NewWriterSize(tmp, 1<<20)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return cleanup(err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return cleanup(err)
	}
	var f32 [4]byte
	for _, e := range entries {
		for _, v := range e.data {
			binary.LittleEndian.PutUint32(f32[:], math.Float32bits(v))
			if _, err := w.Write(f32[:]); err != nil {
				return cleanup(err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release() }()
	ck, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ck, nil
}

// mapFile returns the file contents, mmapped where possible and read in
// full otherwise.
func mapFile(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	size := st.Size()
	if size < 8 || size > int64(int(^uint(0)>>1)) {
		return nil, nil, fmt.Errorf("%w: size %d", ErrCorrupt, size)
	}

	if data, release, err := mmapFile(f, int(size)); err == nil {
		return data, release, nil
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}

func parse(data []byte) (*Checkpoint, error) {
	if len(data) < 8 {
		return nil, ErrCorrupt
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen == 0 || headerLen > headerLenMax || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d", ErrCorrupt, headerLen)
	}
	body := data[8+headerLen:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	metaRaw, ok := raw[metadataKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCorrupt, metadataKey)
	}
	var meta metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	if meta.Format != FormatName || meta.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %s v%d", ErrUnsupported, meta.Format, meta.Version)
	}
	delete(raw, metadataKey)

	ck := &Checkpoint{
		Model:   make(map[string]nn.Tensor),
		Epoch:   meta.Epoch,
		Options: meta.Options,
		RunID:   meta.RunID,
		Created: meta.Created,
		Optimizer: optim.State{
			Steps:    meta.OptimizerSteps,
			Momentum: make(map[string][]float32),
		},
	}

	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorrupt, name, err)
		}
		values, err := readF32(body, name, th)
		if err != nil {
			return nil, err
		}
		switch {
		case strings.HasPrefix(name, optimPrefix):
			ck.Optimizer.Momentum[strings.TrimPrefix(name, optimPrefix)] = values
		case strings.HasPrefix(name, modelPrefix):
			ck.Model[strings.TrimPrefix(name, modelPrefix)] = nn.Tensor{
				Shape: slices.Clone(th.Shape),
				Data:  values,
			}
		default:
			return nil, fmt.Errorf("%w: unexpected tensor %s", ErrCorrupt, name)
		}
	}
	return ck, nil
}

// readF32 copies a tensor's values out of body so they outlive the mapping.
func readF32(body []byte, name string, th tensorHeader) ([]float32, error) {
	if th.DType != dtypeF32 {
		return nil, fmt.Errorf("%w: tensor %s dtype %s", ErrUnsupported, name, th.DType)
	}
	if len(th.DataOffsets) != 2 {
		return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorrupt, name)
	}
	start, end := th.DataOffsets[0], th.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(body)) {
		return nil, fmt.Errorf("%w: tensor %s: offsets [%d,%d) outside %d bytes", ErrCorrupt, name, start, end, len(body))
	}
	n := 1
	for _, d := range th.Shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: tensor %s: negative dim", ErrCorrupt, name)
		}
		n *= d
	}
	if int64(n)*4 != end-start {
		return nil, fmt.Errorf("%w: tensor %s: shape %v does not match %d bytes", ErrCorrupt, name, th.Shape, end-start)
	}
	raw := body[start:end]
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
