package nn

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/wrn/internal/hparams"
	"github.com/samcharles93/wrn/internal/tensor"
)

// InputDim is the flattened CIFAR-10 image size (3x32x32).
const InputDim = 3 * 32 * 32

// Config describes a WideResNet.
type Config struct {
	Depth       int
	WidenFactor int
	DropoutRate float64
	NumClasses  int
	InputDim    int
	// Workers bounds the goroutines used per matrix product; 0 means GOMAXPROCS.
	Workers int
	Seed    int64
}

// ConfigFromOptions maps the run's hyperparameters onto a model config.
func ConfigFromOptions(o *hparams.Options) Config {
	return Config{
		Depth:       o.Depth,
		WidenFactor: o.WidenFactor,
		DropoutRate: o.DropoutRate,
		NumClasses:  o.NumClasses,
		InputDim:    InputDim,
		Seed:        o.Seed,
	}
}

// WideResNet is a stem layer, three groups of residual blocks of widths
// 16k, 32k and 64k, a final norm + ReLU, and a linear classifier head.
type WideResNet struct {
	cfg    Config
	Stem   *Linear
	Blocks []*Block
	Norm   *LayerNorm
	Head   *Linear

	params   Params
	training bool

	acts   []tensor.Mat
	normed tensor.Mat
	final  tensor.Mat
	grads  [2]tensor.Mat
}

// NewWideResNet builds an uninitialised network. Call Init or load a
// state dict before use.
func NewWideResNet(cfg Config) (*WideResNet, error) {
	n, err := hparams.BlocksPerGroup(cfg.Depth)
	if err != nil {
		return nil, err
	}
	if cfg.WidenFactor < 1 {
		return nil, fmt.Errorf("nn: widen factor must be positive, got %d", cfg.WidenFactor)
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("nn: need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.InputDim <= 0 {
		cfg.InputDim = InputDim
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	k := cfg.WidenFactor
	widths := [4]int{16, 16 * k, 32 * k, 64 * k}

	m := &WideResNet{
		cfg:  cfg,
		Stem: NewLinear("stem", cfg.InputDim, widths[0], cfg.Workers),
	}
	in := widths[0]
	for g := 1; g <= 3; g++ {
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("group%d.block%d", g, i)
			m.Blocks = append(m.Blocks, NewBlock(name, in, widths[g], cfg.DropoutRate, rng, cfg.Workers))
			in = widths[g]
		}
	}
	m.Norm = NewLayerNorm("norm", in)
	m.Head = NewLinear("head", in, cfg.NumClasses, cfg.Workers)
	m.acts = make([]tensor.Mat, len(m.Blocks)+1)

	m.params = append(m.params, m.Stem.Params()...)
	for _, b := range m.Blocks {
		m.params = append(m.params, b.Params()...)
	}
	m.params = append(m.params, m.Norm.Params()...)
	m.params = append(m.params, m.Head.Params()...)
	return m, nil
}

// Init initialises every layer from the config seed.
func (m *WideResNet) Init() {
	rng := rand.New(rand.NewSource(m.cfg.Seed + 1))
	m.Stem.Init(rng)
	for _, b := range m.Blocks {
		b.Init(rng)
	}
	m.Norm.Init()
	m.Head.Init(rng)
}

func (m *WideResNet) Config() Config { return m.cfg }

func (m *WideResNet) Params() Params { return m.params }

// Train switches dropout on.
func (m *WideResNet) Train() { m.training = true }

// Eval switches dropout off.
func (m *WideResNet) Eval() { m.training = false }

func (m *WideResNet) Training() bool { return m.training }

// Forward computes class logits for a batch of flattened images.
func (m *WideResNet) Forward(logits, x *tensor.Mat) {
	m.Stem.Forward(&m.acts[0], x)
	for i, b := range m.Blocks {
		b.Forward(&m.acts[i+1], &m.acts[i], m.training)
	}
	m.Norm.Forward(&m.normed, &m.acts[len(m.Blocks)])
	relu(&m.final, &m.normed)
	m.Head.Forward(logits, &m.final)
}

// Backward propagates dLogits from the last Forward call.
func (m *WideResNet) Backward(dlogits *tensor.Mat) {
	cur, next := &m.grads[0], &m.grads[1]
	m.Head.Backward(cur, dlogits)
	reluBackward(cur, cur, &m.normed)
	m.Norm.Backward(cur, cur)
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		m.Blocks[i].Backward(next, cur)
		cur, next = next, cur
	}
	m.Stem.Backward(nil, cur)
}

// Predict returns class probabilities for x, leaving the mode unchanged.
func (m *WideResNet) Predict(x *tensor.Mat) tensor.Mat {
	was := m.training
	m.training = false
	defer func() { m.training = was }()

	var logits tensor.Mat
	m.Forward(&logits, x)
	for i := 0; i < logits.R; i++ {
		row := logits.Row(i)
		tensor.Softmax(row, row)
	}
	return logits
}

func (m *WideResNet) String() string {
	return fmt.Sprintf("WideResNet-%d-%d (%d blocks, %d params)", m.cfg.Depth, m.cfg.WidenFactor, len(m.Blocks), m.params.Count())
}
