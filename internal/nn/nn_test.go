package nn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/samcharles93/wrn/internal/tensor"
)

func randMat(r, c int, rng *rand.Rand) tensor.Mat {
	m := tensor.NewMat(r, c)
	for i := range m.Data {
		m.Data[i] = float32(rng.NormFloat64())
	}
	return m
}

// weighted is a fixed linear functional L(out) = sum(out * w) used to turn
// a layer output into a scalar for finite-difference checks.
func weighted(out *tensor.Mat, w []float32) float64 {
	var s float64
	for i, v := range out.Data {
		s += float64(v) * float64(w[i])
	}
	return s
}

// jitterBiases moves every bias and norm parameter off its initial value so
// no activation sits exactly on a ReLU kink, where a central difference
// only sees half the slope.
func jitterBiases(ps Params, rng *rand.Rand) {
	for _, p := range ps {
		if p.W.R != 1 {
			continue
		}
		for i := range p.W.Data {
			p.W.Data[i] += float32(0.5 * rng.NormFloat64())
		}
	}
}

func checkGrad(t *testing.T, name string, analytic float32, f func() float64, x *float32) {
	t.Helper()
	const eps = 1e-3
	orig := *x
	*x = orig + eps
	lp := f()
	*x = orig - eps
	lm := f()
	*x = orig
	numeric := (lp - lm) / (2 * eps)
	diff := math.Abs(numeric - float64(analytic))
	if diff > 2e-2*math.Max(1, math.Abs(numeric)) {
		t.Fatalf("%s: analytic %f numeric %f", name, analytic, numeric)
	}
}

func TestLinearGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear("fc", 4, 3, 1)
	l.Init(rng)
	for i := range l.Bias.W.Data {
		l.Bias.W.Data[i] = float32(rng.NormFloat64())
	}
	x := randMat(5, 4, rng)
	w := randMat(5, 3, rng).Data

	var out, dx tensor.Mat
	l.Forward(&out, &x)
	dy := tensor.NewMatFromData(5, 3, append([]float32(nil), w...))
	l.Backward(&dx, &dy)

	loss := func() float64 {
		var o tensor.Mat
		l.Forward(&o, &x)
		return weighted(&o, w)
	}
	for i := range l.Weight.W.Data {
		checkGrad(t, "weight", l.Weight.G.Data[i], loss, &l.Weight.W.Data[i])
	}
	for i := range l.Bias.W.Data {
		checkGrad(t, "bias", l.Bias.G.Data[i], loss, &l.Bias.W.Data[i])
	}
	for i := range x.Data {
		checkGrad(t, "input", dx.Data[i], loss, &x.Data[i])
	}
}

func TestBlockGradients(t *testing.T) {
	for _, tc := range []struct {
		name    string
		in, out int
	}{
		{"identity", 4, 4},
		{"projection", 3, 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(2))
			b := NewBlock("b", tc.in, tc.out, 0, rng, 1)
			b.Init(rng)
			jitterBiases(b.Params(), rng)
			x := randMat(3, tc.in, rng)
			w := randMat(3, tc.out, rng).Data

			var out, dx tensor.Mat
			b.Forward(&out, &x, true)
			dy := tensor.NewMatFromData(3, tc.out, append([]float32(nil), w...))
			b.Backward(&dx, &dy)

			loss := func() float64 {
				var o tensor.Mat
				b.Forward(&o, &x, false)
				return weighted(&o, w)
			}
			for _, p := range b.Params() {
				for i := range p.W.Data {
					checkGrad(t, p.Name, p.G.Data[i], loss, &p.W.Data[i])
				}
			}
			for i := range x.Data {
				checkGrad(t, "input", dx.Data[i], loss, &x.Data[i])
			}
		})
	}
}

func TestLayerNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	n := NewLayerNorm("norm", 5)
	jitterBiases(n.Params(), rng)
	x := randMat(3, 5, rng)
	w := randMat(3, 5, rng).Data

	var out, dx tensor.Mat
	n.Forward(&out, &x)
	dy := tensor.NewMatFromData(3, 5, append([]float32(nil), w...))
	n.Backward(&dx, &dy)

	loss := func() float64 {
		var o tensor.Mat
		n.Forward(&o, &x)
		return weighted(&o, w)
	}
	for _, p := range n.Params() {
		for i := range p.W.Data {
			checkGrad(t, p.Name, p.G.Data[i], loss, &p.W.Data[i])
		}
	}
	for i := range x.Data {
		checkGrad(t, "input", dx.Data[i], loss, &x.Data[i])
	}
}

func TestLayerNormRowStatistics(t *testing.T) {
	n := NewLayerNorm("norm", 4)
	x := tensor.NewMatFromData(2, 4, []float32{1, 2, 3, 4, 100, 300, 500, 700})
	var out tensor.Mat
	n.Forward(&out, &x)
	for i := 0; i < out.R; i++ {
		var mean, sq float64
		for _, v := range out.Row(i) {
			mean += float64(v)
			sq += float64(v) * float64(v)
		}
		mean /= 4
		if math.Abs(mean) > 1e-5 || math.Abs(sq/4-1) > 1e-3 {
			t.Fatalf("row %d: mean %f mean square %f", i, mean, sq/4)
		}
	}
}

func TestWideResNetLogitsBounded(t *testing.T) {
	cfg := Config{Depth: 16, WidenFactor: 2, NumClasses: 10, Workers: 1, Seed: 9}
	m, err := NewWideResNet(cfg)
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	m.Init()
	x := randMat(4, InputDim, rand.New(rand.NewSource(10)))
	for i := range x.Data {
		x.Data[i] *= 100
	}
	var logits tensor.Mat
	m.Forward(&logits, &x)
	for i, v := range logits.Data {
		if math.IsNaN(float64(v)) || math.Abs(float64(v)) > 50 {
			t.Fatalf("logit %d = %f", i, v)
		}
	}
}

func TestCrossEntropyGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	logits := randMat(4, 5, rng)
	targets := []int{0, 4, 2, 2}

	var grad tensor.Mat
	if _, err := CrossEntropy(&logits, targets, &grad); err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	loss := func() float64 {
		l, _ := CrossEntropy(&logits, targets, nil)
		return l
	}
	for i := range logits.Data {
		checkGrad(t, "logit", grad.Data[i], loss, &logits.Data[i])
	}
}

func TestCrossEntropyUniform(t *testing.T) {
	logits := tensor.NewMat(2, 10)
	loss, err := CrossEntropy(&logits, []int{3, 7}, nil)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if math.Abs(loss-math.Log(10)) > 1e-6 {
		t.Fatalf("expected ln(10), got %f", loss)
	}
	if _, err := CrossEntropy(&logits, []int{3, 10}, nil); err == nil {
		t.Fatal("expected out-of-range target error")
	}
}

func smallConfig() Config {
	return Config{
		Depth:       10,
		WidenFactor: 1,
		DropoutRate: 0,
		NumClasses:  3,
		InputDim:    6,
		Workers:     1,
		Seed:        4,
	}
}

func TestWideResNetShape(t *testing.T) {
	m, err := NewWideResNet(Config{Depth: 16, WidenFactor: 2, NumClasses: 10, Workers: 1})
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	if len(m.Blocks) != 6 {
		t.Fatalf("expected 6 blocks, got %d", len(m.Blocks))
	}
	wantOut := []int{32, 32, 64, 64, 128, 128}
	for i, b := range m.Blocks {
		if b.Out != wantOut[i] {
			t.Fatalf("block %d width: got %d want %d", i, b.Out, wantOut[i])
		}
	}
	if m.Head.In != 128 || m.Head.Out != 10 {
		t.Fatalf("unexpected head %dx%d", m.Head.In, m.Head.Out)
	}
	if m.Stem.In != InputDim {
		t.Fatalf("expected default input dim %d, got %d", InputDim, m.Stem.In)
	}
	if _, err := NewWideResNet(Config{Depth: 12, WidenFactor: 1, NumClasses: 10}); err == nil {
		t.Fatal("expected depth validation error")
	}
}

func TestWideResNetGradients(t *testing.T) {
	m, err := NewWideResNet(smallConfig())
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	m.Init()
	m.Train()

	rng := rand.New(rand.NewSource(5))
	jitterBiases(m.Params(), rng)
	x := randMat(4, 6, rng)
	targets := []int{0, 1, 2, 1}

	var logits, dlogits tensor.Mat
	m.Forward(&logits, &x)
	if _, err := CrossEntropy(&logits, targets, &dlogits); err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	m.Params().ZeroGrad()
	m.Backward(&dlogits)

	loss := func() float64 {
		var o tensor.Mat
		m.Forward(&o, &x)
		l, _ := CrossEntropy(&o, targets, nil)
		return l
	}
	// Spot-check a few entries of every parameter.
	for _, p := range m.Params() {
		for i := 0; i < len(p.W.Data); i += 1 + len(p.W.Data)/4 {
			checkGrad(t, p.Name, p.G.Data[i], loss, &p.W.Data[i])
		}
	}
}

func TestDropoutOnlyInTraining(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(6)))
	x := tensor.NewMat(1, 1000)
	for i := range x.Data {
		x.Data[i] = 1
	}
	d.Forward(&x, false)
	for _, v := range x.Data {
		if v != 1 {
			t.Fatal("dropout modified activations in eval mode")
		}
	}
	d.Forward(&x, true)
	zeros := 0
	for _, v := range x.Data {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("unexpected activation %f", v)
		}
	}
	if zeros < 400 || zeros > 600 {
		t.Fatalf("expected about half dropped, got %d", zeros)
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	a, err := NewWideResNet(smallConfig())
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	a.Init()

	cfg := smallConfig()
	cfg.Seed = 99
	b, err := NewWideResNet(cfg)
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	b.Init()

	if err := b.Params().LoadStateDict(a.Params().StateDict()); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}
	for i, p := range a.Params() {
		q := b.Params()[i]
		for j := range p.W.Data {
			if p.W.Data[j] != q.W.Data[j] {
				t.Fatalf("%s[%d] differs after load", p.Name, j)
			}
		}
	}

	sd := a.Params().StateDict()
	delete(sd, "head.bias")
	if err := b.Params().LoadStateDict(sd); !errors.Is(err, ErrMissingParam) {
		t.Fatalf("expected ErrMissingParam, got %v", err)
	}

	sd = a.Params().StateDict()
	sd["stem.weight"] = Tensor{Shape: []int{1, 2}, Data: []float32{1, 2}}
	if err := b.Params().LoadStateDict(sd); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestPredictProbabilities(t *testing.T) {
	m, err := NewWideResNet(smallConfig())
	if err != nil {
		t.Fatalf("NewWideResNet: %v", err)
	}
	m.Init()
	m.Train()
	x := randMat(2, 6, rand.New(rand.NewSource(7)))
	probs := m.Predict(&x)
	for i := 0; i < probs.R; i++ {
		var sum float32
		for _, p := range probs.Row(i) {
			sum += p
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d sums to %f", i, sum)
		}
	}
	if !m.Training() {
		t.Fatal("Predict must restore the training mode")
	}
}
