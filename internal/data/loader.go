package data

import (
	"context"
	"math/rand"
	"sync"

	"github.com/samcharles93/wrn/internal/tensor"
)

// Batch is a mini-batch of normalised images and their labels.
type Batch struct {
	Index   int
	X       tensor.Mat // [len(Y) x SampleBytes]
	Y       []int
	Indices []int
}

func (b *Batch) Len() int { return len(b.Y) }

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	// Workers is the number of goroutines preparing batches; 0 prepares
	// them on the calling goroutine.
	Workers int
	Seed    int64
}

// Loader iterates a Dataset in mini-batches. Batches are delivered in order
// regardless of how many workers prepare them.
type Loader struct {
	ds       Dataset
	pipeline *Pipeline
	cfg      LoaderConfig
}

func NewLoader(ds Dataset, pipeline *Pipeline, cfg LoaderConfig) *Loader {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	return &Loader{ds: ds, pipeline: pipeline, cfg: cfg}
}

func (l *Loader) Dataset() Dataset { return l.ds }

// NumBatches returns the number of batches per epoch, including a final
// short batch.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Order returns the sample order for an epoch. Shuffled orders depend only
// on the seed and the epoch.
func (l *Loader) Order(epoch int) []int {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		rng := rand.New(rand.NewSource(l.cfg.Seed + int64(epoch)*7919))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// Each calls fn for every batch of the epoch in order. It stops at the
// first error from fn or when ctx is cancelled.
func (l *Loader) Each(ctx context.Context, epoch int, fn func(*Batch) error) error {
	order := l.Order(epoch)
	n := l.NumBatches()
	if n == 0 {
		return nil
	}

	if l.cfg.Workers == 0 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(l.build(order, epoch, i)); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan *Batch, n)
	for i := range results {
		results[i] = make(chan *Batch, 1)
	}
	jobs := make(chan int)
	// window bounds how far preparation may run ahead of consumption.
	window := make(chan struct{}, 2*l.cfg.Workers)

	var wg sync.WaitGroup
	for w := 0; w < l.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] <- l.build(order, epoch, i)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
	for i := 0; i < n && err == nil; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case b := <-results[i]:
			<-window
			err = fn(b)
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	cancel()
	wg.Wait()
	return err
}

func (l *Loader) build(order []int, epoch, i int) *Batch {
	start := i * l.cfg.BatchSize
	end := min(start+l.cfg.BatchSize, len(order))
	idx := order[start:end]

	// Each batch gets its own RNG so augmentation does not depend on which
	// worker prepared it.
	rng := rand.New(rand.NewSource(l.cfg.Seed ^ int64(epoch)<<32 ^ int64(i)))
	b := &Batch{
		Index:   i,
		X:       tensor.NewMat(len(idx), SampleBytes),
		Y:       make([]int, len(idx)),
		Indices: append([]int(nil), idx...),
	}
	for r, si := range idx {
		img, label := l.ds.Sample(si)
		l.pipeline.Apply(b.X.Row(r), img, rng)
		b.Y[r] = label
	}
	return b
}
