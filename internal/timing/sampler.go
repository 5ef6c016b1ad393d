// Package timing implements the Timing Manager: the credit-issue engine
// that turns a traffic specification into a precisely timed stream of
// Credits, in concurrency, request-rate, or fixed-schedule mode.
//
// Samplers are grounded on internal/vu/operation_sampler.go's
// OperationSampler (a weighted cumulative-sum draw over a *rand.Rand),
// generalized into three interchangeable strategies constructed from the
// same root-seeded generator so construction order never perturbs the
// resulting sequence.
package timing

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Sampler selects the next conversation ID to issue a credit for.
type Sampler interface {
	Next() string
}

// SequentialSampler round-robins through ids in order.
type SequentialSampler struct {
	ids []string
	idx atomic.Int64
}

func NewSequentialSampler(ids []string) *SequentialSampler {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &SequentialSampler{ids: cp}
}

func (s *SequentialSampler) Next() string {
	n := s.idx.Add(1) - 1
	return s.ids[int(n)%len(s.ids)]
}

// RandomSampler draws uniformly, with replacement, from ids.
type RandomSampler struct {
	mu  sync.Mutex
	ids []string
	rng *rand.Rand
}

func NewRandomSampler(ids []string, rng *rand.Rand) *RandomSampler {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return &RandomSampler{ids: cp, rng: rng}
}

func (s *RandomSampler) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[s.rng.IntN(len(s.ids))]
}

// ShuffleSampler draws without replacement from a Fisher-Yates
// permutation of ids, reshuffling with a freshly derived order once
// exhausted.
type ShuffleSampler struct {
	mu    sync.Mutex
	ids   []string
	rng   *rand.Rand
	order []int
	pos   int
}

func NewShuffleSampler(ids []string, rng *rand.Rand) *ShuffleSampler {
	cp := make([]string, len(ids))
	copy(cp, ids)
	s := &ShuffleSampler{ids: cp, rng: rng}
	s.reshuffle()
	return s
}

func (s *ShuffleSampler) reshuffle() {
	s.order = make([]int, len(s.ids))
	for i := range s.order {
		s.order[i] = i
	}
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.pos = 0
}

func (s *ShuffleSampler) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.order) {
		s.reshuffle()
	}
	id := s.ids[s.order[s.pos]]
	s.pos++
	return id
}

// SamplerKind names one of the three strategies, used by the explicit
// construction table in NewSampler.
type SamplerKind string

const (
	SamplerSequential SamplerKind = "sequential"
	SamplerRandom     SamplerKind = "random"
	SamplerShuffle    SamplerKind = "shuffle"
)

// NewSampler builds the Sampler named by kind from a fixed,
// compile-time-known table — the explicit construction table the Design
// Notes require in place of a runtime-registered dispatch map.
func NewSampler(kind SamplerKind, ids []string, rng *rand.Rand) Sampler {
	switch kind {
	case SamplerRandom:
		return NewRandomSampler(ids, rng)
	case SamplerShuffle:
		return NewShuffleSampler(ids, rng)
	default:
		return NewSequentialSampler(ids)
	}
}
