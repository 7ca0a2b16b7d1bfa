package random

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/fx"
)

// Source is the randomness seam used by the reward calculator and the
// random-winner selection at expiry. Tests substitute a fixed sequence.
type Source interface {
	Int63n(n int64) int64
	Perm(n int) []int
}

var Module = fx.Module("random",
	fx.Provide(NewSource),
)

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a time-seeded Source safe for concurrent use.
func NewSource() Source {
	return &lockedSource{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *lockedSource) Int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}

func (s *lockedSource) Perm(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Perm(n)
}

// Fixed returns a Source that replays the given values in order, cycling when
// exhausted, and yields the identity permutation. Intended for tests.
func Fixed(values ...int64) Source {
	return &fixedSource{values: values}
}

type fixedSource struct {
	mu     sync.Mutex
	values []int64
	next   int
}

func (s *fixedSource) Int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)] % n
	s.next++
	return v
}

func (s *fixedSource) Perm(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
