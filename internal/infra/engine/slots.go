package engine

import (
	"sync"

	"cliproxy/internal/domain"
)

// Slots bounds the number of live spawn-mode processes. Every successful
// TryAcquire hands out a release func that decrements exactly once no
// matter how often it is called.
type Slots struct {
	mu      sync.Mutex
	max     int
	active  int
	metrics domain.Metrics
}

func NewSlots(max int, metrics domain.Metrics) *Slots {
	if max <= 0 {
		max = domain.DefaultMaxConcurrent
	}
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	return &Slots{max: max, metrics: metrics}
}

func (s *Slots) TryAcquire() (release func(), ok bool) {
	s.mu.Lock()
	if s.active >= s.max {
		s.mu.Unlock()
		return nil, false
	}
	s.active++
	active := s.active
	s.mu.Unlock()
	s.metrics.SetActiveSlots(active)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.active--
			active := s.active
			s.mu.Unlock()
			s.metrics.SetActiveSlots(active)
		})
	}, true
}

func (s *Slots) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Slots) Max() int {
	return s.max
}
