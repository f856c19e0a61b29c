package orchestrator

import (
	"context"
	"sync"
)

// RotatingTopicSource cycles through a fixed topic bank in order,
// wrapping around once exhausted. The spec leaves topic curation
// unspecified beyond "topic reference" being a Contest field; a real
// deployment would swap this for a database-backed bank, which is why
// NextTopic takes a ctx even though this implementation never blocks.
type RotatingTopicSource struct {
	mu     sync.Mutex
	topics []string
	next   int
}

// NewRotatingTopicSource builds a RotatingTopicSource over topics. It
// panics if topics is empty since a contest cannot start without one.
func NewRotatingTopicSource(topics []string) *RotatingTopicSource {
	if len(topics) == 0 {
		panic("orchestrator: RotatingTopicSource requires at least one topic")
	}
	cp := make([]string, len(topics))
	copy(cp, topics)
	return &RotatingTopicSource{topics: cp}
}

// NextTopic returns the next topic in rotation.
func (s *RotatingTopicSource) NextTopic(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.topics[s.next]
	s.next = (s.next + 1) % len(s.topics)
	return t, nil
}
