package outbox

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

type stubWriter struct {
	mu      sync.Mutex
	err     error
	batches [][]kafka.Message
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

type stubRegistry struct {
	mu       sync.Mutex
	id       int
	err      error
	subjects []string
}

func (s *stubRegistry) EnsureSchema(_ context.Context, subject, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subjects = append(s.subjects, subject)
	if s.err != nil {
		return 0, s.err
	}
	return s.id, nil
}
