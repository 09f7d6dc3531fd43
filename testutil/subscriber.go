package testutil

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"
)

// ErrInjected is returned by doubles told to fail.
var ErrInjected = stderrors.New("injected failure")

// RecordingSubscriber captures pushed text frames.
type RecordingSubscriber struct {
	id string

	mu       sync.Mutex
	messages []string
	failAt   int // fail the Nth send (1-based); 0 never fails
	sends    int
	block    bool
	closes   int
	notify   chan struct{}
}

// NewRecordingSubscriber creates a subscriber that accepts every send.
func NewRecordingSubscriber(id string) *RecordingSubscriber {
	return &RecordingSubscriber{id: id, notify: make(chan struct{}, 1)}
}

// FailOnSend makes the nth send (1-based, counted from creation) and every
// later one fail.
func (s *RecordingSubscriber) FailOnSend(n int) *RecordingSubscriber {
	s.mu.Lock()
	s.failAt = n
	s.mu.Unlock()
	return s
}

// BlockSends makes Send wait for its context to expire.
func (s *RecordingSubscriber) BlockSends() *RecordingSubscriber {
	s.mu.Lock()
	s.block = true
	s.mu.Unlock()
	return s
}

// ID returns the subscriber id.
func (s *RecordingSubscriber) ID() string {
	return s.id
}

// Send records text or fails as configured.
func (s *RecordingSubscriber) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.sends++
	fail := s.failAt > 0 && s.sends >= s.failAt
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return ErrInjected
	}

	s.mu.Lock()
	s.messages = append(s.messages, text)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close records the close.
func (s *RecordingSubscriber) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of the recorded frames.
func (s *RecordingSubscriber) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// Closed reports whether Close has been called.
func (s *RecordingSubscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

// WaitForMessages waits until at least n frames are recorded and returns them.
func (s *RecordingSubscriber) WaitForMessages(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if msgs := s.Messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			t.Fatalf("subscriber %s: timeout waiting for %d messages (got %d)", s.id, n, len(s.Messages()))
			return nil
		}
	}
}
