package testutil

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"
)

// ErrPublisherClosed is returned by a closed RecordingPublisher.
var ErrPublisherClosed = stderrors.New("publisher is closed")

// RecordingPublisher stands in for natsclient.Client on the publish side.
// Messages are kept per subject in publish order.
type RecordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	errs     map[string]error
	closed   bool
}

// NewRecordingPublisher creates a publisher that accepts everything.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{
		messages: make(map[string][][]byte),
		errs:     make(map[string]error),
	}
}

// Publish records data under subject. Failed publishes are not recorded.
func (p *RecordingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if err := p.errs[subject]; err != nil {
		return err
	}
	p.messages[subject] = append(p.messages[subject], append([]byte(nil), data...))
	return nil
}

// SetPublishError fails publishes to subject until cleared with a nil error.
func (p *RecordingPublisher) SetPublishError(subject string, err error) {
	p.mu.Lock()
	p.errs[subject] = err
	p.mu.Unlock()
}

// Messages returns a copy of the messages published to subject.
func (p *RecordingPublisher) Messages(subject string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages[subject]...)
}

// Close makes every later Publish fail.
func (p *RecordingPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// WaitForMessages polls until subject has at least n messages.
func (p *RecordingPublisher) WaitForMessages(t *testing.T, subject string, n int, timeout time.Duration) [][]byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if got := p.Messages(subject); len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d messages on %s (got %d)", n, subject, len(p.Messages(subject)))
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}
