package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// PublishCall is one recorded command publish.
type PublishCall struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
	At       time.Time
}

// SubscribeCall is one recorded subscription.
type SubscribeCall struct {
	Pattern string
	QoS     byte
	At      time.Time
}

// RecordingUpstream stands in for the upstream MQTT connection.
type RecordingUpstream struct {
	mu         sync.Mutex
	subscribes []SubscribeCall
	publishes  []PublishCall

	// SubscribeErr, when set, fails every Subscribe.
	SubscribeErr error
	// PublishErrs fails publishes to the listed topics.
	PublishErrs map[string]error
}

// NewRecordingUpstream creates an upstream that accepts everything.
func NewRecordingUpstream() *RecordingUpstream {
	return &RecordingUpstream{PublishErrs: make(map[string]error)}
}

// Subscribe records the subscription.
func (u *RecordingUpstream) Subscribe(ctx context.Context, pattern string, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.SubscribeErr != nil {
		return u.SubscribeErr
	}
	u.subscribes = append(u.subscribes, SubscribeCall{Pattern: pattern, QoS: qos, At: time.Now()})
	return nil
}

// Publish records the publish, including failed attempts.
func (u *RecordingUpstream) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.publishes = append(u.publishes, PublishCall{Topic: topic, QoS: qos, Retained: retained, Payload: payload, At: time.Now()})
	return u.PublishErrs[topic]
}

// SetPublishError fails publishes to topic.
func (u *RecordingUpstream) SetPublishError(topic string, err error) {
	u.mu.Lock()
	u.PublishErrs[topic] = err
	u.mu.Unlock()
}

// Subscribes returns the recorded subscriptions.
func (u *RecordingUpstream) Subscribes() []SubscribeCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]SubscribeCall(nil), u.subscribes...)
}

// Publishes returns the recorded publishes.
func (u *RecordingUpstream) Publishes() []PublishCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]PublishCall(nil), u.publishes...)
}

// WaitForPublishes polls until at least n publishes were recorded.
func (u *RecordingUpstream) WaitForPublishes(t *testing.T, n int, timeout time.Duration) []PublishCall {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if got := u.Publishes(); len(got) >= n {
			return got
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for %d publishes (got %d)", n, len(u.Publishes()))
			return nil
		case <-ticker.C:
		}
	}
}
