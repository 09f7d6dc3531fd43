package fanout

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/sparkplug"
	"github.com/c360/sparkbridge/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

type harness struct {
	b      *Broadcaster
	q      buffer.Queue[Update]
	cancel context.CancelFunc
	done   chan error
}

func startBroadcaster(t *testing.T, opts ...Option) *harness {
	t.Helper()

	q, err := buffer.NewQueue[Update](0)
	require.NoError(t, err)
	b, err := New(q, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{b: b, q: q, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- b.Run(ctx) }()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.b.Done()
}

func (h *harness) publish(t *testing.T, key string, v sparkplug.Value) {
	t.Helper()
	require.NoError(t, h.q.Write(Update{Key: key, Value: v}))
}

func TestUpdate_Text(t *testing.T) {
	assert.Equal(t, "E3/oee = 0.87", Update{Key: "E3/oee", Value: sparkplug.Double(0.87)}.Text())
	assert.Equal(t, "E3/status = RUN", Update{Key: "E3/status", Value: sparkplug.String("RUN")}.Text())
}

func TestNew_RequiresQueue(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestBroadcaster_LastValueAndOrder(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	sub := testutil.NewRecordingSubscriber("early")
	require.NoError(t, h.b.Register(ctx, sub))

	const n = 50
	for i := 1; i <= n; i++ {
		h.publish(t, "E3/count", sparkplug.Int(int64(i)))
	}

	msgs := sub.WaitForMessages(t, n, waitTimeout)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("E3/count = %d", i+1), m)
	}

	v, ok := h.b.Lookup("E3/count")
	require.True(t, ok)
	got, _ := v.AsInt()
	assert.Equal(t, int64(n), got)
	assert.Equal(t, []string{"E3/count"}, h.b.Keys())
}

func TestBroadcaster_LateJoinerGetsSnapshotThenLive(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	observer := testutil.NewRecordingSubscriber("observer")
	require.NoError(t, h.b.Register(ctx, observer))

	const k = 5
	for i := 0; i < k; i++ {
		h.publish(t, fmt.Sprintf("E3/m%d", i), sparkplug.Int(int64(i)))
	}
	// Same key again; the snapshot must carry only the latest value
	h.publish(t, "E3/m0", sparkplug.Int(100))
	observer.WaitForMessages(t, k+1, waitTimeout)

	late := testutil.NewRecordingSubscriber("late")
	require.NoError(t, h.b.Register(ctx, late))

	snapshot := late.Messages()
	assert.Equal(t, []string{
		"E3/m0 = 100",
		"E3/m1 = 1",
		"E3/m2 = 2",
		"E3/m3 = 3",
		"E3/m4 = 4",
	}, snapshot)

	h.publish(t, "E3/m5", sparkplug.Int(5))
	msgs := late.WaitForMessages(t, k+1, waitTimeout)
	assert.Equal(t, "E3/m5 = 5", msgs[k])
	assert.Len(t, msgs, k+1, "no replay after the snapshot")
}

func TestBroadcaster_RegisterDuringTrafficHasNoGapOrDuplicate(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	const total = 500
	go func() {
		for i := 1; i <= total; i++ {
			_ = h.q.Write(Update{Key: "E3/seq", Value: sparkplug.Int(int64(i))})
		}
	}()

	time.Sleep(time.Millisecond)
	late := testutil.NewRecordingSubscriber("late")
	require.NoError(t, h.b.Register(ctx, late))

	// The late subscriber sees at most one snapshot line for E3/seq and then a
	// contiguous run up to total.
	deadline := time.Now().Add(waitTimeout)
	for {
		msgs := late.Messages()
		if len(msgs) > 0 && msgs[len(msgs)-1] == fmt.Sprintf("E3/seq = %d", total) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw final update, got %d messages", len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := late.Messages()
	var first int
	_, err := fmt.Sscanf(msgs[0], "E3/seq = %d", &first)
	require.NoError(t, err)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("E3/seq = %d", first+i), m)
	}
}

func TestBroadcaster_FailedSubscriberIsPruned(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	healthy := testutil.NewRecordingSubscriber("healthy")
	flaky := testutil.NewRecordingSubscriber("flaky").FailOnSend(2)
	require.NoError(t, h.b.Register(ctx, healthy))
	require.NoError(t, h.b.Register(ctx, flaky))
	assert.Equal(t, 2, h.b.SubscriberCount())

	h.publish(t, "E3/oee", sparkplug.Double(0.1))
	h.publish(t, "E3/oee", sparkplug.Double(0.2))
	h.publish(t, "E3/oee", sparkplug.Double(0.3))

	assert.Equal(t, []string{"E3/oee = 0.1", "E3/oee = 0.2", "E3/oee = 0.3"},
		healthy.WaitForMessages(t, 3, waitTimeout))
	assert.Equal(t, []string{"E3/oee = 0.1"}, flaky.Messages())
	assert.True(t, flaky.Closed())
	assert.False(t, healthy.Closed())
	assert.Equal(t, 1, h.b.SubscriberCount())
}

func TestBroadcaster_SlowSubscriberTimesOut(t *testing.T) {
	h := startBroadcaster(t, WithWriteTimeout(20*time.Millisecond))
	ctx := context.Background()

	fast := testutil.NewRecordingSubscriber("fast")
	wedged := testutil.NewRecordingSubscriber("wedged").BlockSends()
	require.NoError(t, h.b.Register(ctx, fast))
	require.NoError(t, h.b.Register(ctx, wedged))

	h.publish(t, "E3/status", sparkplug.String("RUN"))
	h.publish(t, "E3/status", sparkplug.String("IDLE"))

	assert.Equal(t, []string{"E3/status = RUN", "E3/status = IDLE"}, fast.WaitForMessages(t, 2, waitTimeout))
	assert.True(t, wedged.Closed())
	assert.Equal(t, 1, h.b.SubscriberCount())
}

func TestBroadcaster_SnapshotFailureRejectsSubscriber(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	observer := testutil.NewRecordingSubscriber("observer")
	require.NoError(t, h.b.Register(ctx, observer))
	h.publish(t, "E3/oee", sparkplug.Double(0.5))
	observer.WaitForMessages(t, 1, waitTimeout)

	broken := testutil.NewRecordingSubscriber("broken").FailOnSend(1)
	err := h.b.Register(ctx, broken)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSubscriberSend))
	assert.True(t, broken.Closed())
	assert.Equal(t, 1, h.b.SubscriberCount())
}

func TestBroadcaster_RegisterDuplicateID(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	require.NoError(t, h.b.Register(ctx, testutil.NewRecordingSubscriber("same")))
	err := h.b.Register(ctx, testutil.NewRecordingSubscriber("same"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateSubscriber))
}

func TestBroadcaster_Unregister(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	gone := testutil.NewRecordingSubscriber("gone")
	stays := testutil.NewRecordingSubscriber("stays")
	require.NoError(t, h.b.Register(ctx, gone))
	require.NoError(t, h.b.Register(ctx, stays))

	require.NoError(t, h.b.Unregister(ctx, "gone"))
	assert.True(t, gone.Closed())
	assert.Equal(t, 1, h.b.SubscriberCount())

	err := h.b.Unregister(ctx, "gone")
	assert.True(t, stderrors.Is(err, errors.ErrKeyNotFound))

	h.publish(t, "E3/oee", sparkplug.Double(1))
	stays.WaitForMessages(t, 1, waitTimeout)
	assert.Empty(t, gone.Messages())
}

func TestBroadcaster_StopClosesSubscribers(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	sub := testutil.NewRecordingSubscriber("a")
	require.NoError(t, h.b.Register(ctx, sub))

	h.stop()
	assert.NoError(t, <-h.done)
	assert.True(t, sub.Closed())
	assert.False(t, h.b.Running())
	assert.Equal(t, 0, h.b.SubscriberCount())

	err := h.b.Register(ctx, testutil.NewRecordingSubscriber("b"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrShuttingDown))
}

func TestBroadcaster_QueueCloseEndsRun(t *testing.T) {
	h := startBroadcaster(t)

	sub := testutil.NewRecordingSubscriber("a")
	require.NoError(t, h.b.Register(context.Background(), sub))

	h.publish(t, "E3/oee", sparkplug.Double(0.9))
	require.NoError(t, h.q.Close())

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after queue close")
	}
	assert.Equal(t, []string{"E3/oee = 0.9"}, sub.Messages())
}

func TestBroadcaster_RunTwice(t *testing.T) {
	h := startBroadcaster(t)
	require.Eventually(t, h.b.Running, waitTimeout, time.Millisecond)

	err := h.b.Run(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyStarted))
}

func TestBroadcaster_RegisterContextCancelled(t *testing.T) {
	q, err := buffer.NewQueue[Update](0)
	require.NoError(t, err)
	b, err := New(q)
	require.NoError(t, err)

	// Not running: the request can never be accepted
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Register(ctx, testutil.NewRecordingSubscriber("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcaster_SnapshotIsConsistentCopy(t *testing.T) {
	h := startBroadcaster(t)
	ctx := context.Background()

	sub := testutil.NewRecordingSubscriber("s")
	require.NoError(t, h.b.Register(ctx, sub))
	h.publish(t, "E3/oee", sparkplug.Double(0.87))
	h.publish(t, "E3/status", sparkplug.String("RUN"))
	sub.WaitForMessages(t, 2, waitTimeout)

	snap := h.b.Snapshot()
	require.Len(t, snap, 2)
	delete(snap, "E3/oee")

	_, ok := h.b.Lookup("E3/oee")
	assert.True(t, ok)
	_, ok = h.b.Lookup("E3/missing")
	assert.False(t, ok)
}

func TestBroadcaster_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h := startBroadcaster(t, WithMetrics(registry))
	ctx := context.Background()

	ok := testutil.NewRecordingSubscriber("ok")
	bad := testutil.NewRecordingSubscriber("bad").FailOnSend(1)
	require.NoError(t, h.b.Register(ctx, ok))
	require.NoError(t, h.b.Register(ctx, bad))

	h.publish(t, "E3/oee", sparkplug.Double(0.5))
	ok.WaitForMessages(t, 1, waitTimeout)
	require.Eventually(t, func() bool { return h.b.SubscriberCount() == 1 }, waitTimeout, time.Millisecond)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sparkbridge_fanout_subscribers_pruned_total"])
	assert.True(t, names["sparkbridge_cache_sets_total"])
}
