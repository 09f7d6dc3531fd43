package rebirth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/sparkplug"
	tu "github.com/c360/sparkbridge/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

// manualTimer hands the coordinator a channel the test fires explicitly.
type manualTimer struct {
	requested chan time.Duration
	fire      chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{requested: make(chan time.Duration, 4), fire: make(chan time.Time, 1)}
}

func (m *manualTimer) after(d time.Duration) <-chan time.Time {
	m.requested <- d
	return m.fire
}

var fixedNow = time.UnixMilli(1700000000123)

func newTestCoordinator(t *testing.T, up Upstream, timer *manualTimer, opts ...Option) *Coordinator {
	t.Helper()
	targets := BuildTargets("spBv1.0", []string{"Injection-E3", "Injection-E4"}, "MES", "IMM")
	patterns := SubscribePatterns("spBv1.0", []string{"Injection-E3", "Injection-E4"})

	opts = append([]Option{WithClock(timer.after, func() time.Time { return fixedNow })}, opts...)
	c, err := NewCoordinator(up, targets, patterns, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func waitForState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitTimeout, time.Millisecond,
		"state %s, want %s", c.State(), want)
}

func TestNewCoordinator_RequiresUpstream(t *testing.T) {
	_, err := NewCoordinator(nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCoordinator_HandshakeSequence(t *testing.T) {
	up := tu.NewRecordingUpstream()
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer, WithSettleDelay(1500*time.Millisecond))

	assert.Equal(t, StateDisconnected, c.State())
	c.HandleConnected(context.Background())

	// Subscriptions happen first, then the settle wait begins
	select {
	case d := <-timer.requested:
		assert.Equal(t, 1500*time.Millisecond, d)
	case <-time.After(waitTimeout):
		t.Fatal("settle delay never requested")
	}
	assert.Equal(t, StateAwaitingRebirthWindow, c.State())
	subs := up.Subscribes()
	require.Len(t, subs, 2)
	assert.Equal(t, "spBv1.0/Injection-E3/#", subs[0].Pattern)
	assert.Equal(t, "spBv1.0/Injection-E4/#", subs[1].Pattern)
	assert.Empty(t, up.Publishes(), "no command before the settle delay elapses")

	timer.fire <- fixedNow
	waitForState(t, c, StateSteady)

	pubs := up.Publishes()
	require.Len(t, pubs, 4, "exactly one command per target")

	wantTopics := []string{
		"spBv1.0/Injection-E3/NCMD/MES",
		"spBv1.0/Injection-E4/NCMD/MES",
		"spBv1.0/Injection-E3/DCMD/IMM",
		"spBv1.0/Injection-E4/DCMD/IMM",
	}
	wantMetrics := []string{
		sparkplug.NodeRebirthMetric,
		sparkplug.NodeRebirthMetric,
		sparkplug.DeviceRebirthMetric,
		sparkplug.DeviceRebirthMetric,
	}
	for i, p := range pubs {
		assert.Equal(t, wantTopics[i], p.Topic)
		assert.Equal(t, CommandQoS, p.QoS)
		assert.False(t, p.Retained)

		payload, err := sparkplug.Decode(p.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint64(fixedNow.UnixMilli()), payload.Timestamp)
		require.Len(t, payload.Metrics, 1)
		m := payload.Metrics[0]
		assert.Equal(t, wantMetrics[i], m.Name)
		assert.Equal(t, sparkplug.TypeBoolean, m.DataType)
		v, ok := m.Value.AsBool()
		assert.True(t, ok)
		assert.True(t, v)
	}
}

func TestCoordinator_PublishFailureContinues(t *testing.T) {
	up := tu.NewRecordingUpstream()
	up.SetPublishError("spBv1.0/Injection-E3/NCMD/MES", tu.ErrInjected)
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer)

	c.HandleConnected(context.Background())
	<-timer.requested
	timer.fire <- fixedNow
	waitForState(t, c, StateSteady)

	// The failed attempt is recorded and the remaining targets still go out
	assert.Len(t, up.Publishes(), 4)
}

func TestCoordinator_SubscribeFailureIssuesNoCommands(t *testing.T) {
	up := tu.NewRecordingUpstream()
	up.SubscribeErr = tu.ErrInjected
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer)

	c.HandleConnected(context.Background())
	c.Wait()

	assert.Equal(t, StateSubscribing, c.State())
	assert.Empty(t, up.Publishes())
	assert.Empty(t, timer.requested)
}

func TestCoordinator_DisconnectDuringSettleAbortsCommands(t *testing.T) {
	up := tu.NewRecordingUpstream()
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer)

	c.HandleConnected(context.Background())
	<-timer.requested

	c.HandleDisconnected(tu.ErrInjected)
	c.Wait()
	assert.Equal(t, StateDisconnected, c.State())

	timer.fire <- fixedNow
	assert.Empty(t, up.Publishes())
}

func TestCoordinator_ReconnectRepeatsHandshake(t *testing.T) {
	up := tu.NewRecordingUpstream()
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer)

	for round := 1; round <= 2; round++ {
		c.HandleConnected(context.Background())
		<-timer.requested
		timer.fire <- fixedNow
		waitForState(t, c, StateSteady)
		assert.Len(t, up.Publishes(), 4*round)

		c.HandleDisconnected(nil)
		assert.Equal(t, StateDisconnected, c.State())
	}
	assert.Len(t, up.Subscribes(), 4)
}

func TestCoordinator_ParentContextCancel(t *testing.T) {
	up := tu.NewRecordingUpstream()
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer)

	ctx, cancel := context.WithCancel(context.Background())
	c.HandleConnected(ctx)
	<-timer.requested
	cancel()
	c.Wait()

	assert.Equal(t, StateAwaitingRebirthWindow, c.State())
	assert.Empty(t, up.Publishes())
}

func TestCoordinator_RealTimerHonoursDelay(t *testing.T) {
	up := tu.NewRecordingUpstream()
	targets := BuildTargets("spBv1.0", []string{"E3"}, "MES", "IMM")
	c, err := NewCoordinator(up, targets, SubscribePatterns("spBv1.0", []string{"E3"}),
		WithSettleDelay(50*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	c.HandleConnected(context.Background())
	pubs := up.WaitForPublishes(t, 2, waitTimeout)

	subs := up.Subscribes()
	require.Len(t, subs, 1)
	for _, p := range pubs {
		assert.GreaterOrEqual(t, p.At.Sub(subs[0].At), 50*time.Millisecond)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCoordinator_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	up := tu.NewRecordingUpstream()
	up.SetPublishError("spBv1.0/Injection-E4/DCMD/IMM", tu.ErrInjected)
	timer := newManualTimer()
	c := newTestCoordinator(t, up, timer, WithMetrics(registry))

	c.HandleConnected(context.Background())
	<-timer.requested
	timer.fire <- fixedNow
	waitForState(t, c, StateSteady)

	m := registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RebirthCommands.WithLabelValues("node", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebirthCommands.WithLabelValues("device", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebirthCommands.WithLabelValues("device", "failure")))
	assert.Equal(t, float64(StateSteady), testutil.ToFloat64(m.RebirthState))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "subscribing", StateSubscribing.String())
	assert.Equal(t, "awaiting_rebirth_window", StateAwaitingRebirthWindow.String())
	assert.Equal(t, "rebirthing", StateRebirthing.String())
	assert.Equal(t, "steady", StateSteady.String())
	assert.Equal(t, "unknown", State(99).String())
}
