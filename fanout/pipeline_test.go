package fanout_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparkbridge/fanout"
	"github.com/c360/sparkbridge/ingest"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/testutil"
)

var pipelineConfig = ingest.Config{
	TemplateMetric: testutil.OperatorTemplate,
	AllowList:      []string{"oeePerformance", "oeeAvailability", "oeeQuality", "oee", "status"},
	IgnoreSegment:  "RIO",
}

type pipeline struct {
	q buffer.Queue[fanout.Update]
	b *fanout.Broadcaster
	h *ingest.Handler
}

func newPipeline(t *testing.T, q buffer.Queue[fanout.Update]) *pipeline {
	t.Helper()

	b, err := fanout.New(q, fanout.WithWriteTimeout(time.Second))
	require.NoError(t, err)
	h, err := ingest.NewHandler(q, pipelineConfig)
	require.NoError(t, err)
	return &pipeline{q: q, b: b, h: h}
}

func (p *pipeline) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-p.b.Done()
	})
}

func TestPipeline_BirthPayloadReachesCacheAndSubscriber(t *testing.T) {
	q, err := buffer.NewQueue[fanout.Update](0)
	require.NoError(t, err)
	p := newPipeline(t, q)
	p.start(t)

	sub := testutil.NewRecordingSubscriber("viewer")
	require.NoError(t, p.b.Register(context.Background(), sub))

	res := p.h.Handle("ns/E3/DBIRTH/IMM", testutil.OperatorPayload(1700000000000, testutil.DoubleMember("oee", 0.87)))
	require.NoError(t, res.Err)
	assert.Equal(t, ingest.OutcomeEnqueued, res.Outcome)

	assert.Equal(t, []string{"E3/oee = 0.87"}, sub.WaitForMessages(t, 1, 2*time.Second))
	v, ok := p.b.Lookup("E3/oee")
	require.True(t, ok)
	got, _ := v.AsFloat()
	assert.Equal(t, 0.87, got)

	// The sentinel delivery carries a matching member but must not reach the cache
	keys := p.b.Keys()
	res = p.h.Handle("ns/E3/DDATA/RIO", testutil.OperatorPayload(1700000000001, testutil.DoubleMember("oee", 0.11)))
	assert.Equal(t, ingest.OutcomeSkipped, res.Outcome)

	// A later valid delivery is the next thing the subscriber sees
	res = p.h.Handle("ns/E3/DDATA/IMM", testutil.OperatorPayload(1700000000002, testutil.StringMember("status", "RUN")))
	require.NoError(t, res.Err)

	assert.Equal(t, []string{"E3/oee = 0.87", "E3/status = RUN"}, sub.WaitForMessages(t, 2, 2*time.Second))
	assert.Equal(t, append(keys, "E3/status"), p.b.Keys())
	v, _ = p.b.Lookup("E3/oee")
	got, _ = v.AsFloat()
	assert.Equal(t, 0.87, got)
}

func TestPipeline_BoundedQueueDropsOldestAndConverges(t *testing.T) {
	var dropped atomic.Int64
	q, err := buffer.NewQueue[fanout.Update](4,
		buffer.WithOverflowPolicy[fanout.Update](buffer.DropOldest),
		buffer.WithDropCallback[fanout.Update](func(fanout.Update) { dropped.Add(1) }),
	)
	require.NoError(t, err)
	p := newPipeline(t, q)

	// Burst before the broadcaster drains anything
	const n = 10
	for i := 1; i <= n; i++ {
		res := p.h.Handle("ns/E3/DDATA/IMM", testutil.OperatorPayload(uint64(i), testutil.DoubleMember("oee", float64(i))))
		require.NoError(t, res.Err)
	}
	assert.Equal(t, int64(n-4), dropped.Load())
	assert.Equal(t, int64(n-4), q.Stats().Drops())

	p.start(t)
	require.Eventually(t, func() bool {
		v, ok := p.b.Lookup("E3/oee")
		got, _ := v.AsFloat()
		return ok && got == n
	}, 2*time.Second, time.Millisecond)

	// Subscribers joining after the burst see the converged value
	sub := testutil.NewRecordingSubscriber("late")
	require.NoError(t, p.b.Register(context.Background(), sub))
	assert.Equal(t, []string{fmt.Sprintf("E3/oee = %d", n)}, sub.WaitForMessages(t, 1, 2*time.Second))
}
