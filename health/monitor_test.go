package health

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("gateway", "Listening")
	m.UpdateDegraded("broadcaster", "Queue dropping")
	m.Update("mqtt", Status{Status: "unhealthy", Message: "lost"})

	s, ok := m.Get("mqtt")
	require.True(t, ok)
	assert.Equal(t, "mqtt", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, []string{"broadcaster", "gateway", "mqtt"}, m.ListComponents())

	m.Remove("gateway")
	assert.Equal(t, 2, m.Count())
}

func TestMonitor_CheckerPolledOnRead(t *testing.T) {
	m := NewMonitor()
	var connected atomic.Bool
	var calls atomic.Int32
	m.Register("mqtt", func() Status {
		calls.Add(1)
		if connected.Load() {
			return NewHealthy("ignored", "Connected")
		}
		return NewUnhealthy("ignored", "Disconnected")
	})
	m.UpdateHealthy("gateway", "Listening")

	s := m.Check("sparkbridge")
	assert.True(t, s.IsUnhealthy())
	require.NotNil(t, s.Metrics)

	connected.Store(true)
	s = m.Check("sparkbridge")
	assert.True(t, s.IsHealthy())
	require.Len(t, s.SubStatuses, 2)
	assert.Equal(t, "mqtt", s.SubStatuses[1].Component, "checker result takes the registered name")

	got, ok := m.Get("mqtt")
	require.True(t, ok)
	assert.Equal(t, "Connected", got.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMonitor_RegisterReplacesPushedStatus(t *testing.T) {
	m := NewMonitor()
	m.UpdateUnhealthy("mqtt", "stale")
	m.Register("mqtt", func() Status { return NewHealthy("mqtt", "fresh") })

	assert.Equal(t, 1, m.Count())
	s, _ := m.Get("mqtt")
	assert.Equal(t, "fresh", s.Message)
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	m.Register("broadcaster", func() Status { return NewHealthy("broadcaster", "ok") })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.UpdateHealthy(fmt.Sprintf("c%d", i), "ok")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Check("sparkbridge")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 11, m.Count())
}
