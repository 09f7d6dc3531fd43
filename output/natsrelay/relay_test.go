package natsrelay

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
	"github.com/c360/sparkbridge/natsclient"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/sparkplug"
	"github.com/c360/sparkbridge/testutil"
)

var _ Publisher = (*natsclient.Client)(nil)

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "x")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(testutil.NewRecordingPublisher(), "bad subject")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	r, err := New(testutil.NewRecordingPublisher(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, r.Subject())
	assert.Contains(t, r.ID(), "nats-relay-")
}

func TestRelay_SendText(t *testing.T) {
	nc := testutil.NewRecordingPublisher()
	r, err := New(nc, "plant.oee")
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), "Injection-E3/oee = 0.87"))
	assert.Equal(t, [][]byte{[]byte("Injection-E3/oee = 0.87")}, nc.Messages("plant.oee"))
	assert.Equal(t, int64(1), r.Published())
}

func TestRelay_SendJSON(t *testing.T) {
	nc := testutil.NewRecordingPublisher()
	r, err := New(nc, "plant.oee", WithJSON(), WithClock(func() time.Time { return time.UnixMilli(1700000000123) }))
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), "Injection-E3/status = RUN"))
	msgs := nc.Messages("plant.oee")
	require.Len(t, msgs, 1)

	var m Message
	require.NoError(t, json.Unmarshal(msgs[0], &m))
	assert.Equal(t, Message{Key: "Injection-E3/status", Value: "RUN", Timestamp: 1700000000123}, m)

	require.NoError(t, r.Send(context.Background(), "Injection-E3/oee = "+sparkplug.Double(math.NaN()).String()))
	msgs = nc.Messages("plant.oee")
	require.Len(t, msgs, 2)
	require.NoError(t, json.Unmarshal(msgs[1], &m))
	assert.Equal(t, "NaN", m.Value)

	err = r.Send(context.Background(), "no separator")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRelay_PublishFailure(t *testing.T) {
	nc := testutil.NewRecordingPublisher()
	r, err := New(nc, "plant.oee")
	require.NoError(t, err)

	boom := stderrors.New("nats: connection closed")
	nc.SetPublishError("plant.oee", boom)
	assert.ErrorIs(t, r.Send(context.Background(), "E3/oee = 1"), boom)
	assert.Equal(t, int64(0), r.Published())

	nc.SetPublishError("plant.oee", nil)
	require.NoError(t, nc.Close())
	assert.ErrorIs(t, r.Send(context.Background(), "E3/oee = 1"), testutil.ErrPublisherClosed)
	assert.Empty(t, nc.Messages("plant.oee"))
}

func TestRelay_Close(t *testing.T) {
	r, err := New(testutil.NewRecordingPublisher(), "plant.oee")
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.True(t, r.Closed())
	assert.ErrorIs(t, r.Send(context.Background(), "E3/oee = 1"), errors.ErrAlreadyStopped)
}

func TestRelay_AsBroadcasterSubscriber(t *testing.T) {
	q, err := buffer.NewQueue[fanout.Update](0)
	require.NoError(t, err)
	b, err := fanout.New(q)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = b.Run(ctx) }()
	defer func() {
		cancel()
		<-b.Done()
	}()

	require.NoError(t, q.Write(fanout.Update{Key: "E3/oee", Value: sparkplug.Double(0.5)}))
	require.Eventually(t, func() bool { return len(b.Keys()) == 1 }, time.Second, time.Millisecond)

	nc := testutil.NewRecordingPublisher()
	r, err := New(nc, "plant.oee")
	require.NoError(t, err)
	require.NoError(t, b.Register(ctx, r))

	require.NoError(t, q.Write(fanout.Update{Key: "E3/oee", Value: sparkplug.Double(0.9)}))
	nc.WaitForMessages(t, "plant.oee", 2, time.Second)
	assert.Equal(t, [][]byte{[]byte("E3/oee = 0.5"), []byte("E3/oee = 0.9")}, nc.Messages("plant.oee"))
}
