package mqttclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparkbridge/rebirth"
	"github.com/c360/sparkbridge/sparkplug"
	tu "github.com/c360/sparkbridge/testutil"
)

type inbox struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newInbox() *inbox {
	return &inbox{msgs: make(map[string][][]byte)}
}

func (in *inbox) handle(topic string, payload []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs[topic] = append(in.msgs[topic], append([]byte(nil), payload...))
}

func (in *inbox) get(topic string) [][]byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msgs[topic]
}

func connectTestClient(t *testing.T, url, id string, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithClientID(id)}, opts...)
	c, err := NewClient(url, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestIntegration_SubscribeReceivesPublishedPayload(t *testing.T) {
	broker := getSharedBroker(t)
	ctx := context.Background()

	in := newInbox()
	sub := connectTestClient(t, broker.URL, "it-sub", WithMessageHandler(in.handle))
	pub := connectTestClient(t, broker.URL, "it-pub")

	require.NoError(t, sub.Subscribe(ctx, "spBv1.0/Injection-E3/#", 0))

	payload := tu.OperatorPayload(uint64(time.Now().UnixMilli()), tu.DoubleMember("oee", 0.87))
	topic := "spBv1.0/Injection-E3/DDATA/MES/IMM"
	require.NoError(t, pub.Publish(ctx, topic, 0, false, payload))
	require.NoError(t, pub.Publish(ctx, "spBv1.0/Injection-E4/DDATA/MES/IMM", 0, false, payload))

	require.Eventually(t, func() bool { return len(in.get(topic)) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, payload, in.get(topic)[0])
	assert.Empty(t, in.get("spBv1.0/Injection-E4/DDATA/MES/IMM"), "outside the subscribed machine prefix")
}

func TestIntegration_RebirthHandshakeOverBroker(t *testing.T) {
	broker := getSharedBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The edge node listens for commands addressed to it
	edge := newInbox()
	edgeClient := connectTestClient(t, broker.URL, "it-edge", WithMessageHandler(edge.handle))
	require.NoError(t, edgeClient.Subscribe(ctx, "spBv1.0/+/NCMD/#", 0))
	require.NoError(t, edgeClient.Subscribe(ctx, "spBv1.0/+/DCMD/#", 0))

	machines := []string{"Injection-E3"}
	var coordinator *rebirth.Coordinator
	bridge, err := NewClient(broker.URL,
		WithClientID("it-bridge"),
		WithOnConnect(func() { coordinator.HandleConnected(ctx) }),
		WithOnConnectionLost(func(err error) { coordinator.HandleDisconnected(err) }),
	)
	require.NoError(t, err)

	coordinator, err = rebirth.NewCoordinator(bridge,
		rebirth.BuildTargets("spBv1.0", machines, "MES", "IMM"),
		rebirth.SubscribePatterns("spBv1.0", machines),
		rebirth.WithSettleDelay(100*time.Millisecond))
	require.NoError(t, err)
	defer coordinator.Close()

	require.NoError(t, bridge.Connect(ctx))
	defer bridge.Close(context.Background())

	node := "spBv1.0/Injection-E3/NCMD/MES"
	device := "spBv1.0/Injection-E3/DCMD/IMM"
	require.Eventually(t, func() bool {
		return len(edge.get(node)) == 1 && len(edge.get(device)) == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, rebirth.StateSteady, coordinator.State())

	for topic, name := range map[string]string{
		node:   sparkplug.NodeRebirthMetric,
		device: sparkplug.DeviceRebirthMetric,
	} {
		p, err := sparkplug.Decode(edge.get(topic)[0])
		require.NoError(t, err)
		require.Len(t, p.Metrics, 1)
		assert.Equal(t, name, p.Metrics[0].Name)
	}
}
