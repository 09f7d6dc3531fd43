package mqttclient

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is a Paho token that has already completed.
type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                       { return true }
func (t *doneToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}            { return t.done }
func (t *doneToken) Error() error                     { return t.err }

// pendingToken never completes.
type pendingToken struct{ done chan struct{} }

func (t *pendingToken) Wait() bool                       { <-t.done; return true }
func (t *pendingToken) WaitTimeout(_ time.Duration) bool { return false }
func (t *pendingToken) Done() <-chan struct{}            { return t.done }
func (t *pendingToken) Error() error                     { return nil }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeBroker stands in for a Paho client. It invokes the handlers found in
// the options the same way Paho does.
type fakeBroker struct {
	mu         sync.Mutex
	opts       *mqtt.ClientOptions
	connectErr []error // consumed per Connect call
	connects   int
	hang       bool
	open       bool
	subscribed []string
	publishes  []published
	subErr     error
	pubErr     error
	quiesce    []uint
}

func (f *fakeBroker) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	return f
}

func (f *fakeBroker) IsConnected() bool { return f.IsConnectionOpen() }

func (f *fakeBroker) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	f.connects++
	if f.hang {
		f.mu.Unlock()
		return &pendingToken{done: make(chan struct{})}
	}
	var err error
	if len(f.connectErr) > 0 {
		err = f.connectErr[0]
		f.connectErr = f.connectErr[1:]
	}
	if err == nil {
		f.open = true
	}
	onConnect := f.opts.OnConnect
	f.mu.Unlock()

	if err == nil && onConnect != nil {
		onConnect(f)
	}
	return newToken(err)
}

func (f *fakeBroker) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.quiesce = append(f.quiesce, quiesce)
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, published{topic, qos, retained, payload.([]byte)})
	return newToken(f.pubErr)
}

func (f *fakeBroker) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return newToken(f.subErr)
}

func (f *fakeBroker) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return newToken(nil)
}

func (f *fakeBroker) Unsubscribe(_ ...string) mqtt.Token { return newToken(nil) }

func (f *fakeBroker) AddRoute(_ string, _ mqtt.MessageHandler) {}

func (f *fakeBroker) OptionsReader() mqtt.ClientOptionsReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mqtt.NewOptionsReader(f.opts)
}

// deliver routes a message through the default publish handler.
func (f *fakeBroker) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.opts.DefaultPublishHandler
	f.mu.Unlock()
	h(f, fakeMessage{topic: topic, payload: payload})
}

// drop simulates a lost connection.
func (f *fakeBroker) drop(err error) {
	f.mu.Lock()
	f.open = false
	h := f.opts.OnConnectionLost
	f.mu.Unlock()
	h(f, err)
}
