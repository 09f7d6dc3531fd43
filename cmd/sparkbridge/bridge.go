package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sparkbridge/config"
	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
	"github.com/c360/sparkbridge/gateway"
	"github.com/c360/sparkbridge/health"
	"github.com/c360/sparkbridge/ingest"
	"github.com/c360/sparkbridge/metric"
	"github.com/c360/sparkbridge/mqttclient"
	"github.com/c360/sparkbridge/natsclient"
	"github.com/c360/sparkbridge/output/natsrelay"
	"github.com/c360/sparkbridge/output/websocket"
	"github.com/c360/sparkbridge/pkg/buffer"
	"github.com/c360/sparkbridge/pkg/tlsutil"
	"github.com/c360/sparkbridge/rebirth"
)

// bridge holds the wired components for one process lifetime.
type bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	registry    *metric.MetricsRegistry
	monitor     *health.Monitor
	queue       buffer.Queue[fanout.Update]
	broadcaster *fanout.Broadcaster
	ingest      *ingest.Handler
	coordinator *rebirth.Coordinator
	upstream    *mqttclient.Client
	stream      *websocket.Handler
	server      *gateway.Server
	nats        *natsclient.Client

	// Signalled by the NATS reconnect callback so a pruned relay is replaced
	natsReconnected chan struct{}

	// Session context for handshakes started from upstream callbacks
	sessionCtx context.Context
}

func newBridge(cfg *config.Config, logger *slog.Logger) (*bridge, error) {
	b := &bridge{
		cfg:        cfg,
		logger:     logger,
		registry:   metric.NewMetricsRegistry(),
		monitor:    health.NewMonitor(),
		sessionCtx: context.Background(),
	}
	core := b.registry.CoreMetrics()

	queue, err := buffer.NewQueue[fanout.Update](cfg.Queue.Capacity,
		buffer.WithOverflowPolicy[fanout.Update](cfg.OverflowPolicy()),
		buffer.WithMetrics[fanout.Update](b.registry, "handoff"),
		buffer.WithDropCallback[fanout.Update](func(u fanout.Update) {
			core.UpdatesDropped.Inc()
			logger.Warn("Handoff queue full, update dropped", "key", u.Key, "policy", cfg.Queue.Overflow)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	b.queue = queue

	b.broadcaster, err = fanout.New(queue,
		fanout.WithLogger(logger),
		fanout.WithMetrics(b.registry),
		fanout.WithWriteTimeout(cfg.Fanout.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create broadcaster: %w", err)
	}

	b.ingest, err = ingest.NewHandler(queue, ingest.Config{
		TemplateMetric: cfg.Sparkplug.TemplateMetric,
		AllowList:      cfg.Sparkplug.AllowList,
		IgnoreSegment:  cfg.Sparkplug.IgnoreSegment,
	}, ingest.WithLogger(logger), ingest.WithMetrics(b.registry))
	if err != nil {
		return nil, fmt.Errorf("create ingest handler: %w", err)
	}

	mqttTLS, err := tlsutil.ClientConfig(cfg.MQTT.TLS)
	if err != nil {
		return nil, fmt.Errorf("mqtt tls: %w", err)
	}

	b.upstream, err = mqttclient.NewClient(
		mqttclient.BrokerURL(cfg.MQTT.Host, cfg.MQTT.Port, mqttTLS != nil),
		mqttclient.WithTLSConfig(mqttTLS),
		mqttclient.WithClientID(cfg.MQTT.ClientID),
		mqttclient.WithCredentials(cfg.MQTT.Username, cfg.MQTT.Password),
		mqttclient.WithKeepAlive(cfg.MQTT.KeepAlive),
		mqttclient.WithConnectTimeout(cfg.MQTT.ConnectTimeout),
		mqttclient.WithAutoReconnect(cfg.MQTT.AutoReconnect, cfg.MQTT.MaxReconnectInterval),
		mqttclient.WithRetry(errors.RetryConfig{
			MaxAttempts:  cfg.MQTT.ConnectAttempts,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		}),
		mqttclient.WithLogger(logger),
		mqttclient.WithMetrics(b.registry),
		mqttclient.WithMessageHandler(func(topic string, payload []byte) {
			b.ingest.Handle(topic, payload)
		}),
		mqttclient.WithOnConnect(func() {
			b.coordinator.HandleConnected(b.sessionCtx)
		}),
		mqttclient.WithOnConnectionLost(func(err error) {
			b.coordinator.HandleDisconnected(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create mqtt client: %w", err)
	}

	b.coordinator, err = rebirth.NewCoordinator(b.upstream, cfg.RebirthTargets(), cfg.SubscribePatterns(),
		rebirth.WithSettleDelay(cfg.Rebirth.SettleDelay),
		rebirth.WithLogger(logger),
		rebirth.WithMetrics(b.registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create rebirth coordinator: %w", err)
	}

	b.stream, err = websocket.NewHandler(b.broadcaster, websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.Fanout.WriteTimeout,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger, b.registry)
	if err != nil {
		return nil, fmt.Errorf("create websocket handler: %w", err)
	}

	httpTLS, err := tlsutil.ServerConfig(cfg.HTTP.TLS)
	if err != nil {
		return nil, fmt.Errorf("http tls: %w", err)
	}

	b.server, err = gateway.New(gateway.Config{
		Addr:            cfg.HTTP.Addr,
		IndexPath:       cfg.HTTP.IndexPath,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		TLS:             httpTLS,
	}, gateway.Deps{
		Tags:     b.broadcaster,
		Stream:   b.stream,
		Metrics:  b.registry,
		Health:   b.monitor,
		Logger:   logger,
		SystemID: appName,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	if cfg.NATS.Enabled() {
		b.natsReconnected = make(chan struct{}, 1)
		opts := []natsclient.ClientOption{
			natsclient.WithName(appName),
			natsclient.WithLogger(logger),
			natsclient.WithDisconnectCallback(b.handleNATSDisconnect),
			natsclient.WithReconnectCallback(b.handleNATSReconnect),
			natsclient.WithDrainTimeout(cfg.HTTP.ShutdownTimeout),
		}
		if cfg.NATS.ReconnectWait > 0 {
			opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
		}
		if cfg.NATS.PingInterval > 0 {
			opts = append(opts, natsclient.WithPingInterval(cfg.NATS.PingInterval))
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}
		natsTLS, err := tlsutil.ClientConfig(cfg.NATS.TLS)
		if err != nil {
			return nil, fmt.Errorf("nats tls: %w", err)
		}
		if natsTLS != nil {
			opts = append(opts, natsclient.WithTLSConfig(natsTLS))
		}
		b.nats, err = natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create nats client: %w", err)
		}
	}

	b.registerHealth()
	return b, nil
}

func (b *bridge) registerHealth() {
	b.monitor.Register("upstream", func() health.Status {
		switch s := b.upstream.Status(); s {
		case mqttclient.StatusConnected:
			return health.NewHealthy("upstream", "connected, rebirth "+b.coordinator.State().String())
		case mqttclient.StatusConnecting, mqttclient.StatusReconnecting:
			return health.NewDegraded("upstream", s.String())
		default:
			return health.NewUnhealthy("upstream", s.String())
		}
	})
	b.monitor.Register("broadcaster", func() health.Status {
		if !b.broadcaster.Running() {
			return health.NewUnhealthy("broadcaster", "not running")
		}
		stats := b.queue.Stats()
		status := health.NewHealthy("broadcaster",
			fmt.Sprintf("%d subscribers, %d keys", b.broadcaster.SubscriberCount(), len(b.broadcaster.Keys())))
		if stats.Drops() > 0 {
			status = health.NewDegraded("broadcaster", fmt.Sprintf("%d updates dropped", stats.Drops()))
		}
		return status.WithMetrics(&health.Metrics{
			Uptime:            stats.Uptime(),
			MessagesProcessed: stats.Reads(),
		})
	})
	b.monitor.Register("gateway", func() health.Status {
		if !b.server.Running() {
			return health.NewUnhealthy("gateway", "not serving")
		}
		return health.NewHealthy("gateway", "serving on "+b.server.Addr())
	})
	if b.nats != nil {
		// Pushed by runRelay and the connection callbacks
		b.monitor.UpdateDegraded("nats", "connecting")
	}
}

// Run starts every component and blocks until ctx is done or one of them
// fails. The first failure cancels the rest.
func (b *bridge) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	b.sessionCtx = gctx

	g.Go(func() error {
		return b.broadcaster.Run(gctx)
	})

	g.Go(func() error {
		return b.server.Run(gctx)
	})

	if b.nats != nil {
		g.Go(func() error {
			return b.runRelay(gctx)
		})
	}

	g.Go(func() error {
		return b.runUpstream(gctx)
	})

	err := g.Wait()
	b.shutdown()
	return err
}

// runUpstream holds the MQTT session. A terminal connection loss ends the
// process so a supervisor can restart it.
func (b *bridge) runUpstream(ctx context.Context) error {
	b.logger.Info("Connecting to MQTT broker",
		"broker", b.upstream.URL(),
		"username", b.cfg.MQTT.Username,
		"topics", b.cfg.SubscribePatterns())

	if err := b.upstream.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-b.upstream.Lost():
		return err
	}
}

// runRelay connects to NATS and subscribes a relay to the broadcaster. NATS
// problems degrade the relay without stopping the bridge.
// runRelay connects to NATS and keeps a relay registered with the
// broadcaster. A relay pruned during an outage is replaced on reconnect.
// NATS failures degrade the relay only; they never stop the bridge.
func (b *bridge) runRelay(ctx context.Context) error {
	if err := b.nats.Connect(ctx); err != nil {
		b.logger.Error("NATS relay disabled", "url", b.cfg.NATS.URL, "error", err)
		b.monitor.Update("nats", health.FromError("nats", err))
		return nil
	}

	var relay *natsrelay.Relay
	for {
		if relay == nil || relay.Closed() {
			var err error
			if relay, err = b.registerRelay(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-b.natsReconnected:
		}
	}
}

// registerRelay returns nil without an error when registration fails, so the
// next reconnect retries it.
func (b *bridge) registerRelay(ctx context.Context) (*natsrelay.Relay, error) {
	opts := []natsrelay.Option{natsrelay.WithLogger(b.logger)}
	if b.cfg.NATS.JSON {
		opts = append(opts, natsrelay.WithJSON())
	}
	relay, err := natsrelay.New(b.nats, b.cfg.NATS.Subject, opts...)
	if err != nil {
		return nil, err
	}
	if err := b.broadcaster.Register(ctx, relay); err != nil {
		if ctx.Err() == nil {
			b.logger.Error("NATS relay registration failed", "error", err)
			b.monitor.Update("nats", health.FromError("nats", err))
		}
		return nil, nil
	}
	b.logger.Info("NATS relay registered", "subject", relay.Subject())
	b.monitor.UpdateHealthy("nats", "relaying to "+relay.Subject())
	return relay, nil
}

func (b *bridge) handleNATSDisconnect(err error) {
	b.logger.Warn("NATS relay disconnected", "url", b.cfg.NATS.URL, "error", err)
	b.monitor.UpdateDegraded("nats", "disconnected, reconnecting")
}

func (b *bridge) handleNATSReconnect() {
	b.logger.Info("NATS relay reconnected", "url", b.cfg.NATS.URL)
	b.monitor.UpdateHealthy("nats", "reconnected")
	select {
	case b.natsReconnected <- struct{}{}:
	default:
	}
}

func (b *bridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := b.upstream.Close(ctx); err != nil {
		b.logger.Warn("MQTT close failed", "error", err)
	}
	b.coordinator.Close()
	_ = b.queue.Close()
	if b.nats != nil {
		if err := b.nats.Close(ctx); err != nil {
			b.logger.Warn("NATS close failed", "error", err)
		}
	}
}
