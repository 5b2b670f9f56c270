// Package telemetrykit is the client-side telemetry and remote configuration
// core of an application SDK. A Client owns two engines: the analytics
// pipeline, which persists events and uploads them in batches, and the
// remote data manager, which keeps server-pushed payloads fresh and fans
// them out to subscribers.
//
// Both engines are built from explicit dependencies. New fills in whatever
// is not injected: a SQLite or PostgreSQL database for the three stores, an HTTP
// transport, OpenTelemetry metrics and the configured event consumers.
package telemetrykit

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-telemetry-kit/analytics"
	"github.com/c0deZ3R0/go-telemetry-kit/config"
	"github.com/c0deZ3R0/go-telemetry-kit/consumer"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/clock"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/metrics"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
	"github.com/c0deZ3R0/go-telemetry-kit/remotedata"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/storage/postgres"
	"github.com/c0deZ3R0/go-telemetry-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
	"github.com/c0deZ3R0/go-telemetry-kit/transport/httptransport"
	"github.com/c0deZ3R0/go-telemetry-kit/version"
)

type options struct {
	queue    storage.EventQueue
	payloads storage.PayloadStore
	prefs    storage.Preferences
	client   transport.Client
	clock    clock.Clock
	logger   *logging.Logger
	metrics  metrics.Collector
	env      *platform.Environment
	consumer analytics.EventConsumer
	appState platform.AppState
}

// Option configures a Client.
type Option func(*options)

// WithStores injects all three stores. No database is opened when every
// store is provided.
func WithStores(q storage.EventQueue, p storage.PayloadStore, prefs storage.Preferences) Option {
	return func(o *options) {
		o.queue, o.payloads, o.prefs = q, p, prefs
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(c transport.Client) Option {
	return func(o *options) { o.client = c }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics replaces the OpenTelemetry collector. No OTLP exporter is
// started when a collector is injected.
func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithEnvironment sets the platform capability providers.
func WithEnvironment(env *platform.Environment) Option {
	return func(o *options) { o.env = env }
}

// WithEventConsumer adds a listener for admitted events, alongside any
// consumers enabled in config.
func WithEventConsumer(c analytics.EventConsumer) Option {
	return func(o *options) { o.consumer = c }
}

// WithAppState sets the app state both engines assume until the first
// lifecycle signal.
func WithAppState(s platform.AppState) Option {
	return func(o *options) { o.appState = s }
}

// Client is the telemetry kit facade.
type Client struct {
	cfg       config.Config
	logger    *logging.Logger
	analytics *analytics.Analytics
	remote    *remotedata.Manager

	// Resources created by New and released by Close.
	store     io.Closer
	providers *metrics.Providers
	mirror    *consumer.KafkaMirror

	releaseOnce sync.Once
	releaseErr  error
}

// New builds a Client for cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{appState: platform.StateActive}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewLogger(cfg.Log)
	}
	c := &Client{cfg: cfg, logger: logger.WithComponent("telemetrykit")}

	if o.queue == nil || o.payloads == nil || o.prefs == nil {
		db, err := openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.store = db
		if o.queue == nil {
			o.queue = db.events
		}
		if o.payloads == nil {
			o.payloads = db.payloads
		}
		if o.prefs == nil {
			o.prefs = db.prefs
		}
	}

	if o.client == nil {
		o.client = httptransport.NewClient(
			httptransport.WithTimeout(cfg.RequestTimeout),
			httptransport.WithBasicAuth(cfg.AppKey, cfg.AppSecret),
			httptransport.WithUserAgent("telemetrykit/"+version.Version),
			httptransport.WithLogger(logger),
		)
	}
	if o.clock == nil {
		o.clock = clock.System{}
	}
	if o.env == nil {
		o.env = &platform.Environment{DeviceFamily: cfg.DeviceFamily}
	}

	consumers := []analytics.EventConsumer{o.consumer}
	if o.metrics == nil {
		providers, err := metrics.NewProviders(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, logger)
		if err != nil {
			c.release(ctx)
			return nil, err
		}
		c.providers = providers
		collector, err := metrics.NewOTelCollector(providers.MeterProvider.Meter(metrics.MeterName))
		if err != nil {
			c.release(ctx)
			return nil, err
		}
		o.metrics = collector
		if cfg.Telemetry.EmitEventLogs {
			consumers = append(consumers, consumer.NewOTelLogConsumer(providers.LoggerProvider))
		}
	}
	if mirror := consumer.NewKafkaMirror(consumer.KafkaOptions{
		Brokers: cfg.Telemetry.KafkaBrokers,
		Topic:   cfg.Telemetry.KafkaTopic,
		Logger:  logger,
	}); mirror != nil {
		c.mirror = mirror
		consumers = append(consumers, mirror)
	}

	a, err := analytics.New(cfg,
		analytics.WithEventQueue(o.queue),
		analytics.WithPreferences(o.prefs),
		analytics.WithTransport(o.client),
		analytics.WithClock(o.clock),
		analytics.WithLogger(logger),
		analytics.WithMetrics(o.metrics),
		analytics.WithEnvironment(o.env),
		analytics.WithEventConsumer(consumer.Multi(consumers...)),
		analytics.WithAppState(o.appState),
	)
	if err != nil {
		c.release(ctx)
		return nil, err
	}
	c.analytics = a

	r, err := remotedata.New(cfg,
		remotedata.WithPayloadStore(o.payloads),
		remotedata.WithPreferences(o.prefs),
		remotedata.WithTransport(o.client),
		remotedata.WithClock(o.clock),
		remotedata.WithLogger(logger),
		remotedata.WithMetrics(o.metrics),
		remotedata.WithEnvironment(o.env),
		remotedata.WithAppState(o.appState),
	)
	if err != nil {
		_ = a.Close(ctx)
		c.release(ctx)
		return nil, err
	}
	c.remote = r

	storageName := "injected"
	if c.store != nil {
		storageName = cfg.StorageDriver
	}
	c.logger.Info("telemetry kit started",
		"version", version.Version,
		"enabled", a.IsEnabled(),
		"storage", storageName,
		"otlp", cfg.Telemetry.OTLPEndpoint != "",
		"kafka_mirror", c.mirror != nil)
	return c, nil
}

// builtinStore is the database New opens when stores are not injected.
type builtinStore struct {
	io.Closer
	events   storage.EventQueue
	payloads storage.PayloadStore
	prefs    storage.Preferences
}

func openStore(cfg config.Config, logger *logging.Logger) (*builtinStore, error) {
	if cfg.StorageDriver == config.StoragePostgres {
		pgCfg := postgres.DefaultConfig(cfg.DatabaseURL)
		pgCfg.Logger = logger
		s, err := postgres.New(pgCfg)
		if err != nil {
			return nil, err
		}
		return &builtinStore{Closer: s, events: s.Events(), payloads: s.Payloads(), prefs: s.Preferences()}, nil
	}
	dbCfg := sqlite.DefaultConfig(cfg.DatabasePath)
	dbCfg.Logger = logger
	s, err := sqlite.New(dbCfg)
	if err != nil {
		return nil, err
	}
	return &builtinStore{Closer: s, events: s.Events(), payloads: s.Payloads(), prefs: s.Preferences()}, nil
}

// Analytics returns the event pipeline.
func (c *Client) Analytics() *analytics.Analytics { return c.analytics }

// RemoteData returns the remote data manager.
func (c *Client) RemoteData() *remotedata.Manager { return c.remote }

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// RecordEvent admits ev into the analytics pipeline.
func (c *Client) RecordEvent(ctx context.Context, ev analytics.Event) error {
	return c.analytics.RecordEvent(ctx, ev)
}

// Subscribe registers l for remote data payloads of the given types.
func (c *Client) Subscribe(types []string, l remotedata.Listener) (*remotedata.Subscription, error) {
	return c.remote.Subscribe(types, l)
}

// HandleLifecycle delivers a host lifecycle signal to both engines.
func (c *Client) HandleLifecycle(sig platform.Signal) error {
	c.logger.Debug("lifecycle signal", "signal", sig.String())
	return errors.Join(c.analytics.HandleLifecycle(sig), c.remote.HandleLifecycle(sig))
}

// Close stops both engines, then flushes telemetry exporters and closes the
// database the client opened. Persisted events survive for the next run.
func (c *Client) Close(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return c.analytics.Close(ctx) })
	g.Go(func() error { return c.remote.Close(ctx) })
	err := g.Wait()
	return errors.Join(err, c.release(ctx))
}

// release frees the resources New created, once.
func (c *Client) release(ctx context.Context) error {
	c.releaseOnce.Do(func() { c.releaseErr = c.releaseAll(ctx) })
	return c.releaseErr
}

func (c *Client) releaseAll(ctx context.Context) error {
	var errs []error
	if c.mirror != nil {
		errs = append(errs, c.mirror.Close())
	}
	if c.providers != nil {
		errs = append(errs, c.providers.Shutdown(ctx))
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}
