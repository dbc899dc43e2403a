package gauge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Engine wires the Store to its background workers and HTTP surface. It is
// constructed explicitly and owns every goroutine it starts.
type Engine struct {
	config    Config
	store     *Store
	startTime time.Time

	auth           *Authenticator
	aggregator     *Aggregator
	alerts         *AlertEngine
	wsHub          *WebSocketHub
	persister      Persister
	publisher      *RedisPublisher
	limiter        *RateLimiter
	runtimeSampler *RuntimeSampler
	batch          *BatchProcessor

	healthChecks []HealthCheck
	healthMu     sync.RWMutex

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	logger *log.Logger
}

// New creates an Engine from cfg, restores persisted samples and starts the
// background workers. Call Shutdown to stop them.
func New(cfg Config, opts ...StoreOption) (*Engine, error) {
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:    cfg,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.New(os.Stderr, "[gauge] ", log.LstdFlags),
	}

	auth, err := NewAuthenticator(cfg.Dashboard)
	if err != nil {
		cancel()
		return nil, err
	}
	e.auth = auth

	e.wsHub = newWebSocketHub(e.logger, cfg.DevMode)

	storeOpts := []StoreOption{
		WithRetentionDays(cfg.Store.RetentionDays),
		WithMaxSamples(cfg.Store.MaxSamplesPerMetric),
		WithObserver(e.broadcastSample),
	}
	e.store = NewStore(append(storeOpts, opts...)...)

	if cfg.Persistence.Enabled {
		persister, err := NewPersister(cfg.Persistence)
		if err != nil {
			cancel()
			return nil, err
		}
		e.persister = persister
		if err := e.restore(); err != nil {
			persister.Close()
			cancel()
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		e.publisher = NewRedisPublisher(cfg.Redis)
	}

	if cfg.Ingest.RateLimit > 0 {
		e.limiter = NewRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.Burst)
	}

	e.batch = &BatchProcessor{
		Store:       e.store,
		Workers:     cfg.Batch.Workers,
		FileTimeout: cfg.Batch.FileTimeout,
	}

	e.registerBuiltinChecks()

	e.startBackground("websocket-hub", e.wsHub.run)
	e.startJanitor()
	if e.persister != nil {
		e.startFlusher()
	}
	if e.limiter != nil {
		e.startBackground("rate-limiter-cleanup", e.limiter.cleanupLoop)
	}
	if boolValue(cfg.Runtime.Enabled) {
		e.runtimeSampler = newRuntimeSampler(e)
	}
	e.aggregator = newAggregator(e)
	e.alerts = newAlertEngine(e)
	if cfg.Alerts.Enabled {
		e.alerts.start()
	}

	if cfg.DevMode {
		e.logger.Printf("dev mode enabled, verbose logging active")
	}
	return e, nil
}

// Alerts returns the alert rule evaluator.
func (e *Engine) Alerts() *AlertEngine {
	return e.alerts
}

// Store returns the underlying time series store.
func (e *Engine) Store() *Store {
	return e.store
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Batch returns the file ingestion processor bound to the store.
func (e *Engine) Batch() *BatchProcessor {
	return e.batch
}

// Uptime returns the duration since the Engine was created.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startTime)
}

// Record is a shorthand for Store().Record.
func (e *Engine) Record(name string, value float64, tags map[string]string) error {
	return e.store.Record(name, value, tags)
}

// Stats is a shorthand for Store().Stats.
func (e *Engine) Stats(name string, window time.Duration) StatsResult {
	return e.store.Stats(name, window)
}

// Shutdown stops background workers, writes a final snapshot and closes
// external connections. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.cancel()
		e.wg.Wait()

		if e.persister != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if flushErr := e.flush(ctx); flushErr != nil {
				err = flushErr
			}
			cancel()
			if closeErr := e.persister.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
		if e.publisher != nil {
			if closeErr := e.publisher.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	})
	return err
}

// startBackground launches a background goroutine managed by the Engine lifecycle.
func (e *Engine) startBackground(name string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if e.config.DevMode {
			e.logger.Printf("starting background: %s", name)
		}
		fn(e.ctx)
		if e.config.DevMode {
			e.logger.Printf("stopped background: %s", name)
		}
	}()
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (e *Engine) startJanitor() {
	e.startBackground("janitor", func(ctx context.Context) {
		every(ctx, e.config.Store.PruneInterval, func() {
			removed := e.store.Prune()
			if removed > 0 && e.config.DevMode {
				e.logger.Printf("pruned %d samples older than %s", removed, e.store.Retention())
			}
		})
	})
}

func (e *Engine) startFlusher() {
	e.startBackground("persistence-flusher", func(ctx context.Context) {
		every(ctx, e.config.Persistence.FlushInterval, func() {
			if err := e.flush(ctx); err != nil {
				e.logger.Printf("snapshot flush failed: %v", err)
			}
		})
	})
}

// Flush writes the current store contents to the persister, if configured.
func (e *Engine) Flush(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	return e.flush(ctx)
}

func (e *Engine) flush(ctx context.Context) error {
	snapshot := e.store.Snapshot()
	if err := e.persister.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if e.config.DevMode {
		e.logger.Printf("flushed %d metrics to %s", len(snapshot), e.config.Persistence.DSN)
	}
	return nil
}

func (e *Engine) restore() error {
	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	defer cancel()

	samples, err := e.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	loaded := e.store.Load(samples)
	removed := e.store.Prune()
	e.logger.Printf("restored %d samples from %s (%d expired)", loaded, e.config.Persistence.DSN, removed)
	return nil
}

func (e *Engine) broadcastSample(s Sample) {
	e.wsHub.BroadcastSample(s)
}
