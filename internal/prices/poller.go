// Package prices polls live metal prices on a fixed cadence and exposes the
// latest snapshot with a staleness indicator.
package prices

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"digigold/internal/api"
	"digigold/internal/cache"
	"digigold/internal/metrics"
	"digigold/internal/notify"
)

const snapshotCacheKey = "digigold:prices:latest"

// ErrRefreshInFlight reports that a refresh was skipped because one is
// already running. Overlapping requests to the price feed are never issued.
var ErrRefreshInFlight = errors.New("price refresh already in flight")

// Source provides a price snapshot. *api.Client satisfies it.
type Source interface {
	LivePrices(ctx context.Context) (api.PriceSnapshot, error)
}

// Config holds poller settings.
type Config struct {
	// Interval between refreshes. The backend contract configures this in
	// milliseconds; the default is one hour.
	Interval time.Duration
	// CacheTTL bounds how long a cached snapshot may seed a fresh start.
	CacheTTL time.Duration
}

// Poller owns a single refresh timer tied to its Start/Stop lifecycle. A
// failed refresh keeps the previous snapshot and never stops the timer.
type Poller struct {
	logger   *slog.Logger
	source   Source
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cache    *cache.Redis
	interval time.Duration
	cacheTTL time.Duration

	mu          sync.Mutex
	snapshot    api.PriceSnapshot
	hasSnapshot bool
	loading     bool
	stop        context.CancelFunc
	done        chan struct{}
}

// NewPoller constructs a poller. The redis cache may be nil.
func NewPoller(cfg Config, source Source, notifier notify.Notifier, m *metrics.Metrics, redis *cache.Redis, logger *slog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = interval
	}
	return &Poller{
		logger:   logger.With("component", "prices"),
		source:   source,
		notifier: notifier,
		metrics:  m,
		cache:    redis,
		interval: interval,
		cacheTTL: cacheTTL,
	}
}

// Start seeds the snapshot from the cache, fetches immediately, then
// refreshes on the fixed interval until Stop or context cancellation.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.stop = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.seedFromCache(runCtx)

	go func() {
		defer close(done)

		if err := p.Refresh(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("initial price refresh failed", "error", err)
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				err := p.Refresh(runCtx)
				if errors.Is(err, ErrRefreshInFlight) {
					p.logger.Debug("refresh tick skipped, previous fetch still pending")
				}
			}
		}
	}()
}

// Stop cancels the pending timer and waits for the loop to exit. This is a
// mandatory cleanup tied to the consumer's lifetime.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.stop
	done := p.done
	p.stop = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Refresh performs one fetch. When a fetch is already in flight the call is
// skipped with ErrRefreshInFlight rather than issuing a second request. On
// failure the previous snapshot is retained and a single user notification
// is raised.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return ErrRefreshInFlight
	}
	p.loading = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	snap, err := p.source.LivePrices(ctx)
	if err != nil {
		if p.metrics != nil {
			p.metrics.PriceRefreshes.WithLabelValues("error").Inc()
			p.metrics.Errors.WithLabelValues("prices").Inc()
		}
		p.logger.Warn("price refresh failed", "error", err)
		if p.notifier != nil {
			_ = p.notifier.Notify(ctx, notify.Message{
				Kind:  notify.KindError,
				Title: "Price update failed",
				Body:  api.UserMessage(err),
			})
		}
		return err
	}

	p.mu.Lock()
	p.snapshot = snap
	p.hasSnapshot = true
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PriceRefreshes.WithLabelValues("success").Inc()
	}
	if err := p.cache.SetJSON(ctx, snapshotCacheKey, snap, p.cacheTTL); err != nil {
		p.logger.Warn("caching price snapshot failed", "error", err)
	}
	p.logger.Debug("prices refreshed", "gold", snap.GoldPricePerGram, "silver", snap.SilverPricePerGram)
	return nil
}

// Snapshot returns the latest observation and whether one exists yet.
func (p *Poller) Snapshot() (api.PriceSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot, p.hasSnapshot
}

// Loading reports whether a fetch is currently in flight.
func (p *Poller) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Stale reports whether the current snapshot is older than maxAge. An empty
// snapshot is always stale.
func (p *Poller) Stale(maxAge time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasSnapshot {
		return true
	}
	return time.Since(p.snapshot.ObservedAt) > maxAge
}

// seedFromCache restores the last good snapshot so a restart shows prices
// before the first fetch completes. A cache miss or error is not a failure.
func (p *Poller) seedFromCache(ctx context.Context) {
	var snap api.PriceSnapshot
	ok, err := p.cache.GetJSON(ctx, snapshotCacheKey, &snap)
	if err != nil {
		p.logger.Warn("reading cached price snapshot failed", "error", err)
		return
	}
	if !ok || snap.GoldPricePerGram <= 0 {
		return
	}
	p.mu.Lock()
	if !p.hasSnapshot {
		p.snapshot = snap
		p.hasSnapshot = true
	}
	p.mu.Unlock()
}
