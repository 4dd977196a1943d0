// Package schemes keeps a point-in-time, display-ready copy of the user's
// enrolled savings schemes.
package schemes

import (
	"context"
	"log/slog"
	"sync"

	"digigold/internal/api"
	"digigold/internal/metrics"
	"digigold/internal/notify"
)

// Source fetches scheme records. *api.Client satisfies it.
type Source interface {
	GetSchemes(ctx context.Context, phone string) ([]api.Scheme, error)
}

// Synchronizer caches the scheme set keyed by scheme code. The cache is
// replaced wholesale on every successful fetch; it is never merged field by
// field, so a mixed-version result cannot exist. When concurrent fetches
// overlap, the last response to complete wins.
type Synchronizer struct {
	logger   *slog.Logger
	source   Source
	notifier notify.Notifier
	metrics  *metrics.Metrics

	mu      sync.Mutex
	cached  []api.Scheme
	byCode  map[string]api.Scheme
	fetched bool
	loading int
}

// NewSynchronizer constructs an empty synchronizer.
func NewSynchronizer(source Source, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		logger:   logger.With("component", "schemes"),
		source:   source,
		notifier: notifier,
		metrics:  m,
	}
}

// Fetch refreshes the cache for the given phone identity. An empty identity
// is a no-op resolving to an empty result: an unauthenticated user simply
// has no schemes. On failure the previous cache is preserved and the error
// is surfaced; the loading flag always clears.
func (s *Synchronizer) Fetch(ctx context.Context, phone string) ([]api.Scheme, error) {
	if phone == "" {
		return []api.Scheme{}, nil
	}

	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	fetched, err := s.source.GetSchemes(ctx, phone)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SchemeSyncs.WithLabelValues("error").Inc()
			s.metrics.Errors.WithLabelValues("schemes").Inc()
		}
		s.logger.Warn("scheme sync failed", "error", err)
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, notify.Message{
				Kind:  notify.KindError,
				Title: "Could not load schemes",
				Body:  api.UserMessage(err),
			})
		}
		return nil, err
	}

	byCode := make(map[string]api.Scheme, len(fetched))
	for _, scheme := range fetched {
		byCode[scheme.SchemeCode] = scheme
	}

	s.mu.Lock()
	s.cached = fetched
	s.byCode = byCode
	s.fetched = true
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SchemeSyncs.WithLabelValues("success").Inc()
	}
	s.logger.Debug("schemes synchronised", "count", len(fetched))
	return s.Schemes(), nil
}

// Schemes returns a copy of the cached set.
func (s *Synchronizer) Schemes() []api.Scheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Scheme, len(s.cached))
	copy(out, s.cached)
	return out
}

// Get looks up one cached scheme by code.
func (s *Synchronizer) Get(code string) (api.Scheme, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheme, ok := s.byCode[code]
	return scheme, ok
}

// Fetched reports whether at least one successful sync has completed.
func (s *Synchronizer) Fetched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched
}

// Loading reports whether a fetch is in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// Reset drops the cache, for use on sign-out so the next user never sees a
// previous user's schemes.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	s.byCode = nil
	s.fetched = false
}
