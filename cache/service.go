// Package cache implements the panel's key→value cache with per-entry TTL,
// hit/miss statistics and a periodic expiry sweep, exposed as an Encore service.
//
// Design Choices:
//   - The Store is a RWMutex-protected map; expiry is checked lazily on read and
//     in bulk by a sweeper goroutine owned by the Service (started in the
//     constructor, stopped in Shutdown).
//   - GetOrLoad coalesces concurrent misses on one key via singleflight.
//   - Invalidations are published on the cache-invalidated topic so peer
//     instances and monitoring can follow along.
//
// Performance Characteristics:
//   - Get/Set/Invalidate: O(1) average
//   - InvalidatePattern, Sweep: O(n) in stored keys
//   - No eviction by size; growth is bounded only by TTL expiry
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"encore.dev/beta/errs"
	"encore.dev/rlog"

	"lunnar/pkg/sweeper"
)

// ErrEmptyKey is returned for operations on an empty key.
var ErrEmptyKey = errors.New("cache: key cannot be empty")

//encore:service
type Service struct {
	store     *Store
	coalescer *Coalescer
	sweeper   *sweeper.Sweeper
	publisher publisher
	metrics   *Metrics
	config    Config
	now       func() time.Time
	log       rlog.Ctx
}

// Config holds runtime configuration for the cache service.
type Config struct {
	DefaultTTL    time.Duration // TTL applied when a caller gives none
	SweepInterval time.Duration // How often expired entries are swept
	InstanceID    string        // Identifies this instance in published events
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "cache"
	}
	return Config{
		DefaultTTL:    DefaultTTL,
		SweepInterval: 5 * time.Minute,
		InstanceID:    host,
	}
}

// Metrics tracks counters beyond the store's hit/miss stats.
type Metrics struct {
	Sets              atomic.Int64
	Invalidations     atomic.Int64
	Swept             atomic.Int64
	Loads             atomic.Int64
	LoadErrors        atomic.Int64
	PeerInvalidations atomic.Int64
	PublishErrors     atomic.Int64
}

// Request and response types for API endpoints.

type GetResponse struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Hit       bool            `json:"hit"`
	StoredAt  *time.Time      `json:"stored_at,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type SetRequest struct {
	Value json.RawMessage `json:"value"`
	TTLMs int64           `json:"ttl_ms"` // 0 means the default TTL
}

type SetResponse struct {
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type InvalidateRequest struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"` // e.g. "search:*"
}

type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

type StatsResponse struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
	Sets          int64   `json:"sets"`
	Invalidations int64   `json:"invalidations"`
	Swept         int64   `json:"swept"`
	Loads         int64   `json:"loads"`
	LoadErrors    int64   `json:"load_errors"`
	LoadsInFlight int     `json:"loads_in_flight"`
}

func initService() (*Service, error) {
	return newService(DefaultConfig(), topicPublisher{}, time.Now), nil
}

// newService wires a Service and starts its sweeper.
func newService(cfg Config, pub publisher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	s := &Service{
		store:     NewStore(cfg.DefaultTTL, now),
		coalescer: NewCoalescer(),
		publisher: pub,
		metrics:   &Metrics{},
		config:    cfg,
		now:       now,
		log:       rlog.With("service", "cache", "instance", cfg.InstanceID),
	}
	s.sweeper = sweeper.New("cache-ttl", cfg.SweepInterval, s.store.Sweep,
		sweeper.WithClock(now),
		sweeper.WithOnSweep(s.recordSweep),
	)
	s.sweeper.Start()
	return s
}

func (s *Service) recordSweep(name string, removed int) {
	s.metrics.Swept.Add(int64(removed))
	if removed > 0 {
		s.log.Info("swept expired cache entries", "sweeper", name, "removed", removed, "remaining", s.store.Len())
	}
}

// Get returns a cached value. A miss is not an error.
//
//encore:api public method=GET path=/cache/entry/*key
func (s *Service) Get(ctx context.Context, key string) (*GetResponse, error) {
	if key == "" {
		return nil, invalidArgument(ErrEmptyKey)
	}

	e, ok := s.store.GetEntry(key)
	if !ok {
		return &GetResponse{Hit: false}, nil
	}

	raw, err := encodeValue(e.Value)
	if err != nil {
		return nil, fmt.Errorf("encode cached value: %w", err)
	}
	return &GetResponse{
		Value:     raw,
		Hit:       true,
		StoredAt:  &e.StoredAt,
		ExpiresAt: &e.ExpiresAt,
	}, nil
}

// Set stores a value with an optional TTL in milliseconds.
//
//encore:api public method=PUT path=/cache/entry/*key
func (s *Service) Set(ctx context.Context, key string, req *SetRequest) (*SetResponse, error) {
	if key == "" {
		return nil, invalidArgument(ErrEmptyKey)
	}
	if req == nil || len(req.Value) == 0 {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: "value cannot be empty"}
	}
	if req.TTLMs < 0 {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: "ttl_ms cannot be negative"}
	}

	e := s.Put(key, req.Value, time.Duration(req.TTLMs)*time.Millisecond)
	return &SetResponse{StoredAt: e.StoredAt, ExpiresAt: e.ExpiresAt}, nil
}

// Delete removes one key.
//
//encore:api public method=DELETE path=/cache/entry/*key
func (s *Service) Delete(ctx context.Context, key string) error {
	if key == "" {
		return invalidArgument(ErrEmptyKey)
	}
	s.Invalidate(ctx, key)
	return nil
}

// InvalidateMany removes explicit keys and/or every key matching a pattern.
//
//encore:api public method=POST path=/cache/invalidate
func (s *Service) InvalidateMany(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if req == nil || (len(req.Keys) == 0 && req.Pattern == "") {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: "keys or pattern required"}
	}

	count := 0
	for _, key := range req.Keys {
		if s.store.Invalidate(key) {
			count++
		}
	}
	if req.Pattern != "" {
		n, err := s.store.InvalidatePattern(req.Pattern)
		count += n
		if err != nil {
			return nil, invalidArgument(err)
		}
	}

	s.metrics.Invalidations.Add(int64(count))
	if count > 0 {
		s.publishInvalidation(ctx, req.Keys, req.Pattern, false)
	}
	return &InvalidateResponse{Invalidated: count}, nil
}

// Clear drops every entry and resets hit/miss counters.
//
//encore:api public method=POST path=/cache/clear
func (s *Service) Clear(ctx context.Context) error {
	s.store.Clear()
	s.log.Info("cache cleared")
	s.publishInvalidation(ctx, nil, "", true)
	return nil
}

// Stats returns hit/miss counters and store size.
//
//encore:api public method=GET path=/cache/stats
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	st := s.store.Stats()
	return &StatsResponse{
		Hits:          st.Hits,
		Misses:        st.Misses,
		HitRate:       st.HitRate,
		Size:          s.store.Len(),
		Sets:          s.metrics.Sets.Load(),
		Invalidations: s.metrics.Invalidations.Load(),
		Swept:         s.metrics.Swept.Load(),
		Loads:         s.metrics.Loads.Load(),
		LoadErrors:    s.metrics.LoadErrors.Load(),
		LoadsInFlight: s.coalescer.InFlight(),
	}, nil
}

// Lookup returns a cached value for in-process callers.
func (s *Service) Lookup(key string) (any, bool) {
	return s.store.Get(key)
}

// Put stores a value for in-process callers.
func (s *Service) Put(key string, value any, ttl time.Duration) Entry {
	s.metrics.Sets.Add(1)
	return s.store.Set(key, value, ttl)
}

// Invalidate removes one key and publishes the invalidation when it existed.
func (s *Service) Invalidate(ctx context.Context, key string) bool {
	if !s.store.Invalidate(key) {
		return false
	}
	s.metrics.Invalidations.Add(1)
	s.publishInvalidation(ctx, []string{key}, "", false)
	return true
}

// Loader produces the value for a missing key.
type Loader func(ctx context.Context) (any, error)

// GetOrLoad returns the cached value for key, or runs load once across all
// concurrent callers and caches its result for ttl. Loader errors are not cached.
func (s *Service) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if v, ok := s.store.Get(key); ok {
		return v, nil
	}

	v, _, err := s.coalescer.Do(key, func() (any, error) {
		// A concurrent caller may have filled the key while we queued.
		if e, ok := s.store.peek(key); ok {
			return e.Value, nil
		}
		s.metrics.Loads.Add(1)
		val, err := load(ctx)
		if err != nil {
			s.metrics.LoadErrors.Add(1)
			return nil, err
		}
		s.Put(key, val, ttl)
		return val, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}

// Shutdown stops the sweeper. Encore calls it on graceful shutdown.
func (s *Service) Shutdown(force context.Context) {
	s.sweeper.Stop()
}

func encodeValue(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case json.RawMessage:
		return val, nil
	case []byte:
		return json.Marshal(string(val))
	default:
		return json.Marshal(val)
	}
}

func invalidArgument(err error) error {
	return &errs.Error{Code: errs.InvalidArgument, Message: err.Error()}
}
