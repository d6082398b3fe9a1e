package monitoring

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// EventType names a kind of domain event the collector counts.
type EventType string

const (
	EventCacheInvalidated    EventType = "cache.invalidated"
	EventNotificationCreated EventType = "notification.created"
	EventNotificationAlert   EventType = "notification.alert"
	EventQuotaExceeded       EventType = "quota.exceeded"
)

// EventTypes lists every counted event type.
func EventTypes() []EventType {
	return []EventType{
		EventCacheInvalidated,
		EventNotificationCreated,
		EventNotificationAlert,
		EventQuotaExceeded,
	}
}

// Observation is one event as seen by the collector.
type Observation struct {
	Type       EventType `json:"type"`
	Subject    string    `json:"subject"` // cache source, audience or rate-limited subject
	Label      string    `json:"label,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	ObservedAt time.Time `json:"observed_at"`
}

// Collector counts events under an ingestion budget.
//
// Events over the budget are counted as dropped and otherwise ignored, so a
// burst on one topic cannot starve the others of CPU. Counters are atomics;
// labels and the recent-activity ring share one mutex.
type Collector struct {
	limiter *rate.Limiter
	now     func() time.Time
	since   time.Time

	counts  map[EventType]*atomic.Int64 // fixed key set, read-only after construction
	dropped atomic.Int64

	mu     sync.Mutex
	labels map[EventType]map[string]int64
	recent *ring[Observation]
	lags   *ring[float64]
}

// NewCollector creates a collector admitting ratePerSec events per second
// with the given burst. A nil clock means time.Now.
func NewCollector(ratePerSec float64, burst, recentSize int, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	if recentSize <= 0 {
		recentSize = 1
	}
	c := &Collector{
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		now:     now,
		since:   now(),
		counts:  make(map[EventType]*atomic.Int64),
		labels:  make(map[EventType]map[string]int64),
		recent:  newRing[Observation](recentSize),
		lags:    newRing[float64](lagSamples),
	}
	for _, t := range EventTypes() {
		c.counts[t] = &atomic.Int64{}
	}
	return c
}

const lagSamples = 1000

// Record counts obs. It returns false when the event was dropped, either
// because the budget is exhausted or the type is unknown.
func (c *Collector) Record(obs Observation) bool {
	counter, ok := c.counts[obs.Type]
	if !ok {
		return false
	}
	now := c.now()
	if !c.limiter.AllowN(now, 1) {
		c.dropped.Add(1)
		return false
	}
	counter.Add(1)

	obs.ObservedAt = now
	c.mu.Lock()
	if obs.Label != "" {
		byLabel := c.labels[obs.Type]
		if byLabel == nil {
			byLabel = make(map[string]int64)
			c.labels[obs.Type] = byLabel
		}
		byLabel[obs.Label]++
	}
	c.recent.add(obs)
	if !obs.OccurredAt.IsZero() {
		c.lags.add(float64(now.Sub(obs.OccurredAt).Milliseconds()))
	}
	c.mu.Unlock()
	return true
}

// Overview is a point-in-time summary of collected events.
type Overview struct {
	Since   time.Time                      `json:"since"`
	Counts  map[EventType]int64            `json:"counts"`
	Labels  map[EventType]map[string]int64 `json:"labels"`
	Dropped int64                          `json:"dropped"`
	Lag     LagStats                       `json:"lag"`
	Recent  []Observation                  `json:"recent"` // newest first
}

// LagStats summarizes delivery lag (observed minus occurred) in milliseconds.
type LagStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Snapshot returns the current overview.
func (c *Collector) Snapshot() Overview {
	o := Overview{
		Since:   c.since,
		Counts:  make(map[EventType]int64, len(c.counts)),
		Labels:  make(map[EventType]map[string]int64),
		Dropped: c.dropped.Load(),
	}
	for t, n := range c.counts {
		o.Counts[t] = n.Load()
	}

	c.mu.Lock()
	for t, byLabel := range c.labels {
		cp := make(map[string]int64, len(byLabel))
		for k, v := range byLabel {
			cp[k] = v
		}
		o.Labels[t] = cp
	}
	items := c.recent.items()
	lags := c.lags.items()
	c.mu.Unlock()

	o.Recent = make([]Observation, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		o.Recent = append(o.Recent, items[i])
	}
	o.Lag = lagStats(lags)
	return o
}

// Count returns the number of accepted events of type t.
func (c *Collector) Count(t EventType) int64 {
	if n, ok := c.counts[t]; ok {
		return n.Load()
	}
	return 0
}

// Dropped returns the number of events rejected by the budget.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// ring keeps the last n values in insertion order.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{buf: make([]T, n)}
}

func (r *ring[T]) add(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// items returns the stored values, oldest first.
func (r *ring[T]) items() []T {
	if !r.full {
		out := make([]T, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func lagStats(values []float64) LagStats {
	if len(values) == 0 {
		return LagStats{}
	}

	sum := 0.0
	min := math.MaxFloat64
	max := -math.MaxFloat64
	for _, v := range values {
		sum += v
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	sort.Float64s(values)

	return LagStats{
		Count: len(values),
		Min:   min,
		Max:   max,
		Avg:   sum / float64(len(values)),
		P50:   percentile(values, 0.50),
		P95:   percentile(values, 0.95),
		P99:   percentile(values, 0.99),
	}
}

// percentile interpolates the p-th percentile of sorted values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	index := p * float64(len(values)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return values[lower]
	}

	weight := index - float64(lower)
	return values[lower]*(1-weight) + values[upper]*weight
}
