package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Limiter counts requests per (subject, plan) in fixed one-hour windows.
//
// Algorithm:
//   - The first request of a subject/plan, or the first after the window's
//     reset time, opens a fresh window with count=1.
//   - Later requests increment the count while it is below the plan quota.
//   - A request at quota is denied and leaves the window untouched.
//
// State is per process and not durable. Expired windows are dropped lazily on
// the next request and in bulk by Sweep.
type Limiter struct {
	mu      sync.Mutex
	windows map[windowKey]*window
	now     func() time.Time
}

// windowKey keeps subject and plan apart, so "u1" never prefixes "u10".
type windowKey struct {
	subject string
	plan    string
}

type window struct {
	count   int
	resetAt time.Time
}

// Status describes a subject's standing in one plan window.
type Status struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at,omitempty"` // zero when no window is open
}

// NewLimiter creates an empty limiter. A nil clock means time.Now.
func NewLimiter(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		windows: make(map[windowKey]*window),
		now:     now,
	}
}

// Check records one request and reports whether it is allowed.
func (l *Limiter) Check(subject, plan string) bool {
	return l.Take(subject, plan).Allowed
}

// Take records one request and returns the resulting status.
func (l *Limiter) Take(subject, plan string) Status {
	quota := QuotaFor(plan)
	key := windowKey{subject: subject, plan: plan}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(quota.Window)}
		l.windows[key] = w
		return statusOf(w, quota, true)
	}
	if w.count < quota.Requests {
		w.count++
		return statusOf(w, quota, true)
	}
	return statusOf(w, quota, false)
}

// Remaining returns how many requests the subject has left in the plan's
// current window. It is the full quota when no live window exists.
func (l *Limiter) Remaining(subject, plan string) int {
	return l.Status(subject, plan).Remaining
}

// Status reports the current standing without recording a request.
func (l *Limiter) Status(subject, plan string) Status {
	quota := QuotaFor(plan)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[windowKey{subject: subject, plan: plan}]
	if !ok || !l.now().Before(w.resetAt) {
		return Status{Allowed: true, Remaining: quota.Requests, Limit: quota.Requests}
	}
	s := statusOf(w, quota, true)
	s.Allowed = s.Remaining > 0
	return s
}

// ResetSubject drops every window of subject across all plans and returns how
// many were removed.
func (l *Limiter) ResetSubject(subject string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.windows {
		if key.subject == subject {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Sweep removes every window whose reset time is at or before now.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of open windows, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Subjects returns the distinct subjects with an open window, sorted.
func (l *Limiter) Subjects() []string {
	l.mu.Lock()
	seen := make(map[string]struct{}, len(l.windows))
	for key := range l.windows {
		seen[key.subject] = struct{}{}
	}
	l.mu.Unlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func statusOf(w *window, quota Quota, allowed bool) Status {
	remaining := quota.Requests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     quota.Requests,
		ResetAt:   w.resetAt,
	}
}
