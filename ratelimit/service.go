// Package ratelimit enforces per-plan request quotas for search subjects.
//
// Each (subject, plan) pair gets a fixed one-hour window. The plan table is
// static: free=10, light=100, premium=500, premium-plus=1000, platinum=10000
// requests per window, and unknown plans count against the free quota.
//
// Windows live in process memory only. A sweeper drops expired windows every
// minute so idle subjects do not accumulate.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"encore.dev/beta/errs"
	"encore.dev/rlog"

	"lunnar/pkg/sweeper"
)

// ErrEmptySubject is returned when a request names no subject.
var ErrEmptySubject = errors.New("ratelimit: subject cannot be empty")

//encore:service
type Service struct {
	limiter   *Limiter
	sweeper   *sweeper.Sweeper
	publisher publisher
	metrics   *Metrics
	now       func() time.Time
	log       rlog.Ctx
}

// Config holds runtime configuration for the rate limiter.
type Config struct {
	SweepInterval time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{SweepInterval: time.Minute}
}

// Metrics counts limiter decisions.
type Metrics struct {
	Allowed       atomic.Int64
	Denied        atomic.Int64
	Resets        atomic.Int64
	Swept         atomic.Int64
	PublishErrors atomic.Int64
}

type CheckRequest struct {
	Subject string `json:"subject"`
	Plan    string `json:"plan"`
}

type ResetResponse struct {
	Removed int `json:"removed"`
}

type PlansResponse struct {
	Plans []Quota `json:"plans"`
}

type StatsResponse struct {
	Windows  int   `json:"windows"`
	Subjects int   `json:"subjects"`
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Resets   int64 `json:"resets"`
	Swept    int64 `json:"swept"`
}

func initService() (*Service, error) {
	return newService(DefaultConfig(), topicPublisher{}, time.Now), nil
}

func newService(cfg Config, pub publisher, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	s := &Service{
		limiter:   NewLimiter(now),
		publisher: pub,
		metrics:   &Metrics{},
		now:       now,
		log:       rlog.With("service", "ratelimit"),
	}
	s.sweeper = sweeper.New("ratelimit-windows", cfg.SweepInterval, s.limiter.Sweep,
		sweeper.WithClock(now),
		sweeper.WithOnSweep(func(name string, removed int) {
			s.metrics.Swept.Add(int64(removed))
			if removed > 0 {
				s.log.Debug("swept expired windows", "sweeper", name, "removed", removed)
			}
		}),
	)
	s.sweeper.Start()
	return s
}

// Check records one request for subject under plan. Exhausted quota is
// reported as allowed=false, not as an error.
//
//encore:api public method=POST path=/ratelimit/check
func (s *Service) Check(ctx context.Context, req *CheckRequest) (*Status, error) {
	if req == nil || req.Subject == "" {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: ErrEmptySubject.Error()}
	}
	plan := normalizePlan(req.Plan)

	st := s.limiter.Take(req.Subject, plan)
	if st.Allowed {
		s.metrics.Allowed.Add(1)
		return &st, nil
	}

	s.metrics.Denied.Add(1)
	s.log.Info("quota exceeded", "subject", req.Subject, "plan", plan, "limit", st.Limit, "reset_at", st.ResetAt)
	s.publishDenied(ctx, req.Subject, plan, st)
	return &st, nil
}

// Remaining reports the subject's standing without consuming a request.
//
//encore:api public method=GET path=/ratelimit/remaining/:subject/:plan
func (s *Service) Remaining(ctx context.Context, subject, plan string) (*Status, error) {
	if subject == "" {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: ErrEmptySubject.Error()}
	}
	st := s.limiter.Status(subject, normalizePlan(plan))
	return &st, nil
}

// ResetSubject clears the subject's windows across all plans.
//
//encore:api public method=DELETE path=/ratelimit/subject/:subject
func (s *Service) ResetSubject(ctx context.Context, subject string) (*ResetResponse, error) {
	if subject == "" {
		return nil, &errs.Error{Code: errs.InvalidArgument, Message: ErrEmptySubject.Error()}
	}
	removed := s.limiter.ResetSubject(subject)
	s.metrics.Resets.Add(1)
	s.log.Info("subject limits reset", "subject", subject, "removed", removed)
	return &ResetResponse{Removed: removed}, nil
}

// ListPlans returns the plan table.
//
//encore:api public method=GET path=/ratelimit/plans
func (s *Service) ListPlans(ctx context.Context) (*PlansResponse, error) {
	return &PlansResponse{Plans: Plans()}, nil
}

// Stats returns decision counters.
//
//encore:api public method=GET path=/ratelimit/stats
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	return &StatsResponse{
		Windows:  s.limiter.Len(),
		Subjects: len(s.limiter.Subjects()),
		Allowed:  s.metrics.Allowed.Load(),
		Denied:   s.metrics.Denied.Load(),
		Resets:   s.metrics.Resets.Load(),
		Swept:    s.metrics.Swept.Load(),
	}, nil
}

// Shutdown stops the sweeper.
func (s *Service) Shutdown(force context.Context) {
	s.sweeper.Stop()
}

// normalizePlan maps an empty plan name to free.
func normalizePlan(plan string) string {
	if plan == "" {
		return PlanFree
	}
	return plan
}
