package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner fans readiness checks out concurrently so one slow
// dependency cannot hide the state of the others behind its timeout.
type ProbeRunner struct {
	checkers    []Checker
	timeout     time.Duration
	gracePeriod time.Duration
	startedAt   time.Time
}

func NewProbeRunner(timeout, gracePeriod time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	live := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			live = append(live, c)
		}
	}
	return &ProbeRunner{
		checkers:    live,
		timeout:     timeout,
		gracePeriod: gracePeriod,
		startedAt:   time.Now(),
	}
}

func (r *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if r == nil {
		return true, nil
	}
	if r.gracePeriod > 0 && time.Since(r.startedAt) < r.gracePeriod {
		return false, []CheckResult{{Name: "startup_grace", Healthy: false, Error: "startup grace period active"}}
	}

	results := make([]CheckResult, len(r.checkers))
	g, groupCtx := errgroup.WithContext(ctx)
	for i, c := range r.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(groupCtx, r.timeout)
			defer cancel()

			start := time.Now()
			res := c.Check(checkCtx)
			outcome := "healthy"
			if !res.Healthy {
				outcome = "unhealthy"
			}
			observability.RecordHealthCheckResult(ctx, res.Name, outcome)
			observability.RecordHealthCheckDuration(ctx, res.Name, time.Since(start))
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	allHealthy := true
	for _, res := range results {
		if !res.Healthy {
			allHealthy = false
		}
	}
	return allHealthy, results
}
