package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	Status2xx     int64
	Status4xx     int64
	Status5xx     int64
}

// target describes one synthetic request shape. register targets mint a
// unique email and idempotency key per hit unless omitKey asks for the
// missing-key rejection path.
type target struct {
	method   string
	path     string
	register bool
	omitKey  bool
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	client := &http.Client{Timeout: 5 * time.Second}
	targets := targetsForProfile(cfg.Profile)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("unknown profile: %s", cfg.Profile)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures, s2xx, s4xx, s5xx, seq int64
	jobs := make(chan target, cfg.Concurrency*2)
	wg := sync.WaitGroup{}

	for range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				req, err := buildRequest(ctx, cfg, t, &seq)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				resp, err := client.Do(req)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				_ = resp.Body.Close()
				atomic.AddInt64(&total, 1)
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					atomic.AddInt64(&s2xx, 1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					atomic.AddInt64(&s4xx, 1)
				case resp.StatusCode >= 500:
					atomic.AddInt64(&s5xx, 1)
				}
			}
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return Result{TotalRequests: total, Failures: failures, Status2xx: s2xx, Status4xx: s4xx, Status5xx: s5xx}, nil
		case <-ticker.C:
			jobs <- targets[i%len(targets)]
			i++
		}
	}
}

func buildRequest(ctx context.Context, cfg Config, t target, seq *int64) (*http.Request, error) {
	if !t.register {
		return http.NewRequestWithContext(ctx, t.method, cfg.BaseURL+t.path, nil)
	}
	n := atomic.AddInt64(seq, 1)
	body := fmt.Sprintf(`{"email":"load-%d-%d@example.test","name":"Load User %d"}`, cfg.Seed, n, n)
	req, err := http.NewRequestWithContext(ctx, t.method, cfg.BaseURL+t.path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if !t.omitKey {
		req.Header.Set("Idempotency-Key", fmt.Sprintf("load-%d-%d", cfg.Seed, n))
	}
	return req, nil
}

func targetsForProfile(profile string) []target {
	reads := []target{
		{method: http.MethodGet, path: "/api/v1/users"},
		{method: http.MethodGet, path: "/api/v1/users?limit=10&status=active"},
		{method: http.MethodGet, path: "/health/ready"},
	}
	switch strings.ToLower(profile) {
	case "read":
		return reads
	case "", "mixed":
		return append(reads, target{method: http.MethodPost, path: "/api/v1/users", register: true})
	case "error-heavy":
		return []target{
			{method: http.MethodGet, path: "/api/v1/users/no-such-user"},
			{method: http.MethodGet, path: "/api/v1/users?limit=nope"},
			{method: http.MethodPost, path: "/api/v1/users", register: true, omitKey: true},
		}
	default:
		return nil
	}
}
