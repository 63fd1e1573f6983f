// README: Bench cases; environment, migration, API contract, cache and latency checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"vectra/internal/infra"
	"vectra/internal/modules/location"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisURL != "" {
		if rc, err := infra.NewRedis(r.cfg.RedisURL); err == nil {
			r.redis = rc
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "refined store reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "cache and lock store reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "schema can be applied",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationDir); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "trace, refined and feedback tables",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				var missing []string
				for _, table := range []string{"raw_gps_traces", "refined_locations", "location_feedback"} {
					var ok bool
					if err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&ok); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !ok {
						missing = append(missing, table)
					}
				}
				if len(missing) > 0 {
					return Result{Status: "FAIL", Note: "missing " + strings.Join(missing, ",")}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "GET /health",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expectStatus(ctx, http.MethodGet, base+"/health", nil, http.StatusOK)
			},
		},
		{
			Name:  "API: resolve malformed id",
			Focus: "400 on a non-geohash id",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expectStatus(ctx, http.MethodGet, base+"/api/v1/resolve/not-a-hash", nil, http.StatusBadRequest)
			},
		},
		{
			Name:  "API: resolve unknown id",
			Focus: "404 for a cell nobody delivers to",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expectStatus(ctx, http.MethodGet, base+"/api/v1/resolve/zzzzzzz", nil, http.StatusNotFound)
			},
		},
		{
			Name:  "API: resolve known id",
			Focus: "200 with both points",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.KnownID == "" {
					return Result{Status: "SKIP", Note: "known-id not set"}
				}
				var res location.Resolution
				start := time.Now()
				status, err := r.getJSON(ctx, base+"/api/v1/resolve/"+r.cfg.KnownID, &res)
				latency := time.Since(start)
				if err != nil {
					return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
				}
				if status != http.StatusOK || res.AddressID != r.cfg.KnownID {
					return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS", Latency: latency, Note: "source=" + res.Source}
			},
		},
		{
			Name:  "Cache: populated after resolve",
			Focus: "loc:{id} present in Redis",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.KnownID == "" {
					return Result{Status: "SKIP", Note: "known-id not set"}
				}
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ttl, err := r.redis.TTL(ctx, location.CacheKey(r.cfg.KnownID)).Result()
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if ttl <= 0 {
					return Result{Status: "FAIL", Note: "key missing or without ttl"}
				}
				return Result{Status: "PASS", Note: "ttl=" + ttl.String()}
			},
		},
		{
			Name:  "API: feedback accepted",
			Focus: "202 queued",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expectStatus(ctx, http.MethodPost, base+"/api/v1/feedback", map[string]any{
					"address_id": "zzzzzzz",
					"driver_id":  "bench",
					"is_np_ok":   true,
					"is_ep_ok":   true,
					"comment":    "bench run",
				}, http.StatusAccepted, http.StatusUnauthorized)
			},
		},
		{
			Name:  "API: feedback rejected",
			Focus: "400 on half a correction",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expectStatus(ctx, http.MethodPost, base+"/api/v1/feedback", map[string]any{
					"address_id":    "zzzzzzz",
					"driver_id":     "bench",
					"corrected_lat": 1.0,
				}, http.StatusBadRequest, http.StatusUnauthorized)
			},
		},
		{
			Name:  "Perf: resolve latency",
			Focus: "p50/p99 under concurrency",
			Run: func(ctx context.Context, r *Runner) Result {
				id := r.cfg.KnownID
				if id == "" {
					id = "zzzzzzz"
				}
				return perfLoad(ctx, r, base+"/api/v1/resolve/"+id)
			},
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (r *Runner) getJSON(ctx context.Context, url string, out any) (int, error) {
	status, b, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status, err
	}
	if status == http.StatusOK {
		return status, json.Unmarshal(b, out)
	}
	return status, nil
}

// expectStatus passes on the first status; the others pass with a note.
func (r *Runner) expectStatus(ctx context.Context, method, url string, body any, want int, tolerated ...int) Result {
	start := time.Now()
	status, _, err := r.do(ctx, method, url, body)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: "FAIL", Latency: latency, Note: err.Error()}
	}
	if status == want {
		return Result{Status: "PASS", Latency: latency}
	}
	if slices.Contains(tolerated, status) {
		return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu        sync.Mutex
		latencies []time.Duration
		errCount  int
	)
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				start := time.Now()
				_, _, err := r.do(ctx, http.MethodGet, url, nil)
				d := time.Since(start)
				mu.Lock()
				if err != nil {
					errCount++
				} else {
					latencies = append(latencies, d)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	slices.Sort(latencies)
	p50 := latencies[len(latencies)/2]
	p99 := latencies[len(latencies)*99/100]
	rps := float64(len(latencies)) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Latency: p50, Note: fmt.Sprintf("rps=%.1f p99=%s errors=%d", rps, p99, errCount)}
}
