package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunHeader carries the load test id on every request.
const RunHeader = "X-Loadgen-Run"

type loadConfig struct {
	URL      string
	Users    int
	Duration time.Duration
	Timeout  time.Duration
	RunID    string
}

type result struct {
	latency time.Duration
	status  int
	err     error
}

type summary struct {
	Requests int
	Failures int
	Total    time.Duration
	Statuses map[int]int
}

// Mean is the average latency of completed requests.
func (s summary) Mean() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Requests)
}

// run sends requests from cfg.Users goroutines until cfg.Duration elapses
// or ctx is cancelled.
func run(ctx context.Context, cfg loadConfig, client *http.Client) (summary, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	results := make(chan result, cfg.Users)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Users; i++ {
		g.Go(func() error {
			return user(ctx, cfg, client, results)
		})
	}

	var waitErr error
	go func() {
		waitErr = g.Wait()
		close(results)
	}()

	s := summary{Statuses: map[int]int{}}
	for r := range results {
		if r.err != nil {
			s.Failures++
			continue
		}
		s.Requests++
		s.Total += r.latency
		s.Statuses[r.status]++
	}
	return s, waitErr
}

func user(ctx context.Context, cfg loadConfig, client *http.Client, results chan<- result) error {
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set(RunHeader, cfg.RunID)

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			results <- result{err: err}
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		results <- result{latency: time.Since(start), status: resp.StatusCode}
	}
	return nil
}
