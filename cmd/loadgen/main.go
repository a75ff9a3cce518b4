// Command loadgen drives virtual users against one of the services and
// prints a latency summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

func main() {
	var cfg loadConfig
	flag.StringVar(&cfg.URL, "url", "http://localhost:8000/external", "target URL")
	flag.IntVar(&cfg.Users, "users", 5, "concurrent virtual users")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "per request timeout")
	flag.Parse()
	cfg.RunID = uuid.NewString()

	if cfg.Users < 1 {
		color.Red("Error: -users must be at least 1")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("Starting load test %s: %d users for %s against %s", cfg.RunID, cfg.Users, cfg.Duration, cfg.URL)

	sum, err := run(ctx, cfg, &http.Client{Timeout: cfg.Timeout})
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	printSummary(sum)
}

func printSummary(s summary) {
	color.Green("Total requests: %d", s.Requests)
	color.Green("Mean latency:   %s", s.Mean().Round(time.Millisecond))
	if s.Failures > 0 {
		color.Red("Failed requests: %d", s.Failures)
	}

	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		line := fmt.Sprintf("  %d: %d", code, s.Statuses[code])
		if code >= http.StatusInternalServerError {
			color.Yellow(line)
		} else {
			fmt.Println(line)
		}
	}
}
