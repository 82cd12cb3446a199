// Command torture runs the navigation stress harness against a fully
// wired in-memory pipeline and exits non-zero if any navigation fails.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/loomchat/beacon/internal/harness"
)

func main() {
	var (
		messages    = flag.Int("messages", 120, "messages seeded into the conversation")
		navigations = flag.Int("navigations", 400, "navigations to fire")
		workers     = flag.Int("workers", 8, "concurrent navigation workers")
		maxDelay    = flag.Duration("max-mount-delay", 250*time.Millisecond, "upper bound on simulated mount delay")
		navTimeout  = flag.Duration("nav-timeout", 3*time.Second, "per-navigation timeout")
		retries     = flag.Int("retries", 2, "extra attempts per timed-out navigation")
		rps         = flag.Float64("rate", 0, "navigations per second, 0 = unpaced")
		window      = flag.Int("window", 10, "renderer eager-mount window")
		seed        = flag.Int64("seed", 0, "randomness seed, 0 = time-based")
		deadline    = flag.Duration("deadline", 15*time.Second, "overall run deadline")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *deadline)
	defer cancel()

	h, err := harness.New(ctx, harness.Config{
		Messages:      *messages,
		Navigations:   *navigations,
		Workers:       *workers,
		MountDelayMax: *maxDelay,
		NavTimeout:    *navTimeout,
		MaxRetries:    *retries,
		Rate:          *rps,
		Window:        *window,
		Seed:          *seed,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to build harness", zap.Error(err))
	}
	defer h.Close()

	report, err := h.Run(ctx)
	if err != nil {
		logger.Fatal("Harness run aborted", zap.Error(err))
	}
	for _, f := range report.Failures {
		logger.Error("Navigation failed",
			zap.String("message_uuid", f.MessageUUID),
			zap.String("trigger", string(f.Trigger)),
			zap.Int("attempts", f.Attempts),
			zap.Error(f.Err),
		)
	}
	if !report.Clean() {
		logger.Error("Torture run had failures",
			zap.Int("failures", len(report.Failures)),
			zap.Int("navigations", report.Navigations),
		)
		os.Exit(1)
	}
	logger.Info("Torture run clean",
		zap.Int("navigations", report.Navigations),
		zap.Int("retries", report.Retries),
		zap.Duration("elapsed", report.Elapsed),
	)
}
