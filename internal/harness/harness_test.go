package harness

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

// The whole point of the harness: under concurrent clicks, fragment
// loads, and delayed mounts, every navigation must land.
func TestRunCompletesWithoutFailures(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in short mode")
	}

	h, err := New(t.Context(), Config{
		Messages:      60,
		Navigations:   200,
		Workers:       8,
		MountDelayMin: time.Millisecond,
		MountDelayMax: 120 * time.Millisecond,
		NavTimeout:    5 * time.Second,
		MaxRetries:    2,
		Window:        5,
		Seed:          42,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	report, err := h.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Navigations != 200 {
		t.Errorf("navigations = %d, want 200", report.Navigations)
	}
	if !report.Clean() {
		for _, f := range report.Failures {
			t.Errorf("failed navigation: uuid=%s trigger=%s attempts=%d err=%v",
				f.MessageUUID, f.Trigger, f.Attempts, f.Err)
		}
	}
	if report.Succeeded != report.Navigations {
		t.Errorf("succeeded = %d of %d", report.Succeeded, report.Navigations)
	}
}

func TestRunPaced(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in short mode")
	}

	h, err := New(t.Context(), Config{
		Messages:      20,
		Navigations:   30,
		Workers:       4,
		MountDelayMin: time.Millisecond,
		MountDelayMax: 20 * time.Millisecond,
		NavTimeout:    5 * time.Second,
		Rate:          200,
		Window:        4,
		Seed:          7,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	report, err := h.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Clean() {
		t.Errorf("failures = %d", len(report.Failures))
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.Messages <= 0 || cfg.Navigations <= 0 || cfg.Workers <= 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.MountDelayMax < cfg.MountDelayMin {
		t.Errorf("delay range inverted: %+v", cfg)
	}
	if cfg.Seed == 0 {
		t.Error("seed not randomized")
	}
}
