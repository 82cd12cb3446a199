// Package harness stress-tests the navigation pipeline end to end. It
// seeds a conversation large enough that virtualization leaves most
// targets unmounted, then fires waves of synthetic citation clicks and
// fragment loads while elements materialize after randomized delays.
// The pass criterion is absolute: every navigation lands.
package harness

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/loomchat/beacon/internal/conversation"
	"github.com/loomchat/beacon/internal/events"
	"github.com/loomchat/beacon/internal/evidence"
	"github.com/loomchat/beacon/internal/navigation"
	"github.com/loomchat/beacon/internal/viewtree"
)

// Config sizes one harness run. Zero values take the defaults below.
type Config struct {
	// Messages seeded into the conversation.
	Messages int

	// Navigations fired across the run.
	Navigations int

	// Workers firing navigations concurrently.
	Workers int

	// MountDelayMin/Max bound the randomized delay before an unmounted
	// target materializes, simulating degraded CPU or network.
	MountDelayMin time.Duration
	MountDelayMax time.Duration

	// NavTimeout bounds each navigation attempt.
	NavTimeout time.Duration

	// MaxRetries is how many extra attempts a timed-out navigation gets
	// before it counts as a failure.
	MaxRetries int

	// Rate paces navigation starts per second; 0 runs unpaced.
	Rate float64

	// Window is the renderer's eager-mount window. Keep it far below
	// Messages so most targets exercise the wait path.
	Window int

	// Seed fixes the run's randomness for reproducibility.
	Seed int64
}

func (c *Config) applyDefaults() {
	if c.Messages <= 0 {
		c.Messages = 120
	}
	if c.Navigations <= 0 {
		c.Navigations = 400
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MountDelayMin <= 0 {
		c.MountDelayMin = 5 * time.Millisecond
	}
	if c.MountDelayMax < c.MountDelayMin {
		c.MountDelayMax = c.MountDelayMin + 250*time.Millisecond
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 3 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Window <= 0 {
		c.Window = 10
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Failure records one navigation that never landed.
type Failure struct {
	MessageUUID string
	Trigger     navigation.Trigger
	Attempts    int
	Err         error
}

// Report is the outcome of a run.
type Report struct {
	Navigations int
	Succeeded   int
	Retries     int
	Failures    []Failure
	Elapsed     time.Duration
}

// Clean reports whether the run had zero failures.
func (r *Report) Clean() bool { return len(r.Failures) == 0 }

// Harness owns a fully wired in-memory pipeline.
type Harness struct {
	cfg    Config
	logger *zap.Logger

	svc      *conversation.Service
	renderer *conversation.Renderer
	nav      *navigation.Navigator
	bar      *navigation.MemoryBar
	tree     *viewtree.Tree

	conversationID string
	uuids          []string
}

// New builds the pipeline and seeds the conversation.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Harness, error) {
	cfg.applyDefaults()

	ev := events.NewManager(256)
	svc, err := conversation.NewService("", ev, logger)
	if err != nil {
		return nil, err
	}

	tree := viewtree.NewTree()
	viewport := viewtree.NewViewport(900, 1<<20)
	bar := navigation.NewMemoryBar()
	locator := navigation.NewLocator(tree, logger)
	revealer := navigation.NewRevealer(tree, viewport, logger)
	nav := navigation.NewNavigator(locator, revealer, bar, logger)
	renderer := conversation.NewRenderer(svc, tree, nav, cfg.Window, logger)

	h := &Harness{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		renderer: renderer,
		nav:      nav,
		bar:      bar,
		tree:     tree,
	}
	if err := h.seed(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// seed fills one conversation with completed cited messages and
// activates it, mounting only the renderer window.
func (h *Harness) seed(ctx context.Context) error {
	id, err := h.svc.CreateConversation(ctx)
	if err != nil {
		return err
	}
	h.conversationID = id

	sources := []evidence.Record{
		{ID: "w1", Kind: evidence.KindWeb, Title: "Background article", RelevanceRank: rankPtr(1)},
		{ID: "w2", Kind: evidence.KindWeb, Title: "Follow-up article", RelevanceRank: rankPtr(2)},
		{ID: "r1", Kind: evidence.KindRetrieval, Title: "Indexed document", RelevanceRank: rankPtr(1)},
		{ID: "m1", Kind: evidence.KindMemory, Title: "Earlier conversation", RelevanceRank: rankPtr(1)},
	}

	for i := 0; i < h.cfg.Messages; i++ {
		view, err := h.svc.AttachMessage(ctx, id, sources)
		if err != nil {
			return err
		}
		text := fmt.Sprintf("Reply %d cites the web [1] and a document [R1], then memory [M1] and more web [2].", i)
		if _, err := h.svc.AppendFragment(ctx, id, view.StableUUID, text); err != nil {
			return err
		}
		if err := h.svc.CompleteMessage(ctx, id, view.StableUUID); err != nil {
			return err
		}
		h.uuids = append(h.uuids, view.StableUUID)
	}

	return h.renderer.Activate(ctx, id)
}

// Run fires the configured navigations and reports. It returns an error
// only for harness-level problems; navigation failures land in the
// report.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	var limiter *rate.Limiter
	if h.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.Rate), h.cfg.Workers)
	}

	type job struct {
		uuid    string
		trigger navigation.Trigger
		delay   time.Duration
	}

	rng := rand.New(rand.NewSource(h.cfg.Seed))
	jobs := make([]job, h.cfg.Navigations)
	spread := h.cfg.MountDelayMax - h.cfg.MountDelayMin
	for i := range jobs {
		trigger := navigation.TriggerClick
		if i%3 == 0 {
			trigger = navigation.TriggerFragment
		}
		jobs[i] = job{
			uuid:    h.uuids[rng.Intn(len(h.uuids))],
			trigger: trigger,
			delay:   h.cfg.MountDelayMin + time.Duration(rng.Int63n(int64(spread)+1)),
		}
	}

	report := &Report{Navigations: len(jobs)}
	var mu sync.Mutex
	started := time.Now()

	jobCh := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < h.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				}
				outcome, attempts := h.navigate(ctx, j.uuid, j.trigger, j.delay)
				mu.Lock()
				report.Retries += attempts - 1
				if outcome.State == navigation.StateDone {
					report.Succeeded++
				} else {
					report.Failures = append(report.Failures, Failure{
						MessageUUID: j.uuid,
						Trigger:     j.trigger,
						Attempts:    attempts,
						Err:         outcome.Err,
					})
				}
				mu.Unlock()
			}
		}()
	}

	for _, j := range jobs {
		select {
		case <-ctx.Done():
			close(jobCh)
			wg.Wait()
			return report, ctx.Err()
		case jobCh <- j:
		}
	}
	close(jobCh)
	wg.Wait()

	report.Elapsed = time.Since(started)
	h.logger.Info("Harness run finished",
		zap.Int("navigations", report.Navigations),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("retries", report.Retries),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// navigate drives one target with bounded retries. Unmounted targets
// materialize after the job's delay, the way a client's virtualized
// list renders them after the scroll intent reaches it.
func (h *Harness) navigate(ctx context.Context, uuid string, trigger navigation.Trigger, delay time.Duration) (navigation.Outcome, int) {
	attempts := 0
	var outcome navigation.Outcome
	for attempts <= h.cfg.MaxRetries {
		attempts++

		elementID := navigation.ElementIDFor(uuid)
		if _, mounted := h.tree.Lookup(elementID); !mounted {
			timer := time.AfterFunc(delay, func() {
				h.renderer.EnsureMounted(context.Background(), uuid)
			})
			defer timer.Stop()
		}

		switch trigger {
		case navigation.TriggerFragment:
			outcome, _ = h.nav.HandleFragmentOnLoad(ctx, navigation.FragmentFor(uuid))
		default:
			outcome = h.nav.NavigateToMessage(ctx, uuid, navigation.Options{
				UpdateURL: true,
				Timeout:   h.cfg.NavTimeout,
				Trigger:   trigger,
			})
		}
		if outcome.State == navigation.StateDone || !outcome.TimedOut {
			break
		}
	}
	return outcome, attempts
}

// Close releases the underlying service.
func (h *Harness) Close() error { return h.svc.Close() }

func rankPtr(n int) *int { return &n }
