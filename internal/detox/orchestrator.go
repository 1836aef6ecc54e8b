// Package detox runs timed playback sessions against a signed-in browser and
// reports their progress to a subscriber.
package detox

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/detox/internal/content"
	"github.com/shehryarbajwa/detox/internal/cookies"
	"github.com/shehryarbajwa/detox/internal/events"
	"github.com/shehryarbajwa/detox/pkg/models"
)

// run tracks one in-flight detox run
type run struct {
	mu   sync.Mutex
	info models.Run
}

func (r *run) setState(state models.RunState) {
	r.mu.Lock()
	r.info.State = state
	r.mu.Unlock()
}

func (r *run) addWatched(d time.Duration) {
	r.mu.Lock()
	r.info.WatchedSeconds = roundTenth(r.info.WatchedSeconds + d.Seconds())
	r.mu.Unlock()
}

func (r *run) snapshot() models.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Orchestrator starts detox runs and supervises each one from credential
// validation to browser teardown.
type Orchestrator struct {
	resolver content.Resolver
	reporter events.Reporter
	launch   LaunchFunc
	opts     Options
	sleep    func(context.Context, time.Duration) error

	runs   sync.Map // map[runID]*run
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. Runs started with Start live until they finish
// or Shutdown is called.
func New(resolver content.Resolver, reporter events.Reporter, launch LaunchFunc, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		resolver: resolver,
		reporter: reporter,
		launch:   launch,
		opts:     opts,
		sleep:    sleepContext,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins a run in the background and returns its id immediately.
func (o *Orchestrator) Start(req models.DetoxRequest) string {
	r := o.track(req)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Printf("❌ Detox run %s panicked outside supervision: %v", shortID(r.info.ID), p)
			}
		}()
		o.supervise(o.ctx, r, req)
	}()

	return r.info.ID
}

// Run executes a run synchronously and returns its failure, if any. Exactly
// one terminal event is emitted either way.
func (o *Orchestrator) Run(ctx context.Context, req models.DetoxRequest) error {
	return o.supervise(ctx, o.track(req), req)
}

// ActiveRuns returns a snapshot of the runs in progress, oldest first.
func (o *Orchestrator) ActiveRuns() []models.Run {
	var runs []models.Run

	o.runs.Range(func(_, value any) bool {
		runs = append(runs, value.(*run).snapshot())
		return true
	})

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}

// Shutdown cancels every background run and waits for them to release their
// browsers, or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) track(req models.DetoxRequest) *run {
	r := &run{info: models.Run{
		ID:            uuid.New().String(),
		SubscriberID:  req.SubscriberID,
		Topic:         req.Topic,
		State:         models.StateStarting,
		BudgetSeconds: req.Budget().Seconds(),
		StartedAt:     time.Now(),
	}}

	o.runs.Store(r.info.ID, r)
	return r
}

// supervise is the failure boundary of a run: every error ends up as a single
// detoxError event, success as a single detoxComplete.
func (o *Orchestrator) supervise(ctx context.Context, r *run, req models.DetoxRequest) error {
	defer o.runs.Delete(r.info.ID)

	activeRuns.Inc()
	defer activeRuns.Dec()

	emit := func(event models.Event) {
		o.reporter.Emit(req.SubscriberID, event)
	}

	log.Printf("🚀 Detox run %s started (topic=%q, budget=%s)", shortID(r.info.ID), req.Topic, req.Budget())

	watched, err := o.guard(ctx, r, req, emit)
	if err != nil {
		r.setState(models.StateFailed)
		runsTotal.WithLabelValues("failed").Inc()
		log.Printf("❌ Detox run %s failed: %v", shortID(r.info.ID), err)
		emit(models.Failure(err.Error()))
		return err
	}

	r.setState(models.StateCompleted)
	runsTotal.WithLabelValues("completed").Inc()

	seconds := watched.Seconds()
	log.Printf("✅ Detox run %s complete (%.1fs watched)", shortID(r.info.ID), seconds)
	emit(models.Complete(
		fmt.Sprintf("Detox complete! Watched %.1fs of videos about %q", seconds, req.Topic),
		roundTenth(seconds),
	))
	return nil
}

// guard turns a panic anywhere in the pipeline into an error.
func (o *Orchestrator) guard(ctx context.Context, r *run, req models.DetoxRequest, emit func(models.Event)) (watched time.Duration, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrRunPanicked, p)
		}
	}()

	return o.pipeline(ctx, r, req, emit)
}

func (o *Orchestrator) pipeline(ctx context.Context, r *run, req models.DetoxRequest, emit func(models.Event)) (time.Duration, error) {
	r.setState(models.StateValidatingCredentials)
	creds, err := cookies.Normalize(req.UserCredentials)
	if err != nil {
		return 0, err
	}

	r.setState(models.StateResolvingContent)
	emit(models.Progress(fmt.Sprintf("Searching for videos about %q", req.Topic), nil))

	ids, err := o.resolver.Resolve(ctx, req.Topic)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w for %q", ErrNoContentFound, req.Topic)
	}
	emit(models.Progress(fmt.Sprintf("Found %d videos", len(ids)), map[string]any{"total": len(ids)}))

	r.setState(models.StateLaunching)
	emit(models.Progress("Launching browser", nil))

	engine, err := o.launch(ctx)
	if err != nil {
		return 0, err
	}
	if engine == nil {
		return 0, ErrNoEngine
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("⚠️ Failed to close browser for run %s: %v", shortID(r.info.ID), err)
		}
	}()

	d := &driver{
		engine:    engine,
		opts:      o.opts,
		emit:      emit,
		sleep:     o.sleep,
		onWatched: r.addWatched,
	}

	r.setState(models.StateVerifyingLogin)
	if err := d.signIn(ctx, creds); err != nil {
		return 0, err
	}

	r.setState(models.StateWatching)
	return d.watch(ctx, ids, req.Budget())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
