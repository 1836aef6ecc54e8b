package detox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/detox/internal/cookies"
	"github.com/shehryarbajwa/detox/pkg/models"
)

const validCookies = `[{"name":"SID","value":"abc","domain":".youtube.com","path":"/","storeId":"0","id":1,"session":true,"expirationDate":1893456000,"sameSite":"no_restriction"}]`

type fakeEngine struct {
	mu        sync.Mutex
	ops       []string
	cookies   []models.Cookie
	loggedIn  bool
	existsErr error
	failURL   string
	failErr   error
	panicURL  string
	closes    int
}

func (e *fakeEngine) record(op string) {
	e.mu.Lock()
	e.ops = append(e.ops, op)
	e.mu.Unlock()
}

func (e *fakeEngine) SetCookies(_ context.Context, set []models.Cookie) error {
	e.record("cookies")
	e.mu.Lock()
	e.cookies = set
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Navigate(_ context.Context, url string, _ time.Duration) error {
	e.record("navigate " + url)
	if url == e.panicURL {
		panic("renderer crashed")
	}
	if url == e.failURL {
		return e.failErr
	}
	return nil
}

func (e *fakeEngine) Exists(_ context.Context, selector string) (bool, error) {
	e.record("exists " + selector)
	return e.loggedIn, e.existsErr
}

func (e *fakeEngine) Close() error {
	e.record("close")
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) videoVisits() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var visits []string
	for _, op := range e.ops {
		if id, ok := strings.CutPrefix(op, "navigate https://www.youtube.com/watch?v="); ok {
			visits = append(visits, id)
		}
	}
	return visits
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

type fakeResolver struct {
	ids []string
	err error
}

func (r *fakeResolver) Resolve(context.Context, string) ([]string, error) {
	return r.ids, r.err
}

type fakeReporter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *fakeReporter) Emit(_ string, event models.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *fakeReporter) all() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

func (r *fakeReporter) terminal(t *testing.T) models.Event {
	t.Helper()

	var terminal []models.Event
	for _, ev := range r.all() {
		if ev.IsTerminal() {
			terminal = append(terminal, ev)
		}
	}
	require.Len(t, terminal, 1, "exactly one terminal event per run")
	return terminal[0]
}

func (r *fakeReporter) logs() []models.LogPayload {
	var logs []models.LogPayload
	for _, ev := range r.all() {
		if ev.Name == models.EventLog {
			logs = append(logs, ev.Data.(models.LogPayload))
		}
	}
	return logs
}

type harness struct {
	orch     *Orchestrator
	engine   *fakeEngine
	reporter *fakeReporter
	launches int
	sleeps   []time.Duration
}

func newHarness(resolver *fakeResolver) *harness {
	h := &harness{
		engine:   &fakeEngine{loggedIn: true},
		reporter: &fakeReporter{},
	}

	launch := func(context.Context) (Engine, error) {
		h.launches++
		return h.engine, nil
	}

	h.orch = New(resolver, h.reporter, launch, DefaultOptions())
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func request(seconds float64) models.DetoxRequest {
	return models.DetoxRequest{
		Topic:           "stoic philosophy",
		Duration:        &seconds,
		UserCredentials: validCookies,
		SubscriberID:    "sub-1",
	}
}

func TestRun_StopsWhenBudgetIsSpent(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2", "v3", "v4", "v5"}})

	require.NoError(t, h.orch.Run(context.Background(), request(65)))

	assert.Equal(t, []string{"v1", "v2", "v3"}, h.engine.videoVisits())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 5 * time.Second}, h.sleeps)
	assert.Equal(t, 1, h.engine.closeCount())

	terminal := h.reporter.terminal(t)
	require.Equal(t, models.EventComplete, terminal.Name)
	payload := terminal.Data.(models.CompletePayload)
	assert.True(t, payload.Success)
	assert.Contains(t, payload.Message, "65.0s")
	assert.Equal(t, 65.0, payload.WatchedSeconds)

	var progress []string
	for _, l := range h.reporter.logs() {
		if strings.HasPrefix(l.Message, "Watching video") {
			progress = append(progress, l.Message)
		}
	}
	assert.Equal(t, []string{
		"Watching video 1/5 for 30.0s",
		"Watching video 2/5 for 30.0s",
		"Watching video 3/5 for 5.0s",
	}, progress)
}

func TestRun_ZeroBudgetVisitsNothing(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2"}})

	require.NoError(t, h.orch.Run(context.Background(), request(0)))

	assert.Empty(t, h.engine.videoVisits())
	assert.Empty(t, h.sleeps)
	assert.Equal(t, 1, h.engine.closeCount())

	terminal := h.reporter.terminal(t)
	require.Equal(t, models.EventComplete, terminal.Name)
	assert.Contains(t, terminal.Data.(models.CompletePayload).Message, "0.0s")
}

func TestRun_DefaultDuration(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2", "v3"}})

	req := request(0)
	req.Duration = nil
	require.NoError(t, h.orch.Run(context.Background(), req))

	assert.Equal(t, []string{"v1", "v2"}, h.engine.videoVisits())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.sleeps)
}

func TestRun_BudgetLargerThanContent(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2"}})

	require.NoError(t, h.orch.Run(context.Background(), request(600)))

	assert.Equal(t, []string{"v1", "v2"}, h.engine.videoVisits())
	terminal := h.reporter.terminal(t)
	assert.Contains(t, terminal.Data.(models.CompletePayload).Message, "60.0s")
}

func TestRun_HugeBudgetStillWatches(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2"}})

	require.NoError(t, h.orch.Run(context.Background(), request(1e10)))

	assert.Equal(t, []string{"v1", "v2"}, h.engine.videoVisits())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.sleeps)
	terminal := h.reporter.terminal(t)
	assert.Contains(t, terminal.Data.(models.CompletePayload).Message, "60.0s")
}

func TestRun_EmptyResolutionNeverLaunches(t *testing.T) {
	h := newHarness(&fakeResolver{ids: nil})

	err := h.orch.Run(context.Background(), request(60))
	require.ErrorIs(t, err, ErrNoContentFound)

	assert.Zero(t, h.launches)
	terminal := h.reporter.terminal(t)
	assert.Equal(t, models.EventError, terminal.Name)
	assert.Equal(t, err.Error(), terminal.Data.(models.ErrorPayload).Message)
}

func TestRun_ResolverFailure(t *testing.T) {
	h := newHarness(&fakeResolver{err: errors.New("quota exceeded")})

	err := h.orch.Run(context.Background(), request(60))
	require.ErrorIs(t, err, ErrResolutionFailed)
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.Zero(t, h.launches)
	assert.Equal(t, models.EventError, h.reporter.terminal(t).Name)
}

func TestRun_InvalidCredentials(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1"}})

	req := request(60)
	req.UserCredentials = "{not a cookie list"
	err := h.orch.Run(context.Background(), req)
	require.ErrorIs(t, err, cookies.ErrInvalidFormat)

	assert.Zero(t, h.launches)
	terminal := h.reporter.terminal(t)
	assert.Equal(t, models.EventError, terminal.Name)
	assert.Contains(t, terminal.Data.(models.ErrorPayload).Message, "invalid cookie format")
}

func TestRun_NavigationFailureAbortsRun(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2", "v3", "v4", "v5"}})
	h.engine.failURL = "https://www.youtube.com/watch?v=v2"
	h.engine.failErr = errors.New("net::ERR_CONNECTION_RESET")

	err := h.orch.Run(context.Background(), request(300))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video 2/5")

	assert.Equal(t, []string{"v1", "v2"}, h.engine.videoVisits())
	assert.Equal(t, 1, h.engine.closeCount())

	terminal := h.reporter.terminal(t)
	assert.Equal(t, models.EventError, terminal.Name)
	assert.Contains(t, terminal.Data.(models.ErrorPayload).Message, "ERR_CONNECTION_RESET")
}

func TestRun_HomeNavigationFailureIsFatal(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1"}})
	h.engine.failURL = "https://www.youtube.com"
	h.engine.failErr = errors.New("timed out")

	err := h.orch.Run(context.Background(), request(60))
	require.Error(t, err)

	assert.Empty(t, h.engine.videoVisits())
	assert.Equal(t, 1, h.engine.closeCount())
	assert.Equal(t, models.EventError, h.reporter.terminal(t).Name)
}

func TestRun_LaunchFailure(t *testing.T) {
	reporter := &fakeReporter{}
	orch := New(&fakeResolver{ids: []string{"v1"}}, reporter, func(context.Context) (Engine, error) {
		return nil, errors.New("chrome not found")
	}, DefaultOptions())

	err := orch.Run(context.Background(), request(60))
	require.Error(t, err)

	terminal := reporter.terminal(t)
	assert.Equal(t, models.EventError, terminal.Name)
	assert.Equal(t, "chrome not found", terminal.Data.(models.ErrorPayload).Message)
}

func TestRun_NilEngine(t *testing.T) {
	reporter := &fakeReporter{}
	orch := New(&fakeResolver{ids: []string{"v1"}}, reporter, func(context.Context) (Engine, error) {
		return nil, nil
	}, DefaultOptions())

	require.ErrorIs(t, orch.Run(context.Background(), request(60)), ErrNoEngine)
	assert.Equal(t, models.EventError, reporter.terminal(t).Name)
}

func TestRun_PanicIsContained(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1", "v2"}})
	h.engine.panicURL = "https://www.youtube.com/watch?v=v1"

	err := h.orch.Run(context.Background(), request(60))
	require.ErrorIs(t, err, ErrRunPanicked)

	assert.Equal(t, 1, h.engine.closeCount())
	terminal := h.reporter.terminal(t)
	assert.Contains(t, terminal.Data.(models.ErrorPayload).Message, "renderer crashed")
}

func TestRun_LoginVerification(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		h := newHarness(&fakeResolver{ids: []string{"v1"}})

		require.NoError(t, h.orch.Run(context.Background(), request(10)))
		assert.Contains(t, h.reporter.logs(), models.LogPayload{Message: "Login confirmed", Type: models.LogSuccess})
	})

	t.Run("unverified continues", func(t *testing.T) {
		h := newHarness(&fakeResolver{ids: []string{"v1"}})
		h.engine.loggedIn = false

		require.NoError(t, h.orch.Run(context.Background(), request(10)))
		assert.Contains(t, h.reporter.logs(), models.LogPayload{
			Message: "Login verification failed, cookies may be expired",
			Type:    models.LogError,
		})
		assert.Equal(t, []string{"v1"}, h.engine.videoVisits())
		assert.Equal(t, models.EventComplete, h.reporter.terminal(t).Name)
	})

	t.Run("selector check error continues", func(t *testing.T) {
		h := newHarness(&fakeResolver{ids: []string{"v1"}})
		h.engine.existsErr = errors.New("execution context destroyed")

		require.NoError(t, h.orch.Run(context.Background(), request(10)))
		assert.Equal(t, models.EventComplete, h.reporter.terminal(t).Name)
	})
}

func TestRun_CookiesInjectedBeforeNavigation(t *testing.T) {
	h := newHarness(&fakeResolver{ids: []string{"v1"}})

	require.NoError(t, h.orch.Run(context.Background(), request(5)))

	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()

	require.GreaterOrEqual(t, len(h.engine.ops), 4)
	assert.Equal(t, "cookies", h.engine.ops[0])
	assert.Equal(t, "navigate https://www.youtube.com", h.engine.ops[1])
	assert.Equal(t, "exists #avatar-btn", h.engine.ops[2])
	assert.Equal(t, "close", h.engine.ops[len(h.engine.ops)-1])

	require.Len(t, h.engine.cookies, 1)
	assert.Nil(t, h.engine.cookies[0].Expires)
	assert.Equal(t, models.SameSiteNone, h.engine.cookies[0].SameSite)
}

func TestStart_ReturnsImmediatelyAndShutdownReleasesBrowser(t *testing.T) {
	engine := &fakeEngine{loggedIn: true}
	reporter := &fakeReporter{}
	orch := New(&fakeResolver{ids: []string{"v1", "v2"}}, reporter, func(context.Context) (Engine, error) {
		return engine, nil
	}, DefaultOptions())

	runID := orch.Start(request(60))
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		runs := orch.ActiveRuns()
		return len(runs) == 1 && runs[0].ID == runID && runs[0].State == models.StateWatching
	}, 2*time.Second, 10*time.Millisecond)

	active := orch.ActiveRuns()[0]
	assert.Equal(t, "sub-1", active.SubscriberID)
	assert.Equal(t, 60.0, active.BudgetSeconds)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))

	assert.Empty(t, orch.ActiveRuns())
	assert.Equal(t, 1, engine.closeCount())

	terminal := reporter.terminal(t)
	assert.Equal(t, models.EventError, terminal.Name)
	assert.Contains(t, terminal.Data.(models.ErrorPayload).Message, "interrupted")
}

func TestDriverWatch_TracksWatchedTime(t *testing.T) {
	engine := &fakeEngine{}
	var total time.Duration
	var events []models.Event

	d := &driver{
		engine:    engine,
		opts:      DefaultOptions(),
		emit:      func(ev models.Event) { events = append(events, ev) },
		sleep:     func(context.Context, time.Duration) error { return nil },
		onWatched: func(dwell time.Duration) { total += dwell },
	}

	watched, err := d.watch(context.Background(), []string{"a", "b"}, 45*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, watched)
	assert.Equal(t, 45*time.Second, total)

	require.Len(t, events, 2)
	details := events[1].Data.(models.LogPayload).Details
	assert.Equal(t, 2, details["index"])
	assert.Equal(t, 2, details["total"])
	assert.Equal(t, "b", details["videoId"])
	assert.Equal(t, 15.0, details["dwellSeconds"])
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
