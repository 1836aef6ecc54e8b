package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/detox/internal/cookies"
	"github.com/shehryarbajwa/detox/pkg/models"
)

const (
	startupTimeout   = 45 * time.Second
	operationTimeout = 15 * time.Second
	releaseTimeout   = 30 * time.Second
)

// Session is a single browser tab driven over CDP. It belongs to one run and
// must be closed by its owner.
type Session struct {
	ID string

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	release     func(context.Context) error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// newSession attaches a chromedp context to the allocator and starts the
// browser. On failure everything acquired so far is released.
func newSession(ctx context.Context, id string, allocCtx context.Context, allocCancel context.CancelFunc, release func(context.Context) error) (*Session, error) {
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Printf))

	s := &Session{
		ID:          id,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		release:     release,
	}

	startCtx, done := s.operation(ctx, startupTimeout)
	defer done()

	if err := chromedp.Run(startCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	return s, nil
}

// operation derives a context from the browser that also ends when ctx ends.
func (s *Session) operation(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// SetUserAgent overrides the user agent for every later request.
func (s *Session) SetUserAgent(ctx context.Context, userAgent string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	opCtx, done := s.operation(ctx, operationTimeout)
	defer done()

	if err := chromedp.Run(opCtx, emulation.SetUserAgentOverride(userAgent)); err != nil {
		return fmt.Errorf("failed to set user agent: %w", err)
	}
	return nil
}

// SetCookies injects cookies into the browser cookie store.
func (s *Session) SetCookies(ctx context.Context, set []models.Cookie) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if len(set) == 0 {
		return nil
	}

	opCtx, done := s.operation(ctx, operationTimeout)
	defer done()

	if err := chromedp.Run(opCtx,
		network.Enable(),
		network.SetCookies(cookies.ToParams(set)),
	); err != nil {
		return fmt.Errorf("failed to inject cookies: %w", err)
	}
	return nil
}

// Navigate loads url and waits until the main frame's network goes quiet.
// The whole operation is bounded by timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	opCtx, done := s.operation(ctx, timeout)
	defer done()

	idle := newIdleTracker()
	chromedp.ListenTarget(opCtx, idle.observe)

	var mainFrame cdp.FrameID
	err := chromedp.Run(opCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.Navigate(url),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			mainFrame = tree.Frame.ID
			return nil
		}),
	)
	if err == nil {
		err = idle.wait(opCtx, mainFrame)
	}

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("navigation to %s cancelled: %w", url, ctx.Err())
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %s", ErrNavigationTimeout, timeout, url)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNavigationFailed, url, err)
	}
}

// Exists reports whether selector matches an element on the current page.
func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	if s.closed.Load() {
		return false, ErrSessionClosed
	}

	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}

	opCtx, done := s.operation(ctx, operationTimeout)
	defer done()

	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", quoted)
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return found, nil
}

// Close shuts the browser down and releases its container, if any. Only the
// first call does work; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("⚠️ Browser %s did not close cleanly: %v", shortID(s.ID), err)
		}
		s.cancel()
		s.allocCancel()

		if s.release != nil {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			s.closeErr = s.release(ctx)
		}

		log.Printf("🧹 Browser %s closed", shortID(s.ID))
	})
	return s.closeErr
}

// idleTracker follows page lifecycle events and remembers which frames have
// gone network-idle since their last navigation started.
type idleTracker struct {
	mu     sync.Mutex
	idle   map[cdp.FrameID]bool
	notify chan struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		idle:   make(map[cdp.FrameID]bool),
		notify: make(chan struct{}, 1),
	}
}

func (t *idleTracker) observe(ev interface{}) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}

	t.mu.Lock()
	switch e.Name {
	case "init":
		delete(t.idle, e.FrameID)
	case "networkAlmostIdle", "networkIdle":
		t.idle[e.FrameID] = true
	default:
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *idleTracker) wait(ctx context.Context, frame cdp.FrameID) error {
	for {
		t.mu.Lock()
		idle := t.idle[frame]
		t.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-t.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
