package detox

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/shehryarbajwa/detox/pkg/models"
)

// Engine is the browser a single run drives. Calls are never concurrent.
type Engine interface {
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Close() error
}

// LaunchFunc starts a fresh Engine for one run
type LaunchFunc func(ctx context.Context) (Engine, error)

// Options describe the target site and the playback timing
type Options struct {
	HomeURL           string
	WatchURL          string // video id is appended
	LoginSelector     string
	ItemCap           time.Duration
	HomeTimeout       time.Duration
	NavigationTimeout time.Duration
}

// DefaultOptions targets YouTube with a 30s dwell cap.
func DefaultOptions() Options {
	return Options{
		HomeURL:           "https://www.youtube.com",
		WatchURL:          "https://www.youtube.com/watch?v=",
		LoginSelector:     "#avatar-btn",
		ItemCap:           30 * time.Second,
		HomeTimeout:       30 * time.Second,
		NavigationTimeout: 60 * time.Second,
	}
}

type driver struct {
	engine    Engine
	opts      Options
	emit      func(models.Event)
	sleep     func(context.Context, time.Duration) error
	onWatched func(time.Duration)
}

// signIn injects cookies, opens the home page and checks for a signed-in user.
// A missing login indicator only produces a warning.
func (d *driver) signIn(ctx context.Context, cookies []models.Cookie) error {
	if err := d.engine.SetCookies(ctx, cookies); err != nil {
		return err
	}

	if err := d.engine.Navigate(ctx, d.opts.HomeURL, d.opts.HomeTimeout); err != nil {
		return fmt.Errorf("failed to open %s: %w", d.opts.HomeURL, err)
	}

	loggedIn, err := d.engine.Exists(ctx, d.opts.LoginSelector)
	if err != nil {
		log.Printf("⚠️ Login check failed: %v", err)
	}

	if loggedIn {
		d.emit(models.Success("Login confirmed"))
		return nil
	}

	log.Printf("⚠️ %v", ErrLoginUnverified)
	d.emit(models.Warning("Login verification failed, cookies may be expired"))
	return nil
}

// watch opens videos in order, holding each for min(ItemCap, remaining budget),
// and stops once the budget is spent. The first navigation error ends the loop.
func (d *driver) watch(ctx context.Context, ids []string, budget time.Duration) (time.Duration, error) {
	var watched time.Duration
	total := len(ids)

	for i, id := range ids {
		if watched >= budget {
			break
		}

		dwell := min(d.opts.ItemCap, budget-watched)

		if err := d.engine.Navigate(ctx, d.opts.WatchURL+url.QueryEscape(id), d.opts.NavigationTimeout); err != nil {
			return watched, fmt.Errorf("failed to open video %d/%d (%s): %w", i+1, total, id, err)
		}

		d.emit(models.Progress(
			fmt.Sprintf("Watching video %d/%d for %.1fs", i+1, total, dwell.Seconds()),
			map[string]any{
				"index":        i + 1,
				"total":        total,
				"videoId":      id,
				"dwellSeconds": roundTenth(dwell.Seconds()),
			},
		))

		if err := d.sleep(ctx, dwell); err != nil {
			return watched, fmt.Errorf("interrupted while watching video %d/%d: %w", i+1, total, err)
		}

		watched += dwell
		d.onWatched(dwell)
		videosWatched.Inc()
		watchSeconds.Add(dwell.Seconds())
	}

	return watched, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
