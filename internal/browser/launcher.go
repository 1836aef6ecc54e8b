package browser

import (
	"context"
	"fmt"
	"log"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// DefaultUserAgent is a current desktop Chrome on Windows
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options control how a browser is launched
type Options struct {
	ExecPath  string
	Headless  bool
	UserAgent string
}

func (o Options) userAgent() string {
	if o.UserAgent == "" {
		return DefaultUserAgent
	}
	return o.UserAgent
}

// LocalLauncher starts Chrome as a child process of the server
type LocalLauncher struct {
	opts Options
}

// NewLocalLauncher creates a launcher that runs Chrome on this host
func NewLocalLauncher(opts Options) *LocalLauncher {
	return &LocalLauncher{opts: opts}
}

// Launch starts a new browser process with its own profile.
func (l *LocalLauncher) Launch(ctx context.Context) (*Session, error) {
	id := uuid.New().String()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.UserAgent(l.opts.userAgent()),
		chromedp.WindowSize(1280, 800),
	)
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	session, err := newSession(ctx, id, allocCtx, allocCancel, nil)
	if err != nil {
		return nil, err
	}

	log.Printf("✓ Browser %s launched locally (headless=%v)", shortID(id), l.opts.Headless)
	return session, nil
}

// DockerLauncher starts each browser in its own browserless/chrome container
// and connects to it over CDP.
type DockerLauncher struct {
	pool *Pool
	opts Options
}

// NewDockerLauncher creates a launcher backed by a container pool
func NewDockerLauncher(pool *Pool, opts Options) *DockerLauncher {
	return &DockerLauncher{pool: pool, opts: opts}
}

// Launch starts a container, attaches to its browser and applies the user agent.
func (d *DockerLauncher) Launch(ctx context.Context) (*Session, error) {
	id := uuid.New().String()

	container, err := d.pool.Start(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	release := func(ctx context.Context) error {
		return d.pool.Stop(ctx, container.ID)
	}

	connectURL := container.ConnectURL
	if !d.opts.Headless {
		connectURL += "?headless=false"
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), connectURL, chromedp.NoModifyURL)

	session, err := newSession(ctx, id, allocCtx, allocCancel, release)
	if err != nil {
		return nil, err
	}

	if err := session.SetUserAgent(ctx, d.opts.userAgent()); err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	log.Printf("✓ Browser %s launched in container %s", shortID(id), shortID(container.ID))
	return session, nil
}
