package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/detox/internal/api"
	"github.com/shehryarbajwa/detox/internal/browser"
	"github.com/shehryarbajwa/detox/internal/config"
	"github.com/shehryarbajwa/detox/internal/content"
	"github.com/shehryarbajwa/detox/internal/detox"
	"github.com/shehryarbajwa/detox/internal/events"
	"github.com/shehryarbajwa/detox/internal/ratelimit"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("Starting Detox...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launch, closeLauncher, err := newLauncher(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up browser engine: %v", err)
	}
	defer closeLauncher()

	var resolver content.Resolver
	if cfg.YouTubeAPIKey != "" {
		resolver = content.NewYouTubeAPI(cfg.YouTubeAPIKey, cfg.YouTubeAPIURL, cfg.MaxResults)
		log.Println("✓ Content resolver: YouTube Data API")
	} else {
		resolver = content.NewSearchScraper(cfg.YouTubeSearchURL, cfg.MaxResults)
		log.Println("✓ Content resolver: search page (set YOUTUBE_API_KEY to use the Data API)")
	}

	hub := events.NewHub()
	var reporter events.Reporter = hub
	if cfg.NATSURL != "" {
		relay, err := events.NewRelay(cfg.NATSURL, cfg.NATSSubject, hub)
		if err != nil {
			log.Fatalf("Failed to start event relay: %v", err)
		}
		defer relay.Close()
		reporter = relay
		log.Printf("✓ Event relay connected to %s (subject %s.*)", cfg.NATSURL, cfg.NATSSubject)
	}
	log.Println("✓ Event hub initialized")

	orchestrator := detox.New(resolver, reporter, launch, detox.DefaultOptions())
	log.Println("✓ Orchestrator initialized")

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	log.Printf("✓ Rate limiter initialized (%d req/hour per client, trust proxy headers: %v)", cfg.RateLimitPerHour, cfg.TrustProxy)

	handler := api.NewHandler(orchestrator)
	router := handler.SetupRoutes(hub.HandleSubscribe, rateLimiter, cfg.TrustProxy)
	log.Println("✓ HTTP routes configured")

	// WriteTimeout stays unset: /v1/events holds a websocket open for the whole run
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
		log.Printf("📍 Start runs with POST http://localhost:%s/v1/detox", cfg.Port)
		log.Printf("📡 Subscribe at ws://localhost:%s/v1/events", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("⏳ Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
		}
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			log.Printf("Runs still active at shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}

// newLauncher builds the browser launcher for the configured engine. The
// returned close function releases engine-wide resources.
func newLauncher(ctx context.Context, cfg *config.Config) (detox.LaunchFunc, func(), error) {
	opts := cfg.BrowserOptions()

	switch cfg.Engine {
	case config.EngineDocker:
		pool, err := browser.NewPool(cfg.BrowserImage)
		if err != nil {
			return nil, nil, err
		}

		pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		log.Printf("⏳ Ensuring %s is available...", cfg.BrowserImage)
		if err := pool.EnsureImage(pullCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Println("✓ Browser engine: docker")

		launcher := browser.NewDockerLauncher(pool, opts)
		return func(ctx context.Context) (detox.Engine, error) {
			session, err := launcher.Launch(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}, func() { pool.Close() }, nil

	default:
		log.Printf("✓ Browser engine: local (headless=%v)", opts.Headless)

		launcher := browser.NewLocalLauncher(opts)
		return func(ctx context.Context) (detox.Engine, error) {
			session, err := launcher.Launch(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}, func() {}, nil
	}
}
