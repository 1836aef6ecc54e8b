package browser

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DefaultImage is the container image used for remote browsers
const DefaultImage = "browserless/chrome:latest"

const cdpPort = nat.Port("3000/tcp")

// Container is a running browser container
type Container struct {
	ID         string
	SessionID  string
	ConnectURL string
	Port       string
}

// Pool creates and removes browser containers through the Docker API
type Pool struct {
	client *client.Client
	image  string
	http   *http.Client
}

// NewPool connects to the Docker daemon described by the environment
func NewPool(imageRef string) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if imageRef == "" {
		imageRef = DefaultImage
	}

	return &Pool{
		client: cli,
		image:  imageRef,
		http:   &http.Client{Timeout: 2 * time.Second},
	}, nil
}

// Start creates a single-session browser container and waits for its CDP endpoint.
func (p *Pool) Start(ctx context.Context, sessionID string) (*Container, error) {
	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "detox",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",        // Runs outlive the default 30s
			"MAX_CONCURRENT_SESSIONS=1",    // One run per container
			"PREBOOT_CHROME=true",          // Pre-boot Chrome for faster startup
			"EXIT_ON_HEALTH_FAILURE=false", // Don't exit on health check failures
		},
		ExposedPorts: nat.PortSet{
			cdpPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			cdpPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		ShmSize: 1 << 30,
	}

	resp, err := p.client.ContainerCreate(
		ctx,
		containerConfig,
		hostConfig,
		nil,
		nil,
		fmt.Sprintf("detox-%s", shortID(sessionID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports[cdpPort]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("%w: no host port bound", ErrContainerNotReady)
	}
	port := bindings[0].HostPort

	if err := p.waitForBrowserReady(ctx, port); err != nil {
		p.remove(resp.ID)
		return nil, err
	}

	return &Container{
		ID:         resp.ID,
		SessionID:  sessionID,
		ConnectURL: fmt.Sprintf("ws://localhost:%s", port),
		Port:       port,
	}, nil
}

// Stop stops and removes a container.
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// remove force-removes a container that never became usable.
func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		log.Printf("⚠️ Failed to remove container %s: %v", shortID(containerID), err)
	}
}

// EnsureImage pulls the browser image if it is not present locally.
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (p *Pool) Close() error {
	return p.client.Close()
}

// waitForBrowserReady polls /json/version until the browser answers
func (p *Pool) waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	maxRetries := 20 // 10 seconds total (20 * 500ms)

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := p.http.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("%w after %d retries", ErrContainerNotReady, maxRetries)
}
