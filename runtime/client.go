// Package runtime wraps the Docker SDK client and exposes the thin
// contract the Lifecycle Manager needs: ensure a network exists, build an
// image from a tar stream, create/start/stop/remove a container, inspect
// its port bindings, and enumerate containers by label. All Docker SDK
// calls are isolated here so no other package imports the SDK directly;
// if the runtime is ever swapped (containerd, a remote API), only this
// package changes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dockerclient "github.com/docker/docker/client"
)

// Client wraps the Docker SDK client with a logger. It is safe to share
// across goroutines: the SDK client manages its own connection pool.
type Client struct {
	sdk    *dockerclient.Client
	logger *slog.Logger
}

// NewClient connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_TLS_VERIFY, DOCKER_CERT_PATH), falling
// back to the default Unix socket when unset, negotiates the API version,
// and pings the daemon before returning so startup fails fast if the
// daemon is unreachable.
func NewClient(logger *slog.Logger) (*Client, error) {
	sdk, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker sdk client: %w", err)
	}

	client := &Client{sdk: sdk, logger: logger}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sdk.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("runtime client connected", "host", sdk.DaemonHost())
	return client, nil
}

// Close releases the underlying SDK client connection. Deferred in
// main.go immediately after NewClient returns successfully.
func (client *Client) Close() error {
	return client.sdk.Close()
}
