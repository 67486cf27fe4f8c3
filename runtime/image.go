package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	dockerbuild "github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
)

// EnsureNetwork creates the shared sandbox network if it does not already
// exist. Idempotent: safe to call on every startup. Every sandbox
// container is attached to this network. The proxy does not use it: it
// reaches a container through its published host port on 127.0.0.1, and
// reconciliation finds containers by label.
func (client *Client) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := client.sdk.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, existing := range networks {
		if existing.Name == name {
			return nil
		}
	}

	_, err = client.sdk.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{labelManaged: "true"},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", name, err)
	}
	client.logger.Info("runtime network created", "network", name)
	return nil
}

// buildProgressLine is one line of the newline-delimited JSON stream
// ImageBuild returns. Only the two fields the caller needs are parsed;
// everything else (layer digests, progress bars) is ignored.
type buildProgressLine struct {
	Stream string `json:"stream"`
	Error  string `json:"error"`
}

// BuildImage streams a gzipped tar build context to the daemon and tags
// the resulting image. The daemon's response is itself a stream of JSON
// progress lines; a line with a non-empty error field fails the call even
// though the HTTP request itself succeeded, so the whole stream must be
// decoded rather than just checking the initial response.
func (client *Client) BuildImage(ctx context.Context, tarStream io.Reader, tag string) error {
	response, err := client.sdk.ImageBuild(ctx, tarStream, dockerbuild.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image %q: %w", tag, err)
	}
	defer response.Body.Close()

	decoder := json.NewDecoder(response.Body)
	for {
		var line buildProgressLine
		if err := decoder.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read build progress for %q: %w", tag, err)
		}
		if line.Error != "" {
			return fmt.Errorf("build %q failed: %s", tag, line.Error)
		}
	}

	client.logger.Info("image built", "tag", tag)
	return nil
}

// RemoveImage deletes a built exercise image, called by the Image
// Builder's DeleteExercise before it removes the corresponding Catalog
// row. A missing image is not an error, since the desired end state
// (image gone) already holds.
func (client *Client) RemoveImage(ctx context.Context, tag string) error {
	_, err := client.sdk.ImageRemove(ctx, tag, image.RemoveOptions{Force: true})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("remove image %q: %w", tag, err)
	}
	return nil
}
