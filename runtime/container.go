package runtime

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// labelManaged marks every resource this orchestrator creates, so a
// reconciliation scan or manual cleanup can distinguish orchestrator
// containers/networks from anything else on the host.
const labelManaged = "training.managed"

// Label keys set on every sandbox container. The reconciler lists
// containers by LabelManaged to cross-check Runtime state against the
// Registry (spec's I4 and the label-based discovery contract for the
// Runtime Client); the others identify the container to an operator.
const (
	LabelManaged   = labelManaged
	LabelSubdomain = "training.subdomain"
	LabelSubject   = "training.subject"
	LabelExercise  = "training.exercise"
)

// sandboxPort is the single port every exercise image is expected to
// listen on inside the container; the runtime always publishes it to an
// ephemeral host port, never a fixed one.
const sandboxPort = "8080/tcp"

// LaunchSpec is the input to CreateAndStart: everything needed to boot
// one sandbox container.
type LaunchSpec struct {
	ImageTag    string
	Name        string
	Env         []string
	Subdomain   string
	SubjectID   string
	ExerciseID  string
	NetworkName string
}

// LaunchResult is what the Lifecycle Manager persists into the Container
// Registry after a successful create+start.
type LaunchResult struct {
	ContainerID string
	HostPort    string
}

// CreateAndStart creates and starts a single sandbox container, labeling
// it for later discovery by subdomain/subject/exercise, publishing the
// container's sandboxPort to an ephemeral host port chosen by the
// daemon, and attaching it to the shared sandbox network. Restart policy
// is deliberately left at the zero value (no restart): a dead sandbox
// container is the watcher's and reconciler's job to notice and clean up,
// not the daemon's job to resurrect.
func (client *Client) CreateAndStart(ctx context.Context, spec LaunchSpec) (*LaunchResult, error) {
	exposedPorts, portBindings, err := nat.ParsePortSpecs([]string{sandboxPort})
	if err != nil {
		return nil, fmt.Errorf("parse port spec: %w", err)
	}

	containerConfig := &container.Config{
		Image:        spec.ImageTag,
		Env:          spec.Env,
		ExposedPorts: exposedPorts,
		Labels: map[string]string{
			labelManaged:   "true",
			LabelSubdomain: spec.Subdomain,
			LabelSubject:   spec.SubjectID,
			LabelExercise:  spec.ExerciseID,
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		// host.docker.internal resolves to the host gateway out of the
		// box on Docker Desktop; on Linux daemons it requires this
		// explicit extra host entry, which is how every sandbox reaches
		// the orchestrator's CALLBACK_URL regardless of platform.
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	networkingConfig := &dockernetwork.NetworkingConfig{
		EndpointsConfig: map[string]*dockernetwork.EndpointSettings{
			spec.NetworkName: {},
		},
	}

	created, err := client.sdk.ContainerCreate(ctx, containerConfig, hostConfig, networkingConfig, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("create sandbox container %q: %w", spec.Name, err)
	}

	if err := client.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = client.StopAndRemove(ctx, created.ID)
		return nil, fmt.Errorf("start sandbox container %q: %w", spec.Name, err)
	}

	hostPort, err := client.readHostPort(ctx, created.ID)
	if err != nil {
		_ = client.StopAndRemove(ctx, created.ID)
		return nil, fmt.Errorf("read assigned host port for %q: %w", spec.Name, err)
	}

	client.logger.Info("sandbox container started",
		"container_id", created.ID[:12], "subdomain", spec.Subdomain, "host_port", hostPort)

	return &LaunchResult{ContainerID: created.ID, HostPort: hostPort}, nil
}

// StopAndRemove stops and removes a container by id. An already-stopped
// or already-removed container is treated as success, since the desired
// end state (container gone) is already satisfied.
func (client *Client) StopAndRemove(ctx context.Context, containerID string) error {
	stopTimeout := 10
	err := client.sdk.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("stop container %q: %w", containerID, err)
	}

	err = client.sdk.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !isNotFoundErr(err) {
		return fmt.Errorf("remove container %q: %w", containerID, err)
	}

	client.logger.Info("sandbox container stopped and removed", "container_id", containerID)
	return nil
}

// ContainerState is the subset of ContainerInspect the Lifecycle Manager
// needs to cross-check Registry state against the daemon (I4).
type ContainerState struct {
	Running  bool
	HostPort string
	Labels   map[string]string
}

// Inspect reads back a container's running state, published port, and
// labels.
func (client *Client) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	info, err := client.sdk.ContainerInspect(ctx, containerID)
	if err != nil {
		if isNotFoundErr(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inspect container %q: %w", containerID, err)
	}

	state := &ContainerState{
		Running: info.State != nil && info.State.Running,
		Labels:  info.Config.Labels,
	}
	if info.NetworkSettings != nil {
		if bindings, ok := info.NetworkSettings.Ports[nat.Port(sandboxPort)]; ok && len(bindings) > 0 {
			state.HostPort = bindings[0].HostPort
		}
	}
	return state, nil
}

// readHostPort inspects a freshly started container to read back the
// host port the daemon assigned to sandboxPort. Docker does not return
// the assigned port from ContainerStart, so an inspect round-trip is
// required between start and persisting the Container Record.
func (client *Client) readHostPort(ctx context.Context, containerID string) (string, error) {
	state, err := client.Inspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if state.HostPort == "" {
		return "", fmt.Errorf("no host port bound for %s on container %q", sandboxPort, containerID)
	}
	return state.HostPort, nil
}

// LabeledContainer is one entry returned by ListByLabel.
type LabeledContainer struct {
	ID      string
	Labels  map[string]string
	Running bool
}

// ListByLabel enumerates every orchestrator-managed container carrying
// the given label value, used by the reconciler to cross-check the
// Registry against reality (I4). includeStopped widens the scan to
// exited containers as well as running ones.
func (client *Client) ListByLabel(ctx context.Context, label, value string, includeStopped bool) ([]LabeledContainer, error) {
	listFilters := filters.NewArgs(
		filters.Arg("label", fmt.Sprintf("%s=%s", label, value)),
	)

	containers, err := client.sdk.ContainerList(ctx, container.ListOptions{
		All:     includeStopped,
		Filters: listFilters,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers by label %s=%s: %w", label, value, err)
	}

	result := make([]LabeledContainer, 0, len(containers))
	for _, summary := range containers {
		result = append(result, LabeledContainer{
			ID:      summary.ID,
			Labels:  summary.Labels,
			Running: summary.State == "running",
		})
	}
	return result, nil
}

// Prune removes stopped containers and dangling images that carry the
// orchestrator's management label. Best-effort: failures are returned for
// the caller to log, never fatal to the reconciliation pass that calls it.
func (client *Client) Prune(ctx context.Context) (containersRemoved, spaceReclaimed uint64, err error) {
	pruneFilters := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))

	containerReport, err := client.sdk.ContainersPrune(ctx, pruneFilters)
	if err != nil {
		return 0, 0, fmt.Errorf("prune containers: %w", err)
	}

	imageReport, err := client.sdk.ImagesPrune(ctx, pruneFilters)
	if err != nil {
		return uint64(len(containerReport.ContainersDeleted)), containerReport.SpaceReclaimed, fmt.Errorf("prune images: %w", err)
	}

	return uint64(len(containerReport.ContainersDeleted)), containerReport.SpaceReclaimed + imageReport.SpaceReclaimed, nil
}

func isNotFoundErr(err error) bool {
	return errdefs.IsNotFound(err)
}
