// Package runtime wraps the Docker Engine API as lightd's one container
// runtime collaborator. Every lifecycle, power, and network operation goes
// through this package rather than touching the docker client directly,
// mirroring the teacher's one-struct/one-method-per-verb runtime wrapper
// shape — only the backing engine changed, from containerd to Docker,
// because the system this daemon's behaviour was distilled from talks to
// Docker's Engine API throughout.
package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
)

// SharedNetworkName is the bridge every container attaches to for normal
// traffic, per the lifecycle engine's install step 6.
const SharedNetworkName = "lightd_network"

// ManagedByLabel tags every resource lightd creates so they can be told
// apart from unrelated containers/networks on the host.
const ManagedByLabel = "lightd.managed-by"

// Mount is one bind mount applied to a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// PortBinding is one container-port to host-port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
}

// Limits are the resource constraints applied at container creation or
// live-updated afterwards.
type Limits struct {
	MemoryBytes   *int64
	NanoCPUs      *int64
	CPUShares     *int64
	CPUPeriod     *int64
	CPUQuota      *int64
	CPUSetCPUs    string
	BlkioWeight   *uint16
	MemorySwap    *int64
}

// CreateSpec is everything needed to create one container.
type CreateSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Mounts     []Mount
	Ports      []PortBinding
	Limits     Limits
	Labels     map[string]string
	// Networks lists every network the container should join. The first
	// entry becomes the container's primary network at create time; any
	// further entries are attached afterward with NetworkConnect, since
	// the Engine API only accepts one network in HostConfig.NetworkMode.
	Networks []string
}

// Docker wraps the Docker Engine API client.
type Docker struct {
	cli *client.Client
}

// New connects to the Docker daemon at socketPath (empty uses the client's
// default, DOCKER_HOST-aware resolution).
func New(socketPath string) (*Docker, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, client.WithHost(socketPath))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, lightderr.Wrap(lightderr.RuntimeUnavailable, "connect to docker", err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the underlying HTTP client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping verifies the daemon is reachable, per the lifecycle engine's
// install precondition.
func (d *Docker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := d.cli.Ping(ctx); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, "ping docker", err)
	}
	return nil
}

// EnsureImage checks whether an image is present locally and pulls it,
// streaming progress to the log, if not.
func (d *Docker) EnsureImage(ctx context.Context, ref string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("pull image %s", ref), err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		log.Debug().Str("image", ref).Msg(scanner.Text())
	}
	return nil
}

// EnsureNetwork creates the shared bridge network if it doesn't already
// exist.
func (d *Docker) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := d.cli.NetworkList(ctx, dockernetwork.ListOptions{})
	if err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, "list networks", err)
	}
	for _, n := range networks {
		if n.Name == name {
			return nil
		}
	}
	_, err = d.cli.NetworkCreate(ctx, name, dockernetwork.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{ManagedByLabel: "lightd"},
	})
	if err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("create network %s", name), err)
	}
	return nil
}

// CreateContainerNetwork creates a per-container isolated bridge, the
// dedicated attachment point the firewall's DDoS chains hang off.
func (d *Docker) CreateContainerNetwork(ctx context.Context, internalID string) (string, error) {
	name := ContainerNetworkName(internalID)
	resp, err := d.cli.NetworkCreate(ctx, name, dockernetwork.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.name": "lightd0-" + shortID(internalID),
		},
		Labels: map[string]string{ManagedByLabel: "lightd", "lightd.container": internalID},
	})
	if err != nil {
		return "", lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("create container network for %s", internalID), err)
	}
	return resp.ID, nil
}

// RemoveContainerNetwork tears down a container's isolated bridge.
func (d *Docker) RemoveContainerNetwork(ctx context.Context, internalID string) error {
	if err := d.cli.NetworkRemove(ctx, ContainerNetworkName(internalID)); err != nil {
		log.WithContainer(internalID).Warn().Err(err).Msg("failed to remove container network")
	}
	return nil
}

// ContainerNetworkName is the per-container isolated bridge network name
// for a given container, shared by the lifecycle engine (create), the
// network rebinder (recreate), and the firewall's cleanup path (remove).
func ContainerNetworkName(internalID string) string {
	return "lightd-net-" + internalID
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ContainerName is the runtime name lightd gives every container it
// creates.
func ContainerName(internalID string) string {
	return "lightd-" + internalID
}

// Create builds (but does not start) a container per spec.
func (d *Docker) Create(ctx context.Context, spec CreateSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var mounts []mount.Mount
	for _, m := range spec.Mounts {
		if m.Source == "" || m.Target == "" {
			continue
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	exposedPorts, portBindings, err := buildPortMap(spec.Ports)
	if err != nil {
		return "", err
	}

	var primaryNetwork string
	if len(spec.Networks) > 0 {
		primaryNetwork = spec.Networks[0]
	}

	hostConfig := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: portBindings,
		NetworkMode:  container.NetworkMode(primaryNetwork),
		AutoRemove:   false,
		Resources: container.Resources{
			Memory:      derefInt64(spec.Limits.MemoryBytes),
			NanoCPUs:    derefInt64(spec.Limits.NanoCPUs),
			CPUShares:   derefInt64(spec.Limits.CPUShares),
			CPUPeriod:   derefInt64(spec.Limits.CPUPeriod),
			CPUQuota:    derefInt64(spec.Limits.CPUQuota),
			CpusetCpus:  spec.Limits.CPUSetCPUs,
			MemorySwap:  derefInt64(spec.Limits.MemorySwap),
			BlkioWeight: derefUint16(spec.Limits.BlkioWeight),
		},
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Entrypoint:   spec.Entrypoint,
		ExposedPorts: exposedPorts,
		Labels:       spec.Labels,
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("create container %s", spec.Name), err)
	}

	if len(spec.Networks) > 1 {
		for _, extra := range spec.Networks[1:] {
			if err := d.cli.NetworkConnect(ctx, extra, resp.ID, nil); err != nil {
				log.WithContainer(spec.Name).Warn().Err(err).Str("network", extra).Msg("failed to attach additional network")
			}
		}
	}
	return resp.ID, nil
}

func buildPortMap(bindings []PortBinding) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet)
	portMap := make(nat.PortMap)
	for _, b := range bindings {
		proto := b.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(b.ContainerPort))
		if err != nil {
			return nil, nil, lightderr.Wrap(lightderr.Validation, "build port binding", err)
		}
		exposed[port] = struct{}{}
		portMap[port] = append(portMap[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(b.HostPort),
		})
	}
	return exposed, portMap, nil
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefUint16(p *uint16) uint16 {
	if p == nil {
		return 0
	}
	return *p
}

// Start starts a created container.
func (d *Docker) Start(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("start container %s", containerID), err)
	}
	return nil
}

// Stop stops a running container gracefully within timeout, falling back
// to SIGKILL.
func (d *Docker) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("stop container %s", containerID), err)
	}
	return nil
}

// Kill sends SIGKILL directly, the Power Engine's hard-stop path.
func (d *Docker) Kill(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("kill container %s", containerID), err)
	}
	return nil
}

// Restart stops then starts a container.
func (d *Docker) Restart(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &secs}); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("restart container %s", containerID), err)
	}
	return nil
}

// ForceRemove stops (if running) and removes a container within timeout.
// A missing container is not an error — the caller treats "absent" as
// success.
func (d *Docker) ForceRemove(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: false})
	if err != nil && !client.IsErrNotFound(err) {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("remove container %s", containerID), err)
	}
	return nil
}

// Exists reports whether a container by this id is known to the daemon.
func (d *Docker) Exists(ctx context.Context, containerID string) bool {
	_, err := d.cli.ContainerInspect(ctx, containerID)
	return err == nil
}

// IsRunning reports whether a container is currently running.
func (d *Docker) IsRunning(ctx context.Context, containerID string) bool {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// InspectResult is the subset of container.InspectResponse lightd's
// components consume.
type InspectResult struct {
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	Limits     Limits
}

// Inspect returns a container's current running state and effective
// resource limits, used by the Update Engine's get_resources.
func (d *Docker) Inspect(ctx context.Context, containerID string) (InspectResult, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return InspectResult{}, lightderr.Wrap(lightderr.NotFound, fmt.Sprintf("inspect container %s", containerID), err)
	}

	var result InspectResult
	if info.State != nil {
		result.Running = info.State.Running
		result.ExitCode = info.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			result.StartedAt = t
		}
	}
	if info.HostConfig != nil {
		mem := info.HostConfig.Memory
		result.Limits.MemoryBytes = &mem
		cpus := info.HostConfig.NanoCPUs
		result.Limits.NanoCPUs = &cpus
	}
	return result, nil
}

// UpdateLimits live-updates a container's resource limits without
// restarting it, per the Update Engine.
func (d *Docker) UpdateLimits(ctx context.Context, containerID string, limits Limits) error {
	update := container.UpdateConfig{
		Resources: container.Resources{
			Memory:      derefInt64(limits.MemoryBytes),
			MemorySwap:  derefInt64(limits.MemorySwap),
			NanoCPUs:    derefInt64(limits.NanoCPUs),
			CPUShares:   derefInt64(limits.CPUShares),
			CPUPeriod:   derefInt64(limits.CPUPeriod),
			CPUQuota:    derefInt64(limits.CPUQuota),
			CpusetCpus:  limits.CPUSetCPUs,
			BlkioWeight: derefUint16(limits.BlkioWeight),
		},
	}
	if _, err := d.cli.ContainerUpdate(ctx, containerID, update); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("update container %s limits", containerID), err)
	}
	return nil
}

// Logs opens a log stream, following new output when follow is true.
func (d *Docker) Logs(ctx context.Context, containerID string, follow bool, tail string, since time.Time) (io.ReadCloser, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	}
	if !since.IsZero() {
		opts.Since = strconv.FormatInt(since.Unix(), 10)
	}
	reader, err := d.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("stream logs for %s", containerID), err)
	}
	return reader, nil
}

// Attach opens a combined stdin/stdout/stderr stream for console
// interaction.
func (d *Docker) Attach(ctx context.Context, containerID string) (types.HijackedResponse, error) {
	resp, err := d.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
		Logs:   false,
	})
	if err != nil {
		return types.HijackedResponse{}, lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("attach to %s", containerID), err)
	}
	return resp, nil
}

// StatsOneShot returns a single point-in-time stats sample, used by the
// billing tracker.
func (d *Docker) StatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return container.StatsResponseReader{}, lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("stats for %s", containerID), err)
	}
	return resp, nil
}

// StatsStream opens a continuously-updating stats stream, used by the
// stats collector.
func (d *Docker) StatsStream(ctx context.Context, containerID string) (container.StatsResponseReader, error) {
	resp, err := d.cli.ContainerStats(ctx, containerID, true)
	if err != nil {
		return container.StatsResponseReader{}, lightderr.Wrap(lightderr.RuntimeUnavailable, fmt.Sprintf("stream stats for %s", containerID), err)
	}
	return resp, nil
}

// ListByPrefix returns the ids of every container whose name begins with
// prefix, used by the billing tracker to enumerate lightd-managed
// containers.
func (d *Docker) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, lightderr.Wrap(lightderr.RuntimeUnavailable, "list containers", err)
	}
	var ids []string
	for _, c := range containers {
		for _, name := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(name, "/"), prefix) {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	return ids, nil
}
