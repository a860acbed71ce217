// Package netrebind is the Network Rebinder (N): force-removes a
// container's runtime instance and recreates it from saved state with a new
// set of port bindings, preserving limits and mounts. Grounded on the
// original implementation's NetworkRebinder.
package netrebind

import (
	"context"
	"time"

	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/layout"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

// RemoteNotifier is the narrow slice of the Remote Client this component
// needs: rebind errors are surfaced to the supervisory service as well as
// the Event Hub, per §7's "lifecycle errors ... on H and R".
type RemoteNotifier interface {
	NotifyError(internalID, errMsg, data string)
}

// Rebinder recreates containers with new port bindings.
type Rebinder struct {
	registry *registry.Registry
	docker   *runtime.Docker
	layout   *layout.Layout
	hub      *eventhub.Hub
	remote   RemoteNotifier
}

// New builds a Network Rebinder.
func New(reg *registry.Registry, docker *runtime.Docker, lay *layout.Layout, hub *eventhub.Hub) *Rebinder {
	return &Rebinder{registry: reg, docker: docker, layout: lay, hub: hub}
}

// SetRemote wires a Remote Client so rebind errors are also reported to the
// supervisory service. Optional: nil by default when no remote is
// configured.
func (r *Rebinder) SetRemote(n RemoteNotifier) {
	r.remote = n
}

// Rebind validates the new ports, force-removes the existing runtime
// container, and recreates it with the new bindings, preserving limits and
// mounts. Returns after validation; the recreate itself runs asynchronously.
func (r *Rebinder) Rebind(internalID string, newPorts []types.PortBinding, image string) error {
	if err := validatePorts(newPorts); err != nil {
		return err
	}

	state, err := r.registry.Get(internalID)
	if err != nil {
		return err
	}
	if state.IsInstalling {
		return lightderr.New(lightderr.Conflict, "container is currently installing")
	}

	go r.run(internalID, newPorts, image)
	return nil
}

func (r *Rebinder) run(internalID string, newPorts []types.PortBinding, image string) {
	logger := log.WithContainer(internalID)
	r.hub.DaemonMessage(internalID, "rebind started")

	state, err := r.registry.Get(internalID)
	if err != nil {
		r.hub.DaemonMessage(internalID, "error: "+err.Error())
		if r.remote != nil {
			r.remote.NotifyError(internalID, err.Error(), "rebind: looking up container state")
		}
		return
	}

	if state.RuntimeID != "" {
		r.hub.DaemonMessage(internalID, "removing old container")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.docker.ForceRemove(ctx, state.RuntimeID, 10*time.Second); err != nil {
			logger.Warn().Err(err).Msg("failed to remove old runtime container")
		}
		cancel()
	}

	r.hub.DaemonMessage(internalID, "creating new container")

	createCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mounts := []runtime.Mount{
		{Source: r.layout.VolumePath(state.VolumeID), Target: "/home/container"},
		{Source: r.layout.ContainerDataPath(internalID), Target: "/app/data"},
	}
	for container, host := range state.Mount {
		mounts = append(mounts, runtime.Mount{Source: host, Target: container})
	}

	ports := make([]runtime.PortBinding, 0, len(newPorts))
	for _, p := range newPorts {
		ports = append(ports, runtime.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
		})
	}

	spec := runtime.CreateSpec{
		Name:     runtime.ContainerName(internalID),
		Image:    image,
		Mounts:   mounts,
		Ports:    ports,
		Limits:   limitsFromState(state.Limits),
		Networks: []string{runtime.SharedNetworkName, runtime.ContainerNetworkName(internalID)},
	}

	runtimeID, err := r.docker.Create(createCtx, spec)
	if err != nil {
		logger.Error().Err(err).Msg("rebind create failed")
		r.hub.DaemonMessage(internalID, "error: "+err.Error())
		if r.remote != nil {
			r.remote.NotifyError(internalID, err.Error(), "rebind: creating container")
		}
		return
	}

	r.hub.DaemonMessage(internalID, "updating database")
	if _, err := r.registry.UpdatePorts(internalID, newPorts); err != nil {
		logger.Error().Err(err).Msg("failed to persist new ports")
	}
	if _, err := r.registry.UpdateRuntimeID(internalID, runtimeID); err != nil {
		logger.Error().Err(err).Msg("failed to persist new runtime id")
	}

	r.hub.DaemonMessage(internalID, "rebind complete")
	logger.Info().Msg("network rebind complete")
}

func limitsFromState(l types.ResourceLimits) runtime.Limits {
	var nanoCPUs *int64
	if l.CPUCores != nil {
		n := int64(*l.CPUCores * 1e9)
		nanoCPUs = &n
	}
	return runtime.Limits{MemoryBytes: l.MemoryBytes, NanoCPUs: nanoCPUs}
}

func validatePorts(ports []types.PortBinding) error {
	for _, p := range ports {
		if p.ContainerPort == 0 || p.HostPort == 0 {
			return lightderr.New(lightderr.Validation, "port numbers must be non-zero")
		}
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			return lightderr.New(lightderr.Validation, "protocol must be tcp or udp")
		}
	}
	return nil
}
