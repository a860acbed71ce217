// Package update is the Update Engine (U): live resource-limit updates and
// volume-set changes, both validated against the same bounds the runtime
// enforces. Grounded on the original implementation's ContainerUpdater
// (container/update.rs).
package update

import (
	"context"
	"strings"
	"time"

	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

// dangerousMountTargets may never be bind-mount destinations.
var dangerousMountTargets = map[string]bool{
	"/": true, "/bin": true, "/boot": true, "/dev": true,
	"/etc": true, "/lib": true, "/proc": true, "/sys": true,
}

const (
	minMemoryBytes int64 = 4 * 1024 * 1024
	maxMemoryBytes int64 = 1024 * 1024 * 1024 * 1024
	minCPUShares   int64 = 2
	maxCPUShares   int64 = 262144
	minCPUPeriod   int64 = 1000
	maxCPUPeriod   int64 = 1000000
	minCPUQuota    int64 = 1000
	minBlkioWeight uint16 = 10
	maxBlkioWeight uint16 = 1000
)

// ResourceLimits is the full set of live-updatable resource limits, a
// superset of types.ResourceLimits that exposes every Docker-level knob the
// distilled spec's memory/cpu_cores pair collapses.
type ResourceLimits struct {
	MemoryBytes *int64  `json:"memory_bytes,omitempty"`
	MemorySwap  *int64  `json:"memory_swap,omitempty"`
	CPUShares   *int64  `json:"cpu_shares,omitempty"`
	CPUPeriod   *int64  `json:"cpu_period,omitempty"`
	CPUQuota    *int64  `json:"cpu_quota,omitempty"`
	CPUSetCPUs  *string `json:"cpuset_cpus,omitempty"`
	BlkioWeight *uint16 `json:"blkio_weight,omitempty"`
}

// Engine updates running containers' resource limits and persisted volume
// sets.
type Engine struct {
	registry *registry.Registry
	docker   *runtime.Docker
	hub      *eventhub.Hub
}

// New builds an Update Engine.
func New(reg *registry.Registry, docker *runtime.Docker, hub *eventhub.Hub) *Engine {
	return &Engine{registry: reg, docker: docker, hub: hub}
}

// UpdateResources validates limits, live-updates the runtime, and persists
// the new limits. No restart is required since Docker applies cgroup
// changes to a running container in place.
func (e *Engine) UpdateResources(internalID string, limits ResourceLimits) error {
	if err := ValidateResourceLimits(limits); err != nil {
		return err
	}

	state, err := e.registry.Get(internalID)
	if err != nil {
		return err
	}
	if state.RuntimeID == "" {
		return lightderr.New(lightderr.Conflict, "container not yet created")
	}

	e.hub.Event(internalID, "UpdateStarted")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.docker.UpdateLimits(ctx, state.RuntimeID, toRuntimeLimits(limits)); err != nil {
		e.hub.Event(internalID, "Error: "+err.Error())
		return lightderr.Wrap(lightderr.RuntimeUnavailable, "update container resources", err)
	}
	e.hub.Event(internalID, "ResourcesUpdated")

	if _, err := e.registry.Update(internalID, func(s *types.ContainerState) {
		if limits.MemoryBytes != nil {
			s.Limits.MemoryBytes = limits.MemoryBytes
		}
	}); err != nil {
		log.WithContainer(internalID).Error().Err(err).Msg("failed to persist updated resource limits")
		return err
	}

	e.hub.Event(internalID, "DatabaseUpdated")
	e.hub.Event(internalID, "UpdateComplete")
	log.WithContainer(internalID).Info().Msg("container resources updated")
	return nil
}

// UpdateVolumes validates and persists a new mount map. The change only
// takes effect the next time the container is (re)installed or rebound.
func (e *Engine) UpdateVolumes(internalID string, mounts map[string]string) error {
	if err := ValidateVolumes(mounts); err != nil {
		return err
	}

	e.hub.Event(internalID, "UpdateStarted")

	if _, err := e.registry.Update(internalID, func(s *types.ContainerState) {
		s.Mount = mounts
	}); err != nil {
		e.hub.Event(internalID, "Error: "+err.Error())
		return err
	}

	e.hub.Event(internalID, "VolumesUpdated")
	e.hub.Event(internalID, "DatabaseUpdated")
	e.hub.Event(internalID, "UpdateComplete")
	log.WithContainer(internalID).Info().Msg("container volumes updated, restart required")
	return nil
}

// GetResources inspects the runtime for a container's currently-effective
// limits.
func (e *Engine) GetResources(internalID string) (runtime.Limits, error) {
	state, err := e.registry.Get(internalID)
	if err != nil {
		return runtime.Limits{}, err
	}
	if state.RuntimeID == "" {
		return runtime.Limits{}, lightderr.New(lightderr.Conflict, "container not yet created")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := e.docker.Inspect(ctx, state.RuntimeID)
	if err != nil {
		return runtime.Limits{}, err
	}
	return result.Limits, nil
}

// ValidateResourceLimits checks every set field against the bounds the
// runtime accepts, matching validate_resource_limits.
func ValidateResourceLimits(l ResourceLimits) error {
	if l.MemoryBytes != nil {
		if *l.MemoryBytes < minMemoryBytes {
			return lightderr.New(lightderr.Validation, "memory limit must be at least 4 MiB")
		}
		if *l.MemoryBytes > maxMemoryBytes {
			return lightderr.New(lightderr.Validation, "memory limit cannot exceed 1 TiB")
		}
	}

	if l.MemoryBytes != nil && l.MemorySwap != nil {
		if *l.MemorySwap != -1 && *l.MemorySwap < *l.MemoryBytes {
			return lightderr.New(lightderr.Validation, "memory swap must be greater than or equal to the memory limit, or -1")
		}
	}

	if l.CPUShares != nil {
		if *l.CPUShares < minCPUShares || *l.CPUShares > maxCPUShares {
			return lightderr.New(lightderr.Validation, "cpu shares must be between 2 and 262144")
		}
	}

	if l.CPUPeriod != nil {
		if *l.CPUPeriod < minCPUPeriod || *l.CPUPeriod > maxCPUPeriod {
			return lightderr.New(lightderr.Validation, "cpu period must be between 1000 and 1000000 microseconds")
		}
	}

	if l.CPUQuota != nil {
		if *l.CPUQuota != -1 && *l.CPUQuota < minCPUQuota {
			return lightderr.New(lightderr.Validation, "cpu quota must be at least 1000 microseconds or -1 for unlimited")
		}
	}

	if l.BlkioWeight != nil {
		if *l.BlkioWeight < minBlkioWeight || *l.BlkioWeight > maxBlkioWeight {
			return lightderr.New(lightderr.Validation, "blkio weight must be between 10 and 1000")
		}
	}

	return nil
}

// ValidateVolumes checks every mount target is absolute, outside the
// deny-set, and paired with a non-empty source.
func ValidateVolumes(mounts map[string]string) error {
	for target, source := range mounts {
		if target == "" || !strings.HasPrefix(target, "/") {
			return lightderr.New(lightderr.Validation, "invalid mount target: "+target)
		}
		if source == "" {
			return lightderr.New(lightderr.Validation, "invalid mount source for target: "+target)
		}
		if dangerousMountTargets[target] {
			return lightderr.New(lightderr.Validation, "cannot mount to system path: "+target)
		}
	}
	return nil
}

func toRuntimeLimits(l ResourceLimits) runtime.Limits {
	return runtime.Limits{
		MemoryBytes: l.MemoryBytes,
		MemorySwap:  l.MemorySwap,
		CPUShares:   l.CPUShares,
		CPUPeriod:   l.CPUPeriod,
		CPUQuota:    l.CPUQuota,
		BlkioWeight: l.BlkioWeight,
		CPUSetCPUs:  derefString(l.CPUSetCPUs),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
