// Package registry is the container registry (C): the single source of
// truth for ContainerState records. All mutating operations take a
// process-wide exclusive lock serialising writes to the backing store;
// reads are lock-free.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
)

// Registry owns every ContainerState and serialises writes with mu.
type Registry struct {
	mu    sync.Mutex
	store storage.ContainerStore
}

// New builds a Registry over an already-opened ContainerStore.
func New(store storage.ContainerStore) *Registry {
	return &Registry{store: store}
}

// Create registers a new container, initialised into InstallStateInstalling.
// internalID is caller-assigned per the glossary's "stable identifier
// assigned by the caller"; ports must already be pool-allocated by the
// caller before Create persists them on the record.
func (r *Registry) Create(internalID, volumeID, image, startupCommand string, mount map[string]string, limits types.ResourceLimits, ports []types.PortBinding) (*types.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if internalID == "" {
		return nil, lightderr.New(lightderr.Validation, "internal_id is required")
	}
	if _, err := r.store.Get(internalID); err == nil {
		return nil, lightderr.New(lightderr.Conflict, fmt.Sprintf("container %s already exists", internalID))
	}

	now := time.Now().Unix()
	state := &types.ContainerState{
		InternalID:     internalID,
		VolumeID:       volumeID,
		Mount:          mount,
		Limits:         limits,
		Ports:          ports,
		InstallState:   types.InstallStateInstalling,
		IsInstalling:   true,
		StartupCommand: startupCommand,
		Image:          image,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.Put(state); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "create container", err)
	}
	log.WithContainer(internalID).Info().Str("image", image).Msg("container registered")
	return state, nil
}

// Get reads a container's state. Lock-free: bbolt's View transaction
// already gives a consistent snapshot.
func (r *Registry) Get(internalID string) (*types.ContainerState, error) {
	return r.store.Get(internalID)
}

// List returns every container known to the registry.
func (r *Registry) List() ([]*types.ContainerState, error) {
	return r.store.List()
}

// Update persists an arbitrary mutation of an existing container's state,
// refreshing UpdatedAt.
func (r *Registry) Update(internalID string, mutate func(*types.ContainerState)) (*types.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.store.Get(internalID)
	if err != nil {
		return nil, err
	}
	mutate(state)
	state.Touch()
	if err := r.store.Put(state); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "update container", err)
	}
	return state, nil
}

// MarkInstalling transitions a container back to Installing, clearing
// runtime_id — used at the start of Reinstall.
func (r *Registry) MarkInstalling(internalID string) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.InstallState = types.InstallStateInstalling
		s.IsInstalling = true
		s.RuntimeID = ""
	})
}

// MarkReady transitions a container to Ready with the given runtime_id.
func (r *Registry) MarkReady(internalID, runtimeID string) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.InstallState = types.InstallStateReady
		s.IsInstalling = false
		s.RuntimeID = runtimeID
	})
}

// MarkFailed transitions a container to Failed. The triggering error is
// logged, not persisted on the record — the event hub carries the message
// to subscribers.
func (r *Registry) MarkFailed(internalID string, cause error) (*types.ContainerState, error) {
	log.WithContainer(internalID).Error().Err(cause).Msg("container install failed")
	return r.Update(internalID, func(s *types.ContainerState) {
		s.InstallState = types.InstallStateFailed
		s.IsInstalling = false
	})
}

// UpdateStartupCommand sets the shell command run inside the container's
// entrypoint.
func (r *Registry) UpdateStartupCommand(internalID, command string) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.StartupCommand = command
	})
}

// UpdateStartPattern sets the regex (or literal substring fallback) the
// event hub watches for in console output to detect the Running
// transition.
func (r *Registry) UpdateStartPattern(internalID, pattern string) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.StartPattern = pattern
	})
}

// UpdatePorts persists a new port binding set, e.g. after a successful
// rebind.
func (r *Registry) UpdatePorts(internalID string, ports []types.PortBinding) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.Ports = ports
	})
}

// UpdateRuntimeID persists a new runtime container id without otherwise
// touching install state, e.g. after a rebind recreates the container.
func (r *Registry) UpdateRuntimeID(internalID, runtimeID string) (*types.ContainerState, error) {
	return r.Update(internalID, func(s *types.ContainerState) {
		s.RuntimeID = runtimeID
	})
}

// FindByRuntimeID resolves a runtime-assigned container id back to the
// internal_id that owns it, used by the Billing Tracker to attribute
// runtime-level samples to the caller-facing container identity.
func (r *Registry) FindByRuntimeID(runtimeID string) (string, bool) {
	states, err := r.store.List()
	if err != nil {
		return "", false
	}
	for _, s := range states {
		if s.RuntimeID == runtimeID {
			return s.InternalID, true
		}
	}
	return "", false
}

// Delete removes a container record outright, returning its last known
// state so the caller can release held resources (port pool entries,
// firewall rules) that the registry itself doesn't own.
func (r *Registry) Delete(internalID string) (*types.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.store.Get(internalID)
	if err != nil {
		return nil, err
	}
	if err := r.store.Delete(internalID); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "delete container", err)
	}
	return state, nil
}

// Issue names a problem Validate can detect.
type Issue string

const (
	IssueStuckInstalling    Issue = "stuck_installing"
	IssueReadyWithoutRuntime Issue = "ready_without_runtime"
	IssueEmptyRequiredField Issue = "empty_required_field"
	IssueCorrupt            Issue = "corrupt"
)

// Validate inspects a container's record for the conditions the lifecycle
// engine's Repair path treats as unhealthy.
func (r *Registry) Validate(internalID string) (healthy bool, issue Issue, err error) {
	state, err := r.store.Get(internalID)
	if err != nil {
		// Store errors that carry no lightderr Kind come from decoding the
		// stored record, so the record itself is unreadable.
		if _, ok := lightderr.KindOf(err); !ok {
			return false, IssueCorrupt, nil
		}
		return false, "", err
	}

	if state.InternalID == "" || state.Image == "" {
		return false, IssueEmptyRequiredField, nil
	}
	if state.InstallState == types.InstallStateInstalling {
		age := time.Since(time.Unix(state.UpdatedAt, 0))
		if age > types.StuckInstallingThreshold {
			return false, IssueStuckInstalling, nil
		}
		return true, "", nil
	}
	if state.InstallState == types.InstallStateReady && state.RuntimeID == "" {
		return false, IssueReadyWithoutRuntime, nil
	}
	return true, "", nil
}
