// Package lifecycle is the Lifecycle Engine (L): installs, reinstalls,
// repairs, and verifies containers against their runtime instance. Grounded
// on the original implementation's LifecycleManager (container/lifecycle.rs).
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/layout"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

// InstallScriptTimeout bounds how long an install script may run before the
// engine gives up waiting for the container to exit. The distilled spec
// widens the original's 5 minute wait to match Registry.Validate's stuck
// threshold, so a script that is merely slow never looks corrupt mid-run.
const InstallScriptTimeout = types.StuckInstallingThreshold

// installPollInterval is how often the engine polls the runtime during an
// install script run.
const installPollInterval = 2 * time.Second

const placeholderEntrypoint = "#!/bin/sh\necho 'Container initializing...'\nsleep infinity\n"

// RemoteNotifier is the narrow slice of the Remote Client this engine
// needs: lifecycle errors and the Ready status are surfaced to the
// supervisory service as well as to the Event Hub, per §4.3/§7.
type RemoteNotifier interface {
	NotifyStatus(internalID, status string)
	NotifyError(internalID, errMsg, data string)
}

// Engine drives the install/reinstall/repair/verify state machine for one
// daemon's containers.
type Engine struct {
	registry *registry.Registry
	docker   *runtime.Docker
	layout   *layout.Layout
	hub      *eventhub.Hub
	onReady  func(internalID string)
	remote   RemoteNotifier
}

// New builds a Lifecycle Engine.
func New(reg *registry.Registry, docker *runtime.Docker, lay *layout.Layout, hub *eventhub.Hub) *Engine {
	return &Engine{registry: reg, docker: docker, layout: lay, hub: hub}
}

// OnReady registers a callback invoked after a container's install run
// reaches the Ready state, used to attach the console/stats streamers
// without this package depending on either of them.
func (e *Engine) OnReady(fn func(internalID string)) {
	e.onReady = fn
}

// SetRemote wires a Remote Client so lifecycle errors and the Ready
// transition are also reported to the supervisory service, not just the
// Event Hub. Optional: nil by default when no remote is configured.
func (e *Engine) SetRemote(n RemoteNotifier) {
	e.remote = n
}

// checkDocker verifies the runtime is reachable before any install work is
// queued, so a dead daemon fails fast instead of inside a detached goroutine.
func (e *Engine) checkDocker() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.docker.Ping(ctx); err != nil {
		return lightderr.Wrap(lightderr.RuntimeUnavailable, "docker daemon is not accessible", err)
	}
	return nil
}

// Install creates and provisions a container's runtime instance, running an
// optional install script first. Returns once Docker has been confirmed
// reachable; the provisioning itself runs in the background.
func (e *Engine) Install(internalID, image, installScript string) error {
	if err := e.checkDocker(); err != nil {
		return err
	}
	go e.runInstall(internalID, image, installScript)
	return nil
}

// Reinstall force-removes any existing runtime container and re-runs Install
// from scratch, e.g. to pick up a new image or install script.
func (e *Engine) Reinstall(internalID, image, installScript string) error {
	if err := e.checkDocker(); err != nil {
		return err
	}
	if _, err := e.registry.MarkInstalling(internalID); err != nil {
		return err
	}
	e.hub.DaemonMessage(internalID, "reinstall started")

	go func() {
		containerName := runtime.ContainerName(internalID)
		e.hub.DaemonMessage(internalID, "removing old container")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.docker.ForceRemove(ctx, containerName, 10*time.Second); err != nil {
			log.WithContainer(internalID).Warn().Err(err).Msg("failed to remove old container before reinstall")
		}
		cancel()

		e.runInstall(internalID, image, installScript)
	}()
	return nil
}

// Repair checks a container's record for corruption and, if unhealthy,
// triggers a Reinstall to recover it. Returns whether a repair was started.
func (e *Engine) Repair(internalID, image string) (bool, error) {
	healthy, issue, err := e.registry.Validate(internalID)
	if err != nil {
		return false, err
	}
	if healthy {
		log.WithContainer(internalID).Info().Msg("container is healthy, no repair needed")
		return false, nil
	}

	e.hub.DaemonMessage(internalID, "corruption detected: "+string(issue))
	e.hub.DaemonMessage(internalID, "repair started")
	log.WithContainer(internalID).Warn().Str("issue", string(issue)).Msg("container corrupted, starting repair")

	if err := e.Reinstall(internalID, image, ""); err != nil {
		return false, err
	}
	return true, nil
}

// VerifySync reports whether a container's database record agrees with
// reality: a runtime instance must exist if recorded, and a Ready record
// without a runtime id is corruption. Containers still installing are
// considered in sync regardless of runtime state.
func (e *Engine) VerifySync(internalID string) (bool, error) {
	state, err := e.registry.Get(internalID)
	if err != nil {
		return false, err
	}

	if state.RuntimeID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.docker.Exists(ctx, state.RuntimeID), nil
	}
	if state.InstallState == types.InstallStateReady {
		return false, nil
	}
	return true, nil
}

// runInstall is the detached provisioning job shared by Install and
// Reinstall. On any failure it marks the container failed and emits an
// Error event rather than propagating, since nothing is left to receive a
// returned error once the caller has moved on.
//
// Progress is split across two channels, per the original implementation's
// notify_installing/notify_installed: the closed "event" enum
// (installing|installed|starting|running|stopping|exit) carries only the
// transitions a client needs to drive a state machine on, via hub.Event;
// every other step narration goes through hub.DaemonMessage as free text.
func (e *Engine) runInstall(internalID, image, installScript string) {
	logger := log.WithContainer(internalID)
	e.hub.Event(internalID, "installing")

	state, err := e.registry.Get(internalID)
	if err != nil {
		e.fail(internalID, "looking up container state", err)
		return
	}

	volumePath, err := e.layout.EnsureVolume(state.VolumeID)
	if err != nil {
		e.fail(internalID, "preparing volume directory", err)
		return
	}
	containerDataPath, err := e.layout.EnsureContainerData(internalID)
	if err != nil {
		e.fail(internalID, "preparing container data directory", err)
		return
	}

	mounts := []runtime.Mount{
		{Source: volumePath, Target: "/home/container"},
		{Source: containerDataPath, Target: "/app/data"},
	}
	for target, source := range state.Mount {
		mounts = append(mounts, runtime.Mount{Source: source, Target: target})
	}

	e.hub.DaemonMessage(internalID, "creating container")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := e.docker.EnsureImage(ctx, image); err != nil {
		e.fail(internalID, "pulling image", err)
		return
	}
	e.hub.DaemonMessage(internalID, "image pulled")

	if err := e.docker.EnsureNetwork(ctx, runtime.SharedNetworkName); err != nil {
		e.fail(internalID, "ensuring shared network", err)
		return
	}

	containerNetworkID, err := e.docker.CreateContainerNetwork(ctx, internalID)
	if err != nil {
		e.fail(internalID, "creating container network", err)
		return
	}

	if err := e.layout.WriteEntrypoint(internalID, placeholderEntrypoint); err != nil {
		e.fail(internalID, "writing placeholder entrypoint", err)
		return
	}

	containerName := runtime.ContainerName(internalID)
	if e.docker.Exists(ctx, containerName) {
		if err := e.docker.ForceRemove(ctx, containerName, 10*time.Second); err != nil {
			logger.Warn().Err(err).Msg("failed to remove stale container before create")
		}
	}

	ports := make([]runtime.PortBinding, 0, len(state.Ports))
	for _, p := range state.Ports {
		ports = append(ports, runtime.PortBinding{ContainerPort: p.ContainerPort, HostPort: p.HostPort, Protocol: p.Protocol})
	}

	spec := runtime.CreateSpec{
		Name:       containerName,
		Image:      image,
		Entrypoint: []string{"/bin/sh", "/app/data/entrypoint.sh"},
		Mounts:     mounts,
		Ports:      ports,
		Limits:     limitsFromState(state.Limits),
		Labels:     map[string]string{runtime.ManagedByLabel: "lightd"},
		Networks:   []string{runtime.SharedNetworkName, containerNetworkID},
	}

	containerID, err := e.docker.Create(ctx, spec)
	if err != nil {
		e.fail(internalID, "creating container", err)
		return
	}
	e.hub.DaemonMessage(internalID, "container created: "+containerID)
	logger.Info().Str("runtime_id", containerID).Msg("container created")

	if installScript != "" {
		e.hub.DaemonMessage(internalID, "running install script")

		if err := e.layout.WriteInstallScript(internalID, installScript); err != nil {
			e.fail(internalID, "writing install script", err)
			return
		}

		installEntrypoint := "#!/bin/sh\ncd /home/container\n/bin/sh /app/data/install.sh\nexit_code=$?\n" +
			"echo \"Install script exited with code: $exit_code\"\nexit 0\n"
		if err := e.layout.WriteEntrypoint(internalID, installEntrypoint); err != nil {
			e.fail(internalID, "writing install entrypoint", err)
			return
		}

		startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = e.docker.Start(startCtx, containerID)
		startCancel()
		if err != nil {
			e.fail(internalID, "starting container for install", err)
			return
		}
		logger.Info().Msg("started container for installation")

		exitCode, err := e.waitForInstallExit(containerID)
		if err != nil {
			logger.Warn().Err(err).Msg("install script wait ended without a clean exit observation")
		} else {
			e.hub.DaemonMessage(internalID, fmt.Sprintf("install script complete: exit_code=%d", exitCode))
			logger.Info().Int("exit_code", exitCode).Msg("install script completed")
		}
	}

	e.hub.DaemonMessage(internalID, "setting up entrypoint")
	finalEntrypoint := fmt.Sprintf("#!/bin/sh\ncd /home/container\nexec sh -c '%s'\n",
		strings.ReplaceAll(state.StartupCommand, "'", `'\''`))
	if err := e.layout.WriteEntrypoint(internalID, finalEntrypoint); err != nil {
		e.fail(internalID, "writing final entrypoint", err)
		return
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = e.docker.Start(startCtx, containerID)
	startCancel()
	if err != nil {
		e.fail(internalID, "starting container", err)
		return
	}

	if _, err := e.registry.MarkReady(internalID, containerID); err != nil {
		e.fail(internalID, "marking container ready", err)
		return
	}
	e.hub.Event(internalID, "installed")
	logger.Info().Msg("container installation complete and ready")
	if e.remote != nil {
		e.remote.NotifyStatus(internalID, "ready")
	}

	if e.onReady != nil {
		e.onReady(internalID)
	}

	time.Sleep(2 * time.Second)
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 5*time.Second)
	running := e.docker.IsRunning(verifyCtx, containerID)
	verifyCancel()
	if !running {
		logger.Warn().Msg("container exited shortly after startup")
		e.hub.DaemonMessage(internalID, "container exited shortly after startup")
	}
}

// waitForInstallExit polls the runtime until the install container stops
// running or InstallScriptTimeout elapses.
func (e *Engine) waitForInstallExit(containerID string) (int, error) {
	deadline := time.Now().Add(InstallScriptTimeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		result, err := e.docker.Inspect(ctx, containerID)
		cancel()
		if err != nil {
			log.Warn("failed to inspect container during install: " + err.Error())
		} else if !result.Running {
			return result.ExitCode, nil
		}
		time.Sleep(installPollInterval)
	}
	return -1, lightderr.New(lightderr.Timeout, "install script did not complete before timeout")
}

func (e *Engine) fail(internalID, stage string, cause error) {
	msg := stage + ": " + cause.Error()
	e.hub.DaemonMessage(internalID, "error: "+msg)
	if e.remote != nil {
		e.remote.NotifyError(internalID, msg, stage)
	}
	if _, err := e.registry.MarkFailed(internalID, cause); err != nil {
		log.WithContainer(internalID).Error().Err(err).Msg("failed to mark container as failed")
	}
	log.WithContainer(internalID).Error().Err(cause).Str("stage", stage).Msg("container install failed")
}

func limitsFromState(l types.ResourceLimits) runtime.Limits {
	var nanoCPUs *int64
	if l.CPUCores != nil {
		n := int64(*l.CPUCores * 1e9)
		nanoCPUs = &n
	}
	return runtime.Limits{MemoryBytes: l.MemoryBytes, NanoCPUs: nanoCPUs}
}
