// Package power is the Power Engine (W): start, hard-kill and restart of a
// container's runtime instance. Grounded on the original implementation's
// PowerManager, which spawns one fire-and-forget task per action and reports
// progress through an event channel; translated to a goroutine plus the
// Event Hub instead of a dedicated mpsc channel.
package power

import (
	"context"
	"time"

	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

// Action is one of the three power actions a caller may request.
type Action string

const (
	ActionStart   Action = "start"
	ActionKill    Action = "kill"
	ActionRestart Action = "restart"
)

// Engine executes power actions against the Docker runtime, asynchronously.
type Engine struct {
	registry *registry.Registry
	docker   *runtime.Docker
	hub      *eventhub.Hub
	onStart  func(internalID string)
}

// New builds a Power Engine.
func New(reg *registry.Registry, docker *runtime.Docker, hub *eventhub.Hub) *Engine {
	return &Engine{registry: reg, docker: docker, hub: hub}
}

// OnStart registers a callback invoked after a start or restart action
// completes successfully, used to attach the console/stats streamers
// without this package depending on either of them.
func (e *Engine) OnStart(fn func(internalID string)) {
	e.onStart = fn
}

// Execute enqueues a power action and returns immediately; the action runs
// on its own goroutine and reports progress through the Event Hub.
func (e *Engine) Execute(internalID string, action Action) error {
	state, err := e.registry.Get(internalID)
	if err != nil {
		return err
	}
	if state.RuntimeID == "" {
		return lightderr.New(lightderr.Conflict, "container has no runtime instance yet")
	}

	go e.run(internalID, state.RuntimeID, action)
	return nil
}

// run executes one power action, reporting progress through the closed
// "event" enum (installing|installed|starting|running|stopping|exit) only:
// "starting"/"stopping" fire as the action begins, matching the original
// implementation's handler which narrows every power action down to those
// two before dispatch. There is no enum value for a completed kill/restart
// — the "running" transition comes later from console output matching the
// start pattern, and "exit" from the console streamer noticing the runtime
// stopped. Anything that doesn't fit the enum goes through DaemonMessage.
func (e *Engine) run(internalID, runtimeID string, action Action) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := log.WithContainer(internalID)
	ch := e.hub.GetOrCreateChannel(internalID)

	var enumEvt string
	var runtimeState types.ContainerRuntimeState
	var exec func(context.Context, string) error

	switch action {
	case ActionStart:
		enumEvt, runtimeState = "starting", types.RuntimeStarting
		exec = e.docker.Start
	case ActionKill:
		enumEvt, runtimeState = "stopping", types.RuntimeStopping
		exec = e.docker.Kill
	case ActionRestart:
		enumEvt, runtimeState = "stopping", types.RuntimeStopping
		exec = func(ctx context.Context, id string) error {
			return e.docker.Restart(ctx, id, 10*time.Second)
		}
	default:
		e.hub.DaemonMessage(internalID, "unknown power action")
		return
	}

	ch.SetState(runtimeState)
	e.hub.Event(internalID, enumEvt)
	logger.Info().Str("action", string(action)).Msg("executing power action")

	if err := exec(ctx, runtimeID); err != nil {
		logger.Error().Err(err).Str("action", string(action)).Msg("power action failed")
		e.hub.DaemonMessage(internalID, "power action failed: "+err.Error())
		return
	}

	logger.Info().Str("action", string(action)).Msg("power action complete")

	if (action == ActionStart || action == ActionRestart) && e.onStart != nil {
		e.onStart(internalID)
	}
}
