// Package console is the Console Streamer (S1): attaches to a container's
// stdin for command ingress and follows its combined stdout/stderr log
// stream, deduplicating repeated lines and detecting the startup pattern
// transition. Grounded on the original implementation's ConsoleStreamer
// (websocket/console.rs).
package console

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

const (
	stdinRetryInterval = 500 * time.Millisecond
	notRunningPoll     = 100 * time.Millisecond
	logRetryInterval   = 250 * time.Millisecond
	maxLogBackoff      = 2 * time.Second
)

// Streamer attaches to a container's runtime instance and relays its
// console over the Event Hub.
type Streamer struct {
	registry *registry.Registry
	docker   *runtime.Docker
	hub      *eventhub.Hub
}

// New builds a Console Streamer.
func New(reg *registry.Registry, docker *runtime.Docker, hub *eventhub.Hub) *Streamer {
	return &Streamer{registry: reg, docker: docker, hub: hub}
}

// Start spawns the stdin-attach and log-follow tasks for a container. Both
// tasks run until the process exits; Start itself returns immediately.
func (s *Streamer) Start(internalID string) error {
	state, err := s.registry.Get(internalID)
	if err != nil {
		return err
	}
	if state.RuntimeID == "" {
		return lightderr.New(lightderr.Conflict, "container has no runtime instance yet")
	}

	ch := s.hub.GetOrCreateChannel(internalID)
	ch.SetStartPattern(state.StartPattern)
	go s.runStdin(internalID, state.RuntimeID, ch)
	go s.runLogs(internalID, state.RuntimeID, ch)
	return nil
}

// runStdin waits for the container to be running, attaches for stdin, and
// forwards every command received on the channel's command queue as one
// newline-terminated write. Re-attaches on write failure or a dead
// connection.
func (s *Streamer) runStdin(internalID, runtimeID string, ch *eventhub.Channel) {
	logger := log.WithContainer(internalID)
	commands := ch.Commands()

	for {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		running := s.docker.IsRunning(checkCtx, runtimeID)
		cancel()
		if !running {
			time.Sleep(notRunningPoll)
			continue
		}

		resp, err := s.docker.Attach(context.Background(), runtimeID)
		if err != nil {
			logger.Debug().Err(err).Msg("failed to attach stdin")
			time.Sleep(stdinRetryInterval)
			continue
		}

		for command := range commands {
			if _, err := resp.Conn.Write([]byte(command + "\n")); err != nil {
				logger.Error().Err(err).Msg("failed to write to container stdin")
				break
			}
		}
		resp.Close()
		time.Sleep(stdinRetryInterval)
	}
}

// runLogs follows the container's combined stdout/stderr, pushing each new
// line through the Event Hub and collapsing consecutive duplicates into a
// counter instead of re-sending the line.
func (s *Streamer) runLogs(internalID, runtimeID string, ch *eventhub.Channel) {
	logger := log.WithContainer(internalID)
	wasRunning := false
	backoff := 100 * time.Millisecond
	var lastLine string
	duplicateCount := 0

	for {
		statusCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		running := s.docker.IsRunning(statusCtx, runtimeID)
		cancel()

		if !running {
			if wasRunning {
				logger.Info().Msg("container stopped")
				s.hub.Event(internalID, "exit")
				s.hub.DaemonMessage(internalID, "Container stopped")
				ch.SetState(types.RuntimeOffline)
				wasRunning = false
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxLogBackoff {
				backoff = maxLogBackoff
			}
			continue
		}

		if !wasRunning {
			logger.Info().Msg("container is now running")
			wasRunning = true
			ch.SetState(types.RuntimeStarting)
		}
		backoff = 100 * time.Millisecond

		since := time.Time{}
		inspectCtx, inspectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if result, err := s.docker.Inspect(inspectCtx, runtimeID); err == nil {
			since = result.StartedAt
		}
		inspectCancel()

		stream, err := s.docker.Logs(context.Background(), runtimeID, true, "0", since)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to open log stream")
			time.Sleep(logRetryInterval)
			continue
		}

		lastLine, duplicateCount = s.consume(internalID, stream, lastLine, duplicateCount)
		stream.Close()
		logger.Info().Msg("log stream ended")
		time.Sleep(logRetryInterval)
	}
}

// consume demultiplexes a container's combined log stream and pushes each
// distinct line through the Event Hub, returning the updated dedup state.
func (s *Streamer) consume(internalID string, stream io.ReadCloser, lastLine string, duplicateCount int) (string, int) {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, stream)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if line == "" {
			continue
		}
		if line == lastLine {
			duplicateCount++
			s.hub.ConsoleDuplicate(internalID, duplicateCount)
			continue
		}
		lastLine = line
		duplicateCount = 1
		s.hub.Console(internalID, line)
	}
	return lastLine, duplicateCount
}
