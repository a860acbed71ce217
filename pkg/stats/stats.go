// Package stats is the Stats Collector (S2): follows a running container's
// Docker stats stream, computes CPU percentage and uptime, and broadcasts
// change-detected frames through the Event Hub. Grounded on the original
// implementation's StatsCollector (websocket/stats.rs).
package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

const (
	minBackoff    = 500 * time.Millisecond
	maxBackoff    = 5 * time.Second
	sampleSpacing = 100 * time.Millisecond
)

// Collector follows a container's runtime stats and publishes them.
type Collector struct {
	registry *registry.Registry
	docker   *runtime.Docker
	hub      *eventhub.Hub
}

// New builds a Stats Collector.
func New(reg *registry.Registry, docker *runtime.Docker, hub *eventhub.Hub) *Collector {
	return &Collector{registry: reg, docker: docker, hub: hub}
}

// Start spawns the collection loop for a container. The loop runs until the
// process exits; Start itself returns immediately.
func (c *Collector) Start(internalID string) error {
	state, err := c.registry.Get(internalID)
	if err != nil {
		return err
	}
	if state.RuntimeID == "" {
		return lightderr.New(lightderr.Conflict, "container has no runtime instance yet")
	}

	memoryLimit := uint64(0)
	if state.Limits.MemoryBytes != nil && *state.Limits.MemoryBytes > 0 {
		memoryLimit = uint64(*state.Limits.MemoryBytes)
	}

	ch := c.hub.GetOrCreateChannel(internalID)
	go c.run(internalID, state.RuntimeID, memoryLimit, ch)
	return nil
}

func (c *Collector) run(internalID, runtimeID string, memoryLimit uint64, ch *eventhub.Channel) {
	logger := log.WithContainer(internalID)
	logger.Info().Msg("starting stats collector")
	backoff := minBackoff

	for {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		running := c.docker.IsRunning(checkCtx, runtimeID)
		cancel()
		if !running {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		streamCtx, streamCancel := context.WithCancel(context.Background())
		reader, err := c.docker.StatsStream(streamCtx, runtimeID)
		if err != nil {
			logger.Debug().Err(err).Msg("failed to open stats stream")
			streamCancel()
			time.Sleep(backoff)
			continue
		}

		c.consume(internalID, reader, memoryLimit, ch)
		reader.Body.Close()
		streamCancel()

		logger.Info().Msg("stats stream ended")
		time.Sleep(minBackoff)
	}
}

// consume decodes one stats stream to completion, broadcasting a frame for
// every sample and pacing itself to avoid overwhelming subscribers.
func (c *Collector) consume(internalID string, reader container.StatsResponseReader, memoryLimit uint64, ch *eventhub.Channel) {
	decoder := json.NewDecoder(reader.Body)
	logger := log.WithContainer(internalID)

	for {
		var frame container.StatsResponse
		if err := decoder.Decode(&frame); err != nil {
			logger.Debug().Err(err).Msg("stats stream decode ended")
			return
		}

		cpuPercent := cpuPercentage(frame)
		rxBytes, txBytes := networkTotals(frame)

		limit := frame.MemoryStats.Limit
		if limit == 0 {
			limit = memoryLimit
		}

		c.hub.Stats(internalID, types.ContainerStats{
			MemoryBytes:      frame.MemoryStats.Usage,
			MemoryLimitBytes: limit,
			CPUAbsolute:      roundToTwoPlaces(cpuPercent),
			Network:          types.NetworkStats{RxBytes: rxBytes, TxBytes: txBytes},
			Uptime:           uptimeSeconds(ch),
			State:            string(ch.State()),
		})

		time.Sleep(sampleSpacing)
	}
}

// cpuPercentage reproduces Docker CLI's normalized CPU% formula: the
// fraction of system CPU time this container consumed since the previous
// sample, scaled by the number of online CPUs.
func cpuPercentage(frame container.StatsResponse) float64 {
	cpuDelta := int64(frame.CPUStats.CPUUsage.TotalUsage) - int64(frame.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := int64(frame.CPUStats.SystemUsage) - int64(frame.PreCPUStats.SystemUsage)

	if systemDelta <= 0 || cpuDelta <= 0 {
		return 0
	}

	onlineCPUs := frame.CPUStats.OnlineCPUs
	if onlineCPUs == 0 {
		onlineCPUs = uint32(len(frame.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}

	return (float64(cpuDelta) / float64(systemDelta)) * float64(onlineCPUs) * 100.0
}

func networkTotals(frame container.StatsResponse) (rx, tx uint64) {
	for _, net := range frame.Networks {
		rx += net.RxBytes
		tx += net.TxBytes
	}
	return rx, tx
}

func uptimeSeconds(ch *eventhub.Channel) uint64 {
	start := ch.UptimeStart()
	if start == 0 {
		return 0
	}
	now := time.Now().Unix()
	if now <= start {
		return 0
	}
	return uint64(now - start)
}

func roundToTwoPlaces(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
