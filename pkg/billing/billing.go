// Package billing is the Billing Tracker (B): a periodic sampler that
// enumerates lightd-managed containers, records a rolling 24h usage window
// per container, and turns a window into a cost estimate. Grounded on the
// original implementation's BillingTracker (billing/tracker.rs).
package billing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/runtime"
	"github.com/lightdaemon/lightd/pkg/types"
)

const (
	containerNamePrefix = "lightd-"
	windowDuration       = 24 * time.Hour
	bytesPerGB           = 1024.0 * 1024.0 * 1024.0
)

// RegistryView resolves a runtime-assigned container id back to the
// internal_id that owns it. Satisfied by *registry.Registry; kept as a
// narrow read-only interface so the Billing Tracker never gains a write
// path into the registry (see DESIGN.md's cyclic-ownership note).
type RegistryView interface {
	FindByRuntimeID(runtimeID string) (string, bool)
}

// Tracker samples runtime stats on a fixed interval and keeps a rolling
// per-container usage window, keyed by internal_id.
type Tracker struct {
	docker   *runtime.Docker
	registry RegistryView
	interval time.Duration

	mu    sync.RWMutex
	rates types.BillingRates
	usage map[string][]types.UsageSample

	onSample func(internalID string, snapshot types.UsageSnapshot, cost float64)
}

// New builds a Billing Tracker. registry resolves each sampled container's
// runtime id back to its internal_id; it may be nil in tests that exercise
// GetUsageSnapshot/CalculateCost directly without running Start.
func New(docker *runtime.Docker, registry RegistryView, rates types.BillingRates, interval time.Duration) *Tracker {
	return &Tracker{
		docker:   docker,
		registry: registry,
		interval: interval,
		rates:    rates,
		usage:    make(map[string][]types.UsageSample),
	}
}

// OnSample registers a callback invoked after every collection pass for
// every container that produced a sample, used to wire remote sync webhooks
// without this package depending on the remote client.
func (t *Tracker) OnSample(fn func(containerID string, snapshot types.UsageSnapshot, cost float64)) {
	t.onSample = fn
}

// Start spawns the collection ticker. It runs until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	logger := log.WithComponent("billing")
	logger.Info().Dur("interval", t.interval).Msg("billing tracker started")

	ticker := time.NewTicker(t.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.collect(ctx)
			}
		}
	}()
}

func (t *Tracker) collect(ctx context.Context) {
	logger := log.WithComponent("billing")

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	ids, err := t.docker.ListByPrefix(listCtx, containerNamePrefix)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list containers for billing")
		return
	}

	for _, runtimeID := range ids {
		internalID := runtimeID
		if t.registry != nil {
			resolved, ok := t.registry.FindByRuntimeID(runtimeID)
			if !ok {
				logger.Warn().Str("runtime_id", runtimeID).Msg("billing sample has no matching registry record, skipping")
				continue
			}
			internalID = resolved
		}

		if err := t.collectOne(ctx, internalID, runtimeID); err != nil {
			logger.Warn().Err(err).Str("container_id", internalID).Msg("failed to collect billing metrics")
			continue
		}
		if t.onSample != nil {
			snapshot, err := t.GetUsageSnapshot(internalID, 1.0)
			if err != nil {
				continue
			}
			t.onSample(internalID, snapshot, t.CalculateCost(snapshot))
		}
	}
}

// collectOne samples runtime stats for runtimeID and records the resulting
// UsageSample under internalID, the caller-facing identity.
func (t *Tracker) collectOne(ctx context.Context, internalID, runtimeID string) error {
	sampleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reader, err := t.docker.StatsOneShot(sampleCtx, runtimeID)
	if err != nil {
		return err
	}
	defer reader.Body.Close()

	var frame container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&frame); err != nil {
		return lightderr.Wrap(lightderr.IO, "decode stats sample", err)
	}

	cpuDelta := float64(frame.CPUStats.CPUUsage.TotalUsage) - float64(frame.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(frame.CPUStats.SystemUsage) - float64(frame.PreCPUStats.SystemUsage)
	cpuUsageSeconds := 0.0
	if systemDelta > 0 {
		onlineCPUs := frame.CPUStats.OnlineCPUs
		if onlineCPUs == 0 {
			onlineCPUs = 1
		}
		cpuUsageSeconds = (cpuDelta / systemDelta) * float64(onlineCPUs)
	}

	var egressBytes uint64
	for _, net := range frame.Networks {
		egressBytes += net.TxBytes
	}

	var storageBytes uint64
	for _, entry := range frame.BlkioStats.IoServiceBytesRecursive {
		storageBytes += entry.Value
	}

	sample := types.UsageSample{
		ContainerID:        internalID,
		MemoryBytes:        frame.MemoryStats.Usage,
		CPUUsageSeconds:    cpuUsageSeconds,
		NetworkEgressBytes: egressBytes,
		StorageBytes:       storageBytes,
		Timestamp:          time.Now().Unix(),
	}

	t.mu.Lock()
	entries := append(t.usage[internalID], sample)
	cutoff := sample.Timestamp - int64(windowDuration.Seconds())
	entries = trimBefore(entries, cutoff)
	t.usage[internalID] = entries
	t.mu.Unlock()

	return nil
}

// GetUsageSnapshot averages memory/cpu/storage over the trailing
// durationHours and reports the latest cumulative egress.
func (t *Tracker) GetUsageSnapshot(containerID string, durationHours float64) (types.UsageSnapshot, error) {
	t.mu.RLock()
	entries := t.usage[containerID]
	t.mu.RUnlock()

	if len(entries) == 0 {
		return types.UsageSnapshot{}, lightderr.New(lightderr.NotFound, "no usage data for container")
	}

	cutoff := time.Now().Unix() - int64(durationHours*3600)
	relevant := make([]types.UsageSample, 0, len(entries))
	for _, e := range entries {
		if e.Timestamp > cutoff {
			relevant = append(relevant, e)
		}
	}
	if len(relevant) == 0 {
		return types.UsageSnapshot{}, lightderr.New(lightderr.NotFound, "no usage data in requested time range")
	}

	var memSum, cpuSum, storageSum float64
	for _, e := range relevant {
		memSum += float64(e.MemoryBytes)
		cpuSum += e.CPUUsageSeconds
		storageSum += float64(e.StorageBytes)
	}
	n := float64(len(relevant))

	return types.UsageSnapshot{
		MemoryGB:      memSum / n / bytesPerGB,
		CPUVCPUs:      cpuSum / n,
		StorageGB:     storageSum / n / bytesPerGB,
		EgressGB:      float64(relevant[len(relevant)-1].NetworkEgressBytes) / bytesPerGB,
		DurationHours: durationHours,
	}, nil
}

// CalculateCost prices a snapshot against the currently configured rates.
func (t *Tracker) CalculateCost(snapshot types.UsageSnapshot) float64 {
	t.mu.RLock()
	rates := t.rates
	t.mu.RUnlock()

	memCost := snapshot.MemoryGB * snapshot.DurationHours * rates.MemoryPerGBHour
	cpuCost := snapshot.CPUVCPUs * snapshot.DurationHours * rates.CPUPerVCPUHour
	storageCost := snapshot.StorageGB * snapshot.DurationHours * rates.StoragePerGBHour
	egressCost := snapshot.EgressGB * rates.EgressPerGB
	return memCost + cpuCost + storageCost + egressCost
}

// GetRates returns the currently configured billing rates.
func (t *Tracker) GetRates() types.BillingRates {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rates
}

// UpdateRates swaps the billing rates used by future cost calculations.
func (t *Tracker) UpdateRates(rates types.BillingRates) {
	t.mu.Lock()
	t.rates = rates
	t.mu.Unlock()
	log.WithComponent("billing").Info().Msg("updated billing rates")
}

// TrackedContainers returns every container ID with at least one recorded
// sample.
func (t *Tracker) TrackedContainers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.usage))
	for id := range t.usage {
		ids = append(ids, id)
	}
	return ids
}

// ClearContainer discards all usage history for a container, used when a
// container is deleted so a future reused ID starts from a clean window.
func (t *Tracker) ClearContainer(containerID string) {
	t.mu.Lock()
	delete(t.usage, containerID)
	t.mu.Unlock()
}

func trimBefore(entries []types.UsageSample, cutoff int64) []types.UsageSample {
	kept := entries[:0]
	for _, e := range entries {
		if e.Timestamp > cutoff {
			kept = append(kept, e)
		}
	}
	return kept
}

