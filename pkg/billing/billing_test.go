package billing

import (
	"testing"
	"time"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	return New(nil, nil, types.BillingRates{
		MemoryPerGBHour:  0.01,
		CPUPerVCPUHour:   0.02,
		StoragePerGBHour: 0.0001,
		EgressPerGB:      0.05,
	}, time.Minute)
}

func TestGetUsageSnapshotNoDataReturnsNotFound(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.GetUsageSnapshot("c-1", 1.0)
	require.True(t, lightderr.Is(err, lightderr.NotFound))
}

func TestGetUsageSnapshotAveragesAndLatestEgress(t *testing.T) {
	tr := newTestTracker()
	now := time.Now().Unix()
	tr.usage["c-1"] = []types.UsageSample{
		{ContainerID: "c-1", MemoryBytes: 1 * uint64(bytesPerGB), CPUUsageSeconds: 0.5, NetworkEgressBytes: 100, Timestamp: now - 10},
		{ContainerID: "c-1", MemoryBytes: 3 * uint64(bytesPerGB), CPUUsageSeconds: 1.5, NetworkEgressBytes: 300, Timestamp: now - 5},
	}

	snap, err := tr.GetUsageSnapshot("c-1", 1.0)
	require.NoError(t, err)
	require.InDelta(t, 2.0, snap.MemoryGB, 0.001)
	require.InDelta(t, 1.0, snap.CPUVCPUs, 0.001)
	require.InDelta(t, 300.0/bytesPerGB, snap.EgressGB, 0.0001)
}

func TestGetUsageSnapshotExcludesEntriesOutsideWindow(t *testing.T) {
	tr := newTestTracker()
	now := time.Now().Unix()
	tr.usage["c-1"] = []types.UsageSample{
		{ContainerID: "c-1", MemoryBytes: 100, Timestamp: now - int64(3*time.Hour.Seconds())},
	}

	_, err := tr.GetUsageSnapshot("c-1", 1.0)
	require.True(t, lightderr.Is(err, lightderr.NotFound))
}

func TestCalculateCostSumsAllComponents(t *testing.T) {
	tr := newTestTracker()
	cost := tr.CalculateCost(types.UsageSnapshot{MemoryGB: 2, CPUVCPUs: 1, StorageGB: 10, EgressGB: 5, DurationHours: 1})
	require.InDelta(t, 2*0.01+1*0.02+10*0.0001+5*0.05, cost, 0.0001)
}

func TestUpdateRatesAffectsFutureCalculations(t *testing.T) {
	tr := newTestTracker()
	tr.UpdateRates(types.BillingRates{MemoryPerGBHour: 1.0})
	cost := tr.CalculateCost(types.UsageSnapshot{MemoryGB: 2, DurationHours: 1})
	require.InDelta(t, 2.0, cost, 0.0001)
}

func TestClearContainerRemovesHistory(t *testing.T) {
	tr := newTestTracker()
	tr.usage["c-1"] = []types.UsageSample{{ContainerID: "c-1", Timestamp: time.Now().Unix()}}
	tr.ClearContainer("c-1")

	_, err := tr.GetUsageSnapshot("c-1", 1.0)
	require.True(t, lightderr.Is(err, lightderr.NotFound))
}

func TestTrimBeforeDropsStaleEntries(t *testing.T) {
	now := time.Now().Unix()
	entries := []types.UsageSample{
		{Timestamp: now - 100},
		{Timestamp: now - 1},
	}
	trimmed := trimBefore(entries, now-50)
	require.Len(t, trimmed, 1)
	require.Equal(t, now-1, trimmed[0].Timestamp)
}

type fakeRegistryView struct {
	byRuntimeID map[string]string
}

func (f *fakeRegistryView) FindByRuntimeID(runtimeID string) (string, bool) {
	id, ok := f.byRuntimeID[runtimeID]
	return id, ok
}

func TestNewAcceptsRegistryView(t *testing.T) {
	reg := &fakeRegistryView{byRuntimeID: map[string]string{"runtime-1": "c-1"}}
	tr := New(nil, reg, types.BillingRates{}, time.Minute)

	internalID, ok := tr.registry.FindByRuntimeID("runtime-1")
	require.True(t, ok)
	require.Equal(t, "c-1", internalID)

	_, ok = tr.registry.FindByRuntimeID("unknown")
	require.False(t, ok)
}

func TestTrackedContainersListsAllKeys(t *testing.T) {
	tr := newTestTracker()
	tr.usage["c-1"] = []types.UsageSample{{Timestamp: time.Now().Unix()}}
	tr.usage["c-2"] = []types.UsageSample{{Timestamp: time.Now().Unix()}}

	ids := tr.TrackedContainers()
	require.ElementsMatch(t, []string{"c-1", "c-2"}, ids)
}
