package stats

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
)

func TestCPUPercentageZeroWhenNoSystemDelta(t *testing.T) {
	frame := container.StatsResponse{}
	require.Equal(t, 0.0, cpuPercentage(frame))
}

func TestCPUPercentageComputesScaledFraction(t *testing.T) {
	frame := container.StatsResponse{}
	frame.CPUStats.CPUUsage.TotalUsage = 2000
	frame.PreCPUStats.CPUUsage.TotalUsage = 1000
	frame.CPUStats.SystemUsage = 20000
	frame.PreCPUStats.SystemUsage = 10000
	frame.CPUStats.OnlineCPUs = 2

	// delta cpu = 1000, delta sys = 10000 -> (1000/10000)*2*100 = 20
	require.InDelta(t, 20.0, cpuPercentage(frame), 0.0001)
}

func TestCPUPercentageFallsBackToPercpuCountWhenOnlineCPUsUnset(t *testing.T) {
	frame := container.StatsResponse{}
	frame.CPUStats.CPUUsage.TotalUsage = 2000
	frame.PreCPUStats.CPUUsage.TotalUsage = 1000
	frame.CPUStats.SystemUsage = 10000
	frame.PreCPUStats.SystemUsage = 9000
	frame.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 2, 3, 4}

	// delta cpu = 1000, delta sys = 1000 -> (1000/1000)*4*100 = 400
	require.InDelta(t, 400.0, cpuPercentage(frame), 0.0001)
}

func TestNetworkTotalsSumsAllInterfaces(t *testing.T) {
	frame := container.StatsResponse{
		Networks: map[string]container.NetworkStats{
			"eth0": {RxBytes: 100, TxBytes: 50},
			"eth1": {RxBytes: 200, TxBytes: 75},
		},
	}
	rx, tx := networkTotals(frame)
	require.Equal(t, uint64(300), rx)
	require.Equal(t, uint64(125), tx)
}

func TestRoundToTwoPlaces(t *testing.T) {
	require.Equal(t, 1.23, roundToTwoPlaces(1.2345))
	require.Equal(t, 1.24, roundToTwoPlaces(1.2358))
}
