package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64   { return &v }
func uint16p(v uint16) *uint16 { return &v }

func TestValidateResourceLimitsRejectsLowMemory(t *testing.T) {
	err := ValidateResourceLimits(ResourceLimits{MemoryBytes: int64p(1024)})
	require.Error(t, err)
}

func TestValidateResourceLimitsRejectsHighMemory(t *testing.T) {
	err := ValidateResourceLimits(ResourceLimits{MemoryBytes: int64p(2 * maxMemoryBytes)})
	require.Error(t, err)
}

func TestValidateResourceLimitsAllowsUnlimitedSwap(t *testing.T) {
	err := ValidateResourceLimits(ResourceLimits{MemoryBytes: int64p(minMemoryBytes), MemorySwap: int64p(-1)})
	require.NoError(t, err)
}

func TestValidateResourceLimitsRejectsSwapBelowMemory(t *testing.T) {
	err := ValidateResourceLimits(ResourceLimits{MemoryBytes: int64p(minMemoryBytes * 2), MemorySwap: int64p(minMemoryBytes)})
	require.Error(t, err)
}

func TestValidateResourceLimitsRejectsCPUSharesOutOfRange(t *testing.T) {
	require.Error(t, ValidateResourceLimits(ResourceLimits{CPUShares: int64p(1)}))
	require.Error(t, ValidateResourceLimits(ResourceLimits{CPUShares: int64p(262145)}))
	require.NoError(t, ValidateResourceLimits(ResourceLimits{CPUShares: int64p(1024)}))
}

func TestValidateResourceLimitsAllowsUnlimitedQuota(t *testing.T) {
	require.NoError(t, ValidateResourceLimits(ResourceLimits{CPUQuota: int64p(-1)}))
}

func TestValidateResourceLimitsRejectsLowQuota(t *testing.T) {
	require.Error(t, ValidateResourceLimits(ResourceLimits{CPUQuota: int64p(500)}))
}

func TestValidateResourceLimitsRejectsBlkioWeightOutOfRange(t *testing.T) {
	require.Error(t, ValidateResourceLimits(ResourceLimits{BlkioWeight: uint16p(5)}))
	require.Error(t, ValidateResourceLimits(ResourceLimits{BlkioWeight: uint16p(1001)}))
	require.NoError(t, ValidateResourceLimits(ResourceLimits{BlkioWeight: uint16p(500)}))
}

func TestValidateVolumesRejectsRelativeTarget(t *testing.T) {
	err := ValidateVolumes(map[string]string{"data": "/srv/data"})
	require.Error(t, err)
}

func TestValidateVolumesRejectsEmptySource(t *testing.T) {
	err := ValidateVolumes(map[string]string{"/app/data": ""})
	require.Error(t, err)
}

func TestValidateVolumesRejectsDangerousTargets(t *testing.T) {
	for _, target := range []string{"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/sys"} {
		err := ValidateVolumes(map[string]string{target: "/srv/data"})
		require.Errorf(t, err, "expected %s to be rejected", target)
	}
}

func TestValidateVolumesAllowsSafeTarget(t *testing.T) {
	err := ValidateVolumes(map[string]string{"/app/data": "/srv/data"})
	require.NoError(t, err)
}
