package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewBoltContainerStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestCreateInitializesInstalling(t *testing.T) {
	r := newTestRegistry(t)

	state, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)
	require.Equal(t, types.InstallStateInstalling, state.InstallState)
	require.True(t, state.IsInstalling)
	require.Empty(t, state.RuntimeID)
}

func TestCreateConflict(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	_, err = r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.Error(t, err)
	require.True(t, lightderr.Is(err, lightderr.Conflict))
}

func TestMarkReadyThenFailed(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	state, err := r.MarkReady("c-1", "runtime-abc")
	require.NoError(t, err)
	require.Equal(t, types.InstallStateReady, state.InstallState)
	require.Equal(t, "runtime-abc", state.RuntimeID)

	state, err = r.MarkFailed("c-1", errors.New("runtime ping failed"))
	require.NoError(t, err)
	require.Equal(t, types.InstallStateFailed, state.InstallState)
	require.False(t, state.IsInstalling)
}

func TestValidateStuckInstalling(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltContainerStore(dir)
	require.NoError(t, err)
	defer store.Close()
	r := New(store)

	_, err = r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	state, err := r.Get("c-1")
	require.NoError(t, err)
	state.UpdatedAt = time.Now().Add(-types.StuckInstallingThreshold - time.Minute).Unix()
	require.NoError(t, store.Put(state))

	healthy, issue, err := r.Validate("c-1")
	require.NoError(t, err)
	require.False(t, healthy)
	require.Equal(t, IssueStuckInstalling, issue)
}

func TestValidateReadyWithoutRuntime(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	_, err = r.Update("c-1", func(s *types.ContainerState) {
		s.InstallState = types.InstallStateReady
	})
	require.NoError(t, err)

	healthy, issue, err := r.Validate("c-1")
	require.NoError(t, err)
	require.False(t, healthy)
	require.Equal(t, IssueReadyWithoutRuntime, issue)
}

func TestDeleteRemovesRecord(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	_, err = r.Delete("c-1")
	require.NoError(t, err)
	_, err = r.Get("c-1")
	require.Error(t, err)
}

func TestDeleteReturnsLastKnownStateWithPorts(t *testing.T) {
	r := newTestRegistry(t)
	ports := []types.PortBinding{{ContainerPort: 25565, HostPort: 30000, Protocol: "tcp"}}
	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, ports)
	require.NoError(t, err)

	state, err := r.Delete("c-1")
	require.NoError(t, err)
	require.Equal(t, ports, state.Ports)
}

func TestCreateRejectsEmptyInternalID(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.True(t, lightderr.Is(err, lightderr.Validation))
}

func TestFindByRuntimeIDResolvesInternalID(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create("c-1", "vol-1", "nginx:latest", "nginx", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)
	_, err = r.MarkReady("c-1", "runtime-abc")
	require.NoError(t, err)

	internalID, ok := r.FindByRuntimeID("runtime-abc")
	require.True(t, ok)
	require.Equal(t, "c-1", internalID)

	_, ok = r.FindByRuntimeID("no-such-runtime-id")
	require.False(t, ok)
}
