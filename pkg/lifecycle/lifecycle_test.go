package lifecycle

import (
	"testing"

	"github.com/lightdaemon/lightd/pkg/eventhub"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/registry"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

type memContainerStore struct {
	data map[string]*types.ContainerState
}

func newMemContainerStore() *memContainerStore {
	return &memContainerStore{data: make(map[string]*types.ContainerState)}
}

func (m *memContainerStore) Put(state *types.ContainerState) error {
	m.data[state.InternalID] = state
	return nil
}
func (m *memContainerStore) Get(internalID string) (*types.ContainerState, error) {
	state, ok := m.data[internalID]
	if !ok {
		return nil, lightderr.New(lightderr.NotFound, "container not found")
	}
	return state, nil
}
func (m *memContainerStore) List() ([]*types.ContainerState, error) {
	out := make([]*types.ContainerState, 0, len(m.data))
	for _, v := range m.data {
		out = append(out, v)
	}
	return out, nil
}
func (m *memContainerStore) Delete(internalID string) error {
	delete(m.data, internalID)
	return nil
}
func (m *memContainerStore) Close() error { return nil }

var _ storage.ContainerStore = (*memContainerStore)(nil)

func TestRepairSkipsHealthyContainer(t *testing.T) {
	store := newMemContainerStore()
	reg := registry.New(store)
	_, err := reg.Create("c-1", "v-1", "image:latest", "echo hi", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)
	_, err = reg.MarkReady("c-1", "runtime-1")
	require.NoError(t, err)

	hub := eventhub.New()
	e := New(reg, nil, nil, hub)

	repaired, err := e.Repair("c-1", "image:latest")
	require.NoError(t, err)
	require.False(t, repaired)
}

func TestVerifySyncInstallingIsAlwaysInSync(t *testing.T) {
	store := newMemContainerStore()
	reg := registry.New(store)
	_, err := reg.Create("c-1", "v-1", "image:latest", "echo hi", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	hub := eventhub.New()
	e := New(reg, nil, nil, hub)

	inSync, err := e.VerifySync("c-1")
	require.NoError(t, err)
	require.True(t, inSync)
}

func TestVerifySyncReadyWithoutRuntimeIsCorrupt(t *testing.T) {
	store := newMemContainerStore()
	reg := registry.New(store)
	state, err := reg.Create("c-1", "v-1", "image:latest", "echo hi", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)
	state.InstallState = types.InstallStateReady
	require.NoError(t, store.Put(state))

	hub := eventhub.New()
	e := New(reg, nil, nil, hub)

	inSync, err := e.VerifySync("c-1")
	require.NoError(t, err)
	require.False(t, inSync)
}

func TestLimitsFromStateConvertsCPUCoresToNanoCPUs(t *testing.T) {
	cores := 1.5
	limits := limitsFromState(types.ResourceLimits{CPUCores: &cores})
	require.NotNil(t, limits.NanoCPUs)
	require.Equal(t, int64(1_500_000_000), *limits.NanoCPUs)
}
