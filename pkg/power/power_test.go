package power

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

func TestExecuteRejectsMissingRuntime(t *testing.T) {
	store := newMemContainerStore()
	reg := registry.New(store)
	_, err := reg.Create("c-1", "v-1", "image:latest", "echo hi", nil, types.ResourceLimits{}, nil)
	require.NoError(t, err)

	hub := eventhub.New()
	hub.GetOrCreateChannel("c-1")
	e := New(reg, nil, hub)

	err = e.Execute("c-1", ActionStart)
	require.Error(t, err)
}

func TestExecuteRejectsUnknownContainer(t *testing.T) {
	store := newMemContainerStore()
	reg := registry.New(store)
	hub := eventhub.New()
	e := New(reg, nil, hub)

	err := e.Execute("missing", ActionStart)
	require.Error(t, err)
}
