package firewall

import (
	"testing"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltFirewallStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, nil)
}

func TestChainNameUppercasesID(t *testing.T) {
	require.Equal(t, "LIGHTD-ABC123", chainName("abc123"))
}

func TestAddRuleRejectsEmptyContainerID(t *testing.T) {
	m := newTestManager(t)
	err := m.AddRule(&types.FirewallRule{ID: "r-1", Protocol: types.ProtocolTCP, Action: types.FirewallAccept})
	require.Error(t, err)
	require.True(t, lightderr.Is(err, lightderr.Validation))
}

func TestAddRuleRejectsInvalidRateLimit(t *testing.T) {
	m := newTestManager(t)
	err := m.AddRule(&types.FirewallRule{
		ID: "r-1", ContainerID: "c-1", Protocol: types.ProtocolTCP, Action: types.FirewallAccept,
		RateLimit: &types.RateLimit{Requests: 0, PerSecond: 1},
	})
	require.Error(t, err)
}

func TestAddRuleDisabledPersistsWithoutApplying(t *testing.T) {
	m := newTestManager(t)
	rule := &types.FirewallRule{ID: "r-1", ContainerID: "c-1", Protocol: types.ProtocolTCP, Action: types.FirewallAccept, Enabled: false}

	err := m.AddRule(rule)
	require.NoError(t, err)

	stored, err := m.store.GetRule("r-1")
	require.NoError(t, err)
	require.Equal(t, "c-1", stored.ContainerID)
}

func TestListForContainerFiltersByContainer(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRule(&types.FirewallRule{ID: "r-1", ContainerID: "c-1", Protocol: types.ProtocolTCP, Action: types.FirewallAccept}))
	require.NoError(t, m.AddRule(&types.FirewallRule{ID: "r-2", ContainerID: "c-2", Protocol: types.ProtocolTCP, Action: types.FirewallAccept}))

	rules, err := m.ListForContainer("c-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "r-1", rules[0].ID)
}

func TestEnableDDoSProtectionSkippedWhenDisabled(t *testing.T) {
	m := newTestManager(t)
	err := m.EnableDDoSProtection("c-1", &types.DDoSProtection{Enabled: false})
	require.NoError(t, err)

	_, err = m.GetDDoSProtection("c-1")
	require.True(t, lightderr.Is(err, lightderr.NotFound))
}

func TestRemoveRuleUnknownReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.RemoveRule("missing")
	require.True(t, lightderr.Is(err, lightderr.NotFound))
}
