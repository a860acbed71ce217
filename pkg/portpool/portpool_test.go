package portpool

import (
	"testing"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewBoltPortStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestAddAndList(t *testing.T) {
	p := newTestPool(t)
	rec, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.False(t, rec.InUse)

	all, err := p.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetRandomAvailableExcludesInUse(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.NoError(t, p.MarkInUse(a.ID, true))

	_, err = p.Add("10.0.0.5", 25566, "tcp")
	require.NoError(t, err)

	picked, err := p.GetRandomAvailable()
	require.NoError(t, err)
	require.NotEqual(t, a.ID, picked.ID)
}

func TestGetRandomAvailableExhausted(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.NoError(t, p.MarkInUse(a.ID, true))

	_, err = p.GetRandomAvailable()
	require.Error(t, err)
	require.True(t, lightderr.Is(err, lightderr.Exhausted))
}

func TestMarkInUseConflict(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.NoError(t, p.MarkInUse(a.ID, true))

	err = p.MarkInUse(a.ID, true)
	require.Error(t, err)
	require.True(t, lightderr.Is(err, lightderr.Conflict))
}

func TestBulkAddRejectsOversize(t *testing.T) {
	p := newTestPool(t)
	recs := make([]*types.NetworkPort, maxBulkSize+1)
	for i := range recs {
		recs[i] = &types.NetworkPort{IP: "10.0.0.5", Port: uint16(20000 + i), Protocol: "tcp"}
	}

	err := p.BulkAdd(recs)
	require.Error(t, err)
	require.True(t, lightderr.Is(err, lightderr.Validation))
}

func TestReturnToPool(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.NoError(t, p.MarkInUse(a.ID, true))
	require.NoError(t, p.ReturnToPool(a.ID))

	rec, err := p.Get(a.ID)
	require.NoError(t, err)
	require.False(t, rec.InUse)
}

func TestAllocateClaimsMatchingProtocolOnly(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Add("10.0.0.5", 25565, "udp")
	require.NoError(t, err)
	tcp, err := p.Add("10.0.0.5", 25566, "tcp")
	require.NoError(t, err)

	rec, err := p.Allocate("tcp")
	require.NoError(t, err)
	require.Equal(t, tcp.ID, rec.ID)

	got, err := p.Get(rec.ID)
	require.NoError(t, err)
	require.True(t, got.InUse)
}

func TestAllocateExhaustedWhenNoProtocolMatch(t *testing.T) {
	p := newTestPool(t)
	_, err := p.Add("10.0.0.5", 25565, "udp")
	require.NoError(t, err)

	_, err = p.Allocate("tcp")
	require.True(t, lightderr.Is(err, lightderr.Exhausted))
}

func TestReturnByHostPortReleasesMatchingRecord(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Add("10.0.0.5", 25565, "tcp")
	require.NoError(t, err)
	require.NoError(t, p.MarkInUse(a.ID, true))

	require.NoError(t, p.ReturnByHostPort(25565, "tcp"))

	rec, err := p.Get(a.ID)
	require.NoError(t, err)
	require.False(t, rec.InUse)
}

func TestReturnByHostPortNoMatchIsNoop(t *testing.T) {
	p := newTestPool(t)
	require.NoError(t, p.ReturnByHostPort(9999, "tcp"))
}
