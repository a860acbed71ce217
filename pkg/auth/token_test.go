package auth

import (
	"testing"
	"time"

	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltTokenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store)
}

func TestGenerateHasPrefix(t *testing.T) {
	m := newTestManager(t)
	rec, err := m.Generate(time.Minute, true)
	require.NoError(t, err)
	require.True(t, len(rec.Token) > len(TokenPrefix))
	require.Equal(t, TokenPrefix, rec.Token[:len(TokenPrefix)])
}

func TestValidateExpired(t *testing.T) {
	m := newTestManager(t)
	rec, err := m.Generate(time.Minute, false)
	require.NoError(t, err)
	rec.ExpiresAt = time.Now().Unix() - 10
	require.NoError(t, m.store.Put(rec))

	ok, err := m.Validate(rec.Token, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateRemoveOnUse(t *testing.T) {
	m := newTestManager(t)
	rec, err := m.Generate(time.Minute, true)
	require.NoError(t, err)

	ok, err := m.Validate(rec.Token, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Validate(rec.Token, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateUnknownToken(t *testing.T) {
	m := newTestManager(t)
	ok, err := m.Validate("lightd_doesnotexist", false)
	require.NoError(t, err)
	require.False(t, ok)
}
