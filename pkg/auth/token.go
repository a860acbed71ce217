// Package auth is the WebSocket one-shot token manager and the HTTP bearer
// authentication middleware. Grounded on the original implementation's
// TokenManager (auth/tokens.rs) and auth_middleware (auth/middleware.rs).
package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
)

// TokenPrefix is prepended to every generated token and is also the
// required prefix for the static API bearer token in config.
const TokenPrefix = "lightd_"

// Manager issues and validates one-shot WebSocket auth tokens.
type Manager struct {
	store storage.TokenStore
}

// NewManager builds a Manager over an already-opened TokenStore.
func NewManager(store storage.TokenStore) *Manager {
	return &Manager{store: store}
}

// Generate issues a new token valid for ttl, optionally consumed on first
// use.
func (m *Manager) Generate(ttl time.Duration, removeOnUse bool) (*types.TokenRecord, error) {
	now := time.Now().Unix()
	rec := &types.TokenRecord{
		Token:       TokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:   now,
		ExpiresAt:   now + int64(ttl.Seconds()),
		RemoveOnUse: removeOnUse,
		Used:        false,
	}
	if err := m.store.Put(rec); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "generate token", err)
	}
	return rec, nil
}

// Validate checks a token string for validity, optionally marking it used.
// Mirrors the original implementation's validate_token literally,
// including the double-remove behaviour the spec leaves unresolved (see
// DESIGN.md): a remove_on_use token is deleted both when marked used here
// and again should a caller validate it a second time concurrently.
func (m *Manager) Validate(token string, markUsed bool) (bool, error) {
	rec, err := m.store.Get(token)
	if err != nil {
		if lightderr.Is(err, lightderr.NotFound) {
			return false, nil
		}
		return false, err
	}

	if time.Now().Unix() > rec.ExpiresAt {
		_ = m.store.Delete(token)
		return false, nil
	}

	if rec.Used && rec.RemoveOnUse {
		_ = m.store.Delete(token)
		return false, nil
	}

	if markUsed && rec.RemoveOnUse {
		rec.Used = true
		if err := m.store.Put(rec); err != nil {
			return false, lightderr.Wrap(lightderr.IO, "mark token used", err)
		}
		_ = m.store.Delete(token)
	}

	return true, nil
}

// CleanupExpired removes every token whose expiry has passed, intended to
// run on a periodic sweep from the daemon CLI.
func (m *Manager) CleanupExpired() (int, error) {
	all, err := m.store.List()
	if err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	removed := 0
	for _, rec := range all {
		if now > rec.ExpiresAt {
			if err := m.store.Delete(rec.Token); err != nil {
				log.WithComponent("auth").Warn().Err(err).Str("token", rec.Token).Msg("failed to remove expired token")
				continue
			}
			removed++
		}
	}
	return removed, nil
}
