// Package storage is the KV persistence layer. Each entity family gets its
// own bbolt database file under the storage base path (containers.db,
// network.db, firewall.db, tokens.db), one bucket per family, following the
// original implementation's sled tree-per-entity layout. Every store talks
// to its database through db.Update/db.View closures and JSON-marshalled
// values, the same idiom the container registry's predecessor used for a
// single combined database.
package storage

import "github.com/lightdaemon/lightd/pkg/types"

// ContainerStore persists ContainerState records keyed by InternalID.
type ContainerStore interface {
	Put(state *types.ContainerState) error
	Get(internalID string) (*types.ContainerState, error)
	List() ([]*types.ContainerState, error)
	Delete(internalID string) error
	Close() error
}

// PortStore persists NetworkPort records keyed by their uuid.
type PortStore interface {
	Put(port *types.NetworkPort) error
	Get(id string) (*types.NetworkPort, error)
	List() ([]*types.NetworkPort, error)
	Delete(id string) error
	Close() error
}

// FirewallStore persists FirewallRule and per-container DDoSProtection
// records.
type FirewallStore interface {
	PutRule(rule *types.FirewallRule) error
	GetRule(id string) (*types.FirewallRule, error)
	ListRules() ([]*types.FirewallRule, error)
	DeleteRule(id string) error

	PutDDoS(containerID string, ddos *types.DDoSProtection) error
	GetDDoS(containerID string) (*types.DDoSProtection, error)
	DeleteDDoS(containerID string) error

	Close() error
}

// TokenStore persists TokenRecord records keyed by the token string.
type TokenStore interface {
	Put(tok *types.TokenRecord) error
	Get(token string) (*types.TokenRecord, error)
	List() ([]*types.TokenRecord, error)
	Delete(token string) error
	Close() error
}
