/*
Package storage provides BoltDB-backed state persistence for lightd.

Unlike a single combined database, each entity family gets its own bbolt
file under the storage base path so that a container registry dump, a port
pool rebuild, or a firewall restore can be reasoned about independently:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  containers.db   bucket "containers"  (InternalID keys)   │
	│  network.db      bucket "ports"       (NetworkPort.ID)    │
	│  firewall.db     bucket "rules"       (FirewallRule.ID)   │
	│                  bucket "ddos"        (container ID)     │
	│  tokens.db       bucket "tokens"      (token string)     │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Transaction Model

Read transactions use db.View() for concurrent, consistent snapshots; write
transactions use db.Update() for serialized, atomic commits. Every value is
JSON-marshalled before Put and unmarshalled after Get, the same idiom
regardless of which store is in use.

# Usage

	containers, err := storage.NewBoltContainerStore("/var/lib/lightd")
	if err != nil {
		log.Fatal(err)
	}
	defer containers.Close()

	err = containers.Put(&types.ContainerState{InternalID: "c-1", Image: "nginx:latest"})
	state, err := containers.Get("c-1")
	all, err := containers.List()
	err = containers.Delete("c-1")

# Design Patterns

Upsert: Put always overwrites, so there's no separate create-vs-update
distinction; callers manage CreatedAt/UpdatedAt themselves.

Idempotent deletes: Delete returns no error if the key is already absent.

Preload at boot: each store opens its database and creates its buckets
synchronously inside its constructor — daemon boot is already a single
blocking sequence (see the open question decision in DESIGN.md), so there is
no contention to avoid by deferring it.

# See Also

  - pkg/registry for the container registry built on ContainerStore
  - pkg/portpool for the port pool built on PortStore
  - pkg/firewall for the rule engine built on FirewallStore
  - pkg/auth for the token manager built on TokenStore
*/
package storage
