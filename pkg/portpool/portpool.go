// Package portpool manages the pool of host ip:port:proto triples
// available for container port bindings. Allocation picks a random free
// entry and flips it to in-use under a compare-and-set guarded by a
// process-wide write lock, the same discipline the container registry uses
// for its own store. Best-effort iptables calls open/close the host
// firewall on add/delete, grounded on the teacher's HostPortPublisher.
package portpool

import (
	"fmt"
	"math/rand"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/metrics"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
)

const maxBulkSize = 50

// Pool allocates and tracks host ports.
type Pool struct {
	mu    sync.Mutex
	store storage.PortStore
}

// New builds a Pool over an already-opened PortStore.
func New(store storage.PortStore) *Pool {
	return &Pool{store: store}
}

// Add registers one new port in the pool and best-effort opens it in the
// host firewall.
func (p *Pool) Add(ip string, port uint16, protocol string) (*types.NetworkPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &types.NetworkPort{
		ID:        uuid.NewString(),
		IP:        ip,
		Port:      port,
		Protocol:  protocol,
		InUse:     false,
		CreatedAt: time.Now().Unix(),
	}
	if err := p.store.Put(rec); err != nil {
		return nil, lightderr.Wrap(lightderr.IO, "add port", err)
	}
	openIPTablesPort(rec)
	p.refreshMetrics()
	return rec, nil
}

// BulkAdd registers up to maxBulkSize ports in one call.
func (p *Pool) BulkAdd(recs []*types.NetworkPort) error {
	if len(recs) > maxBulkSize {
		return lightderr.New(lightderr.Validation, fmt.Sprintf("bulk_add accepts at most %d ports", maxBulkSize))
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = time.Now().Unix()
		if err := p.store.Put(rec); err != nil {
			return lightderr.Wrap(lightderr.IO, "bulk_add port", err)
		}
		openIPTablesPort(rec)
	}
	p.refreshMetrics()
	return nil
}

// Get returns one port record by id.
func (p *Pool) Get(id string) (*types.NetworkPort, error) {
	return p.store.Get(id)
}

// List returns every port in the pool.
func (p *Pool) List() ([]*types.NetworkPort, error) {
	return p.store.List()
}

// ListAvailable returns every port currently not in use.
func (p *Pool) ListAvailable() ([]*types.NetworkPort, error) {
	all, err := p.store.List()
	if err != nil {
		return nil, err
	}
	var out []*types.NetworkPort
	for _, rec := range all {
		if !rec.InUse {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetRandomAvailable picks a uniformly random free port. The caller must
// follow with MarkInUse(id, true) to claim it; that second step is where
// the compare-and-set lives.
func (p *Pool) GetRandomAvailable() (*types.NetworkPort, error) {
	available, err := p.ListAvailable()
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		metrics.PortPoolExhaustedTotal.Inc()
		return nil, lightderr.New(lightderr.Exhausted, "no available ports in pool")
	}
	return available[rand.Intn(len(available))], nil
}

// maxAllocateAttempts bounds the get_random_available/mark_in_use retry
// loop in Allocate: a handful of concurrent allocators racing for the same
// port resolve in a few iterations, and further retries just mean the pool
// really is exhausted.
const maxAllocateAttempts = 5

// Allocate picks a random available port restricted to protocol and
// atomically claims it, retrying if a concurrent allocator wins the race
// for the same record. This is the get_random_available + mark_in_use
// compare-and-set pair from the pool's allocation discipline, done as one
// call for callers (container create) that don't need the two steps split.
func (p *Pool) Allocate(protocol string) (*types.NetworkPort, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		available, err := p.ListAvailable()
		if err != nil {
			return nil, err
		}
		var candidates []*types.NetworkPort
		for _, rec := range available {
			if rec.Protocol == protocol {
				candidates = append(candidates, rec)
			}
		}
		if len(candidates) == 0 {
			metrics.PortPoolExhaustedTotal.Inc()
			return nil, lightderr.New(lightderr.Exhausted, "no available ports in pool")
		}

		chosen := candidates[rand.Intn(len(candidates))]
		if err := p.MarkInUse(chosen.ID, true); err != nil {
			if lightderr.Is(err, lightderr.Conflict) {
				continue
			}
			return nil, err
		}
		return chosen, nil
	}
	return nil, lightderr.New(lightderr.Exhausted, "no available ports in pool")
}

// ReturnByHostPort releases the pool record matching hostPort/protocol,
// used on container delete where only the PortBinding (host port +
// protocol, no pool record id) is known. A no-op if no matching in-use
// record exists, since not every PortBinding necessarily came from this
// pool.
func (p *Pool) ReturnByHostPort(hostPort uint16, protocol string) error {
	all, err := p.store.List()
	if err != nil {
		return err
	}
	for _, rec := range all {
		if rec.Port == hostPort && rec.Protocol == protocol && rec.InUse {
			return p.ReturnToPool(rec.ID)
		}
	}
	return nil
}

// MarkInUse flips a port's in_use flag under the pool lock, re-reading the
// record first so a concurrent allocator racing for the same port sees its
// own flip fail if it lost the race.
func (p *Pool) MarkInUse(id string, inUse bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.store.Get(id)
	if err != nil {
		return err
	}
	if inUse && rec.InUse {
		return lightderr.New(lightderr.Conflict, fmt.Sprintf("port %s already in use", id))
	}
	rec.InUse = inUse
	if err := p.store.Put(rec); err != nil {
		return lightderr.Wrap(lightderr.IO, "mark port in use", err)
	}
	p.refreshMetrics()
	return nil
}

// ReturnToPool is an alias for MarkInUse(id, false), named to match the
// caller-facing release operation.
func (p *Pool) ReturnToPool(id string) error {
	return p.MarkInUse(id, false)
}

// Delete removes a port from the pool and best-effort closes it in the
// host firewall.
func (p *Pool) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.store.Get(id)
	if err != nil {
		return err
	}
	if err := p.store.Delete(id); err != nil {
		return lightderr.Wrap(lightderr.IO, "delete port", err)
	}
	closeIPTablesPort(rec)
	p.refreshMetrics()
	return nil
}

// BulkDelete removes several ports in one call.
func (p *Pool) BulkDelete(ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		rec, err := p.store.Get(id)
		if err != nil {
			continue
		}
		if err := p.store.Delete(id); err != nil {
			return lightderr.Wrap(lightderr.IO, "bulk_delete port", err)
		}
		closeIPTablesPort(rec)
	}
	p.refreshMetrics()
	return nil
}

func (p *Pool) refreshMetrics() {
	all, err := p.store.List()
	if err != nil {
		return
	}
	var inUse int
	for _, rec := range all {
		if rec.InUse {
			inUse++
		}
	}
	metrics.PortPoolAvailable.Set(float64(len(all) - inUse))
	metrics.PortPoolInUse.Set(float64(inUse))
}

// openIPTablesPort best-effort opens the host firewall for a port. Failure
// is logged, never returned: the pool record is authoritative regardless of
// whether the host has iptables installed.
func openIPTablesPort(rec *types.NetworkPort) {
	if !hasIPTables() {
		return
	}
	args := []string{"-A", "INPUT", "-p", rec.Protocol, "--dport", fmt.Sprintf("%d", rec.Port), "-j", "ACCEPT"}
	if err := runIPTables(args); err != nil {
		log.WithPort(rec.ID).Warn().Err(err).Msg("failed to open port in host firewall")
	}
}

// closeIPTablesPort undoes openIPTablesPort.
func closeIPTablesPort(rec *types.NetworkPort) {
	if !hasIPTables() {
		return
	}
	args := []string{"-D", "INPUT", "-p", rec.Protocol, "--dport", fmt.Sprintf("%d", rec.Port), "-j", "ACCEPT"}
	if err := runIPTables(args); err != nil {
		log.WithPort(rec.ID).Warn().Err(err).Msg("failed to close port in host firewall")
	}
}

func hasIPTables() bool {
	_, err := exec.LookPath("iptables")
	return err == nil
}

func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
