// Package firewall is the Firewall (F) component: compiles per-container
// rules and DDoS profiles into iptables chains, and tears them down on
// container delete. Grounded on the original implementation's
// FirewallManager (network/firewall.rs).
package firewall

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/storage"
	"github.com/lightdaemon/lightd/pkg/types"
)

// NetworkRemover is the narrow slice of the Docker runtime this component
// needs: tearing down the per-container isolated bridge the Lifecycle
// Engine created, mirroring its own CreateContainerNetwork call.
type NetworkRemover interface {
	RemoveContainerNetwork(ctx context.Context, internalID string) error
}

// Manager compiles and persists per-container firewall rules and DDoS
// profiles.
type Manager struct {
	store  storage.FirewallStore
	docker NetworkRemover
}

// New builds a Manager over an already-opened FirewallStore.
func New(store storage.FirewallStore, docker NetworkRemover) *Manager {
	return &Manager{store: store, docker: docker}
}

// chainName is the dedicated iptables chain a container's rules live in.
func chainName(containerID string) string {
	return "LIGHTD-" + strings.ToUpper(containerID)
}

// AddRule validates a rule, applies it to the host firewall if enabled, and
// persists it.
func (m *Manager) AddRule(rule *types.FirewallRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	if rule.Enabled {
		if err := applyRule(rule, true); err != nil {
			return err
		}
	}

	if err := m.store.PutRule(rule); err != nil {
		return lightderr.Wrap(lightderr.IO, "persist firewall rule", err)
	}
	log.WithRule(rule.ID).Info().Str("container_id", rule.ContainerID).Msg("added firewall rule")
	return nil
}

// RemoveRule removes a rule from the host firewall (if it was enabled) and
// from storage.
func (m *Manager) RemoveRule(ruleID string) error {
	rule, err := m.store.GetRule(ruleID)
	if err != nil {
		return err
	}

	if rule.Enabled {
		if err := applyRule(rule, false); err != nil {
			return err
		}
	}

	if err := m.store.DeleteRule(ruleID); err != nil {
		return lightderr.Wrap(lightderr.IO, "delete firewall rule", err)
	}
	log.WithRule(ruleID).Info().Msg("removed firewall rule")
	return nil
}

// ToggleRule enables or disables a rule, applying or retracting its iptables
// entry to match.
func (m *Manager) ToggleRule(ruleID string, enabled bool) error {
	rule, err := m.store.GetRule(ruleID)
	if err != nil {
		return err
	}
	if rule.Enabled == enabled {
		return nil
	}

	if err := applyRule(rule, enabled); err != nil {
		return err
	}
	rule.Enabled = enabled

	if err := m.store.PutRule(rule); err != nil {
		return lightderr.Wrap(lightderr.IO, "persist firewall rule toggle", err)
	}
	log.WithRule(ruleID).Info().Bool("enabled", enabled).Msg("toggled firewall rule")
	return nil
}

// ListForContainer returns every rule attached to a container.
func (m *Manager) ListForContainer(containerID string) ([]*types.FirewallRule, error) {
	all, err := m.store.ListRules()
	if err != nil {
		return nil, err
	}
	out := make([]*types.FirewallRule, 0, len(all))
	for _, r := range all {
		if r.ContainerID == containerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// EnableDDoSProtection applies and persists a container's DDoS profile.
func (m *Manager) EnableDDoSProtection(containerID string, profile *types.DDoSProtection) error {
	if !profile.Enabled {
		return nil
	}
	networkName := containerNetworkName(containerID)

	if profile.SynFloodProtection {
		if err := applySynFloodProtection(networkName); err != nil {
			return err
		}
	}
	if profile.ConnectionLimit != nil {
		if err := applyConnectionLimit(networkName, *profile.ConnectionLimit); err != nil {
			return err
		}
	}
	if profile.RateLimit != nil {
		if err := applyRateLimit(networkName, profile.RateLimit); err != nil {
			return err
		}
	}

	if err := m.store.PutDDoS(containerID, profile); err != nil {
		return lightderr.Wrap(lightderr.IO, "persist ddos profile", err)
	}
	log.WithComponent("firewall").Info().Str("container_id", containerID).Msg("enabled ddos protection")
	return nil
}

// GetDDoSProtection returns a container's stored DDoS profile, if any.
func (m *Manager) GetDDoSProtection(containerID string) (*types.DDoSProtection, error) {
	return m.store.GetDDoS(containerID)
}

// CleanupContainer removes every rule, the DDoS profile, and every iptables
// chain belonging to a container. Best-effort: individual removal failures
// are logged, not returned, so a partially-torn-down container can still be
// deleted from the registry.
func (m *Manager) CleanupContainer(containerID string) error {
	rules, err := m.ListForContainer(containerID)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := m.RemoveRule(rule.ID); err != nil {
			log.WithRule(rule.ID).Warn().Err(err).Msg("failed to remove rule during cleanup")
		}
	}

	if err := m.store.DeleteDDoS(containerID); err != nil && !lightderr.Is(err, lightderr.NotFound) {
		log.WithComponent("firewall").Warn().Err(err).Str("container_id", containerID).Msg("failed to remove ddos profile during cleanup")
	}

	networkName := containerNetworkName(containerID)
	for _, chain := range []string{
		chainName(containerID),
		"LIGHTD-SYN-" + networkName,
		"LIGHTD-CONN-" + networkName,
		"LIGHTD-RATE-" + networkName,
	} {
		_ = runIPTables([]string{"-F", chain})
		_ = runIPTables([]string{"-X", chain})
	}

	if m.docker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.docker.RemoveContainerNetwork(ctx, containerID); err != nil {
			log.WithComponent("firewall").Warn().Err(err).Str("container_id", containerID).Msg("failed to remove container network during cleanup")
		}
		cancel()
	}

	log.WithComponent("firewall").Info().Str("container_id", containerID).Msg("cleaned up firewall state for container")
	return nil
}

func containerNetworkName(containerID string) string {
	return "lightd-net-" + containerID
}

func validateRule(rule *types.FirewallRule) error {
	if rule.ContainerID == "" {
		return lightderr.New(lightderr.Validation, "container id cannot be empty")
	}
	if rule.RateLimit != nil && (rule.RateLimit.Requests == 0 || rule.RateLimit.PerSecond == 0) {
		return lightderr.New(lightderr.Validation, "invalid rate limit values")
	}
	return nil
}

// applyRule adds (add=true) or removes (add=false) one rule's iptables
// entry, creating the container's dedicated chain first if needed.
func applyRule(rule *types.FirewallRule, add bool) error {
	chain := chainName(rule.ContainerID)
	actionFlag := "-D"
	if add {
		actionFlag = "-A"
		_ = runIPTables([]string{"-N", chain})
	}

	args := []string{actionFlag, chain}
	if rule.Protocol != types.ProtocolAll {
		args = append(args, "-p", string(rule.Protocol))
	}
	if rule.SourceIP != "" {
		args = append(args, "-s", rule.SourceIP)
	}
	if rule.SourcePort != 0 {
		args = append(args, "--sport", fmt.Sprintf("%d", rule.SourcePort))
	}
	if rule.DestPort != 0 {
		args = append(args, "--dport", fmt.Sprintf("%d", rule.DestPort))
	}
	if rule.RateLimit != nil {
		args = append(args, "-m", "limit", "--limit", fmt.Sprintf("%d/%d", rule.RateLimit.Requests, rule.RateLimit.PerSecond))
	}
	args = append(args, "-j", strings.ToUpper(string(rule.Action)))

	if err := runIPTables(args); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply firewall rule", err)
	}
	return nil
}

func applySynFloodProtection(networkName string) error {
	chain := "LIGHTD-SYN-" + networkName
	_ = runIPTables([]string{"-N", chain})

	if err := runIPTables([]string{"-A", chain, "-p", "tcp", "--syn", "-m", "limit", "--limit", "10/s", "--limit-burst", "20", "-j", "ACCEPT"}); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply syn flood protection", err)
	}
	if err := runIPTables([]string{"-A", chain, "-p", "tcp", "--syn", "-j", "DROP"}); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply syn flood drop rule", err)
	}
	return nil
}

func applyConnectionLimit(networkName string, limit uint32) error {
	chain := "LIGHTD-CONN-" + networkName
	_ = runIPTables([]string{"-N", chain})

	args := []string{"-A", chain, "-p", "tcp", "-m", "connlimit", "--connlimit-above", fmt.Sprintf("%d", limit), "-j", "REJECT", "--reject-with", "tcp-reset"}
	if err := runIPTables(args); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply connection limit", err)
	}
	return nil
}

func applyRateLimit(networkName string, rate *types.RateLimit) error {
	chain := "LIGHTD-RATE-" + networkName
	_ = runIPTables([]string{"-N", chain})

	limitArg := fmt.Sprintf("%d/%d", rate.Requests, rate.PerSecond)
	if err := runIPTables([]string{"-A", chain, "-m", "limit", "--limit", limitArg, "-j", "ACCEPT"}); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply rate limit", err)
	}
	if err := runIPTables([]string{"-A", chain, "-j", "DROP"}); err != nil {
		return lightderr.Wrap(lightderr.IO, "apply rate limit drop rule", err)
	}
	return nil
}

func hasIPTables() bool {
	_, err := exec.LookPath("iptables")
	return err == nil
}

func runIPTables(args []string) error {
	if !hasIPTables() {
		return lightderr.New(lightderr.RuntimeUnavailable, "iptables not available on host")
	}
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
