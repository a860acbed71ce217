// Package types defines the data model shared across the daemon: container
// state, the port pool, firewall rules, WebSocket tokens and billing usage
// samples.
package types

import "time"

// InstallState is the lifecycle state of a container's install record.
type InstallState string

const (
	InstallStateInstalling InstallState = "installing"
	InstallStateReady      InstallState = "ready"
	InstallStateFailed     InstallState = "failed"
)

// StuckInstallingThreshold is how long a container may sit in Installing
// before Registry.Validate considers it corrupt.
const StuckInstallingThreshold = 600 * time.Second

// PortBinding is one container-port/host-port/protocol triple attached to a
// container.
type PortBinding struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"` // "tcp" or "udp"
}

// ResourceLimits are the soft/hard limits applied to a container.
type ResourceLimits struct {
	MemoryBytes *int64   `json:"memory_bytes,omitempty"`
	CPUCores    *float64 `json:"cpu_cores,omitempty"`
	DiskBytes   *int64   `json:"disk_bytes,omitempty"`
}

// ContainerState is the durable record for one container, keyed by
// InternalID in the container KV bucket.
type ContainerState struct {
	InternalID     string            `json:"internal_id"`
	VolumeID       string            `json:"volume_id"`
	Mount          map[string]string `json:"mount"`
	Limits         ResourceLimits    `json:"limits"`
	RuntimeID      string            `json:"runtime_id,omitempty"`
	Ports          []PortBinding     `json:"ports"`
	InstallState   InstallState      `json:"install_state"`
	IsInstalling   bool              `json:"is_installing"`
	StartupCommand string            `json:"startup_command"`
	StartPattern   string            `json:"start_pattern,omitempty"`
	Image          string            `json:"image"`
	CreatedAt      int64             `json:"created_at"`
	UpdatedAt      int64             `json:"updated_at"`
}

// Touch refreshes UpdatedAt to the current time.
func (c *ContainerState) Touch() {
	c.UpdatedAt = time.Now().Unix()
}

// NetworkPort is one entry in the host port pool, keyed by a uuid.
type NetworkPort struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	Port      uint16 `json:"port"`
	Protocol  string `json:"protocol"` // "tcp" or "udp"
	InUse     bool   `json:"in_use"`
	CreatedAt int64  `json:"created_at"`
}

// FirewallAction is the terminal jump target of a compiled firewall rule.
type FirewallAction string

const (
	FirewallAccept FirewallAction = "accept"
	FirewallDrop   FirewallAction = "drop"
	FirewallReject FirewallAction = "reject"
)

// FirewallProtocol constrains which protocols a rule may match.
type FirewallProtocol string

const (
	ProtocolTCP  FirewallProtocol = "tcp"
	ProtocolUDP  FirewallProtocol = "udp"
	ProtocolICMP FirewallProtocol = "icmp"
	ProtocolAll  FirewallProtocol = "all"
)

// RateLimit bounds a firewall rule to Requests per PerSecond seconds.
type RateLimit struct {
	Requests  uint32 `json:"requests"`
	PerSecond uint32 `json:"per_seconds"`
}

// FirewallRule is one persisted per-container packet filter rule.
type FirewallRule struct {
	ID          string           `json:"id"`
	ContainerID string           `json:"container_id"`
	SourceIP    string           `json:"source_ip,omitempty"`
	SourcePort  uint16           `json:"source_port,omitempty"`
	DestPort    uint16           `json:"dest_port,omitempty"`
	Protocol    FirewallProtocol `json:"protocol"`
	Action      FirewallAction   `json:"action"`
	RateLimit   *RateLimit       `json:"rate_limit,omitempty"`
	Description string           `json:"description,omitempty"`
	Enabled     bool             `json:"enabled"`
}

// DDoSProtection is the per-container DDoS profile applied on top of the
// rule set: SYN-flood guard, concurrent-connection cap, and a global rate
// limit for the container's bridge network.
type DDoSProtection struct {
	Enabled            bool       `json:"enabled"`
	SynFloodProtection bool       `json:"syn_flood_protection"`
	ConnectionLimit    *uint32    `json:"connection_limit,omitempty"`
	RateLimit          *RateLimit `json:"rate_limit,omitempty"`
}

// TokenRecord is a one-shot or TTL-bound WebSocket auth token, keyed by the
// token string itself.
type TokenRecord struct {
	Token       string `json:"token"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	RemoveOnUse bool   `json:"remove_on_use"`
	Used        bool   `json:"used"`
}

// UsageSample is one point-in-time resource reading attributed to a
// container for billing purposes. Held in memory only, trimmed to a 24h
// rolling window.
type UsageSample struct {
	ContainerID        string  `json:"container_id"`
	MemoryBytes        uint64  `json:"memory_bytes"`
	CPUUsageSeconds    float64 `json:"cpu_usage_seconds"`
	NetworkEgressBytes uint64  `json:"network_egress_bytes"`
	StorageBytes       uint64  `json:"storage_bytes"`
	Timestamp          int64   `json:"timestamp"`
}

// UsageSnapshot is the averaged view of a usage window over a given
// duration, ready for cost calculation.
type UsageSnapshot struct {
	MemoryGB      float64 `json:"memory_gb"`
	CPUVCPUs      float64 `json:"cpu_vcpus"`
	StorageGB     float64 `json:"storage_gb"`
	EgressGB      float64 `json:"egress_gb"`
	DurationHours float64 `json:"duration_hours"`
}

// BillingRates are the per-resource unit prices used by the cost calculator.
type BillingRates struct {
	MemoryPerGBHour  float64 `json:"memory_per_gb_hour"`
	CPUPerVCPUHour   float64 `json:"cpu_per_vcpu_hour"`
	StoragePerGBHour float64 `json:"storage_per_gb_hour"`
	EgressPerGB      float64 `json:"egress_per_gb"`
}

// DefaultBillingRates mirrors the original implementation's defaults.
func DefaultBillingRates() BillingRates {
	return BillingRates{
		MemoryPerGBHour:  0.01,
		CPUPerVCPUHour:   0.02,
		StoragePerGBHour: 0.0001,
		EgressPerGB:      0.05,
	}
}

// ContainerRuntimeState tracks the observed running state of a container's
// runtime instance, independent from InstallState.
type ContainerRuntimeState string

const (
	RuntimeOffline  ContainerRuntimeState = "offline"
	RuntimeStarting ContainerRuntimeState = "starting"
	RuntimeRunning  ContainerRuntimeState = "running"
	RuntimeStopping ContainerRuntimeState = "stopping"
)

// ContainerStats is the stats frame pushed to WebSocket subscribers.
type ContainerStats struct {
	MemoryBytes      uint64       `json:"memory_bytes"`
	MemoryLimitBytes uint64       `json:"memory_limit_bytes"`
	CPUAbsolute      float64      `json:"cpu_absolute"`
	Network          NetworkStats `json:"network"`
	Uptime           uint64       `json:"uptime"`
	State            string       `json:"state"`
	DiskBytes        uint64       `json:"disk_bytes"`
}

// NetworkStats are the rx/tx totals reported as part of ContainerStats.
type NetworkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}
