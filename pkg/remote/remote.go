// Package remote is the Remote Client (R): a health-check loop and
// fire-and-forget webhook sender toward a supervisory management service.
// Grounded on the original implementation's RemoteClient/RemoteSyncManager
// (remote/client.rs).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lightdaemon/lightd/pkg/log"
)

const (
	healthCheckInterval = 30 * time.Second
	requestTimeout      = 10 * time.Second
)

// Config configures a Client's target and credentials.
type Config struct {
	URL   string
	Token string
}

// Client posts status/error/billing events to a supervisory service and
// polls its health endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New builds a remote Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// healthResponse is the body of a GET /health reply.
type healthResponse struct {
	Status   int    `json:"status"`
	Endpoint string `json:"endpoint"`
}

// CheckHealth reports whether the remote is reachable, returning 200, and
// reports itself as "active".
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return health.Status == 200 && health.Endpoint == "active", nil
}

// updateEvent is the tagged union posted to /update: either a status/error
// update for a container, or a billing snapshot.
type updateEvent struct {
	Event         string  `json:"event"`
	Server        string  `json:"server"`
	Status        string  `json:"status,omitempty"`
	Error         string  `json:"error,omitempty"`
	Data          string  `json:"data,omitempty"`
	MemoryGB      float64 `json:"memory_gb,omitempty"`
	CPUVCPUs      float64 `json:"cpu_vcpus,omitempty"`
	StorageGB     float64 `json:"storage_gb,omitempty"`
	EgressGB      float64 `json:"egress_gb,omitempty"`
	DurationHours float64 `json:"duration_hours,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
	Timestamp     int64   `json:"timestamp,omitempty"`
}

// SendStatusUpdate posts a container's status to the remote.
func (c *Client) SendStatusUpdate(ctx context.Context, internalID, status string) error {
	return c.sendEvent(ctx, updateEvent{Event: "update", Server: internalID, Status: status})
}

// SendErrorUpdate posts a container's failure to the remote.
func (c *Client) SendErrorUpdate(ctx context.Context, internalID, errMsg, data string) error {
	return c.sendEvent(ctx, updateEvent{Event: "update", Server: internalID, Error: errMsg, Data: data})
}

// BillingSnapshot is one container's cost-bearing usage window, ready to be
// reported to the remote.
type BillingSnapshot struct {
	MemoryGB      float64
	CPUVCPUs      float64
	StorageGB     float64
	EgressGB      float64
	DurationHours float64
	EstimatedCost float64
	Timestamp     int64
}

// SendBillingUpdate posts a container's cost snapshot to the remote.
func (c *Client) SendBillingUpdate(ctx context.Context, internalID string, snap BillingSnapshot) error {
	return c.sendEvent(ctx, updateEvent{
		Event:         "billing",
		Server:        internalID,
		MemoryGB:      snap.MemoryGB,
		CPUVCPUs:      snap.CPUVCPUs,
		StorageGB:     snap.StorageGB,
		EgressGB:      snap.EgressGB,
		DurationHours: snap.DurationHours,
		EstimatedCost: snap.EstimatedCost,
		Timestamp:     snap.Timestamp,
	})
}

func (c *Client) sendEvent(ctx context.Context, event updateEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/update", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	return nil
}

// SyncManager runs the background health-check loop and exposes
// fire-and-forget notification helpers for callers that must not block on
// network I/O (lifecycle/power/billing callbacks).
type SyncManager struct {
	client *Client
}

// NewSyncManager wraps a Client with non-blocking notification helpers.
func NewSyncManager(client *Client) *SyncManager {
	return &SyncManager{client: client}
}

// StartHealthCheck spawns the 30s health-check loop. It runs until ctx is
// cancelled.
func (m *SyncManager) StartHealthCheck(ctx context.Context) {
	logger := log.WithComponent("remote")
	ticker := time.NewTicker(healthCheckInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, requestTimeout)
				healthy, err := m.client.CheckHealth(checkCtx)
				cancel()
				switch {
				case err != nil:
					logger.Error().Err(err).Msg("remote health check errored")
				case !healthy:
					logger.Warn().Msg("remote health check failed")
				default:
					logger.Debug().Msg("remote health check ok")
				}
			}
		}
	}()
}

// NotifyStatus sends a status update without blocking the caller.
func (m *SyncManager) NotifyStatus(internalID, status string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := m.client.SendStatusUpdate(ctx, internalID, status); err != nil {
			log.WithComponent("remote").Error().Err(err).Str("internal_id", internalID).Msg("failed to send status update")
		}
	}()
}

// NotifyError sends an error update without blocking the caller.
func (m *SyncManager) NotifyError(internalID, errMsg, data string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := m.client.SendErrorUpdate(ctx, internalID, errMsg, data); err != nil {
			log.WithComponent("remote").Error().Err(err).Str("internal_id", internalID).Msg("failed to send error update")
		}
	}()
}

// NotifyBilling sends a billing snapshot without blocking the caller.
func (m *SyncManager) NotifyBilling(internalID string, snap BillingSnapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := m.client.SendBillingUpdate(ctx, internalID, snap); err != nil {
			log.WithComponent("remote").Error().Err(err).Str("internal_id", internalID).Msg("failed to send billing update")
		}
	}()
}

// Client returns the underlying Client for direct access.
func (m *SyncManager) Client() *Client {
	return m.client
}
