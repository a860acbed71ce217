// Package eventhub is the Event Hub (H): one broadcast channel per
// container that console output, stats, and lifecycle events flow through
// on the way to WebSocket subscribers. Grounded on the original
// implementation's ContainerEventChannel/EventHub (a DashMap of per-
// container broadcast channels); translated to Go's broadcast-by-fan-out
// idiom since there is no stdlib equivalent of tokio::sync::broadcast.
package eventhub

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lightdaemon/lightd/pkg/log"
	"github.com/lightdaemon/lightd/pkg/metrics"
	"github.com/lightdaemon/lightd/pkg/types"
)

// broadcastCapacity is the outbound event channel's buffer depth: a
// lagging subscriber is detached rather than allowed to block producers.
const broadcastCapacity = 1024

// logRingCapacity is the per-container console ring buffer size.
const logRingCapacity = 1000

// EventKind names one outbound event's wire "event" field.
type EventKind string

const (
	EventStats              EventKind = "stats"
	EventConsoleOutput      EventKind = "console output"
	EventConsoleDuplicate   EventKind = "console duplicate"
	EventLifecycle          EventKind = "event"
	EventDaemonMessage      EventKind = "daemon_message"
	EventLogs               EventKind = "logs"
)

// OutboundEvent is one message pushed toward WebSocket subscribers.
type OutboundEvent struct {
	Kind EventKind
	Args []string
}

// RuntimeState mirrors types.ContainerRuntimeState for channel bookkeeping.
type RuntimeState = types.ContainerRuntimeState

// subscriber is one broadcast recipient; Lagged is closed instead of the
// channel blocking when the consumer falls behind.
type subscriber struct {
	ch     chan OutboundEvent
	lagged chan struct{}
}

// Channel is the per-container event hub entry.
type Channel struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int

	commandCh chan string

	stateMu sync.RWMutex
	state   RuntimeState

	statsMu   sync.Mutex
	lastStats *types.ContainerStats

	logMu sync.Mutex
	logs  []string

	startPatternMu sync.RWMutex
	startPattern   string

	uptimeMu    sync.Mutex
	uptimeStart int64
}

func newChannel() *Channel {
	return &Channel{
		subscribers: make(map[int]*subscriber),
		commandCh:   make(chan string, 4096),
		state:       types.RuntimeOffline,
	}
}

// Subscribe registers a new broadcast recipient. Call Unsubscribe when
// done to avoid leaking the entry.
func (c *Channel) Subscribe() (id int, events <-chan OutboundEvent, lagged <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id = c.nextSubID
	c.nextSubID++
	sub := &subscriber{ch: make(chan OutboundEvent, broadcastCapacity), lagged: make(chan struct{})}
	c.subscribers[id] = sub
	return id, sub.ch, sub.lagged
}

// Unsubscribe removes a broadcast recipient.
func (c *Channel) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
}

// SendCommand enqueues one line of stdin for the Console Streamer's single
// consumer.
func (c *Channel) SendCommand(command string) {
	select {
	case c.commandCh <- command:
	default:
		log.Warn().Msg("command ingress full, dropping command")
	}
}

// Commands exposes the single-consumer command ingress queue.
func (c *Channel) Commands() <-chan string {
	return c.commandCh
}

// State returns the current runtime state.
func (c *Channel) State() RuntimeState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// SetState transitions the runtime state, stamping uptime_start when
// entering Starting.
func (c *Channel) SetState(s RuntimeState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()

	if s == types.RuntimeStarting {
		c.uptimeMu.Lock()
		c.uptimeStart = time.Now().Unix()
		c.uptimeMu.Unlock()
	}
}

// UptimeStart returns the epoch second the container last transitioned to
// Starting, or 0 if unset.
func (c *Channel) UptimeStart() int64 {
	c.uptimeMu.Lock()
	defer c.uptimeMu.Unlock()
	return c.uptimeStart
}

// SetStartPattern sets the regex (or literal substring fallback) used to
// detect the Running transition in console output.
func (c *Channel) SetStartPattern(pattern string) {
	c.startPatternMu.Lock()
	defer c.startPatternMu.Unlock()
	c.startPattern = pattern
}

func (c *Channel) getStartPattern() string {
	c.startPatternMu.RLock()
	defer c.startPatternMu.RUnlock()
	return c.startPattern
}

// addLog appends a line to the ring buffer, evicting the oldest entry once
// full.
func (c *Channel) addLog(line string) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= logRingCapacity {
		c.logs = c.logs[1:]
	}
	c.logs = append(c.logs, line)
}

// getLogs returns the last count log lines.
func (c *Channel) getLogs(count int) []string {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if count >= len(c.logs) {
		out := make([]string, len(c.logs))
		copy(out, c.logs)
		return out
	}
	start := len(c.logs) - count
	out := make([]string, count)
	copy(out, c.logs[start:])
	return out
}

// publish fans an event out to every subscriber; a full subscriber channel
// is treated as lagged and detached rather than blocking the producer.
func (c *Channel) publish(internalID string, evt OutboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subscribers {
		select {
		case sub.ch <- evt:
		default:
			close(sub.lagged)
			delete(c.subscribers, id)
			metrics.EventBroadcastDropped.WithLabelValues(internalID).Inc()
		}
	}
}

// Hub manages every container's Channel, keyed by internal_id.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{channels: make(map[string]*Channel)}
}

// GetOrCreateChannel is idempotent: every caller for a given internal_id
// gets the same Channel back, including its single command queue. No
// caller is singled out as the owner of command ingress; any holder of the
// Channel can read from Commands().
func (h *Hub) GetOrCreateChannel(internalID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[internalID]; ok {
		return ch
	}
	ch := newChannel()
	h.channels[internalID] = ch
	return ch
}

// GetChannel returns an existing channel, or nil if none exists yet.
func (h *Hub) GetChannel(internalID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channels[internalID]
}

// RemoveChannel drops a container's channel, e.g. on container delete.
func (h *Hub) RemoveChannel(internalID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, internalID)
}

// Console broadcasts one console line, checking for the start-pattern
// transition first.
func (h *Hub) Console(internalID, line string) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}
	ch.addLog(line)

	if ch.State() == types.RuntimeStarting {
		if pattern := ch.getStartPattern(); pattern != "" && matchPattern(pattern, line) {
			ch.SetState(types.RuntimeRunning)
			ch.publish(internalID, OutboundEvent{Kind: EventLifecycle, Args: []string{"running"}})
		}
	}
	ch.publish(internalID, OutboundEvent{Kind: EventConsoleOutput, Args: []string{line}})
}

// ConsoleDuplicate broadcasts a duplicate-line counter instead of
// repeating the line itself.
func (h *Hub) ConsoleDuplicate(internalID string, count int) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}
	ch.publish(internalID, OutboundEvent{Kind: EventConsoleDuplicate, Args: []string{strconv.Itoa(count)}})
}

// Stats broadcasts a stats sample if it differs enough from the last one
// sent, per the change-detection thresholds.
func (h *Hub) Stats(internalID string, stats types.ContainerStats) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}

	ch.statsMu.Lock()
	prev := ch.lastStats
	shouldSend := prev == nil || statsChanged(*prev, stats)
	if shouldSend {
		ch.lastStats = &stats
	}
	ch.statsMu.Unlock()

	if !shouldSend {
		return
	}
	ch.publish(internalID, OutboundEvent{Kind: EventStats, Args: []string{marshalStats(stats)}})
}

// Event broadcasts a lifecycle event string, e.g. "InstallScriptComplete".
func (h *Hub) Event(internalID, event string) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}
	ch.publish(internalID, OutboundEvent{Kind: EventLifecycle, Args: []string{event}})
}

// DaemonMessage broadcasts a free-text daemon message, e.g. "Container
// stopped".
func (h *Hub) DaemonMessage(internalID, message string) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}
	ch.publish(internalID, OutboundEvent{Kind: EventDaemonMessage, Args: []string{message}})
}

// SendLogs responds to a logs request with the last count buffered lines.
func (h *Hub) SendLogs(internalID string, count int) {
	ch := h.GetChannel(internalID)
	if ch == nil {
		return
	}
	ch.publish(internalID, OutboundEvent{Kind: EventLogs, Args: ch.getLogs(count)})
}

func statsChanged(prev, next types.ContainerStats) bool {
	if prev.State != next.State {
		return true
	}
	if absFloat(prev.CPUAbsolute-next.CPUAbsolute) > 0.5 {
		return true
	}
	if absUint64Diff(prev.MemoryBytes, next.MemoryBytes) > 1_048_576 {
		return true
	}
	if absUint64Diff(prev.Network.RxBytes, next.Network.RxBytes) > 10_240 {
		return true
	}
	if absUint64Diff(prev.Network.TxBytes, next.Network.TxBytes) > 10_240 {
		return true
	}
	return false
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func absUint64Diff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// matchPattern compiles pattern as a regex; if compilation fails it falls
// back to a literal substring match.
func matchPattern(pattern, line string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(line, pattern)
	}
	return re.MatchString(line)
}

func marshalStats(stats types.ContainerStats) string {
	data, err := json.Marshal(stats)
	if err != nil {
		return ""
	}
	return string(data)
}
