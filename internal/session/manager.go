// Package session owns the persistent connection to one selected
// Volumio device: connection lifecycle, reconnection observation,
// outbound command emission, and routing of inbound push events into
// decoded state.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"voluctl/internal/domain"
	"voluctl/internal/fusiondsp"
	"voluctl/internal/protocol"
	"voluctl/internal/socketio"
)

// Transport is the persistent event connection a Manager drives. The
// built-in implementation is the socketio client; tests substitute
// fakes.
type Transport interface {
	On(event string, h socketio.Handler)
	OnConnect(fn func())
	OnDisconnect(fn func())
	OnReconnecting(fn func(attempt int))
	OnError(fn func(err error))
	RemoveAllHandlers()
	Connect()
	Emit(event string, args ...any)
	Close() error
}

// TransportFactory builds a Transport for a device base URL.
type TransportFactory func(baseURL string) (Transport, error)

// Option tunes a Manager at construction.
type Option func(*Manager)

// WithTransportFactory replaces the default socketio transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(m *Manager) { m.newTransport = factory }
}

// WithClock replaces the decode-time clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager maintains at most one live transport. Connect always fully
// tears down the previous transport before opening the next one.
type Manager struct {
	logger       *slog.Logger
	newTransport TransportFactory
	now          func() time.Time

	mu            sync.Mutex
	transport     Transport
	device        domain.Device
	hasDevice     bool
	state         domain.SessionState
	reconnecting  bool
	statusMessage string
	url           string
	playerState   *domain.PlayerState
	queue         []domain.QueueItem
	dsp           *fusiondsp.Service

	onState  func(domain.PlayerState)
	onQueue  func(items []domain.QueueItem)
	onStatus func(domain.SessionStatus)
}

func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{
		logger: logger,
		newTransport: func(baseURL string) (Transport, error) {
			return socketio.New(baseURL, socketio.Options{Logger: logger})
		},
		now:           time.Now,
		state:         domain.SessionDisconnected,
		statusMessage: "Disconnected",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachDSP wires the FusionDSP service the manager routes plugin
// pushes into. The manager reconfigures it on every Connect.
func (m *Manager) AttachDSP(svc *fusiondsp.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dsp = svc
}

// OnStateChange registers the decoded player-state listener.
func (m *Manager) OnStateChange(fn func(domain.PlayerState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// OnQueueChange registers the decoded queue listener.
func (m *Manager) OnQueueChange(fn func(items []domain.QueueItem)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onQueue = fn
}

// OnStatusChange registers the session status listener.
func (m *Manager) OnStatusChange(fn func(domain.SessionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// Status returns the current session status.
func (m *Manager) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() domain.SessionStatus {
	return domain.SessionStatus{
		State:        m.state,
		Reconnecting: m.reconnecting,
		Message:      m.statusMessage,
		URL:          m.url,
	}
}

// PlayerState returns the last decoded state, if any push arrived yet.
func (m *Manager) PlayerState() (domain.PlayerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playerState == nil {
		return domain.PlayerState{}, false
	}
	return *m.playerState, true
}

// Queue returns the last decoded play queue.
func (m *Manager) Queue() []domain.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.QueueItem(nil), m.queue...)
}

// Device returns the currently targeted device.
func (m *Manager) Device() (domain.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device, m.hasDevice
}

// Connect opens a session to the device, tearing down any existing one
// first. The transport handles its own reconnection with bounded
// backoff; the manager only observes and republishes its transitions.
func (m *Manager) Connect(device domain.Device) error {
	m.Disconnect()

	url := device.BaseURL()
	transport, err := m.newTransport(url)
	if err != nil {
		m.mu.Lock()
		m.state = domain.SessionDisconnected
		m.statusMessage = fmt.Sprintf("Invalid URL for %s:%d", device.Host, device.Port)
		m.url = url
		status, fn := m.statusLocked(), m.onStatus
		m.mu.Unlock()
		notifyStatus(fn, status)
		return fmt.Errorf("connect %s: %w", url, err)
	}

	m.mu.Lock()
	m.transport = transport
	m.device = device
	m.hasDevice = true
	m.state = domain.SessionConnecting
	m.reconnecting = false
	m.url = url
	m.statusMessage = fmt.Sprintf("Connecting to %s...", url)
	m.playerState = nil
	m.queue = nil
	dsp := m.dsp
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	if dsp != nil {
		dsp.Configure(m)
	}

	transport.OnConnect(m.handleOpen)
	transport.OnDisconnect(m.handleClose)
	transport.OnReconnecting(m.handleReconnecting)
	transport.OnError(m.handleError)
	transport.On("pushState", m.handlePushState)
	transport.On("pushQueue", m.handlePushQueue)
	transport.On("pushInstalledPlugins", m.handlePushInstalledPlugins)
	transport.On("pushUiConfig", m.handlePushUIConfig)

	m.logger.Info("session_connecting",
		slog.String("device", device.Name),
		slog.String("url", url),
	)
	notifyStatus(fn, status)
	transport.Connect()
	return nil
}

// Disconnect is the universal teardown: it removes all event handlers
// before closing the transport and is safe from any state, repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	transport := m.transport
	m.transport = nil
	changed := m.state != domain.SessionDisconnected || m.reconnecting
	m.state = domain.SessionDisconnected
	m.reconnecting = false
	m.statusMessage = "Disconnected"
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	if transport != nil {
		transport.RemoveAllHandlers()
		_ = transport.Close()
	}
	if changed {
		m.logger.Info("session_disconnected")
		notifyStatus(fn, status)
	}
}

func (m *Manager) handleOpen() {
	m.mu.Lock()
	m.state = domain.SessionConnected
	m.reconnecting = false
	m.statusMessage = "Connected"
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	m.logger.Info("session_connected", slog.String("url", status.URL))
	notifyStatus(fn, status)

	// Bootstrap: full player state and the installed plugin listing.
	m.Emit("getState")
	m.Emit("getInstalledPlugins")
}

func (m *Manager) handleClose() {
	m.mu.Lock()
	m.state = domain.SessionDisconnected
	m.statusMessage = "Disconnected"
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	m.logger.Info("session_closed")
	notifyStatus(fn, status)
}

func (m *Manager) handleReconnecting(attempt int) {
	m.mu.Lock()
	m.reconnecting = true
	m.statusMessage = "Reconnecting..."
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	m.logger.Debug("session_reconnecting", slog.Int("attempt", attempt))
	notifyStatus(fn, status)
}

// handleError only surfaces a status message. Errors are not fatal:
// the transport's own backoff governs recovery.
func (m *Manager) handleError(err error) {
	m.mu.Lock()
	m.statusMessage = fmt.Sprintf("Error: %v", err)
	status, fn := m.statusLocked(), m.onStatus
	m.mu.Unlock()

	m.logger.Warn("session_error", slog.String("error", err.Error()))
	notifyStatus(fn, status)
}

func (m *Manager) handlePushState(args []json.RawMessage) {
	payload, ok := firstObject(args)
	if !ok {
		return
	}
	state := protocol.DecodePlayerState(payload, m.now())

	m.mu.Lock()
	m.playerState = &state
	fn := m.onState
	m.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

func (m *Manager) handlePushQueue(args []json.RawMessage) {
	items, ok := firstArray(args)
	if !ok {
		return
	}
	queue := protocol.DecodeQueue(items)

	m.mu.Lock()
	m.queue = queue
	fn := m.onQueue
	m.mu.Unlock()

	if fn != nil {
		fn(append([]domain.QueueItem(nil), queue...))
	}
}

func (m *Manager) handlePushInstalledPlugins(args []json.RawMessage) {
	items, ok := firstArray(args)
	if !ok {
		return
	}
	m.mu.Lock()
	dsp := m.dsp
	m.mu.Unlock()
	if dsp != nil {
		dsp.HandleInstalledPlugins(items)
	}
}

func (m *Manager) handlePushUIConfig(args []json.RawMessage) {
	payload, ok := firstObject(args)
	if !ok {
		return
	}
	m.mu.Lock()
	dsp := m.dsp
	m.mu.Unlock()
	if dsp != nil {
		dsp.HandleUIConfig(payload)
	}
}

func firstObject(args []json.RawMessage) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(args[0], &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func firstArray(args []json.RawMessage) ([]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(args[0], &items); err != nil {
		return nil, false
	}
	return items, true
}

func notifyStatus(fn func(domain.SessionStatus), status domain.SessionStatus) {
	if fn != nil {
		fn(status)
	}
}
