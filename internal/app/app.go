// Package app composes the discovery engine, the session manager, and
// the FusionDSP service into one controller: roster selection binds a
// device to a session, and the last used device reconnects
// automatically when it reappears.
package app

import (
	"io"
	"log/slog"
	"sync"

	"voluctl/internal/discovery"
	"voluctl/internal/domain"
	"voluctl/internal/fusiondsp"
	"voluctl/internal/prefs"
	"voluctl/internal/session"
)

// DeviceSource is the roster provider; the discovery engine in
// production, a fake in tests.
type DeviceSource interface {
	Start() error
	Stop()
	EnsureActive() error
	Devices() []domain.Device
	OnRosterChange(fn func(roster []domain.Device))
}

// Option tunes an App at construction.
type Option func(*App)

// WithDeviceSource replaces the default discovery engine.
func WithDeviceSource(source DeviceSource) Option {
	return func(a *App) { a.Discovery = source }
}

// WithSessionOptions passes options through to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(a *App) { a.sessionOpts = opts }
}

type App struct {
	logger      *slog.Logger
	sessionOpts []session.Option

	Discovery DeviceSource
	Session   *session.Manager
	DSP       *fusiondsp.Service
	Prefs     *prefs.Store

	mu       sync.Mutex
	selected *domain.Device
}

func New(logger *slog.Logger, store *prefs.Store, opts ...Option) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{
		logger: logger,
		DSP:    fusiondsp.NewService(logger),
		Prefs:  store,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Discovery == nil {
		a.Discovery = discovery.NewEngine(logger)
	}
	a.Session = session.NewManager(logger, a.sessionOpts...)
	a.Session.AttachDSP(a.DSP)
	return a
}

// Start begins device discovery.
func (a *App) Start() error {
	return a.Discovery.Start()
}

// Close disconnects the session and stops discovery.
func (a *App) Close() {
	a.Session.Disconnect()
	a.Discovery.Stop()
}

// SelectedDevice returns the device the session targets, if any.
func (a *App) SelectedDevice() (domain.Device, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selected == nil {
		return domain.Device{}, false
	}
	return *a.selected, true
}

// SelectDevice binds the session to the device, remembering it for
// future auto-connects. Any prior session is torn down by Connect.
func (a *App) SelectDevice(device domain.Device) error {
	a.mu.Lock()
	chosen := device
	a.selected = &chosen
	a.mu.Unlock()

	if a.Prefs != nil {
		if err := a.Prefs.SetLastDeviceID(device.ID); err != nil {
			a.logger.Warn("prefs_save_failed", slog.String("error", err.Error()))
		}
	}
	return a.Session.Connect(device)
}

// AutoConnectIfNeeded connects to the remembered device when nothing is
// selected yet and that device is currently online in the roster.
func (a *App) AutoConnectIfNeeded() {
	a.mu.Lock()
	selected := a.selected != nil
	a.mu.Unlock()
	if selected || a.Prefs == nil {
		return
	}
	lastID := a.Prefs.LastDeviceID()
	if lastID == "" {
		return
	}

	for _, device := range a.Discovery.Devices() {
		if device.ID == lastID && device.Online {
			a.logger.Info("auto_connect", slog.String("device", device.Name))
			if err := a.SelectDevice(device); err != nil {
				a.logger.Warn("auto_connect_failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// DisconnectDevice tears down the session and clears the selection.
// The remembered identifier is kept so the device can auto-connect
// again next run.
func (a *App) DisconnectDevice() {
	a.Session.Disconnect()
	a.mu.Lock()
	a.selected = nil
	a.mu.Unlock()
}
