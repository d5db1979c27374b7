// Package fusiondsp tracks the FusionDSP plugin on a connected Volumio
// device: whether it is installed and active, which DSP engine it runs,
// and which equalizer presets it offers.
package fusiondsp

import (
	"io"
	"log/slog"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"voluctl/internal/domain"
)

const (
	// PluginName and PluginCategory identify FusionDSP in the
	// installed-plugins listing.
	PluginName     = "fusiondsp"
	PluginCategory = "audio_interface"

	// SettingsPage is the getUiConfig page identifier; Endpoint is the
	// callMethod target for plugin method invocations.
	SettingsPage = "audio_interface/fusiondsp"
	Endpoint     = "audio_interface/fusiondsp"

	dspTypeFieldID = "selectedsp"
	presetFieldID  = "usethispreset"
)

// noPresetTypes are DSP engines that have no preset support at all.
var noPresetTypes = map[string]struct{}{
	"EQ3":      {},
	"purecgui": {},
}

// SupportsPresets reports whether the given DSP engine type has
// presets.
func SupportsPresets(dspType string) bool {
	_, known := noPresetTypes[dspType]
	return !known
}

// PluginDescriptor is one entry of a pushInstalledPlugins payload.
type PluginDescriptor struct {
	Name     string `mapstructure:"name"`
	Category string `mapstructure:"category"`
	Active   bool   `mapstructure:"active"`
}

// DecodeDescriptors converts a raw installed-plugins sequence,
// skipping entries that do not decode. Active tolerates the 0/1
// booleans some firmware versions emit.
func DecodeDescriptors(raw []any) []PluginDescriptor {
	descriptors := make([]PluginDescriptor, 0, len(raw))
	for _, entry := range raw {
		var descriptor PluginDescriptor
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &descriptor,
			WeaklyTypedInput: true,
		})
		if err != nil {
			continue
		}
		if err := decoder.Decode(entry); err != nil {
			continue
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors
}

// Commander is the slice of the session surface this service needs.
// The service never owns the session; the owner wires one in via
// Configure and the service reports outward through OnConfigChange.
type Commander interface {
	RequestUIConfig(page string)
	CallMethod(endpoint, method string, data map[string]any)
}

type Service struct {
	logger *slog.Logger

	mu        sync.Mutex
	commander Commander
	installed bool
	active    bool
	loading   bool
	snapshot  domain.PluginConfigSnapshot
	onConfig  func(domain.PluginConfigSnapshot)
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{logger: logger}
}

// OnConfigChange registers the snapshot listener. Only one listener is
// kept; registering replaces the previous one.
func (s *Service) OnConfigChange(fn func(domain.PluginConfigSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConfig = fn
}

// Configure points the service at a new session and resets all plugin
// state; stale presets from a previous device must never leak into a
// new connection.
func (s *Service) Configure(commander Commander) {
	s.mu.Lock()
	s.commander = commander
	s.resetLocked()
	fn, snapshot := s.onConfig, s.snapshot
	s.mu.Unlock()
	notifyConfig(fn, snapshot)
}

// Reset clears installed/active/preset state without detaching the
// session.
func (s *Service) Reset() {
	s.mu.Lock()
	s.resetLocked()
	fn, snapshot := s.onConfig, s.snapshot
	s.mu.Unlock()
	notifyConfig(fn, snapshot)
}

func (s *Service) resetLocked() {
	s.installed = false
	s.active = false
	s.loading = false
	s.snapshot = domain.PluginConfigSnapshot{}
}

func (s *Service) Installed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installed
}

func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot returns the current interpreted configuration.
func (s *Service) Snapshot() domain.PluginConfigSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snapshot)
}

// HandleInstalledPlugins scans a pushInstalledPlugins payload for
// FusionDSP. When the plugin is present and active, its configuration
// page is requested; otherwise plugin state is cleared.
func (s *Service) HandleInstalledPlugins(raw []any) {
	var found *PluginDescriptor
	for _, descriptor := range DecodeDescriptors(raw) {
		if descriptor.Name == PluginName && descriptor.Category == PluginCategory {
			found = &descriptor
			break
		}
	}

	s.mu.Lock()
	if found == nil {
		s.installed = false
		s.active = false
		s.mu.Unlock()
		return
	}
	s.installed = true
	s.active = found.Active
	commander := s.commander
	fetch := found.Active && commander != nil
	if fetch {
		s.loading = true
	}
	s.mu.Unlock()

	s.logger.Debug("fusiondsp_detected", slog.Bool("active", found.Active))
	if fetch {
		commander.RequestUIConfig(SettingsPage)
	}
}

// HandleUIConfig interprets a pushUiConfig payload and replaces the
// snapshot wholesale.
func (s *Service) HandleUIConfig(payload map[string]any) {
	snapshot := InterpretUIConfig(payload)

	s.mu.Lock()
	s.loading = false
	s.snapshot = snapshot
	fn := s.onConfig
	published := cloneSnapshot(snapshot)
	s.mu.Unlock()

	s.logger.Debug("fusiondsp_config",
		slog.String("dsp_type", snapshot.DSPType),
		slog.Int("presets", len(snapshot.Presets)),
	)
	notifyConfig(fn, published)
}

// SwitchPreset applies a preset optimistically: the active preset flips
// immediately, independent of server acknowledgment, and the plugin's
// own method is invoked with the preset's value and label.
func (s *Service) SwitchPreset(preset domain.DSPPreset) {
	s.mu.Lock()
	chosen := preset
	s.snapshot.ActivePreset = &chosen
	commander := s.commander
	fn := s.onConfig
	published := cloneSnapshot(s.snapshot)
	s.mu.Unlock()

	notifyConfig(fn, published)
	if commander == nil {
		return
	}
	commander.CallMethod(Endpoint, presetFieldID, map[string]any{
		presetFieldID: map[string]any{
			"value": preset.Value,
			"label": preset.Label,
		},
	})
}

func notifyConfig(fn func(domain.PluginConfigSnapshot), snapshot domain.PluginConfigSnapshot) {
	if fn != nil {
		fn(snapshot)
	}
}

func cloneSnapshot(snapshot domain.PluginConfigSnapshot) domain.PluginConfigSnapshot {
	out := domain.PluginConfigSnapshot{
		DSPType: snapshot.DSPType,
		Presets: append([]domain.DSPPreset(nil), snapshot.Presets...),
	}
	if snapshot.ActivePreset != nil {
		active := *snapshot.ActivePreset
		out.ActivePreset = &active
	}
	return out
}
