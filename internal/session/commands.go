package session

import (
	"log/slog"

	"voluctl/internal/domain"
)

// Emit sends an event on the current transport, fire-and-forget: with
// no live transport the command is simply not delivered.
func (m *Manager) Emit(event string, args ...any) {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil {
		m.logger.Debug("session_emit_dropped", slog.String("event", event))
		return
	}
	transport.Emit(event, args...)
}

func (m *Manager) Play()     { m.Emit("play") }
func (m *Manager) Pause()    { m.Emit("pause") }
func (m *Manager) Stop()     { m.Emit("stop") }
func (m *Manager) Next()     { m.Emit("next") }
func (m *Manager) Previous() { m.Emit("prev") }
func (m *Manager) Mute()     { m.Emit("mute") }
func (m *Manager) Unmute()   { m.Emit("unmute") }
func (m *Manager) Shutdown() { m.Emit("shutdown") }
func (m *Manager) Reboot()   { m.Emit("reboot") }

// SetVolume sets the absolute volume, clamped to 0-100.
func (m *Manager) SetVolume(value int) {
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	m.Emit("volume", value)
}

// Seek jumps to an absolute position in seconds.
func (m *Manager) Seek(seconds int) {
	m.Emit("seek", seconds)
}

// PlayAtIndex starts playback of the queue entry at the given absolute
// position.
func (m *Manager) PlayAtIndex(index int) {
	m.Emit("play", map[string]any{"value": index})
}

// RequestQueue asks the device to push the current play queue.
func (m *Manager) RequestQueue() {
	m.Emit("getQueue")
}

// RequestUIConfig asks for a plugin's configuration page.
func (m *Manager) RequestUIConfig(page string) {
	m.Emit("getUiConfig", map[string]any{"page": page})
}

// CallMethod invokes a plugin method directly.
func (m *Manager) CallMethod(endpoint, method string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	m.Emit("callMethod", map[string]any{
		"endpoint": endpoint,
		"method":   method,
		"data":     data,
	})
}

// Resume continues playback after a pause or stop. A server defect
// leaves the global play command inert for a volatile source (Spotify
// Connect, Tidal Connect, ...) after a stop signal, so such sources are
// resumed through their own plugin's play method instead. This is a
// permanent behavioral rule, not a retry.
func (m *Manager) Resume() {
	m.mu.Lock()
	state := m.playerState
	m.mu.Unlock()

	if state != nil && state.Volatile && state.Service != "" {
		m.ResumeVolatileService(state.Service)
		return
	}
	m.Play()
}

// ResumeVolatileService resumes the named volatile source via its
// music_service plugin endpoint.
func (m *Manager) ResumeVolatileService(service string) {
	m.logger.Debug("session_volatile_resume", slog.String("service", service))
	m.CallMethod("music_service/"+service, "play", map[string]any{})
}

// TogglePlayback pauses while playing and resumes otherwise, applying
// the volatile-source rule on resume.
func (m *Manager) TogglePlayback() {
	m.mu.Lock()
	state := m.playerState
	m.mu.Unlock()

	if state != nil && state.Status == domain.StatusPlaying {
		m.Pause()
		return
	}
	m.Resume()
}
