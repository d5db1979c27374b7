package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"voluctl/internal/domain"
	"voluctl/internal/fusiondsp"
	"voluctl/internal/socketio"
)

type emitted struct {
	event string
	args  []any
}

type fakeTransport struct {
	mu             sync.Mutex
	baseURL        string
	handlers       map[string]socketio.Handler
	onConnect      func()
	onDisconnect   func()
	onReconnecting func(int)
	onError        func(error)
	emits          []emitted
	connectCalls   int
	closed         bool
	handlersWiped  bool
}

func newFakeTransport(baseURL string) *fakeTransport {
	return &fakeTransport{baseURL: baseURL, handlers: map[string]socketio.Handler{}}
}

func (f *fakeTransport) On(event string, h socketio.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeTransport) OnConnect(fn func())             { f.mu.Lock(); defer f.mu.Unlock(); f.onConnect = fn }
func (f *fakeTransport) OnDisconnect(fn func())          { f.mu.Lock(); defer f.mu.Unlock(); f.onDisconnect = fn }
func (f *fakeTransport) OnReconnecting(fn func(int))     { f.mu.Lock(); defer f.mu.Unlock(); f.onReconnecting = fn }
func (f *fakeTransport) OnError(fn func(error))          { f.mu.Lock(); defer f.mu.Unlock(); f.onError = fn }

func (f *fakeTransport) RemoveAllHandlers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = map[string]socketio.Handler{}
	f.onConnect = nil
	f.onDisconnect = nil
	f.onReconnecting = nil
	f.onError = nil
	f.handlersWiped = true
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
}

func (f *fakeTransport) Emit(event string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, args: args})
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fireConnect() {
	f.mu.Lock()
	fn := f.onConnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTransport) fireDisconnect() {
	f.mu.Lock()
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTransport) fireReconnecting(attempt int) {
	f.mu.Lock()
	fn := f.onReconnecting
	f.mu.Unlock()
	if fn != nil {
		fn(attempt)
	}
}

func (f *fakeTransport) fireError(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (f *fakeTransport) push(t *testing.T, event string, payload string) {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler registered for %s", event)
	}
	h([]json.RawMessage{json.RawMessage(payload)})
}

func (f *fakeTransport) emittedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, len(f.emits))
	for i, e := range f.emits {
		events[i] = e.event
	}
	return events
}

func (f *fakeTransport) lastEmit() emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emits) == 0 {
		return emitted{}
	}
	return f.emits[len(f.emits)-1]
}

type transportRecorder struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (r *transportRecorder) factory(baseURL string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transport := newFakeTransport(baseURL)
	r.transports = append(r.transports, transport)
	return transport, nil
}

func (r *transportRecorder) last() *fakeTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[len(r.transports)-1]
}

func testDevice(id, host string) domain.Device {
	return domain.Device{ID: id, Name: "Volumio " + id, Host: host, Port: 3000, Online: true}
}

func newTestManager(t *testing.T) (*Manager, *transportRecorder) {
	t.Helper()
	recorder := &transportRecorder{}
	m := NewManager(nil,
		WithTransportFactory(recorder.factory),
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }),
	)
	return m, recorder
}

func TestConnect_OpensTransportAndBootstraps(t *testing.T) {
	m, recorder := newTestManager(t)

	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}

	transport := recorder.last()
	if transport.baseURL != "http://192.168.1.50:3000" {
		t.Fatalf("unexpected session URL %q", transport.baseURL)
	}
	if transport.connectCalls != 1 {
		t.Fatalf("expected one transport connect, got %d", transport.connectCalls)
	}
	if got := m.Status().State; got != domain.SessionConnecting {
		t.Fatalf("expected connecting state, got %v", got)
	}

	transport.fireConnect()

	status := m.Status()
	if status.State != domain.SessionConnected || status.Reconnecting {
		t.Fatalf("expected connected, got %+v", status)
	}
	events := transport.emittedEvents()
	if len(events) != 2 || events[0] != "getState" || events[1] != "getInstalledPlugins" {
		t.Fatalf("expected bootstrap requests, got %v", events)
	}
}

func TestConnect_SecondDeviceTearsDownFirstTransport(t *testing.T) {
	m, recorder := newTestManager(t)

	if err := m.Connect(testDevice("dev-a", "192.168.1.10")); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	first := recorder.last()
	first.fireConnect()

	if err := m.Connect(testDevice("dev-b", "192.168.1.20")); err != nil {
		t.Fatalf("connect b: %v", err)
	}
	second := recorder.last()

	if !first.closed {
		t.Fatal("expected first transport closed")
	}
	if !first.handlersWiped {
		t.Fatal("expected first transport handlers removed before close")
	}
	if second == first {
		t.Fatal("expected a fresh transport for the second device")
	}
	if second.closed {
		t.Fatal("expected second transport live")
	}
	if device, ok := m.Device(); !ok || device.ID != "dev-b" {
		t.Fatalf("expected manager targeting dev-b, got %+v", device)
	}
}

func TestDisconnect_SafeFromAnyStateAndRepeatable(t *testing.T) {
	m, recorder := newTestManager(t)

	// Never connected.
	m.Disconnect()
	if got := m.Status().State; got != domain.SessionDisconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}

	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	recorder.last().fireConnect()

	m.Disconnect()
	m.Disconnect()

	status := m.Status()
	if status.State != domain.SessionDisconnected || status.Reconnecting {
		t.Fatalf("expected stable disconnected state, got %+v", status)
	}
	if !recorder.last().closed {
		t.Fatal("expected transport closed")
	}
}

func TestReconnectNotificationsSetFlagOnly(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.fireReconnecting(1)

	status := m.Status()
	if !status.Reconnecting {
		t.Fatal("expected reconnecting flag")
	}
	if status.State != domain.SessionConnected {
		t.Fatalf("expected primary state unchanged by reconnect notice, got %v", status.State)
	}
	if status.Message != "Reconnecting..." {
		t.Fatalf("unexpected status message %q", status.Message)
	}

	// A drop plus backoff reports the reconnecting effective state.
	transport.fireDisconnect()
	transport.fireReconnecting(2)
	if got := m.Status().EffectiveState(); got != domain.SessionReconnecting {
		t.Fatalf("expected effective reconnecting state, got %v", got)
	}

	// Recovery clears the flag.
	transport.fireConnect()
	status = m.Status()
	if status.Reconnecting || status.State != domain.SessionConnected {
		t.Fatalf("expected clean connected state after recovery, got %+v", status)
	}
}

func TestTransportErrorUpdatesMessageOnly(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.fireError(fmt.Errorf("websocket: bad frame"))

	status := m.Status()
	if status.State != domain.SessionConnected {
		t.Fatalf("expected error to leave state alone, got %v", status.State)
	}
	if status.Message != "Error: websocket: bad frame" {
		t.Fatalf("unexpected message %q", status.Message)
	}
}

func TestPushStateIsDecodedAndPublished(t *testing.T) {
	m, recorder := newTestManager(t)

	var published []domain.PlayerState
	m.OnStateChange(func(state domain.PlayerState) { published = append(published, state) })

	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.push(t, "pushState", `{"status":"PLAY","title":"Kind of Blue","seek":1500,"duration":300,"volume":40,"mute":1}`)

	state, ok := m.PlayerState()
	if !ok {
		t.Fatal("expected stored player state")
	}
	if state.Status != domain.StatusPlaying || state.Title != "Kind of Blue" {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.SeekMillis != 1500 || state.DurationSeconds != 300 || state.Volume != 40 || !state.Mute {
		t.Fatalf("unexpected numeric decode %+v", state)
	}
	if state.ObservedAt.IsZero() {
		t.Fatal("expected observedAt stamped")
	}
	if len(published) != 1 {
		t.Fatalf("expected one published state, got %d", len(published))
	}

	// Malformed payloads never panic or publish.
	transport.push(t, "pushState", `"not an object"`)
	if len(published) != 1 {
		t.Fatal("expected malformed push to be ignored")
	}
}

func TestPushQueueIsDecodedAndPublished(t *testing.T) {
	m, recorder := newTestManager(t)

	var published [][]domain.QueueItem
	m.OnQueueChange(func(items []domain.QueueItem) { published = append(published, items) })

	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.push(t, "pushQueue", `[{"name":"So What","artist":"Miles Davis"},{"title":"Freddie Freeloader"}]`)

	queue := m.Queue()
	if len(queue) != 2 {
		t.Fatalf("expected 2 queue items, got %d", len(queue))
	}
	if queue[0].Title != "So What" || queue[1].Title != "Freddie Freeloader" {
		t.Fatalf("unexpected queue %+v", queue)
	}
	if len(published) != 1 {
		t.Fatalf("expected one queue publication, got %d", len(published))
	}
}

func TestInstalledPluginsRouteToDSPService(t *testing.T) {
	m, recorder := newTestManager(t)
	dsp := fusiondsp.NewService(nil)
	m.AttachDSP(dsp)

	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.push(t, "pushInstalledPlugins",
		`[{"name":"fusiondsp","category":"audio_interface","active":true}]`)

	events := transport.emittedEvents()
	last := events[len(events)-1]
	if last != "getUiConfig" {
		t.Fatalf("expected ui config request after active plugin push, got %v", events)
	}
	page := transport.lastEmit()
	arg, ok := page.args[0].(map[string]any)
	if !ok || arg["page"] != "audio_interface/fusiondsp" {
		t.Fatalf("unexpected getUiConfig payload %+v", page.args)
	}

	transport.push(t, "pushUiConfig", `{
		"sections":[
			{"content":[{"id":"selectedsp","value":{"value":"camilladsp"}}]},
			{"content":[{"id":"usethispreset",
				"options":[{"value":"warm1","label":"Warm"}],
				"value":{"value":"no preset used","label":"Warm"}}]}
		]}`)

	snapshot := dsp.Snapshot()
	if snapshot.DSPType != "camilladsp" {
		t.Fatalf("unexpected dsp type %q", snapshot.DSPType)
	}
	if snapshot.ActivePreset == nil || snapshot.ActivePreset.Value != "warm1" {
		t.Fatalf("expected label-matched active preset, got %+v", snapshot.ActivePreset)
	}
}

func TestResume_VolatileSourceUsesPluginPlayMethod(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.push(t, "pushState", `{"status":"stop","service":"tidalconnect","volatile":true}`)

	m.Resume()

	last := transport.lastEmit()
	if last.event != "callMethod" {
		t.Fatalf("expected callMethod for volatile resume, got %q", last.event)
	}
	payload, ok := last.args[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected callMethod args %+v", last.args)
	}
	if payload["endpoint"] != "music_service/tidalconnect" || payload["method"] != "play" {
		t.Fatalf("unexpected callMethod payload %+v", payload)
	}
}

func TestResume_NonVolatileUsesGlobalPlay(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	transport.push(t, "pushState", `{"status":"pause","service":"mpd","volatile":false}`)

	m.Resume()

	if last := transport.lastEmit(); last.event != "play" || len(last.args) != 0 {
		t.Fatalf("expected bare play, got %+v", last)
	}
}

func TestCommandsWithoutTransportAreDropped(t *testing.T) {
	m, _ := newTestManager(t)
	// Must not panic nor error with no transport at all.
	m.Play()
	m.SetVolume(150)
	m.Seek(30)
	m.PlayAtIndex(2)
	m.Resume()
}

func TestSetVolumeClamps(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	m.SetVolume(150)
	if last := transport.lastEmit(); last.args[0] != 100 {
		t.Fatalf("expected clamp to 100, got %v", last.args[0])
	}
	m.SetVolume(-3)
	if last := transport.lastEmit(); last.args[0] != 0 {
		t.Fatalf("expected clamp to 0, got %v", last.args[0])
	}
}

func TestPlayAtIndexPayload(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-1", "192.168.1.50")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()

	m.PlayAtIndex(4)

	last := transport.lastEmit()
	if last.event != "play" {
		t.Fatalf("expected play event, got %q", last.event)
	}
	payload, ok := last.args[0].(map[string]any)
	if !ok || payload["value"] != 4 {
		t.Fatalf("unexpected payload %+v", last.args)
	}
}

func TestConnectResetsStaleSessionData(t *testing.T) {
	m, recorder := newTestManager(t)
	if err := m.Connect(testDevice("dev-a", "192.168.1.10")); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	transport := recorder.last()
	transport.fireConnect()
	transport.push(t, "pushState", `{"status":"play","title":"Old"}`)
	transport.push(t, "pushQueue", `[{"name":"Old"}]`)

	if err := m.Connect(testDevice("dev-b", "192.168.1.20")); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	if _, ok := m.PlayerState(); ok {
		t.Fatal("expected player state cleared for the new device")
	}
	if len(m.Queue()) != 0 {
		t.Fatal("expected queue cleared for the new device")
	}
}
