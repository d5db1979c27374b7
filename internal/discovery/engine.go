// Package discovery finds Volumio devices on the local network via
// multicast DNS and keeps a live roster of them. Devices are never
// deleted from the roster once seen: a device that disappears is marked
// offline and keeps its identity and position for when it returns.
package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"voluctl/internal/domain"
)

const (
	// ServiceType is the mDNS service Volumio devices advertise.
	ServiceType  = "_Volumio._tcp"
	browseDomain = "local."

	txtKeyUUID = "UUID"
	txtKeyName = "volumioName"

	resolveTimeout = 2 * time.Second
	sweepEvery     = 2 * time.Second
	// defaultTTL stands in when an advertisement carries no TTL.
	defaultTTL = 120 * time.Second
	// ttlGrace delays offline marking past nominal record expiry so a
	// single missed renewal does not flap the roster.
	ttlGrace = 15 * time.Second
)

// browser is the slice of zeroconf.Resolver the engine uses.
type browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Engine browses for service advertisements, resolves them to concrete
// host/port pairs, and maintains the device roster.
type Engine struct {
	logger *slog.Logger

	// injectable for tests
	newBrowser func() (browser, error)
	dialProbe  func(ctx context.Context, host string, port int) bool
	now        func() time.Time

	mu        sync.Mutex
	browseCtx context.Context
	cancel    context.CancelFunc
	devices   []domain.Device
	index     map[string]int
	lastSeen  map[string]time.Time
	ttl       map[string]time.Duration
	onChange  func(roster []domain.Device)
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		logger: logger,
		newBrowser: func() (browser, error) {
			return zeroconf.NewResolver(nil)
		},
		dialProbe: defaultDialProbe,
		now:       time.Now,
		index:     map[string]int{},
		lastSeen:  map[string]time.Time{},
		ttl:       map[string]time.Duration{},
	}
}

// OnRosterChange registers the roster listener, called with a copy of
// the roster after every add, update, or offline marking.
func (e *Engine) OnRosterChange(fn func(roster []domain.Device)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Devices returns a copy of the current roster, ordered by first-seen.
func (e *Engine) Devices() []domain.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Device(nil), e.devices...)
}

// Active reports whether a browse is currently running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.browseCtx != nil && e.browseCtx.Err() == nil
}

// Start begins browsing. Calling Start while already active is a no-op.
// A browse that failed permanently has been torn down and is eligible
// for another Start.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.browseCtx != nil && e.browseCtx.Err() == nil {
		e.mu.Unlock()
		return nil
	}
	resolver, err := e.newBrowser()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.browseCtx = ctx
	e.cancel = cancel
	e.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, browseDomain, entries); err != nil {
		cancel()
		e.clearBrowse(ctx)
		return err
	}

	e.logger.Debug("discovery_started", slog.String("service", ServiceType))
	go e.consume(ctx, entries)
	go e.sweepLoop(ctx)
	return nil
}

// EnsureActive restarts browsing when the listener is gone or the
// roster is empty; recovery path for a silently-failed browse.
func (e *Engine) EnsureActive() error {
	e.mu.Lock()
	active := e.browseCtx != nil && e.browseCtx.Err() == nil
	empty := len(e.devices) == 0
	e.mu.Unlock()

	if active && !empty {
		return nil
	}
	e.Stop()
	return e.Start()
}

// Stop cancels browsing and in-flight resolutions. Transient resolution
// state is dropped; the roster is kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.browseCtx = nil
	e.cancel = nil
	e.lastSeen = map[string]time.Time{}
	e.ttl = map[string]time.Duration{}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (e *Engine) clearBrowse(ctx context.Context) {
	e.mu.Lock()
	if e.browseCtx == ctx {
		e.browseCtx = nil
		e.cancel = nil
	}
	e.mu.Unlock()
}

// consume fans each advertisement out to its own resolution attempt.
// The entries channel closes when the browse ends, whether by Stop or
// by listener failure; either way the browse state is torn down so
// Start can run again.
func (e *Engine) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	for entry := range entries {
		if entry == nil {
			continue
		}
		go e.resolveEntry(ctx, entry)
	}
	e.clearBrowse(ctx)
	e.logger.Debug("discovery_browse_ended")
}

// resolveEntry converts one advertisement into a roster upsert. The
// advertised addresses are probed with a short-lived TCP dial, IPv4
// candidates first; the first address that accepts a connection wins.
// Resolution failure drops the advertisement silently.
func (e *Engine) resolveEntry(ctx context.Context, entry *zeroconf.ServiceEntry) {
	id, name := identityFromEntry(entry)

	host, ok := e.resolveHost(ctx, entry)
	if !ok {
		e.logger.Debug("discovery_resolve_failed",
			slog.String("id", id),
			slog.String("instance", entry.Instance),
		)
		return
	}

	e.upsert(id, name, host, entry.Port, recordTTL(entry))
}

func (e *Engine) resolveHost(ctx context.Context, entry *zeroconf.ServiceEntry) (string, bool) {
	candidates := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	candidates = append(candidates, entry.AddrIPv4...)
	candidates = append(candidates, entry.AddrIPv6...)

	for _, ip := range candidates {
		if ip == nil {
			continue
		}
		bare := stripZone(ip.String())
		if !e.dialProbe(ctx, bare, entry.Port) {
			continue
		}
		return formatHost(bare), true
	}
	return "", false
}

// upsert applies a successful resolution to the roster: an existing
// entry with the same identifier takes the new host/port/name and goes
// online (last resolution wins); anything else appends.
func (e *Engine) upsert(id, name, host string, port int, ttl time.Duration) {
	e.mu.Lock()
	if e.browseCtx == nil {
		// Stopped while resolving; drop the pending result.
		e.mu.Unlock()
		return
	}
	device := domain.Device{ID: id, Name: name, Host: host, Port: port, Online: true}
	if idx, ok := e.index[id]; ok {
		e.devices[idx] = device
	} else {
		e.index[id] = len(e.devices)
		e.devices = append(e.devices, device)
	}
	e.lastSeen[id] = e.now()
	e.ttl[id] = ttl
	fn, roster := e.onChange, append([]domain.Device(nil), e.devices...)
	e.mu.Unlock()

	e.logger.Info("device_resolved",
		slog.String("id", id),
		slog.String("name", name),
		slog.String("host", host),
		slog.Int("port", port),
	)
	notifyRoster(fn, roster)
}

// markOffline flags the device as gone without removing it. Unknown
// identifiers are a no-op: an advertisement removed before its
// resolution completed never made it into the roster.
func (e *Engine) markOffline(id string) {
	e.mu.Lock()
	idx, ok := e.index[id]
	if !ok || !e.devices[idx].Online {
		e.mu.Unlock()
		return
	}
	e.devices[idx].Online = false
	delete(e.lastSeen, id)
	delete(e.ttl, id)
	fn, roster := e.onChange, append([]domain.Device(nil), e.devices...)
	e.mu.Unlock()

	e.logger.Info("device_offline", slog.String("id", id))
	notifyRoster(fn, roster)
}

// sweepLoop synthesizes removal notices: mDNS gives us additions only,
// so a device whose advertisement lapsed without renewal is marked
// offline once its record TTL (plus grace) expires.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepExpired()
		}
	}
}

func (e *Engine) sweepExpired() {
	now := e.now()

	e.mu.Lock()
	var expired []string
	for id, seen := range e.lastSeen {
		ttl := e.ttl[id]
		if ttl <= 0 {
			ttl = defaultTTL
		}
		if now.After(seen.Add(ttl + ttlGrace)) {
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.markOffline(id)
	}
}

// identityFromEntry recovers the stable identifier and display name:
// TXT UUID and volumioName when present, the advertised instance name
// otherwise.
func identityFromEntry(entry *zeroconf.ServiceEntry) (id, name string) {
	id = entry.Instance
	name = entry.Instance
	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case txtKeyUUID:
			id = value
		case txtKeyName:
			name = value
		}
	}
	return id, name
}

func recordTTL(entry *zeroconf.ServiceEntry) time.Duration {
	if entry.TTL == 0 {
		return defaultTTL
	}
	return time.Duration(entry.TTL) * time.Second
}

// stripZone removes a link-local zone suffix ("fe80::1%eth0").
func stripZone(host string) string {
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		return host[:idx]
	}
	return host
}

// formatHost bracket-delimits IPv6 literals so they can be embedded in
// URLs.
func formatHost(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

func defaultDialProbe(ctx context.Context, host string, port int) bool {
	dialer := net.Dialer{Timeout: resolveTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func notifyRoster(fn func([]domain.Device), roster []domain.Device) {
	if fn != nil {
		fn(roster)
	}
}
