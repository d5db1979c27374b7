package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voluctl/internal/app"
	"voluctl/internal/buildinfo"
	"voluctl/internal/diagnostics"
	"voluctl/internal/domain"
	"voluctl/internal/lifecycle"
	"voluctl/internal/prefs"
	"voluctl/internal/session"
	"voluctl/internal/socketio"
)

const ensureDiscoveryEvery = 30 * time.Second

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"controller"`
	Wiring diagnostics.WiringReport `json:"wiring"`
}

func main() {
	selfTest := flag.Bool("self-test", false, "run discovery wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "preference file path (default: per-user config dir)")
	deviceFlag := flag.String("device", "", "connect to the device with this name or identifier")
	dialTimeout := flag.Duration("timeout", 10*time.Second, "websocket dial timeout")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	prefsPath := *configPath
	if prefsPath == "" {
		if resolved, err := prefs.DefaultPath(); err == nil {
			prefsPath = resolved
		}
	}

	if *selfTest {
		out := selfTestOutput{
			Wiring: diagnostics.Detect(prefsPath),
		}
		out.Server.Name = "voluctl"
		out.Server.Version = buildinfo.Version

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	logLevel := parseLogLevel(os.Getenv("VOLUCTL_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Info(
		"voluctl_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	store := prefs.NewStore(prefsPath)
	if err := store.Load(); err != nil {
		logger.Warn("prefs_load_failed", slog.String("error", err.Error()))
	}

	dialer := &websocket.Dialer{HandshakeTimeout: *dialTimeout}
	controller := app.New(logger, store, app.WithSessionOptions(
		session.WithTransportFactory(func(baseURL string) (session.Transport, error) {
			return socketio.New(baseURL, socketio.Options{
				Dialer: dialer,
				Logger: logger,
			})
		}),
	))
	defer controller.Close()

	controller.Session.OnStateChange(func(state domain.PlayerState) {
		logger.Info("now_playing",
			slog.String("status", string(state.Status)),
			slog.String("title", state.Title),
			slog.String("artist", state.Artist),
			slog.String("service", state.Service),
			slog.Int("volume", state.Volume),
		)
	})
	controller.Session.OnStatusChange(func(status domain.SessionStatus) {
		logger.Info("session_status",
			slog.String("state", status.EffectiveState().String()),
			slog.String("message", status.Message),
		)
		if status.State == domain.SessionConnected && !status.Reconnecting {
			controller.Session.RequestQueue()
		}
	})

	controller.Discovery.OnRosterChange(func(roster []domain.Device) {
		for _, device := range roster {
			logger.Debug("roster_device",
				slog.String("id", device.ID),
				slog.String("name", device.Name),
				slog.String("host", device.Host),
				slog.Bool("online", device.Online),
			)
		}
		if target, ok := matchDevice(roster, *deviceFlag); ok {
			if selected, has := controller.SelectedDevice(); !has || selected.ID != target.ID {
				if err := controller.SelectDevice(target); err != nil {
					logger.Warn("connect_failed", slog.String("error", err.Error()))
				}
			}
			return
		}
		controller.AutoConnectIfNeeded()
	})

	if err := controller.Start(); err != nil {
		logger.Error("discovery_start_failed", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Position projection between pushes and discovery recovery are
	// display/upkeep concerns; both live here, outside the session core.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ensure := time.NewTicker(ensureDiscoveryEvery)
	defer ensure.Stop()

	for {
		select {
		case <-runCtx.Done():
			logger.Info("voluctl_stopping", slog.String("reason", "signal"))
			return
		case <-ensure.C:
			if err := controller.Discovery.EnsureActive(); err != nil {
				logger.Warn("discovery_restart_failed", slog.String("error", err.Error()))
			}
		case now := <-ticker.C:
			state, ok := controller.Session.PlayerState()
			if !ok || state.Status != domain.StatusPlaying {
				continue
			}
			logger.Debug("position",
				slog.Int("seconds", int(state.ProjectedSeekSeconds(now))),
				slog.Int("duration", state.DurationSeconds),
			)
		}
	}
}

func matchDevice(roster []domain.Device, wanted string) (domain.Device, bool) {
	if wanted == "" {
		return domain.Device{}, false
	}
	for _, device := range roster {
		if !device.Online {
			continue
		}
		if device.ID == wanted || strings.EqualFold(device.Name, wanted) {
			return device, true
		}
	}
	return domain.Device{}, false
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid VOLUCTL_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
