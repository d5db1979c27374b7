package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope", "prefs.toml"))
	if err := store.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := store.Preferences(); got != (Preferences{}) {
		t.Fatalf("expected zero preferences, got %+v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voluctl", "prefs.toml")

	store := NewStore(path)
	if err := store.SetLastDeviceID("abc-123"); err != nil {
		t.Fatalf("set last device: %v", err)
	}
	if err := store.SetDisplayToggles(true, false); err != nil {
		t.Fatalf("set toggles: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	prefs := reloaded.Preferences()
	if prefs.LastDeviceID != "abc-123" {
		t.Fatalf("expected last device persisted, got %q", prefs.LastDeviceID)
	}
	if !prefs.ShowOnlyActiveDevices || prefs.ShowDeviceIP {
		t.Fatalf("expected toggles persisted, got %+v", prefs)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	if err := os.WriteFile(path, []byte("last_device_id = [broken"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store := NewStore(path)
	if err := store.Load(); err == nil {
		t.Fatal("expected error for malformed file")
	}
}
