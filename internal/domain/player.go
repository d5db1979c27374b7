package domain

import (
	"strings"
	"time"
)

// PlaybackStatus is the playback phase reported by the device.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "play"
	StatusPaused  PlaybackStatus = "pause"
	StatusStopped PlaybackStatus = "stop"
	StatusUnknown PlaybackStatus = "unknown"
)

// PlaybackStatusFrom maps a raw status string onto a PlaybackStatus.
// The match is case-insensitive; anything unrecognized, including the
// empty string, is StatusUnknown.
func PlaybackStatusFrom(raw string) PlaybackStatus {
	switch strings.ToLower(raw) {
	case "play":
		return StatusPlaying
	case "pause":
		return StatusPaused
	case "stop":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// PlayerState is one decoded pushState payload. ObservedAt is stamped
// at decode time, not taken from the wire, and anchors elapsed-time
// projection of the playback position between pushes.
type PlayerState struct {
	Status          PlaybackStatus
	Title           string
	Artist          string
	Album           string
	AlbumArt        string
	URI             string
	Position        int // index in the play queue
	SeekMillis      int
	DurationSeconds int
	Volume          int // 0-100
	Mute            bool
	Service         string
	Volatile        bool
	TrackType       string
	SampleRate      string
	BitDepth        string
	ObservedAt      time.Time
}

// ProjectedSeekSeconds returns the playback position at now, advancing
// the last reported seek by wall-clock time while playing and clamping
// to the track duration.
func (s PlayerState) ProjectedSeekSeconds(now time.Time) float64 {
	seek := float64(s.SeekMillis) / 1000.0
	if s.Status == StatusPlaying {
		seek += now.Sub(s.ObservedAt).Seconds()
	}
	if s.DurationSeconds > 0 && seek > float64(s.DurationSeconds) {
		return float64(s.DurationSeconds)
	}
	if seek < 0 {
		return 0
	}
	return seek
}

// QueueItem is one entry of the device's play queue. Queue indexes line
// up with PlayerState.Position.
type QueueItem struct {
	Title    string
	Artist   string
	AlbumArt string
	URI      string
}
