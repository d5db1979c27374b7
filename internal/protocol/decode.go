// Package protocol converts loosely-typed Volumio push payloads into
// the typed records of the domain package. All decoding is total:
// absent or misshapen fields take their zero defaults and no payload,
// however malformed, produces an error.
package protocol

import (
	"time"

	"github.com/spf13/cast"

	"voluctl/internal/domain"
)

// DecodePlayerState converts a pushState payload. Strings default to
// empty, integers to zero, booleans to false. Integer and boolean
// fields tolerate the coercions seen on the wire (floats for ints,
// 0/1 for bools); string fields accept strings only.
func DecodePlayerState(payload map[string]any, observedAt time.Time) domain.PlayerState {
	return domain.PlayerState{
		Status:          domain.PlaybackStatusFrom(stringField(payload, "status")),
		Title:           stringField(payload, "title"),
		Artist:          stringField(payload, "artist"),
		Album:           stringField(payload, "album"),
		AlbumArt:        stringField(payload, "albumart"),
		URI:             stringField(payload, "uri"),
		Position:        intField(payload, "position"),
		SeekMillis:      intField(payload, "seek"),
		DurationSeconds: intField(payload, "duration"),
		Volume:          intField(payload, "volume"),
		Mute:            boolField(payload, "mute"),
		Service:         stringField(payload, "service"),
		Volatile:        boolField(payload, "volatile"),
		TrackType:       stringField(payload, "trackType"),
		SampleRate:      stringField(payload, "samplerate"),
		BitDepth:        stringField(payload, "bitdepth"),
		ObservedAt:      observedAt,
	}
}

// DecodeQueueItem converts one play-queue entry. The title rides under
// "name" in queue payloads but "title" in some services; "name" wins
// when both are present.
func DecodeQueueItem(payload map[string]any) domain.QueueItem {
	title := stringField(payload, "name")
	if title == "" {
		title = stringField(payload, "title")
	}
	return domain.QueueItem{
		Title:    title,
		Artist:   stringField(payload, "artist"),
		AlbumArt: stringField(payload, "albumart"),
		URI:      stringField(payload, "uri"),
	}
}

// DecodeQueue converts a pushQueue payload. Entries that are not
// key/value objects decode to zero items so queue indexes keep lining
// up with PlayerState.Position.
func DecodeQueue(items []any) []domain.QueueItem {
	queue := make([]domain.QueueItem, 0, len(items))
	for _, raw := range items {
		entry, _ := raw.(map[string]any)
		queue = append(queue, DecodeQueueItem(entry))
	}
	return queue
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return value
}

func intField(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	return cast.ToInt(payload[key])
}

func boolField(payload map[string]any, key string) bool {
	if payload == nil {
		return false
	}
	return cast.ToBool(payload[key])
}
