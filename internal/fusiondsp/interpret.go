package fusiondsp

import "voluctl/internal/domain"

// InterpretUIConfig walks the sections/fields structure of a
// pushUiConfig payload and extracts the DSP engine type, the preset
// list, and the active preset.
//
// The active preset is matched against the option list by label, not by
// value: the plugin frequently reports value "no preset used" even
// while a preset is active, but the label reliably names it. A label
// with no match clears the active preset rather than leaving it stale.
func InterpretUIConfig(payload map[string]any) domain.PluginConfigSnapshot {
	var snapshot domain.PluginConfigSnapshot

	sections := objectSlice(payload["sections"])
	if sections == nil {
		return snapshot
	}

	if field := findField(sections, dspTypeFieldID); field != nil {
		if value, ok := field["value"].(map[string]any); ok {
			snapshot.DSPType, _ = value["value"].(string)
		}
	}

	if !SupportsPresets(snapshot.DSPType) {
		return snapshot
	}

	field := findField(sections, presetFieldID)
	if field == nil {
		return snapshot
	}

	for _, option := range objectSlice(field["options"]) {
		value, okValue := option["value"].(string)
		label, okLabel := option["label"].(string)
		if !okValue || !okLabel {
			continue
		}
		snapshot.Presets = append(snapshot.Presets, domain.DSPPreset{Value: value, Label: label})
	}

	if current, ok := field["value"].(map[string]any); ok {
		if label, ok := current["label"].(string); ok {
			for _, preset := range snapshot.Presets {
				if preset.Label == label {
					active := preset
					snapshot.ActivePreset = &active
					break
				}
			}
		}
	}

	return snapshot
}

// findField returns the first field with the given id across all
// sections, or nil.
func findField(sections []map[string]any, id string) map[string]any {
	for _, section := range sections {
		for _, field := range objectSlice(section["content"]) {
			if fieldID, ok := field["id"].(string); ok && fieldID == id {
				return field
			}
		}
	}
	return nil
}

func objectSlice(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	objects := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if object, ok := item.(map[string]any); ok {
			objects = append(objects, object)
		}
	}
	return objects
}
