package domain

// DSPPreset is a named, server-stored configuration bundle of the
// active DSP plugin. Value is the protocol identifier, Label the
// display name. Identity is by Value; matching the active preset goes
// by Label because the server's value component is unreliable.
type DSPPreset struct {
	Value string
	Label string
}

// PluginConfigSnapshot is the interpreted DSP plugin configuration.
// It is rebuilt wholesale from each received configuration payload and
// never merged field-by-field.
type PluginConfigSnapshot struct {
	DSPType      string
	Presets      []DSPPreset
	ActivePreset *DSPPreset
}
