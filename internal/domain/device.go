package domain

import "fmt"

// FusionDSPSettingsPath is the relative path of the FusionDSP
// administration page on a Volumio device's web UI.
const FusionDSPSettingsPath = "/plugin/audio_interface-fusiondsp"

// Device is a Volumio instance discovered on the local network. ID is
// the aggregation key across discovery events: the TXT UUID when the
// advertisement carries one, otherwise the advertised instance name.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Online bool   `json:"online"`
}

// BaseURL returns the http endpoint for the device. Host is expected to
// be bracket-delimited already for IPv6 addresses.
func (d Device) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// WebUIURL is the address of the device's browser UI.
func (d Device) WebUIURL() string {
	return d.BaseURL()
}

// FusionDSPURL is the address of the FusionDSP settings page.
func (d Device) FusionDSPURL() string {
	return d.BaseURL() + FusionDSPSettingsPath
}
