package diagnostics

import "net"

var interfaces = net.Interfaces

// WiringReport is the self-test output: whether the host can run mDNS
// discovery at all, and where preferences live.
type WiringReport struct {
	MulticastInterfaces []string `json:"multicast_interfaces"`
	DiscoveryPossible   bool     `json:"discovery_possible"`
	PreferencePath      string   `json:"preference_path,omitempty"`
}

// Detect inspects the host's network interfaces for multicast-capable,
// up, non-loopback candidates.
func Detect(preferencePath string) WiringReport {
	report := WiringReport{
		MulticastInterfaces: []string{},
		PreferencePath:      preferencePath,
	}

	ifaces, err := interfaces()
	if err != nil {
		return report
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		report.MulticastInterfaces = append(report.MulticastInterfaces, iface.Name)
	}
	report.DiscoveryPossible = len(report.MulticastInterfaces) > 0
	return report
}
