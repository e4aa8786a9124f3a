package reports

import (
	"encoding/json"
	"net"
	"os"
	"runtime"
)

// zeroIPv4 and zeroMAC are the placeholder identity strings used when no
// suitable interface can be found (§4.6).
const (
	zeroIPv4 = "0.0.0.0"
	zeroMAC  = "00:00:00:00:00:00"
)

// Heartbeat accumulates host identity and contact telemetry between
// emissions to Spearhead. It is created once at agent startup, mutated as
// the loader reports network activity, and reset after each successful send.
type Heartbeat struct {
	DeviceName    string
	OSDetails     string
	IPv4          string
	MAC           string
	ContactedMACs map[string]int32
	SystemMetrics SystemMetrics
}

// NewHeartbeat returns a Heartbeat with identity fields populated and an
// empty contact map.
func NewHeartbeat() *Heartbeat {
	h := &Heartbeat{
		IPv4:          zeroIPv4,
		MAC:           zeroMAC,
		ContactedMACs: make(map[string]int32),
	}
	h.RefreshIdentity()
	return h
}

// RefreshIdentity re-derives DeviceName, OSDetails, IPv4 and MAC from the
// host. The active interface is the first non-loopback, UP+RUNNING,
// non-link-local IPv4 interface, in net.Interfaces() order — deterministic
// within a host configuration but not otherwise specified, per §4.6.
func (h *Heartbeat) RefreshIdentity() {
	hostname, err := os.Hostname()
	if err == nil {
		h.DeviceName = hostname
	}
	h.OSDetails = runtime.GOOS + "/" + runtime.GOARCH

	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&(net.FlagUp|net.FlagRunning) != (net.FlagUp | net.FlagRunning) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		var ipv4 string
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLinkLocalUnicast() {
				continue
			}
			ipv4 = ip4.String()
			break
		}

		if ipv4 == "" {
			continue
		}

		h.IPv4 = ipv4
		if iface.HardwareAddr != nil && len(iface.HardwareAddr) == 6 {
			h.MAC = iface.HardwareAddr.String()
		}
		return
	}
}

// MergeContacts folds a NetworkInfo update into the contacted-MAC map,
// additive on name collision.
func (h *Heartbeat) MergeContacts(info NetworkInfo) {
	info.MergeInto(h.ContactedMACs)
}

// ToJSON projects the Heartbeat into the wire JSON shape resolved in
// SPEC_FULL.md (the network_details-nested form from §4.6).
func (h *Heartbeat) ToJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"device_name": h.DeviceName,
		"os_details":  h.OSDetails,
		"ipv4":        h.IPv4,
		"mac":         h.MAC,
		"network_details": map[string]any{
			"contacted_macs": h.ContactedMACs,
		},
		"system_metrics": h.SystemMetrics.ToJSON(),
	})
}

// Reset clears the contacted-MAC map and zeroes the system-metrics running
// means, as done after a successful heartbeat send.
func (h *Heartbeat) Reset() {
	h.ContactedMACs = make(map[string]int32)
	h.SystemMetrics.Reset()
}
