package session

import (
	"net"

	"github.com/google/uuid"
)

// DeviceIdentity is the pair of ids the transport's handshake headers
// carry: Client-Id (a fresh uuid per process, matching the original's
// esp_fill_random-seeded Uuid()) and Device-Id (a stable MAC-derived
// string, matching the original's GetMacAddress()).
type DeviceIdentity struct {
	ClientID string
	DeviceID string
}

// NewDeviceIdentity computes an identity for this process. interfaceName
// names the network interface to read a MAC address from; if empty, or
// if no such interface exists (most development and CI hosts, which have
// no single canonical "the" interface the way a device has exactly one
// Wi-Fi radio), DeviceID falls back to a random id that stays stable for
// the lifetime of this process.
func NewDeviceIdentity(interfaceName string) DeviceIdentity {
	deviceID := macAddress(interfaceName)
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return DeviceIdentity{
		ClientID: uuid.NewString(),
		DeviceID: deviceID,
	}
}

func macAddress(interfaceName string) string {
	if interfaceName == "" {
		return ""
	}
	iface, err := net.InterfaceByName(interfaceName)
	if err != nil || len(iface.HardwareAddr) == 0 {
		return ""
	}
	return iface.HardwareAddr.String()
}
