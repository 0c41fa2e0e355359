// ABOUTME: Build identity of the timesync binaries
// ABOUTME: Version is overridden at link time with -ldflags "-X ...version.Version=..."
package version

import (
	"fmt"
	"runtime"

	"github.com/morningf/liblsl/internal/protocol"
)

// Version of the build, "dev" unless set by the linker
var Version = "dev"

const (
	Product      = "liblsl timesync"
	Manufacturer = "morningf"
)

// DeviceInfo describes this build in the control handshake
func DeviceInfo() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		ProductName:     Product,
		Manufacturer:    Manufacturer,
		SoftwareVersion: Version,
	}
}

// String returns a one-line banner
func String() string {
	return fmt.Sprintf("%s %s (%s, %s/%s)", Product, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
