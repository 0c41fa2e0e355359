// ABOUTME: Kernel socket tuning for the time receiver's UDP socket
// ABOUTME: Sizes SO_RCVBUF so a burst of probe responses is not dropped

//go:build unix

package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// SetReceiveBuffer sets SO_RCVBUF on conn and returns the size the kernel reports back
func SetReceiveBuffer(conn *net.UDPConn, size int) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("syscall conn: %w", err)
	}

	var got int
	var opErr error
	err = raw.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size); opErr != nil {
			opErr = fmt.Errorf("setsockopt: %w", opErr)
			return
		}
		if got, opErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF); opErr != nil {
			opErr = fmt.Errorf("getsockopt: %w", opErr)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("control: %w", err)
	}
	return got, opErr
}
