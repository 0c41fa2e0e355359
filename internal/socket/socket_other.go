// ABOUTME: Portable fallback for receive buffer sizing
// ABOUTME: Uses the net package where golang.org/x/sys/unix is unavailable

//go:build !unix

package socket

import "net"

// SetReceiveBuffer sets the socket receive buffer; the effective size is not observable here
func SetReceiveBuffer(conn *net.UDPConn, size int) (int, error) {
	if err := conn.SetReadBuffer(size); err != nil {
		return 0, err
	}
	return size, nil
}
