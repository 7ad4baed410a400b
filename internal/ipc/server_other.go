//go:build !linux && !darwin && !windows

package ipc

import (
	"errors"
	"net"
)

// GetPeerCredentials is unavailable without a peer-credential syscall.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}

// VerifyPeerIsCurrentUser reports an error; the socket mode is the only
// gate on platforms without peer credentials.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	return false, errors.New("peer credentials not supported on this platform")
}
