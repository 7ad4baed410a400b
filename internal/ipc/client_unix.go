//go:build !windows

package ipc

import (
	"errors"
	"net"
)

// connectWindows is a stub off Windows; Connect never routes here.
func (c *IPCClient) connectWindows() (net.Conn, error) {
	return nil, errors.New("named pipes are windows-only")
}
