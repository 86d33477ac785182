// Package portalloc hands out local TCP ports for short-lived deployments.
//
// Allocation is best-effort: a socket is bound to port 0, the kernel-assigned
// port is read back and the socket is released immediately. Nothing is
// reserved, so another process may grab the port before the caller binds it.
// Callers treat a later bind failure as a retryable deployment failure.
package portalloc

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Allocator obtains unused TCP ports on a host interface.
type Allocator struct {
	// Host is the interface to bind. Empty means all interfaces.
	Host string

	listenConfig net.ListenConfig
}

// New creates an Allocator for host ("" binds all interfaces).
func New(host string) *Allocator {
	return &Allocator{
		Host:         host,
		listenConfig: net.ListenConfig{Control: reuseAddrControl},
	}
}

// Allocate binds an ephemeral port, records it and releases the socket.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	addr := net.JoinHostPort(a.Host, "0")

	ln, err := a.listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind %s: %w", addr, err)
	}

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return 0, fmt.Errorf("unexpected listener address type %T", ln.Addr())
	}
	port := tcpAddr.Port

	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("release port %d: %w", port, err)
	}

	return port, nil
}

// FreePort allocates a port on all interfaces using a background context.
func FreePort() (int, error) {
	return New("").Allocate(context.Background())
}

// Address formats a loopback URL for an allocated port.
func Address(port int) string {
	return "http://" + net.JoinHostPort("localhost", strconv.Itoa(port))
}
