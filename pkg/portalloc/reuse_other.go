//go:build !unix

package portalloc

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
