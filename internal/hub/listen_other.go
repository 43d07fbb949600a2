//go:build !unix

package hub

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
