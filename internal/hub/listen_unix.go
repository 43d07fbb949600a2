//go:build unix

package hub

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets a restarted hub rebind its port while old sockets sit in
// TIME_WAIT.
func reuseAddr(network, address string, c syscall.RawConn) (err error) {
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if cerr != nil {
		return cerr
	}
	return err
}
