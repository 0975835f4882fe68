//go:build unix

package registry

import (
	"os"

	"golang.org/x/sys/unix"
)

var terminationSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

func reraise(sig os.Signal) {
	s, ok := sig.(unix.Signal)
	if !ok {
		os.Exit(1)
	}
	if err := unix.Kill(os.Getpid(), s); err != nil {
		os.Exit(128 + int(s))
	}
}
