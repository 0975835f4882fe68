//go:build !unix

package registry

import "os"

var terminationSignals = []os.Signal{os.Interrupt}

func reraise(os.Signal) {
	os.Exit(1)
}
