package redisbox

import (
	"net"
	"strconv"
)

// RuntimeState is either Stopped or Running. It is never partially set.
type RuntimeState interface {
	isRuntimeState()
}

// Stopped is the state before Start and after Stop.
type Stopped struct{}

// Running carries the published address of a live server.
type Running struct {
	Port int
	Host string
}

func (Stopped) isRuntimeState() {}
func (Running) isRuntimeState() {}

// Addr returns host:port.
func (r Running) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type phase int

const (
	phaseIdle phase = iota
	phaseStarting
	phaseRunning
	phaseStopping
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStarting:
		return "starting"
	case phaseRunning:
		return "running"
	case phaseStopping:
		return "stopping"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}
