package session

import (
	"time"

	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/layers/network"
)

type (
	// SessionEvent is emitted once per session, when its application
	// layer protocol is confirmed.
	SessionEvent struct {
		Protocol         application.Protocol
		Client           *network.Host
		Server           *network.Host
		ClientPort       uint16
		ServerPort       uint16
		TCP              bool // false for connectionless sessions
		StartFrameNumber int
		StartTimestamp   time.Time
	}

	// EventSink receives session events. Implementations must be
	// safe for concurrent use if the finders are.
	EventSink interface {
		OnSessionDetected(ev SessionEvent)
	}

	// EventSinkFunc adapts a function to EventSink.
	EventSinkFunc func(ev SessionEvent)
)

func (f EventSinkFunc) OnSessionDetected(ev SessionEvent) {
	f(ev)
}
