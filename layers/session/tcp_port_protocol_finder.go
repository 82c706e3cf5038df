package session

import (
	"sync/atomic"
	"time"

	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/layers/network"

	gplayers "github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type (
	// SessionProtocolFinder guesses the application layer protocol of
	// a transport session until a dissector confirms it.
	SessionProtocolFinder interface {
		Client() *network.Host
		Server() *network.Host
		ClientPort() uint16
		ServerPort() uint16
		TransportProtocol() gplayers.IPProtocol

		// ProbableProtocols returns the candidates in the order they
		// should be tried, or only the confirmed protocol once there
		// is one.
		ProbableProtocols() []application.Protocol

		// SetConfirmedProtocol confirms the protocol of the session.
		// Only the first call has any effect.
		SetConfirmedProtocol(p application.Protocol)
		ConfirmedProtocol() application.Protocol
		Confirmed() bool
	}

	// TCPPortProtocolFinder is a SessionProtocolFinder for TCP sessions
	// based on well-known server (and sometimes client) ports.
	TCPPortProtocolFinder struct {
		client     *network.Host
		server     *network.Host
		clientPort uint16
		serverPort uint16

		startFrameNumber int
		startTimestamp   time.Time

		sink EventSink

		probableProtocols []application.Protocol

		// zero while unconfirmed, uint32(protocol)+1 afterwards
		confirmed atomic.Uint32
	}
)

var (
	confirmedSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "confirmed_sessions",
		Help:      "Total number of sessions whose application layer protocol was confirmed.",
	}, []string{labelNameTransport, labelNameProtocol})
	ignoredConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "ignored_confirmations",
		Help:      "Total number of confirmations ignored because the session was already confirmed.",
	}, []string{labelNameTransport})

	_ SessionProtocolFinder = (*TCPPortProtocolFinder)(nil)
)

// ProbableTCPProtocols returns the candidate protocols for a TCP session
// between the given ports, without any host or event sink.
func ProbableTCPProtocols(serverPort, clientPort uint16) []application.Protocol {
	return NewTCPPortProtocolFinder(nil, nil, clientPort, serverPort, 0, time.Time{}, nil).ProbableProtocols()
}

// NewTCPPortProtocolFinder creates the finder of a new TCP session.
// client, server and sink may be nil, in which case confirmations
// skip the host metadata update and the event, respectively.
func NewTCPPortProtocolFinder(
	client, server *network.Host,
	clientPort, serverPort uint16,
	startFrameNumber int,
	startTimestamp time.Time,
	sink EventSink,
) *TCPPortProtocolFinder {
	return &TCPPortProtocolFinder{
		client:            client,
		server:            server,
		clientPort:        clientPort,
		serverPort:        serverPort,
		startFrameNumber:  startFrameNumber,
		startTimestamp:    startTimestamp,
		sink:              sink,
		probableProtocols: probableProtocols(tcpPortRules, serverPort, clientPort),
	}
}

func (t *TCPPortProtocolFinder) Client() *network.Host {
	return t.client
}

func (t *TCPPortProtocolFinder) Server() *network.Host {
	return t.server
}

func (t *TCPPortProtocolFinder) ClientPort() uint16 {
	return t.clientPort
}

func (t *TCPPortProtocolFinder) ServerPort() uint16 {
	return t.serverPort
}

func (t *TCPPortProtocolFinder) TransportProtocol() gplayers.IPProtocol {
	return gplayers.IPProtocolTCP
}

func (t *TCPPortProtocolFinder) StartFrameNumber() int {
	return t.startFrameNumber
}

func (t *TCPPortProtocolFinder) StartTimestamp() time.Time {
	return t.startTimestamp
}

func (t *TCPPortProtocolFinder) ProbableProtocols() []application.Protocol {
	if p, ok := t.load(); ok {
		return []application.Protocol{p}
	}
	protocols := make([]application.Protocol, len(t.probableProtocols))
	copy(protocols, t.probableProtocols)
	return protocols
}

func (t *TCPPortProtocolFinder) ConfirmedProtocol() application.Protocol {
	p, _ := t.load()
	return p
}

func (t *TCPPortProtocolFinder) Confirmed() bool {
	_, ok := t.load()
	return ok
}

// SetConfirmedProtocol freezes the protocol of the session at p. If the
// session was not confirmed yet, the event sink is notified and, when p is
// not ProtocolUnknown, the server's metadata for the server port (if any)
// is updated. Confirming with ProtocolUnknown also freezes the session,
// so no later confirmation can take effect.
func (t *TCPPortProtocolFinder) SetConfirmedProtocol(p application.Protocol) {
	transport := t.TransportProtocol().String()
	if !t.confirmed.CompareAndSwap(0, uint32(p)+1) {
		ignoredConfirmations.WithLabelValues(transport).Inc()
		t.logger().
			WithField("protocol", p.String()).
			WithField("confirmed_protocol", t.ConfirmedProtocol().String()).
			Debug("session already confirmed, ignoring confirmation")
		return
	}
	confirmedSessions.WithLabelValues(transport, p.String()).Inc()

	if t.sink != nil {
		t.sink.OnSessionDetected(SessionEvent{
			Protocol:         p,
			Client:           t.client,
			Server:           t.server,
			ClientPort:       t.clientPort,
			ServerPort:       t.serverPort,
			TCP:              true,
			StartFrameNumber: t.startFrameNumber,
			StartTimestamp:   t.startTimestamp,
		})
	}

	if p == application.ProtocolUnknown || t.server == nil {
		return
	}
	if s, ok := t.server.ServiceMetadata(t.serverPort); ok {
		s.SetProtocol(p)
	}
}

func (t *TCPPortProtocolFinder) load() (application.Protocol, bool) {
	v := t.confirmed.Load()
	if v == 0 {
		return application.ProtocolUnknown, false
	}
	return application.Protocol(v - 1), true
}

func (t *TCPPortProtocolFinder) logger() logrus.FieldLogger {
	l := logrus.
		WithField("client_port", t.clientPort).
		WithField("server_port", t.serverPort).
		WithField("start_frame", t.startFrameNumber)
	if t.client != nil {
		l = l.WithField("client", t.client.String())
	}
	if t.server != nil {
		l = l.WithField("server", t.server.String())
	}
	return l
}
