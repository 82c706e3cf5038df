package capture

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheuscscp/protofinder/layers/application"
	"github.com/matheuscscp/protofinder/layers/network"
	"github.com/matheuscscp/protofinder/layers/session"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type (
	// TrackerConfig contains the configs of a Tracker.
	TrackerConfig struct {
		MaxSessions     int  `yaml:"maxSessions"`
		VerifyChecksums bool `yaml:"verifyChecksums"`
		MetricLabels    struct {
			CaptureName string `yaml:"captureName"`
		} `yaml:"metricLabels"`
	}

	// Tracker follows the TCP sessions of a stream of packets, creating
	// a session.TCPPortProtocolFinder for each new session and confirming
	// its protocol with the first dissector that recognizes a payload.
	// All the public methods are thread-safe.
	Tracker struct {
		conf       TrackerConfig
		hosts      network.HostRegistry
		dissectors application.DissectorSet
		sink       session.EventSink
		l          logrus.FieldLogger

		sessionsMu sync.Mutex
		sessions   *lru.Cache[sessionKey, *trackedSession]

		packets           prometheus.Counter
		decodeErrors      prometheus.Counter
		newSessions       prometheus.Counter
		discardedSessions prometheus.Counter
		trackedSessions   prometheus.Gauge
	}

	sessionKey struct {
		clientIPAddress gopacket.Endpoint
		serverIPAddress gopacket.Endpoint
		clientPort      uint16
		serverPort      uint16
	}

	trackedSession struct {
		key    sessionKey
		finder *session.TCPPortProtocolFinder

		// set once a segment with payload is seen
		carriedPayload atomic.Bool
	}
)

var (
	metricLabelsTracker = []string{labelNameCaptureName}

	packets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemTracker,
		Name:      "packets",
		Help:      "Total number of packets handled by the tracker.",
	}, metricLabelsTracker)
	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemTracker,
		Name:      "decode_errors",
		Help:      "Total number of packets dropped due to decoding or checksum errors.",
	}, metricLabelsTracker)
	newSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemTracker,
		Name:      "new_sessions",
		Help:      "Total number of TCP sessions created.",
	}, metricLabelsTracker)
	discardedSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemTracker,
		Name:      "discarded_sessions",
		Help:      "Total number of TCP sessions discarded after a reset or evicted from a full session table.",
	}, metricLabelsTracker)
	trackedSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemTracker,
		Name:      "tracked_sessions",
		Help:      "Number of TCP sessions currently in the session table.",
	}, metricLabelsTracker)
)

// Validate returns all the problems found in the config.
func (c *TrackerConfig) Validate() error {
	var err error
	if c.MaxSessions < 0 {
		err = multierror.Append(err, fmt.Errorf("%w: %d", ErrInvalidMaxSessions, c.MaxSessions))
	}
	return err
}

// NewTracker creates a Tracker from config. Confirmed sessions are
// reported to sink, which may be nil.
func NewTracker(conf TrackerConfig, dissectors application.DissectorSet, sink session.EventSink) (*Tracker, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}
	if conf.MaxSessions == 0 {
		conf.MaxSessions = DefaultMaxSessions
	}
	if conf.MetricLabels.CaptureName == "" {
		conf.MetricLabels.CaptureName = defaultCaptureName
	}
	if dissectors == nil {
		dissectors = application.DefaultDissectors()
	}
	metricLabels := prometheus.Labels{
		labelNameCaptureName: conf.MetricLabels.CaptureName,
	}
	t := &Tracker{
		conf:       conf,
		dissectors: dissectors,
		sink:       sink,
		l:          logrus.WithField("capture_name", conf.MetricLabels.CaptureName),

		packets:           packets.With(metricLabels),
		decodeErrors:      decodeErrors.With(metricLabels),
		newSessions:       newSessions.With(metricLabels),
		discardedSessions: discardedSessions.With(metricLabels),
		trackedSessions:   trackedSessions.With(metricLabels),
	}
	sessions, err := lru.NewWithEvict(conf.MaxSessions, t.onSessionDiscarded)
	if err != nil {
		return nil, fmt.Errorf("error creating session table: %w", err)
	}
	t.sessions = sessions
	return t, nil
}

// HandlePacket updates the session the packet belongs to. Packets
// that do not carry a TCP segment are ignored.
func (t *Tracker) HandlePacket(frameNumber int, pkt gopacket.Packet) error {
	t.packets.Inc()

	datagram := pkt.NetworkLayer()
	segment, _ := pkt.Layer(gplayers.LayerTypeTCP).(*gplayers.TCP)
	if datagram == nil || segment == nil {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			t.decodeErrors.Inc()
			return fmt.Errorf("error decoding frame %d: %w", frameNumber, errLayer.Error())
		}
		return nil
	}
	srcIPAddress, dstIPAddress, ok := ipAddresses(datagram)
	if !ok {
		return nil
	}
	if t.conf.VerifyChecksums {
		if err := validateChecksum(datagram, segment); err != nil {
			t.decodeErrors.Inc()
			return fmt.Errorf("error validating checksum of frame %d: %w", frameNumber, err)
		}
	}

	s, fromServer := t.loadOrStoreSession(
		frameNumber,
		pkt.Metadata().Timestamp,
		srcIPAddress, dstIPAddress,
		segment,
	)
	if s == nil {
		return nil
	}

	if segment.SYN && segment.ACK && fromServer {
		s.finder.Server().AddServicePort(s.key.serverPort)
	}

	if len(segment.Payload) > 0 {
		s.carriedPayload.Store(true)
	}
	if len(segment.Payload) > 0 && !s.finder.Confirmed() {
		if p, ok := t.dissectors.Dissect(s.finder.ProbableProtocols(), segment.Payload, fromServer); ok {
			s.finder.SetConfirmedProtocol(p)
		}
	}

	if segment.RST {
		t.sessionsMu.Lock()
		t.sessions.Remove(s.key)
		t.trackedSessions.Set(float64(t.sessions.Len()))
		t.sessionsMu.Unlock()
	}

	return nil
}

// Session returns the finder of the session between the given endpoints, if tracked.
func (t *Tracker) Session(
	clientIPAddress, serverIPAddress net.IP,
	clientPort, serverPort uint16,
) (session.SessionProtocolFinder, bool) {
	s, ok := t.sessions.Peek(sessionKey{
		clientIPAddress: gplayers.NewIPEndpoint(clientIPAddress),
		serverIPAddress: gplayers.NewIPEndpoint(serverIPAddress),
		clientPort:      clientPort,
		serverPort:      serverPort,
	})
	if !ok {
		return nil, false
	}
	return s.finder, true
}

// Sessions returns the number of tracked sessions.
func (t *Tracker) Sessions() int {
	return t.sessions.Len()
}

// Hosts returns the registry of the hosts seen so far.
func (t *Tracker) Hosts() *network.HostRegistry {
	return &t.hosts
}

// loadOrStoreSession finds the session of the segment or creates one. The
// client of a new session is the sender of a SYN, the receiver of a SYN+ACK,
// or otherwise the endpoint with the highest port. Stray RST segments do
// not create sessions. A SYN reusing the endpoints of a session that already
// carried payload replaces that session, since closed sessions are only
// dropped from the table on RST or eviction.
func (t *Tracker) loadOrStoreSession(
	frameNumber int,
	timestamp time.Time,
	srcIPAddress, dstIPAddress net.IP,
	segment *gplayers.TCP,
) (*trackedSession, bool) {
	srcPort, dstPort := uint16(segment.SrcPort), uint16(segment.DstPort)
	srcEndpoint, dstEndpoint := gplayers.NewIPEndpoint(srcIPAddress), gplayers.NewIPEndpoint(dstIPAddress)
	fromClient := sessionKey{srcEndpoint, dstEndpoint, srcPort, dstPort}
	fromServer := sessionKey{dstEndpoint, srcEndpoint, dstPort, srcPort}

	t.sessionsMu.Lock()
	defer t.sessionsMu.Unlock()

	newSYN := segment.SYN && !segment.ACK
	if s, ok := t.sessions.Get(fromClient); ok {
		if !newSYN || !s.carriedPayload.Load() {
			return s, false
		}
		t.sessions.Remove(fromClient)
	}
	if s, ok := t.sessions.Get(fromServer); ok {
		if !newSYN || !s.carriedPayload.Load() {
			return s, true
		}
		t.sessions.Remove(fromServer)
	}
	if segment.RST {
		return nil, false
	}

	key, clientIPAddress, serverIPAddress, isServer := fromClient, srcIPAddress, dstIPAddress, false
	switch {
	case segment.SYN && !segment.ACK:
	case segment.SYN && segment.ACK, srcPort < dstPort:
		key, clientIPAddress, serverIPAddress, isServer = fromServer, dstIPAddress, srcIPAddress, true
	}

	s := &trackedSession{
		key: key,
		finder: session.NewTCPPortProtocolFinder(
			t.hosts.LoadOrStoreHost(clientIPAddress),
			t.hosts.LoadOrStoreHost(serverIPAddress),
			key.clientPort,
			key.serverPort,
			frameNumber,
			timestamp,
			t.sink,
		),
	}
	t.sessions.Add(key, s)
	t.newSessions.Inc()
	t.trackedSessions.Set(float64(t.sessions.Len()))

	t.sessionLogger(s).
		WithField("start_frame", frameNumber).
		WithField("candidates", s.finder.ProbableProtocols()).
		Debug("new tcp session")

	return s, isServer
}

func (t *Tracker) onSessionDiscarded(key sessionKey, s *trackedSession) {
	t.discardedSessions.Inc()
	t.sessionLogger(s).
		WithField("confirmed", s.finder.Confirmed()).
		WithField("protocol", s.finder.ConfirmedProtocol().String()).
		Debug("tcp session discarded")
}

func (t *Tracker) sessionLogger(s *trackedSession) logrus.FieldLogger {
	return t.l.
		WithField("client_addr", fmt.Sprintf("%s:%d", s.key.clientIPAddress, s.key.clientPort)).
		WithField("server_addr", fmt.Sprintf("%s:%d", s.key.serverIPAddress, s.key.serverPort))
}

func ipAddresses(datagram gopacket.NetworkLayer) (src, dst net.IP, ok bool) {
	switch d := datagram.(type) {
	case *gplayers.IPv4:
		return d.SrcIP, d.DstIP, true
	case *gplayers.IPv6:
		return d.SrcIP, d.DstIP, true
	}
	return nil, nil, false
}
