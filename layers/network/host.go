package network

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/matheuscscp/protofinder/layers/application"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
)

type (
	// Host is a network host observed in a capture. All the public
	// methods are thread-safe.
	Host struct {
		ipAddress gopacket.Endpoint
		alias     string

		servicesMu sync.RWMutex
		services   map[uint16]*ServiceMetadata
	}

	// ServiceMetadata is what is known about a service a Host
	// exposes on a given port.
	ServiceMetadata struct {
		port     uint16
		protocol atomic.Uint32
	}
)

// NewHost creates a Host for the given IP address with a random
// human-friendly alias.
func NewHost(ipAddress net.IP) *Host {
	return &Host{
		ipAddress: gplayers.NewIPEndpoint(ipAddress),
		alias:     petname.Generate(2, "-"),
		services:  make(map[uint16]*ServiceMetadata),
	}
}

func (h *Host) IPAddress() gopacket.Endpoint {
	return h.ipAddress
}

func (h *Host) Alias() string {
	return h.alias
}

func (h *Host) String() string {
	return h.ipAddress.String()
}

// AddServicePort returns the ServiceMetadata for port, creating it
// (with an unknown protocol) if it does not exist yet.
func (h *Host) AddServicePort(port uint16) *ServiceMetadata {
	h.servicesMu.Lock()
	defer h.servicesMu.Unlock()

	if s, ok := h.services[port]; ok {
		return s
	}
	s := &ServiceMetadata{port: port}
	h.services[port] = s
	return s
}

// ServiceMetadata returns the metadata for port, if any.
func (h *Host) ServiceMetadata(port uint16) (*ServiceMetadata, bool) {
	h.servicesMu.RLock()
	defer h.servicesMu.RUnlock()

	s, ok := h.services[port]
	return s, ok
}

// ServicePorts returns the ports with service metadata in ascending order.
func (h *Host) ServicePorts() []uint16 {
	h.servicesMu.RLock()
	ports := make([]uint16, 0, len(h.services))
	for port := range h.services {
		ports = append(ports, port)
	}
	h.servicesMu.RUnlock()

	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (s *ServiceMetadata) Port() uint16 {
	return s.port
}

func (s *ServiceMetadata) Protocol() application.Protocol {
	return application.Protocol(s.protocol.Load())
}

func (s *ServiceMetadata) SetProtocol(p application.Protocol) {
	s.protocol.Store(uint32(p))
}
