package network

import (
	"net"
	"sort"
	"sync"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
)

type (
	// HostRegistry maps IP addresses to the Hosts observed with them.
	// All the public methods are thread-safe.
	HostRegistry struct {
		mp map[gopacket.Endpoint]*Host
		mu sync.RWMutex
	}
)

// FindHost returns the Host registered for the IP address, if any.
func (r *HostRegistry) FindHost(ipAddress net.IP) (*Host, bool) {
	k := gplayers.NewIPEndpoint(ipAddress)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.mp == nil {
		return nil, false
	}

	h, ok := r.mp[k]
	return h, ok
}

// LoadOrStoreHost returns the Host registered for the IP address,
// creating and registering a new one if none exists.
func (r *HostRegistry) LoadOrStoreHost(ipAddress net.IP) *Host {
	if h, ok := r.FindHost(ipAddress); ok {
		return h
	}
	k := gplayers.NewIPEndpoint(ipAddress)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mp == nil {
		r.mp = make(map[gopacket.Endpoint]*Host)
	}
	if h, ok := r.mp[k]; ok { // stored while the lock was released
		return h
	}
	h := NewHost(ipAddress)
	r.mp[k] = h
	return h
}

// Hosts returns the registered hosts sorted by IP address.
func (r *HostRegistry) Hosts() []*Host {
	r.mu.RLock()
	hosts := make([]*Host, 0, len(r.mp))
	for _, h := range r.mp {
		hosts = append(hosts, h)
	}
	r.mu.RUnlock()

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].ipAddress.LessThan(hosts[j].ipAddress)
	})
	return hosts
}

func (r *HostRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mp)
}
