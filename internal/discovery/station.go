package discovery

import (
	"fmt"
	"time"
)

// Station represents a discovered shore station on the network.
type Station struct {
	// Instance is the advertised instance name (e.g. "rovlink-shore").
	Instance string

	// Hostname is the mDNS hostname.
	Hostname string

	// IP is the IPv4 address, or the first IPv6 address when no IPv4
	// was advertised.
	IP string

	// Port is the protocol listen port.
	Port int

	// Metadata holds the TXT record data (e.g. "version=1.2.0").
	Metadata map[string]string

	// DiscoveredAt is when the station was discovered.
	DiscoveredAt time.Time
}

// String returns a human-readable description of the station.
func (s *Station) String() string {
	return fmt.Sprintf("Shore station %s (%s) at %s:%d", s.Instance, s.Hostname, s.IP, s.Port)
}

// Addr returns the station's dial address in host:port form.
func (s *Station) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// GetMetadata retrieves a TXT record value by key, or an empty string
// if not present.
func (s *Station) GetMetadata(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}
