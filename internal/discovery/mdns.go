package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/driftlab/rovlink/internal/version"
)

const (
	// ServiceType is the mDNS service type shore stations advertise as.
	ServiceType = "_rovshore._tcp"

	// ServiceDomain is the mDNS domain (typically "local.").
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for station discovery.
	DefaultScanTimeout = 10 * time.Second
)

// Advertiser keeps a shore station's mDNS registration alive until
// Shutdown is called.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the shore station on the local network. The
// instance name distinguishes stations when more than one is up.
func Advertise(instance string, port int) (*Advertiser, error) {
	txt := []string{fmt.Sprintf("version=%s", version.Version)}
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the mDNS registration.
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
	}
}

// Scanner handles mDNS shore-station discovery.
type Scanner struct {
	// Timeout is the maximum time to wait for discovery.
	Timeout time.Duration
}

// NewScanner creates a scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForStations discovers all shore stations on the local network.
func (s *Scanner) ScanForStations(ctx context.Context) ([]*Station, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	stations := make([]*Station, 0)
	done := make(chan struct{})

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(done)
		for entry := range entries {
			if station := parseServiceEntry(entry); station != nil {
				stations = append(stations, station)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-done

	return stations, nil
}

// WaitForStation blocks until any shore station resolves, or the
// timeout elapses.
func (s *Scanner) WaitForStation(ctx context.Context) (*Station, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	stationChan := make(chan *Station, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if station := parseServiceEntry(entry); station != nil {
				select {
				case stationChan <- station:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case station := <-stationChan:
		return station, nil
	case <-ctx.Done():
		select {
		case station := <-stationChan:
			return station, nil
		default:
		}
		return nil, fmt.Errorf("no shore station found within %s", s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Station.
// Returns nil when the entry carries no usable address or port.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Station {
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	// TXT records are "key=value" pairs, bare keys map to "".
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Station{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// FindStation is a convenience wrapper: browse with the given timeout
// and return the first shore station that resolves.
func FindStation(ctx context.Context, timeout time.Duration) (*Station, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.WaitForStation(ctx)
}
