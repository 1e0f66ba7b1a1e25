// Package discovery implements mDNS service discovery for shore
// stations.
//
// # Service Type
//
// A shore station advertises itself as a "_rovshore._tcp" service in
// the "local." domain, carrying its protocol port and a TXT record with
// the software version. A vehicle with no configured shore address
// browses for that service type and connects to the first station that
// resolves.
//
// # Usage
//
// On the shore side:
//
//	adv, err := discovery.Advertise("rovlink-shore", 65432)
//	if err != nil { ... }
//	defer adv.Shutdown()
//
// On the vehicle side:
//
//	station, err := discovery.FindStation(ctx, 10*time.Second)
//	if err != nil { ... }
//	addr := station.Addr()
package discovery
