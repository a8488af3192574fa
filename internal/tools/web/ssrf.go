package web

import (
	"fmt"
	"net"
	"strings"
)

// privateNets holds the IPv4 ranges the fetcher refuses to reach.
// Parsed once; the CIDR literals are well-formed.
var privateNets = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// CheckSSRF resolves host and rejects it when any address lands in a
// private, loopback, or link-local range. Resolving before the request
// stops redirect tricks where a public name points at internal targets.
func CheckSSRF(host string) error {
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("invalid IP %q for host %q", addr, host)
		}
		if IsPrivateIP(ip) {
			return fmt.Errorf("SSRF blocked: host %q resolves to private IP %s", host, addr)
		}
	}
	return nil
}

// IsPrivateIP reports whether ip belongs to a range that should never be
// reachable from agent-driven fetches.
func IsPrivateIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsUnspecified():
		return true
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	// fc00::/7, IPv6 unique-local.
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

// IsDomainAllowed reports whether host appears in the allowlist. An
// empty allowlist allows nothing; matching is exact and case-folded.
func IsDomainAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowed {
		if strings.ToLower(d) == host {
			return true
		}
	}
	return false
}
