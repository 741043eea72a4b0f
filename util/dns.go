package util

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

const dnsPort = "53"

// ParseNameservers splits a comma separated list of "ip" or "ip:port" into
// dialable addresses, port 53 by default. Hostnames are refused: bootstrap
// servers must not need a resolver themselves.
func ParseNameservers(raw string) ([]string, error) {
	var servers []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if len(s) == 0 {
			continue
		}

		if ip, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
			servers = append(servers, net.JoinHostPort(ip.String(), dnsPort))
			continue
		}

		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, fmt.Errorf("invalid nameserver %q: %w", s, err)
		}
		servers = append(servers, ap.String())
	}

	if len(servers) == 0 {
		return nil, fmt.Errorf("no nameserver in %q", raw)
	}

	return servers, nil
}

// DNSSplitAnswer returns the address of an A or AAAA record.
func DNSSplitAnswer(rr dns.RR) (netip.Addr, bool) {
	switch rr := rr.(type) {
	case *dns.A:
		return netip.AddrFromSlice(rr.A.To4())
	case *dns.AAAA:
		return netip.AddrFromSlice(rr.AAAA.To16())
	default:
		return netip.Addr{}, false
	}
}

// DNSFirstAddress returns the first address of type qType in the answer
// section together with the smallest TTL seen on the way, CNAMEs included.
func DNSFirstAddress(m *dns.Msg, qType uint16) (netip.Addr, uint32, bool) {
	if m == nil {
		return netip.Addr{}, 0, false
	}

	var ttl uint32
	var seen bool
	for _, rr := range m.Answer {
		h := rr.Header()
		if !seen || h.Ttl < ttl {
			ttl = h.Ttl
			seen = true
		}

		if h.Rrtype != qType {
			continue
		}

		if ip, ok := DNSSplitAnswer(rr); ok {
			return ip, ttl, true
		}
	}

	return netip.Addr{}, 0, false
}
