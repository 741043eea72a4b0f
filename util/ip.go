package util

import (
	"fmt"
	"net"
	"net/netip"
)

func Read(c *net.UDPConn, buf []byte) (n int, remoteAddr *net.UDPAddr, err error) {
	n, remoteAddr, err = c.ReadFromUDP(buf)
	if err != nil {
		return -1, nil, err
	}

	return n, remoteAddr, nil
}

// ParseIP accepts a literal address only.
func ParseIP(raw string) (net.IP, error) {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ip %q: %w", raw, err)
	}
	return net.IP(addr.Unmap().AsSlice()), nil
}
