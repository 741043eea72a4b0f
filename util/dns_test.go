package util

import (
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestParseNameservers(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{name: "defaults", raw: "8.8.8.8,1.1.1.1", want: []string{"8.8.8.8:53", "1.1.1.1:53"}},
		{name: "port", raw: "127.0.0.1:5300", want: []string{"127.0.0.1:5300"}},
		{name: "ipv6", raw: "2001:4860:4860::8888, [2606:4700::1111]:53", want: []string{"[2001:4860:4860::8888]:53", "[2606:4700::1111]:53"}},
		{name: "spaces", raw: " 9.9.9.9 ,, ", want: []string{"9.9.9.9:53"}},
		{name: "hostname", raw: "dns.google", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNameservers(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDNSFirstAddress(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("dns.example.", dns.TypeA)
	m.Answer = []dns.RR{
		&dns.CNAME{Hdr: dns.RR_Header{Name: "dns.example.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 30}, Target: "edge.example."},
		&dns.A{Hdr: dns.RR_Header{Name: "edge.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: net.IPv4(192, 0, 2, 10)},
		&dns.A{Hdr: dns.RR_Header{Name: "edge.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 10}, A: net.IPv4(192, 0, 2, 11)},
	}

	ip, ttl, ok := DNSFirstAddress(m, dns.TypeA)
	require.True(t, ok)
	require.Equal(t, netip.MustParseAddr("192.0.2.10"), ip)
	require.Equal(t, uint32(30), ttl)

	_, _, ok = DNSFirstAddress(m, dns.TypeAAAA)
	require.False(t, ok)

	_, _, ok = DNSFirstAddress(nil, dns.TypeA)
	require.False(t, ok)
}
