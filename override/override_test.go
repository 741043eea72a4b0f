package override

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreEmpty(t *testing.T) {
	s := New()
	require.Nil(t, s.Load())

	got, ok := s.Lookup("dns.example:443")
	require.False(t, ok)
	require.Equal(t, "dns.example:443", got)
}

func TestStoreLookup(t *testing.T) {
	s := New()
	s.Store(&Entry{Host: "dns.example", Port: 443, Addr: netip.MustParseAddr("192.0.2.1")})

	tests := []struct {
		name string
		addr string
		want string
		ok   bool
	}{
		{name: "match", addr: "dns.example:443", want: "192.0.2.1:443", ok: true},
		{name: "other port", addr: "dns.example:8443", want: "dns.example:8443", ok: false},
		{name: "other host", addr: "dns.google:443", want: "dns.google:443", ok: false},
		{name: "no port", addr: "dns.example", want: "dns.example", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Lookup(tt.addr)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStoreIPv6Target(t *testing.T) {
	e := &Entry{Host: "dns.example", Port: 443, Addr: netip.MustParseAddr("2001:db8::1")}
	require.Equal(t, "[2001:db8::1]:443", e.Target())
	require.Equal(t, "dns.example:443", e.Key())
	require.Equal(t, 6, e.Family())
}

func TestStoreReplacesWholesale(t *testing.T) {
	s := New()
	first := &Entry{Host: "dns.example", Port: 443, Addr: netip.MustParseAddr("192.0.2.1")}
	second := &Entry{Host: "dns.example", Port: 443, Addr: netip.MustParseAddr("192.0.2.2")}

	s.Store(first)
	s.Store(second)
	require.Same(t, second, s.Load())
	require.Equal(t, uint64(2), s.Version())

	s.Store(nil)
	require.Same(t, second, s.Load())

	s.Reset()
	require.Nil(t, s.Load())
}

// Readers racing a writer only ever observe complete entries, and never an
// entry older than one already observed.
func TestStoreConcurrentSnapshots(t *testing.T) {
	s := New()
	entries := make([]*Entry, 256)
	index := make(map[*Entry]int, len(entries))
	for i := range entries {
		entries[i] = &Entry{Host: "dns.example", Port: 443, Addr: netip.AddrFrom4([4]byte{192, 0, 2, byte(i)})}
		index[entries[i]] = i
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, e := range entries {
			s.Store(e)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for i := 0; i < 2000; i++ {
				e := s.Load()
				if e == nil {
					continue
				}
				n, ok := index[e]
				if !ok {
					t.Errorf("unknown entry %+v", e)
					return
				}
				if n < last {
					t.Errorf("stale entry %d after %d", n, last)
					return
				}
				last = n
				if e.Addr.As4()[3] != byte(n) {
					t.Errorf("torn entry %d %s", n, e.Addr)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Same(t, entries[len(entries)-1], s.Load())
}
