package resolver

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/treemana/godoh/override"
)

type record struct {
	qType uint16
	rr    string
}

// newNameserver serves the given records over UDP and TCP on the same
// loopback port. A nil handler answers from records.
func newNameserver(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	var pc net.PacketConn
	var ln net.Listener
	var err error
	for i := 0; i < 10; i++ {
		if pc, err = net.ListenPacket("udp", "127.0.0.1:0"); err != nil {
			continue
		}
		if ln, err = net.Listen("tcp", pc.LocalAddr().String()); err == nil {
			break
		}
		_ = pc.Close()
	}
	require.NoError(t, err)

	udp := &dns.Server{PacketConn: pc, Handler: handler}
	tcp := &dns.Server{Listener: ln, Handler: handler}
	go func() { _ = udp.ActivateAndServe() }()
	go func() { _ = tcp.ActivateAndServe() }()
	t.Cleanup(func() {
		_ = udp.Shutdown()
		_ = tcp.Shutdown()
	})

	return pc.LocalAddr().String()
}

func answer(records ...record) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		for _, r := range records {
			if r.qType != req.Question[0].Qtype {
				continue
			}
			rr, err := dns.NewRR(r.rr)
			if err == nil {
				resp.Answer = append(resp.Answer, rr)
			}
		}
		_ = w.WriteMsg(resp)
	}
}

func deadAddr(t *testing.T) string {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())
	return addr
}

func TestResolve(t *testing.T) {
	v4 := answer(
		record{dns.TypeA, "dns.example. 300 IN A 192.0.2.53"},
		record{dns.TypeAAAA, "dns.example. 300 IN AAAA 2001:db8::53"},
	)
	v6 := answer(record{dns.TypeAAAA, "dns.example. 60 IN AAAA 2001:db8::53"})
	cname := answer(
		record{dns.TypeA, "dns.example. 30 IN CNAME edge.example."},
		record{dns.TypeA, "edge.example. 600 IN A 192.0.2.80"},
	)

	tests := []struct {
		name     string
		handler  dns.HandlerFunc
		ipv4Only bool
		want     string
		wantTTL  time.Duration
		wantErr  bool
	}{
		{name: "a preferred", handler: v4, want: "192.0.2.53", wantTTL: 300 * time.Second},
		{name: "aaaa fallback", handler: v6, want: "2001:db8::53", wantTTL: time.Minute},
		{name: "ipv4 only", handler: v6, ipv4Only: true, wantErr: true},
		{name: "cname", handler: cname, want: "192.0.2.80", wantTTL: 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := newNameserver(t, tt.handler)
			p, err := NewPoller(Options{
				Nameservers: []string{addr},
				Hostname:    "dns.example",
				IPv4Only:    tt.ipv4Only,
				Timeout:     time.Second,
			}, func(*override.Entry) {})
			require.NoError(t, err)

			got, err := p.Resolve(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, netip.MustParseAddr(tt.want), got.Addr)
			require.Equal(t, "dns.example", got.Host)
			require.Equal(t, 443, got.Port)
			require.Equal(t, tt.wantTTL, got.TTL)
		})
	}
}

func TestResolveFailover(t *testing.T) {
	addr := newNameserver(t, answer(record{dns.TypeA, "dns.example. 300 IN A 192.0.2.53"}))

	p, err := NewPoller(Options{
		Nameservers: []string{deadAddr(t), addr},
		Hostname:    "dns.example",
		Timeout:     500 * time.Millisecond,
	}, func(*override.Entry) {})
	require.NoError(t, err)

	got, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.53"), got.Addr)
	require.Equal(t, uint32(1), p.next.Load())
}

func TestResolveTruncated(t *testing.T) {
	addr := newNameserver(t, func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if w.RemoteAddr().Network() == "udp" {
			resp.Truncated = true
		} else {
			rr, _ := dns.NewRR("dns.example. 300 IN A 192.0.2.54")
			resp.Answer = append(resp.Answer, rr)
		}
		_ = w.WriteMsg(resp)
	})

	p, err := NewPoller(Options{Nameservers: []string{addr}, Hostname: "dns.example", Timeout: time.Second}, func(*override.Entry) {})
	require.NoError(t, err)

	got, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.54"), got.Addr)
}

func TestPollerPublishes(t *testing.T) {
	addr := newNameserver(t, answer(record{dns.TypeA, "dns.example. 0 IN A 192.0.2.53"}))

	store := override.New()
	var calls atomic.Int32
	p, err := NewPoller(Options{
		Nameservers: []string{addr},
		Hostname:    "dns.example",
		Timeout:     time.Second,
		MinInterval: 20 * time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
	}, func(e *override.Entry) {
		store.Store(e)
		calls.Add(1)
	})
	require.NoError(t, err)

	p.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 10*time.Millisecond)
	p.Stop()

	stopped := calls.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, stopped, calls.Load())

	e := store.Load()
	require.NotNil(t, e)
	require.Equal(t, "dns.example:443", e.Key())
	require.Equal(t, "192.0.2.53:443", e.Target())
}

func TestPollerFailureNeverPublishes(t *testing.T) {
	var queries atomic.Int32
	addr := newNameserver(t, func(w dns.ResponseWriter, req *dns.Msg) {
		queries.Add(1)
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
		_ = w.WriteMsg(resp)
	})

	var mu sync.Mutex
	var published []*override.Entry
	p, err := NewPoller(Options{
		Nameservers: []string{addr},
		Hostname:    "dns.example",
		Timeout:     time.Second,
		Backoff:     10 * time.Millisecond,
		MinInterval: 10 * time.Millisecond,
		MaxInterval: 40 * time.Millisecond,
	}, func(e *override.Entry) {
		mu.Lock()
		published = append(published, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	p.Start()
	require.Eventually(t, func() bool { return queries.Load() >= 6 }, 5*time.Second, 10*time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, published)
}

func TestNewPoller(t *testing.T) {
	cb := func(*override.Entry) {}

	_, err := NewPoller(Options{Hostname: "dns.example"}, cb)
	require.Error(t, err)

	_, err = NewPoller(Options{Nameservers: []string{"127.0.0.1:53"}}, cb)
	require.Error(t, err)

	_, err = NewPoller(Options{Nameservers: []string{"127.0.0.1:53"}, Hostname: "dns.example"}, nil)
	require.Error(t, err)

	p, err := NewPoller(Options{Nameservers: []string{"127.0.0.1:53"}, Hostname: "dns.example", MinInterval: 10 * time.Minute}, cb)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, p.opt.MaxInterval)
	require.Equal(t, 443, p.opt.Port)

	// never started
	p.Stop()
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{ttl: 0, want: 5 * time.Second},
		{ttl: 3 * time.Second, want: 5 * time.Second},
		{ttl: 100 * time.Second, want: 90 * time.Second},
		{ttl: time.Hour, want: 120 * time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, nextInterval(tt.ttl, defaultMinInterval, defaultMaxInterval), "ttl=%s", tt.ttl)
	}
}
