package upstream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/override"
	godohtls "github.com/treemana/godoh/tls"
)

const (
	HTTP11 = "1.1"
	HTTP2  = "2"
	HTTP3  = "3"

	defaultTimeout     = 10 * time.Second
	defaultIdleTimeout = 118 * time.Second
	defaultMaxIdle     = 8
	dialTimeout        = 5 * time.Second
	keepAlive          = 30 * time.Second
)

type Options struct {
	URL string

	// Timeout bounds one fetch end to end
	Timeout time.Duration

	// Proxy outbound proxy url, http https socks5 socks5h
	Proxy string

	// HTTPVersion 1.1, 2 (default) or 3
	HTTPVersion string

	// SourceAddr local address for outbound connections, nil means any
	SourceAddr net.IP

	// PinnedOnly refuses to dial the resolver hostname without an override
	// entry, it is never handed to the system resolver.
	PinnedOnly bool

	MaxIdleConns int
	IdleTimeout  time.Duration

	TLS godohtls.Options
}

// generation is the transport serving one pinned address. A new one is
// built when the poller publishes a different address, so no fetch started
// afterwards rides a connection to the old one.
type generation struct {
	addr      netip.Addr
	client    *http.Client
	transport http.RoundTripper
}

// Client posts raw DNS messages to one DoH endpoint. It is safe for
// concurrent use.
type Client struct {
	opt      Options
	endpoint string
	host     string

	override  *override.Store
	tlsConfig *tls.Config
	dial      dialFunc
	proxyFn   func(*http.Request) (*url.URL, error)

	mu  sync.Mutex // serializes generation changes
	gen atomic.Pointer[generation]
}

func New(opt Options, store *override.Store) (*Client, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, fmt.Errorf("resolver url: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("resolver url scheme %q not supported", u.Scheme)
	}

	if len(u.Hostname()) == 0 {
		return nil, errors.New("resolver url has no host")
	}

	if store == nil {
		store = override.New()
	}

	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = defaultIdleTimeout
	}
	if opt.MaxIdleConns <= 0 {
		opt.MaxIdleConns = defaultMaxIdle
	}
	if len(opt.HTTPVersion) == 0 {
		opt.HTTPVersion = HTTP2
	}

	c := &Client{
		opt:      opt,
		endpoint: u.String(),
		host:     u.Hostname(),
		override: store,
	}

	switch opt.HTTPVersion {
	case HTTP11, HTTP2:
	case HTTP3:
		if len(opt.Proxy) > 0 {
			return nil, errors.New("http/3 can not be used through a proxy")
		}
		if opt.SourceAddr != nil {
			return nil, errors.New("http/3 does not support a source address")
		}
	default:
		return nil, fmt.Errorf("unknown http version '%s'", opt.HTTPVersion)
	}

	if c.tlsConfig, err = godohtls.NewConfig(opt.TLS); err != nil {
		return nil, err
	}

	if c.dial, c.proxyFn, err = c.dialer(opt); err != nil {
		return nil, err
	}

	g, err := c.newGeneration(c.pinned())
	if err != nil {
		return nil, err
	}
	c.gen.Store(g)

	log.Sugar.Infof("upstream %s, http/%s, timeout %s", c.endpoint, opt.HTTPVersion, opt.Timeout)

	return c, nil
}

func (c *Client) pinned() netip.Addr {
	if e := c.override.Load(); e != nil {
		return e.Addr
	}
	return netip.Addr{}
}

// current returns the http client for the address pinned right now.
func (c *Client) current() *http.Client {
	addr := c.pinned()
	if g := c.gen.Load(); g.addr == addr {
		return g.client
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.gen.Load()
	if old.addr == addr {
		return old.client
	}

	g, err := c.newGeneration(addr)
	if err != nil {
		log.Sugar.Errorf("upstream transport for %s error=[%+v]", addr, err)
		return old.client
	}
	c.gen.Store(g)
	log.Sugar.Infof("upstream address %s replaces %s", addr, old.addr)

	// fetches in flight keep their connections until done
	closeIdle(old.transport)

	return g.client
}

func (c *Client) newGeneration(addr netip.Addr) (*generation, error) {
	var tr http.RoundTripper
	var err error
	if c.opt.HTTPVersion == HTTP3 {
		tr = c.quicTransport()
	} else {
		tr, err = c.tcpTransport()
	}
	if err != nil {
		return nil, err
	}

	return &generation{
		addr:      addr,
		transport: tr,
		client: &http.Client{
			Transport: tr,
			Timeout:   c.opt.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *Client) tcpTransport() (http.RoundTripper, error) {
	tr := &http.Transport{
		Proxy:                 c.proxyFn,
		DialContext:           c.dial,
		TLSClientConfig:       c.tlsConfig.Clone(),
		DisableCompression:    true,
		MaxIdleConns:          c.opt.MaxIdleConns,
		MaxIdleConnsPerHost:   c.opt.MaxIdleConns,
		IdleConnTimeout:       c.opt.IdleTimeout,
		TLSHandshakeTimeout:   c.opt.Timeout,
		ResponseHeaderTimeout: c.opt.Timeout,
	}

	if c.opt.HTTPVersion == HTTP11 {
		// a non-nil empty map turns http2 off
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		return tr, nil
	}

	// a custom tls.Config disables http2 unless configured explicitly
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("http2: %w", err)
	}

	return tr, nil
}

func (c *Client) quicTransport() http.RoundTripper {
	return &http3.Transport{
		TLSClientConfig: c.tlsConfig.Clone(),
		QUICConfig: &quic.Config{
			MaxIdleTimeout:  c.opt.IdleTimeout,
			KeepAlivePeriod: keepAlive,
		},
		Dial: c.quicDial,
	}
}

func closeIdle(tr http.RoundTripper) {
	if ci, ok := tr.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// Close drops idle connections.
func (c *Client) Close() {
	g := c.gen.Load()
	if tr, ok := g.transport.(*http3.Transport); ok {
		if err := tr.Close(); err != nil {
			log.Sugar.Warnf("upstream close error=[%+v]", err)
		}
	} else {
		closeIdle(g.transport)
	}
	log.Sugar.Info("upstream closed")
}

func (c *Client) String() string {
	return c.endpoint
}
