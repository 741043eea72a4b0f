package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/quic-go/quic-go"
	"golang.org/x/net/proxy"

	"github.com/treemana/godoh/log"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ErrNotPinned is returned by dials to the resolver hostname while no
// address is pinned and PinnedOnly is set.
var ErrNotPinned = errors.New("resolver address not pinned")

// dialer returns the DialContext for the http transport and the proxy
// function, if any. Every dial goes through the address override so the
// resolver hostname never reaches the system resolver once bootstrapped.
func (c *Client) dialer(opt Options) (dialFunc, func(*http.Request) (*url.URL, error), error) {
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}
	if opt.SourceAddr != nil {
		d.LocalAddr = &net.TCPAddr{IP: opt.SourceAddr}
	}

	var next dialFunc = d.DialContext
	var proxyFn func(*http.Request) (*url.URL, error)

	if len(opt.Proxy) > 0 {
		pu, err := url.Parse(opt.Proxy)
		if err != nil {
			return nil, nil, fmt.Errorf("proxy url: %w", err)
		}

		switch strings.ToLower(pu.Scheme) {
		case "http", "https":
			proxyFn = http.ProxyURL(pu)
		case "socks5", "socks5h":
			pd, err := proxy.FromURL(pu, d)
			if err != nil {
				return nil, nil, fmt.Errorf("socks proxy: %w", err)
			}
			cd, ok := pd.(proxy.ContextDialer)
			if !ok {
				return nil, nil, errors.New("socks proxy dialer does not support context")
			}
			next = cd.DialContext
		default:
			return nil, nil, fmt.Errorf("proxy scheme %q not supported", pu.Scheme)
		}
		log.Sugar.Infof("upstream proxy %s://%s", pu.Scheme, pu.Host)
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		target, err := c.pin(addr)
		if err != nil {
			return nil, err
		}
		log.Sugar.Debugf("upstream dial %s as %s", addr, target)
		return next(ctx, network, target)
	}, proxyFn, nil
}

// pin maps a dial address to the pinned one. The resolver hostname is
// refused when PinnedOnly is set and nothing is pinned.
func (c *Client) pin(addr string) (string, error) {
	if target, ok := c.override.Lookup(addr); ok {
		return target, nil
	}

	if c.opt.PinnedOnly {
		if host, _, err := net.SplitHostPort(addr); err == nil && strings.EqualFold(host, c.host) {
			return "", fmt.Errorf("dial %s: %w", addr, ErrNotPinned)
		}
	}

	return addr, nil
}

func (c *Client) quicDial(ctx context.Context, addr string, tlsCfg *tls.Config, cfg *quic.Config) (*quic.Conn, error) {
	target, err := c.pin(addr)
	if err != nil {
		return nil, err
	}
	log.Sugar.Debugf("upstream quic dial %s as %s", addr, target)
	return quic.DialAddrEarly(ctx, target, tlsCfg, cfg)
}
