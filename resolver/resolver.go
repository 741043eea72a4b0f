package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/override"
	"github.com/treemana/godoh/util"
)

const (
	defaultPort        = 443
	defaultTimeout     = 5 * time.Second
	defaultMinInterval = 5 * time.Second
	defaultMaxInterval = 120 * time.Second
	defaultBackoff     = time.Second
)

type Options struct {
	// Nameservers bootstrap servers as ip:port, tried in order
	Nameservers []string

	// Hostname of the resolver endpoint
	Hostname string
	Port     int

	// IPv4Only skips AAAA lookups
	IPv4Only bool

	// Timeout per query
	Timeout time.Duration

	// next poll is the answer TTL bounded by MinInterval and MaxInterval
	MinInterval time.Duration
	MaxInterval time.Duration

	// Backoff first retry delay after a failure, doubled up to MaxInterval
	Backoff time.Duration
}

// Poller keeps the resolver endpoint address fresh by asking the bootstrap
// nameservers directly, never the system resolver.
type Poller struct {
	opt        Options
	udp        *dns.Client
	tcp        *dns.Client
	onResolved func(*override.Entry)

	next     atomic.Uint32 // nameserver to try first
	polls    atomic.Uint64
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

func NewPoller(opt Options, onResolved func(*override.Entry)) (*Poller, error) {
	if len(opt.Nameservers) == 0 {
		return nil, errors.New("no bootstrap nameserver")
	}

	if len(opt.Hostname) == 0 {
		return nil, errors.New("empty hostname")
	}

	if onResolved == nil {
		return nil, errors.New("nil callback")
	}

	if opt.Port <= 0 {
		opt.Port = defaultPort
	}
	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.MinInterval <= 0 {
		opt.MinInterval = defaultMinInterval
	}
	if opt.MaxInterval < opt.MinInterval {
		opt.MaxInterval = defaultMaxInterval
		if opt.MaxInterval < opt.MinInterval {
			opt.MaxInterval = opt.MinInterval
		}
	}
	if opt.Backoff <= 0 {
		opt.Backoff = defaultBackoff
	}

	return &Poller{
		opt:        opt,
		udp:        &dns.Client{Net: "udp", Timeout: opt.Timeout, UDPSize: dns.DefaultMsgSize},
		tcp:        &dns.Client{Net: "tcp", Timeout: opt.Timeout},
		onResolved: onResolved,
	}, nil
}

// Start resolves immediately, then keeps polling until Stop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelFn = cancel

	p.wg.Add(1)
	go func() {
		p.run(ctx)
		p.wg.Done()
	}()

	log.Sugar.Infof("poller running for %s via %v", p.opt.Hostname, p.opt.Nameservers)
}

func (p *Poller) Stop() {
	if p.cancelFn == nil {
		return
	}

	log.Sugar.Info("poller stopping")
	p.cancelFn()
	p.wg.Wait()
	log.Sugar.Infof("poller stopped after %d polls", p.polls.Load())
}

func (p *Poller) run(ctx context.Context) {
	var backoff = p.opt.Backoff
	var timer = time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		p.polls.Add(1)
		entry, err := p.Resolve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Sugar.Warnf("poller resolve %s error=[%+v], retry in %s", p.opt.Hostname, err, backoff)
			timer.Reset(backoff)
			if backoff *= 2; backoff > p.opt.MaxInterval {
				backoff = p.opt.MaxInterval
			}
			continue
		}

		backoff = p.opt.Backoff
		p.onResolved(entry)

		interval := nextInterval(entry.TTL, p.opt.MinInterval, p.opt.MaxInterval)
		log.Sugar.Debugf("poller %s is %s, ttl %s, next poll in %s", p.opt.Hostname, entry.Addr, entry.TTL, interval)
		timer.Reset(interval)
	}
}

// Resolve asks for A, then AAAA unless IPv4Only, and returns the first
// address found.
func (p *Poller) Resolve(ctx context.Context) (*override.Entry, error) {
	qTypes := []uint16{dns.TypeA}
	if !p.opt.IPv4Only {
		qTypes = append(qTypes, dns.TypeAAAA)
	}

	var errs []error
	for _, qType := range qTypes {
		m, err := p.exchange(ctx, qType)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		ip, ttl, ok := util.DNSFirstAddress(m, qType)
		if !ok {
			errs = append(errs, fmt.Errorf("no %s record", dns.TypeToString[qType]))
			continue
		}

		return &override.Entry{
			Host: p.opt.Hostname,
			Port: p.opt.Port,
			Addr: ip.Unmap(),
			TTL:  time.Duration(ttl) * time.Second,
		}, nil
	}

	return nil, errors.Join(errs...)
}

// nextInterval polls a little before the TTL runs out.
func nextInterval(ttl, lo, hi time.Duration) time.Duration {
	d := ttl - ttl/10
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
