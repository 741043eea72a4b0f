package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/miekg/dns"

	"github.com/treemana/godoh/log"
)

// exchange sends one question to the nameservers in turn, starting with the
// last one that answered, and falls back to TCP on truncation.
func (p *Poller) exchange(ctx context.Context, qType uint16) (*dns.Msg, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(p.opt.Hostname), qType)

	var errs []error
	n := uint32(len(p.opt.Nameservers))
	first := p.next.Load() % n

	for i := uint32(0); i < n; i++ {
		index := (first + i) % n
		server := p.opt.Nameservers[index]

		resp, _, err := p.udp.ExchangeContext(ctx, req, server)
		if err == nil && resp.Truncated {
			log.Sugar.Debugf("poller %s truncated answer, retry over tcp", server)
			resp, _, err = p.tcp.ExchangeContext(ctx, req, server)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if resp.Rcode != dns.RcodeSuccess {
			errs = append(errs, fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode]))
			continue
		}

		p.next.Store(index)
		return resp, nil
	}

	return nil, errors.Join(errs...)
}
