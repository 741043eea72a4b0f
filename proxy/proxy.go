package proxy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
	"github.com/treemana/godoh/override"
	"github.com/treemana/godoh/stat"
)

const defaultTimeout = 10 * time.Second

// Fetcher exchanges one raw DNS message with the resolver.
type Fetcher interface {
	Fetch(ctx context.Context, query []byte) ([]byte, error)
}

type Options struct {
	// Polling is set when the resolver hostname is bootstrapped by the
	// poller. Queries are dropped until the first address is published.
	Polling bool

	// Timeout bounds one fetch
	Timeout time.Duration
}

// Proxy ties every request read by the udp server to one fetch and hands
// the reply back to it.
type Proxy struct {
	opt      Options
	fetcher  Fetcher
	override *override.Store
	stat     *stat.Stat

	// request in/out channel
	dic <-chan *model.Request
	doc chan<- *model.Request

	loopWG sync.WaitGroup
	taskWG sync.WaitGroup
}

func New(opt Options, fetcher Fetcher, store *override.Store, reqChan <-chan *model.Request, respChan chan<- *model.Request, st *stat.Stat) (*Proxy, error) {
	if fetcher == nil {
		return nil, errors.New("nil fetcher")
	}

	if reqChan == nil || respChan == nil {
		return nil, errors.New("nil request or response chan")
	}

	if store == nil {
		store = override.New()
	}

	if st == nil {
		st = stat.New()
	}

	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}

	return &Proxy{
		opt:      opt,
		fetcher:  fetcher,
		override: store,
		stat:     st,
		dic:      reqChan,
		doc:      respChan,
	}, nil
}

func (p *Proxy) Start() {
	p.loopWG.Add(1)
	go func() {
		p.request()
		p.loopWG.Done()
	}()
	log.Sugar.Infof("proxy is running, polling=%t ...", p.opt.Polling)
}

// Stop returns once the request chan is closed and every fetch completed.
// Nothing is sent on the response chan afterwards.
func (p *Proxy) Stop() {
	log.Sugar.Info("proxy stopping")
	p.loopWG.Wait()
	log.Sugar.Info("proxy request chan drained")
	p.taskWG.Wait()
	log.Sugar.Info("proxy stopped")
}

func (p *Proxy) request() {
	for req := range p.dic {
		p.taskWG.Add(1)
		go func(req *model.Request) {
			p.handle(req)
			p.taskWG.Done()
		}(req)
	}
}

// handle owns req until it is either released or passed to doc.
func (p *Proxy) handle(req *model.Request) {
	// Without an address the transport would fall back to the system
	// resolver, which may well be this proxy.
	if p.opt.Polling && p.override.Load() == nil {
		log.Sugar.Warnf("sn=%d, id=%04x query received before bootstrapping is completed, discarding", req.SN, req.ID)
		p.stat.Drop()
		req.Release()
		return
	}

	p.stat.Request()

	ctx, cancel := context.WithTimeout(context.Background(), p.opt.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := p.fetcher.Fetch(ctx, req.Query)
	if err != nil {
		p.stat.Failure()
		log.Sugar.Warnf("sn=%d, id=%04x fetch error=[%+v]", req.SN, req.ID, err)
		req.Release()
		return
	}

	p.stat.Response(time.Since(start))
	log.Sugar.Debugf("sn=%d, id=%04x fetched %d bytes in %s", req.SN, req.ID, len(reply), time.Since(start))

	req.Reply = reply
	p.doc <- req
}
