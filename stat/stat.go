package stat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treemana/godoh/log"
)

type Stat struct {
	requests  atomic.Uint64
	responses atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
	inflight  atomic.Int64
	latency   atomic.Int64 // nanoseconds, successful fetches only

	wg       sync.WaitGroup
	cancelFn context.CancelFunc
}

type Snapshot struct {
	Requests  uint64
	Responses uint64
	Failures  uint64
	Dropped   uint64
	InFlight  int64
	Latency   time.Duration // mean
}

func New() *Stat {
	return &Stat{}
}

func (s *Stat) Request() {
	s.requests.Add(1)
	s.inflight.Add(1)
}

func (s *Stat) Response(elapsed time.Duration) {
	s.responses.Add(1)
	s.latency.Add(int64(elapsed))
	s.inflight.Add(-1)
}

func (s *Stat) Failure() {
	s.failures.Add(1)
	s.inflight.Add(-1)
}

// Drop counts a request refused before any fetch.
func (s *Stat) Drop() {
	s.dropped.Add(1)
}

func (s *Stat) Snapshot() Snapshot {
	ss := Snapshot{
		Requests:  s.requests.Load(),
		Responses: s.responses.Load(),
		Failures:  s.failures.Load(),
		Dropped:   s.dropped.Load(),
		InFlight:  s.inflight.Load(),
	}
	if ss.Responses > 0 {
		ss.Latency = time.Duration(s.latency.Load() / int64(ss.Responses))
	}
	return ss
}

// Start logs a summary every interval, zero disables it.
func (s *Stat) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.print()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Stat) Stop() {
	if s.cancelFn != nil {
		s.cancelFn()
		s.wg.Wait()
	}
	s.print()
}

func (s *Stat) print() {
	ss := s.Snapshot()
	log.Sugar.Warnf("stat requests=%d, responses=%d, failures=%d, dropped=%d, inflight=%d, latency=%s",
		ss.Requests, ss.Responses, ss.Failures, ss.Dropped, ss.InFlight, ss.Latency)
}
