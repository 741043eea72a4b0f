package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
)

const (
	defaultTimeout = 10 * time.Second
	chanSize       = 128
)

type Server struct {
	address *net.UDPAddr
	conn    *net.UDPConn
	status  atomic.Bool // running status

	readDone chan struct{}
	reqChan  chan *model.Request // dns request

	respWG   sync.WaitGroup
	respChan chan *model.Request // dns response

	serial  atomic.Uint64
	pending atomic.Int64 // requests not released yet
}

// New binds the listening socket, port 0 picks a free one.
func New(ip net.IP, port int) (*Server, error) {

	if len(ip) == 0 {
		return nil, errors.New("invalid ip")
	}

	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port=%d", port)
	}

	s := Server{
		address:  &net.UDPAddr{Port: port, IP: ip},
		readDone: make(chan struct{}),
		reqChan:  make(chan *model.Request, chanSize),
		respChan: make(chan *model.Request, chanSize),
	}

	if err := s.setConn(); err != nil {
		return nil, fmt.Errorf("set conn error=[%+v]", err)
	}

	return &s, nil
}

// GetChan returns the request chan to consume and the response chan to feed.
func (s *Server) GetChan() (<-chan *model.Request, chan<- *model.Request) {
	return s.reqChan, s.respChan
}

func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Pending returns the number of requests read and not released yet.
func (s *Server) Pending() int64 {
	return s.pending.Load()
}

func (s *Server) Start() {

	s.status.Store(true)

	s.respWG.Add(1)
	go s.read()
	go func() {
		s.write()
		s.respWG.Done()
	}()

	log.Sugar.Infof("server running on %s ...", s.LocalAddr())
}

// StopRead stops reading and closes the request chan.
func (s *Server) StopRead() {
	log.Sugar.Info("server read stopping")
	s.status.Store(false)

	// unblock the pending read
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		log.Sugar.Warnf("server set read deadline error=[%+v]", err)
	}

	<-s.readDone
	log.Sugar.Info("server read stopped")

	close(s.reqChan)
	log.Sugar.Infof("server request chan closed, serial=%d", s.serial.Load())
}

// StopWrite must follow StopRead once nothing feeds the response chan any more.
func (s *Server) StopWrite() {

	log.Sugar.Info("server write stopping")

	close(s.respChan)
	log.Sugar.Info("server response chan closed")

	s.respWG.Wait()
	log.Sugar.Infof("server write stopped, pending=%d", s.pending.Load())

	if err := s.conn.Close(); err != nil {
		log.Sugar.Errorf("server udp connection close error=[%+v]", err)
	}
}

// Close releases the socket of a server that was never started.
func (s *Server) Close() {
	if s.status.Load() {
		return
	}
	if err := s.conn.Close(); err != nil {
		log.Sugar.Warnf("server udp connection close error=[%+v]", err)
	}
}

func (s *Server) setConn() error {
	var err error
	if s.conn, err = net.ListenUDP("udp", s.address); err != nil {
		log.Sugar.Errorf("server udp [%s] listen error=[%+v]", s.address, err)
		return err
	}

	return nil
}

func (s *Server) release() {
	s.pending.Add(-1)
}
