package udp

import (
	"time"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
)

func (s *Server) write() {
	for req := range s.respChan {
		s.respond(req)
	}
}

// respond sends the reply verbatim, once, and releases the request whatever
// happens. A lost reply is retried by the client, not here.
func (s *Server) respond(req *model.Request) {
	defer req.Release()

	if req.Reply == nil {
		log.Sugar.Warnf("sn=%d, id=%04x nil reply", req.SN, req.ID)
		return
	}

	if req.RemoteAddr == nil {
		log.Sugar.Warnf("sn=%d, id=%04x remote addr nil", req.SN, req.ID)
		return
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultTimeout)); err != nil {
		log.Sugar.Errorf("sn=%d, server udp connection set deadline error=[%+v]", req.SN, err)
		return
	}

	if _, err := s.conn.WriteToUDP(req.Reply, req.RemoteAddr); err != nil {
		log.Sugar.Errorf("sn=%d, udp connection write error=[%+v]", req.SN, err)
		return
	}

	log.Sugar.Infof("sn=%d, id=%04x, %d bytes to %s in %s", req.SN, req.ID, len(req.Reply), req.RemoteAddr, time.Since(req.Received))
}
