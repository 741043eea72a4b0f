package udp

import (
	"errors"
	"net"

	"github.com/miekg/dns"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/model"
	"github.com/treemana/godoh/util"
)

// a query shorter than its transaction id is not worth answering
const minQuerySize = 2

func (s *Server) read() {
	defer close(s.readDone)

	bytes := make([]byte, dns.MaxMsgSize)
	for {
		n, remoteAddr, err := util.Read(s.conn, bytes)
		if err != nil {
			if !s.status.Load() || errors.Is(err, net.ErrClosed) {
				log.Sugar.Info("server read finished")
				break
			}
			log.Sugar.Error("server read error : ", err)
			continue
		}

		if n < minQuerySize {
			log.Sugar.Debugf("server drop %d bytes from %s", n, remoteAddr)
			continue
		}

		// ReadFromUDP() overwrites bytes on the next call, the request outlives it
		packet := make([]byte, n)
		copy(packet, bytes)

		s.pending.Add(1)
		req := model.NewRequest(s.serial.Add(1), remoteAddr, packet, s.release)

		log.Sugar.Debugf("sn=%d, id=%04x, len=%d, from %s", req.SN, req.ID, n, remoteAddr)

		s.reqChan <- req
	}
}
