package model

import (
	"encoding/binary"
	"net"
	"sync"
	"time"
)

// Request is one in-flight query. It is created by the udp server for every
// datagram and released exactly once: by the udp writer after the reply is
// sent, or by whoever decides that no reply will be sent.
type Request struct {
	// SN serial number, unique per process, used in logs only
	SN uint64

	// ID the DNS transaction id copied from the query, diagnostics only
	ID uint16

	// RemoteAddr the requester udp address
	RemoteAddr *net.UDPAddr

	Query []byte // raw query, forwarded as is
	Reply []byte // raw reply, nil means no reply

	Received time.Time

	once    sync.Once
	release func()
}

// NewRequest copies nothing: query must not be reused by the caller.
// onRelease runs once when the request is released.
func NewRequest(sn uint64, remote *net.UDPAddr, query []byte, onRelease func()) *Request {
	return &Request{
		SN:         sn,
		ID:         TransactionID(query),
		RemoteAddr: remote,
		Query:      query,
		Received:   time.Now(),
		release:    onRelease,
	}
}

// Release drops the buffers. Calls after the first one are no-ops.
func (r *Request) Release() bool {
	var released bool
	r.once.Do(func() {
		released = true
		r.Query = nil
		r.Reply = nil
		if r.release != nil {
			r.release()
		}
	})
	return released
}

// TransactionID returns the leading 16 bits of a DNS message, 0 when too short.
func TransactionID(msg []byte) uint16 {
	if len(msg) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(msg)
}
