package override

/*

The resolver endpoint address is written by the bootstrap poller and read
before every upstream dial. Readers only ever see a complete entry, writers
swap the whole entry, so no lock is taken on the query path.

*/

import (
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"
)

// Entry pins a hostname:port to one address. Entries are immutable once stored.
type Entry struct {
	Host string
	Port int
	Addr netip.Addr
	TTL  time.Duration
}

// Key returns host:port, the same shape the dialer sees.
func (e *Entry) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Target returns the address to dial instead of Key.
func (e *Entry) Target() string {
	return net.JoinHostPort(e.Addr.String(), strconv.Itoa(e.Port))
}

// Family returns 4 or 6.
func (e *Entry) Family() int {
	if e.Addr.Unmap().Is4() {
		return 4
	}
	return 6
}

type Store struct {
	entry   atomic.Pointer[Entry]
	version atomic.Uint64
}

func New() *Store {
	return &Store{}
}

// Load returns the current entry, nil until the first Store.
func (s *Store) Load() *Entry {
	return s.entry.Load()
}

// Store replaces the current entry wholesale. The caller must not modify e afterwards.
func (s *Store) Store(e *Entry) {
	if e == nil {
		return
	}
	s.entry.Store(e)
	s.version.Add(1)
}

// Reset drops the entry, used at shutdown.
func (s *Store) Reset() {
	s.entry.Store(nil)
}

// Version counts successful stores.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Lookup returns the pinned target for a dial address, or addr unchanged when
// nothing matches.
func (s *Store) Lookup(addr string) (string, bool) {
	e := s.entry.Load()
	if e == nil {
		return addr, false
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != e.Host || port != strconv.Itoa(e.Port) {
		return addr, false
	}

	return e.Target(), true
}
