// Package session tracks live client connections and owns the registry
// that survives backend restarts.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Kind identifies the transport a session arrived on.
type Kind string

const (
	KindTelnet    Kind = "telnet"
	KindTelnetTLS Kind = "telnet-tls"
	KindSSH       Kind = "ssh"
)

// Telnet reports whether the transport speaks the telnet option protocol.
func (k Kind) Telnet() bool {
	return k == KindTelnet || k == KindTelnetTLS
}

const defaultRows = 24

// Session is one connected player. The id is assigned at accept time and
// is stable for the life of the TCP connection, including across backend
// restarts.
type Session struct {
	id   string
	addr string
	port int
	kind Kind

	connected atomic.Bool
	loggedIn  atomic.Bool

	mu     sync.Mutex
	name   string
	rows   int
	closer func()

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a connected session with a fresh uuid.
func New(addr string, port int, kind Kind) *Session {
	s := &Session{
		id:   uuid.NewString(),
		addr: addr,
		port: port,
		kind: kind,
		rows: defaultRows,
		done: make(chan struct{}),
	}
	s.connected.Store(true)
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Addr() string { return s.addr }
func (s *Session) Port() int    { return s.port }
func (s *Session) Kind() Kind   { return s.kind }

// Connected reports whether the reader/writer pair should keep running.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// LoggedIn reports whether the backend has acknowledged a sign-in.
func (s *Session) LoggedIn() bool {
	return s.loggedIn.Load()
}

// Name returns the authenticated player name, empty until the backend
// reports sign-in.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName records the authenticated player name and marks the session
// logged in.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.loggedIn.Store(true)
}

// Rows returns the client terminal height.
func (s *Session) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// SetRows records the client terminal height (SSH pty-req, NAWS).
func (s *Session) SetRows(rows int) {
	if rows <= 0 {
		return
	}
	s.mu.Lock()
	s.rows = rows
	s.mu.Unlock()
}

// SetCloser registers the hook that unblocks the transport read when the
// session is disconnected out-of-band (backend sign-out, link dispatch).
func (s *Session) SetCloser(fn func()) {
	s.mu.Lock()
	s.closer = fn
	s.mu.Unlock()
}

// Done is closed when the session is disconnected; the writer selects on
// it so a dead reader unwinds it too.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Disconnect flips the session to disconnected and fires the transport
// closer exactly once. Safe to call multiple times.
func (s *Session) Disconnect() {
	s.connected.Store(false)
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		fn := s.closer
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
