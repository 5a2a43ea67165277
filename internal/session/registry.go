package session

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/message"
)

// Registry is the authoritative table of live sessions and their outbound
// queues. It is the soft-boot source of truth: a backend link that starts
// while the registry is non-empty receives the load_players snapshot
// derived from it.
type Registry struct {
	secret   string
	upstream *bus.Upstream

	mu       sync.RWMutex
	sessions map[string]*Session
	outboxes map[string]*bus.Outbox
}

func NewRegistry(secret string, upstream *bus.Upstream) *Registry {
	return &Registry{
		secret:   secret,
		upstream: upstream,
		sessions: make(map[string]*Session),
		outboxes: make(map[string]*bus.Outbox),
	}
}

// Register inserts the session, creates its outbound queue and announces
// connection/connected upstream. The announcement is enqueued before
// Register returns, so it always precedes any player/input for the same
// session.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.outboxes[s.ID()] = bus.NewOutbox(bus.DefaultOutboxSize)
	r.mu.Unlock()

	env, err := message.New(message.EventConnected, r.secret, message.Connected{
		Addr: s.Addr(),
		Port: s.Port(),
		Rows: s.Rows(),
		UUID: s.ID(),
	})
	if err != nil {
		slog.Error("encoding connected notification", "err", err, "uuid", s.ID())
		return
	}
	r.upstream.Put(env)
}

// Unregister removes the session and its queue and announces
// connection/disconnected upstream. Idempotent: a second call for the same
// session is a no-op. Pending outbound items are discarded.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	outbox := r.outboxes[s.ID()]
	delete(r.sessions, s.ID())
	delete(r.outboxes, s.ID())
	r.mu.Unlock()

	if outbox != nil {
		outbox.Close()
	}
	s.Disconnect()

	env, err := message.New(message.EventDisconnected, r.secret, message.Disconnected{
		Addr: s.Addr(),
		Port: s.Port(),
		UUID: s.ID(),
	})
	if err != nil {
		slog.Error("encoding disconnected notification", "err", err, "uuid", s.ID())
		return
	}
	r.upstream.Put(env)
}

// Input enqueues one line of player input upstream.
func (r *Registry) Input(s *Session, msg string) {
	env, err := message.New(message.EventPlayerInput, r.secret, message.Input{
		Addr: s.Addr(),
		Msg:  msg,
		Port: s.Port(),
		UUID: s.ID(),
	})
	if err != nil {
		slog.Error("encoding player input", "err", err, "uuid", s.ID())
		return
	}
	r.upstream.Put(env)
}

// Get returns the session for the id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Outbox returns the outbound queue for the id, or nil.
func (r *Registry) Outbox(id string) *bus.Outbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outboxes[id]
}

// Deliver queues an outbound item for the session. Items addressed to an
// unknown id are dropped with a warning.
func (r *Registry) Deliver(id string, item message.Outbound) bool {
	r.mu.RLock()
	outbox := r.outboxes[id]
	r.mu.RUnlock()

	if outbox == nil {
		slog.Warn("dropping outbound item for unknown session", "uuid", id)
		return false
	}
	return outbox.Push(item)
}

// SetName records the authenticated player name for the session, if it is
// still registered.
func (r *Registry) SetName(id, name string) {
	if s := r.Get(id); s != nil {
		s.SetName(name)
	}
}

// Disconnect flips the session to disconnected so its reader and writer
// exit and the accept handler unregisters it.
func (r *Registry) Disconnect(id string) {
	if s := r.Get(id); s != nil {
		s.Disconnect()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// LoggedInCount returns the number of sessions the backend has signed in.
func (r *Registry) LoggedInCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.LoggedIn() {
			n++
		}
	}
	return n
}

// Snapshot returns the load_players map for a freshly accepted backend
// link: session id to [name, addr, port]. Names are lowercased, which is
// how the engine keys its player records.
func (r *Registry) Snapshot() map[string]message.PlayerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make(map[string]message.PlayerInfo, len(r.sessions))
	for id, s := range r.sessions {
		players[id] = message.PlayerInfo{
			Name: strings.ToLower(s.Name()),
			Addr: s.Addr(),
			Port: s.Port(),
		}
	}
	return players
}
