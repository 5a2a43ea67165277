// Package backend owns the WebSocket endpoint the game engine connects
// to: at most one live link, multiplexing every client session over it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/message"
	"github.com/mudforge/gate/internal/session"
	"github.com/mudforge/gate/internal/telnet"
)

const heartbeatInterval = 10 * time.Second

// Server accepts the game engine's WebSocket and pumps the two message
// directions. Client sessions live in the registry and survive any number
// of engine reconnects.
type Server struct {
	cfg      config.Backend
	registry *session.Registry
	upstream *bus.Upstream
	upgrader websocket.Upgrader

	mu      sync.Mutex
	link    *Link
	baseCtx context.Context
}

func NewServer(cfg config.Backend, registry *session.Registry, upstream *bus.Upstream) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		upstream: upstream,
		baseCtx:  context.Background(),
	}
}

// Run serves the WebSocket endpoint until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		s.mu.Lock()
		link := s.link
		s.mu.Unlock()
		if link != nil {
			link.close()
		}
	}()

	slog.Info("backend endpoint started", "address", s.cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving backend endpoint: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the engine connection and runs the link until it
// drops or is superseded.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade backend connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.runLink(conn)
}

func (s *Server) runLink(conn *websocket.Conn) {
	s.mu.Lock()
	linkCtx, cancel := context.WithCancel(s.baseCtx)
	link := newLink(conn, cancel)
	old := s.link
	s.link = link
	s.mu.Unlock()

	// A reconnecting engine supersedes the previous link. Sessions are
	// untouched; only the old link scope is torn down.
	if old != nil {
		slog.Warn("superseding backend link", "old", old.ID(), "new", link.ID())
		old.close()
	}

	defer func() {
		link.close()
		s.mu.Lock()
		if s.link == link {
			s.link = nil
		}
		s.mu.Unlock()
		slog.Info("backend link closed", "link", link.ID())
	}()

	slog.Info("backend link established", "link", link.ID(), "remote", conn.RemoteAddr())

	// A non-empty registry means the engine restarted under live clients:
	// hand it the session snapshot before anything else.
	if s.registry.Count() > 0 {
		if err := s.sendSnapshot(link); err != nil {
			slog.Error("failed to send session snapshot", "link", link.ID(), "error", err)
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer link.close()
		s.heartbeatLoop(linkCtx, link)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer link.close()
		s.readLoop(link)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer link.close()
		s.writeLoop(linkCtx, link)
	}()
	wg.Wait()
}

func (s *Server) sendSnapshot(link *Link) error {
	env, err := message.New(message.EventLoadPlayers, s.cfg.Secret, message.LoadPlayers{
		Players: s.registry.Snapshot(),
	})
	if err != nil {
		return err
	}
	slog.Info("restoring sessions on fresh link", "link", link.ID(), "sessions", s.registry.Count())
	return link.write(env)
}

func (s *Server) heartbeatLoop(ctx context.Context, link *Link) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env := message.Envelope{
				Event:  message.EventHeartbeat,
				Secret: s.cfg.Secret,
				Tasks:  runtime.NumGoroutine(),
			}
			if err := link.write(env); err != nil {
				slog.Debug("heartbeat write failed", "link", link.ID(), "error", err)
				return
			}
		}
	}
}

func (s *Server) readLoop(link *Link) {
	for {
		_, data, err := link.conn.ReadMessage()
		if err != nil {
			slog.Debug("backend read failed", "link", link.ID(), "error", err)
			return
		}
		s.dispatch(link, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, link *Link) {
	for {
		env, err := s.upstream.Get(ctx)
		if err != nil {
			return
		}
		if err := link.write(env); err != nil {
			slog.Debug("backend write failed", "link", link.ID(), "error", err)
			return
		}
	}
}

// dispatch routes one engine frame. A bad or missing secret drops the
// frame with a warning but keeps the link.
func (s *Server) dispatch(link *Link, data []byte) {
	var env message.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("dropping malformed backend frame", "link", link.ID(), "error", err)
		return
	}
	if env.Secret != s.cfg.Secret {
		slog.Warn("dropping backend frame with bad secret", "link", link.ID(), "event", env.Event)
		return
	}

	switch env.Event {
	case message.EventPlayersOutput:
		var p message.Output
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("dropping malformed players/output", "link", link.ID(), "error", err)
			return
		}
		s.registry.Deliver(p.UUID, message.IO(p.Message, p.IsPrompt == "true"))

	case message.EventSignIn:
		var p message.SignIn
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("dropping malformed sign-in", "link", link.ID(), "error", err)
			return
		}
		s.registry.SetName(p.UUID, p.Name)
		slog.Info("player signed in", "name", p.Name, "uuid", p.UUID)

	case message.EventSignOut, message.EventLoginFailed:
		var p message.SignOut
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("dropping malformed sign-out", "link", link.ID(), "error", err)
			return
		}
		if p.Message != "" {
			s.registry.Deliver(p.UUID, message.IO(p.Message, false))
		}
		s.registry.Disconnect(p.UUID)

	case message.EventSessionCommand:
		var p message.SessionCommand
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("dropping malformed session command", "link", link.ID(), "error", err)
			return
		}
		s.sessionCommand(p)

	case message.EventSoftboot:
		var p message.Softboot
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("dropping malformed softboot request", "link", link.ID(), "error", err)
			return
		}
		// The timer outlives the link on purpose: the engine closes its
		// socket right after asking for the relaunch.
		s.mu.Lock()
		baseCtx := s.baseCtx
		s.mu.Unlock()
		go s.softboot(baseCtx, p.WaitTime)

	case message.EventHeartbeat:
		now := time.Now()
		prev := link.lastHeartbeat.Swap(now.UnixNano())
		if prev != 0 {
			slog.Debug("engine heartbeat",
				"link", link.ID(),
				"tasks", env.Tasks,
				"delta", now.Sub(time.Unix(0, prev)))
		}

	default:
		slog.Debug("ignoring unknown backend event", "link", link.ID(), "event", env.Event)
	}
}

// sessionCommand applies a non-I/O instruction to one session. Echo
// toggles only make sense on telnet-family transports; SSH clients keep
// their own echo discipline.
func (s *Server) sessionCommand(p message.SessionCommand) {
	sess := s.registry.Get(p.UUID)
	if sess == nil {
		slog.Warn("session command for unknown session", "uuid", p.UUID, "command", p.Command)
		return
	}
	if !sess.Kind().Telnet() {
		return
	}

	switch p.Command {
	case "dont echo":
		s.registry.Deliver(p.UUID, message.TelnetCommand(telnet.EchoOff()))
	case "do echo":
		s.registry.Deliver(p.UUID, message.TelnetCommand(telnet.EchoOn()))
	default:
		slog.Debug("ignoring unknown session command", "uuid", p.UUID, "command", p.Command)
	}
}

// softboot waits out the grace period and relaunches the game engine.
func (s *Server) softboot(ctx context.Context, waitSeconds int) {
	slog.Info("softboot requested", "wait_time", waitSeconds)

	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(waitSeconds) * time.Second):
	}

	if len(s.cfg.SoftbootCommand) == 0 {
		slog.Warn("softboot requested but no command configured")
		return
	}

	cmd := exec.Command(s.cfg.SoftbootCommand[0], s.cfg.SoftbootCommand[1:]...)
	if err := cmd.Start(); err != nil {
		slog.Warn("softboot launch failed", "command", s.cfg.SoftbootCommand, "error", err)
		return
	}
	slog.Info("softboot launched", "pid", cmd.Process.Pid)
}
