package frontend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/session"
)

// SSHServer accepts SSH clients and bridges their session channel to the
// registry. The SSH layer only provides transport encryption; player
// authentication belongs to the game engine, so any client is let in.
type SSHServer struct {
	cfg       config.SSHListener
	registry  *session.Registry
	sshConfig *ssh.ServerConfig

	listener net.Listener
	mu       sync.Mutex
}

// NewSSHServer loads the host key and creates the SSH listener.
func NewSSHServer(cfg config.SSHListener, registry *session.Registry) (*SSHServer, error) {
	pem, err := os.ReadFile(cfg.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading host key %s: %w", cfg.HostKeyFile, err)
	}

	var signer ssh.Signer
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}

	sshConfig := &ssh.ServerConfig{NoClientAuth: true}
	sshConfig.AddHostKey(signer)

	return &SSHServer{
		cfg:       cfg,
		registry:  registry,
		sshConfig: sshConfig,
	}, nil
}

// Addr returns the bound address, or nil before Run.
func (s *SSHServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *SSHServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *SSHServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a ready listener.
func (s *SSHServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("ssh server started", "address", ln.Addr())
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept connection", "kind", session.KindSSH, "error", err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleConnection(ctx, conn)
			}()
		}
	}()

	wg.Wait()

	return nil
}

func (s *SSHServer) handleConnection(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Bound the handshake so a silent client cannot hold the slot forever.
	if s.cfg.IdleTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}

	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		slog.Warn("SSH handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	defer sconn.Close()
	conn.SetDeadline(time.Time{})

	go ssh.DiscardRequests(reqs)

	host, port, err := splitHostPort(conn.RemoteAddr())
	if err != nil {
		slog.Error("failed to split host port", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	var wg sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Error("failed to accept SSH channel", "remote", host, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleChannel(ctx, sconn, channel, requests, host, port)
		}()
	}
	wg.Wait()
}

func (s *SSHServer) handleChannel(
	ctx context.Context,
	sconn *ssh.ServerConn,
	channel ssh.Channel,
	requests <-chan *ssh.Request,
	host string,
	port int,
) {
	defer channel.Close()

	sess := session.New(host, port, session.KindSSH)
	sess.SetCloser(func() {
		channel.Close()
		sconn.Close()
	})

	started := make(chan struct{})
	reqsDone := make(chan struct{})
	var startOnce sync.Once

	go func() {
		defer close(reqsDone)
		for req := range requests {
			switch req.Type {
			case "pty-req":
				if rows, ok := ptyRows(req.Payload); ok {
					sess.SetRows(rows)
				}
				req.Reply(true, nil)
			case "window-change":
				if rows, ok := windowRows(req.Payload); ok {
					sess.SetRows(rows)
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			case "shell", "exec":
				req.Reply(true, nil)
				startOnce.Do(func() { close(started) })
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		return
	case <-reqsDone:
		// Client went away before asking for a shell.
		return
	case <-started:
	}

	s.registry.Register(sess)
	defer s.registry.Unregister(sess)

	slog.Info("client connected", "kind", session.KindSSH, "remote", host, "uuid", sess.ID())

	if s.cfg.Keepalive > 0 {
		go keepalive(ctx, sconn, sess, s.cfg.Keepalive)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.Disconnect()
		sshReadLoop(s.registry, sess, channel)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.Disconnect()
		writeLoop(sess, s.registry.Outbox(sess.ID()), channel, false)
	}()
	wg.Wait()

	slog.Info("client disconnected", "kind", session.KindSSH, "remote", host, "uuid", sess.ID())
}

// sshReadLoop accumulates channel data and forwards complete lines
// upstream. SSH carries no telnet option bytes, so there is nothing to
// strip beyond the line split.
func sshReadLoop(registry *session.Registry, sess *session.Session, channel ssh.Channel) {
	buf := make([]byte, readChunkSize)
	var pending []byte

	for sess.Connected() {
		n, err := channel.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = forwardLines(registry, sess, pending)
		}
		if err != nil {
			return
		}
	}
}

// keepalive pings the client so half-open connections are detected. An
// errored ping closes the transport, which unwinds the session loops.
func keepalive(ctx context.Context, sconn *ssh.ServerConn, sess *session.Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sess.Connected() {
				return
			}
			if _, _, err := sconn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				slog.Debug("SSH keepalive failed", "uuid", sess.ID(), "error", err)
				sess.Disconnect()
				return
			}
		}
	}
}

// ptyRows extracts the terminal height from a pty-req payload: a
// length-prefixed TERM string followed by width and height in columns and
// rows.
func ptyRows(payload []byte) (int, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	termLen := int(binary.BigEndian.Uint32(payload))
	off := 4 + termLen + 4
	if len(payload) < off+4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(payload[off:])), true
}

// windowRows extracts the terminal height from a window-change payload:
// width then height in columns and rows.
func windowRows(payload []byte) (int, bool) {
	if len(payload) < 8 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(payload[4:])), true
}
