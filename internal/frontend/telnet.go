// Package frontend implements the client-facing listeners: plain telnet,
// telnet over TLS and SSH. Each accepted connection becomes a session in
// the shared registry, a reader feeding the upstream queue and a writer
// draining the session outbox.
package frontend

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/message"
	"github.com/mudforge/gate/internal/session"
	"github.com/mudforge/gate/internal/telnet"
)

const readChunkSize = 4096

// TelnetServer accepts telnet clients, plain or over TLS depending on how
// it was constructed.
type TelnetServer struct {
	cfg      config.Listener
	kind     session.Kind
	registry *session.Registry
	handler  *telnet.Handler

	tlsConfig        *tls.Config
	handshakeTimeout time.Duration

	listener net.Listener
	mu       sync.Mutex
}

// NewTelnetServer creates the plain telnet listener.
func NewTelnetServer(cfg config.Listener, registry *session.Registry, handler *telnet.Handler) *TelnetServer {
	return &TelnetServer{
		cfg:      cfg,
		kind:     session.KindTelnet,
		registry: registry,
		handler:  handler,
	}
}

// NewTelnetTLSServer creates the telnet-over-TLS listener. The cipher
// suites are pinned to ECDHE with AES-256-GCM.
func NewTelnetTLSServer(cfg config.TLSListener, registry *session.Registry, handler *telnet.Handler) (*TelnetServer, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS key pair: %w", err)
	}

	return &TelnetServer{
		cfg:      cfg.Listener,
		kind:     session.KindTelnetTLS,
		registry: registry,
		handler:  handler,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			},
		},
		handshakeTimeout: cfg.HandshakeTimeout,
	}, nil
}

// Addr returns the bound address, or nil before Run.
func (s *TelnetServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *TelnetServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *TelnetServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a ready listener. Exposed for tests that
// want an ephemeral port.
func (s *TelnetServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("telnet server started", "kind", s.kind, "address", ln.Addr())
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept connection", "kind", s.kind, "error", err)
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

func (s *TelnetServer) handleConnection(ctx context.Context, conn net.Conn) {
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

	if tc, ok := conn.(*tls.Conn); ok && s.handshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
		if err := tc.HandshakeContext(ctx); err != nil {
			slog.Warn("TLS handshake failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		conn.SetDeadline(time.Time{})
	}

	host, port, err := splitHostPort(conn.RemoteAddr())
	if err != nil {
		slog.Error("failed to split host port", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	// Greet: ask the client to echo locally and advertise our options.
	if _, err := conn.Write(append(telnet.EchoOn(), telnet.AdvertiseFeatures()...)); err != nil {
		slog.Warn("failed to greet client", "remote", host, "error", err)
		return
	}

	sess := session.New(host, port, s.kind)
	sess.SetCloser(func() { conn.Close() })
	s.registry.Register(sess)
	defer s.registry.Unregister(sess)

	slog.Info("client connected", "kind", s.kind, "remote", host, "uuid", sess.ID())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.Disconnect()
		s.readLoop(sess, conn)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.Disconnect()
		writeLoop(sess, s.registry.Outbox(sess.ID()), conn, true)
	}()
	wg.Wait()

	slog.Info("client disconnected", "kind", s.kind, "remote", host, "uuid", sess.ID())
}

// readLoop pulls raw chunks off the wire, answers option commands and
// forwards complete input lines upstream. Option probes arrive without a
// line terminator, so the loop cannot read line-wise, and a sequence may
// be fragmented across reads, so the truncated tail is carried into the
// next chunk. Replies go through the session outbox to keep them from
// interleaving with writer output.
func (s *TelnetServer) readLoop(sess *session.Session, conn net.Conn) {
	buf := make([]byte, readChunkSize)
	var carry, pending []byte

	for sess.Connected() {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			opcodes, text, rest := telnet.SplitCommands(append(carry, buf[:n]...))
			carry = append([]byte(nil), rest...)
			if len(opcodes) > 0 {
				var replies bytes.Buffer
				if werr := s.handler.Respond(opcodes, &replies); werr != nil {
					slog.Warn("failed to answer option command", "uuid", sess.ID(), "error", werr)
					return
				}
				if replies.Len() > 0 {
					s.registry.Deliver(sess.ID(), message.TelnetCommand(replies.Bytes()))
				}
			}
			pending = append(pending, text...)
			pending = forwardLines(s.registry, sess, pending)
		}
		if err != nil {
			return
		}
	}
}

// forwardLines sends every complete line in pending upstream and returns
// the unterminated remainder.
func forwardLines(registry *session.Registry, sess *session.Session, pending []byte) []byte {
	for {
		idx := bytes.IndexByte(pending, '\n')
		if idx < 0 {
			return pending
		}
		line := strings.TrimRight(string(pending[:idx]), "\r\n \t")
		pending = pending[idx+1:]
		registry.Input(sess, line)
	}
}

// writeLoop drains the session outbox onto the wire. Prompts are followed
// by IAC GA on telnet-family transports; raw option sequences only make
// sense there as well.
func writeLoop(sess *session.Session, outbox *bus.Outbox, w io.Writer, telnetFamily bool) {
	if outbox == nil {
		return
	}
	for {
		select {
		case <-sess.Done():
			return
		case <-outbox.Done():
			return
		case item := <-outbox.Items():
			if err := writeItem(w, item, telnetFamily); err != nil {
				slog.Debug("write to client failed", "uuid", sess.ID(), "error", err)
				return
			}
		}
	}
}

func writeItem(w io.Writer, item message.Outbound, telnetFamily bool) error {
	switch item.Kind {
	case message.OutboundIO:
		if _, err := w.Write([]byte(item.Text)); err != nil {
			return err
		}
		if item.IsPrompt && telnetFamily {
			if _, err := w.Write(telnet.GoAhead()); err != nil {
				return err
			}
		}
	case message.OutboundTelnetCommand:
		if telnetFamily {
			if _, err := w.Write(item.Command); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitHostPort(addr net.Addr) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
