package frontend

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/message"
	"github.com/mudforge/gate/internal/session"
)

func writeHostKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "host_key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func startSSH(t *testing.T) *testFrontend {
	t.Helper()

	upstream := bus.NewUpstream()
	registry := session.NewRegistry(testSecret, upstream)

	srv, err := NewSSHServer(config.SSHListener{
		Listener:    config.Listener{IdleTimeout: time.Minute},
		HostKeyFile: writeHostKey(t),
	}, registry)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testFrontend{
		registry: registry,
		upstream: upstream,
		addr:     ln.Addr(),
	}
}

type sshClient struct {
	conn   *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

func dialSSH(t *testing.T, f *testFrontend, rows int) *sshClient {
	t.Helper()

	conn, err := ssh.Dial("tcp", f.addr.String(), &ssh.ClientConfig{
		User:            "player",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sess, err := conn.NewSession()
	require.NoError(t, err)

	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)

	require.NoError(t, sess.RequestPty("xterm", rows, 80, ssh.TerminalModes{}))
	require.NoError(t, sess.Shell())

	return &sshClient{conn: conn, sess: sess, stdin: stdin, stdout: stdout}
}

func TestSSH_ConnectedCarriesPtyRows(t *testing.T) {
	f := startSSH(t)
	dialSSH(t, f, 30)

	env := nextUpstream(t, f)
	require.Equal(t, message.EventConnected, env.Event)

	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))
	assert.Equal(t, 30, connected.Rows)
	assert.Equal(t, "127.0.0.1", connected.Addr)
}

func TestSSH_InputFlow(t *testing.T) {
	f := startSSH(t)
	client := dialSSH(t, f, 24)
	nextUpstream(t, f)

	_, err := client.stdin.Write([]byte("say hi\n"))
	require.NoError(t, err)

	env := nextUpstream(t, f)
	require.Equal(t, message.EventPlayerInput, env.Event)

	var input message.Input
	require.NoError(t, json.Unmarshal(env.Payload, &input))
	assert.Equal(t, "say hi", input.Msg)
}

func TestSSH_OutputWithoutGoAhead(t *testing.T) {
	f := startSSH(t)
	client := dialSSH(t, f, 24)

	env := nextUpstream(t, f)
	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))

	// Prompts carry no telnet GA on SSH.
	require.True(t, f.registry.Deliver(connected.UUID, message.IO("> ", true)))

	buf := make([]byte, 2)
	_, err := io.ReadFull(client.stdout, buf)
	require.NoError(t, err)
	assert.Equal(t, "> ", string(buf))
}

func TestSSH_ClientDisconnectAnnounced(t *testing.T) {
	f := startSSH(t)
	client := dialSSH(t, f, 24)
	nextUpstream(t, f)

	client.conn.Close()

	env := nextUpstream(t, f)
	assert.Equal(t, message.EventDisconnected, env.Event)
	assert.Equal(t, 0, f.registry.Count())
}

func TestPtyRows_Payload(t *testing.T) {
	// "xterm", 80 cols, 24 rows.
	payload := []byte{
		0, 0, 0, 5, 'x', 't', 'e', 'r', 'm',
		0, 0, 0, 80,
		0, 0, 0, 24,
	}
	rows, ok := ptyRows(payload)
	require.True(t, ok)
	assert.Equal(t, 24, rows)

	_, ok = ptyRows([]byte{0, 0})
	assert.False(t, ok)
}

func TestWindowRows_Payload(t *testing.T) {
	payload := []byte{0, 0, 0, 120, 0, 0, 0, 40}
	rows, ok := windowRows(payload)
	require.True(t, ok)
	assert.Equal(t, 40, rows)
}
