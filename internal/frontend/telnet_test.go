package frontend

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudforge/gate/internal/bus"
	"github.com/mudforge/gate/internal/config"
	"github.com/mudforge/gate/internal/message"
	"github.com/mudforge/gate/internal/session"
	"github.com/mudforge/gate/internal/telnet"
)

const testSecret = "s3cret"

type testFrontend struct {
	registry *session.Registry
	upstream *bus.Upstream
	addr     net.Addr
}

func startTelnet(t *testing.T) *testFrontend {
	t.Helper()

	upstream := bus.NewUpstream()
	registry := session.NewRegistry(testSecret, upstream)
	status := &telnet.Status{
		Name:    "Gate",
		Ports:   []int{4000},
		Players: registry.LoggedInCount,
	}
	srv := NewTelnetServer(
		config.Listener{IdleTimeout: time.Minute},
		registry,
		telnet.NewHandler(status),
	)

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

func dial(t *testing.T, f *testFrontend) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", f.addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBytes(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// readSome reads whatever arrives next within the deadline.
func readSome(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func nextUpstream(t *testing.T, f *testFrontend) message.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := f.upstream.Get(ctx)
	require.NoError(t, err)
	return env
}

func TestTelnet_GreetingBytes(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)

	greeting := readBytes(t, conn, 6)

	want := append(telnet.EchoOn(), telnet.AdvertiseFeatures()...)
	assert.Equal(t, want, greeting)
}

func TestTelnet_InputFlow(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)

	env := nextUpstream(t, f)
	require.Equal(t, message.EventConnected, env.Event)
	assert.Equal(t, testSecret, env.Secret)

	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))

	_, err := conn.Write([]byte("look north  \r\n"))
	require.NoError(t, err)

	env = nextUpstream(t, f)
	require.Equal(t, message.EventPlayerInput, env.Event)

	var input message.Input
	require.NoError(t, json.Unmarshal(env.Payload, &input))
	assert.Equal(t, "look north", input.Msg)
	assert.Equal(t, connected.UUID, input.UUID)
}

func TestTelnet_PromptFollowedByGoAhead(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)

	env := nextUpstream(t, f)
	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))

	require.True(t, f.registry.Deliver(connected.UUID, message.IO("> ", true)))

	got := readBytes(t, conn, 4)
	assert.Equal(t, append([]byte("> "), telnet.GoAhead()...), got)
}

func TestTelnet_EchoToggleCommands(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)

	env := nextUpstream(t, f)
	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))

	require.True(t, f.registry.Deliver(connected.UUID, message.TelnetCommand(telnet.EchoOff())))
	assert.Equal(t, telnet.EchoOff(), readBytes(t, conn, 3))

	require.True(t, f.registry.Deliver(connected.UUID, message.TelnetCommand(telnet.EchoOn())))
	assert.Equal(t, telnet.EchoOn(), readBytes(t, conn, 3))
}

func TestTelnet_MSSPProbeWithoutNewline(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)
	nextUpstream(t, f)

	_, err := conn.Write([]byte{telnet.IAC, telnet.DO, telnet.OptMSSP})
	require.NoError(t, err)

	reply := readSome(t, conn)
	require.True(t, len(reply) > 3)
	assert.Equal(t, []byte{telnet.IAC, telnet.SB, telnet.OptMSSP}, reply[:3])
	assert.Contains(t, string(reply), "NAME")
	assert.Contains(t, string(reply), "Gate")
}

func TestTelnet_OptionSequenceFragmentedAcrossReads(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)
	nextUpstream(t, f)

	// The option sequence arrives split across two TCP segments. The
	// server must still answer it and keep the trailing option byte out
	// of the player's command.
	_, err := conn.Write([]byte{telnet.IAC, telnet.DO})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	_, err = conn.Write([]byte{telnet.OptMSSP})
	require.NoError(t, err)

	reply := readSome(t, conn)
	require.GreaterOrEqual(t, len(reply), 3)
	assert.Equal(t, []byte{telnet.IAC, telnet.SB, telnet.OptMSSP}, reply[:3])

	_, err = conn.Write([]byte("look\r\n"))
	require.NoError(t, err)

	env := nextUpstream(t, f)
	require.Equal(t, message.EventPlayerInput, env.Event)

	var input message.Input
	require.NoError(t, json.Unmarshal(env.Payload, &input))
	assert.Equal(t, "look", input.Msg)
}

func TestTelnet_ClientDisconnectAnnounced(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)
	nextUpstream(t, f)

	conn.Close()

	env := nextUpstream(t, f)
	assert.Equal(t, message.EventDisconnected, env.Event)
	assert.Equal(t, 0, f.registry.Count())
}

func TestTelnet_BackendDisconnectClosesClient(t *testing.T) {
	f := startTelnet(t)
	conn := dial(t, f)
	readBytes(t, conn, 6)

	env := nextUpstream(t, f)
	var connected message.Connected
	require.NoError(t, json.Unmarshal(env.Payload, &connected))

	f.registry.Disconnect(connected.UUID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	assert.Error(t, err)

	env = nextUpstream(t, f)
	assert.Equal(t, message.EventDisconnected, env.Event)
}

func TestForwardLines_KeepsPartialLine(t *testing.T) {
	upstream := bus.NewUpstream()
	registry := session.NewRegistry(testSecret, upstream)
	sess := session.New("10.0.0.1", 1000, session.KindTelnet)

	rest := forwardLines(registry, sess, []byte("first\r\nsecond"))

	assert.Equal(t, "second", string(rest))
	assert.Equal(t, 1, upstream.Len())
}
