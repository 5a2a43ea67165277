// Package message defines the JSON envelope spoken over the backend
// WebSocket and the tagged outbound items queued to client sessions.
package message

import (
	"encoding/json"
	"fmt"
)

// Events sent from the front end to the game engine.
const (
	EventConnected    = "connection/connected"
	EventDisconnected = "connection/disconnected"
	EventPlayerInput  = "player/input"
	EventHeartbeat    = "heartbeat"
	EventLoadPlayers  = "game/load_players"
)

// Events received from the game engine.
const (
	EventPlayersOutput  = "players/output"
	EventSignIn         = "players/sign-in"
	EventSignOut        = "players/sign-out"
	EventLoginFailed    = "players/login-failed"
	EventSessionCommand = "player/session command"
	EventSoftboot       = "game/softboot"
)

// Envelope is the frame exchanged with the game engine. Tasks is only set
// on heartbeats. Field order is alphabetical so encoded frames have a
// stable key order.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Secret  string          `json:"secret"`
	Tasks   int             `json:"tasks,omitempty"`
}

// New builds an envelope with an encoded payload. A nil payload produces a
// frame without a payload key.
func New(event, secret string, payload any) (Envelope, error) {
	env := Envelope{Event: event, Secret: secret}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	env.Payload = raw
	return env, nil
}

// Connected notifies the engine of a new client session.
type Connected struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`
	Rows int    `json:"rows"`
	UUID string `json:"uuid"`
}

// Disconnected notifies the engine that a session ended.
type Disconnected struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`
	UUID string `json:"uuid"`
}

// Input carries one line of player input to the engine.
type Input struct {
	Addr string `json:"addr"`
	Msg  string `json:"msg"`
	Port int    `json:"port"`
	UUID string `json:"uuid"`
}

// Output is engine text destined for one session. IsPrompt is the string
// "true" or "false" on the wire.
type Output struct {
	IsPrompt string `json:"is prompt"`
	Message  string `json:"message"`
	UUID     string `json:"uuid"`
}

// SignIn reports a successful in-game login for a session.
type SignIn struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// SignOut reports a quit or failed login; Message is shown to the client
// before the session is closed.
type SignOut struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
}

// SessionCommand is a non-I/O instruction for one session, currently the
// echo toggles "do echo" and "dont echo".
type SessionCommand struct {
	Command string `json:"command"`
	UUID    string `json:"uuid"`
}

// Softboot asks the front end to relaunch the engine after WaitTime seconds.
type Softboot struct {
	WaitTime int `json:"wait_time"`
}

// LoadPlayers is the soft-boot snapshot handed to a freshly connected
// engine so it can restore logged-in players without re-prompting.
type LoadPlayers struct {
	Players map[string]PlayerInfo `json:"players"`
}

// PlayerInfo is one snapshot entry, encoded as the array [name, addr, port].
type PlayerInfo struct {
	Name string
	Addr string
	Port int
}

func (p PlayerInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Name, p.Addr, p.Port})
}

func (p *PlayerInfo) UnmarshalJSON(data []byte) error {
	var parts []any
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("player info: want 3 elements, got %d", len(parts))
	}
	name, ok := parts[0].(string)
	if !ok {
		return fmt.Errorf("player info: name is %T, not string", parts[0])
	}
	addr, ok := parts[1].(string)
	if !ok {
		return fmt.Errorf("player info: addr is %T, not string", parts[1])
	}
	port, ok := parts[2].(float64)
	if !ok {
		return fmt.Errorf("player info: port is %T, not number", parts[2])
	}
	p.Name, p.Addr, p.Port = name, addr, int(port)
	return nil
}
