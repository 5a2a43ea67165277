package message

// OutboundKind tags the variants of a per-session outbound item.
type OutboundKind int

const (
	// OutboundIO is plain text for the client, optionally a prompt.
	OutboundIO OutboundKind = iota
	// OutboundTelnetCommand is a raw telnet option sequence.
	OutboundTelnetCommand
	// OutboundSSHCommand is reserved for future SSH channel requests.
	OutboundSSHCommand
)

// Outbound is one item on a session's outbound queue. Dispatch on Kind:
// Text/IsPrompt are set for IO, Command for the command variants.
type Outbound struct {
	Kind     OutboundKind
	Text     string
	IsPrompt bool
	Command  []byte
}

// IO wraps client-bound text. Prompt items are followed by IAC GA on
// telnet-family transports.
func IO(text string, prompt bool) Outbound {
	return Outbound{Kind: OutboundIO, Text: text, IsPrompt: prompt}
}

// TelnetCommand wraps raw option bytes written verbatim to the client.
func TelnetCommand(cmd []byte) Outbound {
	return Outbound{Kind: OutboundTelnetCommand, Command: cmd}
}
