package telnet

import (
	"fmt"
	"io"
	"strconv"
)

// Telnet command bytes (RFC 854).
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	SE   byte = 240 // Subnegotiation End
)

// Telnet option codes. Only the subset a MUD cares about.
const (
	OptMSSP    byte = 70 // Mud Server Status Protocol
	OptCharset byte = 42
	OptNAWS    byte = 31 // window size
	OptEOR     byte = 25 // end of record
	OptTType   byte = 24 // terminal type
	OptEcho    byte = 1
	OptNul     byte = 0
)

// Build concatenates mixed-type parts into a single IAC command sequence.
// Bytes and byte slices pass through, strings are UTF-8 encoded and ints
// are rendered as ASCII decimal.
func Build(parts ...any) []byte {
	return appendParts([]byte{IAC}, parts)
}

// BuildSub frames mixed-type parts as an IAC SB ... IAC SE sub-negotiation.
func BuildSub(parts ...any) []byte {
	out := appendParts([]byte{IAC, SB}, parts)
	return append(out, IAC, SE)
}

func appendParts(out []byte, parts []any) []byte {
	for _, p := range parts {
		switch v := p.(type) {
		case byte:
			out = append(out, v)
		case []byte:
			out = append(out, v...)
		case string:
			out = append(out, v...)
		case int:
			out = strconv.AppendInt(out, int64(v), 10)
		case int64:
			out = strconv.AppendInt(out, v, 10)
		}
	}
	return out
}

// AdvertiseFeatures returns the option block sent to a freshly accepted
// client: the server offers every capability it can honor.
func AdvertiseFeatures() []byte {
	return Build(WILL, OptMSSP)
}

// EchoOff tells the client the server will echo, suppressing local echo.
// Sent ahead of password entry.
func EchoOff() []byte {
	return Build(WILL, OptEcho)
}

// EchoOn tells the client the server will not echo, so the client should
// echo its own input again.
func EchoOn() []byte {
	return Build(WONT, OptEcho)
}

// GoAhead returns IAC GA, appended after prompts for clients that use it
// as an end-of-prompt marker.
func GoAhead() []byte {
	return Build(GA)
}

// SplitCommands walks a raw chunk from a telnet-family transport and
// separates IAC command sequences from user text. Escaped IAC IAC yields a
// literal 0xFF in the text (also inside SB payloads). Bytes that are
// neither part of a command nor a C0 control (other than TAB, CR and LF)
// are preserved as text, so UTF-8 input survives intact. A sequence cut
// off by the chunk boundary is returned in rest; the caller prepends it to
// the next read. rest aliases buf.
func SplitCommands(buf []byte) (opcodes, text, rest []byte) {
	i := 0
	for i < len(buf) {
		b := buf[i]
		if b != IAC {
			if b >= 0x20 || b == '\t' || b == '\r' || b == '\n' {
				text = append(text, b)
			}
			i++
			continue
		}
		if i+1 >= len(buf) {
			return opcodes, text, buf[i:]
		}
		cmd := buf[i+1]
		switch {
		case cmd == IAC:
			text = append(text, IAC)
			i += 2
		case cmd == WILL || cmd == WONT || cmd == DO || cmd == DONT:
			if i+2 >= len(buf) {
				return opcodes, text, buf[i:]
			}
			opcodes = append(opcodes, IAC, cmd, buf[i+2])
			i += 3
		case cmd == SB:
			j := i + 2
			for j+1 < len(buf) && !(buf[j] == IAC && buf[j+1] == SE) {
				if buf[j] == IAC && buf[j+1] == IAC {
					j += 2
					continue
				}
				j++
			}
			if j+1 >= len(buf) {
				return opcodes, text, buf[i:]
			}
			opcodes = append(opcodes, buf[i:j+2]...)
			i = j + 2
		default:
			opcodes = append(opcodes, IAC, cmd)
			i += 2
		}
	}
	return opcodes, text, nil
}

// Handler answers client option commands. Responses are written and
// flushed synchronously before Respond returns.
type Handler struct {
	responses map[[2]byte]func() []byte
}

// NewHandler builds the option dispatch table. The status value backs the
// MSSP reply.
func NewHandler(st *Status) *Handler {
	h := &Handler{responses: make(map[[2]byte]func() []byte)}
	h.responses[[2]byte{DO, OptMSSP}] = st.Response
	return h
}

// Respond scans extracted opcode bytes for command sequences we answer.
// Unknown sequences are ignored.
func (h *Handler) Respond(opcodes []byte, w io.Writer) error {
	for i := 0; i+2 < len(opcodes); i++ {
		if opcodes[i] != IAC {
			continue
		}
		fn, ok := h.responses[[2]byte{opcodes[i+1], opcodes[i+2]}]
		if !ok {
			continue
		}
		if _, err := w.Write(fn()); err != nil {
			return fmt.Errorf("writing option response: %w", err)
		}
		i += 2
	}
	return nil
}
