package telnet

import (
	"time"
)

// MSSP sub-negotiation tokens.
const (
	MSSPVar byte = 1
	MSSPVal byte = 2
)

// Status holds the server metadata published over MSSP. Players is
// consulted on every probe so the count stays live; everything else is
// fixed at startup.
type Status struct {
	Name      string
	Codebase  string
	Contact   string
	Location  string
	Ports     []int
	StartedAt time.Time
	Players   func() int
}

// tokens renders the full variable schema as the mixed-type token list fed
// to BuildSub. List-valued variables repeat the VAR name VAL element pair
// per element.
func (s *Status) tokens() []any {
	players := 0
	if s.Players != nil {
		players = s.Players()
	}

	out := []any{OptMSSP}
	scalar := func(name string, val any) {
		out = append(out, MSSPVar, name, MSSPVal, val)
	}

	scalar("NAME", s.Name)
	scalar("PLAYERS", players)
	scalar("UPTIME", s.StartedAt.Unix())
	scalar("CODEBASE", s.Codebase)
	scalar("CONTACT", s.Contact)
	scalar("CRAWL DELAY", -1)
	scalar("CREATED", 2002)
	scalar("HOSTNAME", -1)
	scalar("ICON", -1)
	scalar("IP", -1)
	scalar("IPV6", -1)
	scalar("LANGUAGE", "English")
	scalar("LOCATION", s.Location)
	scalar("MINIMUM AGE", -1)
	for _, port := range s.Ports {
		out = append(out, MSSPVar, "PORT", MSSPVal, port)
	}
	scalar("REFERRAL", -1)
	scalar("WEBSITE", -1)
	scalar("FAMILY", "Custom")
	scalar("GENRE", "Fantasy")
	scalar("GAMEPLAY", "Adventure")
	scalar("STATUS", "Alpha")
	scalar("GAMESYSTEM", "None")
	scalar("INTERMUD", "Grapevine")
	scalar("SUBGENRE", "High Fantasy")
	scalar("AREAS", 1)
	scalar("HELPFILES", 60)
	scalar("MOBILES", 1)
	scalar("OBJECTS", 1)
	scalar("ROOMS", 20)
	scalar("CLASSES", 5)
	scalar("LEVELS", 50)
	scalar("RACES", 5)
	scalar("SKILLS", 1)
	scalar("ANSI", 1)
	scalar("MSP", 0)
	scalar("UTF-8", 1)
	scalar("VT100", 0)
	scalar("XTERM 256 COLORS", 0)
	scalar("XTERM TRUE COLORS", 0)
	scalar("PAY TO PLAY", 0)
	scalar("PAY FOR PERKS", 0)
	scalar("HIRING BUILDERS", 0)
	scalar("HIRING CODERS", 0)
	return out
}

// Response builds the complete IAC SB MSSP ... IAC SE reply to DO MSSP.
func (s *Status) Response() []byte {
	return BuildSub(s.tokens()...)
}
