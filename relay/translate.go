// Package relay contains the translation layer between stream events, console
// commands, and game-log lines, plus the orchestrator that runs the two
// pipelines.
package relay

import (
	"fmt"
	"strings"

	"github.com/onnwee/factorio-relay/console"
	"github.com/onnwee/factorio-relay/eventsub"
	"github.com/onnwee/factorio-relay/identity"
)

// Event kinds the command translator understands. Anything else translates
// to nothing, which keeps unknown subscription types harmless.
const (
	KindChatMessage = "channel.chat.message"
	KindCheer       = "channel.cheer"
	KindFollow      = "channel.follow"
	KindSubscribe   = "channel.subscribe"
)

// RequiresLink reports whether an event kind can only translate when the
// acting user has an identity link into the game.
func RequiresLink(kind string) bool {
	return kind == KindCheer
}

// TranslateCommand maps a verified inbound event to zero or more console
// commands. link is only consulted for kinds that RequiresLink; linked events
// of those kinds with no link produce nothing.
func TranslateCommand(ev eventsub.Event, link identity.Link, linked bool) []console.Command {
	switch ev.Kind {
	case KindChatMessage:
		raw := MessageText(ev)
		if strings.TrimSpace(raw) == "/players" {
			return []console.Command{{Text: "/bridge-player-list", Fingerprint: ev.Fingerprint}}
		}
		text := Sanitize(raw)
		if text == "" {
			return nil
		}
		name := Sanitize(ev.SourceUserName)
		if c := chatColor(ev); c != "" {
			return []console.Command{puppet(ev, fmt.Sprintf("[color=%s]%s:[/color] %s", c, name, text))}
		}
		return []console.Command{puppet(ev, name+": "+text)}
	case KindCheer:
		if !linked {
			return nil
		}
		bits := intField(ev.Payload, "bits")
		if bits <= 0 {
			return nil
		}
		return []console.Command{{
			Text:        fmt.Sprintf("give %s %d", Sanitize(link.TargetUserID), bits),
			Fingerprint: ev.Fingerprint,
		}}
	case KindFollow:
		name := Sanitize(ev.SourceUserName)
		if name == "" {
			return nil
		}
		return []console.Command{puppet(ev, name+" just followed the channel!")}
	case KindSubscribe:
		name := Sanitize(ev.SourceUserName)
		if name == "" {
			return nil
		}
		return []console.Command{puppet(ev, name+" just subscribed!")}
	default:
		return nil
	}
}

func puppet(ev eventsub.Event, body string) console.Command {
	return console.Command{
		Text:        "/puppet [twitch] " + body,
		Fingerprint: ev.Fingerprint,
	}
}

// chatColor returns the chatter's color from a channel.chat.message payload
// when it is a well-formed #RRGGBB value, or "" to fall back to plain text.
// Strict validation keeps user-controlled input out of the rich-text markup.
func chatColor(ev eventsub.Event) string {
	c, _ := ev.Payload["color"].(string)
	if len(c) != 7 || c[0] != '#' {
		return ""
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return ""
		}
	}
	return c
}

// MessageText pulls the chat text out of a channel.chat.message payload.
func MessageText(ev eventsub.Event) string {
	msg, ok := ev.Payload["message"].(map[string]any)
	if !ok {
		return ""
	}
	text, _ := msg["text"].(string)
	return text
}

// Sanitize strips control characters from user-controlled text and removes a
// leading slash so chat input cannot smuggle console commands into the
// command line built around it.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimLeft(b.String(), "/")
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
