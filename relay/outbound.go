package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/factorio-relay/identity"
	"github.com/onnwee/factorio-relay/twitchchat"
)

// serverSpeaker is the name the game server signs its own console chatter
// with. Those lines are never relayed.
const serverSpeaker = "<server>"

type lineKind int

const (
	lineUnknown lineKind = iota
	lineChat
	lineJoin
	lineLeave
	linePlayerList
)

// lineMarkers maps the bridge-log grammar tokens to kinds. Both the bare and
// the bracketed spelling are accepted; lines usually carry a timestamp prefix
// before the marker.
var lineMarkers = []struct {
	token string
	kind  lineKind
}{
	{"[CHAT] ", lineChat},
	{"CHAT ", lineChat},
	{"[JOIN] ", lineJoin},
	{"JOIN ", lineJoin},
	{"[LEAVE] ", lineLeave},
	{"LEAVE ", lineLeave},
	{"[PLAYERLIST] ", linePlayerList},
	{"PLAYERLIST ", linePlayerList},
}

// parseLine finds the first recognized marker and returns the kind plus the
// text after it. The marker must start the line or follow a space so chat
// content containing a marker word mid-sentence is not misparsed.
func parseLine(text string) (lineKind, string) {
	for _, m := range lineMarkers {
		if strings.HasPrefix(text, m.token) {
			return m.kind, text[len(m.token):]
		}
		if i := strings.Index(text, " "+m.token); i >= 0 {
			return m.kind, text[i+1+len(m.token):]
		}
	}
	return lineUnknown, ""
}

// TranslateOutbound maps one game-log line to zero or more chat messages.
// Server-signed chat is suppressed; chat speakers are reverse-resolved to
// their linked stream identity when exactly one link matches.
func TranslateOutbound(ctx context.Context, text string, resolver identity.Store) []twitchchat.Message {
	kind, rest := parseLine(text)
	switch kind {
	case lineChat:
		name, msg, ok := strings.Cut(rest, ": ")
		if !ok || name == serverSpeaker {
			return nil
		}
		display := name
		if resolver != nil {
			link, found, err := resolver.ReverseResolve(ctx, identity.PlatformFactorio, name)
			if err != nil {
				slog.Warn("reverse resolve failed", slog.String("component", "relay"),
					slog.String("player", name), slog.Any("err", err))
			} else if found {
				display = fmt.Sprintf("%s (%s)", name, link.SourceUserID)
			}
		}
		return []twitchchat.Message{{Text: display + ": " + msg}}
	case lineJoin:
		// Only the name matters; the log may append "joined the game" itself.
		name, _, _ := strings.Cut(rest, " ")
		if name == "" {
			return nil
		}
		return []twitchchat.Message{{Text: name + " joined the game"}}
	case lineLeave:
		name, _, _ := strings.Cut(rest, " ")
		if name == "" {
			return nil
		}
		return []twitchchat.Message{{Text: name + " left the game"}}
	case linePlayerList:
		return []twitchchat.Message{{Text: formatPlayerList(rest)}}
	default:
		return nil
	}
}

// formatPlayerList folds the semicolon-separated player list response into a
// single chat line. Each entry is "name state"; only names are shown.
func formatPlayerList(rest string) string {
	var names []string
	for _, entry := range strings.Split(rest, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, _, _ := strings.Cut(entry, " ")
		names = append(names, name)
	}
	if len(names) == 0 {
		return "No players online"
	}
	return fmt.Sprintf("%d online: %s", len(names), strings.Join(names, ", "))
}
