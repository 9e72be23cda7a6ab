package relay

import (
	"testing"

	"github.com/onnwee/factorio-relay/eventsub"
	"github.com/onnwee/factorio-relay/identity"
	"github.com/onnwee/factorio-relay/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

func chatEvent(name, text string) eventsub.Event {
	return eventsub.Event{
		Fingerprint:    "fp-" + text,
		SourcePlatform: identity.PlatformStream,
		SourceUserID:   "u1",
		SourceUserName: name,
		Kind:           KindChatMessage,
		Payload:        map[string]any{"message": map[string]any{"text": text}},
	}
}

func TestTranslateChatMessage(t *testing.T) {
	cmds := TranslateCommand(chatEvent("Viewer", "hello there"), identity.Link{}, false)
	if len(cmds) != 1 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].Text != "/puppet [twitch] Viewer: hello there" {
		t.Errorf("command = %q", cmds[0].Text)
	}
	if cmds[0].Fingerprint == "" {
		t.Error("fingerprint not carried through")
	}
}

func TestTranslateChatSanitizesControlChars(t *testing.T) {
	cmds := TranslateCommand(chatEvent("Viewer", "line1\nline2\x1b[31m"), identity.Link{}, false)
	if len(cmds) != 1 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].Text != "/puppet [twitch] Viewer: line1line2[31m" {
		t.Errorf("command = %q", cmds[0].Text)
	}
}

func TestTranslateChatNeutralizesLeadingSlash(t *testing.T) {
	cmds := TranslateCommand(chatEvent("Viewer", "/ban everyone"), identity.Link{}, false)
	if len(cmds) != 1 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].Text != "/puppet [twitch] Viewer: ban everyone" {
		t.Errorf("command = %q", cmds[0].Text)
	}
}

func TestTranslateChatCarriesUserColor(t *testing.T) {
	ev := chatEvent("Viewer", "hello there")
	ev.Payload["color"] = "#1E90FF"

	cmds := TranslateCommand(ev, identity.Link{}, false)
	if len(cmds) != 1 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].Text != "/puppet [twitch] [color=#1E90FF]Viewer:[/color] hello there" {
		t.Errorf("command = %q", cmds[0].Text)
	}
}

func TestTranslateChatRejectsBogusColor(t *testing.T) {
	tests := []string{"", "blue", "#12345", "#12345G", "#1E90FF]x[color=", "1E90FF"}
	for _, color := range tests {
		ev := chatEvent("Viewer", "hello")
		ev.Payload["color"] = color

		cmds := TranslateCommand(ev, identity.Link{}, false)
		if len(cmds) != 1 {
			t.Fatalf("color %q: got %d commands", color, len(cmds))
		}
		if cmds[0].Text != "/puppet [twitch] Viewer: hello" {
			t.Errorf("color %q: command = %q, want plain format", color, cmds[0].Text)
		}
	}
}

func TestTranslatePlayersPassthrough(t *testing.T) {
	cmds := TranslateCommand(chatEvent("Viewer", "/players"), identity.Link{}, false)
	if len(cmds) != 1 || cmds[0].Text != "/bridge-player-list" {
		t.Errorf("commands = %v", cmds)
	}
}

func TestTranslateCheer(t *testing.T) {
	ev := eventsub.Event{
		Fingerprint:    "fp",
		SourcePlatform: identity.PlatformStream,
		SourceUserID:   "U1",
		SourceUserName: "Generous",
		Kind:           KindCheer,
		Payload:        map[string]any{"bits": float64(100)},
	}
	link := identity.Link{
		SourcePlatform: identity.PlatformStream, SourceUserID: "U1",
		TargetPlatform: identity.PlatformFactorio, TargetUserID: "Steve",
	}

	cmds := TranslateCommand(ev, link, true)
	if len(cmds) != 1 || cmds[0].Text != "give Steve 100" {
		t.Errorf("commands = %v", cmds)
	}

	if got := TranslateCommand(ev, identity.Link{}, false); got != nil {
		t.Errorf("unlinked cheer produced %v, want nothing", got)
	}
}

func TestTranslateCheerZeroBits(t *testing.T) {
	ev := eventsub.Event{
		Kind:    KindCheer,
		Payload: map[string]any{"bits": float64(0)},
	}
	link := identity.Link{TargetUserID: "Steve"}
	if got := TranslateCommand(ev, link, true); got != nil {
		t.Errorf("zero-bit cheer produced %v", got)
	}
}

func TestTranslateFollowAndSubscribe(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{KindFollow, "/puppet [twitch] NewFan just followed the channel!"},
		{KindSubscribe, "/puppet [twitch] NewFan just subscribed!"},
	}
	for _, tt := range tests {
		ev := eventsub.Event{Kind: tt.kind, SourceUserName: "NewFan"}
		cmds := TranslateCommand(ev, identity.Link{}, false)
		if len(cmds) != 1 || cmds[0].Text != tt.want {
			t.Errorf("%s: commands = %v, want %q", tt.kind, cmds, tt.want)
		}
	}
}

func TestTranslateUnknownKind(t *testing.T) {
	ev := eventsub.Event{Kind: "channel.poll.begin", SourceUserName: "Someone"}
	if got := TranslateCommand(ev, identity.Link{}, false); got != nil {
		t.Errorf("unknown kind produced %v, want nothing", got)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"//cmd", "cmd"},
		{"a\r\nb", "ab"},
		{"\x00\x1f\x7fx", "x"},
		{"unicode ok é", "unicode ok é"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
