package core

import (
	"context"
	"strings"
	"testing"
)

func startedSession(t *testing.T, g *fakeGateway, s *fakeSettings) (*Orchestrator, *fakeEngine) {
	t.Helper()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, s, nil, nil)
	if _, err := o.Execute(context.Background(), playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	return o, e
}

func TestBotDisconnectDestroysSession(t *testing.T) {
	g := newFakeGateway()
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		Subject:      SubjectSelf,
	})

	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("session must not survive losing its voice binding")
	}
}

func TestBotMovedToEmptyChannel(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-2"] = 0
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		NewChannelID: "voice-2",
		Subject:      SubjectSelf,
	})

	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("bot moved to an empty channel must destroy the session")
	}
	if g.transientCount() != 1 || !strings.Contains(g.transients[0], "left the voice channel") {
		t.Fatalf("expected an eviction notice, got %v", g.transients)
	}
}

func TestBotMovedToOccupiedChannelRebinds(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-2"] = 1
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		NewChannelID: "voice-2",
		Subject:      SubjectSelf,
	})

	if state, ok := o.Registry().SessionState("g1"); !ok || state != StatePlaying {
		t.Fatalf("session should survive a move to an occupied channel, state=%v ok=%v", state, ok)
	}
	var bound string
	o.Registry().With("g1", func(tn *Tenant) { bound = tn.Session().VoiceChannelID })
	if bound != "voice-2" {
		t.Fatalf("session must rebind to the new channel, got %s", bound)
	}
}

func TestBotMovedAlwaysConnectedSkipsOccupancy(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-2"] = 0
	s := newFakeSettings()
	s.settings["g1"] = GuildSettings{AlwaysConnected: true}
	o, _ := startedSession(t, g, s)

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		NewChannelID: "voice-2",
		Subject:      SubjectSelf,
	})

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("always-connected guild must keep its session in an empty channel")
	}
}

func TestBystanderLeaveEmptiesChannel(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-1"] = 0
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		Subject:      SubjectOther,
	})

	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("last listener leaving must destroy the session")
	}
	if g.transientCount() != 1 {
		t.Fatalf("expected one eviction notice, got %v", g.transients)
	}
}

func TestBystanderLeaveFromOtherChannel(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-9"] = 0
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-9",
		Subject:      SubjectOther,
	})

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("activity in unrelated channels must not touch the session")
	}
}

func TestBystanderLeaveWithListenersRemaining(t *testing.T) {
	g := newFakeGateway()
	g.humans["voice-1"] = 2
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		OldChannelID: "voice-1",
		Subject:      SubjectOther,
	})

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("session must survive while listeners remain")
	}
}

func TestBystanderJoinIgnored(t *testing.T) {
	g := newFakeGateway()
	o, _ := startedSession(t, g, newFakeSettings())

	o.HandleVoiceEvent(context.Background(), VoiceEvent{
		GuildID:      "g1",
		NewChannelID: "voice-1",
		Subject:      SubjectOther,
	})

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("a bystander joining must not affect the session")
	}
}

func TestClassifyTransition(t *testing.T) {
	cases := []struct {
		old, new string
		want     Transition
	}{
		{"", "", TransitionUnknown},
		{"a", "a", TransitionUnknown},
		{"", "a", TransitionJoined},
		{"a", "", TransitionLeft},
		{"a", "b", TransitionMoved},
	}
	for _, c := range cases {
		if got := ClassifyTransition(c.old, c.new); got != c.want {
			t.Errorf("ClassifyTransition(%q, %q) = %v, want %v", c.old, c.new, got, c.want)
		}
	}
}
