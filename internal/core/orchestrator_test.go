package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func playIntent(guildID string) CommandIntent {
	return CommandIntent{
		Kind:           IntentPlay,
		GuildID:        guildID,
		UserID:         "u1",
		TextChannelID:  "text-1",
		VoiceChannelID: "voice-1",
		Query:          "some song",
	}
}

func TestPlayCreatesSessionAndStartsPlayback(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(2)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)

	res, err := o.Execute(context.Background(), playIntent("g1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.NowPlaying == nil || res.NowPlaying.SourceID != "id-0" {
		t.Fatalf("expected id-0 now playing, got %+v", res.NowPlaying)
	}

	state, ok := o.Registry().SessionState("g1")
	if !ok || state != StatePlaying {
		t.Fatalf("expected playing session, got %v ok=%v", state, ok)
	}
	if len(g.joined) != 1 || g.joined[0] != "g1|voice-1" {
		t.Fatalf("expected one voice join, got %v", g.joined)
	}
	if e.playedCount() != 1 {
		t.Fatalf("expected one track started, got %d", e.playedCount())
	}
	if len(g.sent) != 1 || !strings.Contains(g.sent[0], "Now playing") {
		t.Fatalf("expected a now-playing announcement, got %v", g.sent)
	}
}

func TestPlayAppendsToLiveSession(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)

	ctx := context.Background()
	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}

	if len(g.joined) != 1 {
		t.Fatalf("second play must not rejoin voice, joins: %v", g.joined)
	}
	if e.playedCount() != 1 {
		t.Fatalf("second play must only enqueue, plays: %d", e.playedCount())
	}
}

func TestPlayEngineUnavailable(t *testing.T) {
	e := newFakeEngine()
	e.unhealthy = true
	o := newTestOrchestrator(newFakeGateway(), e, newFakeSettings(), nil, nil)

	if _, err := o.Execute(context.Background(), playIntent("g1")); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("no session should exist after an aborted play")
	}
}

func TestPlayMissingVoicePermissions(t *testing.T) {
	g := newFakeGateway()
	g.missingVoice = []string{"CONNECT"}
	o := newTestOrchestrator(g, newFakeEngine(testTracks(1)...), newFakeSettings(), nil, nil)

	_, err := o.Execute(context.Background(), playIntent("g1"))
	var perr *ChannelPermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ChannelPermissionError, got %v", err)
	}
	if perr.ChannelID != "voice-1" || perr.Missing[0] != "CONNECT" {
		t.Fatalf("wrong permission error: %+v", perr)
	}
}

func TestPauseResume(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentPause, GuildID: "g1"}); !errors.Is(err, ErrSessionGone) {
		t.Fatalf("pause without session should report ErrSessionGone, got %v", err)
	}

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentResume, GuildID: "g1"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resume while playing should be invalid, got %v", err)
	}

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentPause, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if state, _ := o.Registry().SessionState("g1"); state != StatePaused {
		t.Fatalf("expected paused, got %s", state)
	}
	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentResume, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if state, _ := o.Registry().SessionState("g1"); state != StatePlaying {
		t.Fatalf("expected playing, got %s", state)
	}
}

func TestStopDestroysSession(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentStop, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}

	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("session must be gone after stop")
	}
	if len(e.destroyed) != 1 || len(g.left) != 1 {
		t.Fatalf("expected player destroy and voice leave, got %v %v", e.destroyed, g.left)
	}
	if len(g.deleted) != 1 {
		t.Fatalf("now-playing message should be cleaned up, deletions: %v", g.deleted)
	}

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentStop, GuildID: "g1"}); !errors.Is(err, ErrSessionGone) {
		t.Fatalf("second stop should report ErrSessionGone, got %v", err)
	}
}

func TestSkipAdvancesQueue(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(2)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	res, err := o.Execute(ctx, CommandIntent{Kind: IntentSkip, GuildID: "g1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.NowPlaying == nil || res.NowPlaying.SourceID != "id-1" {
		t.Fatalf("expected id-1 after skip, got %+v", res.NowPlaying)
	}

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentSkip, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if state, _ := o.Registry().SessionState("g1"); state != StateIdle {
		t.Fatalf("exhausted queue should leave the session idle, got %s", state)
	}
	if len(e.stopped) != 1 {
		t.Fatalf("player should be stopped on exhaustion, got %v", e.stopped)
	}
}

func TestPlayAfterExhaustionStartsRequestedTrack(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	// Skip the only track; the session drops back to idle with the played
	// history still in the queue.
	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentSkip, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if state, _ := o.Registry().SessionState("g1"); state != StateIdle {
		t.Fatalf("expected idle session, got %s", state)
	}

	e.mu.Lock()
	e.searchResults = []Track{{SourceID: "id-new", Title: "New", Author: "Artist", Duration: 3 * time.Minute, Source: "vk"}}
	e.mu.Unlock()

	res, err := o.Execute(ctx, playIntent("g1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.NowPlaying == nil || res.NowPlaying.SourceID != "id-new" {
		t.Fatalf("play after exhaustion must start the requested track, got %+v", res.NowPlaying)
	}
	if last := e.played[len(e.played)-1]; last.SourceID != "id-new" {
		t.Fatalf("engine must receive the new track, got %s", last.SourceID)
	}
}

func TestSessionGaugeFollowsLifecycle(t *testing.T) {
	m := &fakeMetrics{}
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := NewOrchestrator(DefaultConfig(), g, e, newFakeSettings(), nil, nil, nil, m, zap.NewNop())
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	if got, ok := m.lastSessions(); !ok || got != 1 {
		t.Fatalf("gauge should read 1 after session create, got %d ok=%v", got, ok)
	}

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentStop, GuildID: "g1"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.lastSessions(); got != 0 {
		t.Fatalf("gauge should read 0 after session destroy, got %d", got)
	}
}

func TestQueuePagination(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(23)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	count := 23
	intent := playIntent("g1")
	intent.Count = &count
	if _, err := o.Execute(ctx, intent); err != nil {
		t.Fatal(err)
	}

	res, err := o.Execute(ctx, CommandIntent{Kind: IntentQueuePage, GuildID: "g1", Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tracks) != 10 {
		t.Fatalf("expected 10 tracks on page 2, got %d", len(res.Tracks))
	}
	if res.Tracks[0].SourceID != "id-10" {
		t.Fatalf("page 2 should start at id-10, got %s", res.Tracks[0].SourceID)
	}
	if res.Message != "Page 2 of 3" {
		t.Fatalf("wrong page label: %q", res.Message)
	}

	res, err = o.Execute(ctx, CommandIntent{Kind: IntentQueuePage, GuildID: "g1", Page: 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tracks) != 3 || res.Message != "Page 3 of 3" {
		t.Fatalf("out-of-range page should clamp to the last page, got %d tracks, %q", len(res.Tracks), res.Message)
	}
	if res.Tracks[0].SourceID != "id-20" {
		t.Fatalf("clamped page should start at id-20, got %s", res.Tracks[0].SourceID)
	}
}

func TestRateLimit(t *testing.T) {
	lim := &fakeLimiter{deny: true}
	o := newTestOrchestrator(newFakeGateway(), newFakeEngine(testTracks(1)...), newFakeSettings(), nil, lim)
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	replay := playIntent("g1")
	replay.CaptchaKey = "solved"
	if _, err := o.Execute(ctx, replay); err != nil {
		t.Fatalf("captcha replay must bypass the flood gate, got %v", err)
	}
	if lim.calls != 1 {
		t.Fatalf("replay should not consult the limiter, calls: %d", lim.calls)
	}
}

func TestErrorThresholdDestroysSession(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}

	cause := errors.New("decode failed")
	for i := 0; i < DefaultErrorThreshold; i++ {
		o.HandleTrackError("g1", cause)
	}

	if _, ok := o.Registry().SessionState("g1"); ok {
		t.Fatal("session must be destroyed at the error threshold")
	}
	if g.transientCount() != 1 || !strings.Contains(g.transients[0], "Error ID") {
		t.Fatalf("expected a terminal notice with an error ID, got %v", g.transients)
	}
}

func TestErrorCountDecays(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	o.config.App.ErrorDecayWindow = 20 * time.Millisecond
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}

	cause := errors.New("decode failed")
	o.HandleTrackError("g1", cause)
	o.HandleTrackError("g1", cause)
	time.Sleep(80 * time.Millisecond) // decay window passes, counter resets
	o.HandleTrackError("g1", cause)

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("decayed errors must not add up to the threshold")
	}
}

func TestIdleEviction(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	o.config.App.IdleTimeout = 20 * time.Millisecond
	ctx := context.Background()

	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := o.Registry().SessionState("g1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not evicted after the idle timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A new play after eviction starts a fresh session.
	if _, err := o.Execute(ctx, playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	if state, _ := o.Registry().SessionState("g1"); state != StatePlaying {
		t.Fatalf("expected a fresh playing session, got %s", state)
	}
}

func TestClearExitTimeoutKeepsSession(t *testing.T) {
	g := newFakeGateway()
	e := newFakeEngine(testTracks(1)...)
	o := newTestOrchestrator(g, e, newFakeSettings(), nil, nil)
	o.config.App.IdleTimeout = 20 * time.Millisecond

	if _, err := o.Execute(context.Background(), playIntent("g1")); err != nil {
		t.Fatal(err)
	}
	o.ClearExitTimeout("g1")
	time.Sleep(80 * time.Millisecond)

	if _, ok := o.Registry().SessionState("g1"); !ok {
		t.Fatal("session with a cleared idle timer must survive")
	}
}

func TestAlwaysConnectedToggle(t *testing.T) {
	s := newFakeSettings()
	o := newTestOrchestrator(newFakeGateway(), newFakeEngine(), s, nil, nil)
	ctx := context.Background()

	if _, err := o.Execute(ctx, CommandIntent{Kind: IntentAlwaysConnected, GuildID: "g1", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GuildSettings(ctx, "g1")
	if !got.AlwaysConnected {
		t.Fatal("always-connected flag was not persisted")
	}
}
