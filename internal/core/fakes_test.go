package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type fakeGateway struct {
	mu           sync.Mutex
	humans       map[string]int
	missingText  []string
	missingVoice []string
	joinErr      error

	sent       []string
	transients []string
	deleted    []string
	joined     []string
	left       []string
	nextMsgID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{humans: make(map[string]int)}
}

func (g *fakeGateway) SendMessage(_ context.Context, channelID, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextMsgID++
	g.sent = append(g.sent, channelID+"|"+text)
	return fmt.Sprintf("msg-%d", g.nextMsgID), nil
}

func (g *fakeGateway) SendTransient(_ context.Context, channelID, text string, _ time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transients = append(g.transients, channelID+"|"+text)
}

func (g *fakeGateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, channelID+"|"+messageID)
	return nil
}

func (g *fakeGateway) MissingTextPermissions(string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.missingText, nil
}

func (g *fakeGateway) MissingVoicePermissions(string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.missingVoice, nil
}

func (g *fakeGateway) HumanCount(_, channelID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.humans[channelID], nil
}

func (g *fakeGateway) JoinVoice(guildID, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.joinErr != nil {
		return g.joinErr
	}
	g.joined = append(g.joined, guildID+"|"+channelID)
	return nil
}

func (g *fakeGateway) LeaveVoice(guildID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.left = append(g.left, guildID)
	return nil
}

func (g *fakeGateway) transientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transients)
}

type fakeEngine struct {
	mu              sync.Mutex
	unhealthy       bool
	searchResults   []Track
	searchErr       error
	searchErrAlways bool
	playErr         error

	searchReqs []SearchRequest
	played     []Track
	destroyed  []string
	stopped    []string
	paused     map[string]bool
}

func newFakeEngine(results ...Track) *fakeEngine {
	return &fakeEngine{searchResults: results, paused: make(map[string]bool)}
}

func (e *fakeEngine) CreatePlayer(context.Context, string, string) error { return nil }

func (e *fakeEngine) DestroyPlayer(_ context.Context, guildID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = append(e.destroyed, guildID)
	return nil
}

func (e *fakeEngine) Play(_ context.Context, _ string, track Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.played = append(e.played, track)
	return nil
}

func (e *fakeEngine) Stop(_ context.Context, guildID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, guildID)
	return nil
}

func (e *fakeEngine) SetPaused(_ context.Context, guildID string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[guildID] = paused
	return nil
}

func (e *fakeEngine) Position(string) (time.Duration, bool) { return 0, false }

func (e *fakeEngine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unhealthy
}

// Search fails with searchErr until the request carries a captcha key, which
// mirrors how the real node accepts a solved challenge. searchErrAlways
// models a node that keeps challenging even solved keys.
func (e *fakeEngine) Search(_ context.Context, req SearchRequest) ([]Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searchReqs = append(e.searchReqs, req)
	if e.searchErr != nil && (e.searchErrAlways || req.CaptchaKey == "") {
		return nil, e.searchErr
	}
	return e.searchResults, nil
}

func (e *fakeEngine) playedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.played)
}

func (e *fakeEngine) lastSearch() SearchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.searchReqs[len(e.searchReqs)-1]
}

type fakeSettings struct {
	mu       sync.Mutex
	settings map[string]GuildSettings
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{settings: make(map[string]GuildSettings)}
}

func (s *fakeSettings) GuildSettings(_ context.Context, guildID string) (GuildSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[guildID], nil
}

func (s *fakeSettings) SetAlwaysConnected(_ context.Context, guildID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.settings[guildID]
	cur.AlwaysConnected = enabled
	s.settings[guildID] = cur
	return nil
}

type fakeSolver struct {
	answer string
	err    error
	calls  []string
}

func (s *fakeSolver) Solve(_ context.Context, challengeURL string) (string, error) {
	s.calls = append(s.calls, challengeURL)
	return s.answer, s.err
}

type fakeMetrics struct {
	NopMetrics
	mu       sync.Mutex
	sessions []int
}

func (m *fakeMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, n)
}

func (m *fakeMetrics) lastSessions() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return 0, false
	}
	return m.sessions[len(m.sessions)-1], true
}

type fakeLimiter struct {
	deny  bool
	calls int
}

func (l *fakeLimiter) Allow(string, string) bool {
	l.calls++
	return !l.deny
}

func testTracks(n int) []Track {
	out := make([]Track, n)
	for i := range out {
		out[i] = Track{
			SourceID: fmt.Sprintf("id-%d", i),
			Title:    fmt.Sprintf("Track %d", i),
			Author:   "Artist",
			Duration: 3 * time.Minute,
			Source:   "vk",
		}
	}
	return out
}

func newTestOrchestrator(g *fakeGateway, e *fakeEngine, s *fakeSettings, solver CaptchaSolver, limiter RateLimiter) *Orchestrator {
	cfg := DefaultConfig()
	return NewOrchestrator(cfg, g, e, s, solver, nil, limiter, nil, zap.NewNop())
}
