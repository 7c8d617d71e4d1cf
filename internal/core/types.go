package core

import (
	"context"
	"time"
)

// Track is an immutable playable item resolved by the audio node.
type Track struct {
	SourceID string
	Title    string
	Author   string
	Duration time.Duration
	Source   string // source-provider code, e.g. "vk"
}

// Key returns the identity used for recently-played bookkeeping.
func (t Track) Key() string {
	return t.Source + ":" + t.SourceID
}

type Subject int

const (
	// SubjectSelf marks a voice event about the bot's own voice state.
	SubjectSelf Subject = iota
	// SubjectOther marks a voice event about any other guild member.
	SubjectOther
)

// VoiceEvent is a normalized voice-state-change notification from the gateway.
type VoiceEvent struct {
	GuildID      string
	OldChannelID string
	NewChannelID string
	Subject      Subject
}

type Transition int

const (
	TransitionUnknown Transition = iota
	TransitionJoined
	TransitionLeft
	TransitionMoved
)

// ClassifyTransition maps an old/new channel pair to a transition.
// First match wins: both absent or equal is Unknown.
func ClassifyTransition(oldChannelID, newChannelID string) Transition {
	switch {
	case oldChannelID == newChannelID:
		return TransitionUnknown
	case oldChannelID == "" && newChannelID != "":
		return TransitionJoined
	case oldChannelID != "" && newChannelID == "":
		return TransitionLeft
	default:
		return TransitionMoved
	}
}

// GuildSettings holds the per-guild flags this core reads on demand.
type GuildSettings struct {
	AlwaysConnected bool
	Premium         bool
}

// Gateway is the chat-platform boundary: message primitives, permission
// checks, voice-channel occupancy, and the raw voice connection.
type Gateway interface {
	// SendMessage posts to a text channel and returns the message ID.
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	// SendTransient posts a message and deletes it after deleteAfter.
	// Delivery and deletion failures are logged by the implementation.
	SendTransient(ctx context.Context, channelID, text string, deleteAfter time.Duration)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// MissingTextPermissions returns the send-path permissions the bot lacks
	// in the channel, empty when it can post.
	MissingTextPermissions(channelID string) ([]string, error)
	// MissingVoicePermissions returns the connect/speak permissions the bot
	// lacks in the voice channel, empty when it can join.
	MissingVoicePermissions(channelID string) ([]string, error)
	// HumanCount reports the number of non-bot members in a voice channel.
	HumanCount(guildID, channelID string) (int, error)
	JoinVoice(guildID, channelID string) error
	LeaveVoice(guildID string) error
}

// SearchRequest carries a track lookup to the audio node. CaptchaKey and
// CaptchaSID are set only when replaying a command after a solved challenge.
type SearchRequest struct {
	Query      string
	Count      int
	Offset     int
	CaptchaKey string
	CaptchaSID string
}

// AudioEngine is the audio-node boundary. Track-end and track-error events
// flow back through handlers registered by the orchestrator.
type AudioEngine interface {
	CreatePlayer(ctx context.Context, guildID, channelID string) error
	DestroyPlayer(ctx context.Context, guildID string) error
	Play(ctx context.Context, guildID string, track Track) error
	Stop(ctx context.Context, guildID string) error
	SetPaused(ctx context.Context, guildID string, paused bool) error
	// Position reports the playback position of the guild's player, false if
	// the node knows no such player.
	Position(guildID string) (time.Duration, bool)
	// Healthy is false while the node connection is down or reconnecting.
	Healthy() bool
	// Search resolves a query to tracks. Returns *CaptchaRequiredError when
	// the source demands a challenge.
	Search(ctx context.Context, req SearchRequest) ([]Track, error)
}

// SettingsStore reads per-guild configuration on demand; the core never
// caches the result.
type SettingsStore interface {
	GuildSettings(ctx context.Context, guildID string) (GuildSettings, error)
	SetAlwaysConnected(ctx context.Context, guildID string, enabled bool) error
}

// CaptchaSolver is the external solving service: challenge URL in, answer out.
type CaptchaSolver interface {
	Solve(ctx context.Context, challengeURL string) (string, error)
}

// RecentStore remembers recently played tracks for the duplicate notice.
type RecentStore interface {
	Has(key string) bool
	Add(key string)
}

// RateLimiter gates command execution per user per guild.
type RateLimiter interface {
	Allow(guildID, userID string) bool
}

// Metrics is implemented by the HTTP server; NopMetrics serves tests.
type Metrics interface {
	RecordCommand(kind, status string)
	RecordEviction(reason string)
	RecordPlaybackError()
	RecordCaptcha(outcome string)
	RecordCommandDuration(kind string, d time.Duration)
	SetActiveSessions(n int)
}

type NopMetrics struct{}

func (NopMetrics) RecordCommand(string, string)                {}
func (NopMetrics) RecordEviction(string)                       {}
func (NopMetrics) RecordPlaybackError()                        {}
func (NopMetrics) RecordCaptcha(string)                        {}
func (NopMetrics) RecordCommandDuration(string, time.Duration) {}
func (NopMetrics) SetActiveSessions(int)                       {}
