package core

import (
	"time"
)

type SessionState int

const (
	// StateIdle means the session exists but nothing is playing.
	StateIdle SessionState = iota
	// StateConnecting means the voice binding is being established.
	StateConnecting
	// StatePlaying means a track is streaming.
	StatePlaying
	// StatePaused means playback is suspended but resumable.
	StatePaused
	// StateDestroyed is terminal: the session is never reused.
	StateDestroyed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

// Session is the live playback context of one guild. All mutation happens
// inside the guild's serialization unit; the struct carries no lock of its
// own.
type Session struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	Queue          *Queue
	Loop           LoopMode

	state     SessionState
	errors    *ErrorTracker
	createdAt time.Time
}

func newSession(guildID, textChannelID, voiceChannelID string) *Session {
	return &Session{
		GuildID:        guildID,
		TextChannelID:  textChannelID,
		VoiceChannelID: voiceChannelID,
		Queue:          NewQueue(),
		state:          StateIdle,
		errors:         &ErrorTracker{},
		createdAt:      time.Now(),
	}
}

func (s *Session) State() SessionState {
	return s.state
}

func (s *Session) Destroyed() bool {
	return s.state == StateDestroyed
}

// Enqueue appends a track, rejecting destroyed sessions.
func (s *Session) Enqueue(track Track) error {
	if s.Destroyed() {
		return ErrSessionGone
	}
	s.Queue.Append(track)
	return nil
}

// setPaused flips between playing and paused, rejecting states where the
// transition is not meaningful.
func (s *Session) setPaused(paused bool) error {
	switch {
	case s.Destroyed():
		return ErrSessionGone
	case paused && s.state == StatePlaying:
		s.state = StatePaused
		return nil
	case !paused && s.state == StatePaused:
		s.state = StatePlaying
		return nil
	default:
		return ErrInvalidState
	}
}
