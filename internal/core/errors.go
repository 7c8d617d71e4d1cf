package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionGone means an operation targeted a destroyed or absent
	// session. Reported to the user, never retried.
	ErrSessionGone = errors.New("playback session is gone")

	// ErrInvalidState means the command is not meaningful in the session's
	// current state, e.g. pause while idle.
	ErrInvalidState = errors.New("command not valid in current playback state")

	// ErrEngineUnavailable means the audio node is down or reconnecting.
	// The command is aborted; the user is told to try again shortly.
	ErrEngineUnavailable = errors.New("audio node unavailable, try again shortly")

	// ErrIndexOutOfRange is returned by queue operations with a bad index.
	ErrIndexOutOfRange = errors.New("queue index out of range")

	// ErrRateLimited means the user exceeded the per-guild command budget.
	ErrRateLimited = errors.New("too many commands, slow down")

	// ErrFailureThreshold is the terminal signal from the error tracker:
	// the session was destroyed after too many consecutive playback errors.
	ErrFailureThreshold = errors.New("too many consecutive playback failures")
)

// ChannelPermissionError reports the specific permissions the bot is missing
// in a channel.
type ChannelPermissionError struct {
	ChannelID string
	Missing   []string
}

func (e *ChannelPermissionError) Error() string {
	return fmt.Sprintf("missing permissions in channel %s: %s",
		e.ChannelID, strings.Join(e.Missing, ", "))
}

// CaptchaRequiredError is a control-flow signal, not a failure: the search
// path hit a challenge and the command must be gated behind it.
type CaptchaRequiredError struct {
	Challenge CaptchaChallenge
}

func (e *CaptchaRequiredError) Error() string {
	return "captcha required: " + e.Challenge.URL
}
