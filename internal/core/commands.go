package core

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type IntentKind int

const (
	IntentPlay IntentKind = iota
	IntentSearch
	IntentPause
	IntentResume
	IntentSkip
	IntentStop
	IntentShuffle
	IntentRemove
	IntentLoop
	IntentQueuePage
	IntentCaptchaAnswer
	IntentAlwaysConnected
)

func (k IntentKind) String() string {
	switch k {
	case IntentPlay:
		return "play"
	case IntentSearch:
		return "search"
	case IntentPause:
		return "pause"
	case IntentResume:
		return "resume"
	case IntentSkip:
		return "skip"
	case IntentStop:
		return "stop"
	case IntentShuffle:
		return "shuffle"
	case IntentRemove:
		return "remove"
	case IntentLoop:
		return "loop"
	case IntentQueuePage:
		return "queue"
	case IntentCaptchaAnswer:
		return "captcha"
	case IntentAlwaysConnected:
		return "247"
	default:
		return "unknown"
	}
}

// CommandIntent is a captured command invocation. Captcha replay rebuilds one
// of these from the stored challenge and pushes it through the same Execute
// path as a fresh command, so both share one code surface.
type CommandIntent struct {
	Kind           IntentKind
	GuildID        string
	UserID         string
	TextChannelID  string
	VoiceChannelID string

	Query   string
	Count   *int
	Offset  *int
	Index   int
	Page    int
	Loop    LoopMode
	Enabled bool
	Answer  string

	// CaptchaKey/CaptchaSID are set only on replay after a solved challenge.
	CaptchaKey string
	CaptchaSID string
}

// CommandResult is what Execute hands back to the UI layer.
type CommandResult struct {
	Message    string
	Tracks     []Track
	NowPlaying *Track
	// Prompt is set instead of a playback effect when a challenge gates the
	// command.
	Prompt *CaptchaPrompt
}

// Executor is the single command-execution interface used by interaction
// handlers and by captcha replay alike.
type Executor interface {
	Execute(ctx context.Context, intent CommandIntent) (*CommandResult, error)
}

var (
	queryPunct = regexp.MustCompile(`[-\\/.,;:'"#@!$%^&*()_=+<>~` + "`" + `|]+`)
	querySpace = regexp.MustCompile(`\s+`)
)

// sanitizeQuery folds the query to NFKC and strips punctuation the audio
// source chokes on.
func sanitizeQuery(q string) string {
	q = norm.NFKC.String(q)
	q = queryPunct.ReplaceAllString(q, "")
	q = querySpace.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}
