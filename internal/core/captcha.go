package core

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// CaptchaChallenge captures a pending verification gate plus everything
// needed to replay the command that hit it with unchanged arguments.
type CaptchaChallenge struct {
	Kind   IntentKind // IntentPlay or IntentSearch
	Query  string
	Count  *int
	Offset *int
	URL    string
	SID    string
	Index  int
	// SolvedKey is filled in once the solver or the user answers.
	SolvedKey string
}

// CaptchaPrompt is what the UI layer shows when a challenge cannot be
// auto-solved.
type CaptchaPrompt struct {
	ImageURL string
	Text     string
}

const captchaPromptText = "Verification required. Run the captcha command and enter " +
	"the code from the image. Premium guilds solve these automatically."

// CaptchaManager holds at most one pending challenge per guild. A newer
// challenge silently replaces the stale one.
type CaptchaManager struct {
	mu      sync.Mutex
	pending map[string]CaptchaChallenge
}

func NewCaptchaManager() *CaptchaManager {
	return &CaptchaManager{pending: make(map[string]CaptchaChallenge)}
}

func (m *CaptchaManager) Set(guildID string, ch CaptchaChallenge) {
	m.mu.Lock()
	m.pending[guildID] = ch
	m.mu.Unlock()
}

// Consume pops and returns the pending challenge for the guild.
func (m *CaptchaManager) Consume(guildID string) (CaptchaChallenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[guildID]
	if ok {
		delete(m.pending, guildID)
	}
	return ch, ok
}

// Peek returns the pending challenge without removing it.
func (m *CaptchaManager) Peek(guildID string) (CaptchaChallenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.pending[guildID]
	return ch, ok
}

// promptImageURL appends a random cache-buster so the chat client fetches a
// fresh challenge image every time.
func promptImageURL(challengeURL string) string {
	return challengeURL + "&r=" + strconv.FormatInt(rand.Int63(), 36)
}

// gateCaptcha records the challenge and either auto-solves it (premium
// guilds) or hands the UI layer a prompt. Auto-solve replays the original
// command immediately, with its captured arguments.
func (o *Orchestrator) gateCaptcha(ctx context.Context, intent CommandIntent, ch CaptchaChallenge) (*CommandResult, error) {
	// The node only knows the challenge itself; the command context comes
	// from the intent that hit it.
	ch.Kind = intent.Kind
	ch.Query = intent.Query
	ch.Count = intent.Count
	ch.Offset = intent.Offset
	ch.Index = intent.Index
	o.captcha.Set(intent.GuildID, ch)
	o.metrics.RecordCaptcha("required")
	o.logger.Info("captcha challenge received",
		zap.String("guildID", intent.GuildID),
		zap.String("kind", ch.Kind.String()))

	// A replay already spent its solver attempt; a node that challenges the
	// solved key again gets the manual prompt, never another solve cycle.
	if intent.CaptchaKey != "" {
		return &CommandResult{Prompt: &CaptchaPrompt{
			ImageURL: promptImageURL(ch.URL),
			Text:     captchaPromptText,
		}}, nil
	}

	settings, err := o.settings.GuildSettings(ctx, intent.GuildID)
	if err != nil {
		o.logger.Warn("settings lookup failed",
			zap.String("guildID", intent.GuildID), zap.Error(err))
	}
	if err == nil && settings.Premium && o.solver != nil {
		answer, solveErr := o.solver.Solve(ctx, ch.URL)
		if solveErr == nil && answer != "" {
			o.captcha.Consume(intent.GuildID)
			ch.SolvedKey = answer
			o.metrics.RecordCaptcha("auto_solved")
			o.logger.Info("captcha solved automatically",
				zap.String("guildID", intent.GuildID))
			return o.replayChallenge(ctx, intent, ch)
		}
		o.metrics.RecordCaptcha("solver_failed")
		o.logger.Warn("captcha solver failed",
			zap.String("guildID", intent.GuildID), zap.Error(solveErr))
	}

	return &CommandResult{Prompt: &CaptchaPrompt{
		ImageURL: promptImageURL(ch.URL),
		Text:     captchaPromptText,
	}}, nil
}

// replayChallenge re-invokes the gated command with its captured arguments
// plus the solved key, through the same Execute path as a fresh command.
func (o *Orchestrator) replayChallenge(ctx context.Context, origin CommandIntent, ch CaptchaChallenge) (*CommandResult, error) {
	var exec Executor = o
	return exec.Execute(ctx, CommandIntent{
		Kind:           ch.Kind,
		GuildID:        origin.GuildID,
		UserID:         origin.UserID,
		TextChannelID:  origin.TextChannelID,
		VoiceChannelID: origin.VoiceChannelID,
		Query:          ch.Query,
		Count:          ch.Count,
		Offset:         ch.Offset,
		Index:          ch.Index,
		CaptchaKey:     ch.SolvedKey,
		CaptchaSID:     ch.SID,
	})
}

func (o *Orchestrator) executeCaptchaAnswer(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	ch, ok := o.captcha.Consume(intent.GuildID)
	if !ok {
		return nil, fmt.Errorf("%w: no pending challenge", ErrInvalidState)
	}
	ch.SolvedKey = intent.Answer
	o.metrics.RecordCaptcha("answered")
	return o.replayChallenge(ctx, intent, ch)
}

// PendingChallenge exposes the guild's pending challenge for UI layers that
// want to re-show the prompt.
func (o *Orchestrator) PendingChallenge(guildID string) (CaptchaChallenge, bool) {
	return o.captcha.Peek(guildID)
}
