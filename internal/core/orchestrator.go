package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Orchestrator is the per-guild playback session orchestrator. It routes the
// three event streams (commands, voice-presence changes, audio-node
// callbacks) through one serialization unit per guild and owns the timing
// policies: idle eviction, error decay, captcha gating.
type Orchestrator struct {
	config   *Config
	gateway  Gateway
	engine   AudioEngine
	settings SettingsStore
	solver   CaptchaSolver
	recent   RecentStore
	limiter  RateLimiter
	metrics  Metrics
	logger   *zap.Logger

	captcha  *CaptchaManager
	registry *Registry

	liveSessions atomic.Int64
}

// NewOrchestrator wires the orchestrator. solver, recent, limiter and metrics
// may be nil; a nil solver just disables premium auto-solve.
func NewOrchestrator(
	config *Config,
	gateway Gateway,
	engine AudioEngine,
	settings SettingsStore,
	solver CaptchaSolver,
	recent RecentStore,
	limiter RateLimiter,
	metrics Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		config:   config,
		gateway:  gateway,
		engine:   engine,
		settings: settings,
		solver:   solver,
		recent:   recent,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		captcha:  NewCaptchaManager(),
		registry: NewRegistry(),
	}
}

// Registry exposes the session registry for read-side consumers.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Execute runs one command intent. Fresh invocations and captcha replays
// both land here; replays (recognizable by the solved key) skip the flood
// gate since their original invocation already paid for it.
func (o *Orchestrator) Execute(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	status := "ok"
	started := time.Now()
	defer func() {
		o.metrics.RecordCommand(intent.Kind.String(), status)
		o.metrics.RecordCommandDuration(intent.Kind.String(), time.Since(started))
	}()

	if o.limiter != nil && intent.CaptchaKey == "" && !o.limiter.Allow(intent.GuildID, intent.UserID) {
		status = "rate_limited"
		return nil, ErrRateLimited
	}

	res, err := o.dispatch(ctx, intent)
	if err != nil {
		status = "error"
	}
	return res, err
}

func (o *Orchestrator) dispatch(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	switch intent.Kind {
	case IntentPlay:
		return o.executePlay(ctx, intent)
	case IntentSearch:
		return o.executeSearch(ctx, intent)
	case IntentPause:
		return o.executePauseResume(ctx, intent, true)
	case IntentResume:
		return o.executePauseResume(ctx, intent, false)
	case IntentSkip:
		return o.executeSkip(ctx, intent)
	case IntentStop:
		return o.executeStop(ctx, intent)
	case IntentShuffle:
		return o.executeShuffle(intent)
	case IntentRemove:
		return o.executeRemove(intent)
	case IntentLoop:
		return o.executeLoop(intent)
	case IntentQueuePage:
		return o.executeQueuePage(intent)
	case IntentCaptchaAnswer:
		return o.executeCaptchaAnswer(ctx, intent)
	case IntentAlwaysConnected:
		return o.executeAlwaysConnected(ctx, intent)
	default:
		return nil, fmt.Errorf("unknown command kind %d", intent.Kind)
	}
}

// DestroySession tears down the guild's session. Callable from any event
// source; a second call on an already-destroyed session is a no-op.
func (o *Orchestrator) DestroySession(ctx context.Context, guildID, reason string) {
	o.registry.With(guildID, func(t *Tenant) {
		o.destroyLocked(ctx, t, reason)
	})
}

// destroyLocked executes the teardown sequence at most once, observed via
// the state check: the caller holds the tenant lock, so no second destroyer
// can interleave. Notification and engine failures are logged and swallowed;
// the sequence never aborts partway.
func (o *Orchestrator) destroyLocked(ctx context.Context, t *Tenant, reason string) {
	sess := t.session
	if sess == nil || sess.Destroyed() {
		return
	}

	if t.nowPlaying != nil {
		if err := o.gateway.DeleteMessage(ctx, t.nowPlaying.ChannelID, t.nowPlaying.MessageID); err != nil {
			o.logger.Debug("failed to delete now-playing message",
				zap.String("guildID", t.guildID), zap.Error(err))
		}
		t.nowPlaying = nil
	}

	if err := o.engine.DestroyPlayer(ctx, t.guildID); err != nil {
		o.logger.Warn("failed to destroy node player",
			zap.String("guildID", t.guildID), zap.Error(err))
	}
	if err := o.gateway.LeaveVoice(t.guildID); err != nil {
		o.logger.Warn("failed to leave voice channel",
			zap.String("guildID", t.guildID), zap.Error(err))
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	sess.errors.Cancel()
	sess.Queue.Clear()
	sess.state = StateDestroyed
	o.registry.Remove(t.guildID)

	o.metrics.RecordEviction(reason)
	o.bumpSessionGauge(-1)
	o.logger.Info("session destroyed",
		zap.String("guildID", t.guildID), zap.String("reason", reason))
}

// armIdleTimerLocked rearms the idle eviction countdown: cancel and
// reschedule, one timer per tenant. The expiry callback re-enters the
// tenant's serialization unit and no-ops if the session is already gone.
func (o *Orchestrator) armIdleTimerLocked(t *Tenant) {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	guildID := t.guildID
	t.idleTimer = time.AfterFunc(o.config.App.IdleTimeout, func() {
		o.registry.With(guildID, func(t *Tenant) {
			if t.session == nil || t.session.Destroyed() {
				return
			}
			o.logger.Debug("idle timeout expired", zap.String("guildID", guildID))
			o.destroyLocked(context.Background(), t, "idle")
		})
	})
}

// SetExitTimeout rearms the guild's idle eviction timer.
func (o *Orchestrator) SetExitTimeout(guildID string) {
	o.registry.With(guildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			return
		}
		o.armIdleTimerLocked(t)
	})
}

// ClearExitTimeout cancels the guild's idle eviction timer.
func (o *Orchestrator) ClearExitTimeout(guildID string) {
	o.registry.With(guildID, func(t *Tenant) {
		if t.idleTimer != nil {
			t.idleTimer.Stop()
			t.idleTimer = nil
		}
	})
}

// bumpSessionGauge keeps the active-session gauge on a plain counter:
// creates add one, destroys subtract one, and the update never has to walk
// the registry or leave the caller's tenant lock.
func (o *Orchestrator) bumpSessionGauge(delta int64) {
	o.metrics.SetActiveSessions(int(o.liveSessions.Add(delta)))
}

func (o *Orchestrator) executeStop(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		o.destroyLocked(ctx, t, "stop_command")
	})
	if opErr != nil {
		return nil, opErr
	}
	return &CommandResult{Message: "Stopped and left the channel."}, nil
}

func (o *Orchestrator) executeShuffle(intent CommandIntent) (*CommandResult, error) {
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		t.session.Queue.ShuffleRemaining()
	})
	if opErr != nil {
		return nil, opErr
	}
	return &CommandResult{Message: "Queue shuffled."}, nil
}

func (o *Orchestrator) executeRemove(intent CommandIntent) (*CommandResult, error) {
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		opErr = t.session.Queue.RemoveAt(intent.Index)
	})
	if opErr != nil {
		return nil, opErr
	}
	return &CommandResult{Message: "Track removed."}, nil
}

func (o *Orchestrator) executeLoop(intent CommandIntent) (*CommandResult, error) {
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		t.session.Loop = intent.Loop
	})
	if opErr != nil {
		return nil, opErr
	}
	return &CommandResult{Message: "Loop mode updated."}, nil
}

func (o *Orchestrator) executeQueuePage(intent CommandIntent) (*CommandResult, error) {
	page := intent.Page
	if page < 1 {
		page = 1
	}
	size := o.config.App.QueuePageSize
	if size < 1 {
		size = DefaultQueuePageSize
	}

	var res *CommandResult
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		if t.session == nil || t.session.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		q := t.session.Queue
		maxPages := (q.Len() + size - 1) / size
		if maxPages < 1 {
			maxPages = 1
		}
		page = min(page, maxPages)
		start := (page - 1) * size
		res = &CommandResult{
			Message: fmt.Sprintf("Page %d of %d", page, maxPages),
			Tracks:  q.ToSlice(start, start+size),
		}
		if cur, ok := q.Current(); ok {
			res.NowPlaying = &cur
		}
	})
	return res, opErr
}

func (o *Orchestrator) executeAlwaysConnected(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	if err := o.settings.SetAlwaysConnected(ctx, intent.GuildID, intent.Enabled); err != nil {
		return nil, fmt.Errorf("failed to update always-connected mode: %w", err)
	}
	if intent.Enabled {
		return &CommandResult{Message: "Always-connected mode enabled."}, nil
	}
	return &CommandResult{Message: "Always-connected mode disabled."}, nil
}
