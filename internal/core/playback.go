package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (o *Orchestrator) executePlay(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	if !o.engine.Healthy() {
		return nil, ErrEngineUnavailable
	}

	count := 1
	if intent.Count != nil {
		count = *intent.Count
	}
	offset := 0
	if intent.Offset != nil {
		offset = *intent.Offset
	}

	tracks, err := o.engine.Search(ctx, SearchRequest{
		Query:      sanitizeQuery(intent.Query),
		Count:      count,
		Offset:     offset,
		CaptchaKey: intent.CaptchaKey,
		CaptchaSID: intent.CaptchaSID,
	})
	if err != nil {
		var cerr *CaptchaRequiredError
		if errors.As(err, &cerr) {
			return o.gateCaptcha(ctx, intent, cerr.Challenge)
		}
		return nil, fmt.Errorf("track lookup failed: %w", err)
	}
	if len(tracks) == 0 {
		return &CommandResult{Message: "Nothing found."}, nil
	}

	if missing, err := o.gateway.MissingVoicePermissions(intent.VoiceChannelID); err != nil {
		return nil, fmt.Errorf("voice permission check failed: %w", err)
	} else if len(missing) > 0 {
		return nil, &ChannelPermissionError{ChannelID: intent.VoiceChannelID, Missing: missing}
	}

	var res *CommandResult
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		sess, created := t.GetOrCreateSession(intent.TextChannelID, intent.VoiceChannelID)
		if created {
			o.logger.Info("session created",
				zap.String("guildID", intent.GuildID),
				zap.String("voiceChannelID", intent.VoiceChannelID))
			o.bumpSessionGauge(1)
		}

		dup := false
		for _, tr := range tracks {
			if o.recent != nil && o.recent.Has(intent.GuildID+":"+tr.Key()) {
				dup = true
			}
			if err := sess.Enqueue(tr); err != nil {
				opErr = err
				return
			}
		}

		if sess.State() == StateIdle {
			if err := o.startPlaybackLocked(ctx, t, sess); err != nil {
				if created {
					o.destroyLocked(ctx, t, "connect_failed")
				}
				opErr = err
				return
			}
		}
		o.armIdleTimerLocked(t)

		msg := fmt.Sprintf("Queued %d track(s).", len(tracks))
		if dup {
			msg += " Some of them were played here recently."
		}
		res = &CommandResult{Message: msg, Tracks: tracks}
		if cur, ok := sess.Queue.Current(); ok {
			res.NowPlaying = &cur
		}
	})
	return res, opErr
}

// executeSearch resolves tracks without touching any session. The UI layer
// turns the result into a pick list whose selection comes back as IntentPlay.
func (o *Orchestrator) executeSearch(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	if !o.engine.Healthy() {
		return nil, ErrEngineUnavailable
	}

	count := o.config.App.QueuePageSize
	if intent.Count != nil {
		count = *intent.Count
	}
	offset := 0
	if intent.Offset != nil {
		offset = *intent.Offset
	}

	tracks, err := o.engine.Search(ctx, SearchRequest{
		Query:      sanitizeQuery(intent.Query),
		Count:      count,
		Offset:     offset,
		CaptchaKey: intent.CaptchaKey,
		CaptchaSID: intent.CaptchaSID,
	})
	if err != nil {
		var cerr *CaptchaRequiredError
		if errors.As(err, &cerr) {
			return o.gateCaptcha(ctx, intent, cerr.Challenge)
		}
		return nil, fmt.Errorf("track lookup failed: %w", err)
	}
	if len(tracks) == 0 {
		return &CommandResult{Message: "Nothing found."}, nil
	}
	return &CommandResult{Tracks: tracks}, nil
}

func (o *Orchestrator) executePauseResume(ctx context.Context, intent CommandIntent, pause bool) (*CommandResult, error) {
	var res *CommandResult
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		sess := t.session
		if sess == nil {
			opErr = ErrSessionGone
			return
		}
		if err := sess.setPaused(pause); err != nil {
			opErr = err
			return
		}
		if err := o.engine.SetPaused(ctx, sess.GuildID, pause); err != nil {
			_ = sess.setPaused(!pause) // roll the state flip back
			opErr = fmt.Errorf("engine pause failed: %w", err)
			return
		}
		o.armIdleTimerLocked(t)
		if pause {
			res = &CommandResult{Message: "Paused."}
		} else {
			res = &CommandResult{Message: "Resumed."}
		}
	})
	return res, opErr
}

func (o *Orchestrator) executeSkip(ctx context.Context, intent CommandIntent) (*CommandResult, error) {
	var res *CommandResult
	var opErr error
	o.registry.With(intent.GuildID, func(t *Tenant) {
		sess := t.session
		if sess == nil || sess.Destroyed() {
			opErr = ErrSessionGone
			return
		}
		if sess.State() != StatePlaying && sess.State() != StatePaused {
			opErr = ErrInvalidState
			return
		}
		next, ok := sess.Queue.Advance()
		if !ok && sess.Loop == LoopQueue {
			next, ok = sess.Queue.Restart()
		}
		if !ok {
			if err := o.engine.Stop(ctx, sess.GuildID); err != nil {
				o.logger.Warn("failed to stop player",
					zap.String("guildID", sess.GuildID), zap.Error(err))
			}
			sess.state = StateIdle
			o.armIdleTimerLocked(t)
			res = &CommandResult{Message: "Skipped. The queue is finished."}
			return
		}
		o.playLocked(ctx, t, sess, next)
		res = &CommandResult{Message: "Skipped.", NowPlaying: &next}
	})
	return res, opErr
}

// startPlaybackLocked brings an idle session to playing: voice join, node
// player, first track. Any failure rolls the state back to idle.
func (o *Orchestrator) startPlaybackLocked(ctx context.Context, t *Tenant, sess *Session) error {
	cur, ok := sess.Queue.Current()
	if !ok {
		return ErrInvalidState
	}

	sess.state = StateConnecting
	if err := o.gateway.JoinVoice(sess.GuildID, sess.VoiceChannelID); err != nil {
		sess.state = StateIdle
		return fmt.Errorf("voice join failed: %w", err)
	}
	if err := o.engine.CreatePlayer(ctx, sess.GuildID, sess.VoiceChannelID); err != nil {
		sess.state = StateIdle
		return fmt.Errorf("player create failed: %w", err)
	}
	if err := o.engine.Play(ctx, sess.GuildID, cur); err != nil {
		sess.state = StateIdle
		return fmt.Errorf("playback start failed: %w", err)
	}
	sess.state = StatePlaying
	if o.recent != nil {
		o.recent.Add(sess.GuildID + ":" + cur.Key())
	}
	o.announceNowPlayingLocked(ctx, t, cur)
	return nil
}

// playLocked starts the given track on an already-connected session.
func (o *Orchestrator) playLocked(ctx context.Context, t *Tenant, sess *Session, track Track) {
	if err := o.engine.Play(ctx, sess.GuildID, track); err != nil {
		o.logger.Error("failed to start track",
			zap.String("guildID", sess.GuildID),
			zap.String("track", track.Key()),
			zap.Error(err))
		o.trackErrorLocked(ctx, t, sess, err)
		return
	}
	sess.state = StatePlaying
	if o.recent != nil {
		o.recent.Add(sess.GuildID + ":" + track.Key())
	}
	o.armIdleTimerLocked(t)
	o.announceNowPlayingLocked(ctx, t, track)
}

// announceNowPlayingLocked replaces the previous now-playing message with a
// fresh one. Skipped entirely when the bot cannot post in the text channel.
func (o *Orchestrator) announceNowPlayingLocked(ctx context.Context, t *Tenant, track Track) {
	missing, err := o.gateway.MissingTextPermissions(t.session.TextChannelID)
	if err != nil || len(missing) > 0 {
		o.logger.Debug("skipping now-playing announcement",
			zap.String("guildID", t.guildID),
			zap.Strings("missing", missing),
			zap.Error(err))
		return
	}

	if t.nowPlaying != nil {
		if err := o.gateway.DeleteMessage(ctx, t.nowPlaying.ChannelID, t.nowPlaying.MessageID); err != nil {
			o.logger.Debug("failed to delete stale now-playing message",
				zap.String("guildID", t.guildID), zap.Error(err))
		}
		t.nowPlaying = nil
	}

	text := fmt.Sprintf("Now playing: %s - %s (%s)",
		track.Author, track.Title, formatDuration(track.Duration))
	msgID, err := o.gateway.SendMessage(ctx, t.session.TextChannelID, text)
	if err != nil {
		o.logger.Warn("failed to announce track",
			zap.String("guildID", t.guildID), zap.Error(err))
		return
	}
	t.nowPlaying = &messageRef{ChannelID: t.session.TextChannelID, MessageID: msgID}
}

// HandleTrackEnd is the audio node's track-completed callback.
func (o *Orchestrator) HandleTrackEnd(guildID string) {
	ctx := context.Background()
	o.registry.With(guildID, func(t *Tenant) {
		sess := t.session
		if sess == nil || sess.Destroyed() {
			return
		}

		if sess.Loop == LoopTrack {
			if cur, ok := sess.Queue.Current(); ok {
				o.playLocked(ctx, t, sess, cur)
				return
			}
		}

		next, ok := sess.Queue.Advance()
		if !ok && sess.Loop == LoopQueue {
			next, ok = sess.Queue.Restart()
		}
		if !ok {
			sess.state = StateIdle
			o.armIdleTimerLocked(t)
			return
		}
		o.playLocked(ctx, t, sess, next)
	})
}

// HandleTrackError is the audio node's track-failed callback.
func (o *Orchestrator) HandleTrackError(guildID string, cause error) {
	ctx := context.Background()
	o.metrics.RecordPlaybackError()
	o.registry.With(guildID, func(t *Tenant) {
		sess := t.session
		if sess == nil || sess.Destroyed() {
			return
		}
		o.trackErrorLocked(ctx, t, sess, cause)
	})
}

// trackErrorLocked counts one playback error. Below the threshold it rearms
// the decay window and skips past the broken track; at the threshold it tears
// the session down and reports a correlation ID the user can quote.
func (o *Orchestrator) trackErrorLocked(ctx context.Context, t *Tenant, sess *Session, cause error) {
	count := sess.errors.Increment()
	o.logger.Warn("playback error",
		zap.String("guildID", sess.GuildID),
		zap.Int("consecutive", count),
		zap.Error(cause))

	if count >= o.config.App.ErrorThreshold {
		errorID := uuid.NewString()
		textID := sess.TextChannelID
		o.logger.Error(ErrFailureThreshold.Error(),
			zap.String("guildID", sess.GuildID),
			zap.String("errorID", errorID),
			zap.Error(cause))
		o.destroyLocked(ctx, t, "error_threshold")
		o.gateway.SendTransient(ctx, textID,
			fmt.Sprintf("Playback keeps failing, so I stopped and left. Error ID: %s", errorID), 0)
		return
	}

	guildID := sess.GuildID
	tracked := sess
	sess.errors.RearmDecay(o.config.App.ErrorDecayWindow, func() {
		o.registry.With(guildID, func(t *Tenant) {
			if t.session == tracked && !tracked.Destroyed() {
				tracked.errors.Reset()
			}
		})
	})

	next, ok := sess.Queue.Advance()
	if !ok && sess.Loop == LoopQueue {
		next, ok = sess.Queue.Restart()
	}
	if !ok {
		sess.state = StateIdle
		o.armIdleTimerLocked(t)
		return
	}
	o.playLocked(ctx, t, sess, next)
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
