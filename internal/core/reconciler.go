package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const emptyChannelNotice = "I left the voice channel because nobody was listening. " +
	"Enable always-connected mode to keep me around."

// HandleVoiceEvent reconciles one voice-state change against the guild's
// session. Bot events track forced disconnects and moves; bystander events
// detect an abandoned channel.
func (o *Orchestrator) HandleVoiceEvent(ctx context.Context, ev VoiceEvent) {
	transition := ClassifyTransition(ev.OldChannelID, ev.NewChannelID)
	if transition == TransitionUnknown {
		return
	}
	if ev.Subject == SubjectSelf {
		o.reconcileSelf(ctx, ev, transition)
		return
	}
	o.reconcileOther(ctx, ev, transition)
}

func (o *Orchestrator) reconcileSelf(ctx context.Context, ev VoiceEvent, transition Transition) {
	switch transition {
	case TransitionLeft:
		// Kicked or disconnected out-of-band. The session cannot survive
		// without its voice binding.
		o.registry.With(ev.GuildID, func(t *Tenant) {
			if t.session == nil || t.session.Destroyed() {
				return
			}
			o.logger.Debug("bot removed from voice channel",
				zap.String("guildID", ev.GuildID),
				zap.String("channelID", ev.OldChannelID))
			o.destroyLocked(ctx, t, "voice_disconnect")
		})

	case TransitionJoined, TransitionMoved:
		// Rebind the session to wherever the bot landed.
		bound := false
		o.registry.With(ev.GuildID, func(t *Tenant) {
			if t.session == nil || t.session.Destroyed() {
				return
			}
			t.session.VoiceChannelID = ev.NewChannelID
			o.armIdleTimerLocked(t)
			bound = true
		})
		if !bound || transition != TransitionMoved {
			return
		}

		settings, err := o.settings.GuildSettings(ctx, ev.GuildID)
		if err != nil {
			o.logger.Warn("settings lookup failed",
				zap.String("guildID", ev.GuildID), zap.Error(err))
			return
		}
		if settings.AlwaysConnected {
			return
		}
		humans, err := o.gateway.HumanCount(ev.GuildID, ev.NewChannelID)
		if err != nil {
			o.logger.Warn("occupancy check failed",
				zap.String("guildID", ev.GuildID),
				zap.String("channelID", ev.NewChannelID),
				zap.Error(err))
			return
		}
		if humans > 0 {
			return
		}
		o.evictEmptyChannel(ctx, ev.GuildID, ev.NewChannelID,
			"moved_to_empty", o.config.App.MovedNoticeTTL)
	}
}

// reconcileOther handles a bystander's voice change. A leave or a move away
// can strand the bot alone; occupancy is checked on the channel the member
// departed, since that is where abandonment happens.
func (o *Orchestrator) reconcileOther(ctx context.Context, ev VoiceEvent, transition Transition) {
	if transition == TransitionJoined {
		return
	}
	departed := ev.OldChannelID
	if departed == "" {
		return
	}

	settings, err := o.settings.GuildSettings(ctx, ev.GuildID)
	if err != nil {
		o.logger.Warn("settings lookup failed",
			zap.String("guildID", ev.GuildID), zap.Error(err))
		return
	}
	if settings.AlwaysConnected {
		return
	}
	humans, err := o.gateway.HumanCount(ev.GuildID, departed)
	if err != nil {
		o.logger.Warn("occupancy check failed",
			zap.String("guildID", ev.GuildID),
			zap.String("channelID", departed),
			zap.Error(err))
		return
	}
	if humans > 0 {
		return
	}
	o.evictEmptyChannel(ctx, ev.GuildID, departed,
		"empty_channel", o.config.App.EmptyNoticeTTL)
}

// evictEmptyChannel destroys the session if it is still bound to the given
// channel, then posts a transient explanation.
func (o *Orchestrator) evictEmptyChannel(ctx context.Context, guildID, channelID, reason string, noticeTTL time.Duration) {
	o.registry.With(guildID, func(t *Tenant) {
		sess := t.session
		if sess == nil || sess.Destroyed() {
			return
		}
		if sess.VoiceChannelID != channelID {
			return
		}
		textID := sess.TextChannelID
		o.logger.Info("evicting session from empty channel",
			zap.String("guildID", guildID),
			zap.String("channelID", channelID),
			zap.String("reason", reason))
		o.destroyLocked(ctx, t, reason)
		o.gateway.SendTransient(ctx, textID, emptyChannelNotice, noticeTTL)
	})
}
