// Package discord adapts the chat platform: message primitives, permission
// checks, voice-channel occupancy, slash commands, and the voice event feed.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"volna/internal/core"
)

// Gateway wraps a discordgo session behind the orchestrator's platform
// boundary. Voice connections are signalling-only: the audio node streams,
// the bot just tells Discord which channel it sits in.
type Gateway struct {
	session *discordgo.Session
	logger  *zap.Logger

	executor core.Executor
	voice    func(context.Context, core.VoiceEvent)
}

func New(token string, logger *zap.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	return &Gateway{session: session, logger: logger}, nil
}

// Bind attaches the command executor and the voice event sink. Must be
// called before Open.
func (g *Gateway) Bind(executor core.Executor, voice func(context.Context, core.VoiceEvent)) {
	g.executor = executor
	g.voice = voice
	g.session.AddHandler(g.onInteraction)
	g.session.AddHandler(g.onVoiceStateUpdate)
}

// Open connects to the Discord gateway and registers the slash commands.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if err := g.registerCommands(); err != nil {
		g.session.Close()
		return err
	}
	g.logger.Info("discord gateway connected",
		zap.String("user", g.session.State.User.Username))
	return nil
}

func (g *Gateway) Close() error {
	return g.session.Close()
}

// SendMessage posts to a text channel and returns the message ID.
func (g *Gateway) SendMessage(_ context.Context, channelID, text string) (string, error) {
	msg, err := g.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// SendTransient posts a message and deletes it after deleteAfter. A zero
// deleteAfter leaves the message in place.
func (g *Gateway) SendTransient(_ context.Context, channelID, text string, deleteAfter time.Duration) {
	msg, err := g.session.ChannelMessageSend(channelID, text)
	if err != nil {
		g.logger.Warn("failed to send notice",
			zap.String("channelID", channelID), zap.Error(err))
		return
	}
	if deleteAfter <= 0 {
		return
	}
	time.AfterFunc(deleteAfter, func() {
		if err := g.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
			g.logger.Debug("failed to delete notice",
				zap.String("channelID", channelID), zap.Error(err))
		}
	})
}

func (g *Gateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return g.session.ChannelMessageDelete(channelID, messageID)
}

// MissingTextPermissions returns the send-path permissions the bot lacks in
// the channel.
func (g *Gateway) MissingTextPermissions(channelID string) ([]string, error) {
	return g.missingPermissions(channelID, map[int64]string{
		discordgo.PermissionViewChannel:  "VIEW_CHANNEL",
		discordgo.PermissionSendMessages: "SEND_MESSAGES",
	})
}

// MissingVoicePermissions returns the connect/speak permissions the bot
// lacks in the voice channel.
func (g *Gateway) MissingVoicePermissions(channelID string) ([]string, error) {
	return g.missingPermissions(channelID, map[int64]string{
		discordgo.PermissionViewChannel:  "VIEW_CHANNEL",
		discordgo.PermissionVoiceConnect: "CONNECT",
		discordgo.PermissionVoiceSpeak:   "SPEAK",
	})
}

func (g *Gateway) missingPermissions(channelID string, required map[int64]string) ([]string, error) {
	perms, err := g.session.UserChannelPermissions(g.session.State.User.ID, channelID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel permissions: %w", err)
	}
	var missing []string
	for bit, name := range required {
		if perms&bit == 0 {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// HumanCount reports the number of non-bot members in a voice channel.
func (g *Gateway) HumanCount(guildID, channelID string) (int, error) {
	guild, err := g.session.State.Guild(guildID)
	if err != nil {
		guild, err = g.session.Guild(guildID)
		if err != nil {
			return 0, fmt.Errorf("resolve guild: %w", err)
		}
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if g.isBot(guildID, vs.UserID) {
			continue
		}
		count++
	}
	return count, nil
}

func (g *Gateway) isBot(guildID, userID string) bool {
	if userID == g.session.State.User.ID {
		return true
	}
	member, err := g.session.State.Member(guildID, userID)
	if err != nil {
		member, err = g.session.GuildMember(guildID, userID)
		if err != nil {
			return false
		}
	}
	return member.User != nil && member.User.Bot
}

// JoinVoice signals Discord to place the bot in the voice channel. The
// audio node picks up the resulting voice server update.
func (g *Gateway) JoinVoice(guildID, channelID string) error {
	if err := g.session.ChannelVoiceJoinManual(guildID, channelID, false, true); err != nil {
		return fmt.Errorf("join voice channel: %w", err)
	}
	return nil
}

// LeaveVoice signals Discord to disconnect the bot from voice.
func (g *Gateway) LeaveVoice(guildID string) error {
	if err := g.session.ChannelVoiceJoinManual(guildID, "", false, true); err != nil {
		return fmt.Errorf("leave voice channel: %w", err)
	}
	return nil
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if g.voice == nil {
		return
	}
	old := ""
	if ev.BeforeUpdate != nil {
		old = ev.BeforeUpdate.ChannelID
	}
	subject := core.SubjectOther
	if ev.UserID == s.State.User.ID {
		subject = core.SubjectSelf
	}
	g.voice(context.Background(), core.VoiceEvent{
		GuildID:      ev.GuildID,
		OldChannelID: old,
		NewChannelID: ev.ChannelID,
		Subject:      subject,
	})
}

// userVoiceChannel finds the voice channel the member currently sits in.
func (g *Gateway) userVoiceChannel(guildID, userID string) string {
	guild, err := g.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}
