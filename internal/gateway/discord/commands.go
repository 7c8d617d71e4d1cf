package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"volna/internal/core"
)

var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Queue tracks by name or link",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "What to play", Required: true},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "How many tracks to queue"},
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "offset", Description: "Result offset"},
		},
	},
	{
		Name:        "search",
		Description: "Search for tracks without queueing them",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "What to look for", Required: true},
		},
	},
	{Name: "pause", Description: "Pause playback"},
	{Name: "resume", Description: "Resume playback"},
	{Name: "skip", Description: "Skip the current track"},
	{Name: "stop", Description: "Stop playback and leave the channel"},
	{Name: "shuffle", Description: "Shuffle the unplayed part of the queue"},
	{
		Name:        "remove",
		Description: "Remove a track from the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "index", Description: "Queue position to remove", Required: true},
		},
	},
	{
		Name:        "loop",
		Description: "Set the loop mode",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type: discordgo.ApplicationCommandOptionString, Name: "mode", Description: "Loop mode", Required: true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "off", Value: "off"},
					{Name: "track", Value: "track"},
					{Name: "queue", Value: "queue"},
				},
			},
		},
	},
	{
		Name:        "queue",
		Description: "Show the queue",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "page", Description: "Page number"},
		},
	},
	{
		Name:        "captcha",
		Description: "Answer the pending verification challenge",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "answer", Description: "Code from the image", Required: true},
		},
	},
	{
		Name:        "247",
		Description: "Toggle always-connected mode",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Stay connected around the clock", Required: true},
		},
	},
}

var commandKinds = map[string]core.IntentKind{
	"play":    core.IntentPlay,
	"search":  core.IntentSearch,
	"pause":   core.IntentPause,
	"resume":  core.IntentResume,
	"skip":    core.IntentSkip,
	"stop":    core.IntentStop,
	"shuffle": core.IntentShuffle,
	"remove":  core.IntentRemove,
	"loop":    core.IntentLoop,
	"queue":   core.IntentQueuePage,
	"captcha": core.IntentCaptchaAnswer,
	"247":     core.IntentAlwaysConnected,
}

func (g *Gateway) registerCommands() error {
	appID := g.session.State.User.ID
	for _, def := range commandDefinitions {
		if _, err := g.session.ApplicationCommandCreate(appID, "", def); err != nil {
			return fmt.Errorf("register command %s: %w", def.Name, err)
		}
	}
	return nil
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || g.executor == nil {
		return
	}
	data := i.ApplicationCommandData()
	kind, ok := commandKinds[data.Name]
	if !ok {
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	}
	intent := core.CommandIntent{
		Kind:           kind,
		GuildID:        i.GuildID,
		UserID:         userID,
		TextChannelID:  i.ChannelID,
		VoiceChannelID: g.userVoiceChannel(i.GuildID, userID),
	}
	applyOptions(&intent, data.Options)

	if (kind == core.IntentPlay || kind == core.IntentCaptchaAnswer) && intent.VoiceChannelID == "" {
		g.respond(s, i, "Join a voice channel first.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := g.executor.Execute(ctx, intent)
	if err != nil {
		g.logger.Warn("command failed",
			zap.String("command", data.Name),
			zap.String("guildID", i.GuildID),
			zap.Error(err))
		g.respond(s, i, errorMessage(err))
		return
	}
	g.respondResult(s, i, res)
}

// applyOptions copies the interaction's options onto the intent.
func applyOptions(intent *core.CommandIntent, options []*discordgo.ApplicationCommandInteractionDataOption) {
	for _, opt := range options {
		switch opt.Name {
		case "query":
			intent.Query = opt.StringValue()
		case "count":
			count := int(opt.IntValue())
			intent.Count = &count
		case "offset":
			offset := int(opt.IntValue())
			intent.Offset = &offset
		case "index":
			intent.Index = int(opt.IntValue())
		case "page":
			intent.Page = int(opt.IntValue())
		case "answer":
			intent.Answer = opt.StringValue()
		case "enabled":
			intent.Enabled = opt.BoolValue()
		case "mode":
			intent.Loop = parseLoopMode(opt.StringValue())
		}
	}
}

func parseLoopMode(mode string) core.LoopMode {
	switch mode {
	case "track":
		return core.LoopTrack
	case "queue":
		return core.LoopQueue
	default:
		return core.LoopOff
	}
}

// errorMessage translates orchestrator errors into user-facing text.
func errorMessage(err error) string {
	var perr *core.ChannelPermissionError
	switch {
	case errors.As(err, &perr):
		return fmt.Sprintf("I am missing permissions in <#%s>: %s",
			perr.ChannelID, strings.Join(perr.Missing, ", "))
	case errors.Is(err, core.ErrSessionGone):
		return "Nothing is playing right now."
	case errors.Is(err, core.ErrInvalidState):
		return "That command does not apply right now."
	case errors.Is(err, core.ErrEngineUnavailable):
		return "The audio backend is unavailable, try again in a moment."
	case errors.Is(err, core.ErrIndexOutOfRange):
		return "There is no track at that position."
	case errors.Is(err, core.ErrRateLimited):
		return "Too many commands, slow down a little."
	default:
		return "Something went wrong, try again."
	}
}

func (g *Gateway) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		g.logger.Warn("failed to respond to interaction", zap.Error(err))
	}
}

func (g *Gateway) respondResult(s *discordgo.Session, i *discordgo.InteractionCreate, res *core.CommandResult) {
	if res == nil {
		g.respond(s, i, "Done.")
		return
	}
	if res.Prompt != nil {
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: res.Prompt.Text,
				Embeds: []*discordgo.MessageEmbed{
					{Image: &discordgo.MessageEmbedImage{URL: res.Prompt.ImageURL}},
				},
			},
		})
		if err != nil {
			g.logger.Warn("failed to send captcha prompt", zap.Error(err))
		}
		return
	}
	g.respond(s, i, formatResult(res))
}

func formatResult(res *core.CommandResult) string {
	var b strings.Builder
	if res.Message != "" {
		b.WriteString(res.Message)
	}
	if len(res.Tracks) > 0 {
		for n, tr := range res.Tracks {
			fmt.Fprintf(&b, "\n%d. %s - %s (%s)", n+1, tr.Author, tr.Title, formatTrackDuration(tr.Duration))
		}
	}
	if res.NowPlaying != nil {
		fmt.Fprintf(&b, "\nNow playing: %s - %s", res.NowPlaying.Author, res.NowPlaying.Title)
	}
	if b.Len() == 0 {
		return "Done."
	}
	return b.String()
}

func formatTrackDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
