package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"volna/internal/core"
)

type playerUpdate struct {
	ChannelID *string    `json:"channelId,omitempty"`
	Track     *restTrack `json:"track"`
	Paused    *bool      `json:"paused,omitempty"`
}

type restTrack struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	LengthMs   int64  `json:"length"`
	Source     string `json:"sourceName"`
}

type loadResult struct {
	LoadType string      `json:"loadType"`
	Tracks   []restTrack `json:"tracks"`
	Captcha  *struct {
		URL string `json:"url"`
		SID string `json:"sid"`
	} `json:"captcha,omitempty"`
	Error string `json:"error,omitempty"`
}

func (n *Node) playerURL(guildID string) string {
	return fmt.Sprintf("http://%s/v4/sessions/%s/players/%s",
		n.config.Host, n.session(), guildID)
}

// CreatePlayer binds a player for the guild to the voice channel.
func (n *Node) CreatePlayer(ctx context.Context, guildID, channelID string) error {
	return n.patchPlayer(ctx, guildID, playerUpdate{ChannelID: &channelID})
}

// DestroyPlayer removes the guild's player from the node.
func (n *Node) DestroyPlayer(ctx context.Context, guildID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, n.playerURL(guildID), http.NoBody)
	if err != nil {
		return fmt.Errorf("build player delete: %w", err)
	}
	if err := n.doREST(req, nil); err != nil {
		return fmt.Errorf("destroy player: %w", err)
	}
	n.mu.Lock()
	delete(n.positions, guildID)
	n.mu.Unlock()
	return nil
}

// Play starts the track on the guild's player.
func (n *Node) Play(ctx context.Context, guildID string, track core.Track) error {
	return n.patchPlayer(ctx, guildID, playerUpdate{Track: &restTrack{
		Identifier: track.SourceID,
		Title:      track.Title,
		Author:     track.Author,
		LengthMs:   track.Duration.Milliseconds(),
		Source:     track.Source,
	}})
}

// Stop halts playback without destroying the player.
func (n *Node) Stop(ctx context.Context, guildID string) error {
	return n.patchPlayer(ctx, guildID, playerUpdate{Track: nil})
}

// SetPaused suspends or resumes the guild's player.
func (n *Node) SetPaused(ctx context.Context, guildID string, paused bool) error {
	return n.patchPlayer(ctx, guildID, playerUpdate{Paused: &paused})
}

func (n *Node) patchPlayer(ctx context.Context, guildID string, update playerUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode player update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, n.playerURL(guildID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build player update: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := n.doREST(req, nil); err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return nil
}

// Search resolves a query through the node's track loader. A challenge
// response surfaces as *core.CaptchaRequiredError.
func (n *Node) Search(ctx context.Context, sr core.SearchRequest) ([]core.Track, error) {
	q := url.Values{}
	q.Set("identifier", "vksearch:"+sr.Query)
	q.Set("count", strconv.Itoa(sr.Count))
	q.Set("offset", strconv.Itoa(sr.Offset))
	if sr.CaptchaKey != "" {
		q.Set("captchaKey", sr.CaptchaKey)
		q.Set("captchaSid", sr.CaptchaSID)
	}

	endpoint := fmt.Sprintf("http://%s/v4/loadtracks?%s", n.config.Host, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build loadtracks request: %w", err)
	}

	var result loadResult
	if err := n.doREST(req, &result); err != nil {
		return nil, fmt.Errorf("load tracks: %w", err)
	}

	switch result.LoadType {
	case "captcha":
		if result.Captcha == nil {
			return nil, fmt.Errorf("node sent a captcha result without a challenge")
		}
		return nil, &core.CaptchaRequiredError{Challenge: core.CaptchaChallenge{
			URL: result.Captcha.URL,
			SID: result.Captcha.SID,
		}}
	case "error":
		return nil, fmt.Errorf("node track load failed: %s", result.Error)
	case "empty":
		return nil, nil
	}

	tracks := make([]core.Track, 0, len(result.Tracks))
	for _, rt := range result.Tracks {
		tracks = append(tracks, core.Track{
			SourceID: rt.Identifier,
			Title:    rt.Title,
			Author:   rt.Author,
			Duration: time.Duration(rt.LengthMs) * time.Millisecond,
			Source:   rt.Source,
		})
	}
	return tracks, nil
}

func (n *Node) doREST(req *http.Request, out any) error {
	req.Header.Set("Authorization", n.config.Password)

	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("node returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode node response: %w", err)
	}
	return nil
}
