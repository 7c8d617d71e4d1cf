// Package lavalink is the audio-node client: REST for player control and
// track resolution, a websocket for the event stream flowing back.
package lavalink

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"volna/internal/core"
)

// Node is one audio-node connection. Run owns the websocket and keeps
// reconnecting until its context ends; Healthy is false whenever the socket
// is down, which fails fast every command that would need the node.
type Node struct {
	config core.EngineConfig
	logger *zap.Logger
	httpc  *http.Client

	// OnTrackEnd and OnTrackError must be set before Run.
	OnTrackEnd   func(guildID string)
	OnTrackError func(guildID string, err error)

	mu        sync.Mutex
	healthy   bool
	sessionID string
	positions map[string]time.Duration
}

func NewNode(config core.EngineConfig, logger *zap.Logger) *Node {
	return &Node{
		config:    config,
		logger:    logger,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		positions: make(map[string]time.Duration),
	}
}

// Healthy reports whether the node websocket is up.
func (n *Node) Healthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthy
}

// Position reports the playback position of the guild's player.
func (n *Node) Position(guildID string) (time.Duration, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pos, ok := n.positions[guildID]
	return pos, ok
}

// Run maintains the event websocket, reconnecting with a fixed delay until
// ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := n.connectAndListen(ctx); err != nil {
			n.logger.Warn("node connection lost", zap.Error(err))
		}

		n.setHealthy(false)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.config.ReconnectDelay):
		}
	}
}

func (n *Node) connectAndListen(ctx context.Context) error {
	headers := http.Header{}
	headers.Set("Authorization", n.config.Password)

	conn, _, err := websocket.Dial(ctx, "ws://"+n.config.Host+"/v4/websocket", &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	n.logger.Info("node connected", zap.String("host", n.config.Host))
	n.setHealthy(true)

	for {
		var msg nodeMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		n.handleMessage(msg)
	}
}

type nodeMessage struct {
	Op        string       `json:"op"`
	SessionID string       `json:"sessionId,omitempty"`
	Type      string       `json:"type,omitempty"`
	GuildID   string       `json:"guildId,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Error     string       `json:"error,omitempty"`
	State     *playerState `json:"state,omitempty"`
}

type playerState struct {
	PositionMs int64 `json:"position"`
}

func (n *Node) handleMessage(msg nodeMessage) {
	switch msg.Op {
	case "ready":
		n.mu.Lock()
		n.sessionID = msg.SessionID
		n.mu.Unlock()
		n.logger.Debug("node session ready", zap.String("sessionID", msg.SessionID))

	case "playerUpdate":
		if msg.State == nil {
			return
		}
		n.mu.Lock()
		n.positions[msg.GuildID] = time.Duration(msg.State.PositionMs) * time.Millisecond
		n.mu.Unlock()

	case "event":
		n.handleEvent(msg)

	default:
		n.logger.Debug("unhandled node op", zap.String("op", msg.Op))
	}
}

func (n *Node) handleEvent(msg nodeMessage) {
	switch msg.Type {
	case "TrackEndEvent":
		// "replaced" and "stopped" ends are caused by our own commands and
		// must not advance the queue.
		if msg.Reason != "finished" {
			return
		}
		if n.OnTrackEnd != nil {
			n.OnTrackEnd(msg.GuildID)
		}

	case "TrackExceptionEvent", "TrackStuckEvent":
		if n.OnTrackError != nil {
			n.OnTrackError(msg.GuildID, &trackError{kind: msg.Type, message: msg.Error})
		}

	default:
		n.logger.Debug("unhandled node event", zap.String("type", msg.Type))
	}
}

type trackError struct {
	kind    string
	message string
}

func (e *trackError) Error() string {
	if e.message == "" {
		return e.kind
	}
	return e.kind + ": " + e.message
}

func (n *Node) setHealthy(healthy bool) {
	n.mu.Lock()
	n.healthy = healthy
	n.mu.Unlock()
}

func (n *Node) session() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}
