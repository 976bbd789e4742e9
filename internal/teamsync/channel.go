// Package teamsync is the client side of the real-time team channel. The
// transport itself lives elsewhere; this package consumes its contracted
// operations: join a team, receive the member's session id, receive the
// server-provisioned runtime session id, and observe teammate progress.
package teamsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the wire envelope for everything the channel carries.
type Message struct {
	Type             string          `json:"type"`
	TeamCode         string          `json:"teamCode,omitempty"`
	PlayerName       string          `json:"playerName,omitempty"`
	SessionID        string          `json:"sessionId,omitempty"`
	RuntimeSessionID string          `json:"runtimeSessionId,omitempty"`
	ExpiresAt        int64           `json:"expiresAt,omitempty"`
	Snapshot         json.RawMessage `json:"snapshot,omitempty"`
}

// Handlers receive channel events. All callbacks run on the Listen
// goroutine and must not block.
type Handlers struct {
	// OnRuntimeSession fires when the server provisions or re-confirms the
	// team's shared runtime session id.
	OnRuntimeSession func(id string, expiresAt time.Time)
	// OnProgress fires with a teammate-produced snapshot.
	OnProgress func(snapshot json.RawMessage)
}

type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	mu               sync.Mutex
	handlers         Handlers
	localSessionID   string
	runtimeSessionID string
}

const welcomeTimeout = 10 * time.Second

// Dial connects to the team channel, joins the team, and waits for the
// welcome message carrying the member's local session id.
func Dial(ctx context.Context, url, teamCode, playerName string, handlers Handlers, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing team channel: %w", err)
	}

	c := &Channel{conn: conn, handlers: handlers, logger: logger}

	if err := conn.WriteJSON(Message{Type: "join", TeamCode: teamCode, PlayerName: playerName}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining team %s: %w", teamCode, err)
	}

	conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var welcome Message
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading welcome: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if welcome.Type != "welcome" || welcome.SessionID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", welcome.Type)
	}

	c.localSessionID = welcome.SessionID
	// A welcome may carry the runtime session id directly when the team
	// already has one.
	if welcome.RuntimeSessionID != "" {
		c.runtimeSessionID = welcome.RuntimeSessionID
	}

	logger.Info("joined team channel", "team", teamCode, "session", welcome.SessionID)
	return c, nil
}

// SetHandlers replaces the event handlers. The session layer attaches its
// own after construction, since it needs the channel's session id first.
func (c *Channel) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Channel) currentHandlers() Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// LocalSessionID is the per-member session id assigned on join. It doubles
// as the player id in team mode.
func (c *Channel) LocalSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localSessionID
}

// AssignedRuntimeSessionID is the latest server-provisioned runtime
// session id, or "" if none has been received.
func (c *Channel) AssignedRuntimeSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtimeSessionID
}

// Listen consumes channel messages until the context is cancelled or the
// connection drops.
func (c *Channel) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("team channel read: %w", err)
		}

		handlers := c.currentHandlers()
		switch msg.Type {
		case "runtime_session":
			c.mu.Lock()
			c.runtimeSessionID = msg.RuntimeSessionID
			c.mu.Unlock()
			c.logger.Info("runtime session assigned", "runtime_session", msg.RuntimeSessionID)
			if handlers.OnRuntimeSession != nil {
				handlers.OnRuntimeSession(msg.RuntimeSessionID, time.Unix(msg.ExpiresAt, 0))
			}
		case "progress":
			if handlers.OnProgress != nil {
				handlers.OnProgress(msg.Snapshot)
			}
		case "ping":
			// Keepalive; nothing to do.
		default:
			c.logger.Debug("unhandled team message", "type", msg.Type)
		}
	}
}

func (c *Channel) Close() error {
	return c.conn.Close()
}
