// Package runtime is the HTTP client for the remote quest runtime. Both
// mutating calls carry a deterministic dedupe key, so retries and
// duplicate geofence triggers are no-ops server-side.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrValidation marks requests rejected locally before any network call.
var ErrValidation = errors.New("validation")

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StartDedupeKey is the idempotency key for session start. Calling start
// twice with the same key is a no-op that returns current state, which is
// how resume-on-reload works without a dedicated fetch endpoint.
func StartDedupeKey(sessionID, playerID string) string {
	return fmt.Sprintf("start:%s:%s", sessionID, playerID)
}

// ArriveDedupeKey is the idempotency key for recording arrival at an
// object. It is keyed by object, not by attempt, so a re-fired geofence
// enter cannot double-count.
func ArriveDedupeKey(sessionID, objectID string) string {
	return fmt.Sprintf("arrive:%s:%s", sessionID, objectID)
}

type StartParams struct {
	SessionID    string `json:"sessionId"`
	PlayerID     string `json:"playerId"`
	PlayerName   string `json:"playerName"`
	QuestID      string `json:"questId"`
	QuestVersion int    `json:"questVersion"`
	EventID      string `json:"eventId"`
	DedupeKey    string `json:"dedupeKey"`
}

type ArriveParams struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	ObjectID  string `json:"objectId"`
	Timestamp int64  `json:"timestamp"`
	EventID   string `json:"eventId"`
	DedupeKey string `json:"dedupeKey"`
}

type envelope struct {
	Success  bool      `json:"success"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// StartSession establishes or resumes a session and returns the
// authoritative snapshot. EventID and DedupeKey are filled in when empty;
// queued retries pass the originals through unchanged.
func (c *Client) StartSession(ctx context.Context, p StartParams) (*Snapshot, error) {
	if p.SessionID == "" || p.QuestID == "" {
		return nil, fmt.Errorf("%w: sessionId and questId are required", ErrValidation)
	}
	if p.DedupeKey == "" {
		p.DedupeKey = StartDedupeKey(p.SessionID, p.PlayerID)
	}
	if p.EventID == "" {
		p.EventID = uuid.NewString()
	}
	return c.post(ctx, "/runtime/session/start", p)
}

// RecordArrival marks an object as reached.
func (c *Client) RecordArrival(ctx context.Context, p ArriveParams) (*Snapshot, error) {
	if p.SessionID == "" || p.ObjectID == "" {
		return nil, fmt.Errorf("%w: sessionId and objectId are required", ErrValidation)
	}
	if p.DedupeKey == "" {
		p.DedupeKey = ArriveDedupeKey(p.SessionID, p.ObjectID)
	}
	if p.EventID == "" {
		p.EventID = uuid.NewString()
	}
	return c.post(ctx, "/runtime/object/arrive", p)
}

// Ping probes the runtime's health endpoint. The connectivity watcher uses
// it to decide when to flip the queue online.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	// Only an explicit 200 counts. A 404 or a captive portal's redirect
	// means the runtime is not actually reachable.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runtime unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*Snapshot, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}

	c.logger.Debug("runtime call",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("runtime rejected %s: %s", path, msg)
	}
	if env.Snapshot == nil {
		return nil, fmt.Errorf("runtime returned no snapshot for %s", path)
	}
	return env.Snapshot, nil
}
