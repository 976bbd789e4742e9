// Package actionqueue buffers progression intents that could not be sent,
// and drains them in enqueue order when connectivity returns. The queue is
// backed by the local SQLite database, so unflushed actions survive a
// process restart. Each action keeps the dedupe key it was first given;
// a retry after a partial prior success is a server-side no-op.
package actionqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/questtrail/internal/runtime"
)

// Kind tags a queued action. The drain loop switches exhaustively over it.
type Kind string

const (
	KindStart  Kind = "start"
	KindArrive Kind = "arrive"
)

// Action is one queued intent. Exactly one payload pointer is set,
// matching Kind.
type Action struct {
	ID         int64
	Kind       Kind
	Start      *runtime.StartParams
	Arrive     *runtime.ArriveParams
	EnqueuedAt time.Time
	RetryCount int
}

// Sender performs the remote call for a drained action. The session layer
// implements it on top of the runtime client so successful drains also
// reconcile local state.
type Sender interface {
	SendStart(ctx context.Context, p runtime.StartParams) error
	SendArrive(ctx context.Context, p runtime.ArriveParams) error
}

// DefaultMaxRetries is the retry ceiling per action. An action that fails
// this many drain attempts is dropped and surfaced, never retried again.
const DefaultMaxRetries = 3

type Options struct {
	Clock      clockwork.Clock
	Logger     *slog.Logger
	MaxRetries int
	// OnDrop is called when an action exhausts its retries. Optional.
	OnDrop func(a Action, err error)
}

type Queue struct {
	db         *sql.DB
	sender     Sender
	clock      clockwork.Clock
	logger     *slog.Logger
	maxRetries int
	onDrop     func(Action, error)

	mu       sync.Mutex
	online   bool
	draining bool
}

// Open prepares the queue table and returns a Queue. The queue starts
// offline; the connectivity watcher flips it online.
func Open(ctx context.Context, db *sql.DB, sender Sender, opts Options) (*Queue, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS offline_actions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL,
			payload     TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return nil, fmt.Errorf("initializing queue schema: %w", err)
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	return &Queue{
		db:         db,
		sender:     sender,
		clock:      opts.Clock,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
		onDrop:     opts.OnDrop,
	}, nil
}

// EnqueueStart appends a start intent to the queue.
func (q *Queue) EnqueueStart(ctx context.Context, p runtime.StartParams) error {
	return q.enqueue(ctx, KindStart, p)
}

// EnqueueArrive appends an arrive intent to the queue.
func (q *Queue) EnqueueArrive(ctx context.Context, p runtime.ArriveParams) error {
	return q.enqueue(ctx, KindArrive, p)
}

func (q *Queue) enqueue(ctx context.Context, kind Kind, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO offline_actions (kind, payload, enqueued_at) VALUES (?, ?, ?)
	`, string(kind), string(buf), q.clock.Now().Unix())
	if err != nil {
		return fmt.Errorf("enqueueing %s: %w", kind, err)
	}
	q.logger.Info("action queued", "kind", kind)
	return nil
}

// Depth returns the number of pending actions.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_actions`).Scan(&n)
	return n, err
}

// Online reports the last connectivity state the queue was told about.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline records the connectivity state. Every online report attempts
// a drain, not just the offline→online edge, so a drain cut short by a
// transient failure resumes on the next report instead of waiting for a
// full offline round trip.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	q.online = online
	q.mu.Unlock()

	if online {
		if err := q.Drain(ctx); err != nil {
			q.logger.Warn("queue drain stopped", "error", err)
		}
	}
}

// Drain sends pending actions strictly in enqueue order, one at a time.
// A failure below the retry ceiling stops the drain with the action still
// at the head, preserving causal order for the next attempt; an action at
// the ceiling is dropped, surfaced via OnDrop, and the drain continues.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	for {
		a, err := q.head(ctx)
		if err != nil {
			return err
		}
		if a == nil {
			return nil
		}

		sendErr := q.send(ctx, *a)
		if sendErr == nil {
			if err := q.remove(ctx, a.ID); err != nil {
				return err
			}
			q.logger.Info("queued action sent", "kind", a.Kind, "id", a.ID)
			continue
		}

		a.RetryCount++
		if a.RetryCount >= q.maxRetries {
			if err := q.remove(ctx, a.ID); err != nil {
				return err
			}
			q.logger.Error("queued action dropped after retries",
				"kind", a.Kind, "id", a.ID, "retries", a.RetryCount, "error", sendErr)
			if q.onDrop != nil {
				q.onDrop(*a, sendErr)
			}
			continue
		}

		if _, err := q.db.ExecContext(ctx,
			`UPDATE offline_actions SET retry_count = ? WHERE id = ?`,
			a.RetryCount, a.ID); err != nil {
			return err
		}
		return fmt.Errorf("sending queued %s: %w", a.Kind, sendErr)
	}
}

func (q *Queue) send(ctx context.Context, a Action) error {
	switch a.Kind {
	case KindStart:
		return q.sender.SendStart(ctx, *a.Start)
	case KindArrive:
		return q.sender.SendArrive(ctx, *a.Arrive)
	default:
		// Unknown kinds come only from a newer schema; dropping them is
		// handled by the retry ceiling.
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (q *Queue) head(ctx context.Context) (*Action, error) {
	var (
		a          Action
		kind       string
		payload    string
		enqueuedAt int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, enqueued_at, retry_count
		FROM offline_actions ORDER BY id LIMIT 1
	`).Scan(&a.ID, &kind, &payload, &enqueuedAt, &a.RetryCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue head: %w", err)
	}

	a.Kind = Kind(kind)
	a.EnqueuedAt = time.Unix(enqueuedAt, 0)
	switch a.Kind {
	case KindStart:
		a.Start = &runtime.StartParams{}
		err = json.Unmarshal([]byte(payload), a.Start)
	case KindArrive:
		a.Arrive = &runtime.ArriveParams{}
		err = json.Unmarshal([]byte(payload), a.Arrive)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", a.Kind, err)
	}
	return &a, nil
}

func (q *Queue) remove(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM offline_actions WHERE id = ?`, id)
	return err
}
