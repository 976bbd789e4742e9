// Package session wires identity resolution, the progression store, the
// runtime sync client, the offline queue, and the optional team channel
// into the one session context the HTTP surface consumes.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/playperu/questtrail/internal/actionqueue"
	"github.com/playperu/questtrail/internal/identity"
	"github.com/playperu/questtrail/internal/progress"
	"github.com/playperu/questtrail/internal/proximity"
	"github.com/playperu/questtrail/internal/runtime"
	"github.com/playperu/questtrail/internal/state"
)

// TeamChannel is the slice of the team transport the session layer
// consumes. Nil means solo mode.
type TeamChannel interface {
	LocalSessionID() string
	AssignedRuntimeSessionID() string
}

// Identity is the resolved runtime identity for this device and mode.
type Identity struct {
	DeviceID         string `json:"deviceId"`
	TeamCode         string `json:"teamCode,omitempty"`
	LocalSessionID   string `json:"localSessionId"`
	RuntimeSessionID string `json:"runtimeSessionId"`
	PlayerID         string `json:"playerId"`
	PlayerName       string `json:"playerName,omitempty"`
}

// Status is the composite state the UI polls.
type Status struct {
	progress.State
	Identity   Identity `json:"identity"`
	QueueDepth int      `json:"queueDepth"`
	Online     bool     `json:"online"`
}

// ErrNoRuntimeSession is returned in team mode before the server has
// provisioned the shared runtime session id.
var ErrNoRuntimeSession = errors.New("no runtime session available yet")

type Options struct {
	QuestID      string
	QuestVersion int
	TeamCode     string
	Team         TeamChannel
	Clock        clockwork.Clock
	Logger       *slog.Logger
	MaxRetries   int
}

type Manager struct {
	st     *state.Store
	rt     *runtime.Client
	store  *progress.Store
	queue  *actionqueue.Queue
	team   TeamChannel
	clock  clockwork.Clock
	logger *slog.Logger

	questID      string
	questVersion int
	teamCode     string

	mu    sync.Mutex
	ident Identity
}

// New builds the session manager and its offline queue over the shared
// local database. The manager itself is the queue's sender, so drained
// actions reconcile the progression store the same way live calls do.
func New(ctx context.Context, db *sql.DB, st *state.Store, rt *runtime.Client, opts Options) (*Manager, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		st:           st,
		rt:           rt,
		store:        progress.NewStore(),
		team:         opts.Team,
		clock:        opts.Clock,
		logger:       opts.Logger,
		questID:      opts.QuestID,
		questVersion: opts.QuestVersion,
		teamCode:     opts.TeamCode,
	}

	q, err := actionqueue.Open(ctx, db, m, actionqueue.Options{
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		MaxRetries: opts.MaxRetries,
		OnDrop: func(a actionqueue.Action, err error) {
			m.store.SetError(fmt.Sprintf("dropped %s after retries: %v", a.Kind, err))
		},
	})
	if err != nil {
		return nil, err
	}
	m.queue = q

	if opts.TeamCode != "" {
		if err := st.Set(ctx, state.KeyTeamCode, opts.TeamCode); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ResolveIdentity derives the effective session and player identity from
// mode and persisted state, persisting whatever it settles on so a
// reconnect resolves to the same values.
func (m *Manager) ResolveIdentity(ctx context.Context) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(ctx)
}

func (m *Manager) resolveLocked(ctx context.Context) (Identity, error) {
	deviceID, err := m.st.DeviceID(ctx)
	if err != nil {
		return Identity{}, err
	}

	teamCode := m.teamCode
	if teamCode == "" {
		teamCode, _ = m.st.GetOr(ctx, state.KeyTeamCode, "")
		// A persisted team code without a live channel means solo resume.
		if m.team == nil {
			teamCode = ""
		}
	}

	localID, err := m.st.GetOr(ctx, state.KeySessionID, "")
	if err != nil {
		return Identity{}, err
	}
	if teamCode != "" && m.team != nil {
		// Team mode: the channel's per-member session id is authoritative.
		localID = m.team.LocalSessionID()
	}
	if localID == "" {
		localID = uuid.NewString()
	}
	if err := m.st.Set(ctx, state.KeySessionID, localID); err != nil {
		return Identity{}, err
	}

	var persistedRuntime string
	if teamCode != "" {
		persistedRuntime, err = m.st.TeamRuntimeSession(ctx, teamCode, m.clock.Now())
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return Identity{}, err
		}
	} else {
		persistedRuntime, err = m.st.GetOr(ctx, state.KeyRuntimeSessionID, "")
		if err != nil {
			return Identity{}, err
		}
	}

	var remoteAssigned string
	if m.team != nil {
		remoteAssigned = m.team.AssignedRuntimeSessionID()
	}

	runtimeID := identity.ResolveRuntimeSessionID(identity.RuntimeSessionParams{
		TeamCode:                teamCode,
		RemoteAssignedRuntimeID: remoteAssigned,
		PersistedRuntimeID:      persistedRuntime,
		PersistedLocalID:        localID,
	})
	if runtimeID == "" {
		return Identity{}, ErrNoRuntimeSession
	}

	playerID := identity.ResolvePlayerID(identity.PlayerParams{
		TeamCode:           teamCode,
		TeamLocalSessionID: localID,
		DeviceID:           deviceID,
	})

	if teamCode == "" {
		if err := m.st.Set(ctx, state.KeyRuntimeSessionID, runtimeID); err != nil {
			return Identity{}, err
		}
	}

	playerName, _ := m.st.GetOr(ctx, state.KeyPlayerName, "")

	m.ident = Identity{
		DeviceID:         deviceID,
		TeamCode:         teamCode,
		LocalSessionID:   localID,
		RuntimeSessionID: runtimeID,
		PlayerID:         playerID,
		PlayerName:       playerName,
	}
	return m.ident, nil
}

// SetTeamRuntimeSession persists a server-provisioned runtime session id
// for the current team. Wired to the team channel's assignment callback.
func (m *Manager) SetTeamRuntimeSession(ctx context.Context, runtimeSessionID string, expiresAt time.Time) {
	m.mu.Lock()
	teamCode := m.teamCode
	m.ident.RuntimeSessionID = runtimeSessionID
	m.mu.Unlock()

	if teamCode == "" {
		return
	}
	if err := m.st.SetTeamRuntimeSession(ctx, teamCode, runtimeSessionID, expiresAt); err != nil {
		m.logger.Error("persisting team runtime session", "error", err)
	}
}

// StartQuest establishes or resumes the session against the remote
// runtime. Offline or failed starts are queued; the call still succeeds
// locally and the UI sees loading=false with the queue holding the intent.
func (m *Manager) StartQuest(ctx context.Context, playerName string) (Status, error) {
	ident, err := m.ResolveIdentity(ctx)
	if err != nil {
		return Status{}, err
	}
	if playerName != "" {
		if err := m.st.Set(ctx, state.KeyPlayerName, playerName); err != nil {
			return Status{}, err
		}
		m.mu.Lock()
		m.ident.PlayerName = playerName
		ident.PlayerName = playerName
		m.mu.Unlock()
	}

	p := runtime.StartParams{
		SessionID:    ident.RuntimeSessionID,
		PlayerID:     ident.PlayerID,
		PlayerName:   ident.PlayerName,
		QuestID:      m.questID,
		QuestVersion: m.questVersion,
		DedupeKey:    runtime.StartDedupeKey(ident.RuntimeSessionID, ident.PlayerID),
	}

	m.store.SetLoading(true)
	if err := m.dispatchStart(ctx, p); err != nil {
		return Status{}, err
	}
	return m.Status(ctx)
}

func (m *Manager) dispatchStart(ctx context.Context, p runtime.StartParams) error {
	if m.queue.Online() {
		snap, err := m.rt.StartSession(ctx, p)
		if err == nil {
			return m.reconcile(ctx, snap)
		}
		if errors.Is(err, runtime.ErrValidation) {
			m.store.SetError(err.Error())
			return err
		}
		m.logger.Warn("start failed, queueing", "error", err)
		m.SetOnline(ctx, false)
	}
	m.store.SetLoading(false)
	return m.queue.EnqueueStart(ctx, p)
}

// Arrive records arrival at an object. The completion is applied
// optimistically first; the remote call follows, falling back to the queue
// exactly like StartQuest.
func (m *Manager) Arrive(ctx context.Context, objectID string) (Status, error) {
	if objectID == "" {
		return Status{}, fmt.Errorf("%w: objectId is required", runtime.ErrValidation)
	}

	m.mu.Lock()
	ident := m.ident
	m.mu.Unlock()
	if ident.RuntimeSessionID == "" {
		var err error
		if ident, err = m.ResolveIdentity(ctx); err != nil {
			return Status{}, err
		}
	}

	m.store.MarkArrived(objectID)

	p := runtime.ArriveParams{
		SessionID: ident.RuntimeSessionID,
		PlayerID:  ident.PlayerID,
		ObjectID:  objectID,
		Timestamp: m.clock.Now().UnixMilli(),
		DedupeKey: runtime.ArriveDedupeKey(ident.RuntimeSessionID, objectID),
	}

	if m.queue.Online() {
		snap, err := m.rt.RecordArrival(ctx, p)
		if err == nil {
			if err := m.reconcile(ctx, snap); err != nil {
				return Status{}, err
			}
			return m.Status(ctx)
		}
		if errors.Is(err, runtime.ErrValidation) {
			return Status{}, err
		}
		m.logger.Warn("arrive failed, queueing", "object", objectID, "error", err)
		m.SetOnline(ctx, false)
	}
	if err := m.queue.EnqueueArrive(ctx, p); err != nil {
		return Status{}, err
	}
	return m.Status(ctx)
}

// HandleZoneEnter forwards a geofence enter event as an arrive intent.
// It runs the network path on its own goroutine so the tracker's
// synchronous evaluation loop never waits on I/O.
func (m *Manager) HandleZoneEnter(ev proximity.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := m.Arrive(ctx, ev.Stop.ID); err != nil {
			m.logger.Error("zone arrival failed", "stop", ev.Stop.ID, "error", err)
		}
	}()
}

// SendStart is the queue drain path for start actions.
func (m *Manager) SendStart(ctx context.Context, p runtime.StartParams) error {
	snap, err := m.rt.StartSession(ctx, p)
	if err != nil {
		return err
	}
	return m.reconcile(ctx, snap)
}

// SendArrive is the queue drain path for arrive actions.
func (m *Manager) SendArrive(ctx context.Context, p runtime.ArriveParams) error {
	snap, err := m.rt.RecordArrival(ctx, p)
	if err != nil {
		return err
	}
	return m.reconcile(ctx, snap)
}

// reconcile projects a snapshot into the progression store and persists a
// runtime session remap when the authority answered under a different id.
// A stale snapshot is not an error here: the remote accepted the action,
// the response just lost a race with a newer one.
func (m *Manager) reconcile(ctx context.Context, snap *runtime.Snapshot) error {
	err := m.store.ApplySnapshot(progress.Snapshot{
		Version:          snap.Version,
		Score:            snap.Me.Score,
		CompletedObjects: snap.CompletedObjects(),
		CompletedPuzzles: snap.CompletedPuzzles(),
	})
	if errors.Is(err, progress.ErrStaleSnapshot) {
		m.logger.Debug("ignoring stale snapshot", "version", snap.Version)
		return nil
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	remapped := snap.SessionID != "" && snap.SessionID != m.ident.RuntimeSessionID
	teamCode := m.ident.TeamCode
	if remapped {
		m.ident.RuntimeSessionID = snap.SessionID
	}
	m.mu.Unlock()

	if remapped && teamCode == "" {
		if err := m.st.Set(ctx, state.KeyRuntimeSessionID, snap.SessionID); err != nil {
			return err
		}
		m.logger.Info("runtime session remapped", "session", snap.SessionID)
	}
	return nil
}

// SetOnline feeds a connectivity signal to the offline queue. Every
// online report drains queued actions in order, so a partial drain
// resumes on the next report.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.queue.SetOnline(ctx, online)
}

// Online reports the current connectivity state.
func (m *Manager) Online() bool {
	return m.queue.Online()
}

// Status returns the composite local state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	depth, err := m.queue.Depth(ctx)
	if err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	ident := m.ident
	m.mu.Unlock()
	return Status{
		State:      m.store.State(),
		Identity:   ident,
		QueueDepth: depth,
		Online:     m.queue.Online(),
	}, nil
}
