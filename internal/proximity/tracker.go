// Package proximity turns a stream of GPS fixes into discrete zone
// enter/exit events. Each configured stop runs an independent two-state
// machine (outside/inside); enters are debounced and optionally fired at
// most once per tracking run, exits fire unconditionally.
package proximity

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/playperu/questtrail/internal/geo"
)

// DefaultTriggerRadiusM applies to stops configured without a radius.
const DefaultTriggerRadiusM = 20.0

// Stop is a static per-quest checkpoint zone.
type Stop struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Coordinates    geo.Coordinates `json:"coordinates"`
	TriggerRadiusM float64         `json:"triggerRadiusM,omitempty"`
}

func (s Stop) radius() float64 {
	if s.TriggerRadiusM > 0 {
		return s.TriggerRadiusM
	}
	return DefaultTriggerRadiusM
}

// Event is delivered to the enter/exit callbacks.
type Event struct {
	Stop      Stop      `json:"stop"`
	DistanceM float64   `json:"distanceM"`
	Position  geo.Fix   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode classifies geolocation failures surfaced by the platform.
type ErrorCode string

const (
	ErrPermissionDenied ErrorCode = "permission_denied"
	ErrUnavailable      ErrorCode = "position_unavailable"
	ErrTimeout          ErrorCode = "timeout"
)

type Config struct {
	Stops []Stop
	// Debounce is the minimum interval between two enter events for the
	// same stop. Exits are never debounced.
	Debounce time.Duration
	// OneTimeOnly suppresses repeat enters for a stop within one tracking
	// run, even after leaving and re-entering.
	OneTimeOnly bool

	OnEnter func(Event)
	OnExit  func(Event)
	OnError func(code ErrorCode, err error)

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Tracker owns all zone bookkeeping for one tracking run. Start and Stop
// reset the state completely: restarting while physically inside a zone
// re-fires that zone's enter, which is what "resume and re-evaluate my
// position" needs; server-side dedupe absorbs the duplicate.
type Tracker struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu          sync.Mutex
	running     bool
	active      map[string]struct{}
	triggered   map[string]struct{}
	lastTrigger map[string]time.Time
	currentStop string
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Start begins a tracking run with fresh bookkeeping.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.reset()
}

// Stop ends the run and clears all zone state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.reset()
}

func (t *Tracker) reset() {
	t.active = make(map[string]struct{})
	t.triggered = make(map[string]struct{})
	t.lastTrigger = make(map[string]time.Time)
	t.currentStop = ""
}

// Running reports whether a tracking run is active.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// CurrentStop returns the nearest stop the device is currently inside.
func (t *Tracker) CurrentStop() (Stop, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentStop == "" {
		return Stop{}, false
	}
	for _, s := range t.cfg.Stops {
		if s.ID == t.currentStop {
			return s, true
		}
	}
	return Stop{}, false
}

// ActiveZones returns the ids of stops the device is currently inside.
func (t *Tracker) ActiveZones() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.active))
	for id := range t.active {
		out = append(out, id)
	}
	return out
}

// Ingest evaluates one location fix against every configured stop. It is
// synchronous and never blocks on the callbacks' work; callbacks must not
// perform network I/O inline.
func (t *Tracker) Ingest(fix geo.Fix) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	var enters, exits []Event

	nearestID := ""
	nearestDist := 0.0

	for _, stop := range t.cfg.Stops {
		if !stop.Coordinates.Valid() {
			continue
		}

		dist := geo.Distance(fix.Coordinates, stop.Coordinates)
		inZone := dist <= stop.radius()
		_, wasInside := t.active[stop.ID]

		switch {
		case inZone && !wasInside:
			if !t.enterAllowed(stop.ID, now) {
				break
			}
			t.active[stop.ID] = struct{}{}
			t.triggered[stop.ID] = struct{}{}
			t.lastTrigger[stop.ID] = now
			enters = append(enters, Event{Stop: stop, DistanceM: dist, Position: fix, Timestamp: now})
		case !inZone && wasInside:
			delete(t.active, stop.ID)
			exits = append(exits, Event{Stop: stop, DistanceM: dist, Position: fix, Timestamp: now})
		}

		if _, inside := t.active[stop.ID]; inside {
			if nearestID == "" || dist < nearestDist {
				nearestID = stop.ID
				nearestDist = dist
			}
		}
	}

	t.currentStop = nearestID
	t.mu.Unlock()

	for _, ev := range enters {
		t.logger.Info("zone entered", "stop", ev.Stop.ID, "distance_m", ev.DistanceM)
		t.invoke(t.cfg.OnEnter, ev)
	}
	for _, ev := range exits {
		t.logger.Info("zone exited", "stop", ev.Stop.ID, "distance_m", ev.DistanceM)
		t.invoke(t.cfg.OnExit, ev)
	}
}

// enterAllowed applies debounce and one-shot suppression. Caller holds the
// mutex.
func (t *Tracker) enterAllowed(stopID string, now time.Time) bool {
	if last, ok := t.lastTrigger[stopID]; ok && now.Sub(last) < t.cfg.Debounce {
		return false
	}
	if t.cfg.OneTimeOnly {
		if _, done := t.triggered[stopID]; done {
			return false
		}
	}
	return true
}

// invoke calls a callback, containing panics so a misbehaving handler
// cannot kill the tracking loop.
func (t *Tracker) invoke(fn func(Event), ev Event) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("zone callback panicked", "stop", ev.Stop.ID, "panic", r)
		}
	}()
	fn(ev)
}

// ReportError surfaces a platform geolocation failure. The tracking run
// keeps going; the platform retries the watch on its own schedule.
func (t *Tracker) ReportError(code ErrorCode, err error) {
	t.logger.Warn("geolocation error", "code", string(code), "error", err)
	if t.cfg.OnError != nil {
		t.cfg.OnError(code, err)
	}
}
