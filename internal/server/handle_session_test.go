package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/playperu/questtrail/internal/database"
	"github.com/playperu/questtrail/internal/geo"
	"github.com/playperu/questtrail/internal/proximity"
	"github.com/playperu/questtrail/internal/runtime"
	"github.com/playperu/questtrail/internal/session"
	"github.com/playperu/questtrail/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRuntime answers start/arrive with a growing snapshot, deduped by key.
func fakeRuntime(t *testing.T) *httptest.Server {
	t.Helper()
	version := int64(1)
	score := 0
	objects := map[string]string{}
	seen := map[string]bool{}

	snapshot := func(sessionID string) map[string]any {
		objs := map[string]any{}
		for id, done := range objects {
			objs[id] = map[string]any{"completedAt": done}
		}
		return map[string]any{
			"sessionId": sessionID,
			"questId":   "lima-centro",
			"version":   version,
			"objects":   objs,
			"nodes":     map[string]any{},
			"me":        map[string]any{"score": score},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /runtime/session/start", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		sessionID, _ := body["sessionId"].(string)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "snapshot": snapshot(sessionID)})
	})
	mux.HandleFunc("POST /runtime/object/arrive", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		key, _ := body["dedupeKey"].(string)
		objectID, _ := body["objectId"].(string)
		if !seen[key] {
			seen[key] = true
			objects[objectID] = "2026-08-01T10:00:00Z"
			version++
			score += 10
		}
		sessionID, _ := body["sessionId"].(string)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "snapshot": snapshot(sessionID)})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func questRouter(t *testing.T) (*chi.Mux, *session.Manager, *proximity.Tracker) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := state.Open(ctx, db)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}

	rtSrv := fakeRuntime(t)
	rt := runtime.NewClient(rtSrv.URL, 5*time.Second, testLogger())

	mgr, err := session.New(ctx, db, st, rt, session.Options{
		QuestID:      "lima-centro",
		QuestVersion: 3,
		Clock:        clockwork.NewFakeClock(),
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	mgr.SetOnline(ctx, true)

	broker := NewBroker()
	tracker := proximity.NewTracker(proximity.Config{
		Stops: []proximity.Stop{
			{ID: "plaza-mayor", Coordinates: geo.Coordinates{Lat: 0, Lng: 0}, TriggerRadiusM: 20},
		},
		Clock: clockwork.NewFakeClock(),
	})
	tracker.Start()

	r := chi.NewRouter()
	addRoutes(r, testLogger(), Deps{Manager: mgr, Tracker: tracker, Broker: broker, DB: db})
	return r, mgr, tracker
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartAndState(t *testing.T) {
	r, _, _ := questRouter(t)

	w := postJSON(t, r, "/api/session/start", StartSessionRequest{PlayerName: "Maria"})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status session.Status
	json.NewDecoder(w.Body).Decode(&status)
	if status.Identity.PlayerName != "Maria" {
		t.Errorf("player name = %q", status.Identity.PlayerName)
	}
	if !status.Online {
		t.Error("expected online status")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/session/state", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", w2.Code)
	}
}

func TestArriveEndpoint(t *testing.T) {
	r, _, _ := questRouter(t)

	postJSON(t, r, "/api/session/start", StartSessionRequest{PlayerName: "Maria"})

	w := postJSON(t, r, "/api/object/arrive", ArriveRequest{ObjectID: "plaza-mayor"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status session.Status
	json.NewDecoder(w.Body).Decode(&status)
	if status.Score != 10 {
		t.Errorf("score = %d, want 10", status.Score)
	}
	if len(status.CompletedObjects) != 1 {
		t.Errorf("completed = %v", status.CompletedObjects)
	}
}

func TestArriveRejectsEmptyObject(t *testing.T) {
	r, _, _ := questRouter(t)

	w := postJSON(t, r, "/api/object/arrive", ArriveRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLocationIngestion(t *testing.T) {
	r, _, _ := questRouter(t)

	// A fix 10 m from the plaza stop puts the device inside its zone.
	w := postJSON(t, r, "/api/location", map[string]any{"lat": 10.0 / 111195.0, "lng": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp LocationResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.CurrentStop != "plaza-mayor" {
		t.Errorf("current stop = %q, want plaza-mayor", resp.CurrentStop)
	}
	if len(resp.ActiveZones) != 1 {
		t.Errorf("active zones = %v", resp.ActiveZones)
	}
}

func TestLocationRejectsNonFinite(t *testing.T) {
	r, _, _ := questRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/location",
		bytes.NewReader([]byte(`{"lat": null, "lng": 0}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	// null decodes to 0 which is finite; a string is a decode error.
	req2 := httptest.NewRequest(http.MethodPost, "/api/location",
		bytes.NewReader([]byte(`{"lat": "x"}`)))
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed fix, got %d", w2.Code)
	}
}

func TestHealthz(t *testing.T) {
	r, _, _ := questRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	r, _, _ := questRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var doc map[string]any
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc["paths"]; !ok {
		t.Error("openapi document missing paths")
	}
}
