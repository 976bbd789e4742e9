package teamsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// teamServer fakes the channel's server side for one connection.
func teamServer(t *testing.T, script func(conn *websocket.Conn, join Message)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var join Message
		if err := conn.ReadJSON(&join); err != nil {
			t.Errorf("read join: %v", err)
			return
		}
		if join.Type != "join" {
			t.Errorf("first message type = %q, want join", join.Type)
			return
		}
		script(conn, join)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialJoinsAndReceivesWelcome(t *testing.T) {
	srv := teamServer(t, func(conn *websocket.Conn, join Message) {
		if join.TeamCode != "LIMA42" || join.PlayerName != "Maria" {
			t.Errorf("join payload: %+v", join)
		}
		conn.WriteJSON(Message{Type: "welcome", SessionID: "ws-77"})
		// Hold the connection open until the client goes away.
		conn.ReadJSON(&Message{})
	})
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), "LIMA42", "Maria", Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	if got := ch.LocalSessionID(); got != "ws-77" {
		t.Errorf("local session id = %q, want ws-77", got)
	}
	if got := ch.AssignedRuntimeSessionID(); got != "" {
		t.Errorf("runtime session should be unset, got %q", got)
	}
}

func TestRuntimeSessionAssignment(t *testing.T) {
	srv := teamServer(t, func(conn *websocket.Conn, join Message) {
		conn.WriteJSON(Message{Type: "welcome", SessionID: "ws-1"})
		conn.WriteJSON(Message{Type: "runtime_session", RuntimeSessionID: "rt-9", ExpiresAt: 1900000000})
		conn.ReadJSON(&Message{})
	})
	defer srv.Close()

	assigned := make(chan string, 1)
	ch, err := Dial(context.Background(), wsURL(srv), "LIMA42", "Maria", Handlers{
		OnRuntimeSession: func(id string, expiresAt time.Time) { assigned <- id },
	}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Listen(ctx)

	select {
	case id := <-assigned:
		if id != "rt-9" {
			t.Errorf("assigned id = %q, want rt-9", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime session assignment not delivered")
	}

	if got := ch.AssignedRuntimeSessionID(); got != "rt-9" {
		t.Errorf("cached runtime session = %q, want rt-9", got)
	}
}

func TestWelcomeMayCarryRuntimeSession(t *testing.T) {
	srv := teamServer(t, func(conn *websocket.Conn, join Message) {
		conn.WriteJSON(Message{Type: "welcome", SessionID: "ws-2", RuntimeSessionID: "rt-reuse"})
		conn.ReadJSON(&Message{})
	})
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), "LIMA42", "Jose", Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	if got := ch.AssignedRuntimeSessionID(); got != "rt-reuse" {
		t.Errorf("runtime session = %q, want rt-reuse", got)
	}
}

func TestDialRejectsNonWelcome(t *testing.T) {
	srv := teamServer(t, func(conn *websocket.Conn, join Message) {
		conn.WriteJSON(Message{Type: "error"})
	})
	defer srv.Close()

	if _, err := Dial(context.Background(), wsURL(srv), "LIMA42", "Maria", Handlers{}, nil); err == nil {
		t.Fatal("expected error for non-welcome first message")
	}
}

func TestListenStopsOnContextCancel(t *testing.T) {
	srv := teamServer(t, func(conn *websocket.Conn, join Message) {
		conn.WriteJSON(Message{Type: "welcome", SessionID: "ws-3"})
		conn.ReadJSON(&Message{})
	})
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), "LIMA42", "Maria", Handlers{}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("listen after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop on cancel")
	}
}
