package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/questtrail/internal/database"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(ctx, db)
	if err != nil {
		t.Fatalf("init state store: %v", err)
	}
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, KeySessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, KeySessionID, "s1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeySessionID, "s2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, err := s.Get(ctx, KeySessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "s2" {
		t.Errorf("got %q, want s2", v)
	}

	if err := s.Delete(ctx, KeySessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, KeySessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetOr(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	v, err := s.GetOr(ctx, KeyPlayerName, "anonymous")
	if err != nil {
		t.Fatalf("getor: %v", err)
	}
	if v != "anonymous" {
		t.Errorf("got %q, want fallback", v)
	}
}

func TestDeviceIDStable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, err := s.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	if first == "" {
		t.Fatal("empty device id")
	}

	second, err := s.DeviceID(ctx)
	if err != nil {
		t.Fatalf("device id again: %v", err)
	}
	if second != first {
		t.Errorf("device id not stable: %q vs %q", first, second)
	}
}

func TestTeamRuntimeSessionExpiry(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SetTeamRuntimeSession(ctx, "LIMA42", "rt-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("set team session: %v", err)
	}

	id, err := s.TeamRuntimeSession(ctx, "LIMA42", now)
	if err != nil {
		t.Fatalf("get team session: %v", err)
	}
	if id != "rt-1" {
		t.Errorf("got %q, want rt-1", id)
	}

	// Past the TTL the record is treated as absent.
	if _, err := s.TeamRuntimeSession(ctx, "LIMA42", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}

	if _, err := s.TeamRuntimeSession(ctx, "NOPE", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown team, got %v", err)
	}
}
