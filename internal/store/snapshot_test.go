package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSnapshotStore(rdb)
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &SessionSnapshot{
		SessionUUID:    "uuid-7",
		GuildID:        "guild-1",
		Tier:           "normal",
		HumanSide:      "black",
		VotingDelaySec: 120,
		DelayResolved:  true,
		MovesUCI:       []string{"e2e4", "e7e5", "g1f3"},
		StartedAt:      time.Now().UTC().Truncate(time.Second),
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveSession(ctx, "chan-1", snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadSession(ctx, "chan-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load returned nil snapshot")
	}
	if got.SessionUUID != snap.SessionUUID || got.Tier != snap.Tier || got.HumanSide != snap.HumanSide {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.MovesUCI) != 3 || got.MovesUCI[2] != "g1f3" {
		t.Fatalf("moves mismatch: %v", got.MovesUCI)
	}
	if !got.DelayResolved || got.VotingDelaySec != 120 {
		t.Fatalf("delay fields mismatch: %+v", got)
	}

	ids, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "chan-1" {
		t.Fatalf("list: got %v", ids)
	}
}

func TestLoadMissingSession(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil snapshot, got %+v", got)
	}
}

func TestDeleteSessionClearsIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, "chan-2", &SessionSnapshot{SessionUUID: "u"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteSession(ctx, "chan-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("index not cleared: %v", ids)
	}
}

func TestGuildDelay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GuildDelay(ctx, "guild-x")
	if err != nil {
		t.Fatalf("get unset: %v", err)
	}
	if ok {
		t.Fatal("unset guild should report ok=false")
	}

	if err := s.SetGuildDelay(ctx, "guild-x", 45); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.GuildDelay(ctx, "guild-x")
	if err != nil || !ok || v != 45 {
		t.Fatalf("get: v=%d ok=%v err=%v", v, ok, err)
	}
}
