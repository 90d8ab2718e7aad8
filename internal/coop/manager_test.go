package coop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mkrebs/coopchess/internal/archive"
	"github.com/mkrebs/coopchess/internal/engine"
	"github.com/mkrebs/coopchess/internal/render"
	"github.com/mkrebs/coopchess/internal/store"
)

type engineTurn struct {
	reply string
	err   error
}

type fakeAdapter struct {
	mu    sync.Mutex
	turns []engineTurn
	calls [][]string
}

func (f *fakeAdapter) Play(_ context.Context, moves []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), moves...))
	if len(f.turns) == 0 {
		return "", errors.New("no scripted reply")
	}
	turn := f.turns[0]
	f.turns = f.turns[1:]
	return turn.reply, turn.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeExporter struct {
	mu   sync.Mutex
	pgns []string
	err  error
}

func (f *fakeExporter) Export(_ context.Context, pgn string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.pgns = append(f.pgns, pgn)
	return "https://lichess.org/abcd1234", nil
}

func (f *fakeExporter) exportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pgns)
}

type notifierEvent struct {
	kind     string
	result   Result
	resigned bool
	delay    time.Duration
	lines    []VoteCount
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
}

func (n *recordingNotifier) add(ev notifierEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) GameStarted(_ context.Context, _ string, _ engine.Tier, _ nchess.Color) {
	n.add(notifierEvent{kind: "started"})
}
func (n *recordingNotifier) VotingOpened(_ context.Context, _ string, delay time.Duration) {
	n.add(notifierEvent{kind: "voting", delay: delay})
}
func (n *recordingNotifier) Tally(_ context.Context, _ string, lines []VoteCount) {
	n.add(notifierEvent{kind: "tally", lines: lines})
}
func (n *recordingNotifier) Board(_ context.Context, _ string, _ []byte) {
	n.add(notifierEvent{kind: "board"})
}
func (n *recordingNotifier) GameOver(_ context.Context, _ string, result Result, resigned bool) {
	n.add(notifierEvent{kind: "over", result: result, resigned: resigned})
}
func (n *recordingNotifier) Archived(_ context.Context, _, _ string) {
	n.add(notifierEvent{kind: "archived"})
}
func (n *recordingNotifier) ArchiveFailed(_ context.Context, _ string) {
	n.add(notifierEvent{kind: "archive_failed"})
}
func (n *recordingNotifier) EngineUnavailable(_ context.Context, _ string) {
	n.add(notifierEvent{kind: "engine_unavailable"})
}
func (n *recordingNotifier) VotesLost(_ context.Context, _ string) {
	n.add(notifierEvent{kind: "votes_lost"})
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, ev := range n.events {
		if ev.kind == kind {
			total++
		}
	}
	return total
}

func (n *recordingNotifier) last(kind string) (notifierEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].kind == kind {
			return n.events[i], true
		}
	}
	return notifierEvent{}, false
}

type testRig struct {
	manager  *Manager
	adapter  *fakeAdapter
	notifier *recordingNotifier
	exporter *fakeExporter
	repo     archive.Repository
	store    *store.SnapshotStore
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	adapter := &fakeAdapter{}
	notifier := &recordingNotifier{}
	exporter := &fakeExporter{}
	repo := archive.NewMemoryRepository()
	snapshots := store.NewSnapshotStore(rdb)

	m, err := NewManager(Deps{
		Adapters: map[engine.Tier]engine.Adapter{
			engine.TierEasy:   adapter,
			engine.TierNormal: adapter,
		},
		Snapshots:  snapshots,
		Repository: repo,
		Exporter:   exporter,
		Renderer:   render.NewBoardRenderer(),
		Notifier:   notifier,
		// Timers never fire during tests; windows resolve by hand.
		Config: Config{MinVotingDelay: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.SetRandomSeed(42)
	t.Cleanup(m.Close)
	return &testRig{manager: m, adapter: adapter, notifier: notifier, exporter: exporter, repo: repo, store: snapshots}
}

// fireWindow resolves the channel's open window as its timer would.
func (r *testRig) fireWindow(t *testing.T, channelID string) {
	t.Helper()
	s, err := r.manager.get(channelID)
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	s.mu.Lock()
	if s.window == nil {
		s.mu.Unlock()
		t.Fatal("no open window")
	}
	id := s.window.id
	s.mu.Unlock()
	r.manager.resolveWindow(channelID, id)
}

func TestStartAsWhite(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if err := rig.manager.Start(ctx, "chan-1", "guild-1", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rig.adapter.callCount() != 0 {
		t.Fatal("engine consulted before any human move")
	}
	if rig.notifier.count("started") != 1 || rig.notifier.count("board") != 1 {
		t.Fatalf("unexpected notifications: %+v", rig.notifier.events)
	}
	if err := rig.manager.Start(ctx, "chan-1", "guild-1", engine.TierEasy, SideWhite); err != ErrAlreadyActive {
		t.Fatalf("second start: got %v, want ErrAlreadyActive", err)
	}
}

func TestStartAsBlackEngineOpens(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e2e4"}}
	ctx := context.Background()

	if err := rig.manager.Start(ctx, "chan-1", "guild-1", engine.TierNormal, SideBlack); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s, err := rig.manager.get("chan-1")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	moves := s.Moves()
	if len(moves) != 1 || moves[0] != "e2e4" {
		t.Fatalf("moves = %v, want [e2e4]", moves)
	}
	if s.Turn() != nchess.Black {
		t.Fatalf("turn = %v, want black", s.Turn())
	}
}

func TestStartAsBlackEngineFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{err: engine.ErrUnavailable}}
	ctx := context.Background()

	if err := rig.manager.Start(ctx, "chan-1", "guild-1", engine.TierNormal, SideBlack); err == nil {
		t.Fatal("Start succeeded without an engine")
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != ErrNoActiveSession {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}
}

func TestCastVoteLatestBallotWins(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("first ballot: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "d2d4"); err != nil {
		t.Fatalf("second ballot: %v", err)
	}

	s, _ := rig.manager.get("chan-1")
	s.mu.Lock()
	ballots := s.window.ballots
	got := ballots["alice"]
	size := len(ballots)
	s.mu.Unlock()
	if size != 1 || got != "d2d4" {
		t.Fatalf("ballots = %v, want alice=d2d4 only", ballots)
	}
}

func TestCastVoteWithoutSession(t *testing.T) {
	rig := newTestRig(t)
	if err := rig.manager.CastVote(context.Background(), "chan-1", "alice", "e4"); err != ErrNoActiveSession {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}
}

func TestGuildlessChannelSkipsVotingNotice(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if rig.notifier.count("voting") != 0 {
		t.Fatal("zero-delay channel announced a voting window")
	}
}

func TestGuildDelayDefaultWriteBack(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "guild-9", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	ev, ok := rig.notifier.last("voting")
	if !ok {
		t.Fatal("no voting notice")
	}
	if ev.delay != 300*time.Second {
		t.Fatalf("delay = %v, want 300s", ev.delay)
	}
	seconds, ok, err := rig.store.GuildDelay(ctx, "guild-9")
	if err != nil || !ok || seconds != 300 {
		t.Fatalf("guild delay after write-back: %d %v %v", seconds, ok, err)
	}
}

func TestConfiguredGuildDelayUsed(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	if err := rig.manager.SetVotingTime(ctx, "guild-9", 120); err != nil {
		t.Fatalf("SetVotingTime: %v", err)
	}
	if err := rig.manager.Start(ctx, "chan-1", "guild-9", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	ev, ok := rig.notifier.last("voting")
	if !ok || ev.delay != 120*time.Second {
		t.Fatalf("voting notice = %+v, want 120s delay", ev)
	}
}

func TestWindowResolutionPlaysTurn(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e7e5"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for voter, raw := range map[string]string{"alice": "e4", "bob": "e2e4", "carol": "d4"} {
		if err := rig.manager.CastVote(ctx, "chan-1", voter, raw); err != nil {
			t.Fatalf("vote %s: %v", voter, err)
		}
	}
	rig.fireWindow(t, "chan-1")

	ev, ok := rig.notifier.last("tally")
	if !ok {
		t.Fatal("no tally notice")
	}
	if len(ev.lines) != 2 || ev.lines[0].Token != "e4" || ev.lines[0].Count != 2 {
		t.Fatalf("tally lines = %+v", ev.lines)
	}

	s, _ := rig.manager.get("chan-1")
	moves := s.Moves()
	if len(moves) != 2 || moves[0] != "e2e4" || moves[1] != "e7e5" {
		t.Fatalf("moves = %v, want [e2e4 e7e5]", moves)
	}
	s.mu.Lock()
	open := s.window != nil
	s.mu.Unlock()
	if open {
		t.Fatal("window survived resolution")
	}

	snap, err := rig.store.LoadSession(ctx, "chan-1")
	if err != nil || snap == nil {
		t.Fatalf("snapshot after turn: %v %v", snap, err)
	}
	if len(snap.MovesUCI) != 2 {
		t.Fatalf("snapshot moves = %v", snap.MovesUCI)
	}
}

func TestStaleWindowTimerIsNoop(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e7e5"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	s, _ := rig.manager.get("chan-1")
	s.mu.Lock()
	id := s.window.id
	s.mu.Unlock()

	rig.manager.resolveWindow("chan-1", id)
	tallies := rig.notifier.count("tally")
	rig.manager.resolveWindow("chan-1", id)
	if rig.notifier.count("tally") != tallies {
		t.Fatal("stale timer resolved a second time")
	}
	if rig.adapter.callCount() != 1 {
		t.Fatalf("engine calls = %d, want 1", rig.adapter.callCount())
	}
}

func TestEngineFailureLeavesSessionIntact(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{err: engine.ErrUnavailable}, {reply: "e7e5"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	rig.fireWindow(t, "chan-1")

	if rig.notifier.count("engine_unavailable") != 1 {
		t.Fatal("engine failure not announced")
	}
	s, err := rig.manager.get("chan-1")
	if err != nil {
		t.Fatalf("session gone after engine failure: %v", err)
	}
	if len(s.Moves()) != 0 {
		t.Fatalf("moves = %v, want rollback to none", s.Moves())
	}

	// Same ballot is legal again and the retry goes through.
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e2e4"); err != nil {
		t.Fatalf("re-vote: %v", err)
	}
	rig.fireWindow(t, "chan-1")
	if got := s.Moves(); len(got) != 2 {
		t.Fatalf("moves after retry = %v", got)
	}
}

func TestResignationExportsAfterTwoPlies(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e7e5"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	rig.fireWindow(t, "chan-1")

	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "resign"); err != nil {
		t.Fatalf("resign ballot: %v", err)
	}
	rig.fireWindow(t, "chan-1")

	ev, ok := rig.notifier.last("over")
	if !ok || !ev.resigned || ev.result != ResultBlackWins {
		t.Fatalf("game over notice = %+v", ev)
	}
	if rig.exporter.exportCount() != 1 {
		t.Fatalf("exports = %d, want 1", rig.exporter.exportCount())
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != ErrNoActiveSession {
		t.Fatalf("vote after resign: got %v, want ErrNoActiveSession", err)
	}
	games, err := rig.repo.GetRecentGames(ctx, hashString("chan-1"), 10)
	if err != nil || len(games) != 1 {
		t.Fatalf("archived games = %v %v", games, err)
	}
	if games[0].Result != "0-1" {
		t.Fatalf("archived result = %q, want 0-1", games[0].Result)
	}
}

func TestImmediateResignationSkipsExport(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "resign"); err != nil {
		t.Fatalf("resign ballot: %v", err)
	}
	rig.fireWindow(t, "chan-1")

	if rig.exporter.exportCount() != 0 {
		t.Fatal("empty game was exported")
	}
	if _, err := rig.manager.get("chan-1"); err != ErrNoActiveSession {
		t.Fatalf("session still present: %v", err)
	}
}

func TestCheckmateByEngineEndsGame(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e7e5"}, {reply: "d8h4"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, raw := range []string{"f3", "g4"} {
		if err := rig.manager.CastVote(ctx, "chan-1", "alice", raw); err != nil {
			t.Fatalf("vote %s: %v", raw, err)
		}
		rig.fireWindow(t, "chan-1")
	}

	ev, ok := rig.notifier.last("over")
	if !ok || ev.resigned || ev.result != ResultBlackWins {
		t.Fatalf("game over notice = %+v", ev)
	}
	if rig.exporter.exportCount() != 1 {
		t.Fatalf("exports = %d, want 1", rig.exporter.exportCount())
	}
	if _, err := rig.manager.get("chan-1"); err != ErrNoActiveSession {
		t.Fatal("session survived checkmate")
	}
	if rig.notifier.count("archived") != 1 {
		t.Fatal("archive URL not announced")
	}
}

func TestRestoreReplaysSnapshots(t *testing.T) {
	rig := newTestRig(t)
	rig.adapter.turns = []engineTurn{{reply: "e7e5"}}
	ctx := context.Background()
	if err := rig.manager.Start(ctx, "chan-1", "guild-1", engine.TierEasy, SideWhite); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rig.manager.CastVote(ctx, "chan-1", "alice", "e4"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	rig.fireWindow(t, "chan-1")

	// Second manager on the same store stands in for a restarted process.
	notifier := &recordingNotifier{}
	m2, err := NewManager(Deps{
		Adapters:  map[engine.Tier]engine.Adapter{engine.TierEasy: rig.adapter},
		Snapshots: rig.store,
		Renderer:  render.NewBoardRenderer(),
		Notifier:  notifier,
		Config:    Config{MinVotingDelay: time.Hour},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m2.Close)
	if err := m2.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if notifier.count("votes_lost") != 1 {
		t.Fatal("restored channel not told to vote again")
	}
	s, err := m2.get("chan-1")
	if err != nil {
		t.Fatalf("restored session missing: %v", err)
	}
	moves := s.Moves()
	if len(moves) != 2 || moves[0] != "e2e4" || moves[1] != "e7e5" {
		t.Fatalf("restored moves = %v", moves)
	}
	if s.Turn() != nchess.White {
		t.Fatalf("restored turn = %v, want white", s.Turn())
	}
}

func TestRestoreDiscardsCorruptSnapshot(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	bad := &store.SessionSnapshot{
		SessionUUID: "u-1",
		Tier:        "easy",
		HumanSide:   "white",
		MovesUCI:    []string{"e2e5"},
		StartedAt:   time.Now().UTC(),
	}
	if err := rig.store.SaveSession(ctx, "chan-bad", bad); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	if err := rig.manager.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := rig.manager.get("chan-bad"); err != ErrNoActiveSession {
		t.Fatal("corrupt snapshot produced a session")
	}
	snap, err := rig.store.LoadSession(ctx, "chan-bad")
	if err != nil || snap != nil {
		t.Fatalf("corrupt snapshot not deleted: %v %v", snap, err)
	}
}
