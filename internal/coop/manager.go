package coop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkrebs/coopchess/internal/archive"
	"github.com/mkrebs/coopchess/internal/engine"
	"github.com/mkrebs/coopchess/internal/obslog"
	"github.com/mkrebs/coopchess/internal/render"
	"github.com/mkrebs/coopchess/internal/store"
)

// Notifier pushes game events back into the chat channel. Implementations
// must tolerate being called while the session is mid-resolution.
type Notifier interface {
	GameStarted(ctx context.Context, channelID string, tier engine.Tier, humanSide nchess.Color)
	VotingOpened(ctx context.Context, channelID string, delay time.Duration)
	Tally(ctx context.Context, channelID string, lines []VoteCount)
	Board(ctx context.Context, channelID string, png []byte)
	GameOver(ctx context.Context, channelID string, result Result, resigned bool)
	Archived(ctx context.Context, channelID, url string)
	ArchiveFailed(ctx context.Context, channelID string)
	EngineUnavailable(ctx context.Context, channelID string)
	VotesLost(ctx context.Context, channelID string)
}

type Config struct {
	// Delay written back to guilds that never configured one.
	DefaultVotingDelay time.Duration
	// Floor for the window timer. Zero-delay channels still get this
	// much time so the opening ballot is not the only one counted.
	MinVotingDelay time.Duration
}

func (c *Config) normalize() {
	if c.DefaultVotingDelay <= 0 {
		c.DefaultVotingDelay = 300 * time.Second
	}
	if c.MinVotingDelay <= 0 {
		c.MinVotingDelay = time.Second
	}
}

type Deps struct {
	Adapters   map[engine.Tier]engine.Adapter
	Snapshots  *store.SnapshotStore
	Repository archive.Repository
	Exporter   archive.Exporter
	Renderer   render.BoardRenderer
	Notifier   Notifier
	Config     Config
}

// Manager owns every running session, the vote windows and their timers.
// Cross-session work runs in parallel; everything touching one session
// serializes on that session's lock.
type Manager struct {
	cfg       Config
	adapters  map[engine.Tier]engine.Adapter
	snapshots *store.SnapshotStore
	repo      archive.Repository
	exporter  archive.Exporter
	renderer  render.BoardRenderer
	notifier  Notifier

	mu        sync.Mutex
	sessions  map[string]*GameSession
	timers    map[string]*time.Timer
	windowSeq int64

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewManager(deps Deps) (*Manager, error) {
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("snapshot store required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer required")
	}
	if deps.Repository == nil {
		deps.Repository = archive.NewMemoryRepository()
	}
	cfg := deps.Config
	cfg.normalize()
	return &Manager{
		cfg:       cfg,
		adapters:  deps.Adapters,
		snapshots: deps.Snapshots,
		repo:      deps.Repository,
		exporter:  deps.Exporter,
		renderer:  deps.Renderer,
		notifier:  deps.Notifier,
		sessions:  make(map[string]*GameSession),
		timers:    make(map[string]*time.Timer),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (m *Manager) random() *rand.Rand {
	m.randMu.Lock()
	seed := m.rand.Int63()
	m.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

// SetRandomSeed pins the tie-break and side-pick randomness, for tests.
func (m *Manager) SetRandomSeed(seed int64) {
	m.randMu.Lock()
	m.rand = rand.New(rand.NewSource(seed))
	m.randMu.Unlock()
}

// Start creates the channel's session. When the humans end up with black
// the engine's opening move is applied before anything is announced; if
// the engine cannot produce it, no session is created.
func (m *Manager) Start(ctx context.Context, channelID, guildID string, tier engine.Tier, side SideChoice) error {
	adapter, ok := m.adapters[tier]
	if !ok {
		return fmt.Errorf("no engine configured for tier %s", tier)
	}

	humanSide := nchess.White
	switch side {
	case SideBlack:
		humanSide = nchess.Black
	case SideRandom:
		if m.random().Intn(2) == 1 {
			humanSide = nchess.Black
		}
	}

	s := &GameSession{
		ChannelID: channelID,
		GuildID:   guildID,
		UUID:      uuid.NewString(),
		Tier:      tier,
		HumanSide: humanSide,
		StartedAt: time.Now().UTC(),
		game:      nchess.NewGame(),
	}

	// The session is locked before it becomes visible, so votes racing
	// the start command wait for the opening move.
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	if _, exists := m.sessions[channelID]; exists {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.sessions[channelID] = s
	m.mu.Unlock()

	if humanSide == nchess.Black {
		reply, err := adapter.Play(ctx, nil)
		if err != nil {
			m.forgetSession(channelID)
			return err
		}
		if err := m.applyUCILocked(s, reply); err != nil {
			m.forgetSession(channelID)
			return err
		}
	}

	m.persistLocked(ctx, s)
	m.notifier.GameStarted(ctx, channelID, tier, humanSide)
	m.sendBoardLocked(ctx, s, lastMoveHighlight(s.game), s.game.Position().Turn())
	return nil
}

// Board re-renders the current position into the channel.
func (m *Manager) Board(ctx context.Context, channelID string) error {
	s, err := m.get(channelID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrNoActiveSession
	}
	m.sendBoardLocked(ctx, s, lastMoveHighlight(s.game), s.game.Position().Turn())
	return nil
}

// CastVote validates and records one ballot. A voter's newer ballot
// replaces their older one within the window; the window-opening ballot
// arms the resolution timer, and later ballots never reschedule it.
func (m *Manager) CastVote(ctx context.Context, channelID, voterID, text string) error {
	s, err := m.get(channelID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return ErrNoActiveSession
	}

	token, err := normalizeToken(s.game, text)
	if err != nil {
		return err
	}

	if s.window == nil {
		m.resolveDelayLocked(ctx, s)
		m.openWindowLocked(ctx, s)
	}
	s.window.ballots[voterID] = token
	return nil
}

// SetVotingTime stores a guild's voting delay. Running sessions keep the
// delay they already resolved; the next session picks this one up.
func (m *Manager) SetVotingTime(ctx context.Context, guildID string, seconds int) error {
	return m.snapshots.SetGuildDelay(ctx, guildID, seconds)
}

// Restore rebuilds sessions from snapshots after a restart. Ballots are
// not snapshotted, so every restored channel is told to vote again.
func (m *Manager) Restore(ctx context.Context) error {
	channelIDs, err := m.snapshots.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list session snapshots: %w", err)
	}
	for _, channelID := range channelIDs {
		snap, err := m.snapshots.LoadSession(ctx, channelID)
		if err != nil || snap == nil {
			obslog.L().Warn("skip unreadable session snapshot", zap.String("channel", channelID), zap.Error(err))
			continue
		}
		s, err := sessionFromSnapshot(channelID, snap)
		if err != nil {
			obslog.L().Error("discard corrupt session snapshot", zap.String("channel", channelID), zap.Error(err))
			_ = m.snapshots.DeleteSession(ctx, channelID)
			continue
		}
		m.mu.Lock()
		m.sessions[channelID] = s
		m.mu.Unlock()
		m.notifier.VotesLost(ctx, channelID)
		obslog.L().Info("session restored",
			zap.String("channel", channelID),
			zap.String("tier", string(s.Tier)),
			zap.Int("ply", len(s.moves)))
	}
	return nil
}

// Close stops all pending window timers. Sessions stay snapshotted for
// the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channelID, t := range m.timers {
		t.Stop()
		delete(m.timers, channelID)
	}
}

func (m *Manager) get(channelID string) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[channelID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s, nil
}

// forgetSession removes a session that never finished starting.
func (m *Manager) forgetSession(channelID string) {
	m.mu.Lock()
	delete(m.sessions, channelID)
	m.mu.Unlock()
}

// resolveDelayLocked fixes the session's voting delay at the first ballot
// of its lifetime. Guildless channels resolve instantly; guilds without a
// setting get the default written back.
func (m *Manager) resolveDelayLocked(ctx context.Context, s *GameSession) {
	if s.delayResolved {
		return
	}
	var delay time.Duration
	if s.GuildID != "" {
		seconds, ok, err := m.snapshots.GuildDelay(ctx, s.GuildID)
		if err != nil {
			obslog.L().Error("guild delay lookup failed", zap.String("guild", s.GuildID), zap.Error(err))
			ok = false
		}
		if !ok {
			seconds = int(m.cfg.DefaultVotingDelay / time.Second)
			if err := m.snapshots.SetGuildDelay(ctx, s.GuildID, seconds); err != nil {
				obslog.L().Error("guild delay write-back failed", zap.String("guild", s.GuildID), zap.Error(err))
			}
		}
		delay = time.Duration(seconds) * time.Second
	}
	s.votingDelay = delay
	s.delayResolved = true
	m.persistLocked(ctx, s)
}

func (m *Manager) openWindowLocked(ctx context.Context, s *GameSession) {
	m.mu.Lock()
	m.windowSeq++
	id := m.windowSeq
	m.mu.Unlock()

	now := time.Now()
	s.window = &voteWindow{
		id:       id,
		opensAt:  now,
		deadline: now.Add(s.votingDelay),
		ballots:  make(map[string]string),
	}

	fireIn := s.votingDelay
	if fireIn < m.cfg.MinVotingDelay {
		fireIn = m.cfg.MinVotingDelay
	}
	channelID := s.ChannelID
	timer := time.AfterFunc(fireIn, func() { m.resolveWindow(channelID, id) })

	m.mu.Lock()
	m.timers[channelID] = timer
	m.mu.Unlock()

	if s.votingDelay > 0 {
		m.notifier.VotingOpened(ctx, channelID, s.votingDelay)
	}
}

// normalizeToken validates a ballot against the current position and
// canonicalizes move ballots to UCI so notation variants tally together.
func normalizeToken(game *nchess.Game, text string) (string, error) {
	token := strings.TrimSpace(text)
	if token == "" {
		return "", ErrInvalidVoteToken
	}
	lower := strings.ToLower(token)

	switch lower {
	case tokenResign:
		return tokenResign, nil
	case tokenDraw:
		if _, ok := claimableDraw(game); ok {
			return tokenDraw, nil
		}
		return "", ErrInvalidVoteToken
	}

	pos := game.Position()
	if move, err := (nchess.AlgebraicNotation{}).Decode(pos, token); err == nil {
		return (nchess.UCINotation{}).Encode(pos, move), nil
	}
	trial := game.Clone()
	if err := trial.PushNotationMove(lower, nchess.UCINotation{}, nil); err == nil {
		return lower, nil
	}
	return "", ErrInvalidVoteToken
}

func (m *Manager) applyUCILocked(s *GameSession, token string) error {
	token = strings.ToLower(strings.TrimSpace(token))
	if err := s.game.PushNotationMove(token, nchess.UCINotation{}, nil); err != nil {
		return fmt.Errorf("apply move %s: %w", token, err)
	}
	s.moves = append(s.moves, token)
	return nil
}

func (m *Manager) persistLocked(ctx context.Context, s *GameSession) {
	snap := &store.SessionSnapshot{
		SessionUUID:    s.UUID,
		GuildID:        s.GuildID,
		Tier:           string(s.Tier),
		HumanSide:      colorName(s.HumanSide),
		VotingDelaySec: int(s.votingDelay / time.Second),
		DelayResolved:  s.delayResolved,
		MovesUCI:       append([]string(nil), s.moves...),
		StartedAt:      s.StartedAt,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := m.snapshots.SaveSession(ctx, s.ChannelID, snap); err != nil {
		obslog.L().Error("session persist failed", zap.String("channel", s.ChannelID), zap.Error(err))
	}
}

func (m *Manager) sendBoardLocked(ctx context.Context, s *GameSession, highlight *render.MoveHighlight, orientation nchess.Color) {
	png, err := m.renderer.RenderPNG(ctx, s.game.Position().Board(), render.Options{
		Orientation: orientation,
		Highlight:   highlight,
		Header:      fmt.Sprintf("channel vs engine (%s)", s.Tier),
		Turn:        fmt.Sprintf("%s to move", colorName(s.game.Position().Turn())),
	})
	if err != nil {
		obslog.L().Error("board render failed", zap.String("channel", s.ChannelID), zap.Error(err))
		return
	}
	m.notifier.Board(ctx, s.ChannelID, png)
}

func sessionFromSnapshot(channelID string, snap *store.SessionSnapshot) (*GameSession, error) {
	tier, ok := engine.ParseTier(snap.Tier)
	if !ok {
		return nil, fmt.Errorf("unknown tier %q", snap.Tier)
	}
	game := nchess.NewGame()
	moves := make([]string, 0, len(snap.MovesUCI))
	for _, mv := range snap.MovesUCI {
		token := strings.ToLower(strings.TrimSpace(mv))
		if err := game.PushNotationMove(token, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %s: %w", mv, err)
		}
		moves = append(moves, token)
	}
	return &GameSession{
		ChannelID:     channelID,
		GuildID:       snap.GuildID,
		UUID:          snap.SessionUUID,
		Tier:          tier,
		HumanSide:     colorFromName(snap.HumanSide),
		StartedAt:     snap.StartedAt,
		game:          game,
		moves:         moves,
		votingDelay:   time.Duration(snap.VotingDelaySec) * time.Second,
		delayResolved: snap.DelayResolved,
	}, nil
}

func lastMoveHighlight(game *nchess.Game) *render.MoveHighlight {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	last := moves[len(moves)-1]
	return &render.MoveHighlight{From: last.S1(), To: last.S2()}
}

func colorName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

func colorFromName(name string) nchess.Color {
	if strings.EqualFold(strings.TrimSpace(name), "black") {
		return nchess.Black
	}
	return nchess.White
}

func hashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
