package coop

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/mkrebs/coopchess/internal/archive"
	"github.com/mkrebs/coopchess/internal/domain"
	"github.com/mkrebs/coopchess/internal/obslog"
)

const resolveTimeout = 2 * time.Minute

// resolveWindow fires when a window's timer expires. The window id guards
// against a timer outliving its window: a destroyed session or an already
// resolved window makes this a no-op.
func (m *Manager) resolveWindow(channelID string, windowID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	m.mu.Lock()
	s, ok := m.sessions[channelID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.window == nil || s.window.id != windowID {
		return
	}

	// Snapshot and clear before anything can block: ballots cast while
	// this turn resolves belong to the next window.
	ballots := s.window.ballots
	s.window = nil
	m.mu.Lock()
	delete(m.timers, channelID)
	m.mu.Unlock()

	if len(ballots) == 0 {
		return
	}

	tally := make(map[string]int, len(ballots))
	for _, token := range ballots {
		tally[token]++
	}
	winner := pickWinner(tally, m.random())

	m.notifier.Tally(ctx, channelID, tallyLines(s.game, tally))
	m.resolveTurn(ctx, s, winner)
}

func (m *Manager) resolveTurn(ctx context.Context, s *GameSession, token string) {
	switch token {
	case tokenResign:
		m.resolveResign(ctx, s)
	case tokenDraw:
		m.resolveDraw(ctx, s)
	default:
		m.resolveMove(ctx, s, token)
	}
}

func (m *Manager) resolveResign(ctx context.Context, s *GameSession) {
	s.game.Resign(s.HumanSide)
	result := classifyResult(s.game.Outcome(), s.game.Method())
	m.notifier.GameOver(ctx, s.ChannelID, result, true)
	if len(s.moves) >= 2 {
		m.exportGame(ctx, s)
	}
	m.destroyLocked(ctx, s)
}

func (m *Manager) resolveDraw(ctx context.Context, s *GameSession) {
	method, ok := claimableDraw(s.game)
	if !ok {
		// The claim was valid when the ballot was cast and no move has
		// landed since, so this should not happen.
		obslog.L().Warn("draw claim no longer valid", zap.String("channel", s.ChannelID))
		return
	}
	if err := s.game.Draw(method); err != nil {
		obslog.L().Error("draw claim rejected", zap.String("channel", s.ChannelID), zap.Error(err))
		return
	}
	result := classifyResult(s.game.Outcome(), s.game.Method())
	m.finishGame(ctx, s, result, s.HumanSide)
}

func (m *Manager) resolveMove(ctx context.Context, s *GameSession, token string) {
	// Keep the pre-turn state so an engine failure leaves the channel
	// exactly where it was, ready to re-vote.
	prevGame := s.game.Clone()
	prevMoves := len(s.moves)
	rollback := func() {
		s.game = prevGame
		s.moves = s.moves[:prevMoves]
	}

	if err := m.applyUCILocked(s, token); err != nil {
		obslog.L().Error("winning ballot no longer legal", zap.String("channel", s.ChannelID), zap.String("move", token), zap.Error(err))
		return
	}

	if result, done := terminalResult(s.game); done {
		m.finishGame(ctx, s, result, s.HumanSide)
		return
	}

	adapter, ok := m.adapters[s.Tier]
	if !ok {
		rollback()
		obslog.L().Error("no engine for session tier", zap.String("channel", s.ChannelID), zap.String("tier", string(s.Tier)))
		m.notifier.EngineUnavailable(ctx, s.ChannelID)
		return
	}
	reply, err := adapter.Play(ctx, s.moves)
	if err != nil {
		rollback()
		obslog.L().Error("engine reply failed", zap.String("channel", s.ChannelID), zap.Error(err))
		m.notifier.EngineUnavailable(ctx, s.ChannelID)
		return
	}
	if err := m.applyUCILocked(s, reply); err != nil {
		rollback()
		obslog.L().Error("engine reply not legal", zap.String("channel", s.ChannelID), zap.String("move", reply), zap.Error(err))
		m.notifier.EngineUnavailable(ctx, s.ChannelID)
		return
	}

	if result, done := terminalResult(s.game); done {
		m.finishGame(ctx, s, result, s.game.Position().Turn())
		return
	}

	m.sendBoardLocked(ctx, s, lastMoveHighlight(s.game), s.game.Position().Turn())
	m.persistLocked(ctx, s)
}

// finishGame runs the shared end-of-game sequence: final board, result
// announcement, history export, teardown.
func (m *Manager) finishGame(ctx context.Context, s *GameSession, result Result, orientation nchess.Color) {
	m.sendBoardLocked(ctx, s, lastMoveHighlight(s.game), orientation)
	m.notifier.GameOver(ctx, s.ChannelID, result, false)
	if len(s.moves) >= 1 {
		m.exportGame(ctx, s)
	}
	m.destroyLocked(ctx, s)
}

func (m *Manager) exportGame(ctx context.Context, s *GameSession) {
	endedAt := time.Now().UTC()
	pgn := strings.TrimSpace(s.game.String())

	importURL := ""
	if m.exporter != nil {
		url, err := m.exporter.Export(ctx, pgn)
		if err != nil {
			obslog.L().Error("game export failed", zap.String("channel", s.ChannelID), zap.Error(err))
			m.notifier.ArchiveFailed(ctx, s.ChannelID)
		} else {
			importURL = url
			m.notifier.Archived(ctx, s.ChannelID, url)
		}
	}

	record := &domain.CoopGame{
		SessionUUID:  s.UUID,
		ChannelHash:  hashString(s.ChannelID),
		GuildHash:    hashString(s.GuildID),
		Tier:         string(s.Tier),
		Result:       s.game.Outcome().String(),
		ResultMethod: s.game.Method().String(),
		MovesUCI:     append([]string(nil), s.moves...),
		PGN:          pgn,
		ImportURL:    importURL,
		StartedAt:    s.StartedAt,
		EndedAt:      endedAt,
		Duration:     endedAt.Sub(s.StartedAt),
	}
	if _, err := m.repo.InsertGame(ctx, record); err != nil && !errors.Is(err, archive.ErrDuplicateGame) {
		obslog.L().Error("game record insert failed", zap.String("channel", s.ChannelID), zap.Error(err))
	}
}

// destroyLocked tears a session down: pending timer stopped, map entry
// and snapshot gone. The removed flag tells blocked voters the session
// they waited on is over.
func (m *Manager) destroyLocked(ctx context.Context, s *GameSession) {
	s.removed = true
	s.window = nil

	m.mu.Lock()
	delete(m.sessions, s.ChannelID)
	if t, ok := m.timers[s.ChannelID]; ok {
		t.Stop()
		delete(m.timers, s.ChannelID)
	}
	m.mu.Unlock()

	if err := m.snapshots.DeleteSession(ctx, s.ChannelID); err != nil {
		obslog.L().Error("session snapshot delete failed", zap.String("channel", s.ChannelID), zap.Error(err))
	}
}

// tallyLines renders a tally for announcement, moves in SAN where
// decodable, ordered by count descending then token.
func tallyLines(game *nchess.Game, tally map[string]int) []VoteCount {
	lines := make([]VoteCount, 0, len(tally))
	pos := game.Position()
	for token, count := range tally {
		label := token
		if token != tokenResign && token != tokenDraw {
			if move, err := (nchess.UCINotation{}).Decode(pos, token); err == nil {
				label = (nchess.AlgebraicNotation{}).Encode(pos, move)
			}
		}
		lines = append(lines, VoteCount{Token: label, Count: count})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Count != lines[j].Count {
			return lines[i].Count > lines[j].Count
		}
		return lines[i].Token < lines[j].Token
	})
	return lines
}
