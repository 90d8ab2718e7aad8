package coop

import (
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/mkrebs/coopchess/internal/engine"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	ErrAlreadyActive    = staticErr("a game is already active in this channel")
	ErrNoActiveSession  = staticErr("no active game in this channel")
	ErrInvalidVoteToken = staticErr("invalid vote token")
)

// Vote tokens that are not moves.
const (
	tokenResign = "resign"
	tokenDraw   = "draw"
)

// SideChoice is the side argument of a start command.
type SideChoice string

const (
	SideWhite  SideChoice = "white"
	SideBlack  SideChoice = "black"
	SideRandom SideChoice = "random"
)

// ParseSideChoice maps user input onto a side choice. Unknown input
// reports false.
func ParseSideChoice(s string) (SideChoice, bool) {
	switch SideChoice(strings.ToLower(strings.TrimSpace(s))) {
	case SideWhite:
		return SideWhite, true
	case SideBlack:
		return SideBlack, true
	case SideRandom:
		return SideRandom, true
	}
	return "", false
}

// voteWindow collects ballots between the opening vote and resolution.
// The id pairs a window with its timer so a stale timer cannot resolve a
// newer window.
type voteWindow struct {
	id       int64
	opensAt  time.Time
	deadline time.Time
	ballots  map[string]string // voter id -> canonical token
}

// GameSession is one channel's running game. All mutable fields are
// guarded by mu; components must re-check removed after locking because
// a resolution may have destroyed the session while they waited.
type GameSession struct {
	mu sync.Mutex

	ChannelID string
	GuildID   string
	UUID      string
	Tier      engine.Tier
	HumanSide nchess.Color
	StartedAt time.Time

	game  *nchess.Game
	moves []string // UCI, source of truth for snapshots

	votingDelay   time.Duration
	delayResolved bool

	window  *voteWindow
	removed bool
}

// Moves returns a copy of the session's UCI move list.
func (s *GameSession) Moves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.moves...)
}

// Turn reports the side to move.
func (s *GameSession) Turn() nchess.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Position().Turn()
}

// Result classifies how a game ended. The values double as message
// catalog key suffixes under "result.".
type Result string

const (
	ResultWhiteWins    Result = "white"
	ResultBlackWins    Result = "black"
	ResultStalemate    Result = "stalemate"
	ResultInsufficient Result = "insufficient"
	ResultSeventyFive  Result = "seventyfive"
	ResultFivefold     Result = "fivefold"
	ResultFifty        Result = "fifty"
	ResultThreefold    Result = "threefold"
	ResultDraw         Result = "draw"
)

// VoteCount is one line of a tally announcement.
type VoteCount struct {
	Token string // SAN for moves, literal for resign/draw
	Count int
}
