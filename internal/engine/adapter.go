package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkrebs/coopchess/internal/config"
	"github.com/mkrebs/coopchess/internal/engine/uci"
	"github.com/mkrebs/coopchess/internal/obslog"
)

// Tier is an opponent difficulty level.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierNormal Tier = "normal"
	TierHard   Tier = "hard"
)

// ParseTier maps user input onto a tier. Unknown input reports false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierEasy:
		return TierEasy, true
	case TierNormal:
		return TierNormal, true
	case TierHard:
		return TierHard, true
	}
	return "", false
}

// ErrUnavailable reports that the opponent engine could not produce a move.
// The caller keeps the game alive; a later request may succeed.
var ErrUnavailable = errors.New("opponent engine unavailable")

// Adapter asks an opponent for its move in the position reached by the
// given UCI move list from the start position.
type Adapter interface {
	Play(ctx context.Context, moves []string) (string, error)
}

const playTimeout = 30 * time.Second

// UCIAdapter drives a pooled UCI engine with a fixed tier limit.
type UCIAdapter struct {
	tier   Tier
	pool   *uci.Pool
	limits uci.Limits
}

func NewUCIAdapter(tier Tier, cfg config.TierConfig) (*UCIAdapter, error) {
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.EnginePath,
		Options:    cfg.Options,
		Capacity:   cfg.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("tier %s: %w", tier, err)
	}
	return &UCIAdapter{tier: tier, pool: pool, limits: limitsFromConfig(cfg)}, nil
}

// limitsFromConfig normalizes a tier's limit. Move time always applies,
// defaulting to one second; depth and nodes are passed through only when
// configured.
func limitsFromConfig(cfg config.TierConfig) uci.Limits {
	l := uci.Limits{MoveTimeMillis: 1000}
	if cfg.MoveTimeSec > 0 {
		l.MoveTimeMillis = int(cfg.MoveTimeSec * 1000)
	}
	if cfg.Depth > 0 {
		l.Depth = cfg.Depth
	}
	if cfg.Nodes > 0 {
		l.Nodes = cfg.Nodes
	}
	return l
}

func (a *UCIAdapter) Play(ctx context.Context, moves []string) (string, error) {
	playCtx, cancel := context.WithTimeout(ctx, playTimeout)
	defer cancel()

	session, err := a.pool.Acquire(playCtx)
	if err != nil {
		obslog.L().Error("engine acquire failed", zap.String("tier", string(a.tier)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	best, err := session.BestMove(playCtx, moves, a.limits)
	a.pool.Release(session, err)
	if err != nil {
		obslog.L().Error("engine search failed",
			zap.String("tier", string(a.tier)),
			zap.Int("ply", len(moves)),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return best, nil
}

func (a *UCIAdapter) Close() error { return a.pool.Close() }
