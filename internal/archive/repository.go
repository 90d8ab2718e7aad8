package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mkrebs/coopchess/internal/domain"
)

var ErrDuplicateGame = errors.New("coop game already archived")

// Repository stores finished channel games.
type Repository interface {
	InsertGame(ctx context.Context, game *domain.CoopGame) (int64, error)
	GetRecentGames(ctx context.Context, channelHash string, limit int) ([]*domain.CoopGame, error)
	GetGameBySession(ctx context.Context, sessionUUID string) (*domain.CoopGame, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// OpenDB opens and pings the archive database.
func OpenDB(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (r *repository) InsertGame(ctx context.Context, game *domain.CoopGame) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil coop game payload")
	}

	movesUCI, err := json.Marshal(game.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}

	const query = `
		INSERT INTO coop_games (
			session_uuid,
			channel_hash,
			guild_hash,
			tier,
			result,
			result_method,
			moves_uci,
			pgn,
			import_url,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		game.SessionUUID,
		game.ChannelHash,
		game.GuildHash,
		game.Tier,
		game.Result,
		game.ResultMethod,
		movesUCI,
		game.PGN,
		game.ImportURL,
		game.StartedAt,
		game.EndedAt,
		game.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert coop game: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) GetRecentGames(ctx context.Context, channelHash string, limit int) ([]*domain.CoopGame, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			session_uuid,
			channel_hash,
			guild_hash,
			tier,
			result,
			result_method,
			moves_uci,
			pgn,
			import_url,
			started_at,
			ended_at,
			duration_ms
		FROM coop_games
		WHERE channel_hash = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, channelHash, limit)
	if err != nil {
		return nil, fmt.Errorf("select coop games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.CoopGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows.Scan)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, rows.Err()
}

func (r *repository) GetGameBySession(ctx context.Context, sessionUUID string) (*domain.CoopGame, error) {
	const query = `
		SELECT
			id,
			session_uuid,
			channel_hash,
			guild_hash,
			tier,
			result,
			result_method,
			moves_uci,
			pgn,
			import_url,
			started_at,
			ended_at,
			duration_ms
		FROM coop_games
		WHERE session_uuid = $1
		LIMIT 1`

	game, err := scanGame(r.db.QueryRowContext(ctx, query, sessionUUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select coop game by session: %w", err)
	}
	return game, nil
}

func scanGame(scan func(dest ...any) error) (*domain.CoopGame, error) {
	var (
		game       domain.CoopGame
		movesJSON  []byte
		durationMS sql.NullInt64
	)
	err := scan(
		&game.ID,
		&game.SessionUUID,
		&game.ChannelHash,
		&game.GuildHash,
		&game.Tier,
		&game.Result,
		&game.ResultMethod,
		&movesJSON,
		&game.PGN,
		&game.ImportURL,
		&game.StartedAt,
		&game.EndedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}
	if durationMS.Valid {
		game.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	return &game, nil
}
