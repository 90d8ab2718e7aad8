package archive

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mkrebs/coopchess/internal/domain"
)

// memrepo is an in-memory Repository used when no database is configured.
type memrepo struct {
	mu sync.RWMutex

	nextID int64

	gamesByChannel map[string][]*domain.CoopGame
	gamesBySession map[string]*domain.CoopGame
}

func NewMemoryRepository() Repository {
	return &memrepo{
		gamesByChannel: make(map[string][]*domain.CoopGame),
		gamesBySession: make(map[string]*domain.CoopGame),
	}
}

func (m *memrepo) InsertGame(ctx context.Context, game *domain.CoopGame) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gamesBySession[key]; exists {
		return 0, ErrDuplicateGame
	}

	m.nextID++
	stored := *game
	stored.ID = m.nextID

	m.gamesBySession[key] = &stored
	m.gamesByChannel[game.ChannelHash] = append(m.gamesByChannel[game.ChannelHash], &stored)
	return stored.ID, nil
}

func (m *memrepo) GetRecentGames(ctx context.Context, channelHash string, limit int) ([]*domain.CoopGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.gamesByChannel[channelHash]
	if len(list) == 0 {
		return []*domain.CoopGame{}, nil
	}
	items := append([]*domain.CoopGame(nil), list...)
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetGameBySession(ctx context.Context, sessionUUID string) (*domain.CoopGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.gamesBySession[strings.TrimSpace(sessionUUID)]; ok && g != nil {
		stored := *g
		return &stored, nil
	}
	return nil, nil
}
