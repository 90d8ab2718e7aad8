package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Abandoned games eventually fall out of Redis even if the process never
// got to delete them.
const ttlSession = 7 * 24 * time.Hour

// SessionSnapshot is the persisted form of one running channel game.
// The in-memory position is replayed from MovesUCI on restore.
type SessionSnapshot struct {
	SessionUUID    string    `json:"session_uuid"`
	GuildID        string    `json:"guild_id,omitempty"`
	Tier           string    `json:"tier"`
	HumanSide      string    `json:"human_side"`
	VotingDelaySec int       `json:"voting_delay_sec"`
	DelayResolved  bool      `json:"delay_resolved"`
	MovesUCI       []string  `json:"moves_uci"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SnapshotStore keeps session snapshots and per-guild voting delays in
// Redis under a common prefix.
type SnapshotStore struct{ rdb *redis.Client }

func NewSnapshotStore(rdb *redis.Client) *SnapshotStore { return &SnapshotStore{rdb: rdb} }

func (s *SnapshotStore) keySession(channelID string) string {
	return "coop:session:" + strings.TrimSpace(channelID)
}
func (s *SnapshotStore) keyIndex() string { return "coop:sessions" }
func (s *SnapshotStore) keyDelay(guildID string) string {
	return "coop:delay:" + strings.TrimSpace(guildID)
}

func (s *SnapshotStore) SaveSession(ctx context.Context, channelID string, snap *SessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keySession(channelID), raw, ttlSession).Err(); err != nil {
		return err
	}
	return s.rdb.SAdd(ctx, s.keyIndex(), channelID).Err()
}

func (s *SnapshotStore) LoadSession(ctx context.Context, channelID string) (*SessionSnapshot, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(channelID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SnapshotStore) DeleteSession(ctx context.Context, channelID string) error {
	if err := s.rdb.Del(ctx, s.keySession(channelID)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyIndex(), channelID).Err()
}

// ListSessions returns the channel ids with a live snapshot. Index members
// whose session key already expired are pruned on the way.
func (s *SnapshotStore) ListSessions(ctx context.Context) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, channelID := range members {
		exists, err := s.rdb.Exists(ctx, s.keySession(channelID)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			_ = s.rdb.SRem(ctx, s.keyIndex(), channelID).Err()
			continue
		}
		out = append(out, channelID)
	}
	return out, nil
}

// GuildDelay reports the configured voting delay in seconds for a guild.
// The second return is false when the guild has no setting.
func (s *SnapshotStore) GuildDelay(ctx context.Context, guildID string) (int, bool, error) {
	v, err := s.rdb.Get(ctx, s.keyDelay(guildID)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *SnapshotStore) SetGuildDelay(ctx context.Context, guildID string, seconds int) error {
	return s.rdb.Set(ctx, s.keyDelay(guildID), seconds, 0).Err()
}
