package domain

import "time"

// CoopGame is the archived record of one finished channel game.
// Channel and guild ids are stored hashed; the raw chat ids never
// reach the database.
type CoopGame struct {
	ID           int64
	SessionUUID  string
	ChannelHash  string
	GuildHash    string
	Tier         string
	Result       string
	ResultMethod string
	MovesUCI     []string
	PGN          string
	ImportURL    string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}
