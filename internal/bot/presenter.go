package bot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/mkrebs/coopchess/internal/coop"
	"github.com/mkrebs/coopchess/internal/engine"
	"github.com/mkrebs/coopchess/internal/msgcat"
	"github.com/mkrebs/coopchess/internal/obslog"
)

// Messenger is the slice of the gateway client the bot needs.
type Messenger interface {
	SendText(ctx context.Context, channelID, text string) error
	SendImage(ctx context.Context, channelID, imageBase64 string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Presenter turns game events into channel messages.
type Presenter struct {
	messenger Messenger
	catalog   *msgcat.Catalog
}

func NewPresenter(messenger Messenger, catalog *msgcat.Catalog) *Presenter {
	return &Presenter{messenger: messenger, catalog: catalog}
}

func (p *Presenter) say(ctx context.Context, channelID, key string, data any) {
	text, err := p.catalog.Render(key, data)
	if err != nil {
		obslog.L().Error("message render failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.messenger.SendText(ctx, channelID, text); err != nil {
		obslog.L().Error("message send failed", zap.String("channel", channelID), zap.String("key", key), zap.Error(err))
	}
}

func (p *Presenter) GameStarted(ctx context.Context, channelID string, tier engine.Tier, humanSide nchess.Color) {
	side := "white"
	if humanSide == nchess.Black {
		side = "black"
	}
	p.say(ctx, channelID, "game.started", map[string]string{"Tier": string(tier), "Side": side})
}

func (p *Presenter) VotingOpened(ctx context.Context, channelID string, delay time.Duration) {
	if delay < time.Minute {
		seconds := strconv.Itoa(int(delay / time.Second))
		p.say(ctx, channelID, "vote.open_seconds", map[string]string{"Seconds": seconds})
		return
	}
	minutes := strconv.Itoa(int(delay / time.Minute))
	p.say(ctx, channelID, "vote.open", map[string]string{"Minutes": minutes})
}

func (p *Presenter) Tally(ctx context.Context, channelID string, lines []coop.VoteCount) {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, fmt.Sprintf("%s: %d", line.Token, line.Count))
	}
	p.say(ctx, channelID, "vote.tally", map[string]string{"Tally": strings.Join(parts, "\n")})
}

func (p *Presenter) Board(ctx context.Context, channelID string, png []byte) {
	encoded := base64.StdEncoding.EncodeToString(png)
	if err := p.messenger.SendImage(ctx, channelID, encoded); err != nil {
		obslog.L().Error("board send failed", zap.String("channel", channelID), zap.Error(err))
	}
}

func (p *Presenter) GameOver(ctx context.Context, channelID string, result coop.Result, resigned bool) {
	label, err := p.catalog.Render("result."+string(result), nil)
	if err != nil {
		obslog.L().Error("result label render failed", zap.String("result", string(result)), zap.Error(err))
		label = string(result)
	}
	key := "game.over"
	if resigned {
		key = "game.resigned"
	}
	p.say(ctx, channelID, key, map[string]string{"Result": label})
}

func (p *Presenter) Archived(ctx context.Context, channelID, url string) {
	p.say(ctx, channelID, "game.archived", map[string]string{"URL": url})
}

func (p *Presenter) ArchiveFailed(ctx context.Context, channelID string) {
	p.say(ctx, channelID, "archive.failed", nil)
}

func (p *Presenter) EngineUnavailable(ctx context.Context, channelID string) {
	p.say(ctx, channelID, "engine.unavailable", nil)
}

func (p *Presenter) VotesLost(ctx context.Context, channelID string) {
	p.say(ctx, channelID, "vote.lost", nil)
}
