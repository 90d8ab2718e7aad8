package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mkrebs/coopchess/internal/coop"
	"github.com/mkrebs/coopchess/internal/engine"
	"github.com/mkrebs/coopchess/internal/gateway"
	"github.com/mkrebs/coopchess/internal/msgcat"
	"github.com/mkrebs/coopchess/internal/obslog"
)

// gameService is the slice of the session manager the router drives.
type gameService interface {
	Start(ctx context.Context, channelID, guildID string, tier engine.Tier, side coop.SideChoice) error
	Board(ctx context.Context, channelID string) error
	CastVote(ctx context.Context, channelID, voterID, text string) error
	SetVotingTime(ctx context.Context, guildID string, seconds int) error
}

// Router dispatches incoming chat messages: prefixed ones become commands,
// everything else in an active channel is a ballot.
type Router struct {
	prefix    string
	games     gameService
	messenger Messenger
	catalog   *msgcat.Catalog
}

func NewRouter(prefix string, games gameService, messenger Messenger, catalog *msgcat.Catalog) *Router {
	if prefix == "" {
		prefix = "chess"
	}
	return &Router{prefix: prefix, games: games, messenger: messenger, catalog: catalog}
}

func (r *Router) say(ctx context.Context, channelID, key string, data any) {
	text, err := r.catalog.Render(key, data)
	if err != nil {
		obslog.L().Error("message render failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.messenger.SendText(ctx, channelID, text); err != nil {
		obslog.L().Error("message send failed", zap.String("channel", channelID), zap.Error(err))
	}
}

// HandleMessage routes one inbound message. Messages from other bots are
// dropped so two bots cannot feed each other.
func (r *Router) HandleMessage(ctx context.Context, msg *gateway.Message) {
	if msg == nil || msg.Sender.Bot {
		return
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	fields := strings.Fields(content)
	if !strings.EqualFold(fields[0], r.prefix) {
		r.handleBallot(ctx, msg, content)
		return
	}
	r.handleCommand(ctx, msg, fields[1:])
}

func (r *Router) handleCommand(ctx context.Context, msg *gateway.Message, args []string) {
	verb := "help"
	if len(args) > 0 {
		verb = strings.ToLower(args[0])
		args = args[1:]
	}

	switch verb {
	case "help":
		r.say(ctx, msg.ChannelID, "cmd.help", map[string]string{"Prefix": r.prefix})
	case "start":
		r.handleStart(ctx, msg, args)
	case "board":
		if err := r.games.Board(ctx, msg.ChannelID); errors.Is(err, coop.ErrNoActiveSession) {
			r.say(ctx, msg.ChannelID, "game.none", map[string]string{"Prefix": r.prefix})
		} else if err != nil {
			obslog.L().Error("board command failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		}
	case "setvotingtime":
		r.handleSetVotingTime(ctx, msg, args)
	default:
		r.say(ctx, msg.ChannelID, "cmd.not_found", map[string]string{"Prefix": r.prefix})
	}
}

// handleStart parses optional tier and side arguments; anything it cannot
// parse falls back to easy and white.
func (r *Router) handleStart(ctx context.Context, msg *gateway.Message, args []string) {
	tier := engine.TierEasy
	side := coop.SideWhite
	if len(args) > 0 {
		if parsed, ok := engine.ParseTier(args[0]); ok {
			tier = parsed
		}
	}
	if len(args) > 1 {
		if parsed, ok := coop.ParseSideChoice(args[1]); ok {
			side = parsed
		}
	}

	err := r.games.Start(ctx, msg.ChannelID, msg.GuildID, tier, side)
	switch {
	case err == nil:
	case errors.Is(err, coop.ErrAlreadyActive):
		r.say(ctx, msg.ChannelID, "game.already_active", nil)
	default:
		obslog.L().Error("start command failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		r.say(ctx, msg.ChannelID, "engine.unavailable", nil)
	}
}

func (r *Router) handleSetVotingTime(ctx context.Context, msg *gateway.Message, args []string) {
	if !msg.Sender.Admin {
		r.say(ctx, msg.ChannelID, "settings.permission_denied", nil)
		return
	}
	if msg.GuildID == "" || len(args) != 1 {
		r.say(ctx, msg.ChannelID, "settings.voting_time_usage", map[string]string{"Prefix": r.prefix})
		return
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil || seconds < 0 {
		r.say(ctx, msg.ChannelID, "settings.voting_time_usage", map[string]string{"Prefix": r.prefix})
		return
	}
	if err := r.games.SetVotingTime(ctx, msg.GuildID, seconds); err != nil {
		obslog.L().Error("voting time update failed", zap.String("guild", msg.GuildID), zap.Error(err))
		return
	}
	r.say(ctx, msg.ChannelID, "settings.voting_time_set", map[string]int{"Seconds": seconds})
}

// handleBallot feeds non-command chat into the vote aggregator. Chat that
// is not a legal ballot, or chat in a channel with no game, stays silent;
// accepted ballots are deleted from the channel to keep votes blind.
func (r *Router) handleBallot(ctx context.Context, msg *gateway.Message, content string) {
	err := r.games.CastVote(ctx, msg.ChannelID, msg.Sender.ID, content)
	switch {
	case err == nil:
		if err := r.messenger.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
			obslog.L().Warn("ballot delete failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		}
	case errors.Is(err, coop.ErrInvalidVoteToken), errors.Is(err, coop.ErrNoActiveSession):
	default:
		obslog.L().Error("ballot handling failed", zap.String("channel", msg.ChannelID), zap.Error(err))
	}
}
