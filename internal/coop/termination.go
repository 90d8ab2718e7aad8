package coop

import (
	nchess "github.com/corentings/chess/v2"
)

// claimableDraw reports the draw method the current side could claim.
// The fifty-move rule takes precedence over threefold repetition; draw
// offers are not claims.
func claimableDraw(game *nchess.Game) (nchess.Method, bool) {
	var threefold bool
	for _, method := range game.EligibleDraws() {
		switch method {
		case nchess.FiftyMoveRule:
			return nchess.FiftyMoveRule, true
		case nchess.ThreefoldRepetition:
			threefold = true
		}
	}
	if threefold {
		return nchess.ThreefoldRepetition, true
	}
	return nchess.NoMethod, false
}

// terminalResult reports whether the game just ended, claiming any
// claimable draw on the way. Claimable draws are treated as automatic:
// they end the game before another vote window can open.
func terminalResult(game *nchess.Game) (Result, bool) {
	if game.Outcome() != nchess.NoOutcome {
		return classifyResult(game.Outcome(), game.Method()), true
	}
	method, ok := claimableDraw(game)
	if !ok {
		return "", false
	}
	if err := game.Draw(method); err != nil {
		return "", false
	}
	return classifyResult(game.Outcome(), game.Method()), true
}

// classifyResult orders outcomes by announcement priority: decisive
// results first, then the forced draws, then the claimed ones.
func classifyResult(outcome nchess.Outcome, method nchess.Method) Result {
	switch outcome {
	case nchess.WhiteWon:
		return ResultWhiteWins
	case nchess.BlackWon:
		return ResultBlackWins
	}
	switch method {
	case nchess.Stalemate:
		return ResultStalemate
	case nchess.InsufficientMaterial:
		return ResultInsufficient
	case nchess.SeventyFiveMoveRule:
		return ResultSeventyFive
	case nchess.FivefoldRepetition:
		return ResultFivefold
	case nchess.FiftyMoveRule:
		return ResultFifty
	case nchess.ThreefoldRepetition:
		return ResultThreefold
	}
	return ResultDraw
}
