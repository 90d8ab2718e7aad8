package coop

import (
	"math/rand"
	"sort"
)

// pickWinner selects the winning token from a tally. Each token scores
// its ballot count plus uniform jitter in [0,1), so a strict count
// majority always wins and jitter only breaks ties. Tokens are scored in
// sorted order, making the outcome a pure function of tally and seed.
func pickWinner(tally map[string]int, r *rand.Rand) string {
	if len(tally) == 0 {
		return ""
	}
	tokens := make([]string, 0, len(tally))
	for token := range tally {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	var (
		winner    string
		bestScore float64
	)
	for _, token := range tokens {
		score := float64(tally[token]) + r.Float64()
		if winner == "" || score > bestScore {
			winner = token
			bestScore = score
		}
	}
	return winner
}
