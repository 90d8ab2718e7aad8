package coop

import (
	"math/rand"
	"testing"
)

func TestPickWinnerMajorityAlwaysWins(t *testing.T) {
	tally := map[string]int{"e2e4": 2, "d2d4": 1, "resign": 1}
	for seed := int64(0); seed < 50; seed++ {
		got := pickWinner(tally, rand.New(rand.NewSource(seed)))
		if got != "e2e4" {
			t.Fatalf("seed %d: got %q, want e2e4", seed, got)
		}
	}
}

func TestPickWinnerTieIsDeterministicPerSeed(t *testing.T) {
	tally := map[string]int{"e2e4": 1, "d2d4": 1, "g1f3": 1}
	first := pickWinner(tally, rand.New(rand.NewSource(7)))
	for i := 0; i < 10; i++ {
		got := pickWinner(tally, rand.New(rand.NewSource(7)))
		if got != first {
			t.Fatalf("same seed picked %q then %q", first, got)
		}
	}
	if _, ok := tally[first]; !ok {
		t.Fatalf("winner %q not in tally", first)
	}
}

func TestPickWinnerEmptyTally(t *testing.T) {
	if got := pickWinner(nil, rand.New(rand.NewSource(1))); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
