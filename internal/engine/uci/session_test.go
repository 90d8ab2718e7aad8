package uci

import (
	"strings"
	"testing"
	"time"
)

func TestBuildPositionCommand(t *testing.T) {
	if got := buildPositionCommand(nil); got != "position startpos\n" {
		t.Fatalf("empty move list: got %q", got)
	}
	got := buildPositionCommand([]string{"e2e4", "e7e5"})
	if got != "position startpos moves e2e4 e7e5\n" {
		t.Fatalf("with moves: got %q", got)
	}
}

func TestBuildGoTokens(t *testing.T) {
	tokens, err := buildGoTokens(Limits{MoveTimeMillis: 1000})
	if err != nil {
		t.Fatalf("movetime only: %v", err)
	}
	if got := strings.Join(tokens, " "); got != "go movetime 1000" {
		t.Fatalf("movetime only: got %q", got)
	}

	tokens, err = buildGoTokens(Limits{MoveTimeMillis: 500, Depth: 12, Nodes: 4096})
	if err != nil {
		t.Fatalf("all limits: %v", err)
	}
	joined := strings.Join(tokens, " ")
	for _, want := range []string{"depth 12", "movetime 500", "nodes 4096"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("all limits: %q missing from %q", want, joined)
		}
	}

	if _, err := buildGoTokens(Limits{}); err == nil {
		t.Fatal("empty limits should error")
	}
}

func TestComputeSearchTimeout(t *testing.T) {
	if got := computeSearchTimeout(Limits{MoveTimeMillis: 1000}); got != 9*time.Second {
		t.Fatalf("movetime timeout: got %v", got)
	}
	if got := computeSearchTimeout(Limits{Depth: 10}); got != 6*time.Second {
		t.Fatalf("shallow depth should floor at 6s: got %v", got)
	}
	if got := computeSearchTimeout(Limits{Depth: 100}); got != 20*time.Second {
		t.Fatalf("deep search should cap at 20s: got %v", got)
	}
}
