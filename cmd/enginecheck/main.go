package main

import (
	"context"
	"fmt"
	"log"
	"time"

	appcfg "github.com/mkrebs/coopchess/internal/config"
	"github.com/mkrebs/coopchess/internal/engine"
)

// Probes every configured engine tier with one search from the start
// position. Useful to verify binaries and pool options before deploying.
func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	for name, tierCfg := range cfg.Tiers {
		tier, ok := engine.ParseTier(name)
		if !ok {
			log.Printf("skip unknown tier %q", name)
			continue
		}
		adapter, err := engine.NewUCIAdapter(tier, tierCfg)
		if err != nil {
			log.Printf("%s: init error: %v", name, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		started := time.Now()
		move, err := adapter.Play(ctx, nil)
		cancel()
		if err != nil {
			log.Printf("%s: search error: %v", name, err)
		} else {
			fmt.Printf("%s ok: bestmove=%s in %s (path=%s)\n", name, move, time.Since(started).Round(time.Millisecond), tierCfg.EnginePath)
		}
		_ = adapter.Close()
	}
}
