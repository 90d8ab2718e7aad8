package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkrebs/coopchess/internal/archive"
	"github.com/mkrebs/coopchess/internal/bot"
	appcfg "github.com/mkrebs/coopchess/internal/config"
	"github.com/mkrebs/coopchess/internal/coop"
	"github.com/mkrebs/coopchess/internal/engine"
	"github.com/mkrebs/coopchess/internal/gateway"
	"github.com/mkrebs/coopchess/internal/msgcat"
	"github.com/mkrebs/coopchess/internal/obslog"
	"github.com/mkrebs/coopchess/internal/render"
	"github.com/mkrebs/coopchess/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.GatewayToken != "" {
			h["Authorization"] = "Bearer " + cfg.GatewayToken
		}
		return h
	}

	client := gateway.NewClient(cfg.GatewayBaseURL, gateway.WithHeaderProvider(headers))

	ws := gateway.NewSocket(cfg.GatewayWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state gateway.SocketState) {
		log.Printf("WS state: %s", state)
	})

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("redis connect error: %v", err)
	}
	pingCancel()
	snapshots := store.NewSnapshotStore(rdb)

	// Without a database the archive falls back to process memory; the
	// lichess export link still goes out either way.
	var repo archive.Repository
	if cfg.DatabaseURL != "" {
		db, err := archive.OpenDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive db error: %v", err)
		}
		defer db.Close()
		repo = archive.NewRepository(db)
	}

	adapters := make(map[engine.Tier]engine.Adapter, len(cfg.Tiers))
	uciAdapters := make([]*engine.UCIAdapter, 0, len(cfg.Tiers))
	for name, tierCfg := range cfg.Tiers {
		tier, ok := engine.ParseTier(name)
		if !ok {
			log.Fatalf("unknown tier in config: %s", name)
		}
		adapter, err := engine.NewUCIAdapter(tier, tierCfg)
		if err != nil {
			log.Fatalf("engine init error (%s): %v", name, err)
		}
		adapters[tier] = adapter
		uciAdapters = append(uciAdapters, adapter)
	}

	catalog, err := msgcat.New(os.Getenv("MESSAGES_DIR"))
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}
	presenter := bot.NewPresenter(client, catalog)

	manager, err := coop.NewManager(coop.Deps{
		Adapters:   adapters,
		Snapshots:  snapshots,
		Repository: repo,
		Exporter:   archive.NewHTTPExporter(cfg.ImportURL),
		Renderer:   render.NewBoardRenderer(),
		Notifier:   presenter,
		Config: coop.Config{
			DefaultVotingDelay: time.Duration(cfg.DefaultVotingTimeSec) * time.Second,
		},
	})
	if err != nil {
		log.Fatalf("manager init error: %v", err)
	}

	router := bot.NewRouter(cfg.BotPrefix, manager, client, catalog)
	ws.OnMessage(func(msg *gateway.Message) {
		// Keep the socket loop free of game work.
		go router.HandleMessage(context.Background(), msg)
	})

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.Restore(restoreCtx); err != nil {
		log.Printf("session restore error: %v", err)
	}
	restoreCancel()

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatalf("ws connect error: %v", err)
	}
	cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_ = ws.Close(context.Background())
	manager.Close()
	for _, adapter := range uciAdapters {
		_ = adapter.Close()
	}
	_ = rdb.Close()
}
