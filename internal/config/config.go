package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TierConfig describes one opponent difficulty tier: which UCI binary to
// run, how to configure it, and how long it may search.
type TierConfig struct {
	EnginePath string
	Options    map[string]string

	// Search limit. MoveTimeSec <= 0 means "use the 1s default";
	// Depth/Nodes <= 0 mean "omit from the go command".
	MoveTimeSec float64
	Depth       int
	Nodes       int

	PoolSize int
}

type AppConfig struct {
	GatewayBaseURL string
	GatewayWSURL   string
	GatewayToken   string

	BotPrefix string

	RedisURL    string
	DatabaseURL string

	ImportURL string

	DefaultVotingTimeSec int

	Tiers map[string]TierConfig
}

var tierNames = []string{"easy", "normal", "hard"}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BotPrefix:            "chess",
		ImportURL:            "https://lichess.org/import",
		DefaultVotingTimeSec: 300,
		Tiers:                map[string]TierConfig{},
	}

	cfg.GatewayBaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	cfg.GatewayWSURL = strings.TrimSpace(os.Getenv("GATEWAY_WS_URL"))
	cfg.GatewayToken = strings.TrimSpace(os.Getenv("GATEWAY_TOKEN"))

	if v := strings.TrimSpace(os.Getenv("BOT_PREFIX")); v != "" {
		cfg.BotPrefix = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("IMPORT_URL")); v != "" {
		cfg.ImportURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_VOTING_TIME")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("DEFAULT_VOTING_TIME: invalid value %q", v)
		}
		cfg.DefaultVotingTimeSec = n
	}

	fallbackEngine := strings.TrimSpace(os.Getenv("ENGINE_PATH"))
	for _, name := range tierNames {
		tc, err := loadTier(name, fallbackEngine)
		if err != nil {
			return nil, err
		}
		cfg.Tiers[name] = tc
	}

	if cfg.GatewayBaseURL == "" {
		return nil, errors.New("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayWSURL == "" {
		return nil, errors.New("GATEWAY_WS_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

func loadTier(name, fallbackEngine string) (TierConfig, error) {
	prefix := "ENGINE_" + strings.ToUpper(name) + "_"
	tc := TierConfig{
		EnginePath: fallbackEngine,
		Options:    map[string]string{},
		PoolSize:   1,
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "PATH")); v != "" {
		tc.EnginePath = v
	}
	if tc.EnginePath == "" {
		return tc, fmt.Errorf("%sPATH or ENGINE_PATH is required", prefix)
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "TIME")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return tc, fmt.Errorf("%sTIME: invalid value %q", prefix, v)
		}
		tc.MoveTimeSec = f
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "DEPTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return tc, fmt.Errorf("%sDEPTH: invalid value %q", prefix, v)
		}
		tc.Depth = n
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "NODES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return tc, fmt.Errorf("%sNODES: invalid value %q", prefix, v)
		}
		tc.Nodes = n
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "POOL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tc.PoolSize = n
		}
	}
	// Comma-separated name=value pairs, e.g. "Skill Level=3,Threads=1".
	if v := strings.TrimSpace(os.Getenv(prefix + "OPTIONS")); v != "" {
		for _, part := range strings.Split(v, ",") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				return tc, fmt.Errorf("%sOPTIONS: malformed pair %q", prefix, part)
			}
			k := strings.TrimSpace(kv[0])
			if k == "" {
				return tc, fmt.Errorf("%sOPTIONS: empty option name in %q", prefix, part)
			}
			tc.Options[k] = strings.TrimSpace(kv[1])
		}
	}
	return tc, nil
}
