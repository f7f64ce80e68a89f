package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/scroll-pager/pkg/logging"
	"github.com/Sternrassler/scroll-pager/pkg/pagecache"
	"github.com/Sternrassler/scroll-pager/pkg/pager"
)

// envPrefix namespaces every environment variable, e.g. PAGER_PORT.
const envPrefix = "PAGER"

type config struct {
	Port        string
	UpstreamURL string
	ItemsField  string
	SearchParam string
	UserAgent   string

	// RedisURL enables the page cache when set.
	RedisURL string
	CacheTTL time.Duration

	// RateLimit shares upstream quota state through Redis.
	RateLimit bool

	Pager pager.Config
	Log   logging.Config
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("items_field", "")
	v.SetDefault("search_param", "text")
	v.SetDefault("user_agent", "scroll-pager/1.0")
	v.SetDefault("redis_url", "")
	v.SetDefault("cache_ttl", pagecache.DefaultTTL)
	v.SetDefault("rate_limit", true)
	v.SetDefault("page_size", pager.DefaultPageSize)
	v.SetDefault("cached_page_limit", pager.DefaultCachedPageLimit)
	v.SetDefault("debounce", pager.DefaultDebounceInterval)
	v.SetDefault("max_pages", pager.DefaultMaxPages)
	v.SetDefault("subscriber_buffer", pager.DefaultSubscriberBuffer)
	v.SetDefault("log_level", string(logging.LevelInfo))
	v.SetDefault("log_pretty", false)
	return v
}

func loadConfig(v *viper.Viper) (config, error) {
	level, err := logging.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return config{}, err
	}

	cfg := config{
		Port:        v.GetString("port"),
		UpstreamURL: v.GetString("upstream_url"),
		ItemsField:  v.GetString("items_field"),
		SearchParam: v.GetString("search_param"),
		UserAgent:   v.GetString("user_agent"),
		RedisURL:    v.GetString("redis_url"),
		CacheTTL:    v.GetDuration("cache_ttl"),
		RateLimit:   v.GetBool("rate_limit"),
		Pager: pager.Config{
			PageSize:         v.GetInt("page_size"),
			CachedPageLimit:  v.GetInt("cached_page_limit"),
			DebounceInterval: v.GetDuration("debounce"),
			MaxPages:         v.GetInt("max_pages"),
			SubscriberBuffer: v.GetInt("subscriber_buffer"),
		},
		Log: logging.Config{
			Level:  level,
			Pretty: v.GetBool("log_pretty"),
		},
	}

	if cfg.UpstreamURL == "" {
		return config{}, fmt.Errorf("%s_UPSTREAM_URL is required", envPrefix)
	}
	if cfg.SearchParam == "" {
		return config{}, fmt.Errorf("%s_SEARCH_PARAM must not be empty", envPrefix)
	}
	if err := cfg.Pager.Validate(); err != nil {
		return config{}, fmt.Errorf("invalid pager config: %w", err)
	}
	return cfg, nil
}
