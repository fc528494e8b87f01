package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"indexwatch/internal/provider/ratelimit"
)

type Server struct {
	Port              string `json:"port" env:"PORT"`
	RequestTimeoutSec int    `json:"request_timeout_sec" env:"REQUEST_TIMEOUT_SEC"`

	// RefreshRatePerSec throttles API requests per client IP; 0 disables it.
	RefreshRatePerSec float64 `json:"refresh_rate_per_sec" env:"REFRESH_RATE_PER_SEC"`
	RefreshBurst      int     `json:"refresh_burst" env:"REFRESH_BURST"`
}

type AlphaVantage struct {
	APIKey               string   `json:"api_key" env:"ALPHA_VANTAGE_API_KEY"`
	BaseURL              string   `json:"base_url" env:"ALPHA_VANTAGE_BASE_URL"`
	MinRequestIntervalMS int      `json:"min_request_interval_ms" env:"MIN_REQUEST_INTERVAL_MS"`
	Symbols              []string `json:"symbols" env:"TRACKED_SYMBOLS" envSeparator:","`
}

type Cache struct {
	TTLSeconds        int `json:"ttl_sec" env:"CACHE_TTL_SECONDS"`
	HistoryTTLSeconds int `json:"history_ttl_sec" env:"HISTORY_CACHE_TTL_SECONDS"`
	SweepIntervalSec  int `json:"sweep_interval_sec" env:"CACHE_SWEEP_INTERVAL_SEC"`
}

type Quota struct {
	MaxRequestsPerMinute int `json:"max_requests_per_minute" env:"MAX_REQUESTS_PER_MINUTE"`
	ShortWindowSec       int `json:"short_window_sec" env:"SHORT_WINDOW_SEC"`
	MaxRequestsPerMonth  int `json:"max_requests_per_month" env:"MAX_REQUESTS_PER_MONTH"`
	LongWindowSec        int `json:"long_window_sec" env:"LONG_WINDOW_SEC"`

	// RedisURL moves quota counters into Redis when set.
	RedisURL string `json:"redis_url" env:"REDIS_URL"`
}

type Broadcast struct {
	PollIntervalSec      int `json:"poll_interval_sec" env:"POLL_INTERVAL_SEC"`
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec" env:"HEARTBEAT_INTERVAL_SEC"`
}

type Log struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

type Config struct {
	Server       Server       `json:"server"`
	AlphaVantage AlphaVantage `json:"alpha_vantage"`
	Cache        Cache        `json:"cache"`
	Quota        Quota        `json:"quota"`
	Broadcast    Broadcast    `json:"broadcast"`
	Log          Log          `json:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "3000", RequestTimeoutSec: 10, RefreshRatePerSec: 1, RefreshBurst: 5},
		AlphaVantage: AlphaVantage{
			BaseURL:              "https://www.alphavantage.co",
			MinRequestIntervalMS: 1000,
			Symbols:              []string{"SPY", "DIA", "QQQ", "IWM", "VTI"},
		},
		Cache: Cache{TTLSeconds: 60, HistoryTTLSeconds: 300, SweepIntervalSec: 300},
		Quota: Quota{
			MaxRequestsPerMinute: 20,
			ShortWindowSec:       60,
			MaxRequestsPerMonth:  500,
			LongWindowSec:        30 * 24 * 60 * 60,
		},
		Broadcast: Broadcast{PollIntervalSec: 120, HeartbeatIntervalSec: 30},
		Log:       Log{Level: "info", Format: "console"},
	}
}

// Load reads JSON config from path. If path is empty, CONFIG_FILE and then
// ./config.json are tried; a missing file means defaults. A .env file, when
// present, is loaded into the environment, and the environment overrides
// whatever the file set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with. A missing API key is
// not an error here; requests fail with a configuration error instead.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Server.RequestTimeoutSec <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT_SEC must be positive"))
	}
	if c.Server.RefreshRatePerSec < 0 {
		errs = append(errs, errors.New("REFRESH_RATE_PER_SEC must not be negative"))
	}
	if c.Server.RefreshRatePerSec > 0 && c.Server.RefreshBurst <= 0 {
		errs = append(errs, errors.New("REFRESH_BURST must be positive when refresh throttling is on"))
	}
	if c.AlphaVantage.MinRequestIntervalMS < 0 {
		errs = append(errs, errors.New("MIN_REQUEST_INTERVAL_MS must not be negative"))
	}
	if len(c.AlphaVantage.Symbols) == 0 {
		errs = append(errs, errors.New("TRACKED_SYMBOLS must name at least one symbol"))
	}
	if c.Cache.TTLSeconds <= 0 || c.Cache.HistoryTTLSeconds <= 0 || c.Cache.SweepIntervalSec <= 0 {
		errs = append(errs, errors.New("cache TTLs and sweep interval must be positive"))
	}
	if c.Quota.MaxRequestsPerMinute <= 0 || c.Quota.ShortWindowSec <= 0 {
		errs = append(errs, errors.New("MAX_REQUESTS_PER_MINUTE and SHORT_WINDOW_SEC must be positive"))
	}
	if c.Quota.MaxRequestsPerMonth <= 0 || c.Quota.LongWindowSec <= 0 {
		errs = append(errs, errors.New("MAX_REQUESTS_PER_MONTH and LONG_WINDOW_SEC must be positive"))
	}
	if c.Broadcast.PollIntervalSec <= 0 || c.Broadcast.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SEC and HEARTBEAT_INTERVAL_SEC must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (s Server) RequestTimeout() time.Duration { return seconds(s.RequestTimeoutSec) }

func (a AlphaVantage) MinRequestInterval() time.Duration {
	return time.Duration(a.MinRequestIntervalMS) * time.Millisecond
}

func (c Cache) TTL() time.Duration           { return seconds(c.TTLSeconds) }
func (c Cache) HistoryTTL() time.Duration    { return seconds(c.HistoryTTLSeconds) }
func (c Cache) SweepInterval() time.Duration { return seconds(c.SweepIntervalSec) }

// Limits converts the quota settings into limiter windows.
func (q Quota) Limits() ratelimit.Limits {
	return ratelimit.Limits{
		Short: ratelimit.Window{Limit: q.MaxRequestsPerMinute, Duration: seconds(q.ShortWindowSec)},
		Long:  ratelimit.Window{Limit: q.MaxRequestsPerMonth, Duration: seconds(q.LongWindowSec)},
	}
}

func (b Broadcast) PollInterval() time.Duration      { return seconds(b.PollIntervalSec) }
func (b Broadcast) HeartbeatInterval() time.Duration { return seconds(b.HeartbeatIntervalSec) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
