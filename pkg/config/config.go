package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	StorageSQLite     = "sqlite"
	StorageClickHouse = "clickhouse"
	StorageMemory     = "memory"
)

type Config struct {
	Environment string `yaml:"environment"`
	// Instance tags published events; defaults to the hostname.
	Instance string `yaml:"instance"`
	Server   struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowOrigins    []string      `yaml:"allow_origins"`
		SlowRequest     time.Duration `yaml:"slow_request"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
		// Collect ships deduplicated error logs through Kafka.
		Collect         bool          `yaml:"collect"`
		CollectTopic    string        `yaml:"collect_topic"`
		CollectInterval time.Duration `yaml:"collect_interval"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Cache struct {
		ResponseTTL  time.Duration `yaml:"response_ttl"`
		RealtimeTTL  time.Duration `yaml:"realtime_ttl"`
		SeriesTTL    time.Duration `yaml:"series_ttl"`
		QuoteTTL     time.Duration `yaml:"quote_ttl"`
		StaleTTL     time.Duration `yaml:"stale_ttl"`
		SingleFlight bool          `yaml:"single_flight"`
	} `yaml:"cache"`
	Upstream struct {
		Timeout         time.Duration `yaml:"timeout"`
		Attempts        int           `yaml:"attempts"`
		MaxConcurrency  int           `yaml:"max_concurrency"`
		UserAgent       string        `yaml:"user_agent"`
		FearGreedURL    string        `yaml:"fear_greed_url"`
		ForwardPEURL    string        `yaml:"forward_pe_url"`
		ConstituentsURL string        `yaml:"constituents_url"`
		ETFCatalogURL   string        `yaml:"etf_catalog_url"`
	} `yaml:"upstream"`
	Symbols []string `yaml:"symbols"`
	Refresh struct {
		Enabled       bool          `yaml:"enabled"`
		Specs         []string      `yaml:"specs"`
		RunOnStart    bool          `yaml:"run_on_start"`
		SymbolTimeout time.Duration `yaml:"symbol_timeout"`
		LockTTL       time.Duration `yaml:"lock_ttl"`
		HistoryDays   int           `yaml:"history_days"`
	} `yaml:"refresh"`
	Storage struct {
		Backend string `yaml:"backend"`
		SQLite  struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		ClickHouse struct {
			Host        string        `yaml:"host"`
			Port        int           `yaml:"port"`
			Database    string        `yaml:"database"`
			User        string        `yaml:"user"`
			Password    string        `yaml:"password"`
			Table       string        `yaml:"table"`
			UseHTTP     bool          `yaml:"use_http"`
			DialTimeout time.Duration `yaml:"dial_timeout"`
			ReadTimeout time.Duration `yaml:"read_timeout"`
		} `yaml:"clickhouse"`
	} `yaml:"storage"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic"`
		RequiredAcks int           `yaml:"required_acks"`
		Compression  string        `yaml:"compression"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		Async        bool          `yaml:"async"`
		Consumer     struct {
			Enabled  bool   `yaml:"enabled"`
			GroupID  string `yaml:"group_id"`
			RetryMax int    `yaml:"retry_max"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Realtime struct {
		PushInterval time.Duration `yaml:"push_interval"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		MaxSymbols   int           `yaml:"max_symbols"`
	} `yaml:"realtime"`
	Admin struct {
		RateBurst     int     `yaml:"rate_burst"`
		RatePerMinute float64 `yaml:"rate_per_minute"`
	} `yaml:"admin"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("REDIS_ADDR port: %w", err)
		}
		c.Redis.Enabled = true
		c.Redis.Host, c.Redis.Port = host, p
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := getenv("ETF_CATALOG_URL"); v != "" {
		c.Upstream.ETFCatalogURL = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Instance == "" {
		if h, err := os.Hostname(); err == nil {
			c.Instance = h
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SlowRequest == 0 {
		c.Server.SlowRequest = 2 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.CollectTopic == "" {
		c.Log.CollectTopic = "capitaldash.logs"
	}
	if c.Cache.ResponseTTL == 0 {
		c.Cache.ResponseTTL = 60 * time.Second
	}
	if c.Cache.RealtimeTTL == 0 {
		c.Cache.RealtimeTTL = 5 * time.Minute
	}
	if c.Cache.SeriesTTL == 0 {
		c.Cache.SeriesTTL = 12 * time.Hour
	}
	if c.Cache.QuoteTTL == 0 {
		c.Cache.QuoteTTL = 15 * time.Second
	}
	if c.Cache.StaleTTL == 0 {
		c.Cache.StaleTTL = 72 * time.Hour
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 10 * time.Second
	}
	if c.Upstream.Attempts == 0 {
		c.Upstream.Attempts = 2
	}
	if c.Upstream.MaxConcurrency == 0 {
		c.Upstream.MaxConcurrency = 6
	}
	if len(c.Refresh.Specs) == 0 {
		// 16:15 and 18:15 New York time on weekdays
		c.Refresh.Specs = []string{"0 15 16 * * 1-5", "0 15 18 * * 1-5"}
	}
	if c.Refresh.SymbolTimeout == 0 {
		c.Refresh.SymbolTimeout = 30 * time.Second
	}
	if c.Refresh.LockTTL == 0 {
		c.Refresh.LockTTL = 15 * time.Minute
	}
	if c.Refresh.HistoryDays == 0 {
		c.Refresh.HistoryDays = 1826
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageSQLite
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "data/capitaldash.db"
	}
	if c.Storage.ClickHouse.Database == "" {
		c.Storage.ClickHouse.Database = "default"
	}
	if c.Storage.ClickHouse.Table == "" {
		c.Storage.ClickHouse.Table = "daily_bars"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "capitaldash"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "capitaldash.events"
	}
	if c.Kafka.RequiredAcks == 0 {
		c.Kafka.RequiredAcks = 1
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "snappy"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "capitaldash-" + c.Instance
	}
	if c.Realtime.PushInterval == 0 {
		c.Realtime.PushInterval = 5 * time.Second
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Realtime.MaxSymbols == 0 {
		c.Realtime.MaxSymbols = 25
	}
	if c.Admin.RateBurst == 0 {
		c.Admin.RateBurst = 2
	}
	if c.Admin.RatePerMinute == 0 {
		c.Admin.RatePerMinute = 1
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Backend {
	case StorageSQLite, StorageClickHouse, StorageMemory:
	default:
		return fmt.Errorf("storage.backend must be 'sqlite', 'clickhouse' or 'memory', got '%s'", c.Storage.Backend)
	}
	if c.Storage.Backend == StorageClickHouse && c.Storage.ClickHouse.Host == "" {
		return fmt.Errorf("storage.clickhouse.host is required")
	}
	ttls := map[string]time.Duration{
		"cache.response_ttl": c.Cache.ResponseTTL,
		"cache.realtime_ttl": c.Cache.RealtimeTTL,
		"cache.series_ttl":   c.Cache.SeriesTTL,
		"cache.quote_ttl":    c.Cache.QuoteTTL,
		"cache.stale_ttl":    c.Cache.StaleTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, spec := range c.Refresh.Specs {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("refresh.specs %q: %w", spec, err)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
