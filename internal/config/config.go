package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"crossbt/internal/market"
)

// Config 是进程级配置。字段标签沿用 toml 命名，配置文件本身是 YAML，
// viper 统一按 TagName 解码。
type Config struct {
	App      AppConfig      `toml:"app"`
	Binance  BinanceConfig  `toml:"binance"`
	Fetch    FetchConfig    `toml:"fetch"`
	Backtest BacktestConfig `toml:"backtest"`
	Store    StoreConfig    `toml:"store"`
	Server   ServerConfig   `toml:"server"`
	Profiles ProfilesConfig `toml:"profiles"`
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
}

type BinanceConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c BinanceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type FetchConfig struct {
	Source           string `toml:"source"`
	Interval         string `toml:"interval"`
	Limit            int    `toml:"limit"`
	MaxAttempts      int    `toml:"max_attempts"`
	InterPageDelayMS int    `toml:"inter_page_delay_ms"`
	RateLimitPerMin  int    `toml:"rate_limit_per_min"`
	MaxConcurrent    int    `toml:"max_concurrent"`
}

func (c FetchConfig) InterPageDelay() time.Duration {
	return time.Duration(c.InterPageDelayMS) * time.Millisecond
}

type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
}

type StoreConfig struct {
	DataDir  string `toml:"data_dir"`
	RunsPath string `toml:"runs_path"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type ProfilesConfig struct {
	Path string `toml:"path"`
}

// 缺省值与上游一致：现货 REST、30m、整页 1000、八次重试、页间 200ms。
const (
	DefaultBaseURL        = "https://api.binance.com"
	DefaultTimeoutSeconds = 15
	DefaultSource         = "rest"
	DefaultInterval       = "30m"
	DefaultLimit          = 1000
	DefaultMaxAttempts    = 8
	DefaultInterPageMS    = 200
	DefaultRatePerMin     = 1200
	DefaultMaxConcurrent  = 2
	DefaultCapital        = 10000
	DefaultDataDir        = "data/candles"
	DefaultRunsPath       = "data/runs.db"
	DefaultServerAddr     = ":9991"
)

// Load 读取 YAML 配置；path 为空时使用全部缺省值。
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败 (%s): %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Binance.BaseURL == "" {
		c.Binance.BaseURL = DefaultBaseURL
	}
	if c.Binance.TimeoutSeconds <= 0 {
		c.Binance.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Fetch.Source == "" {
		c.Fetch.Source = DefaultSource
	}
	if c.Fetch.Interval == "" {
		c.Fetch.Interval = DefaultInterval
	}
	if c.Fetch.Limit == 0 {
		c.Fetch.Limit = DefaultLimit
	}
	if c.Fetch.MaxAttempts == 0 {
		c.Fetch.MaxAttempts = DefaultMaxAttempts
	}
	if c.Fetch.InterPageDelayMS == 0 {
		c.Fetch.InterPageDelayMS = DefaultInterPageMS
	}
	if c.Fetch.RateLimitPerMin == 0 {
		c.Fetch.RateLimitPerMin = DefaultRatePerMin
	}
	if c.Fetch.MaxConcurrent == 0 {
		c.Fetch.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = DefaultCapital
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = DefaultDataDir
	}
	if c.Store.RunsPath == "" {
		c.Store.RunsPath = DefaultRunsPath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
}

func validate(c *Config) error {
	if c.Fetch.Limit < 1 || c.Fetch.Limit > 1000 {
		return fmt.Errorf("fetch.limit 必须在 [1,1000] 内: %d", c.Fetch.Limit)
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts 必须为正数: %d", c.Fetch.MaxAttempts)
	}
	if c.Fetch.InterPageDelayMS < 0 {
		return fmt.Errorf("fetch.inter_page_delay_ms 不能为负: %d", c.Fetch.InterPageDelayMS)
	}
	if _, err := market.ParseInterval(c.Fetch.Interval); err != nil {
		return fmt.Errorf("fetch.interval 非法: %w", err)
	}
	if c.Fetch.Source != "rest" && c.Fetch.Source != "sdk" {
		return fmt.Errorf("fetch.source 只支持 rest/sdk: %s", c.Fetch.Source)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital 必须为正数: %v", c.Backtest.InitialCapital)
	}
	return nil
}
