// Package config loads and watches the application configuration file.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"klinesim/internal/logger"
	"klinesim/internal/market"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

type ExchangeConfig struct {
	Name            string        `mapstructure:"name"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	Testnet         bool          `mapstructure:"testnet"`
	RESTBaseURL     string        `mapstructure:"rest_base_url"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type ResultsConfig struct {
	Path string `mapstructure:"path"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type BacktestConfig struct {
	BaseInterval string             `mapstructure:"base_interval"`
	Profiles     string             `mapstructure:"profiles"`
	Portfolio    map[string]float64 `mapstructure:"portfolio"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Results  ResultsConfig  `mapstructure:"results"`
	API      APIConfig      `mapstructure:"api"`
	Backtest BacktestConfig `mapstructure:"backtest"`
}

// Loader keeps the active config and reloads it when the file changes.
type Loader struct {
	v *viper.Viper

	mu        sync.RWMutex
	current   Config
	listeners []func(Config)
}

// Load reads the config file, applies defaults and validates.
func Load(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)
	return &Loader{v: v, current: cfg}, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return Config{}, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "data/candles"
	}
	if c.Results.Path == "" {
		c.Results.Path = "data/runs.db"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":9991"
	}
	if c.Backtest.BaseInterval == "" {
		c.Backtest.BaseInterval = "1m"
	}
	if len(c.Backtest.Portfolio) == 0 {
		c.Backtest.Portfolio = map[string]float64{"USDT": 10000}
	}
}

func (c Config) validate() error {
	if _, err := market.ParseInterval(c.Backtest.BaseInterval); err != nil {
		return fmt.Errorf("backtest.base_interval: %w", err)
	}
	if c.Exchange.Name != "binance" {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}
	if c.Exchange.RateLimitPerMin < 0 {
		return fmt.Errorf("exchange.rate_limit_per_min cannot be negative")
	}
	for asset, balance := range c.Backtest.Portfolio {
		if balance < 0 {
			return fmt.Errorf("backtest.portfolio.%s cannot be negative", asset)
		}
	}
	return nil
}

// Current returns the active config snapshot.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Watch reloads the file on change. A reload that fails validation keeps the
// previous config active.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.v.ReadInConfig(); err != nil {
			logger.Warnf("[config] reload %s: %v", evt.Name, err)
			return
		}
		cfg, err := decode(l.v)
		if err != nil {
			logger.Warnf("[config] reload %s rejected: %v", evt.Name, err)
			return
		}
		l.mu.Lock()
		l.current = cfg
		listeners := append(([]func(Config))(nil), l.listeners...)
		l.mu.Unlock()
		logger.SetLevel(cfg.App.LogLevel)
		logger.Infof("[config] reloaded from %s", evt.Name)
		for _, fn := range listeners {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}
