package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Broker    BrokerConfig `yaml:"broker"`
	CoinGecko struct {
		BaseURL         string  `yaml:"base_url"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
		RateBurst       int     `yaml:"rate_burst"`
	} `yaml:"coingecko"`
	AlphaVantage struct {
		APIKey          string  `yaml:"api_key"`
		BaseURL         string  `yaml:"base_url"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
		RateBurst       int     `yaml:"rate_burst"`
	} `yaml:"alpha_vantage"`
	Cache struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Dashboard struct {
		Watchlist []string `yaml:"watchlist"`
		Indices   []string `yaml:"indices"`
	} `yaml:"dashboard"`
}

type BrokerConfig struct {
	APIKey          string        `yaml:"api_key"`
	APISecret       string        `yaml:"api_secret"`
	BaseURL         string        `yaml:"base_url"`
	DataURL         string        `yaml:"data_url"`
	StreamURL       string        `yaml:"stream_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateBurst       int           `yaml:"rate_burst"`
}

// Load reads the YAML file at path, applies environment overrides and fills
// defaults. A missing file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Broker.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		c.Broker.BaseURL = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		c.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "gateway.db"
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Broker.DataURL == "" {
		c.Broker.DataURL = "https://data.alpaca.markets"
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = 10 * time.Second
	}
	if c.Broker.RateLimitPerSec == 0 {
		c.Broker.RateLimitPerSec = 3
	}
	if c.Broker.RateBurst == 0 {
		c.Broker.RateBurst = 5
	}
	if c.CoinGecko.BaseURL == "" {
		c.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.CoinGecko.RateLimitPerSec == 0 {
		c.CoinGecko.RateLimitPerSec = 0.5
	}
	if c.CoinGecko.RateBurst == 0 {
		c.CoinGecko.RateBurst = 1
	}
	if c.AlphaVantage.BaseURL == "" {
		c.AlphaVantage.BaseURL = "https://www.alphavantage.co/query"
	}
	// Free tier: 5 calls per minute.
	if c.AlphaVantage.RateLimitPerSec == 0 {
		c.AlphaVantage.RateLimitPerSec = 5.0 / 60
	}
	if c.AlphaVantage.RateBurst == 0 {
		c.AlphaVantage.RateBurst = 1
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if len(c.Dashboard.Watchlist) == 0 {
		c.Dashboard.Watchlist = []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}
	}
	if len(c.Dashboard.Indices) == 0 {
		c.Dashboard.Indices = []string{"SPY", "QQQ", "DIA"}
	}
}
