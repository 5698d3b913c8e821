package main

import (
	"fmt"
	"net/http"

	"github.com/vitos/brokerage_gateway/internal/config"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/broker"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/logger"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/marketdata"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/storage"
	"github.com/vitos/brokerage_gateway/internal/usecase"
	"github.com/vitos/brokerage_gateway/internal/web"
	"go.uber.org/zap"
)

// App holds the wired dependencies shared by every subcommand.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     domain.LedgerStore
	Broker    *broker.AlpacaClient
	Orders    *usecase.OrderService
	Positions *usecase.PositionService
	Analytics *usecase.AnalyticsService
	Market    *usecase.MarketService
}

func newApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewFileLogger(cfg.Logging.Level, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		log.Error("Failed to open ledger store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
		return nil, err
	}

	// One client per process, handed to every upstream adapter.
	httpClient := &http.Client{Timeout: cfg.Broker.Timeout}

	alpaca := broker.NewAlpacaClient(broker.AlpacaOptions{
		APIKey:          cfg.Broker.APIKey,
		APISecret:       cfg.Broker.APISecret,
		BaseURL:         cfg.Broker.BaseURL,
		DataURL:         cfg.Broker.DataURL,
		RateLimitPerSec: cfg.Broker.RateLimitPerSec,
		RateBurst:       cfg.Broker.RateBurst,
	}, httpClient)
	coingecko := marketdata.NewCoinGeckoClient(marketdata.CoinGeckoOptions{
		BaseURL:         cfg.CoinGecko.BaseURL,
		RateLimitPerSec: cfg.CoinGecko.RateLimitPerSec,
		RateBurst:       cfg.CoinGecko.RateBurst,
	}, httpClient)
	alphaVantage := marketdata.NewAlphaVantageClient(marketdata.AlphaVantageOptions{
		APIKey:          cfg.AlphaVantage.APIKey,
		BaseURL:         cfg.AlphaVantage.BaseURL,
		RateLimitPerSec: cfg.AlphaVantage.RateLimitPerSec,
		RateBurst:       cfg.AlphaVantage.RateBurst,
	}, httpClient)

	assets := usecase.NewAssetResolver(store, alpaca, log)
	positions := usecase.NewPositionService(store, assets, alpaca, log)
	orders := usecase.NewOrderService(store, store, assets, alpaca, positions, log)
	market := usecase.NewMarketService(alpaca, coingecko, alphaVantage, store, cfg.Cache.TTL, log)
	analytics := usecase.NewAnalyticsService(store, store, positions, market,
		cfg.Dashboard.Watchlist, cfg.Dashboard.Indices, cfg.Cache.TTL, log)

	return &App{
		Config:    cfg,
		Logger:    log,
		Store:     store,
		Broker:    alpaca,
		Orders:    orders,
		Positions: positions,
		Analytics: analytics,
		Market:    market,
	}, nil
}

func (a *App) services() web.Services {
	return web.Services{
		Orders:    a.Orders,
		Positions: a.Positions,
		Analytics: a.Analytics,
		Market:    a.Market,
	}
}

func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close ledger store", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
