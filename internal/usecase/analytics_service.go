package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

const (
	recentTradesLimit = 10
	volumeWindowDays  = 30
	dashboardCacheKey = "dashboard"
)

// QuoteEntry is one dashboard quote; Error replaces Quote when the fetch failed.
type QuoteEntry struct {
	Symbol string        `json:"symbol"`
	Quote  *domain.Quote `json:"quote,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type PerformanceMetrics struct {
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalReturn        decimal.Decimal `json:"total_return"`
	TotalReturnPercent decimal.Decimal `json:"total_return_percent"`
}

type Dashboard struct {
	Portfolio      PortfolioSummary   `json:"portfolio"`
	RecentTrades   []*domain.Order    `json:"recent_trades"`
	MarketOverview []QuoteEntry       `json:"market_overview"`
	Performance    PerformanceMetrics `json:"performance"`
	Watchlist      []QuoteEntry       `json:"watchlist"`
	MarketStatus   MarketStatus       `json:"market_status"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// AnalyticsService answers the read-only reporting queries. Each method
// returns the error that stopped it; the HTTP layer decides whether to
// substitute zeroed payloads.
type AnalyticsService struct {
	orders    domain.OrderRepository
	positions domain.PositionRepository
	portfolio *PositionService
	market    *MarketService
	watchlist []string
	indices   []string
	dashboard *ttlCache[*Dashboard]
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewAnalyticsService(
	orders domain.OrderRepository,
	positions domain.PositionRepository,
	portfolio *PositionService,
	market *MarketService,
	watchlist, indices []string,
	ttl time.Duration,
	logger *zap.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		orders:    orders,
		positions: positions,
		portfolio: portfolio,
		market:    market,
		watchlist: watchlist,
		indices:   indices,
		dashboard: newTTLCache[*Dashboard](ttl),
		logger:    logger,
		timeNow:   time.Now,
	}
}

func (s *AnalyticsService) Performance(ctx context.Context, days int) (Performance, error) {
	if days <= 0 {
		days = 30
	}
	positions, err := s.positions.ListPositions(ctx)
	if err != nil {
		return ComputePerformance(nil, days), err
	}
	return ComputePerformance(positions, days), nil
}

func (s *AnalyticsService) Diversification(ctx context.Context) (Diversification, error) {
	positions, err := s.positions.ListPositions(ctx)
	if err != nil {
		return ComputeDiversification(nil), err
	}
	return ComputeDiversification(positions), nil
}

// TradingStats covers orders created from the start of from's day through the
// end of to's day. Zero bounds default to the last 30 days.
func (s *AnalyticsService) TradingStats(ctx context.Context, from, to time.Time) (TradingStats, error) {
	now := s.timeNow().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -volumeWindowDays)
	}
	from = startOfDay(from)
	to = startOfDay(to)
	if to.Before(from) {
		verr := domain.NewValidationError()
		verr.Add("to", "must not be before from")
		return ComputeTradingStats(nil, from, to), verr
	}

	orders, err := s.orders.ListOrdersBetween(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return ComputeTradingStats(nil, from, to), err
	}
	return ComputeTradingStats(orders, from, to), nil
}

// Analytics returns what could be computed together with the first failure.
func (s *AnalyticsService) Analytics(ctx context.Context) (Analytics, error) {
	now := s.timeNow().UTC()
	end := now.Add(time.Second)
	out := Analytics{
		TradingVolume:    ComputeDailyVolume(nil),
		WinRateNote:      WinRateNote,
		SectorAllocation: map[string]SectorWeight{},
		RiskMetrics:      ComputeRiskMetrics(nil),
		MonthlyActivity:  ComputeMonthlyActivity(nil, now),
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	recent, err := s.orders.ListOrdersBetween(ctx, startOfDay(now.AddDate(0, 0, -volumeWindowDays)), end)
	keep(err)
	if err == nil {
		out.TradingVolume = ComputeDailyVolume(recent)
	}

	positions, err := s.positions.ListPositions(ctx)
	keep(err)
	if err == nil {
		out.SectorAllocation = ComputeSectorAllocation(positions)
		out.RiskMetrics = ComputeRiskMetrics(positions)
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -5, 0)
	history, err := s.orders.ListOrdersBetween(ctx, monthStart, end)
	keep(err)
	if err == nil {
		out.MonthlyActivity = ComputeMonthlyActivity(history, now)
	}

	if firstErr != nil {
		s.logger.Warn("Analytics computed partially", zap.Error(firstErr))
	}
	return out, firstErr
}

// Dashboard composes the overview page. Every section degrades on its own,
// so the result is always usable. Results are cached for the configured TTL.
func (s *AnalyticsService) Dashboard(ctx context.Context) *Dashboard {
	if d, ok := s.dashboard.Get(dashboardCacheKey); ok {
		return d
	}

	d := &Dashboard{
		RecentTrades: []*domain.Order{},
		MarketStatus: s.market.MarketStatus(),
		GeneratedAt:  s.timeNow().UTC(),
	}

	if summary, err := s.portfolio.PortfolioSummary(ctx); err != nil {
		s.logger.Warn("Dashboard portfolio unavailable", zap.Error(err))
		d.Portfolio = PortfolioSummary{
			Positions:         []*domain.Position{},
			TotalUnrealizedPL: decimal.Zero,
			Error:             "failed to load portfolio data",
		}
	} else {
		d.Portfolio = *summary
	}

	if trades, _, err := s.orders.ListOrders(ctx, domain.OrderFilter{Page: 1, PerPage: recentTradesLimit}); err != nil {
		s.logger.Warn("Dashboard recent trades unavailable", zap.Error(err))
	} else if trades != nil {
		d.RecentTrades = trades
	}

	d.MarketOverview = s.quotes(ctx, s.indices)
	d.Watchlist = s.quotes(ctx, s.watchlist)

	positions, err := s.positions.ListPositions(ctx)
	if err != nil {
		s.logger.Warn("Dashboard positions unavailable", zap.Error(err))
	}
	perf := ComputePerformance(positions, volumeWindowDays)
	d.Performance = PerformanceMetrics{
		TotalValue:         perf.CurrentValue,
		TotalReturn:        perf.TotalUnrealizedPL,
		TotalReturnPercent: perf.TotalReturnPercent,
	}

	s.dashboard.Set(dashboardCacheKey, d)
	return d
}

func (s *AnalyticsService) quotes(ctx context.Context, symbols []string) []QuoteEntry {
	entries := make([]QuoteEntry, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		q, err := s.market.Quote(ctx, symbol)
		if err != nil {
			entries = append(entries, QuoteEntry{Symbol: symbol, Error: "data unavailable"})
			continue
		}
		entries = append(entries, QuoteEntry{Symbol: symbol, Quote: q})
	}
	return entries
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
