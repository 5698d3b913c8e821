package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

var DefaultCryptoIDs = []string{"bitcoin", "ethereum"}

const (
	defaultBarLimit   = 100
	maxBarLimit       = 10000
	maxKeywordsLength = 50
)

// CryptoEntry is one requested coin; Error is set when no price came back.
type CryptoEntry struct {
	ID    string              `json:"id"`
	Price *domain.CryptoPrice `json:"price,omitempty"`
	Error string              `json:"error,omitempty"`
}

type MarketStatus struct {
	IsOpen    bool      `json:"is_open"`
	Session   string    `json:"session"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
	Timezone  string    `json:"timezone"`
	CheckedAt time.Time `json:"checked_at"`
}

// BarsQuery is a historical data request as received from the caller.
type BarsQuery struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Limit     int
}

// HistoricalData echoes the effective request next to the bars.
type HistoricalData struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Limit     int          `json:"limit"`
	Start     *time.Time   `json:"start,omitempty"`
	End       *time.Time   `json:"end,omitempty"`
	Bars      []domain.Bar `json:"bars"`
}

// MarketService serves upstream market and reference data through TTL
// caches and keeps a snapshot row per fetched quote or bar series.
type MarketService struct {
	broker    domain.Broker
	crypto    domain.CryptoPriceProvider
	reference domain.ReferenceDataProvider
	snapshots domain.MarketDataRepository
	quotes    *ttlCache[*domain.Quote]
	prices    *ttlCache[domain.CryptoPrice]
	bars      *ttlCache[*HistoricalData]
	companies *ttlCache[*domain.CompanyOverview]
	searches  *ttlCache[[]domain.SymbolMatch]
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewMarketService(
	broker domain.Broker,
	crypto domain.CryptoPriceProvider,
	reference domain.ReferenceDataProvider,
	snapshots domain.MarketDataRepository,
	ttl time.Duration,
	logger *zap.Logger,
) *MarketService {
	return &MarketService{
		broker:    broker,
		crypto:    crypto,
		reference: reference,
		snapshots: snapshots,
		quotes:    newTTLCache[*domain.Quote](ttl),
		prices:    newTTLCache[domain.CryptoPrice](ttl),
		bars:      newTTLCache[*HistoricalData](ttl),
		companies: newTTLCache[*domain.CompanyOverview](ttl),
		searches:  newTTLCache[[]domain.SymbolMatch](ttl),
		logger:    logger,
		timeNow:   time.Now,
	}
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > maxSymbolLength {
		verr := domain.NewValidationError()
		verr.Add("symbol", "must be 1 to 10 characters")
		return "", verr
	}
	return symbol, nil
}

func (s *MarketService) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	if q, ok := s.quotes.Get(symbol); ok {
		return q, nil
	}

	q, err := s.broker.GetLatestQuote(ctx, symbol)
	if err != nil {
		s.logger.Error("Failed to fetch quote", zap.String("symbol", symbol), zap.Error(err))
		return nil, err
	}
	s.quotes.Set(symbol, q)

	snap := &domain.MarketSnapshot{
		Symbol:          symbol,
		DataType:        domain.MarketDataQuote,
		Price:           decimal.NewNullDecimal(q.MidPrice()),
		BidPrice:        decimal.NewNullDecimal(q.BidPrice),
		AskPrice:        decimal.NewNullDecimal(q.AskPrice),
		BidSize:         q.BidSize,
		AskSize:         q.AskSize,
		MarketTimestamp: q.Timestamp,
		RawData:         q.Raw,
	}
	if err := s.snapshots.SaveMarketSnapshot(ctx, snap); err != nil {
		s.logger.Warn("Failed to store quote snapshot", zap.String("symbol", symbol), zap.Error(err))
	}
	return q, nil
}

// HistoricalBars returns OHLCV bars, 1Day and 100 bars unless asked
// otherwise. The latest bar is kept as a snapshot row.
func (s *MarketService) HistoricalBars(ctx context.Context, q BarsQuery) (*HistoricalData, error) {
	symbol, err := normalizeSymbol(q.Symbol)
	verr := domain.NewValidationError()
	if err != nil {
		verr.Add("symbol", "must be 1 to 10 characters")
	}
	timeframe := strings.TrimSpace(q.Timeframe)
	if timeframe == "" {
		timeframe = domain.Timeframe1Day
	}
	if !domain.ValidTimeframe(timeframe) {
		verr.Add("timeframe", "must be one of 1Min, 5Min, 15Min, 30Min, 1Hour, 1Day")
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultBarLimit
	}
	if limit < 1 || limit > maxBarLimit {
		verr.Add("limit", fmt.Sprintf("must be between 1 and %d", maxBarLimit))
	}
	if !q.Start.IsZero() && !q.End.IsZero() && !q.End.After(q.Start) {
		verr.Add("end", "must be after start")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	req := domain.BarsRequest{Symbol: symbol, Timeframe: timeframe, Start: q.Start, End: q.End, Limit: limit}
	key := fmt.Sprintf("%s|%s|%d|%d|%d", symbol, timeframe, limit, q.Start.Unix(), q.End.Unix())
	if data, ok := s.bars.Get(key); ok {
		return data, nil
	}

	bars, err := s.broker.GetBars(ctx, req)
	if err != nil {
		s.logger.Error("Failed to fetch bars",
			zap.String("symbol", symbol),
			zap.String("timeframe", timeframe),
			zap.Error(err))
		return nil, err
	}
	if bars == nil {
		bars = []domain.Bar{}
	}

	data := &HistoricalData{Symbol: symbol, Timeframe: timeframe, Limit: limit, Bars: bars}
	if !q.Start.IsZero() {
		start := q.Start.UTC()
		data.Start = &start
	}
	if !q.End.IsZero() {
		end := q.End.UTC()
		data.End = &end
	}
	s.bars.Set(key, data)

	if len(bars) > 0 {
		s.saveBarSnapshot(ctx, symbol, bars[len(bars)-1])
	}
	return data, nil
}

func (s *MarketService) saveBarSnapshot(ctx context.Context, symbol string, bar domain.Bar) {
	raw, err := json.Marshal(bar)
	if err != nil {
		s.logger.Warn("Failed to encode bar snapshot", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	snap := &domain.MarketSnapshot{
		Symbol:          symbol,
		DataType:        domain.MarketDataBar,
		Price:           decimal.NewNullDecimal(bar.Close),
		MarketTimestamp: bar.Timestamp,
		RawData:         raw,
	}
	if err := s.snapshots.SaveMarketSnapshot(ctx, snap); err != nil {
		s.logger.Warn("Failed to store bar snapshot", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (s *MarketService) CompanyInfo(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if o, ok := s.companies.Get(symbol); ok {
		return o, nil
	}

	o, err := s.reference.CompanyOverview(ctx, symbol)
	if err != nil {
		s.logger.Error("Failed to fetch company overview", zap.String("symbol", symbol), zap.Error(err))
		return nil, err
	}
	s.companies.Set(symbol, o)
	return o, nil
}

func (s *MarketService) SearchSymbols(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	keywords = strings.TrimSpace(keywords)
	if keywords == "" || len(keywords) > maxKeywordsLength {
		verr := domain.NewValidationError()
		verr.Add("keywords", fmt.Sprintf("must be 1 to %d characters", maxKeywordsLength))
		return nil, verr
	}

	key := strings.ToLower(keywords)
	if matches, ok := s.searches.Get(key); ok {
		return matches, nil
	}

	matches, err := s.reference.SearchSymbols(ctx, keywords)
	if err != nil {
		s.logger.Error("Failed to search symbols", zap.String("keywords", keywords), zap.Error(err))
		return nil, err
	}
	if matches == nil {
		matches = []domain.SymbolMatch{}
	}
	s.searches.Set(key, matches)
	return matches, nil
}

// CryptoPrices returns one entry per requested id, in request order.
func (s *MarketService) CryptoPrices(ctx context.Context, ids []string, vsCurrency string) ([]CryptoEntry, error) {
	if len(ids) == 0 {
		ids = DefaultCryptoIDs
	}
	vs := strings.ToLower(strings.TrimSpace(vsCurrency))
	if vs == "" {
		vs = "usd"
	}

	var missing []string
	cached := map[string]domain.CryptoPrice{}
	for _, id := range ids {
		if p, ok := s.prices.Get(vs + ":" + id); ok {
			cached[id] = p
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fetched, err := s.crypto.SimplePrice(ctx, missing, vs)
		if err != nil {
			s.logger.Error("Failed to fetch crypto prices", zap.Strings("ids", missing), zap.Error(err))
			return nil, err
		}
		for id, p := range fetched {
			s.prices.Set(vs+":"+id, p)
			cached[id] = p
		}
	}

	entries := make([]CryptoEntry, 0, len(ids))
	for _, id := range ids {
		if p, ok := cached[id]; ok {
			price := p
			entries = append(entries, CryptoEntry{ID: id, Price: &price})
		} else {
			entries = append(entries, CryptoEntry{ID: id, Error: "price unavailable"})
		}
	}
	return entries, nil
}

const (
	sessionOpenMinute  = 14*60 + 30
	sessionCloseMinute = 21 * 60
)

func isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func sessionBounds(day time.Time) (time.Time, time.Time) {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return d.Add(sessionOpenMinute * time.Minute), d.Add(sessionCloseMinute * time.Minute)
}

// ComputeMarketStatus reports the US regular session (14:30 to 21:00 UTC,
// Monday to Friday). Exchange holidays are not modelled.
func ComputeMarketStatus(now time.Time) MarketStatus {
	now = now.UTC()
	status := MarketStatus{Session: "closed", Timezone: "UTC", CheckedAt: now}

	openAt, closeAt := sessionBounds(now)
	if isTradingDay(now) && !now.Before(openAt) && now.Before(closeAt) {
		status.IsOpen = true
		status.Session = "regular"
		status.NextClose = closeAt
		status.NextOpen = nextSessionOpen(now.AddDate(0, 0, 1))
		return status
	}

	if isTradingDay(now) && now.Before(openAt) {
		status.NextOpen = openAt
	} else {
		status.NextOpen = nextSessionOpen(now.AddDate(0, 0, 1))
	}
	_, status.NextClose = sessionBounds(status.NextOpen)
	return status
}

func nextSessionOpen(from time.Time) time.Time {
	day := from
	for !isTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	openAt, _ := sessionBounds(day)
	return openAt
}

func (s *MarketService) MarketStatus() MarketStatus {
	return ComputeMarketStatus(s.timeNow())
}
