package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"go.uber.org/zap"
)

type MockCrypto struct {
	Prices map[string]domain.CryptoPrice
	Err    error
	Calls  [][]string
}

func (m *MockCrypto) SimplePrice(ctx context.Context, ids []string, vsCurrency string) (map[string]domain.CryptoPrice, error) {
	m.Calls = append(m.Calls, ids)
	if m.Err != nil {
		return nil, m.Err
	}
	out := map[string]domain.CryptoPrice{}
	for _, id := range ids {
		if p, ok := m.Prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// recordingSnapshots keeps saved market data rows in memory.
type recordingSnapshots struct {
	saved []*domain.MarketSnapshot
}

func (r *recordingSnapshots) SaveMarketSnapshot(ctx context.Context, snap *domain.MarketSnapshot) error {
	r.saved = append(r.saved, snap)
	return nil
}

func TestComputeMarketStatus(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		open      bool
		nextOpen  time.Time
		nextClose time.Time
	}{
		{
			name:      "monday mid session",
			now:       time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC),
			open:      true,
			nextOpen:  time.Date(2026, 3, 3, 14, 30, 0, 0, time.UTC),
			nextClose: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
		},
		{
			name:      "monday before open",
			now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			nextOpen:  time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
			nextClose: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC),
		},
		{
			name:      "friday at close",
			now:       time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC),
			nextOpen:  time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
			nextClose: time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC),
		},
		{
			name:      "saturday",
			now:       time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC),
			nextOpen:  time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
			nextClose: time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC),
		},
		{
			name:      "opening minute",
			now:       time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC),
			open:      true,
			nextOpen:  time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
			nextClose: time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ComputeMarketStatus(tt.now)
			assert.Equal(t, tt.open, st.IsOpen)
			assert.True(t, st.NextOpen.Equal(tt.nextOpen), "next open %s", st.NextOpen)
			assert.True(t, st.NextClose.Equal(tt.nextClose), "next close %s", st.NextClose)
			if tt.open {
				assert.Equal(t, "regular", st.Session)
			} else {
				assert.Equal(t, "closed", st.Session)
			}
		})
	}
}

func TestMarketService_QuoteCachesAndRecordsSnapshot(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.broker.Quotes["AAPL"] = &domain.Quote{
		Symbol:    "AAPL",
		BidPrice:  dec("150"),
		AskPrice:  dec("151"),
		Timestamp: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}

	q, err := ts.market.Quote(ctx, "aapl")
	require.NoError(t, err)
	assert.True(t, q.MidPrice().Equal(dec("150.5")))

	_, err = ts.market.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, ts.broker.QuoteCalls)
}

func TestMarketService_QuoteValidationAndFailure(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	_, err := ts.market.Quote(ctx, "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, ts.broker.QuoteCalls)

	_, err = ts.market.Quote(ctx, "NOPE")
	var berr *domain.BrokerError
	require.ErrorAs(t, err, &berr)
}

func TestMarketService_CryptoPrices(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	crypto := &MockCrypto{Prices: map[string]domain.CryptoPrice{
		"bitcoin": {ID: "bitcoin", VsCurrency: "usd", Price: dec("65000")},
	}}
	svc := NewMarketService(ts.broker, crypto, ts.reference, ts.store, time.Minute, zap.NewNop())

	entries, err := svc.CryptoPrices(ctx, nil, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bitcoin", entries[0].ID)
	require.NotNil(t, entries[0].Price)
	assert.True(t, entries[0].Price.Price.Equal(dec("65000")))
	assert.Equal(t, "ethereum", entries[1].ID)
	assert.Equal(t, "price unavailable", entries[1].Error)

	_, err = svc.CryptoPrices(ctx, []string{"bitcoin"}, "USD")
	require.NoError(t, err)
	assert.Len(t, crypto.Calls, 1)

	crypto.Err = errors.New("rate limited")
	_, err = svc.CryptoPrices(ctx, []string{"solana"}, "usd")
	assert.Error(t, err)
}

func TestMarketService_HistoricalBars(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	snapshots := &recordingSnapshots{}
	svc := NewMarketService(ts.broker, nil, ts.reference, snapshots, time.Minute, zap.NewNop())

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ts.broker.Bars["AAPL"] = []domain.Bar{
		{Timestamp: day, Open: dec("150"), High: dec("152"), Low: dec("149"), Close: dec("151"), Volume: 1000},
		{Timestamp: day.AddDate(0, 0, 1), Open: dec("151"), High: dec("155"), Low: dec("150"), Close: dec("154.5"), Volume: 1200},
	}

	data, err := svc.HistoricalBars(ctx, BarsQuery{Symbol: "aapl"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", data.Symbol)
	assert.Equal(t, domain.Timeframe1Day, data.Timeframe)
	assert.Equal(t, 100, data.Limit)
	assert.Nil(t, data.Start)
	require.Len(t, data.Bars, 2)

	require.Len(t, ts.broker.BarRequests, 1)
	assert.Equal(t, domain.BarsRequest{Symbol: "AAPL", Timeframe: "1Day", Limit: 100}, ts.broker.BarRequests[0])

	require.Len(t, snapshots.saved, 1)
	assert.Equal(t, domain.MarketDataBar, snapshots.saved[0].DataType)
	assert.True(t, snapshots.saved[0].Price.Decimal.Equal(dec("154.5")))
	assert.True(t, snapshots.saved[0].MarketTimestamp.Equal(day.AddDate(0, 0, 1)))

	_, err = svc.HistoricalBars(ctx, BarsQuery{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Len(t, ts.broker.BarRequests, 1)

	start := day.AddDate(0, 0, -7)
	data, err = svc.HistoricalBars(ctx, BarsQuery{Symbol: "AAPL", Timeframe: "1Hour", Start: start, Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, data.Start)
	assert.True(t, data.Start.Equal(start))
	assert.Equal(t, "1Hour", ts.broker.BarRequests[1].Timeframe)
	assert.Equal(t, 5, ts.broker.BarRequests[1].Limit)
}

func TestMarketService_HistoricalBarsValidation(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		query BarsQuery
		field string
	}{
		{"blank symbol", BarsQuery{}, "symbol"},
		{"unknown timeframe", BarsQuery{Symbol: "AAPL", Timeframe: "2Day"}, "timeframe"},
		{"limit too large", BarsQuery{Symbol: "AAPL", Limit: 10001}, "limit"},
		{"negative limit", BarsQuery{Symbol: "AAPL", Limit: -1}, "limit"},
		{"end before start", BarsQuery{Symbol: "AAPL", Start: start, End: start.Add(-time.Hour)}, "end"},
		{"end equals start", BarsQuery{Symbol: "AAPL", Start: start, End: start}, "end"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.market.HistoricalBars(ctx, tt.query)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
	assert.Empty(t, ts.broker.BarRequests)

	_, err := ts.market.HistoricalBars(ctx, BarsQuery{Symbol: "NOPE"})
	assert.True(t, domain.IsBrokerStatus(err, 404))
}

func TestMarketService_CompanyInfo(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.reference.Companies["IBM"] = &domain.CompanyOverview{Symbol: "IBM", Name: "International Business Machines", Sector: "TECHNOLOGY"}

	o, err := ts.market.CompanyInfo(ctx, " ibm ")
	require.NoError(t, err)
	assert.Equal(t, "TECHNOLOGY", o.Sector)

	_, err = ts.market.CompanyInfo(ctx, "IBM")
	require.NoError(t, err)
	assert.Equal(t, 1, ts.reference.Calls)

	_, err = ts.market.CompanyInfo(ctx, "NOPE")
	assert.True(t, domain.IsNotFound(err))

	_, err = ts.market.CompanyInfo(ctx, "")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMarketService_SearchSymbols(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.reference.Matches["tesco"] = []domain.SymbolMatch{{Symbol: "TSCO.LON", Name: "Tesco PLC"}}

	matches, err := ts.market.SearchSymbols(ctx, "tesco")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = ts.market.SearchSymbols(ctx, "TESCO ")
	require.NoError(t, err)
	assert.Equal(t, 1, ts.reference.Calls)

	matches, err = ts.market.SearchSymbols(ctx, "zzzz")
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)

	for _, kw := range []string{"", "   ", strings.Repeat("x", 51)} {
		_, err = ts.market.SearchSymbols(ctx, kw)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, "keywords %q", kw)
		assert.Contains(t, verr.Fields, "keywords")
	}

	ts.reference.Err = &domain.BrokerError{Op: "alphavantage_search", StatusCode: 429, Message: "rate limited"}
	_, err = ts.market.SearchSymbols(ctx, "apple")
	var berr *domain.BrokerError
	require.ErrorAs(t, err, &berr)
}
