package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/storage"
	"github.com/vitos/brokerage_gateway/internal/usecase"
	"go.uber.org/zap"
)

// stubBroker accepts every order as ext-<n> and reports the configured state.
type stubBroker struct {
	submitErr  error
	accountErr error
	positions  []domain.BrokerPosition
	orders     map[string]*domain.BrokerOrder
	next       int
}

func (b *stubBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.next++
	bo := &domain.BrokerOrder{
		ID:            "ext-" + strconv.Itoa(b.next),
		ClientOrderID: req.ClientOrderID,
		Status:        domain.OrderStatusAccepted,
	}
	b.orders[bo.ID] = bo
	return bo, nil
}

func (b *stubBroker) CancelOrder(ctx context.Context, externalID string) error { return nil }

func (b *stubBroker) GetOrder(ctx context.Context, externalID string) (*domain.BrokerOrder, error) {
	if bo, ok := b.orders[externalID]; ok {
		return bo, nil
	}
	return nil, &domain.BrokerError{Op: "get order", StatusCode: http.StatusNotFound, Message: "order not found"}
}

func (b *stubBroker) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.BrokerOrder, error) {
	return nil, &domain.BrokerError{Op: "get order by client id", StatusCode: http.StatusNotFound, Message: "order not found"}
}

func (b *stubBroker) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return b.positions, nil
}

func (b *stubBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	if b.accountErr != nil {
		return nil, b.accountErr
	}
	return &domain.Account{Equity: decimal.NewFromInt(1000), Cash: decimal.NewFromInt(1000)}, nil
}

func (b *stubBroker) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	return nil, &domain.BrokerError{Op: "get asset", StatusCode: http.StatusNotFound, Message: "asset not found"}
}

func (b *stubBroker) GetLatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return &domain.Quote{Symbol: symbol, BidPrice: decimal.NewFromInt(99), AskPrice: decimal.NewFromInt(101)}, nil
}

func (b *stubBroker) GetBars(ctx context.Context, req domain.BarsRequest) ([]domain.Bar, error) {
	if req.Symbol != "AAPL" {
		return nil, &domain.BrokerError{Op: "bars", StatusCode: http.StatusNotFound, Message: "symbol not found"}
	}
	at := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	return []domain.Bar{{Timestamp: at, Open: decimal.NewFromInt(150), Close: decimal.NewFromInt(152), Volume: 1000}}, nil
}

// stubReference knows IBM and answers every search with one match.
type stubReference struct{}

func (stubReference) CompanyOverview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	if symbol != "IBM" {
		return nil, &domain.NotFoundError{Resource: "company", Key: symbol}
	}
	return &domain.CompanyOverview{Symbol: "IBM", Name: "International Business Machines"}, nil
}

func (stubReference) SearchSymbols(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	return []domain.SymbolMatch{{Symbol: strings.ToUpper(keywords), MatchScore: decimal.NewFromInt(1)}}, nil
}

type testEnv struct {
	handler http.Handler
	store   *storage.SQLiteStore
	broker  *stubBroker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := &stubBroker{orders: map[string]*domain.BrokerOrder{}}
	logger := zap.NewNop()
	assets := usecase.NewAssetResolver(store, broker, logger)
	positions := usecase.NewPositionService(store, assets, broker, logger)
	market := usecase.NewMarketService(broker, nil, stubReference{}, store, time.Minute, logger)
	services := Services{
		Orders:    usecase.NewOrderService(store, store, assets, broker, positions, logger),
		Positions: positions,
		Analytics: usecase.NewAnalyticsService(store, store, positions, market, []string{"AAPL"}, []string{"SPY"}, 0, logger),
		Market:    market,
	}

	return &testEnv{handler: NewServer(0, services, logger).Handler(), store: store, broker: broker}
}

type apiResponse struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Message string            `json:"message"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestAPI_SubmitOrder(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":"aapl","quantity":10,"side":"buy","type":"market"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)

	var receipt struct {
		TradeID     int64           `json:"trade_id"`
		ExternalID  string          `json:"external_id"`
		Symbol      string          `json:"symbol"`
		Quantity    decimal.Decimal `json:"quantity"`
		Status      string          `json:"status"`
		SubmittedAt *time.Time      `json:"submitted_at"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	assert.NotZero(t, receipt.TradeID)
	assert.Equal(t, "ext-1", receipt.ExternalID)
	assert.Equal(t, "AAPL", receipt.Symbol)
	assert.True(t, receipt.Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "accepted", receipt.Status)
	assert.NotNil(t, receipt.SubmittedAt)
}

func TestAPI_SubmitOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":"AAPL","side":"buy","quantity":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Errors, "quantity")

	code, resp = env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "body")
}

func TestAPI_SubmitOrderBrokerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.broker.submitErr = &domain.BrokerError{Op: "submit order", StatusCode: http.StatusForbidden, Message: "insufficient buying power"}

	code, resp := env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":"AAPL","quantity":1,"side":"buy"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "insufficient buying power")
}

func TestAPI_OrderLifecycle(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":"AAPL","quantity":"2.5","side":"buy"}`)
	require.Equal(t, http.StatusCreated, code)
	code, _ = env.do(t, http.MethodPost, "/api/v1/trading/orders", `{"symbol":"MSFT","quantity":1,"side":"sell"}`)
	require.Equal(t, http.StatusCreated, code)

	code, resp := env.do(t, http.MethodGet, "/api/v1/trading/orders?symbol=aapl&per_page=1", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Orders     []domain.Order `json:"orders"`
		Pagination pagination     `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Orders, 1)
	assert.Equal(t, "AAPL", list.Orders[0].Symbol)
	assert.Equal(t, pagination{Page: 1, PerPage: 1, Total: 1, TotalPages: 1}, list.Pagination)

	id := list.Orders[0].ID
	path := "/api/v1/trading/orders/" + strconv.FormatInt(id, 10)

	env.broker.orders["ext-1"].Status = domain.OrderStatusPartiallyFilled
	env.broker.orders["ext-1"].FilledQuantity = decimal.NewFromInt(1)
	code, resp = env.do(t, http.MethodPost, path+"/sync", "")
	require.Equal(t, http.StatusOK, code)
	var synced domain.Order
	require.NoError(t, json.Unmarshal(resp.Data, &synced))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, synced.Status)

	code, resp = env.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Order canceled successfully", resp.Message)

	code, resp = env.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, resp.Success)
}

func TestAPI_OrderErrors(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/v1/trading/orders/999", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp := env.do(t, http.MethodGet, "/api/v1/trading/orders/abc", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "id")

	code, resp = env.do(t, http.MethodGet, "/api/v1/trading/orders?page=-2", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "page")
}

func TestAPI_BestEffortVersusStrict(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	code, resp := env.do(t, http.MethodGet, "/api/v1/trading/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	var stats usecase.TradingStats
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Zero(t, stats.TotalTrades)

	code, resp = env.do(t, http.MethodGet, "/api/v1/portfolio/diversification", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, resp = env.do(t, http.MethodGet, "/api/v1/trading/orders", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, resp.Success)
}

func TestAPI_TradingStatsRejectsBadDates(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/v1/trading/stats?from=yesterday", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "from")
}

func TestAPI_Positions(t *testing.T) {
	env := newTestEnv(t)
	env.broker.positions = []domain.BrokerPosition{{
		Symbol:      "AAPL",
		Quantity:    decimal.NewFromInt(3),
		MarketValue: decimal.NewFromInt(450),
		CostBasis:   decimal.NewFromInt(400),
	}}

	code, resp := env.do(t, http.MethodPost, "/api/v1/portfolio/positions/sync", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	code, _ = env.do(t, http.MethodGet, "/api/v1/portfolio/positions/aapl", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/portfolio/positions/TSLA", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = env.do(t, http.MethodGet, "/api/v1/portfolio/positions", "")
	require.Equal(t, http.StatusOK, code)
	var list usecase.PositionList
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 1, list.Summary.TotalPositions)
	assert.True(t, list.Summary.TotalValue.Equal(decimal.NewFromInt(450)))
}

func TestAPI_PortfolioStrictDashboardBestEffort(t *testing.T) {
	env := newTestEnv(t)
	env.broker.accountErr = errors.New("broker unreachable")

	code, resp := env.do(t, http.MethodGet, "/api/v1/portfolio", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, resp.Error, "broker unreachable")

	code, resp = env.do(t, http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, code)
	var d usecase.Dashboard
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, "failed to load portfolio data", d.Portfolio.Error)
	require.Len(t, d.Watchlist, 1)
	assert.NotNil(t, d.Watchlist[0].Quote)

	code, resp = env.do(t, http.MethodGet, "/api/v1/dashboard/analytics", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(string(resp.Data), `"win_rate":null`))
}

func TestAPI_MarketDataAndHealth(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/v1/market-data/quote/spy", "")
	require.Equal(t, http.StatusOK, code)
	var q domain.Quote
	require.NoError(t, json.Unmarshal(resp.Data, &q))
	assert.Equal(t, "SPY", q.Symbol)

	code, _ = env.do(t, http.MethodGet, "/api/v1/market-data/quote/WAYTOOLONGSYMBOL", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "next_open")

	code, resp = env.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"status":"ok"`)
}

func TestAPI_HistoricalCompanyAndSearch(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/v1/market-data/historical/aapl?timeframe=1Hour&start=2026-03-01&limit=10", "")
	require.Equal(t, http.StatusOK, code, resp.Error)
	var hist usecase.HistoricalData
	require.NoError(t, json.Unmarshal(resp.Data, &hist))
	assert.Equal(t, "AAPL", hist.Symbol)
	assert.Equal(t, "1Hour", hist.Timeframe)
	assert.Equal(t, 10, hist.Limit)
	require.NotNil(t, hist.Start)
	assert.Equal(t, "2026-03-01", hist.Start.Format(time.DateOnly))
	require.Len(t, hist.Bars, 1)
	assert.True(t, hist.Bars[0].Close.Equal(decimal.NewFromInt(152)))

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/historical/AAPL?timeframe=2Day&end=soon", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "end")

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/historical/AAPL?timeframe=2Day", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "timeframe")

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/historical/AAPL?start=2026-03-05T00:00:00Z&end=2026-03-01", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "end")

	code, _ = env.do(t, http.MethodGet, "/api/v1/market-data/historical/MSFT", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/company/ibm", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), "International Business Machines")

	code, _ = env.do(t, http.MethodGet, "/api/v1/market-data/company/NOPE", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/search?keywords=tesla", "")
	require.Equal(t, http.StatusOK, code)
	var matches []domain.SymbolMatch
	require.NoError(t, json.Unmarshal(resp.Data, &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "TESLA", matches[0].Symbol)

	code, resp = env.do(t, http.MethodGet, "/api/v1/market-data/search", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Errors, "keywords")
}
