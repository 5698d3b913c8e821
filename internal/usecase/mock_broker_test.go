package usecase

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// MockBroker is an in-memory domain.Broker.
type MockBroker struct {
	mu sync.Mutex

	SubmitResp *domain.BrokerOrder
	SubmitErr  error
	Submitted  []domain.OrderRequest

	Orders    map[string]*domain.BrokerOrder
	ByClient  map[string]*domain.BrokerOrder
	GetErr    error
	CancelErr error
	Canceled  []string

	Positions     []domain.BrokerPosition
	PositionsErr  error
	PositionCalls int

	Account    *domain.Account
	AccountErr error

	Assets     map[string]*domain.Asset
	Quotes     map[string]*domain.Quote
	QuoteCalls int

	Bars        map[string][]domain.Bar
	BarRequests []domain.BarsRequest
}

func NewMockBroker() *MockBroker {
	return &MockBroker{
		Orders:   map[string]*domain.BrokerOrder{},
		ByClient: map[string]*domain.BrokerOrder{},
		Assets:   map[string]*domain.Asset{},
		Quotes:   map[string]*domain.Quote{},
		Bars:     map[string][]domain.Bar{},
	}
}

func notFound(op string) error {
	return &domain.BrokerError{Op: op, StatusCode: http.StatusNotFound, Message: "not found"}
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, req)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	resp := *m.SubmitResp
	resp.ClientOrderID = req.ClientOrderID
	m.Orders[resp.ID] = &resp
	m.ByClient[req.ClientOrderID] = &resp
	return &resp, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Canceled = append(m.Canceled, externalID)
	return nil
}

func (m *MockBroker) GetOrder(ctx context.Context, externalID string) (*domain.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, ok := m.Orders[externalID]
	if !ok {
		return nil, notFound("get order")
	}
	cp := *o
	return &cp, nil
}

func (m *MockBroker) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.BrokerOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.ByClient[clientOrderID]
	if !ok {
		return nil, notFound("get order by client id")
	}
	cp := *o
	return &cp, nil
}

func (m *MockBroker) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PositionCalls++
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	return append([]domain.BrokerPosition{}, m.Positions...), nil
}

func (m *MockBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	if m.AccountErr != nil {
		return nil, m.AccountErr
	}
	if m.Account == nil {
		return &domain.Account{}, nil
	}
	acc := *m.Account
	return &acc, nil
}

func (m *MockBroker) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Assets[symbol]
	if !ok {
		return nil, notFound("get asset")
	}
	cp := *a
	return &cp, nil
}

func (m *MockBroker) GetLatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++
	q, ok := m.Quotes[symbol]
	if !ok {
		return nil, notFound("latest quote")
	}
	cp := *q
	return &cp, nil
}

func (m *MockBroker) GetBars(ctx context.Context, req domain.BarsRequest) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BarRequests = append(m.BarRequests, req)
	bars, ok := m.Bars[req.Symbol]
	if !ok {
		return nil, notFound("bars")
	}
	return append([]domain.Bar{}, bars...), nil
}

// MockReference is an in-memory domain.ReferenceDataProvider.
type MockReference struct {
	Companies map[string]*domain.CompanyOverview
	Matches   map[string][]domain.SymbolMatch
	Err       error
	Calls     int
}

func (m *MockReference) CompanyOverview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.Companies[symbol]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "company", Key: symbol}
	}
	cp := *o
	return &cp, nil
}

func (m *MockReference) SearchSymbols(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Matches[keywords], nil
}

// failingOrders rejects every insert, standing in for a ledger outage.
type failingOrders struct {
	domain.OrderRepository
}

func (f failingOrders) CreateOrder(ctx context.Context, asset *domain.Asset, order *domain.Order) error {
	return errors.New("disk I/O error")
}

func newTestLedger(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type testServices struct {
	store     *storage.SQLiteStore
	broker    *MockBroker
	orders    *OrderService
	positions *PositionService
	market    *MarketService
	analytics *AnalyticsService
	reference *MockReference
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	store := newTestLedger(t)
	broker := NewMockBroker()
	logger := zap.NewNop()

	assets := NewAssetResolver(store, broker, logger)
	positions := NewPositionService(store, assets, broker, logger)
	orders := NewOrderService(store, store, assets, broker, positions, logger)
	reference := &MockReference{Companies: map[string]*domain.CompanyOverview{}, Matches: map[string][]domain.SymbolMatch{}}
	market := NewMarketService(broker, nil, reference, store, time.Minute, logger)
	analytics := NewAnalyticsService(store, store, positions, market, []string{"AAPL", "MSFT"}, []string{"SPY"}, time.Minute, logger)

	return &testServices{
		store:     store,
		broker:    broker,
		orders:    orders,
		positions: positions,
		market:    market,
		analytics: analytics,
		reference: reference,
	}
}
