package domain

import (
	"context"
	"time"
)

// Broker wraps the remote trading API. Implementations keep no state and
// perform no retries; failures are returned as *BrokerError.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*BrokerOrder, error)
	CancelOrder(ctx context.Context, externalID string) error
	GetOrder(ctx context.Context, externalID string) (*BrokerOrder, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*BrokerOrder, error)
	ListPositions(ctx context.Context) ([]BrokerPosition, error)
	GetAccount(ctx context.Context) (*Account, error)
	GetAsset(ctx context.Context, symbol string) (*Asset, error)
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	GetBars(ctx context.Context, req BarsRequest) ([]Bar, error)
}

// CryptoPriceProvider serves spot crypto prices.
type CryptoPriceProvider interface {
	SimplePrice(ctx context.Context, ids []string, vsCurrency string) (map[string]CryptoPrice, error)
}

// ReferenceDataProvider serves company fundamentals and symbol lookup.
type ReferenceDataProvider interface {
	CompanyOverview(ctx context.Context, symbol string) (*CompanyOverview, error)
	SearchSymbols(ctx context.Context, keywords string) ([]SymbolMatch, error)
}

// OrderRepository defines storage operations for ledger orders.
type OrderRepository interface {
	// CreateOrder stores the asset (if new) and the order in one transaction.
	CreateOrder(ctx context.Context, asset *Asset, order *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error)
	GetOrderByExternalID(ctx context.Context, externalID string) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, int, error)
	ListOrdersBetween(ctx context.Context, from, to time.Time) ([]*Order, error)
	UpdateOrder(ctx context.Context, order *Order) error
}

// AssetRepository defines storage operations for reference data.
type AssetRepository interface {
	GetAssetBySymbol(ctx context.Context, symbol string) (*Asset, error)
}

// PositionRepository defines storage operations for mirrored holdings.
type PositionRepository interface {
	ListPositions(ctx context.Context) ([]*Position, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	// ReplacePositions makes the stored set equal to positions, atomically and
	// serialized against concurrent replacements.
	ReplacePositions(ctx context.Context, positions []*Position) error
}

// InconsistencyRepository tracks orphaned broker orders.
type InconsistencyRepository interface {
	RecordInconsistency(ctx context.Context, issue *Inconsistency) error
	ListUnresolvedInconsistencies(ctx context.Context) ([]*Inconsistency, error)
	ResolveInconsistency(ctx context.Context, id int64, at time.Time) error
}

// MarketDataRepository keeps normalized market data snapshots.
type MarketDataRepository interface {
	SaveMarketSnapshot(ctx context.Context, snap *MarketSnapshot) error
}

// LedgerStore is the full persistence surface.
type LedgerStore interface {
	OrderRepository
	AssetRepository
	PositionRepository
	InconsistencyRepository
	MarketDataRepository
	Close() error
}
