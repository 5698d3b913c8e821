package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position mirrors the broker's current holding in one symbol.
type Position struct {
	ID             int64           `json:"id"`
	AssetID        int64           `json:"asset_id"`
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	Side           PositionSide    `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	LastUpdated    time.Time       `json:"last_updated"`
	Asset          *Asset          `json:"asset,omitempty"`
}

// AssetClass returns the joined asset's class, us_equity when unknown.
func (p *Position) AssetClass() AssetClass {
	if p.Asset == nil || p.Asset.Class == "" {
		return AssetClassUSEquity
	}
	return p.Asset.Class
}

// BrokerPosition is one holding as reported by the broker.
type BrokerPosition struct {
	Symbol         string
	AssetClass     AssetClass
	Quantity       decimal.Decimal
	Side           PositionSide
	AvgEntryPrice  decimal.Decimal
	MarketValue    decimal.Decimal
	CostBasis      decimal.Decimal
	UnrealizedPL   decimal.Decimal
	UnrealizedPLPC decimal.Decimal
	CurrentPrice   decimal.Decimal
}

// Account is the broker account summary.
type Account struct {
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	DaytradeCount    int             `json:"day_trade_count"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}
