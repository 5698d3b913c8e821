package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AssetClass string

const (
	AssetClassUSEquity  AssetClass = "us_equity"
	AssetClassCrypto    AssetClass = "crypto"
	AssetClassForex     AssetClass = "forex"
	AssetClassCommodity AssetClass = "commodity"
)

// Asset is the static reference data of a tradable symbol.
type Asset struct {
	ID                int64               `json:"id"`
	Symbol            string              `json:"symbol"`
	Name              string              `json:"name"`
	Class             AssetClass          `json:"asset_class"`
	Tradable          bool                `json:"tradable"`
	Marginable        bool                `json:"marginable"`
	Shortable         bool                `json:"shortable"`
	MinOrderSize      decimal.NullDecimal `json:"min_order_size"`
	MinTradeIncrement decimal.NullDecimal `json:"min_trade_increment"`
	CreatedAt         time.Time           `json:"created_at"`
}

// StubAsset is the minimal record used when the broker cannot describe a symbol.
func StubAsset(symbol string) *Asset {
	return &Asset{
		Symbol:   symbol,
		Name:     symbol,
		Class:    AssetClassUSEquity,
		Tradable: true,
	}
}
