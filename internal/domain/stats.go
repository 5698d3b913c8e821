package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type MarketDataType string

const (
	MarketDataQuote MarketDataType = "quote"
	MarketDataTrade MarketDataType = "trade"
	MarketDataBar   MarketDataType = "bar"
)

// Quote is the latest top-of-book for a symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	BidSize   int64           `json:"bid_size"`
	AskSize   int64           `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"-"`
}

// MidPrice falls back to whichever side is quoted.
func (q *Quote) MidPrice() decimal.Decimal {
	switch {
	case q.BidPrice.IsPositive() && q.AskPrice.IsPositive():
		return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
	case q.AskPrice.IsPositive():
		return q.AskPrice
	default:
		return q.BidPrice
	}
}

// MarketSnapshot is a normalized market data row kept for audit.
type MarketSnapshot struct {
	ID              int64               `json:"id"`
	Symbol          string              `json:"symbol"`
	DataType        MarketDataType      `json:"data_type"`
	Price           decimal.NullDecimal `json:"price"`
	BidPrice        decimal.NullDecimal `json:"bid_price"`
	AskPrice        decimal.NullDecimal `json:"ask_price"`
	BidSize         int64               `json:"bid_size"`
	AskSize         int64               `json:"ask_size"`
	MarketTimestamp time.Time           `json:"market_timestamp"`
	RawData         json.RawMessage     `json:"raw_data,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// CryptoPrice is a CoinGecko simple price entry.
type CryptoPrice struct {
	ID            string          `json:"id"`
	VsCurrency    string          `json:"vs_currency"`
	Price         decimal.Decimal `json:"price"`
	Change24hPct  decimal.Decimal `json:"change_24h_pct"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	LastUpdatedAt int64           `json:"last_updated_at"`
}

// Bar timeframes accepted by the historical data endpoint.
const (
	Timeframe1Min  = "1Min"
	Timeframe5Min  = "5Min"
	Timeframe15Min = "15Min"
	Timeframe30Min = "30Min"
	Timeframe1Hour = "1Hour"
	Timeframe1Day  = "1Day"
)

func ValidTimeframe(tf string) bool {
	switch tf {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe30Min, Timeframe1Hour, Timeframe1Day:
		return true
	}
	return false
}

// BarsRequest selects historical bars. Zero Start/End leave the window to
// the broker.
type BarsRequest struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp  time.Time       `json:"timestamp"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     int64           `json:"volume"`
	TradeCount int64           `json:"trade_count"`
	VWAP       decimal.Decimal `json:"vwap"`
}

// CompanyOverview is fundamental reference data for a listed company.
// Figures the provider does not report are null.
type CompanyOverview struct {
	Symbol           string              `json:"symbol"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Exchange         string              `json:"exchange"`
	Currency         string              `json:"currency"`
	Country          string              `json:"country"`
	Sector           string              `json:"sector"`
	Industry         string              `json:"industry"`
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	PERatio          decimal.NullDecimal `json:"pe_ratio"`
	EPS              decimal.NullDecimal `json:"eps"`
	DividendYield    decimal.NullDecimal `json:"dividend_yield"`
	Beta             decimal.NullDecimal `json:"beta"`
	FiftyTwoWeekHigh decimal.NullDecimal `json:"52_week_high"`
	FiftyTwoWeekLow  decimal.NullDecimal `json:"52_week_low"`
}

// SymbolMatch is one symbol search hit.
type SymbolMatch struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Region     string          `json:"region"`
	Currency   string          `json:"currency"`
	MatchScore decimal.Decimal `json:"match_score"`
}
