package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// NeedsLimitPrice reports whether orders of this type carry a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether orders of this type carry a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state reported by the broker. Values the
// gateway does not model explicitly (pending_cancel, pending_replace, ...)
// are stored verbatim.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusPendingCancel   OrderStatus = "pending_cancel"
	OrderStatusPendingReplace  OrderStatus = "pending_replace"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// HasFills reports whether the status implies executed quantity.
func (s OrderStatus) HasFills() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// Order is one buy or sell instruction recorded in the local ledger ("trade").
type Order struct {
	ID             int64               `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	ExternalID     string              `json:"external_id"`
	AssetID        int64               `json:"asset_id"`
	Symbol         string              `json:"symbol"`
	Side           OrderSide           `json:"side"`
	Type           OrderType           `json:"type"`
	TimeInForce    TimeInForce         `json:"time_in_force"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Price          decimal.NullDecimal `json:"price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	FilledQuantity decimal.Decimal     `json:"filled_quantity"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	Status         OrderStatus         `json:"status"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	CanceledAt     *time.Time          `json:"canceled_at"`
	ExpiredAt      *time.Time          `json:"expired_at"`
	Metadata       OrderMetadata       `json:"metadata"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// OrderMetadata keeps the broker's raw acknowledgement next to caller tags.
type OrderMetadata struct {
	BrokerOrder json.RawMessage   `json:"broker_order,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// FilledValue is filled quantity times average fill price.
func (o *Order) FilledValue() decimal.Decimal {
	if !o.FilledAvgPrice.Valid {
		return decimal.Zero
	}
	return o.FilledQuantity.Mul(o.FilledAvgPrice.Decimal)
}

// OrderFilter narrows order listings. Zero values mean "any".
type OrderFilter struct {
	Symbol  string
	Status  OrderStatus
	Side    OrderSide
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 25
	MaxPerPage     = 100
)

// Normalize clamps paging to sane bounds.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}
	return f
}

// OrderRequest is what the gateway sends to the broker.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Quantity      decimal.Decimal
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    decimal.NullDecimal
	StopPrice     decimal.NullDecimal
}

// BrokerOrder is the broker's point-in-time view of an order.
type BrokerOrder struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	TimeInForce    TimeInForce
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	FilledAvgPrice decimal.NullDecimal
	LimitPrice     decimal.NullDecimal
	StopPrice      decimal.NullDecimal
	Status         OrderStatus
	SubmittedAt    *time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
	ExpiredAt      *time.Time
	Raw            json.RawMessage
}

// Inconsistency records a broker order that has no local ledger row.
type Inconsistency struct {
	ID            int64           `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	ExternalID    string          `json:"external_id"`
	Symbol        string          `json:"symbol"`
	Reason        string          `json:"reason"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
	ResolvedAt    *time.Time      `json:"resolved_at"`
}
