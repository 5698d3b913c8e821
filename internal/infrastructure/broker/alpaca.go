package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"golang.org/x/time/rate"
)

const (
	AlpacaPaperURL = "https://paper-api.alpaca.markets"
	AlpacaDataURL  = "https://data.alpaca.markets"
)

type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	BaseURL         string
	DataURL         string
	RateLimitPerSec float64
	RateBurst       int
}

// AlpacaClient is a stateless Alpaca REST client. It never retries; every
// non-2xx answer is returned as *domain.BrokerError.
type AlpacaClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	dataURL   string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewAlpacaClient builds a client around an injected *http.Client.
func NewAlpacaClient(opts AlpacaOptions, httpClient *http.Client) *AlpacaClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = AlpacaPaperURL
	}
	dataURL := opts.DataURL
	if dataURL == "" {
		dataURL = AlpacaDataURL
	}
	limit := rate.Inf
	if opts.RateLimitPerSec > 0 {
		limit = rate.Limit(opts.RateLimitPerSec)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &AlpacaClient{
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		dataURL:   strings.TrimRight(dataURL, "/"),
		client:    httpClient,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// --- wire schema ---

type alpacaOrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

type alpacaOrder struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	TimeInForce    string              `json:"time_in_force"`
	Qty            decimal.Decimal     `json:"qty"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	Status         string              `json:"status"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	CanceledAt     *time.Time          `json:"canceled_at"`
	ExpiredAt      *time.Time          `json:"expired_at"`
}

type alpacaPosition struct {
	Symbol         string          `json:"symbol"`
	AssetClass     string          `json:"asset_class"`
	Qty            decimal.Decimal `json:"qty"`
	Side           string          `json:"side"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
}

type alpacaAccount struct {
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	DaytradeCount    int             `json:"daytrade_count"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}

type alpacaAsset struct {
	Symbol            string              `json:"symbol"`
	Name              string              `json:"name"`
	Class             string              `json:"class"`
	Tradable          bool                `json:"tradable"`
	Marginable        bool                `json:"marginable"`
	Shortable         bool                `json:"shortable"`
	MinOrderSize      decimal.NullDecimal `json:"min_order_size"`
	MinTradeIncrement decimal.NullDecimal `json:"min_trade_increment"`
}

type alpacaLatestQuote struct {
	Symbol string `json:"symbol"`
	Quote  struct {
		Timestamp time.Time       `json:"t"`
		AskPrice  decimal.Decimal `json:"ap"`
		AskSize   int64           `json:"as"`
		BidPrice  decimal.Decimal `json:"bp"`
		BidSize   int64           `json:"bs"`
	} `json:"quote"`
}

type alpacaBars struct {
	Symbol string `json:"symbol"`
	Bars   []struct {
		Timestamp  time.Time       `json:"t"`
		Open       decimal.Decimal `json:"o"`
		High       decimal.Decimal `json:"h"`
		Low        decimal.Decimal `json:"l"`
		Close      decimal.Decimal `json:"c"`
		Volume     int64           `json:"v"`
		TradeCount int64           `json:"n"`
		VWAP       decimal.Decimal `json:"vw"`
	} `json:"bars"`
}

type alpacaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// --- REST API ---

func (c *AlpacaClient) sendRequest(ctx context.Context, op, method, fullURL string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.BrokerError{Op: op, Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.BrokerError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BrokerError{Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		var apiErr alpacaError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &domain.BrokerError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

func (c *AlpacaClient) decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.BrokerError{Op: op, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func (c *AlpacaClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	payload := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           req.Quantity,
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice.Valid {
		p := req.LimitPrice.Decimal
		payload.LimitPrice = &p
	}
	if req.StopPrice.Valid {
		p := req.StopPrice.Decimal
		payload.StopPrice = &p
	}

	resp, err := c.sendRequest(ctx, "submit_order", http.MethodPost, c.baseURL+"/v2/orders", payload)
	if err != nil {
		return nil, err
	}
	return c.decodeOrder("submit_order", resp)
}

func (c *AlpacaClient) CancelOrder(ctx context.Context, externalID string) error {
	_, err := c.sendRequest(ctx, "cancel_order", http.MethodDelete, c.baseURL+"/v2/orders/"+url.PathEscape(externalID), nil)
	return err
}

func (c *AlpacaClient) GetOrder(ctx context.Context, externalID string) (*domain.BrokerOrder, error) {
	resp, err := c.sendRequest(ctx, "get_order", http.MethodGet, c.baseURL+"/v2/orders/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	return c.decodeOrder("get_order", resp)
}

func (c *AlpacaClient) GetOrderByClientID(ctx context.Context, clientOrderID string) (*domain.BrokerOrder, error) {
	q := url.Values{}
	q.Set("client_order_id", clientOrderID)
	resp, err := c.sendRequest(ctx, "get_order_by_client_id", http.MethodGet, c.baseURL+"/v2/orders:by_client_order_id?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.decodeOrder("get_order_by_client_id", resp)
}

func (c *AlpacaClient) decodeOrder(op string, data []byte) (*domain.BrokerOrder, error) {
	var o alpacaOrder
	if err := c.decode(op, data, &o); err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, &domain.BrokerError{Op: op, Message: "response has no order id"}
	}
	bo := o.toDomain()
	bo.Raw = json.RawMessage(data)
	return bo, nil
}

func (o *alpacaOrder) toDomain() *domain.BrokerOrder {
	return &domain.BrokerOrder{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           domain.OrderSide(o.Side),
		Type:           domain.OrderType(o.Type),
		TimeInForce:    domain.TimeInForce(o.TimeInForce),
		Quantity:       o.Qty,
		FilledQuantity: o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Status:         domain.OrderStatus(o.Status),
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
		CanceledAt:     o.CanceledAt,
		ExpiredAt:      o.ExpiredAt,
	}
}

func (c *AlpacaClient) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	resp, err := c.sendRequest(ctx, "list_positions", http.MethodGet, c.baseURL+"/v2/positions", nil)
	if err != nil {
		return nil, err
	}

	var result []alpacaPosition
	if err := c.decode("list_positions", resp, &result); err != nil {
		return nil, err
	}

	positions := make([]domain.BrokerPosition, 0, len(result))
	for _, p := range result {
		positions = append(positions, domain.BrokerPosition{
			Symbol:         p.Symbol,
			AssetClass:     domain.AssetClass(p.AssetClass),
			Quantity:       p.Qty,
			Side:           domain.PositionSide(p.Side),
			AvgEntryPrice:  p.AvgEntryPrice,
			MarketValue:    p.MarketValue,
			CostBasis:      p.CostBasis,
			UnrealizedPL:   p.UnrealizedPL,
			UnrealizedPLPC: p.UnrealizedPLPC,
			CurrentPrice:   p.CurrentPrice,
		})
	}
	return positions, nil
}

func (c *AlpacaClient) GetAccount(ctx context.Context) (*domain.Account, error) {
	resp, err := c.sendRequest(ctx, "get_account", http.MethodGet, c.baseURL+"/v2/account", nil)
	if err != nil {
		return nil, err
	}

	var a alpacaAccount
	if err := c.decode("get_account", resp, &a); err != nil {
		return nil, err
	}
	return &domain.Account{
		Equity:           a.Equity,
		Cash:             a.Cash,
		BuyingPower:      a.BuyingPower,
		PortfolioValue:   a.PortfolioValue,
		DaytradeCount:    a.DaytradeCount,
		PatternDayTrader: a.PatternDayTrader,
	}, nil
}

func (c *AlpacaClient) GetAsset(ctx context.Context, symbol string) (*domain.Asset, error) {
	resp, err := c.sendRequest(ctx, "get_asset", http.MethodGet, c.baseURL+"/v2/assets/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, err
	}

	var a alpacaAsset
	if err := c.decode("get_asset", resp, &a); err != nil {
		return nil, err
	}
	class := domain.AssetClass(a.Class)
	if class == "" {
		class = domain.AssetClassUSEquity
	}
	name := a.Name
	if name == "" {
		name = a.Symbol
	}
	return &domain.Asset{
		Symbol:            a.Symbol,
		Name:              name,
		Class:             class,
		Tradable:          a.Tradable,
		Marginable:        a.Marginable,
		Shortable:         a.Shortable,
		MinOrderSize:      a.MinOrderSize,
		MinTradeIncrement: a.MinTradeIncrement,
	}, nil
}

func (c *AlpacaClient) GetLatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	fullURL := c.dataURL + "/v2/stocks/" + url.PathEscape(symbol) + "/quotes/latest"
	resp, err := c.sendRequest(ctx, "latest_quote", http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	var q alpacaLatestQuote
	if err := c.decode("latest_quote", resp, &q); err != nil {
		return nil, err
	}
	if q.Quote.Timestamp.IsZero() {
		return nil, &domain.BrokerError{Op: "latest_quote", Message: "no quote for " + symbol}
	}
	return &domain.Quote{
		Symbol:    symbol,
		BidPrice:  q.Quote.BidPrice,
		AskPrice:  q.Quote.AskPrice,
		BidSize:   q.Quote.BidSize,
		AskSize:   q.Quote.AskSize,
		Timestamp: q.Quote.Timestamp,
		Raw:       json.RawMessage(resp),
	}, nil
}

// GetBars returns one page of historical bars, oldest first.
func (c *AlpacaClient) GetBars(ctx context.Context, req domain.BarsRequest) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("timeframe", req.Timeframe)
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if !req.Start.IsZero() {
		q.Set("start", req.Start.UTC().Format(time.RFC3339))
	}
	if !req.End.IsZero() {
		q.Set("end", req.End.UTC().Format(time.RFC3339))
	}

	fullURL := c.dataURL + "/v2/stocks/" + url.PathEscape(req.Symbol) + "/bars?" + q.Encode()
	resp, err := c.sendRequest(ctx, "bars", http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}

	var result alpacaBars
	if err := c.decode("bars", resp, &result); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(result.Bars))
	for _, b := range result.Bars {
		bars = append(bars, domain.Bar{
			Timestamp:  b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}
	return bars, nil
}
