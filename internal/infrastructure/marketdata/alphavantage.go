package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
	"golang.org/x/time/rate"
)

const AlphaVantageURL = "https://www.alphavantage.co/query"

type AlphaVantageOptions struct {
	APIKey          string
	BaseURL         string
	RateLimitPerSec float64
	RateBurst       int
}

// AlphaVantageClient reads company fundamentals and symbol search results.
// Alpha Vantage answers 200 even for errors, so the body is checked for
// "Error Message", "Note" and "Information" keys.
type AlphaVantageClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewAlphaVantageClient(opts AlphaVantageOptions, httpClient *http.Client) *AlphaVantageClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = AlphaVantageURL
	}
	limit := rate.Inf
	if opts.RateLimitPerSec > 0 {
		limit = rate.Limit(opts.RateLimitPerSec)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &AlphaVantageClient{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

type avOverview struct {
	Symbol               string `json:"Symbol"`
	Name                 string `json:"Name"`
	Description          string `json:"Description"`
	Exchange             string `json:"Exchange"`
	Currency             string `json:"Currency"`
	Country              string `json:"Country"`
	Sector               string `json:"Sector"`
	Industry             string `json:"Industry"`
	MarketCapitalization string `json:"MarketCapitalization"`
	PERatio              string `json:"PERatio"`
	EPS                  string `json:"EPS"`
	DividendYield        string `json:"DividendYield"`
	Beta                 string `json:"Beta"`
	FiftyTwoWeekHigh     string `json:"52WeekHigh"`
	FiftyTwoWeekLow      string `json:"52WeekLow"`
}

type avSearch struct {
	BestMatches []struct {
		Symbol     string `json:"1. symbol"`
		Name       string `json:"2. name"`
		Type       string `json:"3. type"`
		Region     string `json:"4. region"`
		Currency   string `json:"8. currency"`
		MatchScore string `json:"9. matchScore"`
	} `json:"bestMatches"`
}

type avStatus struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (c *AlphaVantageClient) query(ctx context.Context, op string, params url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &domain.BrokerError{Op: op, Message: "alpha vantage api key is not configured"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.BrokerError{Op: op, Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	params.Set("apikey", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.BrokerError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BrokerError{Op: op, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.BrokerError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var status avStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &domain.BrokerError{Op: op, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	switch {
	case status.ErrorMessage != "":
		return nil, &domain.BrokerError{Op: op, Message: status.ErrorMessage}
	case status.Note != "":
		return nil, &domain.BrokerError{Op: op, StatusCode: http.StatusTooManyRequests, Message: status.Note}
	case status.Information != "":
		return nil, &domain.BrokerError{Op: op, StatusCode: http.StatusTooManyRequests, Message: status.Information}
	}
	return body, nil
}

// CompanyOverview returns NotFoundError when Alpha Vantage has no record,
// which it signals with an empty object.
func (c *AlphaVantageClient) CompanyOverview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)

	body, err := c.query(ctx, "alphavantage_overview", params)
	if err != nil {
		return nil, err
	}

	var o avOverview
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, &domain.BrokerError{Op: "alphavantage_overview", Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if o.Symbol == "" {
		return nil, &domain.NotFoundError{Resource: "company", Key: symbol}
	}

	return &domain.CompanyOverview{
		Symbol:           o.Symbol,
		Name:             o.Name,
		Description:      o.Description,
		Exchange:         o.Exchange,
		Currency:         o.Currency,
		Country:          o.Country,
		Sector:           o.Sector,
		Industry:         o.Industry,
		MarketCap:        parseFigure(o.MarketCapitalization),
		PERatio:          parseFigure(o.PERatio),
		EPS:              parseFigure(o.EPS),
		DividendYield:    parseFigure(o.DividendYield),
		Beta:             parseFigure(o.Beta),
		FiftyTwoWeekHigh: parseFigure(o.FiftyTwoWeekHigh),
		FiftyTwoWeekLow:  parseFigure(o.FiftyTwoWeekLow),
	}, nil
}

func (c *AlphaVantageClient) SearchSymbols(ctx context.Context, keywords string) ([]domain.SymbolMatch, error) {
	params := url.Values{}
	params.Set("function", "SYMBOL_SEARCH")
	params.Set("keywords", keywords)

	body, err := c.query(ctx, "alphavantage_search", params)
	if err != nil {
		return nil, err
	}

	var result avSearch
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &domain.BrokerError{Op: "alphavantage_search", Message: fmt.Sprintf("malformed response: %v", err)}
	}

	matches := make([]domain.SymbolMatch, 0, len(result.BestMatches))
	for _, m := range result.BestMatches {
		score, err := decimal.NewFromString(m.MatchScore)
		if err != nil {
			score = decimal.Zero
		}
		matches = append(matches, domain.SymbolMatch{
			Symbol:     m.Symbol,
			Name:       m.Name,
			Type:       m.Type,
			Region:     m.Region,
			Currency:   m.Currency,
			MatchScore: score,
		})
	}
	return matches, nil
}

// parseFigure maps Alpha Vantage placeholders ("None", "-", "") to null.
func parseFigure(raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
