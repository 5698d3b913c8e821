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

const CoinGeckoURL = "https://api.coingecko.com/api/v3"

type CoinGeckoOptions struct {
	BaseURL         string
	RateLimitPerSec float64
	RateBurst       int
}

// CoinGeckoClient reads spot prices from the public CoinGecko API.
type CoinGeckoClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewCoinGeckoClient(opts CoinGeckoOptions, httpClient *http.Client) *CoinGeckoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = CoinGeckoURL
	}
	limit := rate.Inf
	if opts.RateLimitPerSec > 0 {
		limit = rate.Limit(opts.RateLimitPerSec)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// SimplePrice returns the entries CoinGecko knows about; unknown ids are
// simply absent from the result.
func (c *CoinGeckoClient) SimplePrice(ctx context.Context, ids []string, vsCurrency string) (map[string]domain.CryptoPrice, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.BrokerError{Op: "coingecko_simple_price", Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	vs := strings.ToLower(vsCurrency)
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", vs)
	q.Set("include_24hr_change", "true")
	q.Set("include_24hr_vol", "true")
	q.Set("include_last_updated_at", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.BrokerError{Op: "coingecko_simple_price", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BrokerError{Op: "coingecko_simple_price", StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.BrokerError{Op: "coingecko_simple_price", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var result map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &domain.BrokerError{Op: "coingecko_simple_price", Message: fmt.Sprintf("malformed response: %v", err)}
	}

	prices := make(map[string]domain.CryptoPrice, len(result))
	for id, fields := range result {
		price, ok := fields[vs]
		if !ok {
			continue
		}
		prices[id] = domain.CryptoPrice{
			ID:            id,
			VsCurrency:    vs,
			Price:         price,
			Change24hPct:  fields[vs+"_24h_change"],
			Volume24h:     fields[vs+"_24h_vol"],
			LastUpdatedAt: fields["last_updated_at"].IntPart(),
		}
	}
	return prices, nil
}
