package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/treasury-functions/internal/circuitbreaker"
	"github.com/yourorg/treasury-functions/internal/model"
)

// DefaultPriceURL is the CoinGecko simple price endpoint
const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price"

// PriceClientOptions configures a PriceClient
type PriceClientOptions struct {
	BaseURL string
	APIKey  string

	// RetryMax is the number of retries after the first attempt
	RetryMax int

	// Breaker is optional
	Breaker *circuitbreaker.CircuitBreaker
}

// PriceClient looks up USD prices by oracle asset id
type PriceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewPriceClient creates a new price oracle client
func NewPriceClient(opts PriceClientOptions) *PriceClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultPriceURL
	}
	return &PriceClient{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: StandardClient(NewRetryClient(opts.RetryMax, 15*time.Second)),
		breaker:    opts.Breaker,
	}
}

// FetchPrices returns a quote for every id in ids. An id the oracle does not
// quote is an error wrapping model.ErrMissingPrice.
func (c *PriceClient) FetchPrices(ctx context.Context, ids []string) (model.Prices, error) {
	unique := uniqueIDs(ids)
	if len(unique) == 0 {
		return model.Prices{}, nil
	}

	var prices model.Prices
	call := func() error {
		var err error
		prices, err = c.fetch(ctx, unique)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Do(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	for _, id := range unique {
		if _, err := prices.USD(id); err != nil {
			return nil, err
		}
	}
	return prices, nil
}

func (c *PriceClient) fetch(ctx context.Context, ids []string) (model.Prices, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	logrus.Debugf("Fetching prices for %d assets", len(ids))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("price API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var prices model.Prices
	if err := json.NewDecoder(resp.Body).Decode(&prices); err != nil {
		return nil, fmt.Errorf("error decoding prices: %w", err)
	}
	return prices, nil
}

// uniqueIDs drops blanks and duplicates and sorts, so equal id sets produce equal requests
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
