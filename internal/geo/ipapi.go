package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPProvider queries an ip-api.com compatible JSON endpoint.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

type ipAPIResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
}

func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	reqURL := p.endpoint + url.PathEscape(ip) + "?fields=status,message,country,countryCode,city"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build geo request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("failed to query geo provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo provider returned status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("geo provider failed: %s", body.Message)
	}

	return Location{
		Country:     body.Country,
		CountryCode: body.CountryCode,
		City:        body.City,
	}, nil
}
