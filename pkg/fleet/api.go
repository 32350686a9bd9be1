package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wallcharge/internal/log"
)

// MaxResponseLength bounds how much of an upstream response body is read.
const MaxResponseLength = 10 * 1024 * 1024

// ResourceTypeWallConnector marks the charger-hardware products whose sites
// carry charge telemetry.
const ResourceTypeWallConnector = "wall_connector"

// Product is one entry of the account's product list. Fields irrelevant to
// charge attribution are ignored.
type Product struct {
	ResourceType string `json:"resource_type"`
	EnergySiteID int64  `json:"energy_site_id"`
	Din          string `json:"din"`
}

// Timestamp is the wire encoding of charge event times.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, 0)
}

// ChargeRecord is a single charge event as reported by telemetry history.
type ChargeRecord struct {
	Din             string    `json:"din"`
	ChargeStartTime Timestamp `json:"charge_start_time"`
	EnergyAddedWh   float64   `json:"energy_added_wh"`
}

// ChargeHistory is the telemetry_history response payload for kind=charge.
type ChargeHistory struct {
	ChargeHistory []ChargeRecord `json:"charge_history"`
}

// TelemetryWindow scopes a telemetry history query.
type TelemetryWindow struct {
	StartDate string
	EndDate   string
	TimeZone  string
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error) {
	u := fmt.Sprintf("https://%s/%s", c.Host, endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	log.Debug("Requesting %s...", u)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Authorization", c.authHeader)

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, endpoint, err)
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength}
	body, err := io.ReadAll(&reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", ErrFetch, endpoint, err)
	}
	log.Debug("Server returned %d: %s", response.StatusCode, body)
	if response.StatusCode != http.StatusOK {
		return nil, &HTTPError{Code: response.StatusCode, Message: string(body)}
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed response from %s: %s", ErrFetch, endpoint, err)
	}
	return envelope.Response, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (json.RawMessage, error) {
	u := fmt.Sprintf("https://%s/%s", c.Host, endpoint)
	request, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	log.Debug("Sending request to %s: %s", u, body)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", c.UserAgent)
	request.Header.Set("Authorization", c.authHeader)

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFetch, endpoint, err)
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength}
	responseBody, err := io.ReadAll(&reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", ErrFetch, endpoint, err)
	}
	log.Debug("Server returned %d: %s", response.StatusCode, responseBody)
	if response.StatusCode != http.StatusOK {
		return nil, &HTTPError{Code: response.StatusCode, Message: string(responseBody)}
	}
	return responseBody, nil
}

// RegisterPartnerAccount performs the one-time partner registration for an
// application domain. The client must be authorized with a partner token
// from the client-credentials grant, not a user token.
func (c *Client) RegisterPartnerAccount(ctx context.Context, domain string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"domain": domain})
	if err != nil {
		return nil, err
	}
	return c.post(ctx, "api/1/partner_accounts", body)
}

// Products lists the account's products.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	payload, err := c.get(ctx, "api/1/products", nil)
	if err != nil {
		return nil, err
	}
	var products []Product
	if err := json.Unmarshal(payload, &products); err != nil {
		return nil, fmt.Errorf("%w: malformed product list: %s", ErrFetch, err)
	}
	return products, nil
}

// ChargeSite returns the energy site of the account's first Wall Connector.
// Accounts without one cannot use this service.
func (c *Client) ChargeSite(ctx context.Context) (int64, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return 0, err
	}
	for _, product := range products {
		if product.ResourceType == ResourceTypeWallConnector {
			return product.EnergySiteID, nil
		}
	}
	return 0, fmt.Errorf("%w: account has no wall connector", ErrFetch)
}

// TelemetryHistory fetches charge telemetry for an energy site and returns
// the raw response payload, preserving fields this service doesn't model.
func (c *Client) TelemetryHistory(ctx context.Context, siteID int64, window TelemetryWindow) (json.RawMessage, error) {
	query := url.Values{
		"kind":       {"charge"},
		"start_date": {window.StartDate},
		"end_date":   {window.EndDate},
		"time_zone":  {window.TimeZone},
	}
	return c.get(ctx, fmt.Sprintf("api/1/energy_sites/%d/telemetry_history", siteID), query)
}
