// Package courier talks to the shipping aggregator used to book collections.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

var ErrNotConfigured = errors.New("COURIER_BASE_URL is not configured")

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(env.GetEnv("COURIER_BASE_URL", "")), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("COURIER_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type PickupRequest struct {
	OrderID         string         `json:"order_id"`
	ServiceLevel    string         `json:"service_level"`
	Parcel          string         `json:"parcel_description"`
	DeliveryAddress map[string]any `json:"delivery_address,omitempty"`
}

type Pickup struct {
	Courier        string    `json:"courier"`
	ServiceLevel   string    `json:"service_level"`
	TrackingNumber string    `json:"tracking_number"`
	PickupDate     time.Time `json:"pickup_date"`
	DeliveryFee    int64     `json:"delivery_fee"`
}

// SchedulePickup books a collection from the seller for a committed order.
func (c *Client) SchedulePickup(ctx context.Context, in PickupRequest) (*Pickup, error) {
	if c == nil || c.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if in.ServiceLevel == "" {
		in.ServiceLevel = "standard"
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/shipments", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("courier pickup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Pickup
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
