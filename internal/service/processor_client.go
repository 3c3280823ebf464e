package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

var errLookupDisabled = errors.New("processor API key not configured")

// ProcessorClient reads payment intents and checkout sessions from the
// processor's REST API.
type ProcessorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewProcessorClient(baseURL, apiKey string) *ProcessorClient {
	return &ProcessorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     util.GetLogger(),
	}
}

// PaymentIntentMetadata returns the metadata map of one payment intent.
func (c *ProcessorClient) PaymentIntentMetadata(ctx context.Context, paymentIntentID string) (map[string]string, error) {
	ctx, span := util.StartSpan(ctx, "ProcessorClient.PaymentIntentMetadata")
	defer span.End()

	var intent struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	path := "/v1/payment_intents/" + url.PathEscape(paymentIntentID)
	if err := c.get(ctx, path, &intent); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("payment intent lookup: %w", err)
	}

	c.logger.Debug("Fetched payment intent metadata",
		zap.String("payment_intent", paymentIntentID),
		zap.Int("keys", len(intent.Metadata)))
	return intent.Metadata, nil
}

// SessionLineItems lists the line items of a checkout session. Session
// webhooks do not carry them inline.
func (c *ProcessorClient) SessionLineItems(ctx context.Context, sessionID string) ([]models.ProcessorLineItem, error) {
	ctx, span := util.StartSpan(ctx, "ProcessorClient.SessionLineItems")
	defer span.End()

	var list models.ProcessorLineItems
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID) + "/line_items?limit=100"
	if err := c.get(ctx, path, &list); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("session line items lookup: %w", err)
	}

	c.logger.Debug("Fetched session line items",
		zap.String("session", sessionID),
		zap.Int("items", len(list.Data)))
	return list.Data, nil
}

func (c *ProcessorClient) get(ctx context.Context, path string, out interface{}) error {
	if c.apiKey == "" {
		return errLookupDisabled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
