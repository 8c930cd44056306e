package inventoryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/telemetry"
)

const (
	// IdempotencyHeader carries the operation id so the remote side can
	// collapse resubmissions of the same operation.
	IdempotencyHeader = "X-Idempotency-Key"

	batchFieldLabel = "Batch Number"
	maxErrorBody    = 64 << 10
)

// Config contains configuration for the inventory API client.
type Config struct {
	BaseURL        string
	OrganizationID string
	Timeout        time.Duration
}

// Client implements core.AdjustmentClient over the inventory REST API.
// It never retries; retry policy belongs to the sync engine.
type Client struct {
	config      Config
	httpClient  *http.Client
	credentials core.CredentialProvider
	reporter    telemetry.Reporter
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewClient creates an API client. config.Timeout bounds every request,
// whatever httpClient is passed in.
func NewClient(config Config, httpClient *http.Client, credentials core.CredentialProvider, reporter telemetry.Reporter, logger *zap.SugaredLogger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if config.OrganizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential provider is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config:      config,
		httpClient:  httpClient,
		credentials: credentials,
		reporter:    reporter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

type customField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type lineItem struct {
	ItemID           string        `json:"item_id"`
	LocationID       string        `json:"location_id"`
	QuantityAdjusted int           `json:"quantity_adjusted"`
	CustomFields     []customField `json:"custom_fields,omitempty"`
}

type adjustmentPayload struct {
	Reason         string     `json:"reason"`
	Description    string     `json:"description,omitempty"`
	Date           string     `json:"date"`
	AdjustmentType string     `json:"adjustment_type"`
	LineItems      []lineItem `json:"line_items"`
}

// envelope is the part every response body shares.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type adjustmentResponse struct {
	envelope
	InventoryAdjustment *struct {
		InventoryAdjustmentID string `json:"inventory_adjustment_id"`
	} `json:"inventory_adjustment"`
}

type itemsResponse struct {
	envelope
	Items []struct {
		ItemID          string `json:"item_id"`
		Name            string `json:"name"`
		SKU             string `json:"sku"`
		IsBatchTracked  bool   `json:"is_batch_tracked"`
		ShelfLifeInDays int    `json:"shelf_life_in_days"`
	} `json:"items"`
}

type warehousesResponse struct {
	envelope
	Warehouses []struct {
		WarehouseID   string `json:"warehouse_id"`
		WarehouseName string `json:"warehouse_name"`
	} `json:"warehouses"`
}

type reasonsResponse struct {
	envelope
	Reasons []struct {
		ReasonID string `json:"reason_id"`
		Name     string `json:"name"`
		Type     string `json:"type"`
	} `json:"reasons"`
}

// SubmitAdjustment creates one quantity adjustment and returns its remote id.
func (c *Client) SubmitAdjustment(ctx context.Context, req core.AdjustmentRequest) (string, error) {
	item := lineItem{
		ItemID:           req.ItemID,
		LocationID:       req.LocationID,
		QuantityAdjusted: req.SignedQuantity,
	}
	if req.BatchTag != "" {
		item.CustomFields = []customField{{Label: batchFieldLabel, Value: req.BatchTag}}
	}
	payload := adjustmentPayload{
		Reason:         req.Reason,
		Description:    req.Description,
		Date:           c.now().Format("2006-01-02"),
		AdjustmentType: "quantity",
		LineItems:      []lineItem{item},
	}

	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers[IdempotencyHeader] = req.IdempotencyKey
	}

	var resp adjustmentResponse
	status, err := c.do(ctx, http.MethodPost, "/inventoryadjustments", nil, payload, headers, &resp)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", c.fail(http.MethodPost, "/inventoryadjustments", apiError(status, resp.Code, resp.Message))
	}
	if resp.InventoryAdjustment == nil || resp.InventoryAdjustment.InventoryAdjustmentID == "" {
		return "", c.fail(http.MethodPost, "/inventoryadjustments", apiError(status, resp.Code, "response carried no adjustment id"))
	}
	return resp.InventoryAdjustment.InventoryAdjustmentID, nil
}

// FetchItemBySku returns the first item matching sku.
func (c *Client) FetchItemBySku(ctx context.Context, sku string) (*core.ItemInfo, error) {
	var resp itemsResponse
	if _, err := c.do(ctx, http.MethodGet, "/items", url.Values{"sku": {sku}}, nil, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, &core.RemoteError{
			Status:      http.StatusNotFound,
			Code:        core.CodeNotFound,
			Message:     fmt.Sprintf("Item with SKU %s not found", sku),
			UserMessage: "The requested item was not found in the inventory system",
		}
	}
	item := resp.Items[0]
	return &core.ItemInfo{
		ItemID:        item.ItemID,
		Name:          item.Name,
		SKU:           item.SKU,
		BatchTracked:  item.IsBatchTracked,
		ShelfLifeDays: item.ShelfLifeInDays,
	}, nil
}

// FetchLocations lists the organization's warehouses.
func (c *Client) FetchLocations(ctx context.Context) ([]core.LocationInfo, error) {
	var resp warehousesResponse
	if _, err := c.do(ctx, http.MethodGet, "/warehouses", nil, nil, nil, &resp); err != nil {
		return nil, err
	}
	locations := make([]core.LocationInfo, 0, len(resp.Warehouses))
	for _, w := range resp.Warehouses {
		locations = append(locations, core.LocationInfo{LocationID: w.WarehouseID, LocationName: w.WarehouseName})
	}
	return locations, nil
}

// FetchAdjustmentReasons lists the reasons configured for inventory adjustments.
func (c *Client) FetchAdjustmentReasons(ctx context.Context) ([]core.AdjustmentReason, error) {
	var resp reasonsResponse
	query := url.Values{"type": {"inventory_adjustment"}}
	if _, err := c.do(ctx, http.MethodGet, "/settings/reasons", query, nil, nil, &resp); err != nil {
		return nil, err
	}
	reasons := make([]core.AdjustmentReason, 0, len(resp.Reasons))
	for _, r := range resp.Reasons {
		reasons = append(reasons, core.AdjustmentReason{ReasonID: r.ReasonID, Name: r.Name, Type: r.Type})
	}
	return reasons, nil
}

// do performs one request and decodes a 2xx body into out. Every failure is a *core.RemoteError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string, out any) (int, error) {
	token, err := c.credentials.AccessToken(ctx)
	if err != nil {
		return 0, c.fail(method, path, credentialsError(err))
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("organization_id", c.config.OrganizationID)
	endpoint := c.config.BaseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.reporter.AddBreadcrumb("api", method+" "+path, map[string]any{"organization_id": c.config.OrganizationID})
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, c.fail(method, path, transportError(err))
	}
	defer resp.Body.Close()

	c.logger.Debugw("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(data, &env)
		return resp.StatusCode, c.fail(method, path, statusError(resp.StatusCode, env.Code, env.Message))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, c.fail(method, path, &core.RemoteError{
			Status:      resp.StatusCode,
			Code:        core.CodeAPIError,
			Message:     "failed to decode response",
			UserMessage: core.MsgUnexpectedError,
			Err:         err,
		})
	}
	return resp.StatusCode, nil
}

// fail logs and reports re. Expected failures (4xx, offline) are not sent to the reporter.
func (c *Client) fail(method, path string, re *core.RemoteError) *core.RemoteError {
	c.logger.Warnw("api call failed", "method", method, "path", path, "status", re.Status, "code", re.Code, "message", re.Message)
	if re.Code == core.CodeAPIError || re.Code == core.CodeUnknownError {
		c.reporter.CaptureError(re, map[string]string{
			"context": "api",
			"method":  method,
			"path":    path,
			"code":    re.Code,
		})
	}
	return re
}

var _ core.AdjustmentClient = (*Client)(nil)
