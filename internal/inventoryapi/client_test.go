package inventoryapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/inventory-sync/internal/auth"
	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

const baseURL = "https://inventory.example.com/api/v1"

func newTestClient(t *testing.T, token string) *Client {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(gock.Off)

	c, err := NewClient(Config{BaseURL: baseURL + "/", OrganizationID: "60012345", Timeout: time.Second},
		httpClient, auth.NewStaticProvider(token), nil, nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil, auth.NewStaticProvider("t"), nil, nil)
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: baseURL}, nil, auth.NewStaticProvider("t"), nil, nil)
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: baseURL, OrganizationID: "1"}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestSubmitAdjustment(t *testing.T) {
	c := newTestClient(t, "token-1")

	gock.New(baseURL).
		Post("/inventoryadjustments").
		MatchParam("organization_id", "60012345").
		MatchHeader("Authorization", "^Zoho-oauthtoken token-1$").
		MatchHeader(IdempotencyHeader, "op-1").
		AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				return false, err
			}
			var payload adjustmentPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return false, err
			}
			ok := payload.Reason == "Stock count" &&
				payload.Date == "2025-04-02" &&
				payload.AdjustmentType == "quantity" &&
				len(payload.LineItems) == 1 &&
				payload.LineItems[0].QuantityAdjusted == -3 &&
				payload.LineItems[0].LocationID == "loc-1" &&
				len(payload.LineItems[0].CustomFields) == 1 &&
				payload.LineItems[0].CustomFields[0].Label == "Batch Number" &&
				payload.LineItems[0].CustomFields[0].Value == "BATCH01"
			return ok, nil
		}).
		Reply(201).
		JSON(map[string]any{
			"code":                 0,
			"message":              "Inventory Adjustment has been added",
			"inventory_adjustment": map[string]any{"inventory_adjustment_id": "adj-900"},
		})

	id, err := c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{
		IdempotencyKey: "op-1",
		ItemID:         "item-1",
		LocationID:     "loc-1",
		SignedQuantity: -3,
		Reason:         "Stock count",
		BatchTag:       "BATCH01",
	})
	require.NoError(t, err)
	assert.Equal(t, "adj-900", id)
	assert.True(t, gock.IsDone())
}

func TestSubmitAdjustmentNonZeroCode(t *testing.T) {
	c := newTestClient(t, "token-1")

	gock.New(baseURL).
		Post("/inventoryadjustments").
		Reply(200).
		JSON(map[string]any{"code": 1001, "message": "Item is inactive"})

	_, err := c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
	re := core.AsRemoteError(err)
	assert.Equal(t, core.CodeAPIError, re.Code)
	assert.Equal(t, "Item is inactive", re.Message)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{400, core.CodeBadRequest},
		{401, core.CodeUnauthorized},
		{404, core.CodeNotFound},
		{429, core.CodeRateLimit},
		{500, core.CodeAPIError},
		{503, core.CodeAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestClient(t, "token-1")
			gock.New(baseURL).
				Post("/inventoryadjustments").
				Reply(tt.status).
				JSON(map[string]any{"code": 57, "message": "remote says no"})

			_, err := c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
			var re *core.RemoteError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.code, re.Code)
			assert.Equal(t, "remote says no", re.Message)
		})
	}
}

func TestUnauthorizedCarriesSessionMessage(t *testing.T) {
	c := newTestClient(t, "token-1")
	gock.New(baseURL).Get("/warehouses").Reply(401)

	_, err := c.FetchLocations(context.Background())
	re := core.AsRemoteError(err)
	assert.Equal(t, core.CodeUnauthorized, re.Code)
	assert.Equal(t, core.MsgSessionExpired, re.UserMessage)
}

func TestMissingCredentials(t *testing.T) {
	c := newTestClient(t, "")

	_, err := c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
	re := core.AsRemoteError(err)
	assert.Equal(t, core.CodeNoCredentials, re.Code)
	assert.ErrorIs(t, err, core.ErrNoCredentials)
}

func TestNetworkAndTimeoutErrors(t *testing.T) {
	c := newTestClient(t, "token-1")
	gock.New(baseURL).Post("/inventoryadjustments").ReplyError(errors.New("connection refused"))

	_, err := c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
	assert.Equal(t, core.CodeNetworkError, core.AsRemoteError(err).Code)

	c = newTestClient(t, "token-1")
	gock.New(baseURL).Post("/inventoryadjustments").ReplyError(context.DeadlineExceeded)

	_, err = c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
	assert.Equal(t, core.CodeTimeout, core.AsRemoteError(err).Code)
}

func TestTimeoutAppliesToInjectedClient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClient(Config{BaseURL: server.URL, OrganizationID: "60012345", Timeout: 100 * time.Millisecond},
		&http.Client{}, auth.NewStaticProvider("token-1"), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.SubmitAdjustment(context.Background(), core.AdjustmentRequest{ItemID: "item-1", SignedQuantity: 1})
	require.Error(t, err)
	assert.Equal(t, core.CodeTimeout, core.AsRemoteError(err).Code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchItemBySku(t *testing.T) {
	c := newTestClient(t, "token-1")
	gock.New(baseURL).
		Get("/items").
		MatchParam("sku", "TEST-SKU-001").
		MatchParam("organization_id", "60012345").
		Reply(200).
		JSON(map[string]any{
			"code": 0,
			"items": []map[string]any{
				{"item_id": "item-1", "name": "Saline 500ml", "sku": "TEST-SKU-001", "is_batch_tracked": true, "shelf_life_in_days": 365},
				{"item_id": "item-2", "name": "ignored", "sku": "TEST-SKU-001"},
			},
		})

	item, err := c.FetchItemBySku(context.Background(), "TEST-SKU-001")
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ItemID)
	assert.True(t, item.BatchTracked)
	assert.Equal(t, 365, item.ShelfLifeDays)
	assert.True(t, item.RequiresExpiryDate())
}

func TestFetchItemBySkuNotFound(t *testing.T) {
	c := newTestClient(t, "token-1")
	gock.New(baseURL).Get("/items").Reply(200).JSON(map[string]any{"code": 0, "items": []any{}})

	_, err := c.FetchItemBySku(context.Background(), "NOPE")
	re := core.AsRemoteError(err)
	assert.Equal(t, core.CodeNotFound, re.Code)
	assert.Equal(t, http.StatusNotFound, re.Status)
}

func TestFetchLocationsAndReasons(t *testing.T) {
	c := newTestClient(t, "token-1")
	gock.New(baseURL).Get("/warehouses").Reply(200).JSON(map[string]any{
		"code": 0,
		"warehouses": []map[string]any{
			{"warehouse_id": "w1", "warehouse_name": "Main"},
			{"warehouse_id": "w2", "warehouse_name": "Cold Room"},
		},
	})
	gock.New(baseURL).Get("/settings/reasons").MatchParam("type", "inventory_adjustment").Reply(200).JSON(map[string]any{
		"code":    0,
		"reasons": []map[string]any{{"reason_id": "r1", "name": "Damaged", "type": "inventory_adjustment"}},
	})

	locations, err := c.FetchLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.LocationInfo{{LocationID: "w1", LocationName: "Main"}, {LocationID: "w2", LocationName: "Cold Room"}}, locations)

	reasons, err := c.FetchAdjustmentReasons(context.Background())
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Equal(t, "Damaged", reasons[0].Name)
}
