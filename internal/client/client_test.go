package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/events"
	"github.com/rzpsarthak13/inventory-sync/internal/intake"
)

const remoteURL = "https://inventory.example.com/api/v1"

type yamlConfig string

func (y yamlConfig) GetYAML() ([]byte, error) { return []byte(y), nil }

const offlineConfig = `
kvstore:
  type: memory
remote:
  base_url: https://inventory.example.com/api/v1
  organization_id: "6001"
auth:
  access_token: token-1
network:
  start_online: false
sync:
  drain_rate: 0
`

func newTestClient(t *testing.T, config string) (*ClientImpl, *events.MemoryPublisher) {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(gock.Off)

	publisher := events.NewMemoryPublisher(100)
	c, err := NewClientImpl(context.Background(), yamlConfig(config), Dependencies{
		HTTPClient: httpClient,
		Publisher:  publisher,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, publisher
}

func request() intake.Request {
	return intake.Request{
		SKU:        "SKU-1",
		Action:     core.ActionAdd,
		Quantity:   4,
		Reason:     "Stock received",
		LocationID: "loc-1",
		ItemID:     "item-1",
		ItemName:   "Widget",
	}
}

func TestNewClientRequiresOrganization(t *testing.T) {
	_, err := NewClientImpl(context.Background(), yamlConfig("kvstore:\n  type: memory\n"), Dependencies{})
	assert.Error(t, err)

	_, err = NewClientImpl(context.Background(), nil, Dependencies{})
	assert.Error(t, err)
}

func TestOfflineSubmitSyncsWhenBackOnline(t *testing.T) {
	c, publisher := newTestClient(t, offlineConfig)
	require.NoError(t, c.Start(context.Background()))

	op, err := c.Submit(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, op.Status)
	assert.Equal(t, 1, c.Engine().QueueLen())

	gock.New(remoteURL).
		Post("/inventoryadjustments").
		MatchParam("organization_id", "6001").
		MatchHeader("X-Idempotency-Key", op.OperationID).
		Reply(201).
		JSON(map[string]any{"code": 0, "inventory_adjustment": map[string]any{"inventory_adjustment_id": "adj-9"}})

	c.Monitor().SetOverride(true)
	c.Engine().Wait()

	synced, err := c.Engine().Operation(op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusSynced, synced.Status)
	assert.Equal(t, "adj-9", synced.RemoteAdjustmentID)
	assert.Zero(t, c.Engine().QueueLen())
	assert.True(t, gock.IsDone())

	var to []core.Status
	for _, ev := range publisher.Drain() {
		to = append(to, ev.To)
	}
	assert.Equal(t, []core.Status{core.StatusPending, core.StatusSyncing, core.StatusSynced}, to)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	c, _ := newTestClient(t, offlineConfig)

	req := request()
	req.Quantity = 0
	_, err := c.Submit(context.Background(), req)

	var verr *intake.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, c.Engine().QueueLen())
}

func TestLookupItemUsesRemote(t *testing.T) {
	c, _ := newTestClient(t, offlineConfig)
	gock.New(remoteURL).
		Get("/items").
		MatchParam("sku", "SKU-1").
		Reply(200).
		JSON(map[string]any{"code": 0, "items": []any{map[string]any{
			"item_id": "item-1", "name": "Widget", "sku": "SKU-1", "is_batch_tracked": true,
		}}})

	item, err := c.LookupItem(context.Background(), "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ItemID)
	assert.True(t, item.BatchTracked)
}

func TestClosedClientRejectsCalls(t *testing.T) {
	c, _ := newTestClient(t, offlineConfig)
	require.NoError(t, c.Close())

	_, err := c.Submit(context.Background(), request())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestHungRemoteTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewClientImpl(context.Background(), yamlConfig(fmt.Sprintf(`
kvstore:
  type: memory
remote:
  base_url: %s
  organization_id: "6001"
  timeout: 100ms
auth:
  access_token: token-1
network:
  start_online: false
sync:
  drain_rate: 0
`, server.URL)), Dependencies{Publisher: events.NewMemoryPublisher(10)})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	op, err := c.Submit(context.Background(), request())
	require.NoError(t, err)

	start := time.Now()
	c.Monitor().SetOverride(true)
	c.Engine().Wait()
	assert.Less(t, time.Since(start), 5*time.Second)

	got, err := c.Engine().Operation(op.OperationID)
	require.NoError(t, err)
	assert.NotEqual(t, core.StatusSyncing, got.Status)
	assert.Equal(t, core.CodeTimeout, got.LastErrorCode)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, c.Engine().QueueLen())
}
