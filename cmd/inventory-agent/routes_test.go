package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/pkg/inventorysync"
)

const remoteURL = "https://inventory.example.com/api/v1"

func newTestRouter(t *testing.T) (*gin.Engine, inventorysync.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(gock.Off)

	config := inventorysync.DefaultConfig()
	config.KVStore.Type = "memory"
	config.Remote.BaseURL = remoteURL
	config.Remote.OrganizationID = "6001"
	config.Auth.AccessToken = "token-1"
	config.Network.StartOnline = false
	config.Sync.DrainRate = 0

	logger := zap.NewNop().Sugar()
	client, err := inventorysync.NewClient(context.Background(), config,
		inventorysync.WithHTTPClient(httpClient), inventorysync.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return newRouter(client, logger), client
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitAndListOperations(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/operations",
		`{"sku":"SKU-1","action":"add","quantity":3,"reason":"Stock received","location_id":"loc-1","item_id":"item-1","item_name":"Widget"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var op inventorysync.Operation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &op))
	assert.Equal(t, "pending", string(op.Status))

	w = do(router, http.MethodGet, "/queue", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), op.OperationID)

	w = do(router, http.MethodGet, "/operations?status=pending", "")
	assert.Contains(t, w.Body.String(), op.OperationID)

	w = do(router, http.MethodGet, "/operations/"+op.OperationID, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitValidationProblems(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/operations", `{"sku":"SKU-1","action":"ADD","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "problems")
}

func TestRetryUnknownOperation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/operations/nope/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNetworkOverrideDrainsQueue(t *testing.T) {
	router, client := newTestRouter(t)

	w := do(router, http.MethodPost, "/operations",
		`{"sku":"SKU-1","action":"REDUCE","quantity":1,"reason":"Damaged","location_id":"loc-1","item_id":"item-1"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	gock.New(remoteURL).
		Post("/inventoryadjustments").
		Reply(201).
		JSON(map[string]any{"code": 0, "inventory_adjustment": map[string]any{"inventory_adjustment_id": "adj-3"}})

	w = do(router, http.MethodPut, "/network/override", `{"online":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"online":true,"override":true}`, w.Body.String())

	w = do(router, http.MethodPost, "/drain", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Eventually(t, func() bool { return len(client.PendingQueue()) == 0 }, time.Second, 10*time.Millisecond)

	w = do(router, http.MethodDelete, "/network/override", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPut, "/network/override", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLookupItemNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	gock.New(remoteURL).Get("/items").Reply(200).JSON(map[string]any{"code": 0, "items": []any{}})

	w := do(router, http.MethodGet, "/items/UNKNOWN", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":false`)

	w = do(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
