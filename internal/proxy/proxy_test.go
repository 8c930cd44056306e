package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/inventory-sync/internal/database"
)

const (
	upstream = "https://inventory.example.com/api/v1"
	tokenURL = "https://accounts.example.com/oauth/v2/token"
)

type memorySink struct {
	mu      sync.Mutex
	entries []database.HistoryEntry
}

func (m *memorySink) Record(_ context.Context, entry database.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memorySink) all() []database.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.HistoryEntry(nil), m.entries...)
}

func newTestRouter(t *testing.T, config Config, sink HistorySink) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(gock.Off)

	if config.InventoryBaseURL == "" {
		config.InventoryBaseURL = upstream
	}
	if config.AccountsTokenURL == "" {
		config.AccountsTokenURL = tokenURL
	}
	server, err := NewServer(config, Options{HTTPClient: httpClient, History: sink})
	require.NoError(t, err)
	return server.Router()
}

func principal(userID string) string {
	raw, _ := json.Marshal(map[string]string{"userId": userID})
	return base64.StdEncoding.EncodeToString(raw)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPreflightReturnsNoContent(t *testing.T) {
	router := newTestRouter(t, Config{}, nil)

	for _, path := range []string{"/api/proxy/items", "/api/inventory/items", "/api/token"} {
		w := serve(router, httptest.NewRequest(http.MethodOptions, path, nil))
		assert.Equal(t, http.StatusNoContent, w.Code, path)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestProxyRequiresAuthorization(t *testing.T) {
	router := newTestRouter(t, Config{}, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/proxy/items", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Missing authorization header"}`, w.Body.String())
}

func TestProxyForwardsWithQuery(t *testing.T) {
	router := newTestRouter(t, Config{}, nil)
	gock.New(upstream).
		Get("/settings/warehouses").
		MatchParam("organization_id", "6001").
		MatchHeader("Authorization", "^Zoho-oauthtoken abc$").
		Reply(200).
		JSON(map[string]any{"code": 0, "warehouses": []any{}})

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/settings/warehouses?organization_id=6001", nil)
	req.Header.Set("Authorization", "Zoho-oauthtoken abc")
	w := serve(router, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":0,"warehouses":[]}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, gock.IsDone())
}

func TestInventoryRecordsSuccess(t *testing.T) {
	sink := &memorySink{}
	router := newTestRouter(t, Config{}, sink)
	gock.New(upstream).
		Post("/inventoryadjustments").
		Reply(201).
		JSON(map[string]any{"code": 0, "message": "created"})

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/inventoryadjustments", strings.NewReader(`{"reason":"Damaged"}`))
	req.Header.Set("Authorization", "Zoho-oauthtoken abc")
	req.Header.Set("X-Client-Principal", principal("user-7"))
	w := serve(router, req)

	require.Equal(t, http.StatusCreated, w.Code)
	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "user-7", entries[0].UserID)
	assert.Equal(t, ActionInventorySuccess, entries[0].ActionType)
	assert.Equal(t, "inventoryadjustments", entries[0].Operation)
	assert.Equal(t, http.MethodPost, entries[0].RequestMethod)
	assert.True(t, entries[0].Success)
	assert.Equal(t, 201, entries[0].ResponseStatus)
	assert.JSONEq(t, `{"response":{"code":0,"message":"created"}}`, entries[0].Details)
}

func TestInventoryRecordsFailureWithRequestBody(t *testing.T) {
	sink := &memorySink{}
	router := newTestRouter(t, Config{}, sink)
	gock.New(upstream).
		Post("/inventoryadjustments").
		Reply(400).
		JSON(map[string]any{"code": 4, "message": "Invalid value"})

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/inventoryadjustments", strings.NewReader(`{"reason":""}`))
	req.Header.Set("Authorization", "Zoho-oauthtoken abc")
	req.Header.Set("X-Client-Principal", principal("user-7"))
	w := serve(router, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionInventoryFailed, entries[0].ActionType)
	assert.False(t, entries[0].Success)
	assert.JSONEq(t, `{"request_body":{"reason":""}}`, entries[0].Details)
}

func TestInventoryExceptionReturns500(t *testing.T) {
	sink := &memorySink{}
	router := newTestRouter(t, Config{}, sink)
	gock.New(upstream).
		Get("/items").
		Reply(502).
		BodyString("<html>bad gateway</html>")

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/items", nil)
	req.Header.Set("Authorization", "Zoho-oauthtoken abc")
	req.Header.Set("X-Client-Principal", principal("user-7"))
	w := serve(router, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body["error"])
	assert.NotEmpty(t, body["details"])

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionInventoryException, entries[0].ActionType)
	assert.Equal(t, 500, entries[0].ResponseStatus)
}

func TestInventorySkipsUnknownUser(t *testing.T) {
	sink := &memorySink{}
	router := newTestRouter(t, Config{}, sink)
	gock.New(upstream).Get("/items").Reply(200).JSON(map[string]any{"code": 0})

	req := httptest.NewRequest(http.MethodGet, "/api/inventory/items", nil)
	req.Header.Set("Authorization", "Zoho-oauthtoken abc")
	req.Header.Set("X-Client-Principal", "not base64!")
	w := serve(router, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.all())
}

func TestTokenRejectsMissingParameters(t *testing.T) {
	router := newTestRouter(t, Config{ClientID: "id", ClientSecret: "secret"}, nil)

	for _, form := range []string{"", "code=abc", "grant_type=authorization_code"} {
		req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := serve(router, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, form)
		assert.JSONEq(t, `{"error":"invalid_request","error_description":"Missing required parameters"}`, w.Body.String())
	}
}

func TestTokenRequiresClientCredentials(t *testing.T) {
	router := newTestRouter(t, Config{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader("grant_type=refresh_token&refresh_token=r1"))
	w := serve(router, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"server_error","error_description":"Missing client credentials"}`, w.Body.String())
}

func TestTokenExchangeForwardsForm(t *testing.T) {
	router := newTestRouter(t, Config{ClientID: "id", ClientSecret: "secret"}, nil)

	gock.New(tokenURL).
		Post("").
		AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
			if err := req.ParseForm(); err != nil {
				return false, err
			}
			want := url.Values{
				"client_id":     {"id"},
				"client_secret": {"secret"},
				"grant_type":    {"authorization_code"},
				"code":          {"c-1"},
				"redirect_uri":  {"https://app.example.com/callback"},
			}
			return assert.ObjectsAreEqual(want, req.PostForm), nil
		}).
		Reply(200).
		JSON(map[string]any{"access_token": "t-1", "expires_in": 3600})

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"c-1"},
		"redirect_uri": {"https://app.example.com/callback"},
	}
	w := serve(router, httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(form.Encode())))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"access_token":"t-1","expires_in":3600}`, w.Body.String())
	assert.True(t, gock.IsDone())
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, Config{}, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{}, Options{})
	assert.Error(t, err)
	_, err = NewServer(Config{InventoryBaseURL: upstream}, Options{})
	assert.Error(t, err)
}
