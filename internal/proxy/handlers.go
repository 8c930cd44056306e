package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzpsarthak13/inventory-sync/internal/database"
)

// History action types recorded for /api/inventory calls.
const (
	// ActionInventorySuccess marks a 2xx upstream answer with a JSON body.
	ActionInventorySuccess = "INVENTORY_OPERATION_SUCCESS"
	// ActionInventoryFailed marks a non-2xx upstream answer.
	ActionInventoryFailed = "INVENTORY_OPERATION_FAILED"
	// ActionInventoryException marks a call that never produced a usable
	// upstream answer, such as a transport error or a non-JSON body.
	ActionInventoryException = "INVENTORY_OPERATION_EXCEPTION"
)

type upstreamResponse struct {
	status      int
	contentType string
	body        []byte
}

// handleProxy forwards any request under /api/proxy to the inventory API.
func (s *Server) handleProxy(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
		return
	}

	path := strings.TrimPrefix(c.Param("path"), "/")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
		return
	}

	resp, err := s.forward(c, path, auth, body)
	if err != nil {
		s.upstreamRequests.WithLabelValues("proxy", "error").Inc()
		s.logger.Errorw("proxy request failed", "path", path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error", "details": err.Error()})
		return
	}
	s.upstreamRequests.WithLabelValues("proxy", responseClass(resp.status)).Inc()
	c.Data(resp.status, resp.contentType, resp.body)
}

// handleInventory forwards an inventory operation and records the outcome in
// the caller's history.
func (s *Server) handleInventory(c *gin.Context) {
	userID := s.principalUserID(c)
	operation := strings.TrimPrefix(c.Param("operation"), "/")
	method := c.Request.Method

	auth := c.GetHeader("Authorization")
	if auth == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
		return
	}

	var requestBody []byte
	if method == http.MethodPost {
		var err error
		requestBody, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
			return
		}
	}

	resp, err := s.forward(c, operation, auth, requestBody)
	if err == nil && !json.Valid(resp.body) {
		err = fmt.Errorf("upstream returned a non-JSON body with status %d", resp.status)
	}
	if err != nil {
		s.upstreamRequests.WithLabelValues("inventory", "error").Inc()
		s.logger.Errorw("inventory operation failed", "operation", operation, "error", err)
		s.record(c, database.HistoryEntry{
			UserID:         userID,
			ActionType:     ActionInventoryException,
			Operation:      operation,
			RequestMethod:  method,
			ResponseStatus: http.StatusInternalServerError,
			Details:        historyDetails(requestBody, nil),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
		return
	}

	s.upstreamRequests.WithLabelValues("inventory", responseClass(resp.status)).Inc()
	success := resp.status >= 200 && resp.status < 300
	entry := database.HistoryEntry{
		UserID:         userID,
		ActionType:     ActionInventoryFailed,
		Operation:      operation,
		RequestMethod:  method,
		Success:        success,
		ResponseStatus: resp.status,
		Details:        historyDetails(requestBody, nil),
	}
	if success {
		entry.ActionType = ActionInventorySuccess
		entry.Details = historyDetails(nil, resp.body)
	}
	s.record(c, entry)

	c.Data(resp.status, "application/json", resp.body)
}

// handleToken exchanges an authorization code or refresh token with the
// accounts server using the configured client credentials.
func (s *Server) handleToken(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Unreadable request body"})
		return
	}
	params, err := url.ParseQuery(string(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Malformed form body"})
		return
	}

	grantType := params.Get("grant_type")
	code := params.Get("code")
	refreshToken := params.Get("refresh_token")
	if grantType == "" || (code == "" && refreshToken == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Missing required parameters"})
		return
	}

	if s.config.ClientID == "" || s.config.ClientSecret == "" {
		s.logger.Errorw("missing client credentials",
			"client_id_set", s.config.ClientID != "", "client_secret_set", s.config.ClientSecret != "")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Missing client credentials"})
		return
	}

	form := url.Values{}
	form.Set("client_id", s.config.ClientID)
	form.Set("client_secret", s.config.ClientSecret)
	form.Set("grant_type", grantType)
	if code != "" {
		form.Set("code", code)
		form.Set("redirect_uri", params.Get("redirect_uri"))
	} else {
		form.Set("refresh_token", refreshToken)
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, s.config.AccountsTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error", "error_description": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.do(req)
	if err == nil && !json.Valid(resp.body) {
		err = fmt.Errorf("token endpoint returned a non-JSON body with status %d", resp.status)
	}
	if err != nil {
		s.upstreamRequests.WithLabelValues("token", "error").Inc()
		s.logger.Errorw("token exchange failed", "grant_type", grantType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error", "error_description": err.Error()})
		return
	}
	s.upstreamRequests.WithLabelValues("token", responseClass(resp.status)).Inc()
	c.Data(resp.status, "application/json", resp.body)
}

// forward sends the incoming request to the inventory API under path,
// keeping the method, query string and caller's Authorization.
func (s *Server) forward(c *gin.Context, path, auth string, body []byte) (*upstreamResponse, error) {
	target := s.config.InventoryBaseURL + "/" + path
	if query := c.Request.URL.RawQuery; query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")

	s.logger.Debugw("forwarding", "method", req.Method, "url", target)
	return s.do(req)
}

func (s *Server) do(req *http.Request) (*upstreamResponse, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &upstreamResponse{status: resp.StatusCode, contentType: contentType, body: body}, nil
}

// principalUserID decodes the base64 JSON principal header. An empty string
// means the caller is unknown.
func (s *Server) principalUserID(c *gin.Context) string {
	header := c.GetHeader(s.config.PrincipalHeader)
	if header == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		s.logger.Warnw("failed to decode client principal", "error", err)
		return ""
	}
	var principal struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(decoded, &principal); err != nil {
		s.logger.Warnw("failed to parse client principal", "error", err)
		return ""
	}
	return principal.UserID
}

func (s *Server) record(c *gin.Context, entry database.HistoryEntry) {
	if s.history == nil {
		return
	}
	if entry.UserID == "" {
		s.logger.Warnw("unknown user, skipping history", "action", entry.ActionType)
		s.historyEvents.WithLabelValues(entry.ActionType, "skipped").Inc()
		return
	}
	entry.Timestamp = time.Now().UTC()
	if err := s.history.Record(c.Request.Context(), entry); err != nil {
		s.logger.Errorw("failed to record history", "user_id", entry.UserID, "error", err)
		s.historyEvents.WithLabelValues(entry.ActionType, "error").Inc()
		return
	}
	s.historyEvents.WithLabelValues(entry.ActionType, "recorded").Inc()
}

// historyDetails keeps the request body for failures and the response for
// successes.
func historyDetails(requestBody, response []byte) string {
	details := map[string]json.RawMessage{}
	if len(requestBody) > 0 && json.Valid(requestBody) {
		details["request_body"] = requestBody
	}
	if len(response) > 0 {
		details["response"] = response
	}
	if len(details) == 0 {
		return ""
	}
	out, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(out)
}
