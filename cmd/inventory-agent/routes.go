package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/pkg/inventorysync"
)

type handlers struct {
	client inventorysync.Client
	logger *zap.SugaredLogger
}

func newRouter(client inventorysync.Client, logger *zap.SugaredLogger) *gin.Engine {
	h := &handlers{client: client, logger: logger}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger.Desugar(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger.Desugar(), true))

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(client.Gatherer(), promhttp.HandlerOpts{})))

	router.GET("/items/:sku", h.lookupItem)
	router.GET("/locations", h.locations)
	router.GET("/reasons", h.reasons)

	router.POST("/operations", h.submit)
	router.GET("/operations", h.history)
	router.GET("/operations/:id", h.operation)
	router.POST("/operations/:id/retry", h.retry)
	router.GET("/queue", h.queue)
	router.POST("/drain", h.drain)
	router.DELETE("/history", h.clearHistory)

	router.PUT("/network/override", h.setOverride)
	router.DELETE("/network/override", h.clearOverride)
	return router
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"online":  h.client.Online(),
		"pending": len(h.client.PendingQueue()),
		"running": h.client.IsRunning(),
	})
}

func (h *handlers) lookupItem(c *gin.Context) {
	item, err := h.client.LookupItem(c.Request.Context(), c.Param("sku"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *handlers) locations(c *gin.Context) {
	locations, err := h.client.Locations(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations})
}

func (h *handlers) reasons(c *gin.Context) {
	reasons, err := h.client.Reasons(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reasons": reasons})
}

func (h *handlers) submit(c *gin.Context) {
	var req inventorysync.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}
	op, err := h.client.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, op)
}

func (h *handlers) history(c *gin.Context) {
	ops := h.client.History()
	if status := c.Query("status"); status != "" {
		filtered := ops[:0]
		for _, op := range ops {
			if string(op.Status) == status {
				filtered = append(filtered, op)
			}
		}
		ops = filtered
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(ops) {
		ops = ops[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

func (h *handlers) operation(c *gin.Context) {
	op, err := h.client.Operation(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *handlers) retry(c *gin.Context) {
	op, err := h.client.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, op)
}

func (h *handlers) queue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": h.client.PendingQueue()})
}

func (h *handlers) drain(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Drain(c.Request.Context()))
}

func (h *handlers) clearHistory(c *gin.Context) {
	if err := h.client.ClearHistory(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type overrideRequest struct {
	Online *bool `json:"online" binding:"required"`
}

func (h *handlers) setOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"online\": true|false}"})
		return
	}
	h.client.SetNetworkOverride(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": h.client.Online(), "override": true})
}

func (h *handlers) clearOverride(c *gin.Context) {
	h.client.ClearNetworkOverride()
	c.JSON(http.StatusOK, gin.H{"online": h.client.Online(), "override": false})
}

// fail maps client errors to HTTP responses.
func (h *handlers) fail(c *gin.Context, err error) {
	var verr *inventorysync.ValidationError
	var rerr *inventorysync.RemoteError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "problems": verr.Problems})
	case errors.Is(err, inventorysync.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, inventorysync.ErrNotRetryable), errors.Is(err, inventorysync.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, inventorysync.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &rerr):
		status := http.StatusBadGateway
		switch rerr.Code {
		case core.CodeNotFound:
			status = http.StatusNotFound
		case core.CodeUnauthorized, core.CodeNoCredentials:
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": rerr.UserMessage, "code": rerr.Code, "details": rerr.Message})
	default:
		h.logger.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
