// Package proxy serves the backend endpoints used by browser clients: a
// pass-through to the inventory API, an inventory operation proxy that keeps a
// per-user history, and the OAuth token exchange.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/database"
)

// HistorySink stores proxied inventory calls per user.
type HistorySink interface {
	Record(ctx context.Context, entry database.HistoryEntry) error
}

// Config holds the upstream endpoints and OAuth client of the proxy.
type Config struct {
	InventoryBaseURL string
	AccountsTokenURL string
	ClientID         string
	ClientSecret     string
	PrincipalHeader  string
	UpstreamTimeout  time.Duration
}

// Options carries the optional collaborators of a Server.
type Options struct {
	HTTPClient *http.Client
	History    HistorySink
	Registry   *prometheus.Registry
	Logger     *zap.SugaredLogger
}

// Server is the proxy HTTP handler set.
type Server struct {
	config   Config
	http     *http.Client
	history  HistorySink
	registry *prometheus.Registry
	logger   *zap.SugaredLogger

	upstreamRequests *prometheus.CounterVec
	historyEvents    *prometheus.CounterVec
}

// NewServer validates config and builds a Server.
func NewServer(config Config, opts Options) (*Server, error) {
	if config.InventoryBaseURL == "" {
		return nil, errors.New("inventory base url is required")
	}
	if config.AccountsTokenURL == "" {
		return nil, errors.New("accounts token url is required")
	}
	config.InventoryBaseURL = strings.TrimRight(config.InventoryBaseURL, "/")
	if config.PrincipalHeader == "" {
		config.PrincipalHeader = "X-Client-Principal"
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = 30 * time.Second
	}

	s := &Server{
		config:   config,
		http:     opts.HTTPClient,
		history:  opts.History,
		registry: opts.Registry,
		logger:   opts.Logger,
	}
	if s.http == nil {
		s.http = &http.Client{Timeout: config.UpstreamTimeout}
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	s.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory_proxy",
		Name:      "upstream_requests_total",
		Help:      "Requests forwarded upstream by route and response class.",
	}, []string{"route", "class"})
	s.historyEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inventory_proxy",
		Name:      "history_events_total",
		Help:      "History events by action type and write result.",
	}, []string{"action", "result"})
	if err := s.registry.Register(s.upstreamRequests); err != nil {
		return nil, err
	}
	if err := s.registry.Register(s.historyEvents); err != nil {
		return nil, err
	}
	return s, nil
}

// Router builds the gin engine with every proxy route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	desugared := s.logger.Desugar()
	router.Use(ginzap.Ginzap(desugared, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(desugared, true))
	router.Use(cors)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	router.Any("/api/proxy/*path", s.handleProxy)
	router.Any("/api/inventory/*operation", s.handleInventory)
	router.POST("/api/token", s.handleToken)
	router.OPTIONS("/api/token", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return router
}

// cors adds the CORS headers to every response and answers preflights.
func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func responseClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}
