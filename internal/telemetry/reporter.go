package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Reporter receives unexpected failures and the breadcrumbs leading to them.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
	AddBreadcrumb(category, message string, data map[string]any)
	Flush(timeout time.Duration) bool
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) CaptureError(error, map[string]string)        {}
func (NopReporter) AddBreadcrumb(string, string, map[string]any) {}
func (NopReporter) Flush(time.Duration) bool                     { return true }

// SentryConfig configures a SentryReporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// Transport overrides the HTTP transport. Tests set it to capture events.
	Transport sentry.Transport
}

// SentryReporter reports through a dedicated Sentry hub instead of the
// global one, so several clients can run in one process.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *zap.SugaredLogger
}

// NewSentryReporter creates a reporter for config.DSN.
func NewSentryReporter(config SentryConfig, logger *zap.SugaredLogger) (*SentryReporter, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("sentry dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         config.DSN,
		Environment: config.Environment,
		Release:     config.Release,
		Transport:   config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// NewReporter returns a SentryReporter when dsn is set and a NopReporter otherwise.
func NewReporter(config SentryConfig, logger *zap.SugaredLogger) (Reporter, error) {
	if config.DSN == "" {
		return NopReporter{}, nil
	}
	return NewSentryReporter(config, logger)
}

// CaptureError sends err with tags attached to its scope.
func (r *SentryReporter) CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if id := r.hub.CaptureException(err); id == nil {
			r.logger.Debugw("sentry dropped event", "error", err)
		}
	})
}

// AddBreadcrumb records a breadcrumb on the hub scope.
func (r *SentryReporter) AddBreadcrumb(category, message string, data map[string]any) {
	r.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

// Flush waits for queued events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
