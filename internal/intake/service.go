package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

// ItemCatalog looks items up by SKU.
type ItemCatalog interface {
	FetchItemBySku(ctx context.Context, sku string) (*core.ItemInfo, error)
}

// Enqueuer accepts validated drafts.
type Enqueuer interface {
	Enqueue(ctx context.Context, draft core.OperationDraft) (*core.Operation, error)
}

// Service is the entry point for new adjustments. Items found by SKU are
// cached so operations for items scanned earlier can be recorded offline.
type Service struct {
	catalog   ItemCatalog
	engine    Enqueuer
	validator *Validator
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	items map[string]core.ItemInfo
}

// NewService creates an intake service.
func NewService(catalog ItemCatalog, engine Enqueuer, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		catalog:   catalog,
		engine:    engine,
		validator: NewValidator(),
		logger:    logger,
		items:     make(map[string]core.ItemInfo),
	}
}

// LookupItem fetches an item by SKU. When the remote system cannot be
// reached a previously fetched copy is returned.
func (s *Service) LookupItem(ctx context.Context, sku string) (*core.ItemInfo, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		verr := &ValidationError{}
		verr.add("sku", "sku is required")
		return nil, verr
	}
	key := strings.ToUpper(sku)

	item, err := s.catalog.FetchItemBySku(ctx, sku)
	if err == nil {
		s.mu.Lock()
		s.items[key] = *item
		s.mu.Unlock()
		return item, nil
	}

	re := core.AsRemoteError(err)
	if re.Code == core.CodeNetworkError || re.Code == core.CodeTimeout {
		s.mu.RLock()
		cached, ok := s.items[key]
		s.mu.RUnlock()
		if ok {
			s.logger.Debugw("using cached item", "sku", sku, "error", re.Code)
			return &cached, nil
		}
	}
	return nil, err
}

// Submit validates req and hands the resulting draft to the sync engine.
// Validation problems are returned as *ValidationError.
func (s *Service) Submit(ctx context.Context, req Request) (*core.Operation, error) {
	if err := s.validator.Check(&req); err != nil {
		return nil, err
	}

	item := core.ItemInfo{
		ItemID:        req.ItemID,
		Name:          req.ItemName,
		SKU:           req.SKU,
		BatchTracked:  req.BatchTracked,
		ShelfLifeDays: req.ShelfLifeDays,
	}
	if item.ItemID == "" {
		found, err := s.LookupItem(ctx, req.SKU)
		if err != nil {
			return nil, fmt.Errorf("failed to look up item %s: %w", req.SKU, err)
		}
		item = *found
	}

	draft, err := s.validator.Draft(req, item)
	if err != nil {
		s.logger.Debugw("rejected adjustment", "sku", req.SKU, "error", err)
		return nil, err
	}
	return s.engine.Enqueue(ctx, draft)
}
