package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/events"
	"github.com/rzpsarthak13/inventory-sync/internal/network"
	"github.com/rzpsarthak13/inventory-sync/internal/queue"
	"github.com/rzpsarthak13/inventory-sync/internal/telemetry"
)

var (
	// ErrInvalidDraft is returned by Enqueue for drafts that break operation invariants.
	ErrInvalidDraft = errors.New("invalid operation draft")

	// ErrNotFound is returned when no operation has the given id.
	ErrNotFound = errors.New("operation not found")

	// ErrNotRetryable is returned by Retry for operations that are not in a failed status.
	ErrNotRetryable = errors.New("operation is not in a failed status")

	// ErrInFlight is returned by Retry while a remote call for the operation is running.
	ErrInFlight = errors.New("operation has a sync attempt in flight")
)

// Connectivity is the view of the network monitor the engine needs.
type Connectivity interface {
	Online() bool
	Subscribe(fn network.Listener) (unsubscribe func())
}

// invalidator is implemented by credential providers that can drop a token
// the remote side rejected.
type invalidator interface {
	Invalidate()
}

// Config holds the sync engine settings.
type Config struct {
	// DrainRate is the maximum number of remote calls per second while draining.
	// Zero or less disables pacing.
	DrainRate float64

	// MaxAttempts escalates unclassified failures to failed_permanent.
	MaxAttempts int

	Backoff BackoffConfig

	// HistoryLimit and KeepSynced bound the persisted history log.
	HistoryLimit int
	KeepSynced   int

	// PersistTimeout bounds every write-through save.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		DrainRate:   5,
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			Initial:    2 * time.Second,
			Max:        5 * time.Minute,
			Multiplier: 2,
		},
		HistoryLimit:   1000,
		KeepSynced:     100,
		PersistTimeout: 5 * time.Second,
	}
}

// Options carries the optional collaborators of the engine.
type Options struct {
	Credentials core.CredentialProvider
	Publisher   events.Publisher
	Reporter    telemetry.Reporter
	Metrics     *telemetry.Metrics
	Logger      *zap.SugaredLogger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// DrainResult summarizes one pass over the pending queue.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
	Skipped   int `json:"skipped"`
	// Stopped is set when the pass ended early because the network went away.
	Stopped bool `json:"stopped"`
}

// Engine owns the pending queue and the history log. Every operation lives
// in the history log (newest first) and, while not yet confirmed, in the
// pending queue (retry order); both collections share the same *Operation so
// a status change is visible in both. All mutation happens under mu and is
// written through to the store before mu is released.
type Engine struct {
	mu       sync.Mutex
	history  []*core.Operation
	pending  []*core.Operation
	inflight map[string]bool

	drainMu     sync.Mutex
	drainQueued atomic.Bool
	limiter     *rate.Limiter

	store       *queue.Store
	remote      core.AdjustmentClient
	monitor     Connectivity
	credentials core.CredentialProvider
	publisher   events.Publisher
	reporter    telemetry.Reporter
	metrics     *telemetry.Metrics
	schedule    *schedule
	config      Config
	logger      *zap.SugaredLogger
	now         func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsubMu sync.Mutex
	unsubs  []func()
}

// New creates an engine with an empty queue and history. Call Load to
// restore persisted state and Start to react to connectivity and token events.
func New(store *queue.Store, remote core.AdjustmentClient, monitor Connectivity, config Config, opts Options) *Engine {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Reporter == nil {
		opts.Reporter = telemetry.NopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limit := rate.Inf
	if config.DrainRate > 0 {
		limit = rate.Limit(config.DrainRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		history:     []*core.Operation{},
		pending:     []*core.Operation{},
		inflight:    make(map[string]bool),
		limiter:     rate.NewLimiter(limit, 1),
		store:       store,
		remote:      remote,
		monitor:     monitor,
		credentials: opts.Credentials,
		publisher:   opts.Publisher,
		reporter:    opts.Reporter,
		metrics:     opts.Metrics,
		schedule:    newSchedule(config.Backoff),
		config:      config,
		logger:      opts.Logger,
		now:         opts.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to connectivity transitions and token refreshes and
// drains the queue if the device is online.
func (e *Engine) Start() {
	e.unsubMu.Lock()
	if e.unsubs != nil {
		e.unsubMu.Unlock()
		return
	}
	e.unsubs = append(e.unsubs, e.monitor.Subscribe(func(online bool) {
		if online {
			e.OnConnectivityRestored()
		}
	}))
	if e.credentials != nil {
		e.unsubs = append(e.unsubs, e.credentials.OnTokenRefreshed(e.OnTokenRefreshed))
	}
	e.unsubMu.Unlock()

	if e.monitor.Online() {
		e.TriggerDrain()
	}
}

// OnConnectivityRestored drains the queue after the network came back.
func (e *Engine) OnConnectivityRestored() {
	e.logger.Infow("connectivity restored, draining", "queued", e.QueueLen())
	e.TriggerDrain()
}

// OnTokenRefreshed drains the queue so operations parked on an expired
// session go out with the new token.
func (e *Engine) OnTokenRefreshed() {
	e.logger.Debugw("token refreshed, draining", "queued", e.QueueLen())
	e.TriggerDrain()
}

// Stop drops the subscriptions made by Start. Queued work is untouched and
// Start may be called again.
func (e *Engine) Stop() {
	e.unsubMu.Lock()
	defer e.unsubMu.Unlock()
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
}

// Close unsubscribes, cancels background attempts and waits for them.
// In-flight remote calls that get cancelled leave their operation pending.
func (e *Engine) Close() error {
	e.Stop()
	e.cancel()
	e.wg.Wait()
	return nil
}

// Wait blocks until background attempts and drains have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Load restores the persisted queue and history and repairs them:
// operations caught in syncing go back to pending and entries whose status
// does not belong in the queue are dropped from it. The history is restored
// as stored, so queue entries whose history was cleared stay queue-only.
func (e *Engine) Load(ctx context.Context) error {
	history, err := e.store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history log: %w", err)
	}
	pending, err := e.store.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]*core.Operation, len(history))
	restoredHistory := make([]*core.Operation, 0, len(history))
	for _, op := range history {
		if op == nil || op.OperationID == "" || byID[op.OperationID] != nil {
			continue
		}
		byID[op.OperationID] = op
		restoredHistory = append(restoredHistory, op)
	}

	recovered := 0
	inQueue := make(map[string]bool, len(pending))
	restoredQueue := make([]*core.Operation, 0, len(pending))
	for _, op := range pending {
		if op == nil || op.OperationID == "" || inQueue[op.OperationID] {
			continue
		}
		if existing, ok := byID[op.OperationID]; ok {
			op = existing
		}
		if op.Status == core.StatusSyncing {
			if err := transition(op, eventRecover); err == nil {
				recovered++
			}
		}
		if !op.Status.Queued() {
			continue
		}
		inQueue[op.OperationID] = true
		restoredQueue = append(restoredQueue, op)
	}

	// An operation created online is queued before its first attempt, but
	// state written by older versions may only have it in the history.
	for _, op := range restoredHistory {
		if op.Status == core.StatusSyncing {
			if err := transition(op, eventRecover); err == nil {
				recovered++
			}
		}
		if op.Status.Queued() && !inQueue[op.OperationID] {
			inQueue[op.OperationID] = true
			restoredQueue = append(restoredQueue, op)
		}
	}

	e.history = restoredHistory
	e.pending = restoredQueue
	e.inflight = make(map[string]bool)

	if recovered > 0 {
		if err := e.persistLocked(ctx); err != nil {
			return err
		}
	}
	e.updateGaugesLocked()

	e.logger.Infow("restored queue state",
		"history", len(e.history), "queued", len(e.pending),
		"recovered", recovered)
	return nil
}

// Enqueue records a new operation. It is added to the history log and the
// pending queue before any network call. Online, it starts as syncing and
// is submitted in the background; offline, it waits as pending.
func (e *Engine) Enqueue(ctx context.Context, draft core.OperationDraft) (*core.Operation, error) {
	if err := checkDraft(draft); err != nil {
		return nil, err
	}

	now := e.now()
	op := &core.Operation{
		OperationID:      uuid.NewString(),
		CreatedAt:        now,
		ItemID:           draft.ItemID,
		ItemSKU:          draft.ItemSKU,
		ItemName:         draft.ItemName,
		Action:           draft.Action,
		Quantity:         draft.Quantity,
		Reason:           draft.Reason,
		BatchOrSerial:    draft.BatchOrSerial,
		ManufacturedDate: draft.ManufacturedDate,
		ExpiryDate:       draft.ExpiryDate,
		LocationID:       draft.LocationID,
		Status:           core.StatusPending,
	}

	online := e.monitor.Online()
	if online {
		op.Status = core.StatusSyncing
		op.LastAttemptAt = &now
	}

	e.mu.Lock()
	othersQueued := len(e.pending) > 0
	e.history = append([]*core.Operation{op}, e.history...)
	e.pending = append(e.pending, op)
	if online {
		e.inflight[op.OperationID] = true
	}
	if err := e.persistLocked(ctx); err != nil {
		e.history = e.history[1:]
		e.pending = e.pending[:len(e.pending)-1]
		delete(e.inflight, op.OperationID)
		e.mu.Unlock()
		return nil, err
	}
	e.updateGaugesLocked()
	created := events.NewTransitionEvent(op, "", now)
	snapshot := op.Clone()
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OperationsEnqueued.WithLabelValues(string(op.Action)).Inc()
	}
	e.publish(created)
	e.logger.Infow("operation enqueued",
		"operation_id", op.OperationID, "sku", op.ItemSKU, "action", op.Action,
		"quantity", op.Quantity, "status", op.Status)

	if online {
		started := e.goBackground(func(ctx context.Context) { e.submit(ctx, snapshot) })
		switch {
		case !started:
			e.abandon(op.OperationID)
		case othersQueued:
			e.TriggerDrain()
		}
	}
	return snapshot, nil
}

// TriggerDrain schedules a drain in the background. Triggers arriving while
// one is already waiting to run are folded into it.
func (e *Engine) TriggerDrain() {
	if !e.drainQueued.CompareAndSwap(false, true) {
		return
	}
	started := e.goBackground(func(ctx context.Context) {
		e.drain(ctx, false, func() { e.drainQueued.Store(false) })
	})
	if !started {
		e.drainQueued.Store(false)
	}
}

// Drain attempts every queued operation in queue order and waits for the pass
// to finish. Failures are absorbed into operation state.
func (e *Engine) Drain(ctx context.Context) DrainResult {
	return e.drain(ctx, false, nil)
}

// DrainDue is Drain restricted to operations whose backoff has elapsed.
func (e *Engine) DrainDue(ctx context.Context) DrainResult {
	return e.drain(ctx, true, nil)
}

func (e *Engine) drain(ctx context.Context, dueOnly bool, started func()) DrainResult {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	if started != nil {
		started()
	}

	var result DrainResult
	e.mu.Lock()
	ids := make([]string, 0, len(e.pending))
	for _, op := range e.pending {
		ids = append(ids, op.OperationID)
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return result
	}
	if e.metrics != nil {
		e.metrics.Drains.Inc()
	}

	for _, id := range ids {
		if ctx.Err() != nil || !e.monitor.Online() {
			result.Stopped = true
			break
		}

		snapshot, ok := e.begin(ctx, id, dueOnly)
		if !ok {
			result.Skipped++
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			e.abandon(id)
			result.Stopped = true
			break
		}

		result.Attempted++
		out, re := e.submit(ctx, snapshot)
		switch out {
		case outcomeSynced:
			result.Synced++
		case outcomePermanent:
			result.Failed++
		default:
			result.Requeued++
		}
		if stopsDrain(re) {
			result.Stopped = true
			break
		}
	}

	e.logger.Infow("drain finished",
		"due_only", dueOnly, "attempted", result.Attempted, "synced", result.Synced,
		"failed", result.Failed, "requeued", result.Requeued, "skipped", result.Skipped,
		"stopped", result.Stopped)
	return result
}

// begin moves a queued operation to syncing and marks it in flight. It
// returns false when the operation left the queue, is already in flight, or
// is not yet due.
func (e *Engine) begin(ctx context.Context, id string, dueOnly bool) (*core.Operation, bool) {
	e.mu.Lock()
	op := e.findPendingLocked(id)
	if op == nil || e.inflight[id] || !canTransition(op.Status, eventDequeue) {
		e.mu.Unlock()
		return nil, false
	}
	now := e.now()
	if dueOnly && op.NextAttemptAt != nil && op.NextAttemptAt.After(now) {
		e.mu.Unlock()
		return nil, false
	}

	from := op.Status
	if err := transition(op, eventDequeue); err != nil {
		e.mu.Unlock()
		return nil, false
	}
	op.LastAttemptAt = &now
	e.inflight[id] = true
	if err := e.persistLocked(ctx); err != nil {
		e.logger.Warnw("failed to persist attempt start", "operation_id", id, "error", err)
	}
	ev := events.NewTransitionEvent(op, from, now)
	snapshot := op.Clone()
	e.mu.Unlock()

	e.publish(ev)
	return snapshot, true
}

// abandon puts an operation that was dequeued but never submitted back to pending.
func (e *Engine) abandon(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
	if op := e.findPendingLocked(id); op != nil && op.Status == core.StatusSyncing {
		if err := transition(op, eventRecover); err == nil {
			if err := e.persistLocked(e.ctx); err != nil {
				e.logger.Warnw("failed to persist abandoned attempt", "operation_id", id, "error", err)
			}
		}
	}
}

// submit performs the remote call for an operation already in syncing and
// records the outcome.
func (e *Engine) submit(ctx context.Context, op *core.Operation) (outcome, *core.RemoteError) {
	start := time.Now()
	adjustmentID, err := e.remote.SubmitAdjustment(ctx, core.AdjustmentRequest{
		IdempotencyKey: op.OperationID,
		ItemID:         op.ItemID,
		LocationID:     op.LocationID,
		SignedQuantity: op.SignedQuantity(),
		Reason:         op.Reason,
		BatchTag:       op.BatchOrSerial,
		Description:    describe(op),
	})
	if e.metrics != nil {
		e.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}

	if err == nil {
		e.succeed(op.OperationID, adjustmentID)
		return outcomeSynced, nil
	}
	re := core.AsRemoteError(err)
	if errors.Is(ctx.Err(), context.Canceled) {
		e.abandon(op.OperationID)
		return outcomeRetryable, re
	}
	return e.fail(op.OperationID, re), re
}

func (e *Engine) succeed(id, adjustmentID string) {
	e.mu.Lock()
	delete(e.inflight, id)
	op := e.findPendingLocked(id)
	if op == nil {
		e.mu.Unlock()
		e.logger.Warnw("synced operation is no longer queued", "operation_id", id)
		return
	}

	from := op.Status
	if err := transition(op, eventSucceed); err != nil {
		e.mu.Unlock()
		e.logger.Errorw("cannot mark operation synced", "operation_id", id, "error", err)
		return
	}
	op.RemoteAdjustmentID = adjustmentID
	op.LastErrorCode = ""
	op.LastErrorMessage = ""
	op.NextAttemptAt = nil
	e.removePendingLocked(id)
	e.persistOrReportLocked(id)
	e.updateGaugesLocked()
	ev := events.NewTransitionEvent(op, from, e.now())
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SyncAttempts.WithLabelValues(telemetry.OutcomeSynced).Inc()
	}
	e.publish(ev)
	e.logger.Infow("operation synced", "operation_id", id, "remote_adjustment_id", adjustmentID)
}

func (e *Engine) fail(id string, re *core.RemoteError) outcome {
	e.mu.Lock()
	delete(e.inflight, id)
	op := e.findPendingLocked(id)
	if op == nil {
		e.mu.Unlock()
		e.logger.Warnw("failed operation is no longer queued", "operation_id", id, "error", re)
		return outcomeRetryable
	}

	from := op.Status
	now := e.now()
	op.RetryCount++
	op.LastErrorCode = re.Code
	op.LastErrorMessage = re.Message
	if re.UserMessage != "" {
		op.LastErrorMessage = re.UserMessage
	}

	out := classify(re, op.RetryCount, e.config.MaxAttempts)
	var event string
	switch out {
	case outcomePermanent:
		event = eventFailPermanent
	case outcomeAuth:
		event = eventFailAuth
	default:
		event = eventRequeue
	}
	if err := transition(op, event); err != nil {
		e.mu.Unlock()
		e.logger.Errorw("cannot record failed attempt", "operation_id", id, "error", err)
		return out
	}

	if out == outcomePermanent {
		op.NextAttemptAt = nil
		e.removePendingLocked(id)
	} else {
		next := now.Add(e.schedule.Delay(op.RetryCount))
		op.NextAttemptAt = &next
	}
	e.persistOrReportLocked(id)
	e.updateGaugesLocked()
	ev := events.NewTransitionEvent(op, from, now)
	retryCount := op.RetryCount
	sku := op.ItemSKU
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SyncAttempts.WithLabelValues(metricOutcome(out)).Inc()
	}
	e.publish(ev)

	switch out {
	case outcomePermanent:
		e.logger.Errorw("operation failed permanently",
			"operation_id", id, "code", re.Code, "status", re.Status, "retry_count", retryCount, "error", re.Message)
		e.reporter.CaptureError(re, map[string]string{
			"operation_id": id,
			"sku":          sku,
			"error_code":   re.Code,
		})
	case outcomeAuth:
		e.logger.Warnw("operation waiting for credentials", "operation_id", id, "code", re.Code)
		if inv, ok := e.credentials.(invalidator); ok && re.Code == core.CodeUnauthorized {
			inv.Invalidate()
		}
	default:
		e.logger.Warnw("operation requeued",
			"operation_id", id, "code", re.Code, "retry_count", retryCount, "error", re.Message)
	}
	return out
}

// Retry moves a failed operation back to the tail of the pending queue with
// a fresh retry budget and drains if online.
func (e *Engine) Retry(ctx context.Context, id string) (*core.Operation, error) {
	e.mu.Lock()
	op := e.findLocked(id)
	if op == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.inflight[id] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInFlight, id)
	}
	if !canTransition(op.Status, eventRetry) {
		status := op.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, status)
	}

	previous := op.Clone()
	previousPending := append([]*core.Operation(nil), e.pending...)
	from := op.Status
	if err := transition(op, eventRetry); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	op.RetryCount = 0
	op.NextAttemptAt = nil
	op.LastErrorCode = ""
	op.LastErrorMessage = ""
	e.removePendingLocked(id)
	e.pending = append(e.pending, op)

	if err := e.persistLocked(ctx); err != nil {
		*op = *previous
		e.pending = previousPending
		e.mu.Unlock()
		return nil, err
	}
	e.updateGaugesLocked()
	ev := events.NewTransitionEvent(op, from, e.now())
	snapshot := op.Clone()
	e.mu.Unlock()

	e.publish(ev)
	e.logger.Infow("operation retried", "operation_id", id, "from", from)
	if e.monitor.Online() {
		e.TriggerDrain()
	}
	return snapshot, nil
}

// ClearHistory empties the history log. The pending queue is left alone.
func (e *Engine) ClearHistory(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.history
	e.history = []*core.Operation{}
	if err := e.persistLocked(ctx); err != nil {
		e.history = previous
		return err
	}
	e.updateGaugesLocked()
	e.logger.Infow("history cleared", "removed", len(previous), "queued", len(e.pending))
	return nil
}

// History returns a copy of the history log, newest first.
func (e *Engine) History() []*core.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.history)
}

// PendingQueue returns a copy of the pending queue in retry order.
func (e *Engine) PendingQueue() []*core.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAll(e.pending)
}

// QueueLen returns the number of queued operations.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Operation returns a copy of the operation with the given id.
func (e *Engine) Operation(id string) (*core.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op := e.findLocked(id)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return op.Clone(), nil
}

func (e *Engine) goBackground(fn func(ctx context.Context)) bool {
	if e.ctx.Err() != nil {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

func (e *Engine) persistLocked(ctx context.Context) error {
	e.history = queue.PruneHistory(e.history, e.config.HistoryLimit, e.config.KeepSynced)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.PersistTimeout)
	defer cancel()
	if err := e.store.Save(ctx, e.pending, e.history); err != nil {
		return fmt.Errorf("failed to persist queue state: %w", err)
	}
	return nil
}

// persistOrReportLocked is used after a remote call, when the outcome has
// already happened and cannot be rolled back.
func (e *Engine) persistOrReportLocked(id string) {
	if err := e.persistLocked(e.ctx); err != nil {
		e.logger.Errorw("failed to persist sync outcome", "operation_id", id, "error", err)
		e.reporter.CaptureError(err, map[string]string{"operation_id": id, "stage": "persist"})
	}
}

func (e *Engine) publish(evs ...events.TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.PersistTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, evs...); err != nil {
		e.logger.Warnw("failed to publish transition events", "count", len(evs), "error", err)
	}
}

func (e *Engine) updateGaugesLocked() {
	if e.metrics == nil {
		return
	}
	e.metrics.QueueDepth.Set(float64(len(e.pending)))
	e.metrics.HistorySize.Set(float64(len(e.history)))
}

func (e *Engine) findPendingLocked(id string) *core.Operation {
	for _, op := range e.pending {
		if op.OperationID == id {
			return op
		}
	}
	return nil
}

func (e *Engine) findLocked(id string) *core.Operation {
	for _, op := range e.history {
		if op.OperationID == id {
			return op
		}
	}
	return e.findPendingLocked(id)
}

func (e *Engine) removePendingLocked(id string) {
	kept := e.pending[:0:0]
	for _, op := range e.pending {
		if op.OperationID != id {
			kept = append(kept, op)
		}
	}
	e.pending = kept
}

func checkDraft(draft core.OperationDraft) error {
	var problems []string
	if draft.ItemID == "" {
		problems = append(problems, "item_id is required")
	}
	if draft.LocationID == "" {
		problems = append(problems, "location_id is required")
	}
	if strings.TrimSpace(draft.Reason) == "" {
		problems = append(problems, "reason is required")
	}
	if !draft.Action.Valid() {
		problems = append(problems, fmt.Sprintf("unknown action %q", draft.Action))
	}
	if draft.Quantity <= 0 {
		problems = append(problems, "quantity must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(problems, "; "))
	}
	return nil
}

func describe(op *core.Operation) string {
	desc := fmt.Sprintf("%s %d x %s", op.Action, op.Quantity, op.ItemSKU)
	if op.BatchOrSerial != "" {
		desc += " batch " + op.BatchOrSerial
	}
	return desc
}

func metricOutcome(o outcome) string {
	switch o {
	case outcomePermanent:
		return telemetry.OutcomePermanent
	case outcomeAuth:
		return telemetry.OutcomeAuth
	default:
		return telemetry.OutcomeRetryable
	}
}

func cloneAll(ops []*core.Operation) []*core.Operation {
	out := make([]*core.Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}
