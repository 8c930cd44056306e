package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
	"github.com/rzpsarthak13/inventory-sync/internal/events"
	"github.com/rzpsarthak13/inventory-sync/internal/kvstore"
	"github.com/rzpsarthak13/inventory-sync/internal/network"
	"github.com/rzpsarthak13/inventory-sync/internal/queue"
	"github.com/rzpsarthak13/inventory-sync/internal/telemetry"
)

// fakeRemote answers submissions from a script of errors, then succeeds.
type fakeRemote struct {
	mu       sync.Mutex
	requests []core.AdjustmentRequest
	script   []error
	always   error
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeRemote) SubmitAdjustment(ctx context.Context, req core.AdjustmentRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	var err error
	switch {
	case len(f.script) > 0:
		err = f.script[0]
		f.script = f.script[1:]
	case f.always != nil:
		err = f.always
	}
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", &core.RemoteError{Code: core.CodeNetworkError, Message: ctx.Err().Error(), Err: ctx.Err()}
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("adj-%d", n), nil
}

func (f *fakeRemote) FetchItemBySku(context.Context, string) (*core.ItemInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeRemote) FetchLocations(context.Context) ([]core.LocationInfo, error) {
	return nil, errors.New("not used")
}

func (f *fakeRemote) FetchAdjustmentReasons(context.Context) ([]core.AdjustmentReason, error) {
	return nil, errors.New("not used")
}

func (f *fakeRemote) calls() []core.AdjustmentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.AdjustmentRequest(nil), f.requests...)
}

func (f *fakeRemote) setAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = err
}

type fakeCredentials struct {
	mu          sync.Mutex
	refreshed   []func()
	invalidated int
}

func (c *fakeCredentials) AccessToken(context.Context) (string, error) { return "token", nil }
func (c *fakeCredentials) OnTokenExpiring(func()) func()             { return func() {} }

func (c *fakeCredentials) OnTokenRefreshed(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed = append(c.refreshed, fn)
	return func() {}
}

func (c *fakeCredentials) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
}

func (c *fakeCredentials) fireRefreshed() {
	c.mu.Lock()
	fns := append([]func(){}, c.refreshed...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recordingReporter struct {
	telemetry.NopReporter
	mu       sync.Mutex
	captured []error
}

func (r *recordingReporter) CaptureError(err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, err)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine    *Engine
	monitor   *network.Monitor
	remote    *fakeRemote
	store     *queue.Store
	publisher *events.MemoryPublisher
	reporter  *recordingReporter
	creds     *fakeCredentials
	metrics   *telemetry.Metrics
	clock     *testClock
}

func newHarness(t *testing.T, online bool, configure ...func(*Config)) *harness {
	t.Helper()

	config := DefaultConfig()
	config.DrainRate = 0
	config.Backoff = BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	for _, fn := range configure {
		fn(&config)
	}

	h := &harness{
		monitor:   network.NewMonitor(online, nil),
		remote:    &fakeRemote{},
		store:     queue.NewStore(kvstore.NewMemoryKVStore(), "test", "org-1"),
		publisher: events.NewMemoryPublisher(100),
		reporter:  &recordingReporter{},
		creds:     &fakeCredentials{},
		metrics:   telemetry.NewMetrics(prometheus.NewRegistry()),
		clock:     &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.engine = New(h.store, h.remote, h.monitor, config, Options{
		Credentials: h.creds,
		Publisher:   h.publisher,
		Reporter:    h.reporter,
		Metrics:     h.metrics,
		Now:         h.clock.Now,
	})
	t.Cleanup(func() { h.engine.Close() })
	return h
}

func draft(sku string, action core.Action, qty int) core.OperationDraft {
	return core.OperationDraft{
		ItemID:     "item-" + sku,
		ItemSKU:    sku,
		ItemName:   "Item " + sku,
		Action:     action,
		Quantity:   qty,
		Reason:     "Stock on fire",
		LocationID: "loc-1",
	}
}

func (h *harness) enqueue(t *testing.T, d core.OperationDraft) *core.Operation {
	t.Helper()
	op, err := h.engine.Enqueue(context.Background(), d)
	require.NoError(t, err)
	return op
}

func (h *harness) op(t *testing.T, id string) *core.Operation {
	t.Helper()
	op, err := h.engine.Operation(id)
	require.NoError(t, err)
	return op
}

func ids(ops []*core.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.OperationID
	}
	return out
}

func TestEnqueueOnlineSyncs(t *testing.T) {
	h := newHarness(t, true)

	created := h.enqueue(t, draft("TEST-SKU-001", core.ActionAdd, 5))
	assert.Equal(t, core.StatusSyncing, created.Status)
	assert.NotEmpty(t, created.OperationID)

	h.engine.Wait()

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusSynced, op.Status)
	assert.NotEmpty(t, op.RemoteAdjustmentID)
	assert.Empty(t, op.LastErrorCode)
	assert.Empty(t, h.engine.PendingQueue())

	calls := h.remote.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 5, calls[0].SignedQuantity)
	assert.Equal(t, created.OperationID, calls[0].IdempotencyKey)
	assert.Equal(t, "loc-1", calls[0].LocationID)

	persistedQueue, err := h.store.LoadQueue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persistedQueue)
	persistedHistory, err := h.store.LoadHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, persistedHistory, 1)
	assert.Equal(t, core.StatusSynced, persistedHistory[0].Status)
}

func TestEnqueueOfflineThenReconnect(t *testing.T) {
	h := newHarness(t, false)
	h.engine.Start()

	created := h.enqueue(t, draft("TEST-SKU-002", core.ActionReduce, 3))
	assert.Equal(t, core.StatusPending, created.Status)

	assert.Equal(t, []string{created.OperationID}, ids(h.engine.PendingQueue()))
	history := h.engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, core.StatusPending, history[0].Status)
	assert.Empty(t, h.remote.calls())

	h.monitor.SetDetected(true)
	h.engine.Wait()

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusSynced, op.Status)
	assert.Empty(t, h.engine.PendingQueue())

	calls := h.remote.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, -3, calls[0].SignedQuantity)

	var path []core.Status
	for _, ev := range h.publisher.Drain() {
		if ev.OperationID == created.OperationID {
			path = append(path, ev.To)
		}
	}
	assert.Equal(t, []core.Status{core.StatusPending, core.StatusSyncing, core.StatusSynced}, path)
}

func TestDrainIsSequentialInInsertionOrder(t *testing.T) {
	h := newHarness(t, false)

	o3 := h.enqueue(t, draft("SKU-3", core.ActionAdd, 1))
	o4 := h.enqueue(t, draft("SKU-4", core.ActionAdd, 2))

	h.monitor.SetDetected(true)
	result := h.engine.Drain(context.Background())
	assert.Equal(t, DrainResult{Attempted: 2, Synced: 2}, result)

	calls := h.remote.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, o3.OperationID, calls[0].IdempotencyKey)
	assert.Equal(t, o4.OperationID, calls[1].IdempotencyKey)

	// History stays newest first.
	assert.Equal(t, []string{o4.OperationID, o3.OperationID}, ids(h.engine.History()))
}

func TestNotFoundIsPermanent(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{Status: 404, Code: core.CodeNotFound, Message: "item does not exist"}}

	created := h.enqueue(t, draft("GONE", core.ActionAdd, 1))
	h.monitor.SetDetected(true)
	result := h.engine.Drain(context.Background())
	assert.Equal(t, 1, result.Failed)

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusFailedPermanent, op.Status)
	assert.Equal(t, core.CodeNotFound, op.LastErrorCode)
	assert.Equal(t, "item does not exist", op.LastErrorMessage)
	assert.Equal(t, 1, op.RetryCount)
	assert.Nil(t, op.NextAttemptAt)
	assert.Empty(t, h.engine.PendingQueue())
	assert.Len(t, h.engine.History(), 1)
	assert.Len(t, h.reporter.captured, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SyncAttempts.WithLabelValues(telemetry.OutcomePermanent)))
}

func TestTimeoutRequeuesAndRetriesOnNextDrain(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{Code: core.CodeTimeout, Message: "request timed out"}}

	created := h.enqueue(t, draft("SLOW", core.ActionAdd, 4))
	h.monitor.SetDetected(true)

	result := h.engine.Drain(context.Background())
	assert.Equal(t, DrainResult{Attempted: 1, Requeued: 1}, result)

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusPending, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, core.CodeTimeout, op.LastErrorCode)
	require.NotNil(t, op.NextAttemptAt)
	assert.Equal(t, h.clock.Now().Add(time.Second), *op.NextAttemptAt)
	assert.Equal(t, []string{created.OperationID}, ids(h.engine.PendingQueue()))

	result = h.engine.Drain(context.Background())
	assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, result)

	op = h.op(t, created.OperationID)
	assert.Equal(t, core.StatusSynced, op.Status)
	assert.Equal(t, 1, op.RetryCount)
	assert.Len(t, h.remote.calls(), 2)
	assert.Empty(t, h.engine.PendingQueue())
	assert.Len(t, h.engine.History(), 1)
}

func TestNetworkErrorStopsDrain(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{Code: core.CodeNetworkError, Message: "connection refused"}}

	first := h.enqueue(t, draft("A", core.ActionAdd, 1))
	second := h.enqueue(t, draft("B", core.ActionAdd, 1))
	h.monitor.SetDetected(true)

	result := h.engine.Drain(context.Background())
	assert.True(t, result.Stopped)
	assert.Equal(t, 1, result.Attempted)

	assert.Equal(t, core.StatusPending, h.op(t, first.OperationID).Status)
	untouched := h.op(t, second.OperationID)
	assert.Equal(t, core.StatusPending, untouched.Status)
	assert.Zero(t, untouched.RetryCount)
	assert.Equal(t, []string{first.OperationID, second.OperationID}, ids(h.engine.PendingQueue()))
}

func TestDrainWhileOfflineDoesNothing(t *testing.T) {
	h := newHarness(t, false)
	h.enqueue(t, draft("A", core.ActionAdd, 1))

	result := h.engine.Drain(context.Background())
	assert.True(t, result.Stopped)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, h.remote.calls())
}

func TestUnclassifiedFailuresEscalateAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, false, func(c *Config) { c.MaxAttempts = 3 })
	h.remote.setAlways(&core.RemoteError{Status: 500, Code: core.CodeAPIError, Message: "internal"})

	created := h.enqueue(t, draft("FLAKY", core.ActionAdd, 1))
	h.monitor.SetDetected(true)

	for i := 1; i < 3; i++ {
		h.engine.Drain(context.Background())
		op := h.op(t, created.OperationID)
		require.Equal(t, core.StatusPending, op.Status, "attempt %d", i)
		require.Equal(t, i, op.RetryCount)
	}

	h.engine.Drain(context.Background())
	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusFailedPermanent, op.Status)
	assert.Equal(t, 3, op.RetryCount)
	assert.Empty(t, h.engine.PendingQueue())
}

func TestTransientFailuresNeverEscalate(t *testing.T) {
	h := newHarness(t, false, func(c *Config) { c.MaxAttempts = 2 })
	h.remote.setAlways(&core.RemoteError{Status: 429, Code: core.CodeRateLimit, Message: "slow down"})

	created := h.enqueue(t, draft("BUSY", core.ActionAdd, 1))
	h.monitor.SetDetected(true)
	for i := 0; i < 6; i++ {
		h.engine.Drain(context.Background())
	}

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusPending, op.Status)
	assert.Equal(t, 6, op.RetryCount)
	assert.Len(t, h.engine.PendingQueue(), 1)
}

func TestSessionExpiryParksOperationUntilTokenRefresh(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{
		Status:      401,
		Code:        core.CodeUnauthorized,
		Message:     "invalid oauth token",
		UserMessage: core.MsgSessionExpired,
	}}
	h.engine.Start()

	created := h.enqueue(t, draft("AUTH", core.ActionAdd, 2))
	h.monitor.SetDetected(true)
	h.engine.Wait()

	op := h.op(t, created.OperationID)
	assert.Equal(t, core.StatusFailedRetryable, op.Status)
	assert.Equal(t, core.MsgSessionExpired, op.LastErrorMessage)
	assert.Equal(t, core.CodeUnauthorized, op.LastErrorCode)
	assert.Equal(t, []string{created.OperationID}, ids(h.engine.PendingQueue()))
	assert.Equal(t, 1, h.creds.invalidated)
	assert.Empty(t, h.reporter.captured)

	h.creds.fireRefreshed()
	h.engine.Wait()

	op = h.op(t, created.OperationID)
	assert.Equal(t, core.StatusSynced, op.Status)
	assert.Empty(t, h.engine.PendingQueue())
}

func TestSingleFlightPerOperation(t *testing.T) {
	h := newHarness(t, true)
	h.remote.block = make(chan struct{})
	h.remote.entered = make(chan struct{}, 1)

	created := h.enqueue(t, draft("ONCE", core.ActionAdd, 1))
	<-h.remote.entered

	result := h.engine.Drain(context.Background())
	assert.Equal(t, DrainResult{Skipped: 1}, result)

	_, err := h.engine.Retry(context.Background(), created.OperationID)
	assert.ErrorIs(t, err, ErrInFlight)

	close(h.remote.block)
	h.engine.Wait()

	assert.Len(t, h.remote.calls(), 1)
	assert.Equal(t, core.StatusSynced, h.op(t, created.OperationID).Status)
}

func TestEnqueueWhileOnlineDrainsEarlierQueue(t *testing.T) {
	h := newHarness(t, false)
	older := h.enqueue(t, draft("OLD", core.ActionAdd, 1))

	h.monitor.SetDetected(true)
	newer := h.enqueue(t, draft("NEW", core.ActionAdd, 1))
	h.engine.Wait()

	assert.Equal(t, core.StatusSynced, h.op(t, older.OperationID).Status)
	assert.Equal(t, core.StatusSynced, h.op(t, newer.OperationID).Status)
	assert.Len(t, h.remote.calls(), 2)
	assert.Empty(t, h.engine.PendingQueue())
}

func TestClearHistoryKeepsPendingQueue(t *testing.T) {
	h := newHarness(t, false)
	a := h.enqueue(t, draft("A", core.ActionAdd, 1))
	b := h.enqueue(t, draft("B", core.ActionReduce, 2))

	require.NoError(t, h.engine.ClearHistory(context.Background()))
	assert.Empty(t, h.engine.History())
	assert.Equal(t, []string{a.OperationID, b.OperationID}, ids(h.engine.PendingQueue()))

	persisted, err := h.store.LoadQueue(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	h.monitor.SetDetected(true)
	result := h.engine.Drain(context.Background())
	assert.Equal(t, 2, result.Synced)
	assert.Empty(t, h.engine.PendingQueue())
}

func TestRetryFailedOperation(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{Status: 400, Code: core.CodeBadRequest, Message: "bad location"}}

	failed := h.enqueue(t, draft("BAD", core.ActionAdd, 1))
	h.monitor.SetDetected(true)
	h.engine.Drain(context.Background())
	require.Equal(t, core.StatusFailedPermanent, h.op(t, failed.OperationID).Status)

	h.monitor.SetDetected(false)
	other := h.enqueue(t, draft("OTHER", core.ActionAdd, 1))

	retried, err := h.engine.Retry(context.Background(), failed.OperationID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, retried.Status)
	assert.Zero(t, retried.RetryCount)
	assert.Empty(t, retried.LastErrorCode)
	assert.Nil(t, retried.NextAttemptAt)
	assert.Equal(t, []string{other.OperationID, failed.OperationID}, ids(h.engine.PendingQueue()))

	h.monitor.SetDetected(true)
	result := h.engine.Drain(context.Background())
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, core.StatusSynced, h.op(t, failed.OperationID).Status)

	_, err = h.engine.Retry(context.Background(), failed.OperationID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = h.engine.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDrainDueHonoursBackoff(t *testing.T) {
	h := newHarness(t, false)
	h.remote.script = []error{&core.RemoteError{Code: core.CodeTimeout, Message: "timeout"}}

	created := h.enqueue(t, draft("WAIT", core.ActionAdd, 1))
	h.monitor.SetDetected(true)
	h.engine.DrainDue(context.Background())
	require.Equal(t, 1, h.op(t, created.OperationID).RetryCount)

	result := h.engine.DrainDue(context.Background())
	assert.Equal(t, DrainResult{Skipped: 1}, result)

	h.clock.Advance(2 * time.Second)
	result = h.engine.DrainDue(context.Background())
	assert.Equal(t, DrainResult{Attempted: 1, Synced: 1}, result)
}

func TestEnqueueRejectsInvalidDraft(t *testing.T) {
	h := newHarness(t, true)

	bad := draft("ZERO", core.ActionAdd, 0)
	_, err := h.engine.Enqueue(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidDraft)

	bad = draft("NOREASON", core.ActionAdd, 1)
	bad.Reason = "  "
	_, err = h.engine.Enqueue(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidDraft)

	assert.Empty(t, h.engine.History())
	assert.Empty(t, h.remote.calls())
}

func TestEnqueueRollsBackWhenPersistFails(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.store.Close())

	_, err := h.engine.Enqueue(context.Background(), draft("A", core.ActionAdd, 1))
	require.Error(t, err)
	assert.Empty(t, h.engine.History())
	assert.Empty(t, h.engine.PendingQueue())
}

func TestLoadRecoversInterruptedState(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	base := h.clock.Now()

	interrupted := &core.Operation{OperationID: "a", CreatedAt: base.Add(-time.Minute), ItemID: "i", Action: core.ActionAdd, Quantity: 1, Reason: "r", LocationID: "l", Status: core.StatusSyncing}
	synced := &core.Operation{OperationID: "b", CreatedAt: base.Add(-2 * time.Minute), ItemID: "i", Action: core.ActionAdd, Quantity: 1, Reason: "r", LocationID: "l", Status: core.StatusSynced, RemoteAdjustmentID: "adj"}
	orphan := &core.Operation{OperationID: "c", CreatedAt: base, ItemID: "i", Action: core.ActionReduce, Quantity: 2, Reason: "r", LocationID: "l", Status: core.StatusPending}

	require.NoError(t, h.store.Save(ctx,
		[]*core.Operation{interrupted.Clone(), orphan.Clone(), synced.Clone()},
		[]*core.Operation{interrupted.Clone(), synced.Clone()},
	))

	require.NoError(t, h.engine.Load(ctx))

	assert.Equal(t, []string{"a", "c"}, ids(h.engine.PendingQueue()))
	assert.Equal(t, []string{"a", "b"}, ids(h.engine.History()), "queue-only entries stay out of the history")
	assert.Equal(t, core.StatusPending, h.op(t, "a").Status)
	assert.Equal(t, core.StatusPending, h.op(t, "c").Status)

	persisted, err := h.store.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
	assert.Equal(t, core.StatusPending, persisted[0].Status)

	h.monitor.SetDetected(true)
	result := h.engine.Drain(ctx)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.HistorySize))
}

func TestClearedHistoryStaysClearedAfterRestart(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	op := h.enqueue(t, draft("A", core.ActionAdd, 1))
	require.NoError(t, h.engine.ClearHistory(ctx))

	restarted := New(h.store, h.remote, h.monitor, DefaultConfig(), Options{})
	defer restarted.Close()
	require.NoError(t, restarted.Load(ctx))

	assert.Empty(t, restarted.History())
	assert.Equal(t, []string{op.OperationID}, ids(restarted.PendingQueue()))

	persisted, err := h.store.LoadHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestLoadRejectsCorruptState(t *testing.T) {
	kv := kvstore.NewMemoryKVStore()
	store := queue.NewStore(kv, "test", "org-1")
	require.NoError(t, kv.Set(context.Background(), store.HistoryKey(), []byte("{not json"), 0))

	engine := New(store, &fakeRemote{}, network.NewMonitor(false, nil), DefaultConfig(), Options{})
	defer engine.Close()
	err := engine.Load(context.Background())
	assert.ErrorIs(t, err, queue.ErrCorruptState)
}

func TestHistoryPrunedOnPersist(t *testing.T) {
	h := newHarness(t, true, func(c *Config) {
		c.HistoryLimit = 3
		c.KeepSynced = 1
	})

	var last *core.Operation
	for i := 0; i < 4; i++ {
		last = h.enqueue(t, draft(fmt.Sprintf("P%d", i), core.ActionAdd, 1))
		h.engine.Wait()
	}

	history := h.engine.History()
	require.Len(t, history, 2)
	assert.Equal(t, last.OperationID, history[0].OperationID)
}

func TestMetricsTrackQueue(t *testing.T) {
	h := newHarness(t, false)
	h.enqueue(t, draft("A", core.ActionAdd, 1))
	h.enqueue(t, draft("B", core.ActionReduce, 1))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OperationsEnqueued.WithLabelValues("REDUCE")))

	h.monitor.SetDetected(true)
	h.engine.Drain(context.Background())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SyncAttempts.WithLabelValues(telemetry.OutcomeSynced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Drains))
}

func TestCloseStopsBackgroundWork(t *testing.T) {
	h := newHarness(t, false)
	h.engine.Start()
	require.NoError(t, h.engine.Close())

	h.monitor.SetDetected(true)
	h.engine.TriggerDrain()
	h.engine.Wait()
	assert.Empty(t, h.remote.calls())
}

func TestStopDropsSubscriptions(t *testing.T) {
	h := newHarness(t, false)
	h.enqueue(t, draft("A", core.ActionAdd, 1))

	h.engine.Start()
	h.engine.Stop()
	h.monitor.SetDetected(true)
	h.engine.Wait()
	assert.Empty(t, h.remote.calls())

	h.monitor.SetDetected(false)
	h.engine.Start()
	h.engine.Start()
	h.monitor.SetDetected(true)
	h.engine.Wait()
	assert.Len(t, h.remote.calls(), 1)
	assert.Empty(t, h.engine.PendingQueue())
}

func TestCloseLeavesCancelledAttemptPending(t *testing.T) {
	h := newHarness(t, true)
	h.remote.block = make(chan struct{})
	h.remote.entered = make(chan struct{}, 1)

	op := h.enqueue(t, draft("A", core.ActionAdd, 1))
	<-h.remote.entered
	require.NoError(t, h.engine.Close())

	got := h.op(t, op.OperationID)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastErrorCode)

	persisted, err := h.store.LoadQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, core.StatusPending, persisted[0].Status)
}
