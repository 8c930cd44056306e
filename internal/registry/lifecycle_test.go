package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingHook(name string, log *[]string, startErr error) *LifecycleHookFunc {
	return &LifecycleHookFunc{
		Name: name,
		OnStartFunc: func(ctx context.Context) error {
			if startErr != nil {
				return startErr
			}
			*log = append(*log, "start "+name)
			return nil
		},
		OnStopFunc: func(ctx context.Context) error {
			*log = append(*log, "stop "+name)
			return nil
		},
	}
}

func TestLifecycleOrder(t *testing.T) {
	var log []string
	lm := NewLifecycleManager()
	lm.RegisterHook(recordingHook("store", &log, nil))
	lm.RegisterHook(recordingHook("prober", &log, nil))
	lm.RegisterHook(recordingHook("drainer", &log, nil))
	assert.Equal(t, 3, lm.HookCount())

	ctx := context.Background()
	require.NoError(t, lm.ExecuteStartHooks(ctx))
	require.NoError(t, lm.ExecuteStopHooks(ctx))

	assert.Equal(t, []string{
		"start store", "start prober", "start drainer",
		"stop drainer", "stop prober", "stop store",
	}, log)
}

func TestLifecycleStartFailureStopsStartedHooks(t *testing.T) {
	var log []string
	boom := errors.New("boom")

	lm := NewLifecycleManager()
	lm.RegisterHook(recordingHook("store", &log, nil))
	lm.RegisterHook(recordingHook("prober", &log, boom))
	lm.RegisterHook(recordingHook("drainer", &log, nil))

	err := lm.ExecuteStartHooks(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start store", "stop store"}, log)

	// Nothing is left running, so a stop is a no-op.
	require.NoError(t, lm.ExecuteStopHooks(context.Background()))
	assert.Len(t, log, 2)
}

func TestLifecycleStopJoinsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	lm := NewLifecycleManager()
	lm.RegisterHook(&LifecycleHookFunc{Name: "a", OnStopFunc: func(context.Context) error { return first }})
	lm.RegisterHook(&LifecycleHookFunc{Name: "b", OnStopFunc: func(context.Context) error { return second }})

	require.NoError(t, lm.ExecuteStartHooks(context.Background()))
	err := lm.ExecuteStopHooks(context.Background())
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
}
