package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/ltaclient"
)

type fakeStage struct {
	mu        sync.Mutex
	workItems int
	calls     int
}

func (s *fakeStage) Component() string {
	return "deleter"
}

func (s *fakeStage) StatusExtras() map[string]any {
	return map[string]any{"quota_used": 42}
}

func (s *fakeStage) WorkOne(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.workItems > 0 {
		s.workItems--
		return true, nil
	}
	return false, nil
}

func (s *fakeStage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() *Config {
	return &Config{
		ComponentName:                 "deleter-test",
		WorkRetries:                   3,
		WorkTimeoutSeconds:            30,
		WorkSleepDurationSeconds:      60,
		HeartbeatPatchRetries:         3,
		HeartbeatPatchTimeoutSeconds:  30,
		HeartbeatSleepDurationSeconds: 60,
	}
}

func TestWorkerRunOnceAndDie(t *testing.T) {
	mock := ltaclient.NewMockClient()
	stage := &fakeStage{workItems: 5}

	cfg := testConfig()
	cfg.RunOnceAndDie = true

	w := New(cfg, mock, stage, nil)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, stage.callCount(), "one claim attempt, then exit")
}

func TestWorkerRunUntilNoWork(t *testing.T) {
	mock := ltaclient.NewMockClient()
	stage := &fakeStage{workItems: 3}

	cfg := testConfig()
	cfg.RunUntilNoWork = true

	w := New(cfg, mock, stage, nil)
	require.NoError(t, w.Run(context.Background()))

	// three hits plus the empty pop that ends the drain
	assert.Equal(t, 4, stage.callCount())
	assert.Equal(t, 0, stage.workItems)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	mock := ltaclient.NewMockClient()
	stage := &fakeStage{}

	ctx, cancel := context.WithCancel(context.Background())

	cfg := testConfig()
	cfg.WorkSleepDurationSeconds = 3600

	w := New(cfg, mock, stage, nil)

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	// let the first drain happen, then cancel out of the sleep
	require.Eventually(t, func() bool {
		return stage.callCount() > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerHeartbeatPayload(t *testing.T) {
	mock := ltaclient.NewMockClient()
	stage := &fakeStage{workItems: 1}

	cfg := testConfig()
	cfg.RunUntilNoWork = true

	w := New(cfg, mock, stage, nil)
	require.NoError(t, w.Run(context.Background()))

	require.NotEmpty(t, mock.Heartbeats)

	first := mock.Heartbeats[0]
	assert.Equal(t, "deleter/deleter-test", first.UUID)
	assert.Contains(t, first.Update, "timestamp")
	assert.Equal(t, 42, first.Update["quota_used"])
}
