package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"insight-service/service/distributed_lock"
	"insight-service/service/models"
	"insight-service/service/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []string
	block    chan struct{}
	started  chan struct{}
	once     sync.Once
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, trigger string) (*pipeline.Result, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Run: &models.PipelineRun{ID: "run-1", Trigger: trigger, Status: models.RunStatusSucceeded}}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func TestTriggerRunsUnderLock(t *testing.T) {
	runner := &fakeRunner{}
	lock := distributed_lock.NewLocalLock()
	s, err := NewPipelineScheduler(runner, lock, Options{})
	require.NoError(t, err)

	result, err := s.Trigger(context.Background(), models.TriggerAPI)
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.Run.ID)
	assert.Equal(t, []string{models.TriggerAPI}, runner.triggers)

	locked, _ := lock.IsLocked(context.Background(), lockKey)
	assert.False(t, locked)
	assert.True(t, s.NextRun().IsZero())
}

func TestTriggerWhileLockHeld(t *testing.T) {
	lock := distributed_lock.NewLocalLock()
	ok, err := lock.TryLock(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	runner := &fakeRunner{}
	s, err := NewPipelineScheduler(runner, lock, Options{})
	require.NoError(t, err)

	_, err = s.Trigger(context.Background(), models.TriggerAPI)
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)
	assert.Equal(t, 0, runner.count())
}

func TestTriggerPropagatesRunError(t *testing.T) {
	boom := errors.New("boom")
	s, err := NewPipelineScheduler(&fakeRunner{err: boom}, nil, Options{})
	require.NoError(t, err)

	_, err = s.Trigger(context.Background(), models.TriggerAPI)
	assert.ErrorIs(t, err, boom)
}

func TestInvalidCronExpression(t *testing.T) {
	_, err := NewPipelineScheduler(&fakeRunner{}, nil, Options{CronExpr: "not a cron"})
	assert.Error(t, err)
}

func TestScheduledRun(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	s, err := NewPipelineScheduler(runner, nil, Options{CronExpr: "* * * * * *"})
	require.NoError(t, err)
	assert.NotZero(t, s.entryID)

	s.Start()
	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatal("定时运行未触发")
	}
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, models.TriggerCron, runner.triggers[0])
}
