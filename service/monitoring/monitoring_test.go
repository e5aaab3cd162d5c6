package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"insight-service/service/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	m := NewPipelineMetrics()

	m.StageFinished("load", 20*time.Millisecond, nil)
	m.StageFinished("labels", 5*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("labels")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("load")))

	finished := time.Unix(1700000000, 0)
	m.RunFinished(&models.PipelineRun{
		Status:       models.RunStatusSucceeded,
		Trigger:      models.TriggerCron,
		FinishedAt:   &finished,
		Customers:    100,
		Positives:    30,
		ClusterCount: 3,
	}, time.Second)
	m.RunFinished(&models.PipelineRun{Status: models.RunStatusFailed, Trigger: models.TriggerAPI, Customers: 5}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(models.RunStatusSucceeded, models.TriggerCron)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(models.RunStatusFailed, models.TriggerAPI)))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.customers))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.positives))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.clusters))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess))

	require.NoError(t, m.NotifyReportUpdated(context.Background(), "churn", "run-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reportsUpdated.WithLabelValues("churn")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(time.Second)
	h.Register("database", func(ctx context.Context) error { return nil })

	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Overall)
	require.Contains(t, status.Dependencies, "database")
	assert.True(t, status.Dependencies["database"].Available)

	h.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	status = h.Check(context.Background())
	assert.Equal(t, StatusCritical, status.Overall)
	assert.False(t, status.Dependencies["redis"].Available)
	assert.Equal(t, "connection refused", status.Dependencies["redis"].ErrorMessage)
	assert.Greater(t, status.System.GoroutineCount, 0)
}
