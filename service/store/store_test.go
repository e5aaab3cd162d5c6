package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"insight-service/service/models"
	"insight-service/service/report"
	"insight-service/testutil"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReplaceAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, report.KindChurn)
	assert.ErrorIs(t, err, ErrReportNotFound)

	payload := []byte(`{"topCustomers":[]}`)
	require.NoError(t, s.Replace(ctx, map[string][]byte{report.KindChurn: payload}))
	payload[0] = 'X'

	got, err := s.Get(ctx, report.KindChurn)
	require.NoError(t, err)
	assert.Equal(t, `{"topCustomers":[]}`, string(got))

	got[0] = 'Y'
	again, _ := s.Get(ctx, report.KindChurn)
	assert.Equal(t, byte('{'), again[0])
}

func TestRepositoryRuns(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	older := &models.PipelineRun{Status: models.RunStatusSucceeded, Trigger: models.TriggerCLI, StartedAt: time.Now().Add(-time.Hour)}
	newer := &models.PipelineRun{Status: models.RunStatusRunning, Trigger: models.TriggerAPI, StartedAt: time.Now()}
	require.NoError(t, repo.CreateRun(ctx, older))
	require.NoError(t, repo.CreateRun(ctx, newer))
	assert.NotEmpty(t, newer.ID)

	runs, err := repo.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)

	latest, err := repo.LatestSucceededRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, latest.ID)

	finished := time.Now()
	newer.Status = models.RunStatusFailed
	newer.FailedStage = "labels"
	newer.FinishedAt = &finished
	newer.Diagnostics = models.JSONB{"accuracy": 0.9}
	require.NoError(t, repo.FinishRun(ctx, newer))

	got, err := repo.GetRun(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "labels", got.FailedStage)
	assert.Equal(t, 0.9, got.Diagnostics["accuracy"])

	failed, err := repo.ListRuns(ctx, models.RunStatusFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	_, err = repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRepositoryArtifacts(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	_, err := repo.LoadArtifacts(ctx, "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, repo.SaveArtifacts(ctx, "run-1", map[string][]byte{
		models.ArtifactFeatures: []byte(`{"numeric":["age"]}`),
		models.ArtifactModel:    []byte(`{"numeric_count":1}`),
	}))
	require.NoError(t, repo.SaveArtifacts(ctx, "run-1", map[string][]byte{
		models.ArtifactModel: []byte(`{"numeric_count":2}`),
	}))

	artifacts, err := repo.LoadArtifacts(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
	assert.JSONEq(t, `{"numeric_count":2}`, string(artifacts[models.ArtifactModel]))
}

func TestFileStoreAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	_, err := fs.Read(report.KindSales)
	assert.ErrorIs(t, err, ErrReportNotFound)

	require.NoError(t, fs.Write(report.KindSales, []byte(`{"forecasts":[]}`)))
	got, err := fs.Read(report.KindSales)
	require.NoError(t, err)
	assert.JSONEq(t, `{"forecasts":[]}`, string(got))

	_, err = os.Stat(filepath.Join(dir, "sales_data.json"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "临时文件应被清理")

	assert.Error(t, fs.Write(report.KindSales, []byte(`{broken`)))
	got, err = fs.Read(report.KindSales)
	require.NoError(t, err)
	assert.JSONEq(t, `{"forecasts":[]}`, string(got))
}

func TestTimestampedFilename(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("out", "churn_20250304_050607.json"), TimestampedFilename("out", "churn", at))
}

type fakePutter struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.keys = append(f.keys, *params.Key)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiveKeys(t *testing.T) {
	putter := &fakePutter{}
	archive := NewS3ArchiveWithClient(putter, "bucket", "")
	archive.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, archive.Archive(context.Background(), report.KindChurn, "run-9", []byte(`{}`)))
	require.Len(t, putter.keys, 1)
	assert.Equal(t, "reports/churn/2025-01-02/run-9.json", putter.keys[0])
	assert.True(t, bytes.Equal([]byte(`{}`), putter.bodies[0]))
}

func TestReportServicePublishAndFallback(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()
	dir := t.TempDir()

	notifier := &testutil.MockNotifier{}
	notifier.On("NotifyReportUpdated", mock.Anything, report.KindChurn, "run-1").Return(nil)
	notifier.On("NotifyReportUpdated", mock.Anything, report.KindSales, "run-1").Return(errors.New("broker down"))

	putter := &fakePutter{}
	svc := NewReportService(NewMemoryStore(), NewRepository(tdb.DB), NewFileStore(dir))
	svc.SetArchiver(NewS3ArchiveWithClient(putter, "bucket", "insight"))
	svc.AddNotifier(notifier)

	_, err := svc.Current(ctx, report.KindChurn)
	assert.ErrorIs(t, err, ErrReportNotFound)

	err = svc.Publish(ctx, "run-1", models.SnapshotSourcePipeline, map[string][]byte{
		report.KindChurn: []byte(`{"topCustomers":[{"id":1}]}`),
		report.KindSales: []byte(`{"forecasts":[]}`),
	})
	require.NoError(t, err)
	notifier.AssertExpectations(t)
	assert.Len(t, putter.keys, 2)

	got, err := svc.Current(ctx, report.KindChurn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topCustomers":[{"id":1}]}`, string(got))

	// 新进程：当前存储为空，从数据库快照读取
	restarted := NewReportService(NewMemoryStore(), NewRepository(tdb.DB), NewFileStore(dir))
	got, err = restarted.Current(ctx, report.KindSales)
	require.NoError(t, err)
	assert.JSONEq(t, `{"forecasts":[]}`, string(got))

	// 没有数据库时从备份文件读取
	fileOnly := NewReportService(nil, nil, NewFileStore(dir))
	got, err = fileOnly.Current(ctx, report.KindChurn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topCustomers":[{"id":1}]}`, string(got))
}

func TestReportServiceRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	svc := NewReportService(nil, nil, nil)

	err := svc.Publish(ctx, "run-2", models.SnapshotSourcePipeline, map[string][]byte{
		report.KindChurn: []byte(`{"topCustomers":[]}`),
		report.KindSales: []byte(`[1,2,3]`),
	})
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = svc.Current(ctx, report.KindChurn)
	assert.ErrorIs(t, err, ErrReportNotFound, "整批被拒绝时不能发布任何报表")

	assert.ErrorIs(t, svc.Replace(ctx, "inventory", models.SnapshotSourceAPI, []byte(`{}`)), ErrUnknownKind)

	require.NoError(t, svc.Replace(ctx, report.KindSales, models.SnapshotSourceAPI, []byte(`{"revenueTrends":[]}`)))
	got, err := svc.Current(ctx, report.KindSales)
	require.NoError(t, err)
	assert.JSONEq(t, `{"revenueTrends":[]}`, string(got))
}

// failingStore 读取总是未命中，替换总是失败
type failingStore struct{}

func (failingStore) Get(ctx context.Context, kind string) ([]byte, error) {
	return nil, errors.New("redis: connection refused")
}

func (failingStore) Replace(ctx context.Context, reports map[string][]byte) error {
	return errors.New("redis: connection refused")
}

func TestReportServicePublishRollsBackSnapshotsWhenReplaceFails(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	ctx := context.Background()
	repo := NewRepository(tdb.DB)
	dir := t.TempDir()

	previous := NewReportService(NewMemoryStore(), repo, nil)
	require.NoError(t, previous.Publish(ctx, "run-ok", models.SnapshotSourcePipeline, map[string][]byte{
		report.KindChurn: []byte(`{"topCustomers":[{"id":1}]}`),
	}))

	svc := NewReportService(failingStore{}, repo, NewFileStore(dir))
	err := svc.Publish(ctx, "run-bad", models.SnapshotSourcePipeline, map[string][]byte{
		report.KindChurn: []byte(`{"topCustomers":[{"id":2}]}`),
	})
	require.Error(t, err)

	got, err := svc.Current(ctx, report.KindChurn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topCustomers":[{"id":1}]}`, string(got), "失败的发布不能被兜底读取到")

	snapshot, err := repo.LatestSnapshot(ctx, report.KindChurn)
	require.NoError(t, err)
	assert.Equal(t, "run-ok", snapshot.RunID)

	_, err = os.Stat(filepath.Join(dir, ReportFileName(report.KindChurn)))
	assert.True(t, os.IsNotExist(err), "失败的发布不写备份文件")
}
