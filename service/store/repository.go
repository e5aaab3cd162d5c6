/*
 * @module service/store/repository
 * @description 流水线持久化仓储：运行记录、报表快照与拟合产物的读写
 * @architecture 仓储模式 - 基于 GORM，生产使用 PostgreSQL，测试使用 SQLite
 * @documentReference DESIGN.md
 * @stateFlow CreateRun(running) -> FinishRun(succeeded|failed)
 * @rules
 *   - 产物写入在一个事务内完成，要么全部可见要么都不可见
 *   - 快照按创建时间倒序读取最新一条
 * @dependencies gorm.io/gorm
 * @refs service/models/insight.go, service/pipeline
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"insight-service/service/models"

	"gorm.io/gorm"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("pipeline run not found")

// Repository 流水线仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate 迁移流水线相关表
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(models.AllModels()...)
}

// CreateRun 创建运行记录
func (r *Repository) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建运行记录失败: %w", err)
	}
	return nil
}

// FinishRun 保存运行结果
func (r *Repository) FinishRun(ctx context.Context, run *models.PipelineRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("更新运行记录失败: %w", err)
	}
	return nil
}

// GetRun 按ID获取运行记录
func (r *Repository) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return &run, nil
}

// ListRuns 按开始时间倒序列出运行记录
func (r *Repository) ListRuns(ctx context.Context, status string, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Model(&models.PipelineRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var runs []models.PipelineRun
	if err := query.Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return runs, nil
}

// LatestSucceededRun 最近一次成功的运行
func (r *Repository) LatestSucceededRun(ctx context.Context) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := r.db.WithContext(ctx).
		Where("status = ?", models.RunStatusSucceeded).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return &run, nil
}

// SaveSnapshots 在一个事务内保存一批报表快照；beforeCommit 返回错误时快照整体回滚
func (r *Repository) SaveSnapshots(ctx context.Context, runID, source string, reports map[string][]byte, beforeCommit func() error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for kind, payload := range reports {
			snapshot := &models.ReportSnapshot{
				Kind:    kind,
				RunID:   runID,
				Source:  source,
				Payload: models.JSONRaw(payload),
			}
			if err := tx.Create(snapshot).Error; err != nil {
				return fmt.Errorf("保存报表快照失败 [%s]: %w", kind, err)
			}
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
}

// LatestSnapshot 某类报表的最新快照
func (r *Repository) LatestSnapshot(ctx context.Context, kind string) (*models.ReportSnapshot, error) {
	var snapshot models.ReportSnapshot
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询报表快照失败: %w", err)
	}
	return &snapshot, nil
}

// SaveArtifacts 保存一次运行的拟合产物
func (r *Repository) SaveArtifacts(ctx context.Context, runID string, artifacts map[string][]byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&models.FittedArtifact{}).Error; err != nil {
			return fmt.Errorf("清理旧产物失败: %w", err)
		}
		for kind, payload := range artifacts {
			artifact := &models.FittedArtifact{
				RunID:   runID,
				Kind:    kind,
				Payload: models.JSONRaw(payload),
			}
			if err := tx.Create(artifact).Error; err != nil {
				return fmt.Errorf("保存产物失败 [%s]: %w", kind, err)
			}
		}
		return nil
	})
}

// LoadArtifacts 读取一次运行的拟合产物
func (r *Repository) LoadArtifacts(ctx context.Context, runID string) (map[string][]byte, error) {
	var artifacts []models.FittedArtifact
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("读取产物失败: %w", err)
	}
	if len(artifacts) == 0 {
		return nil, ErrRunNotFound
	}

	result := make(map[string][]byte, len(artifacts))
	for _, a := range artifacts {
		result[a.Kind] = []byte(a.Payload)
	}
	return result, nil
}
