/*
 * @module service/models/insight
 * @description 分析流水线的持久化模型：运行记录、报表快照、拟合产物
 * @architecture 数据模型层
 * @documentReference DESIGN.md
 * @stateFlow running -> succeeded | failed
 * @rules
 *   - 失败的运行不产生报表快照
 *   - 拟合产物按运行隔离，加载后只读
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/store, service/pipeline
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 运行状态
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// 触发方式
const (
	TriggerAPI  = "api"
	TriggerCron = "cron"
	TriggerCLI  = "cli"
)

// 快照来源
const (
	SnapshotSourcePipeline = "pipeline"
	SnapshotSourceAPI      = "api"
)

// 产物类型
const (
	ArtifactFeatures = "features"
	ArtifactModel    = "model"
)

// PipelineRun 流水线运行记录
type PipelineRun struct {
	ID           string     `gorm:"type:uuid;primary_key" json:"id"`
	Status       string     `gorm:"not null;index" json:"status"`
	Trigger      string     `gorm:"not null" json:"trigger"`
	Source       string     `json:"source"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	FailedStage  string     `json:"failed_stage,omitempty"`
	Message      string     `json:"message,omitempty"`
	Customers    int        `json:"customers"`
	Positives    int        `json:"positives"`
	LabelSource  string     `json:"label_source"`
	ClusterCount int        `json:"cluster_count"`
	Diagnostics  JSONB      `gorm:"type:jsonb" json:"diagnostics"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate 创建前钩子
func (r *PipelineRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// ReportSnapshot 报表快照
type ReportSnapshot struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	Kind      string    `gorm:"not null;index" json:"kind"`
	RunID     string    `gorm:"index" json:"run_id,omitempty"`
	Source    string    `gorm:"not null" json:"source"`
	Payload   JSONRaw   `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate 创建前钩子
func (s *ReportSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// FittedArtifact 一次运行拟合的编码器、标准化器与模型
type FittedArtifact struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	RunID     string    `gorm:"not null;index" json:"run_id"`
	Kind      string    `gorm:"not null" json:"kind"`
	Payload   JSONRaw   `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate 创建前钩子
func (a *FittedArtifact) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// AllModels 需要迁移的模型
func AllModels() []interface{} {
	return []interface{}{&PipelineRun{}, &ReportSnapshot{}, &FittedArtifact{}}
}
