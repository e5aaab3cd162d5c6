/*
 * @module service/store/report_service
 * @description 报表服务：发布新报表并按 当前存储 -> 数据库快照 -> 备份文件 的顺序读取
 * @architecture 门面模式 - 组合当前存储、仓储、文件备份、归档与事件通知
 * @documentReference DESIGN.md
 * @stateFlow Publish: 校验 -> 快照(事务内替换当前报表，失败回滚) -> 备份文件 -> 归档/通知
 * @rules
 *   - 任何一份报表不是合法JSON时整批拒绝，不发布任何内容
 *   - 备份文件、归档、通知失败只记录日志
 * @dependencies service/store/*
 * @refs api/controllers/report_controller.go, service/pipeline
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"insight-service/service/report"
)

// ErrUnknownKind 未知报表类型
var ErrUnknownKind = errors.New("unknown report kind")

// ErrInvalidReport 报表不是合法的JSON对象
var ErrInvalidReport = errors.New("report is not a JSON object")

// Archiver 报表归档接口
type Archiver interface {
	Archive(ctx context.Context, kind, runID string, payload []byte) error
}

// Notifier 报表更新通知接口
type Notifier interface {
	NotifyReportUpdated(ctx context.Context, kind, runID string) error
}

// ReportService 报表服务
type ReportService struct {
	current   ReportStore
	repo      *Repository
	files     *FileStore
	archiver  Archiver
	notifiers []Notifier
}

// NewReportService 创建报表服务，repo 与 files 可以为 nil
func NewReportService(current ReportStore, repo *Repository, files *FileStore) *ReportService {
	if current == nil {
		current = NewMemoryStore()
	}
	return &ReportService{current: current, repo: repo, files: files}
}

// SetArchiver 设置归档
func (s *ReportService) SetArchiver(a Archiver) {
	s.archiver = a
}

// AddNotifier 添加通知
func (s *ReportService) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// ValidKind 检查报表类型
func ValidKind(kind string) bool {
	return kind == report.KindChurn || kind == report.KindSales
}

// Publish 发布一批报表
func (s *ReportService) Publish(ctx context.Context, runID, source string, reports map[string][]byte) error {
	if len(reports) == 0 {
		return fmt.Errorf("没有可发布的报表")
	}
	for kind, payload := range reports {
		if !ValidKind(kind) {
			return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}
		if !isJSONObject(payload) {
			return fmt.Errorf("%w: %s", ErrInvalidReport, kind)
		}
	}

	// 当前报表替换失败时快照随事务回滚，兜底读取不会拿到未发布的报表
	replace := func() error {
		if err := s.current.Replace(ctx, reports); err != nil {
			return fmt.Errorf("替换当前报表失败: %w", err)
		}
		return nil
	}
	if s.repo != nil {
		if err := s.repo.SaveSnapshots(ctx, runID, source, reports, replace); err != nil {
			return err
		}
	} else if err := replace(); err != nil {
		return err
	}

	for kind, payload := range reports {
		if s.files != nil {
			if err := s.files.Write(kind, payload); err != nil {
				slog.Warn("写入报表备份文件失败", "kind", kind, "error", err)
			}
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, kind, runID, payload); err != nil {
				slog.Warn("报表归档失败", "kind", kind, "run_id", runID, "error", err)
			}
		}
		for _, n := range s.notifiers {
			if err := n.NotifyReportUpdated(ctx, kind, runID); err != nil {
				slog.Warn("报表更新通知失败", "kind", kind, "run_id", runID, "error", err)
			}
		}
	}

	slog.Info("报表已发布", "run_id", runID, "source", source, "count", len(reports))
	return nil
}

// Replace 替换单个报表
func (s *ReportService) Replace(ctx context.Context, kind, source string, payload []byte) error {
	return s.Publish(ctx, "", source, map[string][]byte{kind: payload})
}

// Current 读取当前报表
func (s *ReportService) Current(ctx context.Context, kind string) ([]byte, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	payload, err := s.current.Get(ctx, kind)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, ErrReportNotFound) {
		slog.Warn("读取当前报表失败，尝试兜底", "kind", kind, "error", err)
	}

	if s.repo != nil {
		snapshot, err := s.repo.LatestSnapshot(ctx, kind)
		if err == nil {
			return []byte(snapshot.Payload), nil
		}
		if !errors.Is(err, ErrReportNotFound) {
			slog.Warn("读取报表快照失败", "kind", kind, "error", err)
		}
	}

	if s.files != nil {
		payload, err := s.files.Read(kind)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, ErrReportNotFound) {
			slog.Warn("读取报表备份文件失败", "kind", kind, "error", err)
		}
	}

	return nil, ErrReportNotFound
}

func isJSONObject(payload []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(payload, &obj) == nil && obj != nil
}
