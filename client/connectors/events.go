/*
 * @module client/connectors/events
 * @description 报表更新事件，在报表发布后推送给下游看板与消费者
 * @architecture 事件模型
 * @documentReference DESIGN.md
 * @stateFlow 报表发布 -> 构造事件 -> Kafka/MQTT 推送
 * @rules 事件只携带报表类型与运行ID，消费者按需回源 GET /api/{kind}
 * @dependencies encoding/json
 * @refs service/store/report_service.go
 */
package connectors

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// EventTypeReportUpdated 报表更新事件类型
const EventTypeReportUpdated = "report.updated"

// ReportUpdatedEvent 报表更新事件
type ReportUpdatedEvent struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewReportUpdatedEvent 构造报表更新事件，runID 为空表示通过接口直接替换
func NewReportUpdatedEvent(kind, runID string, at time.Time) ReportUpdatedEvent {
	source := "pipeline"
	if runID == "" {
		source = "api"
	}
	return ReportUpdatedEvent{
		Type:      EventTypeReportUpdated,
		Kind:      kind,
		RunID:     runID,
		Source:    source,
		Timestamp: at.UTC(),
	}
}

// Encode 序列化事件
func (e ReportUpdatedEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ConnectorStats 连接器统计信息
type ConnectorStats struct {
	MessagesSent int64  `json:"messages_sent"` // 发送消息数
	BytesSent    int64  `json:"bytes_sent"`    // 发送字节数
	Failures     int64  `json:"failures"`      // 发送失败数
	LastError    string `json:"last_error"`    // 最后错误信息
}

type statsCounter struct {
	sent     atomic.Int64
	bytes    atomic.Int64
	failures atomic.Int64
	lastErr  atomic.Value
}

func (s *statsCounter) success(n int) {
	s.sent.Add(1)
	s.bytes.Add(int64(n))
}

func (s *statsCounter) failure(err error) {
	s.failures.Add(1)
	s.lastErr.Store(err.Error())
}

func (s *statsCounter) snapshot() ConnectorStats {
	stats := ConnectorStats{
		MessagesSent: s.sent.Load(),
		BytesSent:    s.bytes.Load(),
		Failures:     s.failures.Load(),
	}
	if v, ok := s.lastErr.Load().(string); ok {
		stats.LastError = v
	}
	return stats
}
