/*
 * @module KafkaConnector
 * @description Kafka连接器，报表发布后向指定topic推送 report.updated 事件
 * @architecture 适配器模式 - 封装第三方Kafka客户端，实现 store.Notifier
 * @documentReference DESIGN.md
 * @stateFlow 连接建立 -> 消息发送 -> 连接断开
 * @rules 消息key为报表类型，同类报表的事件落在同一分区内保持有序
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/store/report_service.go, service/init.go
 */
package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers      []string          `json:"brokers"`
	Topic        string            `json:"topic"`
	RequiredAcks int               `json:"required_acks"`
	Async        bool              `json:"async"`
	BatchTimeout time.Duration     `json:"batch_timeout"`
	WriteTimeout time.Duration     `json:"write_timeout"`
	Headers      map[string]string `json:"headers"`
}

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConnector Kafka连接器结构体
type KafkaConnector struct {
	config *KafkaConfig
	writer messageWriter
	mutex  sync.RWMutex
	stats  statsCounter
	now    func() time.Time
}

// ParseBrokers 解析逗号分隔的broker列表
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaConnector 创建新的Kafka连接器
func NewKafkaConnector(config *KafkaConfig) (*KafkaConnector, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("Kafka brokers 未配置")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic 未配置")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		Async:        config.Async,
		WriteTimeout: config.WriteTimeout,
	}
	if config.BatchTimeout > 0 {
		writer.BatchTimeout = config.BatchTimeout
	}

	slog.Info("Kafka连接器已创建", "brokers", config.Brokers, "topic", config.Topic)
	return newKafkaConnectorWithWriter(config, writer), nil
}

func newKafkaConnectorWithWriter(config *KafkaConfig, writer messageWriter) *KafkaConnector {
	return &KafkaConnector{config: config, writer: writer, now: time.Now}
}

// NotifyReportUpdated 推送报表更新事件
func (kc *KafkaConnector) NotifyReportUpdated(ctx context.Context, kind, runID string) error {
	event := NewReportUpdatedEvent(kind, runID, kc.now())
	value, err := event.Encode()
	if err != nil {
		return fmt.Errorf("序列化消息值失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(kind),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeReportUpdated)},
		},
	}
	for key, v := range kc.config.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(v)})
	}

	kc.mutex.RLock()
	defer kc.mutex.RUnlock()
	if kc.writer == nil {
		return fmt.Errorf("Kafka连接器已关闭")
	}

	writeCtx, cancel := context.WithTimeout(ctx, kc.config.WriteTimeout)
	defer cancel()
	if err := kc.writer.WriteMessages(writeCtx, msg); err != nil {
		kc.stats.failure(err)
		return fmt.Errorf("发送消息失败: %w", err)
	}
	kc.stats.success(len(value))

	slog.Debug("报表更新事件已发送", "topic", kc.config.Topic, "kind", kind, "run_id", runID)
	return nil
}

// GetStats 获取统计信息
func (kc *KafkaConnector) GetStats() ConnectorStats {
	return kc.stats.snapshot()
}

// Close 关闭生产者
func (kc *KafkaConnector) Close() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()
	if kc.writer == nil {
		return nil
	}
	err := kc.writer.Close()
	kc.writer = nil
	slog.Info("Kafka连接器已断开连接")
	return err
}
