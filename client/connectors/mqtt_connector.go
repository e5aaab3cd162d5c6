/*
 * @module MQTTConnector
 * @description MQTT连接器，报表发布后向 {topic_prefix}/{kind} 推送保留消息，供看板订阅
 * @architecture 适配器模式 - 封装第三方MQTT客户端，实现 store.Notifier
 * @documentReference DESIGN.md
 * @stateFlow 连接建立 -> 主题发布 -> 连接断开
 * @rules 支持自动重连、QoS控制；默认发布保留消息，新订阅者立即收到最近一次更新
 * @dependencies github.com/eclipse/paho.mqtt.golang, encoding/json
 * @refs service/store/report_service.go, service/init.go
 */
package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string        `json:"broker"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	TopicPrefix    string        `json:"topic_prefix"`
	QoS            byte          `json:"qos"`
	Retained       bool          `json:"retained"`
	KeepAlive      time.Duration `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// MQTTConnector MQTT连接器结构体
type MQTTConnector struct {
	config *MQTTConfig
	client mqtt.Client
	stats  statsCounter
	now    func() time.Time
}

// NewMQTTConnector 创建MQTT连接器并建立连接
func NewMQTTConnector(config *MQTTConfig) (*MQTTConnector, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("MQTT broker 未配置")
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "insight/reports"
	}
	if config.ClientID == "" {
		config.ClientID = fmt.Sprintf("insight-service-%d", time.Now().UnixNano())
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 30 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(config.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("MQTT连接器已连接到broker", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT连接断开", "broker", config.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("MQTT连接超时: %s", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT连接失败: %w", err)
	}
	return newMQTTConnectorWithClient(config, client), nil
}

func newMQTTConnectorWithClient(config *MQTTConfig, client mqtt.Client) *MQTTConnector {
	return &MQTTConnector{config: config, client: client, now: time.Now}
}

// Topic 报表类型对应的主题
func (mc *MQTTConnector) Topic(kind string) string {
	return strings.TrimSuffix(mc.config.TopicPrefix, "/") + "/" + kind
}

// NotifyReportUpdated 推送报表更新事件
func (mc *MQTTConnector) NotifyReportUpdated(ctx context.Context, kind, runID string) error {
	if !mc.client.IsConnectionOpen() {
		err := fmt.Errorf("MQTT连接未建立")
		mc.stats.failure(err)
		return err
	}
	payload, err := NewReportUpdatedEvent(kind, runID, mc.now()).Encode()
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	topic := mc.Topic(kind)
	token := mc.client.Publish(topic, mc.config.QoS, mc.config.Retained, payload)

	timeout := mc.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		err := fmt.Errorf("MQTT发布超时 topic=%s", topic)
		mc.stats.failure(err)
		return err
	}
	if err := token.Error(); err != nil {
		mc.stats.failure(err)
		return fmt.Errorf("MQTT发布失败 topic=%s: %w", topic, err)
	}
	mc.stats.success(len(payload))

	slog.Debug("报表更新事件已发布", "topic", topic, "run_id", runID)
	return nil
}

// GetStats 获取统计信息
func (mc *MQTTConnector) GetStats() ConnectorStats {
	return mc.stats.snapshot()
}

// Close 断开连接，等待250ms让消息发送完成
func (mc *MQTTConnector) Close() error {
	mc.client.Disconnect(250)
	slog.Info("MQTT连接器已断开连接")
	return nil
}
