package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaConnectorNotify(t *testing.T) {
	w := &fakeWriter{}
	kc := newKafkaConnectorWithWriter(&KafkaConfig{
		Topic:        "insight.reports",
		WriteTimeout: time.Second,
		Headers:      map[string]string{"service": "insight-service"},
	}, w)
	kc.now = func() time.Time { return fixedNow }

	require.NoError(t, kc.NotifyReportUpdated(context.Background(), "churn", "run-1"))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "churn", string(msg.Key))
	assert.Len(t, msg.Headers, 2)

	var event ReportUpdatedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, EventTypeReportUpdated, event.Type)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "pipeline", event.Source)
	assert.True(t, fixedNow.Equal(event.Timestamp))

	w.err = errors.New("broker down")
	assert.Error(t, kc.NotifyReportUpdated(context.Background(), "sales", ""))
	stats := kc.GetStats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, "broker down", stats.LastError)

	require.NoError(t, kc.Close())
	assert.True(t, w.closed)
	assert.Error(t, kc.NotifyReportUpdated(context.Background(), "churn", "run-2"))
}

func TestNewKafkaConnectorValidation(t *testing.T) {
	_, err := NewKafkaConnector(&KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaConnector(&KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mqtt.Client
	open      bool
	err       error
	published []published
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.open }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.err}
}

func TestMQTTConnectorNotify(t *testing.T) {
	client := &fakeMQTTClient{open: true}
	mc := newMQTTConnectorWithClient(&MQTTConfig{
		TopicPrefix:    "insight/reports/",
		QoS:            1,
		Retained:       true,
		ConnectTimeout: time.Second,
	}, client)
	mc.now = func() time.Time { return fixedNow }

	require.NoError(t, mc.NotifyReportUpdated(context.Background(), "sales", ""))
	require.Len(t, client.published, 1)
	p := client.published[0]
	assert.Equal(t, "insight/reports/sales", p.topic)
	assert.Equal(t, byte(1), p.qos)
	assert.True(t, p.retained)

	var event ReportUpdatedEvent
	require.NoError(t, json.Unmarshal(p.payload, &event))
	assert.Equal(t, "sales", event.Kind)
	assert.Equal(t, "api", event.Source)

	client.err = errors.New("not authorized")
	assert.Error(t, mc.NotifyReportUpdated(context.Background(), "churn", "run-1"))

	client.open = false
	assert.Error(t, mc.NotifyReportUpdated(context.Background(), "churn", "run-1"))
	assert.Equal(t, int64(2), mc.GetStats().Failures)
	assert.Equal(t, int64(1), mc.GetStats().MessagesSent)
}
