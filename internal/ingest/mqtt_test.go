package ingest

import (
	"context"
	"testing"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/logging"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingHandler struct {
	topics []string
}

func (h *recordingHandler) Handle(_ context.Context, topic string, _ []byte) (Result, error) {
	h.topics = append(h.topics, topic)
	return Result{}, nil
}

func TestDeliverSkipsSysTopics(t *testing.T) {
	h := &recordingHandler{}
	s := NewSubscriber(config.MQTTConfig{Topics: map[string]byte{"#": 1}}, h, logging.Noop())

	s.deliver(context.Background(), fakeMessage{topic: "$SYS/broker/uptime", payload: []byte("1")})
	s.deliver(context.Background(), fakeMessage{topic: "tbr/raw", payload: []byte("{}")})

	if len(h.topics) != 1 || h.topics[0] != "tbr/raw" {
		t.Fatalf("handled topics = %v, want [tbr/raw]", h.topics)
	}
}
