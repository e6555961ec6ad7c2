package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/logging"
)

// Handler processes one transport payload.
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) (Result, error)
}

// Subscriber feeds MQTT messages from the configured topics into a Handler.
type Subscriber struct {
	cfg    config.MQTTConfig
	h      Handler
	log    logging.Logger
	client mqtt.Client
}

// NewSubscriber prepares a client for cfg. Nothing connects until Run.
func NewSubscriber(cfg config.MQTTConfig, h Handler, log logging.Logger) *Subscriber {
	if log == nil {
		log = logging.Noop()
	}
	return &Subscriber{cfg: cfg, h: h, log: log}
}

// Run connects, subscribes on every (re)connect and blocks until ctx is
// cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			s.log.Info(ctx, "connected to MQTT broker", logging.String("broker", s.cfg.Broker))
			if err := s.subscribe(ctx, c); err != nil {
				s.log.Error(ctx, "subscribing failed", logging.Err(err))
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn(ctx, "lost MQTT connection", logging.Err(err))
		})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: connect %s: %w", s.cfg.Broker, token.Error())
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	s.log.Info(context.Background(), "disconnected from MQTT broker")
	return nil
}

func (s *Subscriber) subscribe(ctx context.Context, c mqtt.Client) error {
	token := c.SubscribeMultiple(s.cfg.Topics, func(_ mqtt.Client, m mqtt.Message) {
		s.deliver(ctx, m)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("ingest: subscribe timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	for topic, qos := range s.cfg.Topics {
		s.log.Info(ctx, "subscribed", logging.String("topic", topic), logging.Int("qos", int(qos)))
	}
	return nil
}

// deliver hands a message to the handler. Broker $SYS topics are ignored.
func (s *Subscriber) deliver(ctx context.Context, m mqtt.Message) {
	if strings.HasPrefix(m.Topic(), "$SYS") {
		return
	}
	s.log.Debug(ctx, "received message",
		logging.String("topic", m.Topic()),
		logging.Int("qos", int(m.Qos())),
		logging.Int("bytes", len(m.Payload())))
	if _, err := s.h.Handle(ctx, m.Topic(), m.Payload()); err != nil {
		s.log.Debug(ctx, "message not handled", logging.String("topic", m.Topic()), logging.Err(err))
	}
}
