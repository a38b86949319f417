package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/metrics"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/session"
)

type Config struct {
	// BrokerURL in paho form, e.g. tcp://broker:1883.
	BrokerURL string
	Session   *session.Session
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// ConnectTimeout bounds the initial connect retries; reconnects after
	// that are paho's automatic ones.
	ConnectTimeout time.Duration
}

// Channel delivers backend notifications over MQTT on the per-user topic.
// It is advisory: a message missed during a reconnect gap is acceptable,
// authoritative state always comes from the REST poll.
type Channel struct {
	cfg    Config
	log    *zap.Logger
	met    *metrics.Metrics
	events chan model.NotificationEvent

	mu     sync.Mutex
	client mqtt.Client
	topic  string
}

func New(cfg Config) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		log:    cfg.Logger,
		met:    cfg.Metrics,
		events: make(chan model.NotificationEvent, 16),
	}
}

// Events is the consumer side of the channel. It is never closed; owners
// select on it together with their own lifetime.
func (c *Channel) Events() <-chan model.NotificationEvent { return c.events }

// Start decodes the user identity out of the session credential and
// subscribes to its notification topic. An undecodable credential is a
// silent no-op: the dashboard runs without push, nothing fails.
func (c *Channel) Start(ctx context.Context) error {
	userID, ok := c.cfg.Session.UserID()
	if !ok {
		c.log.Debug("credential has no decodable user id, push channel stays off")
		return nil
	}

	c.mu.Lock()
	c.topic = "notifications/" + userID
	c.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID("dashboard-" + uuid.NewString())
	// The credential rides along as the password; the broker's auth plugin
	// validates it, the client never does.
	opts.SetUsername(userID)
	opts.SetPassword(c.cfg.Session.Token())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.subscribe(cl)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.met.PushReconnects.Inc()
		c.log.Warn("push transport lost, reconnecting", zap.Error(err))
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.ConnectTimeout

	var client mqtt.Client
	err := backoff.Retry(func() error {
		cl := mqtt.NewClient(opts)
		if token := cl.Connect(); token.Wait() && token.Error() != nil {
			c.log.Warn("push connect failed", zap.Error(token.Error()))
			return token.Error()
		}
		client = cl
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return fmt.Errorf("push: could not reach broker: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

// subscribe runs on every (re)connect so the subscription survives
// transport gaps.
func (c *Channel) subscribe(cl mqtt.Client) {
	c.mu.Lock()
	topic := c.topic
	c.mu.Unlock()

	token := cl.Subscribe(topic, 0, c.onMessage)
	if token.Wait() && token.Error() != nil {
		c.log.Warn("push subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	c.log.Info("subscribed to notifications", zap.String("topic", topic))
}

func (c *Channel) onMessage(_ mqtt.Client, m mqtt.Message) {
	var ev model.NotificationEvent
	if err := json.Unmarshal(m.Payload(), &ev); err != nil || ev.Message == "" {
		c.met.PushDropped.Inc()
		c.log.Warn("dropping malformed notification frame", zap.String("topic", m.Topic()))
		return
	}
	select {
	case c.events <- ev:
		c.met.PushEvents.Inc()
	default:
		c.met.PushDropped.Inc()
	}
}

// Connected reports whether the transport is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Stop tears the subscription down synchronously with respect to the
// caller: when it returns, nothing outlives the owning view.
func (c *Channel) Stop() {
	c.mu.Lock()
	client := c.client
	topic := c.topic
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return
	}
	if client.IsConnected() {
		client.Unsubscribe(topic).Wait()
	}
	client.Disconnect(250)
	c.log.Info("push channel closed")
}
