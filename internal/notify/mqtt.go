package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTT publishes each offer as JSON to <prefix>/providers/<id>/offers.
type MQTT struct {
	cli    pahoClient
	prefix string
	qos    byte
}

func NewMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTT, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "roadcall-" + uuid.NewString()
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Error().Err(err).Msg("mqtt connection lost")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "roadcall"
	}
	return &MQTT{cli: c, prefix: prefix, qos: cfg.QoS}, nil
}

func (m *MQTT) Topic(providerID string) string {
	return m.prefix + "/providers/" + providerID + "/offers"
}

func (m *MQTT) NotifyOffer(ctx context.Context, o Offer) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	token := m.cli.Publish(m.Topic(o.ProviderID), m.qos, false, payload)

	wait := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (m *MQTT) Close() {
	if m.cli.IsConnected() {
		m.cli.Disconnect(250)
	}
}
