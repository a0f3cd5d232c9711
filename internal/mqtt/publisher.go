package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"thsw/internal/astronomy"
	"thsw/internal/switcher"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// Publisher publishes the switcher state under <prefix>/.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	timeout     time.Duration
	logger      *log.Logger
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
	Logger      *log.Logger

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", "err", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("MQTT connected", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		// Stop the retry loop.
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p := newPublisher(client, cfg.TopicPrefix, logger)
	if cfg.PublishTimeout > 0 {
		p.timeout = cfg.PublishTimeout
	}
	return p, nil
}

func newPublisher(client mqtt.Client, prefix string, logger *log.Logger) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: prefix,
		enabled:     true,
		timeout:     DefaultPublishTimeout,
		logger:      logger,
	}
}

// publish sends a retained message and waits at most p.timeout for it.
func (p *Publisher) publish(topic string, payload interface{}) error {
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out after %v", topic, p.timeout)
	}
	return token.Error()
}

// Notify implements switcher.Notifier.
func (p *Publisher) Notify(st switcher.Status) error {
	if !p.enabled {
		return nil
	}

	topics := map[string]string{
		"phase":     string(st.Phase),
		"daylight":  onOff(st.Phase == astronomy.Day),
		"sunrise":   st.Sun.Sunrise.String(),
		"sunset":    st.Sun.Sunset.String(),
		"noon":      st.Sun.Noon.String(),
		"condition": st.Sun.Condition.String(),
	}
	if st.Sun.Condition != astronomy.Normal {
		topics["sunrise"] = ""
		topics["sunset"] = ""
	}

	for name, payload := range topics {
		topic := p.topic(name)
		if err := p.publish(topic, payload); err != nil {
			p.logger.Warn("failed to publish", "topic", topic, "err", err)
		}
	}

	statusJSON, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := p.publish(p.topic("status"), statusJSON); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// PublishHomeAssistantDiscovery announces the daylight binary sensor and
// the sun time sensors.
func (p *Publisher) PublishHomeAssistantDiscovery() error {
	if !p.enabled {
		return nil
	}

	device := map[string]interface{}{
		"identifiers":  []string{"thsw"},
		"name":         "Theme Switcher",
		"manufacturer": "thsw",
	}

	sensors := []struct {
		Component string
		Name      string
		ID        string
		Icon      string
	}{
		{"binary_sensor", "Daylight", "daylight", "mdi:weather-sunny"},
		{"sensor", "Phase", "phase", "mdi:theme-light-dark"},
		{"sensor", "Sunrise", "sunrise", "mdi:weather-sunset-up"},
		{"sensor", "Sunset", "sunset", "mdi:weather-sunset-down"},
		{"sensor", "Solar Noon", "noon", "mdi:white-balance-sunny"},
	}

	for _, sensor := range sensors {
		discoveryTopic := fmt.Sprintf("homeassistant/%s/thsw/%s/config", sensor.Component, sensor.ID)

		config := map[string]interface{}{
			"name":        fmt.Sprintf("Theme Switcher %s", sensor.Name),
			"unique_id":   fmt.Sprintf("thsw_%s", sensor.ID),
			"state_topic": p.topic(sensor.ID),
			"icon":        sensor.Icon,
			"device":      device,
		}
		if sensor.Component == "binary_sensor" {
			config["device_class"] = "light"
			config["payload_on"] = "ON"
			config["payload_off"] = "OFF"
		}

		payload, err := json.Marshal(config)
		if err != nil {
			return err
		}
		if err := p.publish(discoveryTopic, payload); err != nil {
			return fmt.Errorf("failed to publish discovery for %s: %w", sensor.ID, err)
		}
	}
	return nil
}

func (p *Publisher) topic(name string) string {
	return fmt.Sprintf("%s/%s", p.topicPrefix, name)
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
