package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/util"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	commandTimeout = 10 * time.Second
	refreshTimeout = 10 * time.Second
)

// Discovery announces accessories to an MQTT consumer such as Home Assistant.
type Discovery interface {
	Announce(accs []accessory.Accessory)
}

// MQTT mirrors accessory state onto retained topics and turns command topics
// into characteristic writes.
type MQTT struct {
	config    *config.MQTTConfig
	log       *log.Logger
	client    mqtt.Client
	topics    *Topics
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	accs      []accessory.Accessory
	bySlug    map[string]accessory.Accessory
	last      map[string]any
	discovery Discovery
}

func NewMQTT(cfg *config.MQTTConfig, logger *log.Logger) *MQTT {
	return &MQTT{
		config:    cfg,
		log:       logger,
		topics:    NewTopics(cfg.Prefix),
		newClient: mqtt.NewClient,
		bySlug:    make(map[string]accessory.Accessory),
		last:      make(map[string]any),
	}
}

func (m *MQTT) Prefix() string  { return m.config.Prefix }
func (m *MQTT) Topics() *Topics { return m.topics }

// SetDiscovery registers a publisher that is re-run on every reconnect and
// every accessory set change.
func (m *MQTT) SetDiscovery(d Discovery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovery = d
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), true)

	m.client = m.newClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.Publish(m.topics.Status(), onlinePayload, true)
	m.subscribeTopics()
	m.republish()
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	topic := m.topics.Commands()
	token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
	} else {
		m.log.Debug("Subscribed to topic: %s", topic)
	}
}

// Update replaces the mirrored accessory set and publishes every current value.
func (m *MQTT) Update(accs []accessory.Accessory) {
	m.mu.Lock()
	m.accs = accs
	m.bySlug = make(map[string]accessory.Accessory, len(accs))
	for _, acc := range accs {
		m.bySlug[util.Slugify(acc.Identity())] = acc
	}
	discovery := m.discovery
	m.mu.Unlock()

	if discovery != nil {
		discovery.Announce(accs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	for _, acc := range accs {
		m.publishConfig(acc)
		for _, c := range acc.Characteristics() {
			v, err := acc.Get(ctx, c)
			if err != nil {
				m.log.Debug("Could not read %s of %s: %v", c, acc.Identity(), err)
				continue
			}
			m.Notify(acc.Identity(), c, v)
		}
	}
}

// Notify implements accessory.Notifier.
func (m *MQTT) Notify(identity string, c accessory.Characteristic, value any) {
	topic := m.topics.State(identity, c)

	m.mu.Lock()
	m.last[topic] = value
	m.mu.Unlock()

	m.Publish(topic, value, m.config.Retain)
}

func (m *MQTT) republish() {
	m.mu.Lock()
	accs := m.accs
	discovery := m.discovery
	last := make(map[string]any, len(m.last))
	for k, v := range m.last {
		last[k] = v
	}
	m.mu.Unlock()

	if discovery != nil && len(accs) > 0 {
		discovery.Announce(accs)
	}
	for _, acc := range accs {
		m.publishConfig(acc)
	}

	topics := make([]string, 0, len(last))
	for topic := range last {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		m.Publish(topic, last[topic], m.config.Retain)
	}
}

func (m *MQTT) publishConfig(acc accessory.Accessory) {
	info := acc.Info()
	chars := make([]string, 0, len(acc.Characteristics()))
	for _, c := range acc.Characteristics() {
		chars = append(chars, string(c))
	}
	m.Publish(m.topics.Config(acc.Identity()), map[string]interface{}{
		"identity":        acc.Identity(),
		"name":            acc.Name(),
		"kind":            acc.Kind().String(),
		"manufacturer":    info.Manufacturer,
		"model":           info.Model,
		"serial_number":   info.SerialNumber,
		"characteristics": chars,
	}, true)
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := string(msg.Payload())

	m.log.Debug("Received message on topic %s: %s", topic, payload)

	slug, c, ok := m.topics.ParseCommand(topic)
	if !ok {
		m.log.Warning("Received message on unknown topic: %s", topic)
		return
	}

	m.mu.Lock()
	acc, ok := m.bySlug[slug]
	m.mu.Unlock()
	if !ok {
		m.log.Warning("Received command for unknown accessory: %s", slug)
		return
	}
	if !accessory.Writable(acc, c) {
		m.log.Warning("Characteristic %s of %s is not writable", c, acc.Identity())
		return
	}

	value, err := ParsePayload(c, payload)
	if err != nil {
		m.log.Error("Invalid command on %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := acc.Set(ctx, c, value); err != nil {
		m.log.Error("Error setting %s of %s: %v", c, acc.Identity(), err)
	}
}

// Publish sends payload as is when it is a string and as JSON otherwise.
// Messages are dropped while the broker is unreachable.
func (m *MQTT) Publish(topic string, payload interface{}, retain bool) {
	if m.client == nil || !m.client.IsConnected() {
		return
	}

	var data []byte
	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
			return
		}
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, data)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
	} else {
		m.log.Debug("Published message to topic: %s", topic)
	}
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.Publish(m.topics.Status(), offlinePayload, true)
		m.client.Disconnect(250)
	}
}
