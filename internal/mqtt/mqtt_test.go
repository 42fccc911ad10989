package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/translate"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakeClient struct {
	mu         sync.Mutex
	opts       *mqtt.ClientOptions
	connected  bool
	messages   []published
	subscribed map[string]mqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connected = true
	handler := c.opts.OnConnect
	c.mu.Unlock()
	if handler != nil {
		handler(c)
	}
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: string(payload.([]byte)), retain: retained})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = make(map[string]mqtt.MessageHandler)
	}
	c.subscribed[topic] = callback
	return doneToken{}
}

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token     { return doneToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (c *fakeClient) payload(topic string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].topic == topic {
			return c.messages[i].payload, true
		}
	}
	return "", false
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	var handler mqtt.MessageHandler
	for _, h := range c.subscribed {
		handler = h
	}
	c.mu.Unlock()
	handler(c, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeAccessory struct {
	identity string
	kind     accessory.Kind
	chars    []accessory.Characteristic

	mu     sync.Mutex
	values map[accessory.Characteristic]any
}

func (f *fakeAccessory) Identity() string     { return f.identity }
func (f *fakeAccessory) Name() string         { return f.identity }
func (f *fakeAccessory) Kind() accessory.Kind { return f.kind }
func (f *fakeAccessory) Info() accessory.Info {
	return accessory.Info{Manufacturer: accessory.Manufacturer, Model: "M1", SerialNumber: "1"}
}
func (f *fakeAccessory) Characteristics() []accessory.Characteristic { return f.chars }
func (f *fakeAccessory) Close()                                    {}

func (f *fakeAccessory) Get(_ context.Context, c accessory.Characteristic) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[c], nil
}

func (f *fakeAccessory) Set(_ context.Context, c accessory.Characteristic, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[c] = value
	return nil
}

func (f *fakeAccessory) value(c accessory.Characteristic) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[c]
}

type recordingDiscovery struct {
	mu    sync.Mutex
	calls int
}

func (d *recordingDiscovery) Announce([]accessory.Accessory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
}

func newConnected(t *testing.T) (*MQTT, *fakeClient) {
	t.Helper()
	m := NewMQTT(&config.MQTTConfig{Prefix: "elkm1", Host: "localhost", Port: 1883, Retain: true}, log.Nop())
	client := &fakeClient{}
	m.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.opts = opts
		return client
	}
	require.NoError(t, m.Connect())
	return m, client
}

func newArea() *fakeAccessory {
	return &fakeAccessory{
		identity: "ElkPanel1",
		kind:     accessory.KindSecuritySystem,
		chars:    []accessory.Characteristic{accessory.SecuritySystemCurrentState, accessory.SecuritySystemTargetState},
		values: map[accessory.Characteristic]any{
			accessory.SecuritySystemCurrentState: int(translate.Disarmed),
			accessory.SecuritySystemTargetState:  int(translate.Disarmed),
		},
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("elkm1")
	assert.Equal(t, "elkm1/status", topics.Status())
	assert.Equal(t, "elkm1/elkpanel1/current_state", topics.State("ElkPanel1", accessory.SecuritySystemCurrentState))
	assert.Equal(t, "elkm1/garagedoor9/set/target_door_state", topics.Command("garageDoor9", accessory.TargetDoorState))
	assert.Equal(t, "elkm1/+/set/+", topics.Commands())

	slug, c, ok := topics.ParseCommand("elkm1/output11/set/on")
	require.True(t, ok)
	assert.Equal(t, "output11", slug)
	assert.Equal(t, accessory.On, c)

	for _, topic := range []string{"elkm1/output11/on", "other/output11/set/on", "elkm1/output11/set/", "elkm1/a/b/set/on"} {
		_, _, ok := topics.ParseCommand(topic)
		assert.False(t, ok, topic)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		c       accessory.Characteristic
		payload string
		want    any
	}{
		{accessory.SecuritySystemTargetState, "away", int(translate.AwayArm)},
		{accessory.SecuritySystemTargetState, "STAY", int(translate.StayArm)},
		{accessory.SecuritySystemTargetState, "night", int(translate.NightArm)},
		{accessory.SecuritySystemTargetState, "disarm", int(translate.Disarmed)},
		{accessory.SecuritySystemTargetState, "1", 1},
		{accessory.TargetDoorState, "open", int(translate.DoorOpen)},
		{accessory.TargetDoorState, "close", int(translate.DoorClosed)},
		{accessory.On, "ON", true},
		{accessory.On, "false", false},
		{accessory.On, `"on"`, true},
	}
	for _, tt := range tests {
		got, err := ParsePayload(tt.c, tt.payload)
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.want, got, tt.payload)
	}

	_, err := ParsePayload(accessory.On, "maybe")
	assert.ErrorIs(t, err, accessory.ErrUnsupportedValue)
	_, err = ParsePayload(accessory.TargetDoorState, "ajar")
	assert.ErrorIs(t, err, accessory.ErrUnsupportedValue)
	_, err = ParsePayload(accessory.ContactSensorState, "1")
	assert.ErrorIs(t, err, accessory.ErrReadOnly)
}

func TestConnectAnnouncesOnline(t *testing.T) {
	_, client := newConnected(t)

	payload, ok := client.payload("elkm1/status")
	require.True(t, ok)
	assert.Equal(t, onlinePayload, payload)
	assert.Contains(t, client.subscribed, "elkm1/+/set/+")
	assert.Equal(t, "elkm1/status", client.opts.WillTopic)
	assert.Equal(t, offlinePayload, string(client.opts.WillPayload))
}

func TestUpdatePublishesStateAndConfig(t *testing.T) {
	m, client := newConnected(t)
	discovery := &recordingDiscovery{}
	m.SetDiscovery(discovery)

	m.Update([]accessory.Accessory{newArea()})

	payload, ok := client.payload("elkm1/elkpanel1/current_state")
	require.True(t, ok)
	assert.Equal(t, "3", payload)

	payload, ok = client.payload("elkm1/elkpanel1/config")
	require.True(t, ok)
	assert.Contains(t, payload, `"identity":"ElkPanel1"`)
	assert.Equal(t, 1, discovery.calls)

	m.Notify("ElkPanel1", accessory.SecuritySystemCurrentState, int(translate.AwayArm))
	payload, _ = client.payload("elkm1/elkpanel1/current_state")
	assert.Equal(t, "1", payload)
}

func TestReconnectRepublishes(t *testing.T) {
	m, client := newConnected(t)
	discovery := &recordingDiscovery{}
	m.SetDiscovery(discovery)
	m.Update([]accessory.Accessory{newArea()})

	client.mu.Lock()
	client.messages = nil
	client.mu.Unlock()

	client.opts.OnConnect(client)

	payload, ok := client.payload("elkm1/elkpanel1/target_state")
	require.True(t, ok)
	assert.Equal(t, "3", payload)
	assert.Equal(t, 2, discovery.calls)
}

func TestCommandWritesCharacteristic(t *testing.T) {
	m, client := newConnected(t)
	area := newArea()
	m.Update([]accessory.Accessory{area})

	client.deliver("elkm1/elkpanel1/set/target_state", "away")
	assert.Equal(t, int(translate.AwayArm), area.value(accessory.SecuritySystemTargetState))

	// Read-only characteristics and unknown accessories are ignored.
	client.deliver("elkm1/elkpanel1/set/current_state", "1")
	assert.Equal(t, int(translate.Disarmed), area.value(accessory.SecuritySystemCurrentState))
	client.deliver("elkm1/elkpanel2/set/target_state", "away")
	client.deliver("elkm1/elkpanel1/set/target_state", "sideways")
	assert.Equal(t, int(translate.AwayArm), area.value(accessory.SecuritySystemTargetState))
}

func TestPublishWhileDisconnected(t *testing.T) {
	m, client := newConnected(t)
	m.Close()

	m.Notify("ElkPanel1", accessory.SecuritySystemCurrentState, 1)
	_, ok := client.payload("elkm1/elkpanel1/current_state")
	assert.False(t, ok)

	payload, _ := client.payload("elkm1/status")
	assert.Equal(t, offlinePayload, payload)
}
