package homekit

import (
	"context"
	"sync"
	"testing"
	"time"

	hapacc "github.com/brutella/hap/accessory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/registry"
)

type fakeAccessory struct {
	identity string
	name     string
	kind     accessory.Kind
	chars    []accessory.Characteristic

	mu     sync.Mutex
	values map[accessory.Characteristic]any
	writes []any
}

func newFake(identity string, kind accessory.Kind, values map[accessory.Characteristic]any) *fakeAccessory {
	f := &fakeAccessory{identity: identity, name: identity, kind: kind, values: values}
	for c := range values {
		f.chars = append(f.chars, c)
	}
	return f
}

func (f *fakeAccessory) Identity() string { return f.identity }
func (f *fakeAccessory) Name() string     { return f.name }
func (f *fakeAccessory) Kind() accessory.Kind {
	return f.kind
}
func (f *fakeAccessory) Info() accessory.Info {
	return accessory.Info{Manufacturer: accessory.Manufacturer, Model: "test", SerialNumber: f.identity}
}
func (f *fakeAccessory) Characteristics() []accessory.Characteristic { return f.chars }
func (f *fakeAccessory) Close()                                    {}

func (f *fakeAccessory) Get(_ context.Context, c accessory.Characteristic) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[c]
	if !ok {
		return nil, accessory.ErrUnknownCharacteristic
	}
	return v, nil
}

func (f *fakeAccessory) Set(_ context.Context, c accessory.Characteristic, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, value)
	f.values[c] = value
	return nil
}

type serveRecorder struct {
	mu    sync.Mutex
	calls [][]*hapacc.A
}

func (s *serveRecorder) serve(ctx context.Context, _ *hapacc.A, accs []*hapacc.A) error {
	s.mu.Lock()
	s.calls = append(s.calls, accs)
	s.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (s *serveRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestHost(t *testing.T) (*Host, *serveRecorder) {
	t.Helper()
	h := NewHost(config.HomeKitConfig{Name: "Elk M1", Pin: "00102003"}, log.Nop())
	rec := &serveRecorder{}
	h.serve = rec.serve

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run publishes its context before Update is called.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.ctx == ctx
	}, time.Second, time.Millisecond)
	return h, rec
}

func TestValueEncodings(t *testing.T) {
	assert.Equal(t, 1, intValue(true))
	assert.Equal(t, 0, intValue(false))
	assert.Equal(t, 3, intValue(3))
	assert.True(t, boolValue(true))
	assert.True(t, boolValue(1))
	assert.False(t, boolValue("on"))
	assert.Equal(t, 23.9, floatValue(23.9))
	assert.Equal(t, 20.0, floatValue(20))
}

func TestHapType(t *testing.T) {
	assert.EqualValues(t, hapacc.TypeSecuritySystem, hapType(accessory.KindSecuritySystem))
	assert.EqualValues(t, hapacc.TypeGarageDoorOpener, hapType(accessory.KindGarageDoorOpener))
	assert.EqualValues(t, hapacc.TypeSwitch, hapType(accessory.KindSwitch))
	assert.EqualValues(t, hapacc.TypeSensor, hapType(accessory.KindLeakSensor))
	assert.EqualValues(t, hapacc.TypeSensor, hapType(accessory.KindTemperatureSensor))
}

func TestUpdatePublishesInitialValues(t *testing.T) {
	h, rec := newTestHost(t)

	contact := newFake("Contact5", accessory.KindContactSensor, map[accessory.Characteristic]any{
		accessory.ContactSensorState: true,
		accessory.StatusTampered:     false,
	})
	area := newFake("ElkPanel1", accessory.KindSecuritySystem, map[accessory.Characteristic]any{
		accessory.SecuritySystemCurrentState: 1,
		accessory.SecuritySystemTargetState:  1,
	})
	temp := newFake("Temperature2", accessory.KindTemperatureSensor, map[accessory.Characteristic]any{
		accessory.CurrentTemperature: 21.5,
	})

	h.Update([]accessory.Accessory{contact, area, temp})

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	rec.mu.Lock()
	published := rec.calls[0]
	rec.mu.Unlock()
	require.Len(t, published, 3)
	assert.Equal(t, registry.AccessoryID("Contact5"), published[0].Id)

	v, ok := h.Value("Contact5", accessory.ContactSensorState)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = h.Value("ElkPanel1", accessory.SecuritySystemCurrentState)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = h.Value("Temperature2", accessory.CurrentTemperature)
	require.True(t, ok)
	assert.Equal(t, 21.5, v)
}

func TestNotifyUpdatesCharacteristic(t *testing.T) {
	h, _ := newTestHost(t)

	motion := newFake("Motion7", accessory.KindMotionSensor, map[accessory.Characteristic]any{
		accessory.MotionDetected: false,
		accessory.StatusTampered: false,
	})
	h.Update([]accessory.Accessory{motion})

	h.Notify("Motion7", accessory.MotionDetected, true)
	h.Notify("Motion7", accessory.StatusTampered, true)

	v, _ := h.Value("Motion7", accessory.MotionDetected)
	assert.Equal(t, true, v)
	v, _ = h.Value("Motion7", accessory.StatusTampered)
	assert.Equal(t, 1, v)

	// Unknown identities and characteristics are ignored.
	h.Notify("Motion8", accessory.MotionDetected, true)
	h.Notify("Motion7", accessory.On, true)
	_, ok := h.Value("Motion7", accessory.On)
	assert.False(t, ok)
}

func TestSameAccessorySetDoesNotRestart(t *testing.T) {
	h, rec := newTestHost(t)

	first := newFake("Output11", accessory.KindSwitch, map[accessory.Characteristic]any{accessory.On: false})
	h.Update([]accessory.Accessory{first})
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	second := newFake("Output11", accessory.KindSwitch, map[accessory.Characteristic]any{accessory.On: true})
	h.Update([]accessory.Accessory{second})

	// Writes reach the state machine from the latest discovery.
	h.write("Output11", accessory.On, false)
	assert.Empty(t, first.writes)
	assert.Equal(t, []any{false}, second.writes)

	v, _ := h.Value("Output11", accessory.On)
	assert.Equal(t, true, v)

	renamed := newFake("Output11", accessory.KindSwitch, map[accessory.Characteristic]any{accessory.On: true})
	renamed.name = "Porch light"
	h.Update([]accessory.Accessory{renamed})
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
}

func TestWriteToUnknownAccessory(t *testing.T) {
	h, _ := newTestHost(t)
	h.Update(nil)
	assert.NotPanics(t, func() { h.write("garageDoor9", accessory.TargetDoorState, 0) })
}

func TestSignature(t *testing.T) {
	a := newFake("A", accessory.KindSwitch, nil)
	b := newFake("B", accessory.KindSwitch, nil)
	assert.Equal(t, signature([]accessory.Accessory{a, b}), signature([]accessory.Accessory{b, a}))
	assert.NotEqual(t, signature([]accessory.Accessory{a}), signature([]accessory.Accessory{a, b}))
}
