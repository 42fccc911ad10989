package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/registry"
	"github.com/daemonp/elkm1bridge/internal/schedule"
)

var errRefused = errors.New("connection refused")

type fakeLink struct {
	mu              sync.Mutex
	failConnect     bool
	block           chan struct{}
	connects        int
	disconnects     int
	connected       bool
	failZoneReports int
	zones           elk.ZoneStatusReport
	descriptions    map[elk.DescriptionType][]elk.TextDescription
	arming          elk.ArmingStatus
	temps           elk.TemperatureReport
	tempRequests    int
	commands        []string
	events          chan elk.Event
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		zones:        elk.ZoneStatusReport{Zones: make([]elk.ZoneChange, 208)},
		descriptions: make(map[elk.DescriptionType][]elk.TextDescription),
		arming:       elk.ArmingStatus{Areas: make([]elk.AreaStatus, 8)},
		temps:        elk.TemperatureReport{Keypads: make([]elk.Reading, 16), Zones: make([]elk.Reading, 16)},
		events:       make(chan elk.Event, 100),
	}
}

func (f *fakeLink) setZone(id int, logical elk.LogicalState, physical elk.PhysicalStatus) {
	f.zones.Zones[id-1] = elk.ZoneChange{ID: id, Logical: logical, Physical: physical}
}

func (f *fakeLink) describe(kind elk.DescriptionType, id int, text string) {
	f.descriptions[kind] = append(f.descriptions[kind], elk.TextDescription{Type: kind, ID: id, Description: text})
}

func (f *fakeLink) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeLink) Connect(context.Context) error {
	f.mu.Lock()
	f.connects++
	block := f.block
	fail := f.failConnect
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return errRefused
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeLink) Events() <-chan elk.Event { return f.events }

func (f *fakeLink) RequestZoneStatusReport(context.Context) (elk.ZoneStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failZoneReports > 0 {
		f.failZoneReports--
		return elk.ZoneStatusReport{}, elk.ErrTimeout
	}
	return f.zones, nil
}

func (f *fakeLink) RequestTextDescription(_ context.Context, kind elk.DescriptionType, id int) (elk.TextDescription, error) {
	for _, td := range f.descriptions[kind] {
		if td.ID >= id {
			return td, nil
		}
	}
	return elk.TextDescription{Type: kind}, nil
}

func (f *fakeLink) RequestTextDescriptionAll(_ context.Context, kind elk.DescriptionType) ([]elk.TextDescription, error) {
	return f.descriptions[kind], nil
}

func (f *fakeLink) RequestTemperature(context.Context) (elk.TemperatureReport, error) {
	f.mu.Lock()
	f.tempRequests++
	f.mu.Unlock()
	f.events <- f.temps
	return f.temps, nil
}

func (f *fakeLink) RequestArmingStatus(context.Context) (elk.ArmingStatus, error) {
	f.events <- f.arming
	return f.arming, nil
}

func (f *fakeLink) RequestOutputStatusReport(context.Context) (elk.OutputStatusReport, error) {
	return elk.OutputStatusReport{Outputs: make([]bool, 208)}, nil
}

func (f *fakeLink) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, fmt.Sprintf(format, args...))
	return nil
}

func (f *fakeLink) Arm(_ context.Context, area int, mode elk.ArmMode, code string) error {
	return f.record("arm %d %s %s", area, mode, code)
}

func (f *fakeLink) SetOutputOn(_ context.Context, output, seconds int) error {
	return f.record("on %d %d", output, seconds)
}

func (f *fakeLink) SetOutputOff(_ context.Context, output int) error {
	return f.record("off %d", output)
}

func (f *fakeLink) ActivateTask(_ context.Context, task int) error {
	return f.record("task %d", task)
}

const testConfig = `
elk:
  address: 192.168.1.50
areas:
  - area: 1
    keypad_code: "1234"
included_tasks: [3]
included_outputs: [11]
zone_types:
  - zone_number: 5
    zone_type: contact
  - zone_number: 6
    zone_type: contact
  - zone_number: 9
    zone_type: garageDoor
  - zone_number: 2
    zone_type: temperature
  - zone_number: 12
    zone_type: garage
garage_doors:
  - state_zone: 9
    obstruction_zone: 10
    open_output: 3
    close_output: 4
    name: Garage
`

type fixture struct {
	link     *fakeLink
	clock    *schedule.Manual
	panel    *Panel
	notified *accessory.Fanout
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()

	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)

	f := &fixture{
		link:     newFakeLink(),
		clock:    schedule.NewManual(),
		notified: &accessory.Fanout{},
	}
	f.panel = NewPanel(cfg, f.link, registry.New(nil, log.Nop()), f.notified, f.clock, log.Nop())
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.panel.Start(ctx)
}

func (f *fixture) populate() {
	l := f.link
	l.setZone(5, elk.LogicalNormal, elk.PhysicalEOL)
	l.setZone(6, elk.LogicalNormal, elk.PhysicalUnconfigured)
	l.setZone(7, elk.LogicalViolated, elk.PhysicalEOL)
	l.setZone(9, elk.LogicalViolated, elk.PhysicalEOL)
	l.setZone(10, elk.LogicalViolated, elk.PhysicalEOL)
	l.setZone(2, elk.LogicalNormal, elk.PhysicalEOL)
	l.setZone(12, elk.LogicalNormal, elk.PhysicalEOL)
	l.describe(elk.DescriptionArea, 1, "House")
	l.describe(elk.DescriptionZone, 2, "Attic Temp")
	l.describe(elk.DescriptionZone, 5, "Front Door")
	l.describe(elk.DescriptionTask, 3, "Good Night")
	l.describe(elk.DescriptionOutput, 11, "Porch Light")
	l.describe(elk.DescriptionOutput, 12, "Not Included")
	l.temps.Zones[1] = elk.Reading{Fahrenheit: 75, Valid: true}
	l.arming.Areas[0] = elk.AreaStatus{ArmStatus: elk.ArmStatusArmedStay}
}

func identities(accs []accessory.Accessory) []string {
	var ids []string
	for _, a := range accs {
		ids = append(ids, a.Identity())
	}
	return ids
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	f := newFixture(t, testConfig)
	f.link.failConnect = true
	f.start(t)

	initial := 5 * time.Second
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, delay := range want {
		expected := min(initial*time.Duration(1<<n), 30*time.Second)
		require.Equal(t, expected, delay)

		assert.Equal(t, []time.Duration{delay}, f.clock.Pending(), "retry %d", n+1)
		assert.Equal(t, Retrying, f.panel.State())
		f.clock.Advance(delay)
	}
	connects, _ := f.link.counts()
	assert.Equal(t, 6, connects)
}

func TestSuccessfulConnectResetsBackoff(t *testing.T) {
	f := newFixture(t, "areas: [{area: 1, keypad_code: '1'}]")
	f.link.failConnect = true
	f.start(t)

	f.clock.Advance(5 * time.Second)
	f.clock.Advance(10 * time.Second)
	require.Equal(t, []time.Duration{20 * time.Second}, f.clock.Pending())

	f.link.mu.Lock()
	f.link.failConnect = false
	f.link.mu.Unlock()
	f.clock.Advance(20 * time.Second)

	assert.Equal(t, Connected, f.panel.State())
	assert.Equal(t, 5*time.Second, f.panel.RetryDelay())
	assert.Empty(t, f.clock.Pending())

	// a dropped connection starts over from the initial delay
	f.panel.Router().Dispatch(elk.ErrorEvent{Err: errors.New("connection reset")})
	assert.Equal(t, []time.Duration{5 * time.Second}, f.clock.Pending())
	assert.Equal(t, Retrying, f.panel.State())
}

func TestSecondErrorDoesNotDoubleSchedule(t *testing.T) {
	f := newFixture(t, "areas: [{area: 1, keypad_code: '1'}]")
	f.start(t)

	f.panel.connectionLost(errors.New("reset"))
	f.panel.connectionLost(errors.New("reset again"))
	assert.Equal(t, []time.Duration{5 * time.Second}, f.clock.Pending())
}

func TestConnectIsGuarded(t *testing.T) {
	f := newFixture(t, "areas: [{area: 1, keypad_code: '1'}]")
	f.link.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		f.panel.Connect()
		close(done)
	}()
	require.Eventually(t, func() bool {
		connects, _ := f.link.counts()
		return connects == 1
	}, time.Second, time.Millisecond)

	f.panel.Connect()
	connects, _ := f.link.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, Connecting, f.panel.State())

	close(f.link.block)
	<-done
	assert.Equal(t, Connected, f.panel.State())

	// the guard is released once the attempt ends
	f.panel.Connect()
	connects, _ = f.link.counts()
	assert.Equal(t, 2, connects)
}

func TestDiscoveryFailureRestartsSession(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.link.failZoneReports = 1
	f.start(t)

	connects, disconnects := f.link.counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, Connected, f.panel.State())
	assert.NotEmpty(t, f.panel.Accessories())
}

func TestDiscoveryBindsConfiguredEntities(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()

	var discovered []accessory.Accessory
	f.panel.OnDiscovery(func(accs []accessory.Accessory) { discovered = accs })
	f.start(t)

	assert.Equal(t, []string{
		"Contact5",
		"ElkPanel1",
		"Output11",
		"Task3",
		"Temperature2",
		"garageDoor9",
	}, identities(discovered))

	names := map[string]string{}
	for _, a := range discovered {
		names[a.Identity()] = a.Name()
	}
	assert.Equal(t, "House", names["ElkPanel1"])
	assert.Equal(t, "Front Door", names["Contact5"])
	assert.Equal(t, "Garage", names["garageDoor9"])
	assert.Equal(t, "Attic Temp", names["Temperature2"])
	assert.Equal(t, "Good Night", names["Task3"])
	assert.Equal(t, "Porch Light", names["Output11"])
}

func TestDiscoveryInitialGarageState(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.start(t)

	h, ok := f.panel.registry.Get("garageDoor9")
	require.True(t, ok)
	door := h.Device().(*accessory.GarageDoor)

	current, err := door.Get(context.Background(), accessory.CurrentDoorState)
	require.NoError(t, err)
	assert.Equal(t, 0, current, "state zone violated means open")

	obstructed, err := door.Get(context.Background(), accessory.ObstructionDetected)
	require.NoError(t, err)
	assert.Equal(t, true, obstructed, "obstruction zone read from the initial report")
}

func TestContactZoneEndToEnd(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()

	var mu sync.Mutex
	updates := map[accessory.Characteristic]any{}
	f.notified.Add(accessory.NotifierFunc(func(identity string, c accessory.Characteristic, v any) {
		if identity == "Contact5" {
			mu.Lock()
			updates[c] = v
			mu.Unlock()
		}
	}))
	f.start(t)

	f.link.events <- elk.ZoneChange{ID: 5, Logical: elk.LogicalViolated, Physical: elk.PhysicalOpen}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates[accessory.ContactSensorState] == true
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, false, updates[accessory.StatusTampered])
	mu.Unlock()
}

func TestArmingAndTemperatureReplies(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.start(t)

	h, ok := f.panel.registry.Get("Temperature2")
	require.True(t, ok)
	sensor := h.Device().(*accessory.TemperatureSensor)
	require.Eventually(t, func() bool { return sensor.Celsius() == 23.9 }, time.Second, time.Millisecond)

	h, ok = f.panel.registry.Get("ElkPanel1")
	require.True(t, ok)
	area := h.Device().(*accessory.SecurityArea)
	require.Eventually(t, func() bool { return area.TargetState() == 0 }, time.Second, time.Millisecond)
}

func TestTemperaturePolling(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.start(t)

	f.link.mu.Lock()
	assert.Equal(t, 1, f.link.tempRequests)
	f.link.mu.Unlock()

	f.clock.Advance(2 * time.Minute)

	f.link.mu.Lock()
	assert.Equal(t, 3, f.link.tempRequests)
	f.link.mu.Unlock()
}

func TestRediscoveryReplacesAccessories(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.start(t)

	before := f.panel.Accessories()
	h, _ := f.panel.registry.Get("Task3")
	task := h.Device().(*accessory.Task)
	require.NoError(t, task.Activate(context.Background()))

	f.panel.connectionLost(errors.New("reset"))
	f.panel.Connect()

	after := f.panel.Accessories()
	assert.Equal(t, identities(before), identities(after))
	assert.True(t, h.Restored())
	assert.NotSame(t, task, h.Device(), "rediscovery binds a fresh state machine")

	// the old task's reset timer died with it
	f.clock.Advance(time.Second)
	assert.True(t, task.IsOn())
}

func TestUnknownIDsAreIgnored(t *testing.T) {
	f := newFixture(t, testConfig)
	f.populate()
	f.start(t)

	r := f.panel.Router()
	r.Dispatch(elk.ZoneChange{ID: 99, Logical: elk.LogicalViolated})
	r.Dispatch(elk.OutputChange{ID: 50, On: true})
	r.Dispatch(elk.Generic{Type: "XK", Data: "000000"})
}

func TestNoAreasConfigured(t *testing.T) {
	f := newFixture(t, "zone_types: [{zone_number: 5, zone_type: contact}]")
	f.link.setZone(5, elk.LogicalNormal, elk.PhysicalEOL)
	f.start(t)

	assert.Equal(t, []string{"Contact5"}, identities(f.panel.Accessories()))
}
