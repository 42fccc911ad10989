// Package homekit publishes the accessory set as a HomeKit bridge.
package homekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap"
	hapacc "github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/registry"
)

// HAP status returned when the panel could not answer a read.
const statusCommunicationFailure = -70402

const refreshTimeout = 10 * time.Second

// ServeFunc runs a HAP server for a bridge and its accessories until ctx is done.
type ServeFunc func(ctx context.Context, bridge *hapacc.A, accs []*hapacc.A) error

// binding ties one HAP accessory to the state machine behind it.
type binding struct {
	a   *hapacc.A
	set map[accessory.Characteristic]func(any)
	get map[accessory.Characteristic]func() any
}

type Host struct {
	cfg   config.HomeKitConfig
	log   *log.Logger
	serve ServeFunc

	mu        sync.Mutex
	ctx       context.Context
	accs      map[string]accessory.Accessory
	bindings  map[string]*binding
	signature string
	stop      context.CancelFunc
	done      chan struct{}
}

func NewHost(cfg config.HomeKitConfig, logger *log.Logger) *Host {
	h := &Host{
		cfg:      cfg,
		log:      logger,
		ctx:      context.Background(),
		accs:     make(map[string]accessory.Accessory),
		bindings: make(map[string]*binding),
	}
	h.serve = h.listen
	return h
}

// Run keeps the host alive until ctx is cancelled, then stops the server.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	<-ctx.Done()
	h.shutdown()
	return nil
}

// Update replaces the published accessory set. The HAP server only restarts
// when identities or names changed; otherwise the existing HAP accessories
// are rebound to the new state machines.
func (h *Host) Update(accs []accessory.Accessory) {
	sig := signature(accs)

	h.mu.Lock()
	h.accs = make(map[string]accessory.Accessory, len(accs))
	for _, acc := range accs {
		h.accs[acc.Identity()] = acc
	}
	restart := sig != h.signature
	if restart {
		h.bindings = make(map[string]*binding, len(accs))
		for _, acc := range accs {
			h.bindings[acc.Identity()] = h.build(acc)
		}
		h.signature = sig
	}
	ctx := h.ctx
	h.mu.Unlock()

	h.refresh(ctx, accs)

	if restart {
		h.log.Info("Publishing %d accessories to HomeKit", len(accs))
		h.restart()
	}
}

// Notify implements accessory.Notifier.
func (h *Host) Notify(identity string, c accessory.Characteristic, value any) {
	h.mu.Lock()
	b, ok := h.bindings[identity]
	h.mu.Unlock()
	if !ok {
		return
	}
	if set, ok := b.set[c]; ok {
		set(value)
	}
}

// Value returns what HomeKit currently holds for a characteristic.
func (h *Host) Value(identity string, c accessory.Characteristic) (any, bool) {
	h.mu.Lock()
	b, ok := h.bindings[identity]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	get, ok := b.get[c]
	if !ok {
		return nil, false
	}
	return get(), true
}

func (h *Host) refresh(ctx context.Context, accs []accessory.Accessory) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	for _, acc := range accs {
		for _, c := range acc.Characteristics() {
			v, err := acc.Get(ctx, c)
			if err != nil {
				h.log.Debug("Could not read %s of %s: %v", c, acc.Identity(), err)
				continue
			}
			h.Notify(acc.Identity(), c, v)
		}
	}
}

func (h *Host) restart() {
	h.shutdown()

	h.mu.Lock()
	defer h.mu.Unlock()

	bridge := hapacc.NewBridge(hapacc.Info{
		Name:         h.cfg.Name,
		Manufacturer: accessory.Manufacturer,
		Model:        "M1",
	})

	ids := make([]string, 0, len(h.bindings))
	for id := range h.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	accs := make([]*hapacc.A, 0, len(ids))
	for _, id := range ids {
		accs = append(accs, h.bindings[id].a)
	}

	ctx, stop := context.WithCancel(h.ctx)
	done := make(chan struct{})
	h.stop, h.done = stop, done

	go func() {
		defer close(done)
		if err := h.serve(ctx, bridge.A, accs); err != nil && ctx.Err() == nil {
			h.log.Error("HomeKit server stopped: %v", err)
		}
	}()
}

func (h *Host) shutdown() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
}

func (h *Host) listen(ctx context.Context, bridge *hapacc.A, accs []*hapacc.A) error {
	fs := hap.NewFsStore(h.cfg.StoragePath)
	server, err := hap.NewServer(fs, bridge, accs...)
	if err != nil {
		return fmt.Errorf("error creating HomeKit server: %w", err)
	}
	server.Pin = h.cfg.Pin
	if h.cfg.Port > 0 {
		server.Addr = fmt.Sprintf(":%d", h.cfg.Port)
	}

	h.log.Info("HomeKit bridge %q listening, pin %s", h.cfg.Name, h.cfg.Pin)
	err = server.ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// lookup returns the state machine currently bound to identity. It changes
// on every rediscovery.
func (h *Host) lookup(identity string) (accessory.Accessory, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	acc, ok := h.accs[identity]
	return acc, ok
}

func (h *Host) read(r *http.Request, identity string, c accessory.Characteristic) (any, error) {
	acc, ok := h.lookup(identity)
	if !ok {
		return nil, fmt.Errorf("accessory %s is gone", identity)
	}
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	return acc.Get(ctx, c)
}

func (h *Host) write(identity string, c accessory.Characteristic, value any) {
	acc, ok := h.lookup(identity)
	if !ok {
		h.log.Warn("Write to %s of unknown accessory %s", c, identity)
		return
	}

	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()

	if err := acc.Set(ctx, c, value); err != nil {
		h.log.Error("Error setting %s of %s: %v", c, identity, err)
	}
}

func (h *Host) build(acc accessory.Accessory) *binding {
	info := acc.Info()
	a := hapacc.New(hapacc.Info{
		Name:         acc.Name(),
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SerialNumber: info.SerialNumber,
	}, hapType(acc.Kind()))
	a.Id = registry.AccessoryID(acc.Identity())

	b := &binding{
		a:   a,
		set: make(map[accessory.Characteristic]func(any)),
		get: make(map[accessory.Characteristic]func() any),
	}
	id := acc.Identity()

	switch acc.Kind() {
	case accessory.KindSecuritySystem:
		s := service.NewSecuritySystem()
		h.bindInt(b, acc, accessory.SecuritySystemCurrentState, s.SecuritySystemCurrentState.Int)
		h.bindInt(b, acc, accessory.SecuritySystemTargetState, s.SecuritySystemTargetState.Int)
		a.AddS(s.S)

	case accessory.KindGarageDoorOpener:
		s := service.NewGarageDoorOpener()
		h.bindInt(b, acc, accessory.CurrentDoorState, s.CurrentDoorState.Int)
		h.bindInt(b, acc, accessory.TargetDoorState, s.TargetDoorState.Int)
		h.bindBool(b, acc, accessory.ObstructionDetected, s.ObstructionDetected.Bool)
		a.AddS(s.S)

	case accessory.KindContactSensor:
		s := service.NewContactSensor()
		h.bindInt(b, acc, accessory.ContactSensorState, s.ContactSensorState.Int)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindMotionSensor:
		s := service.NewMotionSensor()
		h.bindBool(b, acc, accessory.MotionDetected, s.MotionDetected.Bool)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindSmokeSensor:
		s := service.NewSmokeSensor()
		h.bindInt(b, acc, accessory.SmokeDetected, s.SmokeDetected.Int)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindCarbonMonoxideSensor:
		s := service.NewCarbonMonoxideSensor()
		h.bindInt(b, acc, accessory.CarbonMonoxideDetected, s.CarbonMonoxideDetected.Int)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindCarbonDioxideSensor:
		s := service.NewCarbonDioxideSensor()
		h.bindInt(b, acc, accessory.CarbonDioxideDetected, s.CarbonDioxideDetected.Int)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindLeakSensor:
		s := service.NewLeakSensor()
		h.bindInt(b, acc, accessory.LeakDetected, s.LeakDetected.Int)
		h.addTampered(b, acc, s.S)
		a.AddS(s.S)

	case accessory.KindSwitch:
		s := service.NewSwitch()
		h.bindBool(b, acc, accessory.On, s.On.Bool)
		a.AddS(s.S)

	case accessory.KindTemperatureSensor:
		s := service.NewTemperatureSensor()
		h.bindFloat(b, acc, accessory.CurrentTemperature, s.CurrentTemperature.Float)
		a.AddS(s.S)

	default:
		h.log.Warn("No HomeKit service for %s (%s)", id, acc.Kind())
	}

	return b
}

func (h *Host) addTampered(b *binding, acc accessory.Accessory, s *service.S) {
	t := characteristic.NewStatusTampered()
	h.bindInt(b, acc, accessory.StatusTampered, t.Int)
	s.AddC(t.C)
}

func (h *Host) bindInt(b *binding, acc accessory.Accessory, c accessory.Characteristic, ch *characteristic.Int) {
	id := acc.Identity()
	b.set[c] = func(v any) { ch.SetValue(intValue(v)) }
	b.get[c] = func() any { return ch.Value() }
	ch.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := h.read(r, id, c)
		if err != nil {
			return nil, statusCommunicationFailure
		}
		return intValue(v), 0
	}
	if accessory.Writable(acc, c) {
		ch.OnValueRemoteUpdate(func(v int) { h.write(id, c, v) })
	}
}

func (h *Host) bindBool(b *binding, acc accessory.Accessory, c accessory.Characteristic, ch *characteristic.Bool) {
	id := acc.Identity()
	b.set[c] = func(v any) { ch.SetValue(boolValue(v)) }
	b.get[c] = func() any { return ch.Value() }
	ch.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := h.read(r, id, c)
		if err != nil {
			return nil, statusCommunicationFailure
		}
		return boolValue(v), 0
	}
	if accessory.Writable(acc, c) {
		ch.OnValueRemoteUpdate(func(v bool) { h.write(id, c, v) })
	}
}

func (h *Host) bindFloat(b *binding, acc accessory.Accessory, c accessory.Characteristic, ch *characteristic.Float) {
	id := acc.Identity()
	b.set[c] = func(v any) { ch.SetValue(floatValue(v)) }
	b.get[c] = func() any { return ch.Value() }
	ch.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := h.read(r, id, c)
		if err != nil {
			return nil, statusCommunicationFailure
		}
		return floatValue(v), 0
	}
}

func hapType(k accessory.Kind) byte {
	typ := hapacc.TypeSensor
	switch k {
	case accessory.KindSecuritySystem:
		typ = hapacc.TypeSecuritySystem
	case accessory.KindGarageDoorOpener:
		typ = hapacc.TypeGarageDoorOpener
	case accessory.KindSwitch:
		typ = hapacc.TypeSwitch
	}
	return typ
}

// intValue maps flags onto HAP's 0/1 sensor encodings. An active contact
// sensor reports 1 (not in contact), which is what HAP expects.
func intValue(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return int(x)
	default:
		return 0
	}
}

func boolValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int:
		return x != 0
	default:
		return false
	}
}

func floatValue(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	default:
		return 0
	}
}

// signature identifies an accessory set by identity and name.
func signature(accs []accessory.Accessory) string {
	parts := make([]string, 0, len(accs))
	for _, acc := range accs {
		parts = append(parts, acc.Identity()+"="+acc.Name())
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
