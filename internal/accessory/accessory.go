// Package accessory holds one state machine per kind of exposed device.
// State machines translate panel events into characteristic values and
// characteristic writes into panel commands.
package accessory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/schedule"
)

const Manufacturer = "ELK"

var (
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
	ErrReadOnly              = errors.New("characteristic is read only")
	ErrUnsupportedValue      = errors.New("unsupported value")
)

// Characteristic names a piece of state on an accessory.
type Characteristic string

const (
	SecuritySystemCurrentState Characteristic = "current_state"
	SecuritySystemTargetState  Characteristic = "target_state"
	CurrentDoorState           Characteristic = "current_door_state"
	TargetDoorState            Characteristic = "target_door_state"
	ObstructionDetected        Characteristic = "obstruction_detected"
	ContactSensorState         Characteristic = "contact"
	MotionDetected             Characteristic = "motion"
	SmokeDetected              Characteristic = "smoke"
	CarbonMonoxideDetected     Characteristic = "carbon_monoxide"
	CarbonDioxideDetected      Characteristic = "carbon_dioxide"
	LeakDetected               Characteristic = "leak"
	StatusTampered             Characteristic = "tampered"
	On                         Characteristic = "on"
	CurrentTemperature         Characteristic = "temperature"
)

// Kind is the primary service an accessory exposes.
type Kind int

const (
	KindSecuritySystem Kind = iota
	KindGarageDoorOpener
	KindContactSensor
	KindMotionSensor
	KindSmokeSensor
	KindCarbonMonoxideSensor
	KindCarbonDioxideSensor
	KindLeakSensor
	KindSwitch
	KindTemperatureSensor
)

func (k Kind) String() string {
	switch k {
	case KindSecuritySystem:
		return "security system"
	case KindGarageDoorOpener:
		return "garage door"
	case KindContactSensor:
		return "contact sensor"
	case KindMotionSensor:
		return "motion sensor"
	case KindSmokeSensor:
		return "smoke sensor"
	case KindCarbonMonoxideSensor:
		return "carbon monoxide sensor"
	case KindCarbonDioxideSensor:
		return "carbon dioxide sensor"
	case KindLeakSensor:
		return "leak sensor"
	case KindSwitch:
		return "switch"
	case KindTemperatureSensor:
		return "temperature sensor"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Info is the accessory information service.
type Info struct {
	Manufacturer string
	Model        string
	SerialNumber string
}

// Accessory is what the hosts see. Values are int for enumerations, bool
// for flags and float64 for temperatures.
type Accessory interface {
	Identity() string
	Name() string
	Kind() Kind
	Info() Info
	Characteristics() []Characteristic
	Get(ctx context.Context, c Characteristic) (any, error)
	Set(ctx context.Context, c Characteristic, value any) error
	Close()
}

// Writable is implemented by accessories that accept writes on c.
func Writable(a Accessory, c Characteristic) bool {
	switch c {
	case SecuritySystemTargetState, TargetDoorState:
		return true
	case On:
		return a.Kind() == KindSwitch
	default:
		return false
	}
}

// Commander is the part of the panel link accessories drive.
type Commander interface {
	RequestArmingStatus(ctx context.Context) (elk.ArmingStatus, error)
	RequestOutputStatusReport(ctx context.Context) (elk.OutputStatusReport, error)
	Arm(ctx context.Context, area int, mode elk.ArmMode, code string) error
	SetOutputOn(ctx context.Context, output, seconds int) error
	SetOutputOff(ctx context.Context, output int) error
	ActivateTask(ctx context.Context, task int) error
}

// Notifier receives every characteristic change an accessory publishes.
type Notifier interface {
	Notify(identity string, c Characteristic, value any)
}

type NotifierFunc func(identity string, c Characteristic, value any)

func (f NotifierFunc) Notify(identity string, c Characteristic, value any) {
	f(identity, c, value)
}

// Fanout forwards notifications to every registered notifier.
type Fanout struct {
	mu      sync.RWMutex
	targets []Notifier
}

func (f *Fanout) Add(n Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, n)
}

func (f *Fanout) Notify(identity string, c Characteristic, value any) {
	f.mu.RLock()
	targets := f.targets
	f.mu.RUnlock()

	for _, t := range targets {
		t.Notify(identity, c, value)
	}
}

type Timing struct {
	ArmSettleDelay time.Duration
	TaskResetDelay time.Duration
}

// Deps carries what every state machine needs.
type Deps struct {
	Commander Commander
	Notifier  Notifier
	Scheduler schedule.Scheduler
	Log       *log.Logger
	Timing    Timing
}

type base struct {
	identity string
	name     string
	kind     Kind
	info     Info
	log      *log.Logger
	notifier Notifier
	timers   *schedule.Group
}

func newBase(d Deps, identity, name string, kind Kind, info Info) base {
	info.Manufacturer = Manufacturer
	return base{
		identity: identity,
		name:     name,
		kind:     kind,
		info:     info,
		log:      d.Log,
		notifier: d.Notifier,
		timers:   schedule.NewGroup(d.Scheduler),
	}
}

func (b *base) Identity() string { return b.identity }
func (b *base) Name() string     { return b.name }
func (b *base) Kind() Kind       { return b.kind }
func (b *base) Info() Info       { return b.info }

// Close cancels every pending timer of the accessory.
func (b *base) Close() {
	b.timers.Stop()
}

func (b *base) notify(c Characteristic, value any) {
	if b.notifier != nil {
		b.notifier.Notify(b.identity, c, value)
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %v (%T)", ErrUnsupportedValue, value, value)
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b, nil
		}
	default:
		if n, err := toInt(value); err == nil {
			return n != 0, nil
		}
	}
	return false, fmt.Errorf("%w: %v (%T)", ErrUnsupportedValue, value, value)
}
