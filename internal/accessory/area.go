package accessory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/schedule"
	"github.com/daemonp/elkm1bridge/internal/translate"
)

// SecurityArea arms and disarms one panel area.
type SecurityArea struct {
	base
	cmd    Commander
	area   int
	code   string
	settle time.Duration

	mu      sync.Mutex
	current translate.ArmState
	target  translate.ArmState
	rearm   schedule.Timer
}

func AreaIdentity(area int) string {
	return fmt.Sprintf("ElkPanel%d", area)
}

func NewSecurityArea(d Deps, cfg config.AreaConfig, name string) *SecurityArea {
	if name == "" {
		name = fmt.Sprintf("Area %d", cfg.Area)
	}
	return &SecurityArea{
		base: newBase(d, AreaIdentity(cfg.Area), name, KindSecuritySystem, Info{
			Model:        "M1",
			SerialNumber: strconv.Itoa(cfg.Area),
		}),
		cmd:     d.Commander,
		area:    cfg.Area,
		code:    cfg.KeypadCode,
		settle:  d.Timing.ArmSettleDelay,
		current: translate.Disarmed,
		target:  translate.Disarmed,
	}
}

func (a *SecurityArea) Area() int { return a.area }

func (a *SecurityArea) Characteristics() []Characteristic {
	return []Characteristic{SecuritySystemCurrentState, SecuritySystemTargetState}
}

func (a *SecurityArea) Get(ctx context.Context, c Characteristic) (any, error) {
	switch c {
	case SecuritySystemCurrentState:
		return int(a.CurrentState(ctx)), nil
	case SecuritySystemTargetState:
		return int(a.TargetState()), nil
	default:
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, a.identity)
	}
}

func (a *SecurityArea) Set(ctx context.Context, c Characteristic, value any) error {
	switch c {
	case SecuritySystemTargetState:
		n, err := toInt(value)
		if err != nil {
			return err
		}
		return a.SetTargetState(ctx, translate.ArmState(n))
	case SecuritySystemCurrentState:
		return fmt.Errorf("%w: %q on %s", ErrReadOnly, c, a.identity)
	default:
		return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, a.identity)
	}
}

// CurrentState asks the panel instead of trusting the last event, falling
// back to the cached state when the panel does not answer.
func (a *SecurityArea) CurrentState(ctx context.Context) translate.ArmState {
	status, err := a.cmd.RequestArmingStatus(ctx)
	if err != nil {
		a.log.Warn("Failed to refresh state of area %d: %v", a.area, err)
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.current
	}

	area, ok := status.Area(a.area)
	if !ok {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.current
	}
	state := a.mapState(area)

	a.mu.Lock()
	a.current = state
	a.mu.Unlock()
	return state
}

func (a *SecurityArea) TargetState() translate.ArmState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// SetTargetState moves the area to target. An armed area is disarmed first
// and the new mode is only sent once the panel has had time to settle, since
// it ignores an arm request that follows a disarm too closely.
func (a *SecurityArea) SetTargetState(ctx context.Context, target translate.ArmState) error {
	if !target.ValidTarget() {
		return fmt.Errorf("%w: target state %d for area %d", ErrUnsupportedValue, int(target), a.area)
	}

	a.mu.Lock()
	if target == a.current {
		a.mu.Unlock()
		a.log.Debug("Area %d already %s", a.area, target)
		return nil
	}
	a.target = target
	if a.rearm != nil {
		a.rearm.Stop()
		a.rearm = nil
	}
	armed := a.current.Armed()
	a.mu.Unlock()

	if !armed {
		return a.send(ctx, target)
	}

	if err := a.send(ctx, translate.Disarmed); err != nil {
		return err
	}

	a.mu.Lock()
	a.rearm = a.timers.AfterFunc(a.settle, func() { a.afterSettle(target) })
	a.mu.Unlock()
	return nil
}

func (a *SecurityArea) afterSettle(target translate.ArmState) {
	a.mu.Lock()
	a.rearm = nil
	current := a.current
	a.mu.Unlock()

	if target == translate.Disarmed || target == current {
		return
	}
	if err := a.send(context.Background(), target); err != nil {
		a.log.Error("Failed to arm area %d after disarm: %v", a.area, err)
	}
}

func (a *SecurityArea) send(ctx context.Context, target translate.ArmState) error {
	mode, _ := translate.ArmMode(target)
	a.log.Debug("Setting area %d to %s", a.area, target)
	return a.cmd.Arm(ctx, a.area, mode, a.code)
}

// ApplyStatus takes an arming status message. The target follows the
// current state except during an alarm, so the user's last request survives
// it.
func (a *SecurityArea) ApplyStatus(status elk.ArmingStatus) {
	area, ok := status.Area(a.area)
	if !ok {
		return
	}
	state := a.mapState(area)

	a.mu.Lock()
	a.current = state
	mirror := state != translate.AlarmTriggered
	if mirror {
		a.target = state
	}
	a.mu.Unlock()

	a.log.Debug("Area %d: %s, %s, %s", a.area, area.ArmStatus, area.ArmUpState, area.AlarmState)
	a.notify(SecuritySystemCurrentState, int(state))
	if mirror {
		a.notify(SecuritySystemTargetState, int(state))
	}
}

func (a *SecurityArea) mapState(area elk.AreaStatus) translate.ArmState {
	state, known := translate.AreaArmState(area)
	if !known {
		a.log.Warn("Area %d reported unknown arm status %d, treating as disarmed", a.area, int(area.ArmStatus))
	}
	return state
}
