package accessory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/schedule"
	"github.com/daemonp/elkm1bridge/internal/util"
)

// Output is a panel relay exposed as a switch.
type Output struct {
	base
	cmd Commander
	id  int

	mu sync.Mutex
	on bool
}

func OutputIdentity(id int) string {
	return fmt.Sprintf("Output%d", id)
}

func NewOutput(d Deps, id int, name string) *Output {
	if name == "" {
		name = fmt.Sprintf("Output %d", id)
	}
	return &Output{
		base: newBase(d, OutputIdentity(id), name, KindSwitch, Info{
			Model:        "Output",
			SerialNumber: util.PadID(id, 3),
		}),
		cmd: d.Commander,
		id:  id,
	}
}

func (o *Output) ID() int { return o.id }

func (o *Output) Characteristics() []Characteristic {
	return []Characteristic{On}
}

// Get refreshes from the panel's output report and falls back to the last
// known state when the report fails.
func (o *Output) Get(ctx context.Context, c Characteristic) (any, error) {
	if c != On {
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, o.identity)
	}

	report, err := o.cmd.RequestOutputStatusReport(ctx)
	if err != nil {
		o.log.Error("Caught error (%v) trying to get current state of output %d", err, o.id)
		return o.IsOn(), nil
	}
	on, ok := report.Output(o.id)
	if !ok {
		return o.IsOn(), nil
	}

	o.mu.Lock()
	o.on = on
	o.mu.Unlock()
	return on, nil
}

func (o *Output) Set(ctx context.Context, c Characteristic, value any) error {
	if c != On {
		return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, o.identity)
	}
	on, err := toBool(value)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if on == o.on {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.log.Debug("Setting output %d to %t", o.id, on)
	if on {
		err = o.cmd.SetOutputOn(ctx, o.id, 0)
	} else {
		err = o.cmd.SetOutputOff(ctx, o.id)
	}
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.on = on
	o.mu.Unlock()
	return nil
}

func (o *Output) IsOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.on
}

// ApplyOutput takes an output change event.
func (o *Output) ApplyOutput(oc elk.OutputChange) {
	o.mu.Lock()
	changed := oc.On != o.on
	o.on = oc.On
	o.mu.Unlock()

	if changed {
		o.notify(On, oc.On)
	}
}

// Task runs a panel automation. The panel keeps no on state for tasks, so
// the switch turns itself off shortly after being turned on.
type Task struct {
	base
	cmd   Commander
	id    int
	delay time.Duration

	mu    sync.Mutex
	on    bool
	reset schedule.Timer
}

func TaskIdentity(id int) string {
	return fmt.Sprintf("Task%d", id)
}

func NewTask(d Deps, id int, name string) *Task {
	if name == "" {
		name = fmt.Sprintf("Task %d", id)
	}
	return &Task{
		base: newBase(d, TaskIdentity(id), name, KindSwitch, Info{
			Model:        "Task",
			SerialNumber: util.PadID(id, 3),
		}),
		cmd:   d.Commander,
		id:    id,
		delay: d.Timing.TaskResetDelay,
	}
}

func (t *Task) ID() int { return t.id }

func (t *Task) Characteristics() []Characteristic {
	return []Characteristic{On}
}

func (t *Task) Get(_ context.Context, c Characteristic) (any, error) {
	if c != On {
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, t.identity)
	}
	return t.IsOn(), nil
}

func (t *Task) Set(ctx context.Context, c Characteristic, value any) error {
	if c != On {
		return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, t.identity)
	}
	on, err := toBool(value)
	if err != nil {
		return err
	}
	if !on {
		return nil
	}
	return t.Activate(ctx)
}

func (t *Task) Activate(ctx context.Context) error {
	if err := t.cmd.ActivateTask(ctx, t.id); err != nil {
		return err
	}

	t.mu.Lock()
	t.on = true
	if t.reset != nil {
		t.reset.Stop()
	}
	t.reset = t.timers.AfterFunc(t.delay, t.turnOff)
	t.mu.Unlock()

	t.notify(On, true)
	return nil
}

func (t *Task) turnOff() {
	t.mu.Lock()
	t.on = false
	t.reset = nil
	t.mu.Unlock()

	t.notify(On, false)
}

func (t *Task) IsOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on
}
