package accessory

import (
	"context"
	"fmt"
	"sync"

	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/translate"
)

// relayPulse is how long, in seconds, a door relay output is held on.
const relayPulse = 1

// GarageDoor drives a door through momentary open and close outputs and
// follows its position from a state zone and an optional obstruction zone.
type GarageDoor struct {
	base
	cmd  Commander
	door config.GarageDoorConfig

	mu         sync.Mutex
	current    translate.DoorState
	target     translate.DoorState
	obstructed bool
}

func GarageDoorIdentity(stateZone int) string {
	return fmt.Sprintf("garageDoor%d", stateZone)
}

func NewGarageDoor(d Deps, door config.GarageDoorConfig) *GarageDoor {
	name := door.Name
	if name == "" {
		name = fmt.Sprintf("Garage door %d", door.StateZone)
	}
	return &GarageDoor{
		base: newBase(d, GarageDoorIdentity(door.StateZone), name, KindGarageDoorOpener, Info{
			Model:        "Garage door",
			SerialNumber: fmt.Sprintf("%d/%d/%d", door.OpenOutput, door.CloseOutput, door.StateZone),
		}),
		cmd:     d.Commander,
		door:    door,
		current: translate.DoorClosed,
		target:  translate.DoorClosed,
	}
}

func (g *GarageDoor) Config() config.GarageDoorConfig { return g.door }

func (g *GarageDoor) Characteristics() []Characteristic {
	return []Characteristic{CurrentDoorState, TargetDoorState, ObstructionDetected}
}

func (g *GarageDoor) Get(_ context.Context, c Characteristic) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch c {
	case CurrentDoorState:
		return int(g.current), nil
	case TargetDoorState:
		return int(g.target), nil
	case ObstructionDetected:
		return g.obstructed, nil
	default:
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, g.identity)
	}
}

func (g *GarageDoor) Set(ctx context.Context, c Characteristic, value any) error {
	switch c {
	case TargetDoorState:
		n, err := toInt(value)
		if err != nil {
			return err
		}
		return g.SetTargetState(ctx, translate.DoorState(n))
	case CurrentDoorState, ObstructionDetected:
		return fmt.Errorf("%w: %q on %s", ErrReadOnly, c, g.identity)
	default:
		return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, g.identity)
	}
}

// SetTargetState pulses the open or close relay and shows the door moving
// until the state zone confirms the new position.
func (g *GarageDoor) SetTargetState(ctx context.Context, target translate.DoorState) error {
	if target != translate.DoorOpen && target != translate.DoorClosed {
		return fmt.Errorf("%w: door target %d", ErrUnsupportedValue, int(target))
	}

	g.mu.Lock()
	g.log.Debug("Asked to set %s to %s, currently %s", g.name, target, g.current)
	if target == g.current {
		g.mu.Unlock()
		return nil
	}
	g.target = target
	g.current = target.Transitional()
	current := g.current
	g.mu.Unlock()

	g.notify(CurrentDoorState, int(current))

	output := g.door.CloseOutput
	if target == translate.DoorOpen {
		output = g.door.OpenOutput
	}
	return g.cmd.SetOutputOn(ctx, output, relayPulse)
}

// ApplyZone handles a zone change for either of the door's zones and
// reports whether it was one of them.
func (g *GarageDoor) ApplyZone(zc elk.ZoneChange) bool {
	handled := false
	if g.door.HasObstructionZone() && zc.ID == g.door.ObstructionZone {
		g.setObstruction(zc.Logical)
		handled = true
	}
	if zc.ID == g.door.StateZone {
		g.setPosition(zc.Logical)
		handled = true
	}
	return handled
}

func (g *GarageDoor) setPosition(logical elk.LogicalState) {
	state := translate.Door(logical)

	g.mu.Lock()
	if g.current == state {
		g.mu.Unlock()
		return
	}
	g.current = state
	g.target = state
	g.mu.Unlock()

	g.log.Debug("%s is %s", g.name, state)
	g.notify(CurrentDoorState, int(state))
	g.notify(TargetDoorState, int(state))
}

func (g *GarageDoor) setObstruction(logical elk.LogicalState) {
	obstructed := translate.Active(logical)

	g.mu.Lock()
	g.obstructed = obstructed
	g.mu.Unlock()

	g.notify(ObstructionDetected, obstructed)
}
