package panel

import (
	"context"
	"sync"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/log"
)

// Router hands panel events to the accessories that own them. Events are
// handled one at a time in arrival order.
type Router struct {
	log     *log.Logger
	onError func(error)

	mu      sync.RWMutex
	areas   map[int]*accessory.SecurityArea
	inputs  map[int]*accessory.BinaryInput
	doors   map[int]*accessory.GarageDoor
	outputs map[int]*accessory.Output
	temps   map[int]*accessory.TemperatureSensor
}

func NewRouter(logger *log.Logger, onError func(error)) *Router {
	r := &Router{log: logger, onError: onError}
	r.Reset()
	return r
}

// Reset drops every binding.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.areas = make(map[int]*accessory.SecurityArea)
	r.inputs = make(map[int]*accessory.BinaryInput)
	r.doors = make(map[int]*accessory.GarageDoor)
	r.outputs = make(map[int]*accessory.Output)
	r.temps = make(map[int]*accessory.TemperatureSensor)
}

// Bind routes events for acc's ids to acc, replacing any earlier binding.
// Tasks receive no events and are not bound.
func (r *Router) Bind(acc accessory.Accessory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch a := acc.(type) {
	case *accessory.SecurityArea:
		r.areas[a.Area()] = a
	case *accessory.BinaryInput:
		r.inputs[a.Zone()] = a
	case *accessory.GarageDoor:
		r.doors[a.Config().StateZone] = a
	case *accessory.Output:
		r.outputs[a.ID()] = a
	case *accessory.TemperatureSensor:
		r.temps[a.Zone()] = a
	}
}

func (r *Router) Run(ctx context.Context, events <-chan elk.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			r.Dispatch(event)
		}
	}
}

func (r *Router) Dispatch(event elk.Event) {
	switch e := event.(type) {
	case elk.ZoneChange:
		r.handleZoneChange(e)
	case elk.OutputChange:
		r.handleOutputChange(e)
	case elk.ArmingStatus:
		r.handleArmingStatus(e)
	case elk.TemperatureReport:
		r.handleTemperature(e)
	case elk.ErrorEvent:
		if r.onError != nil {
			r.onError(e.Err)
		}
	case elk.Generic:
		r.log.Panel("%s %s", e.Type, e.Data)
	default:
		r.log.Trace("Unhandled %s message", event.MessageType())
	}
}

func (r *Router) handleZoneChange(e elk.ZoneChange) {
	r.log.Debug("Zone %d: %s/%s", e.ID, e.Logical, e.Physical)

	r.mu.RLock()
	input := r.inputs[e.ID]
	doors := make([]*accessory.GarageDoor, 0, len(r.doors))
	for _, d := range r.doors {
		doors = append(doors, d)
	}
	r.mu.RUnlock()

	if input != nil {
		input.ApplyZone(e)
	}
	// a zone can be one door's state zone and another's obstruction zone
	for _, d := range doors {
		d.ApplyZone(e)
	}
}

func (r *Router) handleOutputChange(e elk.OutputChange) {
	r.mu.RLock()
	output := r.outputs[e.ID]
	r.mu.RUnlock()

	if output != nil {
		output.ApplyOutput(e)
	}
}

func (r *Router) handleArmingStatus(e elk.ArmingStatus) {
	r.mu.RLock()
	areas := make([]*accessory.SecurityArea, 0, len(r.areas))
	for _, a := range r.areas {
		areas = append(areas, a)
	}
	r.mu.RUnlock()

	for _, a := range areas {
		a.ApplyStatus(e)
	}
}

func (r *Router) handleTemperature(e elk.TemperatureReport) {
	r.mu.RLock()
	temps := make([]*accessory.TemperatureSensor, 0, len(r.temps))
	for _, t := range r.temps {
		temps = append(temps, t)
	}
	r.mu.RUnlock()

	for _, t := range temps {
		t.ApplyTemperature(e)
	}
}
