package panel

import (
	"context"
	"fmt"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/util"
)

func (p *Panel) deps() accessory.Deps {
	return accessory.Deps{
		Commander: p.link,
		Notifier:  p.notifier,
		Scheduler: p.sched,
		Log:       p.log.With("accessory"),
		Timing: accessory.Timing{
			ArmSettleDelay: p.config.Timing.ArmSettleDelay,
			TaskResetDelay: p.config.Timing.TaskResetDelay,
		},
	}
}

// discover queries the panel inventory and binds one accessory per
// configured entity. Any failure aborts the whole pass.
func (p *Panel) discover(ctx context.Context) error {
	p.log.Info("***Connected***")
	deps := p.deps()
	p.router.Reset()

	zones, err := p.link.RequestZoneStatusReport(ctx)
	if err != nil {
		return err
	}

	p.log.Debug("Requesting area description")
	for _, area := range p.config.Areas {
		td, err := p.link.RequestTextDescription(ctx, elk.DescriptionArea, area.Area)
		if err != nil {
			return err
		}
		name := ""
		if td.ID == area.Area {
			name = td.Description
		}
		p.log.Debug("Adding panel for area %d named %s", area.Area, name)
		if err := p.bind(accessory.NewSecurityArea(deps, area, name)); err != nil {
			return err
		}
	}

	p.log.Debug("Requesting zone descriptions")
	zoneTexts, err := p.descriptions(ctx, elk.DescriptionZone)
	if err != nil {
		return err
	}

	p.log.Debug("Requesting task descriptions")
	taskTexts, err := p.descriptions(ctx, elk.DescriptionTask)
	if err != nil {
		return err
	}
	for _, id := range p.config.IncludedTasks {
		name, ok := taskTexts[id]
		if !ok {
			p.log.Warn("Task %d is included but has no description on the panel", id)
			continue
		}
		if err := p.bind(accessory.NewTask(deps, id, name)); err != nil {
			return err
		}
	}

	p.log.Debug("Requesting output descriptions")
	outputTexts, err := p.descriptions(ctx, elk.DescriptionOutput)
	if err != nil {
		return err
	}
	for _, id := range p.config.IncludedOutputs {
		name, ok := outputTexts[id]
		if !ok {
			p.log.Warn("Output %d is included but has no description on the panel", id)
			continue
		}
		if err := p.bind(accessory.NewOutput(deps, id, name)); err != nil {
			return err
		}
	}

	zoneConfigs := p.config.ZoneMap()
	garageDoors := p.config.GarageDoorMap()
	var doors []*accessory.GarageDoor
	hasTemperature := false

	for _, zone := range zones.Zones {
		zc, ok := zoneConfigs[zone.ID]
		if !ok || zone.Physical == elk.PhysicalUnconfigured {
			continue
		}
		name := zoneTexts[zone.ID]
		p.log.Debug("Adding zone %s %d %s %s", name, zone.ID, zone.Physical, zone.Logical)

		if kind, ok := accessory.LookupInput(zc.ZoneType); ok {
			input := accessory.NewBinaryInput(deps, kind, zc, name)
			input.ApplyZone(zone)
			if err := p.bind(input); err != nil {
				return err
			}
			continue
		}

		switch zc.ZoneType {
		case config.ZoneTypeGarageDoor:
			door, ok := garageDoors[zone.ID]
			if !ok {
				p.log.Warn("Zone %d is of type garage door, but no matching garage door definition was found", zone.ID)
				continue
			}
			gd := accessory.NewGarageDoor(deps, door)
			if err := p.bind(gd); err != nil {
				return err
			}
			doors = append(doors, gd)
		case config.ZoneTypeTemperature:
			hasTemperature = true
			if err := p.bind(accessory.NewTemperatureSensor(deps, zone.ID, name)); err != nil {
				return err
			}
		default:
			p.log.Warn("Zone %d is of unsupported type %s", zone.ID, zc.ZoneType)
		}
	}

	if hasTemperature {
		if _, err := p.link.RequestTemperature(ctx); err != nil {
			return err
		}
		p.startTemperaturePolling()
	} else {
		p.log.Debug("No temperature zones configured")
	}

	p.log.Debug("Checking initial garage door states")
	for _, door := range doors {
		cfg := door.Config()
		if zc, ok := zones.Zone(cfg.StateZone); ok {
			door.ApplyZone(zc)
		}
		if cfg.HasObstructionZone() && cfg.ObstructionZone != cfg.StateZone {
			if zc, ok := zones.Zone(cfg.ObstructionZone); ok {
				door.ApplyZone(zc)
			}
		}
	}

	p.log.Debug("Requesting arming status")
	if _, err := p.link.RequestArmingStatus(ctx); err != nil {
		return err
	}

	if err := p.registry.Save(); err != nil {
		p.log.Warn("Failed to save accessory cache: %v", err)
	}

	accs := p.Accessories()
	p.mu.Lock()
	callbacks := p.discovered
	p.mu.Unlock()
	for _, f := range callbacks {
		f(accs)
	}

	p.log.Info("Startup complete")
	return nil
}

func (p *Panel) descriptions(ctx context.Context, kind elk.DescriptionType) (map[int]string, error) {
	all, err := p.link.RequestTextDescriptionAll(ctx, kind)
	if err != nil {
		return nil, err
	}
	texts := make(map[int]string, len(all))
	for _, td := range all {
		texts[td.ID] = util.Normalize(td.Description)
	}
	p.log.Debug("Received %d %s descriptions", len(texts), kind)
	return texts, nil
}

// bind registers acc, replacing any state machine from an earlier discovery,
// and points the router at it.
func (p *Panel) bind(acc accessory.Accessory) error {
	if _, err := p.registry.Upsert(acc.Identity(), acc.Name(), acc); err != nil {
		return fmt.Errorf("failed to register %s: %w", acc.Name(), err)
	}
	p.router.Bind(acc)
	return nil
}
