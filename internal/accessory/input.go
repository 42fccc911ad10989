package accessory

import (
	"context"
	"fmt"
	"sync"

	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/translate"
	"github.com/daemonp/elkm1bridge/internal/util"
)

// InputKind describes one flavour of zone sensor. All of them share
// BinaryInput and differ only in what they publish.
type InputKind struct {
	Prefix         string
	Model          string
	Kind           Kind
	Characteristic Characteristic
}

var inputKinds = map[config.ZoneType]InputKind{
	config.ZoneTypeContact: {"Contact", "Contact zone", KindContactSensor, ContactSensorState},
	config.ZoneTypeMotion:  {"Motion", "Motion zone", KindMotionSensor, MotionDetected},
	config.ZoneTypeSmoke:   {"Smoke", "Smoke zone", KindSmokeSensor, SmokeDetected},
	config.ZoneTypeCO:      {"CO", "CO zone", KindCarbonMonoxideSensor, CarbonMonoxideDetected},
	config.ZoneTypeCO2:     {"CO2", "CO2 zone", KindCarbonDioxideSensor, CarbonDioxideDetected},
	config.ZoneTypeLeak:    {"Leak", "Leak zone", KindLeakSensor, LeakDetected},
}

// LookupInput returns the sensor flavour for a zone type, if it is one.
func LookupInput(zoneType config.ZoneType) (InputKind, bool) {
	k, ok := inputKinds[zoneType]
	return k, ok
}

func InputIdentity(kind InputKind, zone int) string {
	return fmt.Sprintf("%s%d", kind.Prefix, zone)
}

// BinaryInput is a zone reported as active or inactive, with optional
// tamper detection from the zone's physical status.
type BinaryInput struct {
	base
	input  InputKind
	zone   int
	tamper config.TamperType

	mu       sync.Mutex
	active   bool
	tampered bool
}

func NewBinaryInput(d Deps, kind InputKind, zone config.ZoneConfig, name string) *BinaryInput {
	if name == "" {
		name = fmt.Sprintf("%s %d", kind.Prefix, zone.ZoneNumber)
	}
	return &BinaryInput{
		base: newBase(d, InputIdentity(kind, zone.ZoneNumber), name, kind.Kind, Info{
			Model:        kind.Model,
			SerialNumber: util.PadID(zone.ZoneNumber, 4),
		}),
		input:  kind,
		zone:   zone.ZoneNumber,
		tamper: zone.TamperType,
	}
}

func (b *BinaryInput) Zone() int { return b.zone }

func (b *BinaryInput) Characteristics() []Characteristic {
	return []Characteristic{b.input.Characteristic, StatusTampered}
}

func (b *BinaryInput) Get(_ context.Context, c Characteristic) (any, error) {
	switch c {
	case b.input.Characteristic:
		return b.Active(), nil
	case StatusTampered:
		return b.Tampered(), nil
	default:
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, b.identity)
	}
}

func (b *BinaryInput) Set(_ context.Context, c Characteristic, _ any) error {
	if c == b.input.Characteristic || c == StatusTampered {
		return fmt.Errorf("%w: %q on %s", ErrReadOnly, c, b.identity)
	}
	return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, b.identity)
}

func (b *BinaryInput) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *BinaryInput) Tampered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tampered
}

// ApplyZone updates both flags from one zone status.
func (b *BinaryInput) ApplyZone(zc elk.ZoneChange) {
	active := translate.Active(zc.Logical)
	tampered := translate.Tampered(b.tamper, zc.Physical)

	b.mu.Lock()
	b.active = active
	b.tampered = tampered
	b.mu.Unlock()

	b.log.Debug("%s: %s/%s active=%t tampered=%t", b.name, zc.Logical, zc.Physical, active, tampered)
	b.notify(b.input.Characteristic, active)
	b.notify(StatusTampered, tampered)
}
