package accessory

import (
	"context"
	"fmt"
	"sync"

	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/translate"
)

// TemperatureSensor publishes an M1ZTS probe in Celsius.
type TemperatureSensor struct {
	base
	zone int

	mu      sync.Mutex
	celsius float64
}

func TemperatureIdentity(zone int) string {
	return fmt.Sprintf("Temperature%d", zone)
}

func NewTemperatureSensor(d Deps, zone int, name string) *TemperatureSensor {
	if name == "" {
		name = fmt.Sprintf("Temperature Sensor %d", zone)
	}
	return &TemperatureSensor{
		base: newBase(d, TemperatureIdentity(zone), name, KindTemperatureSensor, Info{
			Model:        "ELK-M1ZTS",
			SerialNumber: fmt.Sprintf("M1TZS-%d", zone),
		}),
		zone: zone,
	}
}

func (s *TemperatureSensor) Zone() int { return s.zone }

func (s *TemperatureSensor) Characteristics() []Characteristic {
	return []Characteristic{CurrentTemperature}
}

func (s *TemperatureSensor) Get(_ context.Context, c Characteristic) (any, error) {
	if c != CurrentTemperature {
		return nil, fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, s.identity)
	}
	return s.Celsius(), nil
}

func (s *TemperatureSensor) Set(_ context.Context, c Characteristic, _ any) error {
	if c == CurrentTemperature {
		return fmt.Errorf("%w: %q on %s", ErrReadOnly, c, s.identity)
	}
	return fmt.Errorf("%w %q on %s", ErrUnknownCharacteristic, c, s.identity)
}

func (s *TemperatureSensor) Celsius() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.celsius
}

// ApplyTemperature takes a temperature report. Probes without a reading are
// left alone.
func (s *TemperatureSensor) ApplyTemperature(report elk.TemperatureReport) {
	reading := report.Zone(s.zone)
	if !reading.Valid {
		return
	}
	celsius := translate.Celsius(reading.Fahrenheit)

	s.mu.Lock()
	s.celsius = celsius
	s.mu.Unlock()

	s.log.Debug("Temperature for zone %d is %.1f°C (%d°F)", s.zone, celsius, reading.Fahrenheit)
	s.notify(CurrentTemperature, celsius)
}
