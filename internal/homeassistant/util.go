package homeassistant

import (
	"github.com/daemonp/elkm1bridge/internal/accessory"
)

// deviceClass picks the Home Assistant binary sensor class for an input kind.
func deviceClass(kind accessory.Kind) string {
	switch kind {
	case accessory.KindContactSensor:
		return "opening"
	case accessory.KindMotionSensor:
		return "motion"
	case accessory.KindSmokeSensor:
		return "smoke"
	case accessory.KindCarbonMonoxideSensor:
		return "carbon_monoxide"
	case accessory.KindCarbonDioxideSensor:
		return "gas"
	case accessory.KindLeakSensor:
		return "moisture"
	default:
		return ""
	}
}

// primary returns the characteristic a binary sensor reports.
func primary(kind accessory.Kind) accessory.Characteristic {
	switch kind {
	case accessory.KindContactSensor:
		return accessory.ContactSensorState
	case accessory.KindMotionSensor:
		return accessory.MotionDetected
	case accessory.KindSmokeSensor:
		return accessory.SmokeDetected
	case accessory.KindCarbonMonoxideSensor:
		return accessory.CarbonMonoxideDetected
	case accessory.KindCarbonDioxideSensor:
		return accessory.CarbonDioxideDetected
	case accessory.KindLeakSensor:
		return accessory.LeakDetected
	default:
		return ""
	}
}
