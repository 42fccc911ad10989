package mqtt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/translate"
)

var armPayloads = map[string]translate.ArmState{
	"stay":     translate.StayArm,
	"home":     translate.StayArm,
	"arm_home": translate.StayArm,
	"away":     translate.AwayArm,
	"arm_away": translate.AwayArm,
	"night":    translate.NightArm,
	"disarm":   translate.Disarmed,
	"disarmed": translate.Disarmed,
}

var doorPayloads = map[string]translate.DoorState{
	"open":   translate.DoorOpen,
	"close":  translate.DoorClosed,
	"closed": translate.DoorClosed,
}

// ParsePayload converts a command payload into the value a characteristic
// accepts. Enumerations take either their number or a name.
func ParsePayload(c accessory.Characteristic, payload string) (any, error) {
	p := strings.ToLower(strings.Trim(strings.TrimSpace(payload), `"`))

	switch c {
	case accessory.SecuritySystemTargetState:
		if s, ok := armPayloads[p]; ok {
			return int(s), nil
		}
		return parseInt(c, p)
	case accessory.TargetDoorState:
		if s, ok := doorPayloads[p]; ok {
			return int(s), nil
		}
		return parseInt(c, p)
	case accessory.On:
		switch p {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w %q for %s", accessory.ErrUnsupportedValue, payload, c)
	default:
		return nil, fmt.Errorf("%w: %s", accessory.ErrReadOnly, c)
	}
}

func parseInt(c accessory.Characteristic, p string) (any, error) {
	n, err := strconv.Atoi(p)
	if err != nil {
		return nil, fmt.Errorf("%w %q for %s", accessory.ErrUnsupportedValue, p, c)
	}
	return n, nil
}
