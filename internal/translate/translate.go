// Package translate maps Elk M1 status vocabularies onto the normalized
// accessory states. Every function is pure and total over its input.
package translate

import (
	"fmt"

	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/elk"
	"github.com/daemonp/elkm1bridge/internal/util"
)

// ArmState values line up with the HomeKit security system characteristics,
// so they can be published without another lookup.
type ArmState int

const (
	StayArm ArmState = iota
	AwayArm
	NightArm
	Disarmed
	AlarmTriggered
)

func (s ArmState) String() string {
	switch s {
	case StayArm:
		return "StayArm"
	case AwayArm:
		return "AwayArm"
	case NightArm:
		return "NightArm"
	case Disarmed:
		return "Disarmed"
	case AlarmTriggered:
		return "AlarmTriggered"
	default:
		return fmt.Sprintf("ArmState(%d)", int(s))
	}
}

// Armed reports whether the area needs a disarm before it can change mode.
func (s ArmState) Armed() bool {
	return s != Disarmed
}

// ValidTarget reports whether s can be requested as a target state.
func (s ArmState) ValidTarget() bool {
	return s >= StayArm && s <= Disarmed
}

// DoorState values line up with the HomeKit current door state characteristic.
type DoorState int

const (
	DoorOpen DoorState = iota
	DoorClosed
	DoorOpening
	DoorClosing
)

func (s DoorState) String() string {
	switch s {
	case DoorOpen:
		return "Open"
	case DoorClosed:
		return "Closed"
	case DoorOpening:
		return "Opening"
	case DoorClosing:
		return "Closing"
	default:
		return fmt.Sprintf("DoorState(%d)", int(s))
	}
}

// Transitional returns the state shown while the door moves towards target.
func (s DoorState) Transitional() DoorState {
	if s == DoorOpen {
		return DoorOpening
	}
	return DoorClosing
}

// AreaArmState maps one area of an arming status message. An active alarm
// wins over the arm status. The second return value is false when the arm
// status is not one the panel documents; the state then falls back to
// Disarmed.
func AreaArmState(area elk.AreaStatus) (ArmState, bool) {
	if area.AlarmState != elk.AlarmNone {
		return AlarmTriggered, true
	}

	switch area.ArmStatus {
	case elk.ArmStatusDisarmed:
		return Disarmed, true
	case elk.ArmStatusArmedAway, elk.ArmStatusArmedVacation:
		return AwayArm, true
	case elk.ArmStatusArmedStay, elk.ArmStatusArmedStayInstant:
		return StayArm, true
	case elk.ArmStatusArmedNight, elk.ArmStatusArmedNightInstant:
		return NightArm, true
	default:
		return Disarmed, false
	}
}

// ArmMode returns the panel command for a requested target state.
func ArmMode(target ArmState) (elk.ArmMode, bool) {
	switch target {
	case StayArm:
		return elk.ArmModeStay, true
	case AwayArm:
		return elk.ArmModeAway, true
	case NightArm:
		return elk.ArmModeNight, true
	case Disarmed:
		return elk.ArmModeDisarm, true
	default:
		return elk.ArmModeDisarm, false
	}
}

// Active reports whether a zone is anything other than Normal.
func Active(logical elk.LogicalState) bool {
	return logical != elk.LogicalNormal
}

// Door maps a garage door state zone to a confirmed door position.
func Door(logical elk.LogicalState) DoorState {
	if Active(logical) {
		return DoorOpen
	}
	return DoorClosed
}

// Tampered applies a zone's tamper policy to its physical status.
func Tampered(policy config.TamperType, physical elk.PhysicalStatus) bool {
	switch policy {
	case config.TamperNormallyClosed:
		return physical == elk.PhysicalShort
	case config.TamperNormallyOpen:
		return physical == elk.PhysicalOpen
	default:
		return false
	}
}

// Celsius converts a panel Fahrenheit reading, rounded to one decimal.
func Celsius(fahrenheit int) float64 {
	return util.Round(float64(fahrenheit-32)*5/9, 1)
}
