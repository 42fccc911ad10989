package elk

import "fmt"

// Event is anything the panel pushes or replies with.
type Event interface {
	MessageType() string
}

// ZoneChange is a ZC update, also used for each entry of a zone status report.
type ZoneChange struct {
	ID       int
	Logical  LogicalState
	Physical PhysicalStatus
}

// OutputChange is a CC update.
type OutputChange struct {
	ID int
	On bool
}

// AreaStatus is one area's slice of an AS message.
type AreaStatus struct {
	ArmStatus  ArmStatus
	ArmUpState ArmUpState
	AlarmState AlarmState
}

// ArmingStatus is an AS message covering all eight areas.
type ArmingStatus struct {
	Areas []AreaStatus
}

// Area returns the status of a 1-based area number.
func (a ArmingStatus) Area(number int) (AreaStatus, bool) {
	if number < 1 || number > len(a.Areas) {
		return AreaStatus{}, false
	}
	return a.Areas[number-1], true
}

// Reading is a temperature in Fahrenheit. Valid is false when no sensor reported.
type Reading struct {
	Fahrenheit int
	Valid      bool
}

// TemperatureReport is an LW reply: 16 keypad and 16 zone sensors.
type TemperatureReport struct {
	Keypads []Reading
	Zones   []Reading
}

// Zone returns the reading of a 1-based zone number.
func (t TemperatureReport) Zone(number int) Reading {
	if number < 1 || number > len(t.Zones) {
		return Reading{}
	}
	return t.Zones[number-1]
}

// ZoneStatusReport is a ZS reply covering all 208 zones.
type ZoneStatusReport struct {
	Zones []ZoneChange
}

// Zone returns the status of a 1-based zone number.
func (z ZoneStatusReport) Zone(number int) (ZoneChange, bool) {
	if number < 1 || number > len(z.Zones) {
		return ZoneChange{}, false
	}
	return z.Zones[number-1], true
}

// OutputStatusReport is a CS reply covering all 208 outputs.
type OutputStatusReport struct {
	Outputs []bool
}

// Output returns the state of a 1-based output number.
func (o OutputStatusReport) Output(number int) (bool, bool) {
	if number < 1 || number > len(o.Outputs) {
		return false, false
	}
	return o.Outputs[number-1], true
}

// TextDescription is an SD reply. ID 0 marks the end of a listing.
type TextDescription struct {
	Type        DescriptionType
	ID          int
	Description string
}

// Generic is any frame without a dedicated decoder.
type Generic struct {
	Type string
	Data string
}

// ErrorEvent reports a broken connection.
type ErrorEvent struct {
	Err error
}

func (ZoneChange) MessageType() string         { return "ZC" }
func (OutputChange) MessageType() string       { return "CC" }
func (ArmingStatus) MessageType() string       { return "AS" }
func (TemperatureReport) MessageType() string  { return "LW" }
func (ZoneStatusReport) MessageType() string   { return "ZS" }
func (OutputStatusReport) MessageType() string { return "CS" }
func (TextDescription) MessageType() string    { return "SD" }
func (g Generic) MessageType() string          { return g.Type }
func (ErrorEvent) MessageType() string         { return "error" }

type LogicalState int

const (
	LogicalNormal LogicalState = iota
	LogicalTrouble
	LogicalViolated
	LogicalBypassed
)

func (s LogicalState) String() string {
	switch s {
	case LogicalNormal:
		return "Normal"
	case LogicalTrouble:
		return "Trouble"
	case LogicalViolated:
		return "Violated"
	case LogicalBypassed:
		return "Bypassed"
	default:
		return fmt.Sprintf("Unknown LogicalState(%d)", int(s))
	}
}

type PhysicalStatus int

const (
	PhysicalUnconfigured PhysicalStatus = iota
	PhysicalOpen
	PhysicalEOL
	PhysicalShort
)

func (s PhysicalStatus) String() string {
	switch s {
	case PhysicalUnconfigured:
		return "Unconfigured"
	case PhysicalOpen:
		return "Open"
	case PhysicalEOL:
		return "EOL"
	case PhysicalShort:
		return "Short"
	default:
		return fmt.Sprintf("Unknown PhysicalStatus(%d)", int(s))
	}
}

type ArmStatus int

const (
	ArmStatusDisarmed ArmStatus = iota
	ArmStatusArmedAway
	ArmStatusArmedStay
	ArmStatusArmedStayInstant
	ArmStatusArmedNight
	ArmStatusArmedNightInstant
	ArmStatusArmedVacation
)

func (a ArmStatus) String() string {
	if s, ok := ArmStatusDescriptions[a]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ArmStatus(%d)", int(a))
}

type ArmUpState int

const (
	ArmUpNotReady ArmUpState = iota
	ArmUpReady
	ArmUpReadyForce
	ArmUpArmedWithExitTimer
	ArmUpArmedFully
	ArmUpForceArmedViolated
	ArmUpArmedWithBypass
)

func (a ArmUpState) String() string {
	if s, ok := ArmUpStateDescriptions[a]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ArmUpState(%d)", int(a))
}

// AlarmState values follow the panel's character encoding, '0' through 'B'.
type AlarmState int

const (
	AlarmNone AlarmState = iota
	AlarmEntranceDelay
	AlarmAbortDelay
	AlarmFire
	AlarmMedical
	AlarmPolice
	AlarmBurglar
	AlarmAux1
	AlarmAux2
	AlarmAux3
	AlarmAux4
	AlarmCarbonMonoxide
	AlarmEmergency
	AlarmFreeze
	AlarmGas
	AlarmHeat
	AlarmWater
	AlarmFireSupervisory
	AlarmVerifyFire
)

func (a AlarmState) String() string {
	if s, ok := AlarmStateDescriptions[a]; ok {
		return s
	}
	return fmt.Sprintf("Unknown AlarmState(%d)", int(a))
}

// ArmMode selects the arm command a0 through a8.
type ArmMode int

const (
	ArmModeDisarm ArmMode = iota
	ArmModeAway
	ArmModeStay
	ArmModeStayInstant
	ArmModeNight
	ArmModeNightInstant
	ArmModeVacation
	ArmModeNextAway
	ArmModeNextStay
)

func (m ArmMode) String() string {
	if s, ok := ArmModeDescriptions[m]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ArmMode(%d)", int(m))
}

type DescriptionType int

const (
	DescriptionZone DescriptionType = iota
	DescriptionArea
	DescriptionUser
	DescriptionKeypad
	DescriptionOutput
	DescriptionTask
	DescriptionTelephone
	DescriptionLight
)

func (d DescriptionType) String() string {
	if s, ok := DescriptionTypeDescriptions[d]; ok {
		return s
	}
	return fmt.Sprintf("Unknown DescriptionType(%d)", int(d))
}
