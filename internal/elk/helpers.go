package elk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxZones   = 208
	maxOutputs = 208
	maxAreas   = 8
	tempProbes = 16

	keypadTempOffset = 40
	zoneTempOffset   = 60
)

var (
	ErrFrame    = errors.New("malformed frame")
	ErrChecksum = errors.New("invalid checksum")
)

// EncodeFrame builds a complete frame, CRLF included, for a message type and
// its data.
func EncodeFrame(msgType, data string) string {
	body := msgType + data + "00"
	head := fmt.Sprintf("%02X", len(body)+2)
	crc := Checksum([]byte(head + body))
	return fmt.Sprintf("%s%s%02X\r\n", head, body, crc)
}

// DecodeFrame validates a frame (CRLF already stripped) and returns its
// message type and data.
func DecodeFrame(line string) (string, string, error) {
	if len(line) < 8 {
		return "", "", fmt.Errorf("%w: %q too short", ErrFrame, line)
	}

	length, err := strconv.ParseUint(line[:2], 16, 8)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad length in %q", ErrFrame, line)
	}
	if int(length) != len(line)-2 {
		return "", "", fmt.Errorf("%w: length %d does not match %q", ErrFrame, length, line)
	}

	want, err := strconv.ParseUint(line[len(line)-2:], 16, 8)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad checksum field in %q", ErrFrame, line)
	}
	if got := Checksum([]byte(line[:len(line)-2])); got != byte(want) {
		return "", "", fmt.Errorf("%w: got %02X want %02X in %q", ErrChecksum, got, want, line)
	}

	return line[2:4], line[4 : len(line)-4], nil
}

// ParseMessage turns a decoded frame into a typed event.
func ParseMessage(msgType, data string) (Event, error) {
	switch msgType {
	case "ZC":
		return parseZoneChange(data)
	case "CC":
		return parseOutputChange(data)
	case "AS":
		return parseArmingStatus(data)
	case "ZS":
		return parseZoneStatusReport(data)
	case "CS":
		return parseOutputStatusReport(data)
	case "SD":
		return parseTextDescription(data)
	case "LW":
		return parseTemperatureReport(data)
	default:
		return Generic{Type: msgType, Data: data}, nil
	}
}

func parseZoneNibble(id int, c byte) (ZoneChange, error) {
	nibble, err := strconv.ParseUint(string(c), 16, 8)
	if err != nil {
		return ZoneChange{}, fmt.Errorf("%w: zone %d status %q", ErrFrame, id, c)
	}
	return ZoneChange{
		ID:       id,
		Logical:  LogicalState((nibble >> 2) & 0x3),
		Physical: PhysicalStatus(nibble & 0x3),
	}, nil
}

func parseZoneChange(data string) (ZoneChange, error) {
	if len(data) < 4 {
		return ZoneChange{}, fmt.Errorf("%w: ZC %q", ErrFrame, data)
	}
	id, err := strconv.Atoi(data[:3])
	if err != nil {
		return ZoneChange{}, fmt.Errorf("%w: ZC zone %q", ErrFrame, data[:3])
	}
	return parseZoneNibble(id, data[3])
}

func parseOutputChange(data string) (OutputChange, error) {
	if len(data) < 4 {
		return OutputChange{}, fmt.Errorf("%w: CC %q", ErrFrame, data)
	}
	id, err := strconv.Atoi(data[:3])
	if err != nil {
		return OutputChange{}, fmt.Errorf("%w: CC output %q", ErrFrame, data[:3])
	}
	return OutputChange{ID: id, On: data[3] == '1'}, nil
}

func parseArmingStatus(data string) (ArmingStatus, error) {
	if len(data) < 3*maxAreas {
		return ArmingStatus{}, fmt.Errorf("%w: AS %q", ErrFrame, data)
	}
	status := ArmingStatus{Areas: make([]AreaStatus, maxAreas)}
	for i := 0; i < maxAreas; i++ {
		status.Areas[i] = AreaStatus{
			ArmStatus:  ArmStatus(data[i] - '0'),
			ArmUpState: ArmUpState(data[maxAreas+i] - '0'),
			AlarmState: AlarmState(data[2*maxAreas+i] - '0'),
		}
	}
	return status, nil
}

func parseZoneStatusReport(data string) (ZoneStatusReport, error) {
	if len(data) < maxZones {
		return ZoneStatusReport{}, fmt.Errorf("%w: ZS has %d zones", ErrFrame, len(data))
	}
	report := ZoneStatusReport{Zones: make([]ZoneChange, maxZones)}
	for i := 0; i < maxZones; i++ {
		zc, err := parseZoneNibble(i+1, data[i])
		if err != nil {
			return ZoneStatusReport{}, err
		}
		report.Zones[i] = zc
	}
	return report, nil
}

func parseOutputStatusReport(data string) (OutputStatusReport, error) {
	if len(data) < maxOutputs {
		return OutputStatusReport{}, fmt.Errorf("%w: CS has %d outputs", ErrFrame, len(data))
	}
	report := OutputStatusReport{Outputs: make([]bool, maxOutputs)}
	for i := 0; i < maxOutputs; i++ {
		report.Outputs[i] = data[i] == '1'
	}
	return report, nil
}

func parseTextDescription(data string) (TextDescription, error) {
	if len(data) < 5 {
		return TextDescription{}, fmt.Errorf("%w: SD %q", ErrFrame, data)
	}
	kind, err := strconv.Atoi(data[:2])
	if err != nil {
		return TextDescription{}, fmt.Errorf("%w: SD type %q", ErrFrame, data[:2])
	}
	id, err := strconv.Atoi(data[2:5])
	if err != nil {
		return TextDescription{}, fmt.Errorf("%w: SD id %q", ErrFrame, data[2:5])
	}

	// The high bit of the first character flags "show on keypad".
	text := []byte(data[5:])
	if len(text) > 0 {
		text[0] &= 0x7F
	}

	return TextDescription{
		Type:        DescriptionType(kind),
		ID:          id,
		Description: strings.TrimSpace(string(text)),
	}, nil
}

func parseTemperatureReport(data string) (TemperatureReport, error) {
	if len(data) < 2*tempProbes*3 {
		return TemperatureReport{}, fmt.Errorf("%w: LW %q", ErrFrame, data)
	}
	report := TemperatureReport{
		Keypads: make([]Reading, tempProbes),
		Zones:   make([]Reading, tempProbes),
	}
	for i := 0; i < tempProbes; i++ {
		k, err := parseReading(data[i*3:i*3+3], keypadTempOffset)
		if err != nil {
			return TemperatureReport{}, err
		}
		z, err := parseReading(data[(tempProbes+i)*3:(tempProbes+i)*3+3], zoneTempOffset)
		if err != nil {
			return TemperatureReport{}, err
		}
		report.Keypads[i] = k
		report.Zones[i] = z
	}
	return report, nil
}

func parseReading(field string, offset int) (Reading, error) {
	raw, err := strconv.Atoi(field)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: temperature %q", ErrFrame, field)
	}
	if raw == 0 {
		return Reading{}, nil
	}
	return Reading{Fahrenheit: raw - offset, Valid: true}, nil
}

// CreateArmInput builds the data part of an a0..a8 command.
func CreateArmInput(area int, code string) string {
	if len(code) < 6 {
		code = strings.Repeat("0", 6-len(code)) + code
	}
	return fmt.Sprintf("%d%s", area, code)
}

// CreateOutputOnInput builds the data part of a cn command. Zero seconds
// latches the output on.
func CreateOutputOnInput(output, seconds int) string {
	return fmt.Sprintf("%03d%05d", output, seconds)
}

// CreateIDInput builds the data part of cf and tn commands.
func CreateIDInput(id int) string {
	return fmt.Sprintf("%03d", id)
}

// CreateDescriptionInput builds the data part of an sd request.
func CreateDescriptionInput(kind DescriptionType, id int) string {
	return fmt.Sprintf("%02d%03d", int(kind), id)
}
