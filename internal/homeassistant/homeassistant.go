// Package homeassistant publishes MQTT discovery documents so Home Assistant
// picks up the mirrored accessories without configuration.
package homeassistant

import (
	"fmt"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/config"
	"github.com/daemonp/elkm1bridge/internal/log"
	"github.com/daemonp/elkm1bridge/internal/mqtt"
	"github.com/daemonp/elkm1bridge/internal/util"
)

// Index into these with the characteristic value.
const (
	armStateTemplate  = "{{ ['armed_home', 'armed_away', 'armed_night', 'disarmed', 'triggered'][value | int] }}"
	doorStateTemplate = "{{ ['open', 'closed', 'opening', 'closing'][value | int] }}"
)

type HomeAssistant struct {
	config *config.HomeAssistantConfig
	mqtt   mqtt.Client
	log    *log.Logger
}

func New(cfg *config.HomeAssistantConfig, mqttClient mqtt.Client, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: cfg,
		mqtt:   mqttClient,
		log:    logger,
	}
}

// Announce implements mqtt.Discovery.
func (ha *HomeAssistant) Announce(accs []accessory.Accessory) {
	ha.log.Debug("Publishing Home Assistant discovery for %d accessories", len(accs))
	for _, acc := range accs {
		ha.announce(acc)
	}
}

func (ha *HomeAssistant) announce(acc accessory.Accessory) {
	topics := ha.mqtt.Topics()
	id := acc.Identity()

	switch acc.Kind() {
	case accessory.KindSecuritySystem:
		ha.publishConfig("alarm_control_panel", acc, "", map[string]interface{}{
			"state_topic":        topics.State(id, accessory.SecuritySystemCurrentState),
			"command_topic":      topics.Command(id, accessory.SecuritySystemTargetState),
			"value_template":     armStateTemplate,
			"payload_disarm":     "disarm",
			"payload_arm_home":   "stay",
			"payload_arm_away":   "away",
			"payload_arm_night":  "night",
			"code_arm_required":  false,
			"supported_features": []string{"arm_home", "arm_away", "arm_night"},
		})

	case accessory.KindGarageDoorOpener:
		ha.publishConfig("cover", acc, "", map[string]interface{}{
			"device_class":   "garage",
			"state_topic":    topics.State(id, accessory.CurrentDoorState),
			"command_topic":  topics.Command(id, accessory.TargetDoorState),
			"value_template": doorStateTemplate,
			"payload_open":   "open",
			"payload_close":  "close",
			"payload_stop":   nil,
		})
		ha.publishConfig("binary_sensor", acc, "obstruction", map[string]interface{}{
			"name":         "Obstruction",
			"device_class": "problem",
			"state_topic":  topics.State(id, accessory.ObstructionDetected),
			"payload_on":   "true",
			"payload_off":  "false",
		})

	case accessory.KindSwitch:
		ha.publishConfig("switch", acc, "", map[string]interface{}{
			"state_topic":   topics.State(id, accessory.On),
			"command_topic": topics.Command(id, accessory.On),
			"payload_on":    "true",
			"payload_off":   "false",
		})

	case accessory.KindTemperatureSensor:
		ha.publishConfig("sensor", acc, "", map[string]interface{}{
			"device_class":        "temperature",
			"state_class":         "measurement",
			"unit_of_measurement": "°C",
			"state_topic":         topics.State(id, accessory.CurrentTemperature),
		})

	default:
		c := primary(acc.Kind())
		if c == "" {
			ha.log.Warn("No Home Assistant component for %s (%s)", id, acc.Kind())
			return
		}
		ha.publishConfig("binary_sensor", acc, "", map[string]interface{}{
			"device_class": deviceClass(acc.Kind()),
			"state_topic":  topics.State(id, c),
			"payload_on":   "true",
			"payload_off":  "false",
		})
		ha.publishConfig("binary_sensor", acc, "tamper", map[string]interface{}{
			"name":            "Tamper",
			"device_class":    "tamper",
			"entity_category": "diagnostic",
			"state_topic":     topics.State(id, accessory.StatusTampered),
			"payload_on":      "true",
			"payload_off":     "false",
		})
	}
}

// publishConfig fills in the fields every entity shares. suffix separates
// several entities of one accessory.
func (ha *HomeAssistant) publishConfig(component string, acc accessory.Accessory, suffix string, config map[string]interface{}) {
	objectID := util.Slugify(acc.Identity())
	if suffix != "" {
		objectID += "_" + suffix
	}
	info := acc.Info()

	if _, ok := config["name"]; !ok {
		// Entity takes the device name.
		config["name"] = nil
	}
	config["unique_id"] = fmt.Sprintf("%s_%s", ha.mqtt.Prefix(), objectID)
	config["availability_topic"] = ha.mqtt.Topics().Status()
	config["device"] = map[string]interface{}{
		"identifiers":   []string{fmt.Sprintf("%s_%s", ha.mqtt.Prefix(), util.Slugify(acc.Identity()))},
		"name":          acc.Name(),
		"manufacturer":  info.Manufacturer,
		"model":         info.Model,
		"serial_number": info.SerialNumber,
	}

	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.Prefix, component, ha.mqtt.Prefix(), objectID)
	ha.mqtt.Publish(topic, config, true)
}
