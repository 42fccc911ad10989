package mqtt

import (
	"fmt"
	"strings"

	"github.com/daemonp/elkm1bridge/internal/accessory"
	"github.com/daemonp/elkm1bridge/internal/util"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

// Config carries the accessory information of one accessory.
func (t *Topics) Config(identity string) string {
	return fmt.Sprintf("%s/%s/config", t.prefix, util.Slugify(identity))
}

func (t *Topics) State(identity string, c accessory.Characteristic) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix, util.Slugify(identity), c)
}

func (t *Topics) Command(identity string, c accessory.Characteristic) string {
	return fmt.Sprintf("%s/%s/set/%s", t.prefix, util.Slugify(identity), c)
}

// Commands is the subscription filter matching every command topic.
func (t *Topics) Commands() string {
	return fmt.Sprintf("%s/+/set/+", t.prefix)
}

// ParseCommand splits a command topic into the accessory slug and the
// characteristic it targets.
func (t *Topics) ParseCommand(topic string) (slug string, c accessory.Characteristic, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], accessory.Characteristic(parts[2]), true
}
