package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/daemonp/elkm1bridge/internal/util"
)

var (
	ErrNoAreas           = errors.New("no areas defined, define at least one area")
	ErrDuplicateZone     = errors.New("duplicate zone number")
	ErrUnknownZoneType   = errors.New("unknown zone type")
	ErrUnknownTamperType = errors.New("unknown tamper type")
	ErrGarageDoor        = errors.New("invalid garage door")
)

type Config struct {
	Elk             ElkConfig           `yaml:"elk"`
	Areas           []AreaConfig        `yaml:"areas"`
	Area            int                 `yaml:"area"`
	KeypadCode      string              `yaml:"keypad_code"`
	IncludedTasks   []int               `yaml:"included_tasks"`
	IncludedOutputs []int               `yaml:"included_outputs"`
	ZoneTypes       []ZoneConfig        `yaml:"zone_types"`
	GarageDoors     []GarageDoorConfig  `yaml:"garage_doors"`
	HomeKit         HomeKitConfig       `yaml:"homekit"`
	MQTT            MQTTConfig          `yaml:"mqtt"`
	HomeAssistant   HomeAssistantConfig `yaml:"homeassistant"`
	Cache           CacheConfig         `yaml:"cache"`
	Timing          TimingConfig        `yaml:"timing"`
	Log             string              `yaml:"log"`
}

type ElkConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Secure   bool   `yaml:"secure"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AreaConfig struct {
	Area       int    `yaml:"area"`
	KeypadCode string `yaml:"keypad_code"`
}

type ZoneType string

const (
	ZoneTypeContact     ZoneType = "contact"
	ZoneTypeMotion      ZoneType = "motion"
	ZoneTypeSmoke       ZoneType = "smoke"
	ZoneTypeCO          ZoneType = "co"
	ZoneTypeCO2         ZoneType = "co2"
	ZoneTypeLeak        ZoneType = "leak"
	ZoneTypeGarageDoor  ZoneType = "garage"
	ZoneTypeTemperature ZoneType = "temperature"
)

// ZoneTypes lists every zone type the bridge knows how to expose.
var ZoneTypes = []ZoneType{
	ZoneTypeContact,
	ZoneTypeMotion,
	ZoneTypeSmoke,
	ZoneTypeCO,
	ZoneTypeCO2,
	ZoneTypeLeak,
	ZoneTypeGarageDoor,
	ZoneTypeTemperature,
}

func (z ZoneType) Valid() bool {
	return util.Contains(ZoneTypes, z)
}

type TamperType string

const (
	TamperNone           TamperType = "none"
	TamperNormallyOpen   TamperType = "no"
	TamperNormallyClosed TamperType = "nc"
)

func (t TamperType) Valid() bool {
	return t == TamperNone || t == TamperNormallyOpen || t == TamperNormallyClosed
}

type ZoneConfig struct {
	ZoneNumber int        `yaml:"zone_number"`
	ZoneType   ZoneType   `yaml:"zone_type"`
	TamperType TamperType `yaml:"tamper_type"`
}

type GarageDoorConfig struct {
	StateZone       int    `yaml:"state_zone"`
	ObstructionZone int    `yaml:"obstruction_zone"`
	OpenOutput      int    `yaml:"open_output"`
	CloseOutput     int    `yaml:"close_output"`
	Name            string `yaml:"name"`
}

// HasObstructionZone reports whether an obstruction sensor is configured.
func (g GarageDoorConfig) HasObstructionZone() bool {
	return g.ObstructionZone > 0
}

type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Pin         string `yaml:"pin"`
	Port        int    `yaml:"port"`
	StoragePath string `yaml:"storage_path"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ClientID  string `yaml:"client_id"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Keepalive int    `yaml:"keepalive"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QOS       int    `yaml:"qos"`
	Retain    bool   `yaml:"retain"`
	Prefix    string `yaml:"prefix"`
	Clean     bool   `yaml:"clean"`
}

type HomeAssistantConfig struct {
	Discovery bool   `yaml:"discovery"`
	Prefix    string `yaml:"prefix"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TimingConfig struct {
	InitialRetryDelay       time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay           time.Duration `yaml:"max_retry_delay"`
	ArmSettleDelay          time.Duration `yaml:"arm_settle_delay"`
	TaskResetDelay          time.Duration `yaml:"task_reset_delay"`
	TemperaturePollInterval time.Duration `yaml:"temperature_poll_interval"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
}

func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	envFile := filepath.Join(filepath.Dir(configFile), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", envFile, err)
	}
	cfg.applyEnv()

	return cfg, nil
}

// Parse decodes a YAML document and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	config.setDefaults()
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ELK_USERNAME"); v != "" {
		c.Elk.Username = v
	}
	if v := os.Getenv("ELK_PASSWORD"); v != "" {
		c.Elk.Password = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("HOMEKIT_PIN"); v != "" {
		c.HomeKit.Pin = v
	}
}

func (c *Config) setDefaults() {
	if c.Elk.Port == 0 {
		if c.Elk.Secure {
			c.Elk.Port = 2601
		} else {
			c.Elk.Port = 2101
		}
	}

	// Older configs carry a single area at the top level.
	if len(c.Areas) == 0 && c.Area > 0 && c.KeypadCode != "" {
		c.Areas = []AreaConfig{{Area: c.Area, KeypadCode: c.KeypadCode}}
	}

	for i := range c.ZoneTypes {
		c.ZoneTypes[i].ZoneType = normalizeZoneType(c.ZoneTypes[i].ZoneType)
		c.ZoneTypes[i].TamperType = normalizeTamperType(c.ZoneTypes[i].TamperType)
	}
	c.IncludedTasks = util.RemoveDuplicates(c.IncludedTasks)
	c.IncludedOutputs = util.RemoveDuplicates(c.IncludedOutputs)

	if c.HomeKit.Name == "" {
		c.HomeKit.Name = "Elk M1"
	}
	if c.HomeKit.Pin == "" {
		c.HomeKit.Pin = "00102003"
	}
	if c.HomeKit.StoragePath == "" {
		c.HomeKit.StoragePath = "homekit"
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "elkm1bridge"
	}
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Keepalive == 0 {
		c.MQTT.Keepalive = 60
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "elkm1"
	}
	if c.HomeAssistant.Prefix == "" {
		c.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "accessories.json"
	}
	if c.Log == "" {
		c.Log = "info"
	}

	t := &c.Timing
	if t.InitialRetryDelay == 0 {
		t.InitialRetryDelay = 5 * time.Second
	}
	if t.MaxRetryDelay == 0 {
		t.MaxRetryDelay = 30 * time.Second
	}
	if t.ArmSettleDelay == 0 {
		t.ArmSettleDelay = 2 * time.Second
	}
	if t.TaskResetDelay == 0 {
		t.TaskResetDelay = time.Second
	}
	if t.TemperaturePollInterval == 0 {
		t.TemperaturePollInterval = time.Minute
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = 10 * time.Second
	}
}

func normalizeZoneType(z ZoneType) ZoneType {
	if z == "garageDoor" {
		return ZoneTypeGarageDoor
	}
	return z
}

func normalizeTamperType(t TamperType) TamperType {
	switch t {
	case "":
		return TamperNone
	case "normallyOpen":
		return TamperNormallyOpen
	case "normallyClosed":
		return TamperNormallyClosed
	}
	return t
}

// Validate reports configuration problems. None of them stop the bridge:
// the affected feature is skipped at discovery time.
func (c *Config) Validate() []error {
	var errs []error

	if len(c.Areas) == 0 {
		errs = append(errs, ErrNoAreas)
	}

	seen := make(map[int]bool)
	for _, z := range c.ZoneTypes {
		if seen[z.ZoneNumber] {
			errs = append(errs, fmt.Errorf("%w: %d", ErrDuplicateZone, z.ZoneNumber))
		}
		seen[z.ZoneNumber] = true

		if !z.ZoneType.Valid() {
			names := make([]string, len(ZoneTypes))
			for i, t := range ZoneTypes {
				names[i] = string(t)
			}
			errs = append(errs, fmt.Errorf("%w %q for zone %d, expected %s",
				ErrUnknownZoneType, z.ZoneType, z.ZoneNumber, util.JoinWithOr(names)))
		}
		if !z.TamperType.Valid() {
			errs = append(errs, fmt.Errorf("%w %q for zone %d", ErrUnknownTamperType, z.TamperType, z.ZoneNumber))
		}
	}

	for _, g := range c.GarageDoors {
		if g.StateZone <= 0 {
			errs = append(errs, fmt.Errorf("%w %q: state zone is required", ErrGarageDoor, g.Name))
		}
	}

	return errs
}

// ZoneMap indexes the zone type table by zone number. Later duplicates win.
func (c *Config) ZoneMap() map[int]ZoneConfig {
	zones := make(map[int]ZoneConfig, len(c.ZoneTypes))
	for _, z := range c.ZoneTypes {
		if z.ZoneType.Valid() {
			zones[z.ZoneNumber] = z
		}
	}
	return zones
}

// GarageDoorMap indexes garage door definitions by their state zone.
func (c *Config) GarageDoorMap() map[int]GarageDoorConfig {
	doors := make(map[int]GarageDoorConfig, len(c.GarageDoors))
	for _, g := range c.GarageDoors {
		if g.StateZone > 0 {
			doors[g.StateZone] = g
		}
	}
	return doors
}
