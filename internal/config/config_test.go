package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
elk:
  address: 192.168.1.50
  secure: true
  username: bridge
areas:
  - area: 1
    keypad_code: "1234"
included_tasks: [3, 3, 4]
included_outputs: [7]
zone_types:
  - zone_number: 5
    zone_type: contact
  - zone_number: 6
    zone_type: motion
    tamper_type: normallyClosed
  - zone_number: 9
    zone_type: garageDoor
garage_doors:
  - state_zone: 9
    obstruction_zone: 10
    open_output: 11
    close_output: 12
    name: Garage
timing:
  arm_settle_delay: 3s
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 2601, cfg.Elk.Port, "secure connections default to the M1XEP TLS port")
	assert.Equal(t, []int{3, 4}, cfg.IncludedTasks)
	assert.Equal(t, ZoneTypeGarageDoor, cfg.ZoneTypes[2].ZoneType)
	assert.Equal(t, TamperNormallyClosed, cfg.ZoneTypes[1].TamperType)
	assert.Equal(t, TamperNone, cfg.ZoneTypes[0].TamperType)

	assert.Equal(t, 3*time.Second, cfg.Timing.ArmSettleDelay)
	assert.Equal(t, 5*time.Second, cfg.Timing.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Timing.MaxRetryDelay)
	assert.Equal(t, time.Minute, cfg.Timing.TemperaturePollInterval)
	assert.Equal(t, "elkm1", cfg.MQTT.Prefix)
	assert.Equal(t, "info", cfg.Log)

	assert.Empty(t, cfg.Validate())
}

func TestPlainPortDefault(t *testing.T) {
	cfg, err := Parse([]byte("elk: {address: panel}\n"))
	require.NoError(t, err)
	assert.Equal(t, 2101, cfg.Elk.Port)
}

func TestLegacySingleArea(t *testing.T) {
	cfg, err := Parse([]byte("area: 2\nkeypad_code: \"9999\"\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Areas, 1)
	assert.Equal(t, AreaConfig{Area: 2, KeypadCode: "9999"}, cfg.Areas[0])
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(`
zone_types:
  - {zone_number: 1, zone_type: contact}
  - {zone_number: 1, zone_type: contact}
  - {zone_number: 2, zone_type: doorbell}
  - {zone_number: 3, zone_type: smoke, tamper_type: sometimes}
garage_doors:
  - {name: Broken}
`))
	require.NoError(t, err)

	errs := cfg.Validate()
	require.Len(t, errs, 5)
	assert.ErrorIs(t, errs[0], ErrNoAreas)
	assert.ErrorIs(t, errs[1], ErrDuplicateZone)
	assert.ErrorIs(t, errs[2], ErrUnknownZoneType)
	assert.Contains(t, errs[2].Error(), "leak, garage or temperature")
	assert.ErrorIs(t, errs[3], ErrUnknownTamperType)
	assert.ErrorIs(t, errs[4], ErrGarageDoor)

	zones := cfg.ZoneMap()
	assert.Contains(t, zones, 1)
	assert.NotContains(t, zones, 2)
	assert.Empty(t, cfg.GarageDoorMap())
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("areas: [unterminated"))
	require.Error(t, err)
}

func TestLoadConfigWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ELK_PASSWORD=s3cret\n"), 0o600))
	t.Setenv("ELK_PASSWORD", "")
	os.Unsetenv("ELK_PASSWORD")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Elk.Password)
	assert.Equal(t, "bridge", cfg.Elk.Username)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}
