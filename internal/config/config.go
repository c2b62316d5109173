// Package config loads configs/config.yml with THERMO_-prefixed environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"thermocycler/internal/control"
	"thermocycler/internal/device"
	"thermocycler/internal/mathx"
	"thermocycler/internal/models"
	"thermocycler/internal/protocol"
	"thermocycler/internal/telemetry"

	"github.com/spf13/viper"
)

const (
	envPrefix  = "THERMO"
	configName = "config"

	ModeSerial = "serial"
	ModeSim    = "sim"

	minTick      = 10 * time.Millisecond
	maxTick      = time.Minute
	minBaud      = 1200
	maxBaud      = 115200
	maxTimeScale = 1000.0
)

type Config struct {
	Port        string      `mapstructure:"port"`
	DB          DB          `mapstructure:"db"`
	Log         Log         `mapstructure:"log"`
	Auth        Auth        `mapstructure:"auth"`
	Device      Device      `mapstructure:"device"`
	Control     Control     `mapstructure:"control"`
	Calibration Calibration `mapstructure:"calibration"`
	Commands    Commands    `mapstructure:"commands"`
}

type DB struct {
	Path string `mapstructure:"path"`
}

type Log struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"` // per-run CSV sample files; empty disables them
}

type Auth struct {
	SigningKey string        `mapstructure:"signing_key"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// Device selects the board link. Mode "sim" runs the built-in thermal model
// instead of opening Port.
type Device struct {
	Mode        string        `mapstructure:"mode"`
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	Scheme      string        `mapstructure:"scheme"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	BoardFrames bool          `mapstructure:"board_frames"`
	TimeScale   float64       `mapstructure:"time_scale"`
}

type Control struct {
	Tick       time.Duration `mapstructure:"tick"`
	OnComplete string        `mapstructure:"on_complete"`
	Average    []string      `mapstructure:"average"`
	StaleAfter time.Duration `mapstructure:"stale_after"` // 0 disables the age check
}

type Calibration struct {
	Enabled   bool    `mapstructure:"enabled"`
	Slope     float64 `mapstructure:"slope"`
	Intercept float64 `mapstructure:"intercept"`
}

type Commands struct {
	FrontOn  string `mapstructure:"front_on"`
	FrontOff string `mapstructure:"front_off"`
	BackOn   string `mapstructure:"back_on"`
	BackOff  string `mapstructure:"back_off"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db.path", "app.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("device.mode", ModeSim)
	v.SetDefault("device.port", "")
	v.SetDefault("device.baud", 9600)
	v.SetDefault("device.scheme", string(telemetry.SchemeTagged))
	v.SetDefault("device.read_timeout", time.Duration(0))
	v.SetDefault("device.settle_delay", 2*time.Second)
	v.SetDefault("device.board_frames", false)
	v.SetDefault("device.time_scale", 1.0)
	v.SetDefault("control.tick", time.Second)
	v.SetDefault("control.on_complete", string(control.HoldOnComplete))
	v.SetDefault("control.average", []string{})
	v.SetDefault("control.stale_after", 5*time.Second)
	v.SetDefault("calibration.enabled", false)
	v.SetDefault("calibration.slope", 0.7)
	v.SetDefault("calibration.intercept", 5.0)
	v.SetDefault("commands.front_on", device.LegacyFront.On)
	v.SetDefault("commands.front_off", device.LegacyFront.Off)
	v.SetDefault("commands.back_on", device.LegacyBack.On)
	v.SetDefault("commands.back_off", device.LegacyBack.Off)
}

// Load reads config.yml from dir (e.g. "configs"). A missing file is not an
// error: defaults and environment variables still apply.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName(configName)
	v.SetConfigType("yml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize validates enumerations and clamps numeric knobs into range.
func (c *Config) normalize() error {
	c.Device.Mode = strings.ToLower(strings.TrimSpace(c.Device.Mode))
	switch c.Device.Mode {
	case ModeSerial:
		if c.Device.Port == "" {
			return fmt.Errorf("config: device.port is required in %s mode", ModeSerial)
		}
	case ModeSim:
	default:
		return fmt.Errorf("config: device.mode %q: want %s or %s", c.Device.Mode, ModeSerial, ModeSim)
	}
	if _, err := telemetry.ParseScheme(c.Device.Scheme); err != nil {
		return fmt.Errorf("config: device.scheme: %w", err)
	}
	if _, err := control.ParseOnComplete(c.Control.OnComplete); err != nil {
		return fmt.Errorf("config: control.on_complete: %w", err)
	}
	if _, err := c.AverageChannels(); err != nil {
		return err
	}
	if c.Calibration.Enabled && c.Calibration.Slope == 0 {
		return errors.New("config: calibration.slope must not be zero")
	}

	c.Device.Baud = mathx.Clamp(c.Device.Baud, minBaud, maxBaud)
	c.Device.TimeScale = mathx.Clamp(c.Device.TimeScale, 1, maxTimeScale)
	c.Control.Tick = mathx.Clamp(c.Control.Tick, minTick, maxTick)
	if c.Device.ReadTimeout < 0 {
		c.Device.ReadTimeout = 0
	}
	if c.Control.StaleAfter < 0 {
		c.Control.StaleAfter = 0
	}
	return nil
}

// AverageChannels parses control.average. An empty list means each peltier
// controls on its own sensor.
func (c Config) AverageChannels() ([]models.ChannelID, error) {
	out := make([]models.ChannelID, 0, len(c.Control.Average))
	for _, name := range c.Control.Average {
		ch, err := models.ParseChannel(name)
		if err != nil {
			return nil, fmt.Errorf("config: control.average: %w", err)
		}
		out = append(out, ch)
	}
	return out, nil
}

// CommandSets returns the relay tokens for each peltier.
func (c Config) CommandSets() map[models.ChannelID]device.CommandSet {
	return map[models.ChannelID]device.CommandSet{
		models.Front: {On: c.Commands.FrontOn, Off: c.Commands.FrontOff},
		models.Back:  {On: c.Commands.BackOn, Off: c.Commands.BackOff},
	}
}

// ProtocolCalibration is the chip/peltier map applied to started programs.
func (c Config) ProtocolCalibration() protocol.Calibration {
	if !c.Calibration.Enabled {
		return protocol.Identity
	}
	return protocol.Calibration{Slope: c.Calibration.Slope, Intercept: c.Calibration.Intercept}
}

// SerialConfig maps the device section onto the serial port settings.
func (c Config) SerialConfig() device.Config {
	return device.Config{
		Device:      c.Device.Port,
		Baud:        c.Device.Baud,
		ReadTimeout: c.Device.ReadTimeout,
		SettleDelay: c.Device.SettleDelay,
	}
}
