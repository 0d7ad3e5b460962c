// Package config loads the YAML configuration of the sensors CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
)

const (
	AdapterPeriph  = "periph"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
)

var ErrInvalid = errors.New("invalid configuration")

// Frequency is a physic.Frequency that reads from YAML strings like "100kHz".
type Frequency struct {
	physic.Frequency
}

func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if err := f.Set(s); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (f Frequency) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

func Hz(f physic.Frequency) Frequency {
	return Frequency{Frequency: f}
}

type Bus struct {
	Adapter string    `yaml:"adapter"`
	Device  string    `yaml:"device"`
	Speed   Frequency `yaml:"speed"`
	// GobotBus is the bus number used with the nanopi adapter.
	GobotBus int `yaml:"gobot_bus"`
}

type Magnetometer struct {
	Enabled bool      `yaml:"enabled"`
	ODR     Frequency `yaml:"odr"`
}

type Barometer struct {
	Enabled bool      `yaml:"enabled"`
	ODR     Frequency `yaml:"odr"`
	// LowPass is one of "off", "odr/9", "odr/20".
	LowPass string `yaml:"low_pass"`
}

type Inertial struct {
	Enabled    bool      `yaml:"enabled"`
	AccelODR   Frequency `yaml:"accel_odr"`
	AccelRange int       `yaml:"accel_range"`
	GyroODR    Frequency `yaml:"gyro_odr"`
	GyroRange  int       `yaml:"gyro_range"`
}

type Sensors struct {
	LIS2MDL Magnetometer `yaml:"lis2mdl"`
	LPS22HH Barometer    `yaml:"lps22hh"`
	LSM6DSO Inertial     `yaml:"lsm6dso"`
}

type Sample struct {
	Count    int           `yaml:"count"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Retry is the caller-side policy applied to transient transport errors.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

type Config struct {
	Bus     Bus     `yaml:"bus"`
	Sensors Sensors `yaml:"sensors"`
	Sample  Sample  `yaml:"sample"`
	Retry   Retry   `yaml:"retry"`
	MQTT    MQTT    `yaml:"mqtt"`
}

func Default() Config {
	return Config{
		Bus: Bus{
			Adapter:  AdapterPeriph,
			Device:   "/dev/i2c-1",
			Speed:    Hz(100 * physic.KiloHertz),
			GobotBus: 2,
		},
		Sensors: Sensors{
			LIS2MDL: Magnetometer{Enabled: true, ODR: Hz(100 * physic.Hertz)},
			LPS22HH: Barometer{Enabled: true, ODR: Hz(50 * physic.Hertz), LowPass: "odr/9"},
			LSM6DSO: Inertial{
				Enabled:    true,
				AccelODR:   Hz(104 * physic.Hertz),
				AccelRange: 2,
				GyroODR:    Hz(104 * physic.Hertz),
				GyroRange:  250,
			},
		},
		Sample: Sample{Count: 1, Interval: time.Second, Timeout: 2 * time.Second},
		Retry:  Retry{Attempts: 3, Backoff: 100 * time.Millisecond},
		MQTT:   MQTT{ClientID: "sensorhub", Topic: "sensorhub", QoS: 0},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("could not open config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("could not decode config file %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Bus.Adapter {
	case AdapterPeriph, AdapterMCP2221, AdapterNanoPi:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalid, c.Bus.Adapter)
	}
	if c.Bus.Speed.Frequency < 0 {
		return fmt.Errorf("%w: negative bus speed", ErrInvalid)
	}
	switch c.Sensors.LPS22HH.LowPass {
	case "", "off", "odr/9", "odr/20":
	default:
		return fmt.Errorf("%w: unknown lps22hh low pass %q", ErrInvalid, c.Sensors.LPS22HH.LowPass)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1", ErrInvalid)
	}
	if c.Retry.Backoff < 0 || c.Sample.Interval < 0 || c.Sample.Timeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos %d", ErrInvalid, c.MQTT.QoS)
	}
	return nil
}
