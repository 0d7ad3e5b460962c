package main

import (
	"context"
	"fmt"
	"strings"

	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/accel"
	"github.com/mklimuk/sensorhub/adapter"
	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/config"
	"github.com/mklimuk/sensorhub/device"
	"github.com/mklimuk/sensorhub/environment"
	"github.com/mklimuk/sensorhub/i2c"
	"github.com/mklimuk/sensorhub/magnetic"
)

// hub is the set of drivers sharing one bus handle.
type hub struct {
	cfg     config.Config
	handle  *bus.Handle
	drivers []*device.Driver
	close   func() error
}

func openTransport(ctx context.Context, cfg config.Bus) (sensorhub.I2CBus, func() error, error) {
	switch cfg.Adapter {
	case config.AdapterPeriph:
		b, err := i2c.NewGenericBus(cfg.Device, cfg.Speed.Frequency)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.AdapterMCP2221:
		m := adapter.NewMCP2221()
		if cfg.Speed.Frequency > 0 {
			if err := m.SetSpeed(ctx, cfg.Speed.Frequency); err != nil {
				return nil, nil, fmt.Errorf("adapter initialization error: %w", err)
			}
		}
		return m, func() error { return nil }, nil
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		b := i2c.NewGobotBus(npi, cfg.GobotBus)
		return b, func() error {
			err := b.Close()
			if ferr := npi.I2cBusAdaptor.Finalize(); ferr != nil && err == nil {
				err = ferr
			}
			return err
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
}

func openHub(ctx context.Context, cfg config.Config, selection string) (*hub, error) {
	transport, closer, err := openTransport(ctx, cfg.Bus)
	if err != nil {
		return nil, err
	}
	h := bus.NewHandle(transport)
	drivers, err := buildDrivers(h, cfg.Sensors, selection)
	if err != nil {
		_ = closer()
		return nil, err
	}
	return &hub{cfg: cfg, handle: h, drivers: drivers, close: closer}, nil
}

// buildDrivers creates the enabled sensors matching selection ("all" or a
// comma separated list of names).
func buildDrivers(h *bus.Handle, cfg config.Sensors, selection string) ([]*device.Driver, error) {
	want := func(name string, enabled bool) bool {
		if selection == "" || selection == "all" {
			return enabled
		}
		for _, s := range strings.Split(selection, ",") {
			if strings.EqualFold(strings.TrimSpace(s), name) {
				return true
			}
		}
		return false
	}
	var drivers []*device.Driver
	if want("lsm6dso", cfg.LSM6DSO.Enabled) {
		opts, err := inertialOptions(cfg.LSM6DSO)
		if err != nil {
			return nil, err
		}
		imu, err := accel.New(h, opts...)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, imu.Driver)
	}
	if want("lis2mdl", cfg.LIS2MDL.Enabled) {
		odr, err := magnetic.ParseODR(cfg.LIS2MDL.ODR.Frequency)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, magnetic.New(h, magnetic.WithODR(odr)).Driver)
	}
	if want("lps22hh", cfg.LPS22HH.Enabled) {
		opts, err := barometerOptions(cfg.LPS22HH)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, environment.New(h, opts...).Driver)
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("no sensor selected by %q", selection)
	}
	for _, d := range drivers {
		if err := d.Descriptor().Validate(); err != nil {
			return nil, err
		}
	}
	return drivers, nil
}

func inertialOptions(cfg config.Inertial) ([]accel.Option, error) {
	xlODR, err := accel.ParseODR(cfg.AccelODR.Frequency)
	if err != nil {
		return nil, err
	}
	gODR, err := accel.ParseODR(cfg.GyroODR.Frequency)
	if err != nil {
		return nil, err
	}
	return []accel.Option{
		accel.WithAccel(xlODR, accel.AccelRange(cfg.AccelRange)),
		accel.WithGyro(gODR, accel.GyroRange(cfg.GyroRange)),
	}, nil
}

func barometerOptions(cfg config.Barometer) ([]environment.Option, error) {
	odr, err := environment.ParseODR(cfg.ODR.Frequency)
	if err != nil {
		return nil, err
	}
	lp := environment.LowPassODR9
	switch cfg.LowPass {
	case "off":
		lp = environment.LowPassOff
	case "odr/20":
		lp = environment.LowPassODR20
	}
	return []environment.Option{environment.WithODR(odr), environment.WithLowPass(lp)}, nil
}

func (h *hub) Close() error {
	return h.close()
}
