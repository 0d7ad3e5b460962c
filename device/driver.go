package device

import (
	"context"
	"fmt"

	"github.com/mklimuk/sensorhub"
	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/decode"
	"github.com/mklimuk/sensorhub/register"
	"github.com/mklimuk/sensorhub/snsctx"
)

// Driver talks to one sensor through a shared bus handle. It keeps no state
// besides the handle and the descriptor, so the expected sequence
// Identify, Configure, Sample is not enforced.
type Driver struct {
	bus  *bus.Handle
	desc Descriptor
}

func New(h *bus.Handle, desc Descriptor) *Driver {
	return &Driver{bus: h, desc: desc}
}

func (d *Driver) Name() string {
	return d.desc.Name
}

func (d *Driver) Descriptor() Descriptor {
	return d.desc
}

// Identify reads the identity register once and reports whether it holds the
// expected value. Bus failures are returned as errors, never as false.
func (d *Driver) Identify(ctx context.Context) (bool, error) {
	buf := make([]byte, 1)
	err := d.bus.Do(ctx, func(c *bus.Conn) error {
		return c.WriteRead(ctx, d.desc.Address, []byte{byte(d.desc.IdentityRegister)}, buf)
	})
	if err != nil {
		return false, fmt.Errorf("%s: could not read identity register: %w", d.desc.Name, err)
	}
	snsctx.Logger(ctx).DebugContext(ctx, "identity read", "device", d.desc.Name,
		"got", fmt.Sprintf("%#02x", buf[0]), "want", fmt.Sprintf("%#02x", d.desc.Identity))
	return buf[0] == d.desc.Identity, nil
}

// RequireIdentity escalates a wrong identity byte to sensorhub.ErrIdentityMismatch.
func RequireIdentity(ctx context.Context, d *Driver) error {
	ok, err := d.Identify(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s at %#02x: %w", d.desc.Name, d.desc.Address, sensorhub.ErrIdentityMismatch)
	}
	return nil
}

// Verification is the outcome of writing one control register.
type Verification struct {
	Register string `yaml:"register"`
	Previous byte   `yaml:"previous"`
	Want     byte   `yaml:"want"`
	Got      byte   `yaml:"got"`
}

func (v Verification) OK() bool {
	return v.Want == v.Got
}

// Configure writes every control register of the descriptor. Each register is
// read (for diagnostics only), overwritten with the composed byte and read
// back, all under one bus acquisition. A read-back mismatch is logged and
// otherwise ignored: it is neither retried nor returned as an error.
func (d *Driver) Configure(ctx context.Context) error {
	_, err := d.configure(ctx)
	return err
}

func (d *Driver) configure(ctx context.Context) ([]Verification, error) {
	logger := snsctx.Logger(ctx)
	out := make([]Verification, 0, len(d.desc.Controls))
	for _, ctl := range d.desc.Controls {
		want, err := ctl.Value()
		if err != nil {
			return out, fmt.Errorf("%s: could not compose %s: %w", d.desc.Name, ctl.Layout.Name, err)
		}
		v := Verification{Register: ctl.Layout.Name, Want: want}
		reg := byte(ctl.Layout.Register)
		err = d.bus.Do(ctx, func(c *bus.Conn) error {
			buf := make([]byte, 1)
			if err := c.WriteRead(ctx, d.desc.Address, []byte{reg}, buf); err != nil {
				return fmt.Errorf("could not read %s: %w", ctl.Layout.Name, err)
			}
			v.Previous = buf[0]
			if err := c.Write(ctx, d.desc.Address, []byte{reg, want}); err != nil {
				return fmt.Errorf("could not write %s: %w", ctl.Layout.Name, err)
			}
			if err := c.WriteRead(ctx, d.desc.Address, []byte{reg}, buf); err != nil {
				return fmt.Errorf("could not read back %s: %w", ctl.Layout.Name, err)
			}
			v.Got = buf[0]
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("%s: %w", d.desc.Name, err)
		}
		logger.DebugContext(ctx, "control register written", "device", d.desc.Name, "register", v.Register,
			"previous", fmt.Sprintf("%08b", v.Previous), "written", fmt.Sprintf("%08b", v.Want))
		if !v.OK() {
			logger.WarnContext(ctx, "control register verification mismatch", "device", d.desc.Name,
				"register", v.Register, "want", fmt.Sprintf("%08b", v.Want), "got", fmt.Sprintf("%08b", v.Got))
		}
		out = append(out, v)
	}
	return out, nil
}

// Verify reads every control register back without writing and compares it
// to the value Configure would write.
func (d *Driver) Verify(ctx context.Context) ([]Verification, error) {
	out := make([]Verification, 0, len(d.desc.Controls))
	for _, ctl := range d.desc.Controls {
		want, err := ctl.Value()
		if err != nil {
			return out, fmt.Errorf("%s: could not compose %s: %w", d.desc.Name, ctl.Layout.Name, err)
		}
		got, err := d.readRegister(ctx, ctl.Layout.Register)
		if err != nil {
			return out, fmt.Errorf("%s: could not read %s: %w", d.desc.Name, ctl.Layout.Name, err)
		}
		out = append(out, Verification{Register: ctl.Layout.Name, Previous: got, Want: want, Got: got})
	}
	return out, nil
}

// Sample reads every output group. Each group is its own bus acquisition, so
// transactions of other drivers may run between two groups of one sample.
func (d *Driver) Sample(ctx context.Context) (Reading, error) {
	r := Reading{Device: d.desc.Name}
	for _, g := range d.desc.Groups {
		values, err := d.SampleGroup(ctx, g)
		if err != nil {
			return Reading{}, err
		}
		r.Values = append(r.Values, values...)
	}
	snsctx.Logger(ctx).DebugContext(ctx, "sample", "reading", r.String())
	return r, nil
}

// SampleGroup reads and decodes a single output group.
func (d *Driver) SampleGroup(ctx context.Context, g Group) ([]Value, error) {
	raw := make([]byte, g.Len())
	err := d.bus.Do(ctx, func(c *bus.Conn) error {
		return c.WriteRead(ctx, d.desc.Address, []byte{byte(g.Start)}, raw)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: could not read %s: %w", d.desc.Name, g.Name, err)
	}
	values := make([]Value, 0, len(g.Channels))
	off := 0
	for _, ch := range g.Channels {
		v, err := decode.Value(raw[off:], ch.Width, ch.Scale, ch.Offset)
		if err != nil {
			return nil, fmt.Errorf("%s: could not decode %s.%s: %w", d.desc.Name, g.Name, ch.Quantity, err)
		}
		off += ch.Width.Bytes()
		values = append(values, Value{Group: g.Name, Quantity: ch.Quantity, Unit: ch.Unit, Value: v})
	}
	return values, nil
}

// ReadRegister reads one register by its logical name.
func (d *Driver) ReadRegister(ctx context.Context, name string) (byte, error) {
	reg, err := d.desc.Registers.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.desc.Name, err)
	}
	v, err := d.readRegister(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("%s: could not read %s: %w", d.desc.Name, name, err)
	}
	return v, nil
}

// Status decodes the status register into named flags.
func (d *Driver) Status(ctx context.Context) (map[string]bool, error) {
	if d.desc.Status == nil {
		return nil, fmt.Errorf("%s: no status register", d.desc.Name)
	}
	v, err := d.readRegister(ctx, d.desc.Status.Register)
	if err != nil {
		return nil, fmt.Errorf("%s: could not read status: %w", d.desc.Name, err)
	}
	flags := make(map[string]bool, len(d.desc.Status.Fields))
	for name, f := range d.desc.Status.Decode(v) {
		flags[name] = f != 0
	}
	return flags, nil
}

func (d *Driver) readRegister(ctx context.Context, reg register.Register) (byte, error) {
	buf := make([]byte, 1)
	err := d.bus.Do(ctx, func(c *bus.Conn) error {
		return c.WriteRead(ctx, d.desc.Address, []byte{byte(reg)}, buf)
	})
	return buf[0], err
}
