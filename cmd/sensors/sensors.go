package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sensorhub/bus"
	"github.com/mklimuk/sensorhub/cmd/sensors/console"
	"github.com/mklimuk/sensorhub/device"
	"github.com/mklimuk/sensorhub/publish"
	"github.com/mklimuk/sensorhub/snsctx"
)

// withHub brings the bus and drivers up around a command action.
func withHub(action func(c *cli.Context, ctx context.Context, h *hub) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(console.ExitError, "configuration error: %s", console.Red(err))
		}
		ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
		h, err := openHub(ctx, cfg, c.String("sensor"))
		if err != nil {
			return console.Exit(console.ExitError, "bus initialization error: %s", console.Red(err))
		}
		defer func() {
			if err := h.Close(); err != nil {
				console.Warnf("could not close bus: %s", err)
			}
		}()
		return action(c, ctx, h)
	}
}

// do runs one driver operation under the configured retry policy.
func (h *hub) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry(ctx, h.cfg.Retry, h.cfg.Sample.Timeout, op, h.resetBus, fn)
}

// resetBus aborts a stuck bridge transfer while holding the bus.
func (h *hub) resetBus(ctx context.Context) error {
	return h.handle.Do(ctx, func(c *bus.Conn) error {
		return c.Reset(ctx)
	})
}

var identifyCmd = cli.Command{
	Name:  "identify",
	Usage: "check the identity register of every sensor",
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		failed := 0
		for _, d := range h.drivers {
			var ok bool
			err := h.do(ctx, d.Name()+" identify", func(ctx context.Context) (err error) {
				ok, err = d.Identify(ctx)
				return err
			})
			desc := d.Descriptor()
			if err != nil {
				failed++
				console.Errorf("%s at %#02x: %s", d.Name(), desc.Address, err)
				continue
			}
			if !ok {
				failed++
			}
			console.Printf("%s at %#02x: %s\n", console.White(d.Name()), desc.Address, console.State(ok, "identity mismatch", true))
		}
		if failed > 0 {
			return console.Exit(console.ExitIdentity, "%d of %d sensors not identified", failed, len(h.drivers))
		}
		return nil
	}),
}

var configureCmd = cli.Command{
	Name:  "configure",
	Usage: "write the control registers of every sensor",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		if !c.Bool("yes") {
			answer, err := console.YesOrNo(fmt.Sprintf("write control registers of %d sensors?", len(h.drivers)))
			if err != nil {
				return console.Exit(console.ExitError, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.Info("aborted")
				return nil
			}
		}
		for _, d := range h.drivers {
			err := h.do(ctx, d.Name()+" configure", func(ctx context.Context) error {
				return device.RequireIdentity(ctx, d)
			})
			if err != nil {
				return console.Exit(console.ExitError, "%s", console.Red(err))
			}
			if err := h.do(ctx, d.Name()+" configure", d.Configure); err != nil {
				return console.Exit(console.ExitError, "%s", console.Red(err))
			}
			console.Infof("%s configured", console.White(d.Name()))
		}
		return nil
	}),
}

var verifyCmd = cli.Command{
	Name:  "verify",
	Usage: "compare control registers with the configured values",
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "SENSOR\tREGISTER\tWANT\tGOT\tSTATE\n")
		mismatches := 0
		for _, d := range h.drivers {
			var vs []device.Verification
			err := h.do(ctx, d.Name()+" verify", func(ctx context.Context) (err error) {
				vs, err = d.Verify(ctx)
				return err
			})
			if err != nil {
				return console.Exit(console.ExitError, "%s", console.Red(err))
			}
			for _, v := range vs {
				if !v.OK() {
					mismatches++
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%08b\t%08b\t%s\n", d.Name(), v.Register, v.Want, v.Got, console.State(v.OK(), "mismatch", false))
			}
		}
		_ = w.Flush()
		if mismatches > 0 {
			return console.Exit(console.ExitVerify, "%d control registers differ", mismatches)
		}
		return nil
	}),
}

var sampleFlags = []cli.Flag{
	&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of rounds (0 runs until interrupted)"},
	&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Usage: "pause between rounds"},
	&cli.StringFlag{Name: "mqtt", Usage: "publish readings to this broker, e.g. tcp://localhost:1883"},
}

var sampleCmd = cli.Command{
	Name:  "sample",
	Usage: "read and print every output group",
	Flags: sampleFlags,
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		return sampleRounds(c, ctx, h)
	}),
}

var statsCmd = cli.Command{
	Name:  "stats",
	Usage: "sample and print the bus transaction counters",
	Flags: sampleFlags,
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		err := sampleRounds(c, ctx, h)
		enc := yaml.NewEncoder(os.Stdout)
		if eerr := enc.Encode(h.handle.Stats()); eerr != nil {
			return console.Exit(console.ExitError, "encoding error: %s", console.Red(eerr))
		}
		return err
	}),
}

func sampleRounds(c *cli.Context, ctx context.Context, h *hub) error {
	count := h.cfg.Sample.Count
	if c.IsSet("count") {
		count = c.Int("count")
	}
	interval := h.cfg.Sample.Interval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}
	broker := h.cfg.MQTT.Broker
	if c.IsSet("mqtt") {
		broker = c.String("mqtt")
	}
	var pub *publish.MQTT
	if broker != "" {
		var err error
		pub, err = publish.Connect(broker, h.cfg.MQTT.ClientID, publish.Options{
			Topic:    h.cfg.MQTT.Topic,
			QoS:      h.cfg.MQTT.QoS,
			Retained: h.cfg.MQTT.Retained,
		})
		if err != nil {
			return console.Exit(console.ExitError, "%s", console.Red(err))
		}
		defer pub.Close()
	}
	for round := 0; count == 0 || round < count; round++ {
		if round > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil
			}
		}
		for _, d := range h.drivers {
			var r device.Reading
			err := h.do(ctx, d.Name()+" sample", func(ctx context.Context) (err error) {
				r, err = d.Sample(ctx)
				return err
			})
			if err != nil {
				console.Errorf("%s", err)
				continue
			}
			printReading(r)
			if pub != nil {
				if err := pub.Publish(ctx, r); err != nil {
					console.Warnf("%s", err)
				}
			}
		}
	}
	return nil
}

func printReading(r device.Reading) {
	console.Printf("%s", console.Bold(r.Device))
	for _, v := range r.Values {
		console.Printf(" %s.%s=%s%s", v.Group, v.Quantity, console.White(fmt.Sprintf("%.4f", v.Value)), v.Unit)
	}
	console.Printf("\n")
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "print the data-ready and overrun flags of every sensor",
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		out := make(map[string]map[string]bool, len(h.drivers))
		for _, d := range h.drivers {
			var flags map[string]bool
			err := h.do(ctx, d.Name()+" status", func(ctx context.Context) (err error) {
				flags, err = d.Status(ctx)
				return err
			})
			if err != nil {
				return console.Exit(console.ExitError, "%s", console.Red(err))
			}
			out[d.Name()] = flags
		}
		if err := yaml.NewEncoder(os.Stdout).Encode(out); err != nil {
			return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
		}
		return nil
	}),
}

var regCmd = cli.Command{
	Name:      "reg",
	Usage:     "read one register by name",
	ArgsUsage: "<register>",
	Action: withHub(func(c *cli.Context, ctx context.Context, h *hub) error {
		if c.NArg() < 1 {
			names := map[string][]string{}
			for _, d := range h.drivers {
				names[d.Name()] = d.Descriptor().Registers.Names()
			}
			sorted := make([]string, 0, len(names))
			for n := range names {
				sorted = append(sorted, n)
			}
			sort.Strings(sorted)
			for _, n := range sorted {
				console.Printf("%s: %v\n", console.White(n), names[n])
			}
			return console.Exit(console.ExitError, "register name required")
		}
		name := c.Args().First()
		found := false
		for _, d := range h.drivers {
			if _, err := d.Descriptor().Registers.Lookup(name); err != nil {
				continue
			}
			found = true
			var v byte
			err := h.do(ctx, d.Name()+" reg", func(ctx context.Context) (err error) {
				v, err = d.ReadRegister(ctx, name)
				return err
			})
			if err != nil {
				console.Errorf("%s", err)
				continue
			}
			console.Printf("%s %s: %s (%08b)\n", console.White(d.Name()), name, console.Bold(fmt.Sprintf("%#02x", v)), v)
		}
		if !found {
			return console.Exit(console.ExitError, "unknown register %q", name)
		}
		return nil
	}),
}
