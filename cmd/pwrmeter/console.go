package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/jaracil/pwrmeter"
	"github.com/jaracil/pwrmeter/attenuation"
	"github.com/jaracil/pwrmeter/preset"
)

// controller is the part of a session driven by the operator.
type controller interface {
	Connect(ctx context.Context, name string) error
	Disconnect() error
	StartMeasuring() error
	StopMeasuring() error
	SetFrequency(mhz float64) error
	SetAttenuation(db float64) error
	Zero() error
	ApplyRange(startMHz, endMHz float64) error
	SelectPreset(name string) error
	Snapshot() pwrmeter.Snapshot
}

var errQuit = errors.New("quit")

const helpText = `commands:
  connect <port>          open the sensor port
  disconnect              close the port
  ports                   list serial ports
  start | stop            start or stop measuring
  freq <MHz>              set the sensor frequency
  att <dB>                set the attenuation offset
  zero                    run a zero calibration
  range <start> <end>     attenuation from the table over a range in MHz
  preset [name]           list presets or apply one
  load-csv <file>         load the attenuation table
  load-presets <file>     load frequency presets (JSON or YAML)
  status                  show the current state
  help                    show this text
  quit                    exit
`

// console reads operator commands line by line.
type console struct {
	ctl     controller
	out     *syncWriter
	table   *attenuation.Table
	presets *preset.Store
	ports   func() ([]string, error)
}

// run executes commands from in until it is exhausted, quit is entered or
// ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := c.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			c.out.Printf("error: %v\n", err)
		}
	}
	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		c.out.Printf("%s", helpText)
		return nil
	case "connect":
		if len(args) != 1 {
			return errors.New("usage: connect <port>")
		}
		return c.ctl.Connect(ctx, args[0])
	case "disconnect":
		return c.ctl.Disconnect()
	case "ports":
		ports, err := c.ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			c.out.Printf("no serial ports found\n")
		}
		for _, p := range ports {
			c.out.Printf("%s\n", p)
		}
		return nil
	case "start":
		return c.ctl.StartMeasuring()
	case "stop":
		return c.ctl.StopMeasuring()
	case "freq":
		v, err := numbers(args, 1, "freq <MHz>")
		if err != nil {
			return err
		}
		return c.ctl.SetFrequency(v[0])
	case "att":
		v, err := numbers(args, 1, "att <dB>")
		if err != nil {
			return err
		}
		return c.ctl.SetAttenuation(v[0])
	case "zero":
		return c.ctl.Zero()
	case "range":
		v, err := numbers(args, 2, "range <start MHz> <end MHz>")
		if err != nil {
			return err
		}
		return c.ctl.ApplyRange(v[0], v[1])
	case "preset":
		if len(args) == 0 {
			return c.listPresets()
		}
		return c.ctl.SelectPreset(strings.Join(args, " "))
	case "load-csv":
		if len(args) != 1 {
			return errors.New("usage: load-csv <file>")
		}
		return c.loadTable(args[0])
	case "load-presets":
		if len(args) != 1 {
			return errors.New("usage: load-presets <file>")
		}
		return c.loadPresets(args[0])
	case "status":
		c.printStatus(c.ctl.Snapshot())
		return nil
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func numbers(args []string, n int, usage string) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	out := make([]float64, n)
	for i, a := range args {
		v, ok := pwrmeter.ParseDecimal(a)
		if !ok {
			return nil, fmt.Errorf("%q: %w", a, pwrmeter.ErrInvalidValue)
		}
		out[i] = v
	}
	return out, nil
}

func (c *console) loadTable(path string) error {
	rep, err := c.table.LoadFile(path)
	if err != nil {
		return err
	}
	c.out.Printf("Attenuation table loaded: %d entries (%d rows skipped)\n", rep.Loaded, len(rep.Skipped))
	c.out.Printf("Frequency range: %s Hz - %s Hz\n",
		strconv.FormatFloat(rep.MinHz, 'e', 2, 64), strconv.FormatFloat(rep.MaxHz, 'e', 2, 64))
	return nil
}

func (c *console) loadPresets(path string) error {
	rep, err := c.presets.LoadFile(path)
	if err != nil {
		return err
	}
	c.out.Printf("Loaded %d frequency presets\n", rep.Loaded)
	return nil
}

func (c *console) listPresets() error {
	names := c.presets.Names()
	if len(names) == 0 {
		c.out.Printf("no presets loaded\n")
		return nil
	}
	for _, name := range names {
		p, ok := c.presets.Get(name)
		if !ok {
			continue
		}
		c.out.Printf("%s: %g-%g MHz\n", p.Name, p.StartMHz, p.EndMHz)
	}
	return nil
}

func (c *console) printStatus(s pwrmeter.Snapshot) {
	port := s.Port
	if port == "" {
		port = "-"
	}
	c.out.Printf("Status: %s (%s)\n", s.Status, port)
	c.out.Printf("%s\n", s.Identity)
	c.out.Printf("%s\n", s.Temperature)
	c.out.Printf("Power: %s\n", s.Power)
	c.out.Printf("Attenuation: %.3f dB\n", s.Attenuation)
	if s.FrequencyMHz > 0 {
		c.out.Printf("Frequency: %g MHz\n", s.FrequencyMHz)
	}
	c.out.Printf("Measuring: %v  Zero: %s  Controls: %v\n", s.Measuring, s.Zero, enabled(s.Controls))
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "locked"
}

// printer renders session updates for the operator.
type printer struct {
	out   *syncWriter
	log   *slog.Logger
	watch bool
	trace bool
}

func (p *printer) update(u pwrmeter.Update) {
	switch u := u.(type) {
	case pwrmeter.StatusChanged:
		switch u.Status {
		case pwrmeter.StatusConnecting:
			p.out.Printf("Connected to %s, identifying...\n", u.Port)
		case pwrmeter.StatusIdentified:
			p.out.Printf("Sensor identified: %s\n", u.Identity)
		case pwrmeter.StatusDisconnected:
			p.out.Printf("Disconnected\n")
		}
	case pwrmeter.TemperatureChanged:
		if u.Temperature.Valid || u.Temperature.Err {
			p.out.Printf("%s\n", u.Temperature)
		}
	case pwrmeter.PowerChanged:
		if p.watch && u.Reading.Valid {
			p.out.Printf("Power: %s\n", u.Reading)
		}
	case pwrmeter.MeasuringChanged:
		if u.On {
			p.out.Printf("Measuring started\n")
		} else {
			p.out.Printf("Measuring stopped\n")
		}
	case pwrmeter.AttenuationChanged:
		p.out.Printf("Attenuation: %.3f dB\n", u.DB)
	case pwrmeter.ZeroChanged:
		if u.State == pwrmeter.ZeroPendingDelay {
			p.out.Printf("Zero calibration started, keep the sensor disconnected from the source\n")
		}
	case pwrmeter.Notice:
		p.out.Printf("%s\n", u)
	case pwrmeter.Logged:
		if p.trace {
			p.out.Printf("%s\n", u.Text)
		} else {
			p.log.Debug(u.Text)
		}
	}
}

// syncWriter serializes output from the console and the session goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}
