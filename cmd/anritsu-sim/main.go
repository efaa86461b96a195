// Command anritsu-sim emulates an Anritsu power sensor on a pseudo-terminal,
// for running pwrmeter without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/phsym/console-slog"
)

// port is the simulator end of a pseudo-terminal.
type port interface {
	io.ReadWriteCloser
	Name() string
}

type Options struct {
	Model       string        `long:"model" default:"MA24106A" description:"Model reported by IDN?"`
	ID          string        `long:"id" default:"1234567" description:"Serial number reported by IDN?"`
	Revision    string        `long:"revision" default:"A" description:"Revision reported by IDN?"`
	Firmware    string        `long:"firmware" default:"1.08" description:"Firmware reported by IDN?"`
	Power       float64       `long:"power" default:"-20" description:"Input power in dBm"`
	Noise       float64       `long:"noise" default:"0.05" description:"Peak reading noise in dB"`
	Temperature float64       `long:"temperature" default:"25" description:"Sensor temperature in °C"`
	ZeroTime    time.Duration `long:"zero-time" default:"2s" description:"Duration of a zero calibration"`
	NoTermEvery int           `long:"no-term-every" default:"0" description:"Answer NO TERM every N replies (0 disables it)"`
	NUL         bool          `long:"nul" description:"Prefix replies with a NUL byte"`
	Link        string        `short:"l" long:"link" description:"Create a symlink with this name to the port"`
	Debug       bool          `short:"d" long:"debug" description:"Log every command"`
}

func main() {
	var opts Options
	p := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	p.Name = "anritsu-sim"
	if _, err := p.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level}))

	if err := run(opts, log); err != nil {
		log.Error("anritsu-sim", "err", err)
		os.Exit(1)
	}
}

func run(opts Options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tty, err := openPort()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	defer tty.Close()

	name := tty.Name()
	if opts.Link != "" {
		_ = os.Remove(opts.Link)
		if err := os.Symlink(name, opts.Link); err != nil {
			return fmt.Errorf("link %s: %w", opts.Link, err)
		}
		defer os.Remove(opts.Link)
		name = opts.Link
	}
	log.Info("sensor ready", "port", name, "model", opts.Model, "id", opts.ID)

	dev := NewDevice(DeviceConfig{
		Model:       opts.Model,
		ID:          opts.ID,
		Revision:    opts.Revision,
		Firmware:    opts.Firmware,
		PowerDbm:    opts.Power,
		Noise:       opts.Noise,
		Temperature: opts.Temperature,
		ZeroTime:    opts.ZeroTime,
		NoTermEvery: opts.NoTermEvery,
		NULPadding:  opts.NUL,
	}, log, uint64(time.Now().UnixNano()))

	errc := make(chan error, 1)
	go func() {
		errc <- dev.Serve(ctx, tty)
	}()

	select {
	case <-ctx.Done():
		// Closing the pty ends Serve.
		return nil
	case err := <-errc:
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		return err
	}
}
