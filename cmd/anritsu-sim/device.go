package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DeviceConfig describes the simulated sensor.
type DeviceConfig struct {
	Model       string
	ID          string
	Revision    string
	Firmware    string
	PowerDbm    float64
	Noise       float64
	Temperature float64
	// ZeroTime is how long ZERO takes before OK is sent
	ZeroTime time.Duration
	// NoTermEvery replaces every Nth reply with NO TERM (0 disables it)
	NoTermEvery int
	// NULPadding prefixes every reply with a NUL byte, as some adapters do
	NULPadding bool
}

// Device answers the sensor protocol one line at a time.
type Device struct {
	cfg DeviceConfig
	log *slog.Logger

	mu      sync.Mutex
	rnd     *rand.Rand
	freqGHz float64
	offset  float64 // removed by ZERO
	replies int
}

func NewDevice(cfg DeviceConfig, log *slog.Logger, seed uint64) *Device {
	return &Device{
		cfg:     cfg,
		log:     log,
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		freqGHz: 0.05,
		offset:  0.3,
	}
}

// Reply returns the answer to one command line, without terminator.
func (d *Device) Reply(line string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	cmd = strings.ToUpper(cmd)

	var reply string
	switch cmd {
	case "IDN?":
		reply = strings.Join([]string{"ANRITSU", d.cfg.Model, d.cfg.ID, d.cfg.Revision, d.cfg.Firmware}, ",")
	case "TEMP?":
		reply = strconv.FormatFloat(d.cfg.Temperature+d.noise()/10, 'f', 1, 64)
	case "POW?":
		reply = strconv.FormatFloat(d.cfg.PowerDbm+d.offset+d.noise(), 'f', 2, 64)
	case "CFFREQ":
		ghz, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil || ghz <= 0 || ghz > 50 {
			reply = "ERROR"
			break
		}
		d.freqGHz = ghz
		reply = "OK"
	case "ZERO":
		if d.cfg.ZeroTime > 0 {
			d.mu.Unlock()
			time.Sleep(d.cfg.ZeroTime)
			d.mu.Lock()
		}
		d.offset = 0
		reply = "OK"
	default:
		reply = "ERROR"
	}

	d.replies++
	if d.cfg.NoTermEvery > 0 && d.replies%d.cfg.NoTermEvery == 0 {
		reply = "NO TERM"
	}
	return reply
}

// Frequency returns the last frequency set with CFFREQ.
func (d *Device) Frequency() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freqGHz
}

func (d *Device) noise() float64 {
	if d.cfg.Noise == 0 {
		return 0
	}
	return (d.rnd.Float64()*2 - 1) * d.cfg.Noise
}

// Serve answers the commands read from rw until it fails or ctx is done.
// Reaching the end of the input is not an error.
func (d *Device) Serve(ctx context.Context, rw io.ReadWriter) error {
	r := bufio.NewReader(rw)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		line = strings.Trim(line, "\r\n\x00 ")
		if line == "" {
			continue
		}

		reply := d.Reply(line)
		d.log.Debug("command", "cmd", line, "reply", reply)
		out := reply + "\n"
		if d.cfg.NULPadding {
			out = "\x00" + out
		}
		if _, err := io.WriteString(rw, out); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}
