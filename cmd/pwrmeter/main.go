// Command pwrmeter drives an Anritsu power sensor on a serial port from a
// terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaracil/pwrmeter"
	"github.com/jaracil/pwrmeter/attenuation"
	"github.com/jaracil/pwrmeter/preset"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if isHelp(err) {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := newLogger(os.Stderr, opts.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts, log); err != nil {
		log.Error("pwrmeter", "err", err)
		os.Exit(1)
	}
}

func run(opts *Options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &syncWriter{w: os.Stdout}
	table := attenuation.NewTable(log)
	presets := preset.NewStore(log)
	loadFiles(opts, table, presets, log)

	cfg, err := opts.engineConfig()
	if err != nil {
		return err
	}
	cfg.Logger = log
	cfg.Open = serialOpener(opts.Baud)
	cfg.Attenuation = table
	cfg.Presets = presets

	pr := &printer{out: out, log: log, watch: opts.Watch, trace: opts.Trace}
	var pub *publisher
	if opts.MQTT.Broker != "" {
		pub = newPublisher(opts.MQTT, log)
		defer pub.close()
	}
	cfg.OnUpdate = func(_ *pwrmeter.Session, u pwrmeter.Update) {
		pr.update(u)
		if pub != nil {
			pub.update(u)
		}
	}
	cfg.StatusTransition = func(s *pwrmeter.Session, _, next pwrmeter.DeviceStatus) {
		if next != pwrmeter.StatusIdentified {
			return
		}
		// Hooks run on the session goroutine, actions must be posted from another one.
		go applyStartup(s, opts, log)
	}

	sess, err := pwrmeter.NewSession(ctx, &cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if opts.Attenuation != 0 {
		if err := sess.SetAttenuation(opts.Attenuation); err != nil {
			return err
		}
	}

	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := registerMetrics(reg, sess.Snapshot); err != nil {
			return err
		}
		go serveMetrics(ctx, opts.MetricsAddr, reg, log)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info("reloading attenuation table and presets")
				loadFiles(opts, table, presets, log)
			}
		}
	}()

	if opts.Port != "" {
		if err := sess.Connect(ctx, opts.Port); err != nil {
			return err
		}
	}

	con := &console{
		ctl:     sess,
		out:     out,
		table:   table,
		presets: presets,
		ports:   listPorts,
	}
	done := make(chan error, 1)
	go func() {
		done <- con.run(ctx, os.Stdin)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	case <-sess.Done():
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("session stopped")
	}
}

// loadFiles loads the configured attenuation table and presets. Failures are
// logged, the previous contents stay in place.
func loadFiles(opts *Options, table *attenuation.Table, presets *preset.Store, log *slog.Logger) {
	if opts.AttenuationCSV != "" {
		if _, err := table.LoadFile(opts.AttenuationCSV); err != nil {
			log.Warn("attenuation table not loaded", "err", err)
		}
	}
	if opts.Presets != "" {
		if _, err := presets.LoadFile(opts.Presets); err != nil {
			log.Warn("presets not loaded", "err", err)
		}
	}
}

func applyStartup(s *pwrmeter.Session, opts *Options, log *slog.Logger) {
	if opts.Frequency > 0 {
		if err := s.SetFrequency(opts.Frequency); err != nil {
			log.Warn("startup frequency", "err", err)
		}
	}
	if opts.Measure {
		if err := s.StartMeasuring(); err != nil {
			log.Warn("startup measuring", "err", err)
		}
	}
}
