package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/jaracil/pwrmeter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pwrmeter"

// registerMetrics exports the session snapshot. Values are read at scrape
// time, so nothing is pushed from the session goroutine.
func registerMetrics(reg prometheus.Registerer, snapshot func() pwrmeter.Snapshot) error {
	counter := func(name, help string, value func(pwrmeter.Metrics) int) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(snapshot().Metrics))
		})
	}
	gauge := func(name, help string, value func(pwrmeter.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return value(snapshot())
		})
	}

	collectors := []prometheus.Collector{
		counter("commands_sent_total", "Commands written to the sensor, retries included.",
			func(m pwrmeter.Metrics) int { return m.CommandsSent }),
		counter("retries_total", "Commands queued again after NO TERM or a failed acknowledgement.",
			func(m pwrmeter.Metrics) int { return m.Retries }),
		counter("replies_total", "Reply lines matched against a command.",
			func(m pwrmeter.Metrics) int { return m.Replies }),
		counter("empty_lines_total", "Empty lines received.",
			func(m pwrmeter.Metrics) int { return m.EmptyLines }),
		counter("unsolicited_lines_total", "Lines received with no command in flight.",
			func(m pwrmeter.Metrics) int { return m.Unsolicited }),
		counter("polls_dropped_total", "Power polls dropped because the queue was backed up.",
			func(m pwrmeter.Metrics) int { return m.PollsDropped }),
		counter("tx_bytes_total", "Bytes written to the sensor.",
			func(m pwrmeter.Metrics) int { return m.TxBytes }),
		counter("rx_bytes_total", "Bytes received from the sensor.",
			func(m pwrmeter.Metrics) int { return m.RxBytes }),
		counter("transport_errors_total", "Serial read and write errors.",
			func(m pwrmeter.Metrics) int { return m.TransportErrors }),

		gauge("status", "Device status: 0 disconnected, 1 connecting, 2 identified.",
			func(s pwrmeter.Snapshot) float64 { return float64(s.Status) }),
		gauge("queue_length", "Commands waiting to be sent.",
			func(s pwrmeter.Snapshot) float64 { return float64(s.Metrics.QueueLen) }),
		gauge("in_flight", "1 while a command awaits its reply.",
			func(s pwrmeter.Snapshot) float64 { return boolFloat(s.Metrics.InFlight) }),
		gauge("measuring", "1 while power polling is on.",
			func(s pwrmeter.Snapshot) float64 { return boolFloat(s.Measuring) }),
		gauge("power_dbm", "Last power reading with the attenuation applied, NaN when there is none.",
			func(s pwrmeter.Snapshot) float64 {
				if !s.Power.Valid {
					return math.NaN()
				}
				return s.Power.Dbm
			}),
		gauge("temperature_celsius", "Last sensor temperature, NaN when unknown.",
			func(s pwrmeter.Snapshot) float64 {
				if !s.Temperature.Valid {
					return math.NaN()
				}
				return s.Temperature.Celsius
			}),
		gauge("attenuation_db", "Attenuation offset added to readings.",
			func(s pwrmeter.Snapshot) float64 { return s.Attenuation }),
		gauge("frequency_mhz", "Last requested sensor frequency.",
			func(s pwrmeter.Snapshot) float64 { return s.FrequencyMHz }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics endpoint", "err", err)
	}
}
