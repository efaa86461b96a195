package main

import (
	"math"
	"testing"

	"github.com/jaracil/pwrmeter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	return values
}

func TestRegisterMetrics(t *testing.T) {
	snap := pwrmeter.Snapshot{
		Status:       pwrmeter.StatusIdentified,
		Measuring:    true,
		Attenuation:  2.5,
		FrequencyMHz: 2400,
		Power:        pwrmeter.PowerReading{Valid: true, Dbm: -12.25},
		Metrics: pwrmeter.Metrics{
			CommandsSent: 12,
			Retries:      2,
			Replies:      10,
			PollsDropped: 1,
			TxBytes:      60,
			RxBytes:      80,
			QueueLen:     3,
			InFlight:     true,
		},
	}

	reg := prometheus.NewRegistry()
	require.NoError(t, registerMetrics(reg, func() pwrmeter.Snapshot { return snap }))

	values := gatherValues(t, reg)
	assert.Equal(t, 12.0, values["pwrmeter_commands_sent_total"])
	assert.Equal(t, 2.0, values["pwrmeter_retries_total"])
	assert.Equal(t, 1.0, values["pwrmeter_polls_dropped_total"])
	assert.Equal(t, 80.0, values["pwrmeter_rx_bytes_total"])
	assert.Equal(t, 2.0, values["pwrmeter_status"])
	assert.Equal(t, 3.0, values["pwrmeter_queue_length"])
	assert.Equal(t, 1.0, values["pwrmeter_in_flight"])
	assert.Equal(t, 1.0, values["pwrmeter_measuring"])
	assert.Equal(t, -12.25, values["pwrmeter_power_dbm"])
	assert.Equal(t, 2.5, values["pwrmeter_attenuation_db"])
	assert.Equal(t, 2400.0, values["pwrmeter_frequency_mhz"])
	assert.True(t, math.IsNaN(values["pwrmeter_temperature_celsius"]))

	// Values follow the snapshot at scrape time.
	snap.Metrics.CommandsSent = 13
	snap.Power = pwrmeter.PowerReading{}
	values = gatherValues(t, reg)
	assert.Equal(t, 13.0, values["pwrmeter_commands_sent_total"])
	assert.True(t, math.IsNaN(values["pwrmeter_power_dbm"]))

	// A second registration conflicts.
	assert.Error(t, registerMetrics(reg, func() pwrmeter.Snapshot { return snap }))
}
