package pwrmeter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatWatts(t *testing.T) {
	tests := []struct {
		name     string
		watts    float64
		expected string
	}{
		{"Kilowatts", 1500, "1.50 kW"},
		{"Watts", 2.5, "2.50 W"},
		{"Milliwatts", 0.001, "1.000 mW"},
		{"Microwatts", 2.5e-6, "2.500 µW"},
		{"Nanowatts", 1e-9, "1.000 nW"},
		{"Picowatts", 3.2e-12, "3.200 pW"},
		{"Femtowatts", 4e-15, "4.000 fW"},
		{"Scientific", 1e-18, "1.000e-18 W"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatWatts(tt.watts))
		})
	}
}

func TestPowerModel_Reading(t *testing.T) {
	t.Run("Zero dBm", func(t *testing.T) {
		var p PowerModel
		p.SetMeasured(0)
		r := p.Reading(false)
		assert.True(t, r.Valid)
		assert.Equal(t, 0.0, r.Dbm)
		assert.InDelta(t, 0.001, r.Watts, 1e-15)
		assert.Equal(t, "0.00 dBm", r.DbmText)
		assert.Equal(t, "1.000 mW", r.WattText)
	})

	t.Run("Attenuation added", func(t *testing.T) {
		var p PowerModel
		p.SetMeasured(-12.5)
		p.SetAttenuation(2.5)
		r := p.Reading(true)
		assert.Equal(t, -10.0, p.FinalDbm())
		assert.Equal(t, "-10.00 dBm", r.DbmText)
		assert.Equal(t, "100.000 µW", r.WattText)
	})

	t.Run("Placeholder without data", func(t *testing.T) {
		var p PowerModel
		r := p.Reading(false)
		assert.False(t, r.Valid)
		assert.Equal(t, "- dBm", r.DbmText)
		assert.Equal(t, "- W", r.WattText)
	})

	t.Run("Measuring without data", func(t *testing.T) {
		var p PowerModel
		r := p.Reading(true)
		assert.True(t, r.Valid)
		assert.Equal(t, "0.00 dBm", r.DbmText)
	})

	t.Run("Reset keeps attenuation", func(t *testing.T) {
		var p PowerModel
		p.SetMeasured(10)
		p.SetAttenuation(3)
		p.Reset()
		_, ok := p.Measured()
		assert.False(t, ok)
		assert.Equal(t, 3.0, p.Attenuation())
		assert.False(t, p.Reading(false).Valid)
	})
}
