package pwrmeter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Bytes(t *testing.T) {
	tests := []struct {
		name     string
		cmd      Command
		expected string
	}{
		{"Identify", IdentifyCommand(), "IDN?\n"},
		{"Temperature", TemperatureCommand(), "TEMP?\n"},
		{"Power", PowerCommand(), "POW?\n"},
		{"Zero", ZeroCommand(), "ZERO\n"},
		{"Frequency 2400 MHz", SetFrequencyCommand(2400), "CFFREQ 2.4\n"},
		{"Frequency 1500 MHz", SetFrequencyCommand(1500), "CFFREQ 1.5\n"},
		{"Frequency 50 MHz", SetFrequencyCommand(50), "CFFREQ 0.05\n"},
		{"Frequency rounded to 6 digits", SetFrequencyCommand(1234.5678), "CFFREQ 1.23457\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.cmd.Bytes()))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Identify", KindIdentify.String())
	assert.Equal(t, "SetFrequency", KindSetFrequency.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}

func TestCommandQueue(t *testing.T) {
	var q commandQueue

	_, ok := q.pop()
	require.False(t, ok)

	q.push(IdentifyCommand())
	q.push(PowerCommand())
	q.push(SetFrequencyCommand(2400))
	q.push(PowerCommand())
	require.Equal(t, 4, q.len())
	assert.Equal(t, "[IDN? POW? CFFREQ 2.4 POW?]", q.String())

	c, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, IdentifyCommand(), c)

	assert.True(t, q.has(KindPower))
	assert.Equal(t, 2, q.removeKind(KindPower))
	assert.Equal(t, 1, q.len())
	assert.False(t, q.has(KindPower))
	assert.True(t, q.has(KindSetFrequency))

	c, ok = q.pop()
	require.True(t, ok)
	assert.Equal(t, SetFrequencyCommand(2400), c)

	q.push(ZeroCommand())
	q.clear()
	assert.Zero(t, q.len())
}
