package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDevice returns a noiseless sensor with its settings changed by opts.
func testDevice(opts ...func(*DeviceConfig)) *Device {
	cfg := DeviceConfig{
		Model:       "MA24106A",
		ID:          "SER42",
		Revision:    "A",
		Firmware:    "1.08",
		PowerDbm:    -20,
		Temperature: 25,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewDevice(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
}

func TestDevice_Reply(t *testing.T) {
	tests := []struct {
		cmd      string
		expected string
	}{
		{"IDN?", "ANRITSU,MA24106A,SER42,A,1.08"},
		{"TEMP?", "25.0"},
		{"CFFREQ 2.4", "OK"},
		{"cffreq 0.05", "OK"},
		{"CFFREQ abc", "ERROR"},
		{"CFFREQ -1", "ERROR"},
		{"CFFREQ", "ERROR"},
		{"RESET", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			assert.Equal(t, tt.expected, testDevice().Reply(tt.cmd))
		})
	}
}

func TestDevice_ZeroRemovesOffset(t *testing.T) {
	d := testDevice()
	assert.Equal(t, "-19.70", d.Reply("POW?"))
	assert.Equal(t, "OK", d.Reply("ZERO"))
	assert.Equal(t, "-20.00", d.Reply("POW?"))
}

func TestDevice_Frequency(t *testing.T) {
	d := testDevice()
	require.Equal(t, "OK", d.Reply("CFFREQ 2.4"))
	assert.Equal(t, 2.4, d.Frequency())
	require.Equal(t, "ERROR", d.Reply("CFFREQ 99"))
	assert.Equal(t, 2.4, d.Frequency())
}

func TestDevice_NoTerm(t *testing.T) {
	d := testDevice(func(c *DeviceConfig) { c.NoTermEvery = 3 })
	var got []string
	for range 6 {
		got = append(got, d.Reply("TEMP?"))
	}
	assert.Equal(t, []string{"25.0", "25.0", "NO TERM", "25.0", "25.0", "NO TERM"}, got)
}

// pipe reads commands from in and collects replies in out.
type pipe struct {
	in  io.Reader
	out bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestDevice_Serve(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		p := &pipe{in: strings.NewReader("IDN?\r\n\nTEMP?\n")}
		require.NoError(t, testDevice().Serve(context.Background(), p))
		assert.Equal(t, "ANRITSU,MA24106A,SER42,A,1.08\n25.0\n", p.out.String())
	})

	t.Run("NUL padding", func(t *testing.T) {
		p := &pipe{in: strings.NewReader("TEMP?\n")}
		require.NoError(t, testDevice(func(c *DeviceConfig) { c.NULPadding = true }).Serve(context.Background(), p))
		assert.Equal(t, "\x0025.0\n", p.out.String())
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &pipe{in: strings.NewReader("TEMP?\n")}
		require.NoError(t, testDevice().Serve(ctx, p))
		assert.Empty(t, p.out.String())
	})
}
