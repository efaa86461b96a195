package main

import (
	"encoding/json"
	"testing"

	"github.com/jaracil/pwrmeter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesFor(t *testing.T) {
	tests := []struct {
		name     string
		update   pwrmeter.Update
		topic    string
		retained bool
		payload  string
	}{
		{
			name: "Power",
			update: pwrmeter.PowerChanged{Reading: pwrmeter.PowerReading{
				Valid: true, Dbm: 0, Watts: 0.001, DbmText: "0.00 dBm", WattText: "1.000 mW",
			}},
			topic:   "lab/power",
			payload: `{"dbm":0,"watts":0.001,"text":"0.00 dBm (1.000 mW)"}`,
		},
		{
			name:    "Temperature",
			update:  pwrmeter.TemperatureChanged{Temperature: pwrmeter.Temperature{Celsius: 24.5, Valid: true}},
			topic:   "lab/temperature",
			payload: `{"celsius":24.5}`,
		},
		{
			name:    "Temperature error",
			update:  pwrmeter.TemperatureChanged{Temperature: pwrmeter.Temperature{Err: true}},
			topic:   "lab/temperature",
			payload: `{"celsius":0,"error":true}`,
		},
		{
			name: "Status",
			update: pwrmeter.StatusChanged{
				Status:   pwrmeter.StatusIdentified,
				Port:     "/dev/ttyUSB0",
				Identity: pwrmeter.Identity{ID: "SER42", Firmware: "FW1"},
			},
			topic:    "lab/status",
			retained: true,
			payload:  `{"status":"Identified","port":"/dev/ttyUSB0","id":"SER42","firmware":"FW1"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := messagesFor("lab", tt.update)
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.topic, msgs[0].topic)
			assert.Equal(t, tt.retained, msgs[0].retained)
			b, err := json.Marshal(msgs[0].payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.payload, string(b))
		})
	}
}

func TestMessagesFor_Ignored(t *testing.T) {
	assert.Empty(t, messagesFor("lab", pwrmeter.PowerChanged{}))
	assert.Empty(t, messagesFor("lab", pwrmeter.TemperatureChanged{}))
	assert.Empty(t, messagesFor("lab", pwrmeter.Logged{Text: "CMD: POW?"}))
	assert.Empty(t, messagesFor("lab", pwrmeter.CommandSent{Cmd: pwrmeter.PowerCommand()}))
}
