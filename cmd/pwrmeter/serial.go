package main

import (
	"context"
	"io"

	"go.bug.st/serial"
)

// serialOpener returns an opener for the sensor line settings: 8 data bits,
// no parity, one stop bit, no flow control.
func serialOpener(baud int) func(ctx context.Context, name string) (io.ReadWriteCloser, error) {
	return func(_ context.Context, name string) (io.ReadWriteCloser, error) {
		return serial.Open(name, serialMode(baud))
	}
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func listPorts() ([]string, error) {
	return serial.GetPortsList()
}
