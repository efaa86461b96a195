//go:build unix

package main

import (
	"errors"
	"os"

	"github.com/creack/pty"
)

// UnixPty is a POSIX pseudo-terminal. The slave end is held open so that the
// master keeps working while no client has the port open.
type UnixPty struct {
	master, slave *os.File
	closed        bool
}

// Close closes both ends. It is safe to call more than once.
func (p *UnixPty) Close() error {
	if p.closed {
		return nil
	}
	defer func() {
		p.closed = true
	}()
	return errors.Join(p.master.Close(), p.slave.Close())
}

// Name returns the device path clients open.
func (p *UnixPty) Name() string {
	return p.slave.Name()
}

func (p *UnixPty) Read(b []byte) (n int, err error) {
	return p.master.Read(b)
}

func (p *UnixPty) Write(b []byte) (n int, err error) {
	return p.master.Write(b)
}

// Master returns the simulator end.
func (p *UnixPty) Master() *os.File {
	return p.master
}

// NewPty creates a pseudo-terminal in raw mode, so that commands are neither
// echoed nor translated before a client configures the line.
func NewPty() (*UnixPty, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	if err := makeRaw(slave); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, err
	}
	return &UnixPty{
		master: master,
		slave:  slave,
	}, nil
}

func openPort() (port, error) {
	p, err := NewPty()
	if err != nil {
		return nil, err
	}
	return p, nil
}
