//go:build !unix

package main

import (
	"github.com/aymanbagabas/go-pty"
)

func openPort() (port, error) {
	return pty.New()
}
