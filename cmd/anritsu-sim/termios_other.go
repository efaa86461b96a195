//go:build unix && !linux

package main

import "os"

// makeRaw is a no-op here; clients put the line in raw mode when they open it.
func makeRaw(*os.File) error {
	return nil
}
