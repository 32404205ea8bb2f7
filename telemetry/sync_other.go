//go:build !linux

package telemetry

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
