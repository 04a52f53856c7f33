//go:build windows

package commands

import "errors"

// startDaemon has no Windows implementation. The server can still run
// with --foreground.
func startDaemon() error {
	return errors.New("daemon mode is not supported on Windows, use --foreground")
}
