//go:build linux || darwin

package logger

import "golang.org/x/sys/unix"

// isTerminal reports whether fd refers to a terminal, used to decide
// whether color output is safe.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
