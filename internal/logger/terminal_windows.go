//go:build windows

package logger

import "golang.org/x/sys/windows"

// isTerminal reports whether fd refers to a console, used to decide
// whether color output is safe.
func isTerminal(fd uintptr) bool {
	var mode uint32
	return windows.GetConsoleMode(windows.Handle(fd), &mode) == nil
}
