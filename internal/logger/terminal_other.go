//go:build !linux && !darwin

package logger

// isTerminal always reports false; color output is only enabled on Linux and macOS.
func isTerminal(fd uintptr) bool {
	return false
}
