//go:build !unix

package daemon

// lowerPriority is a no-op where setpriority is unavailable.
func lowerPriority(int) {}
