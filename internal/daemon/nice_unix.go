//go:build unix

package daemon

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// lowerPriority renices the process so indexing stays out of the
// foreground's way. Failure is logged and ignored; correctness does
// not depend on it.
func lowerPriority(nice int) {
	if nice <= 0 {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, nice); err != nil {
		slog.Debug("renice_failed", slog.Int("nice", nice), slog.String("error", err.Error()))
	}
}
