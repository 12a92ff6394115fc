//go:build linux

package readout

import (
	"os"

	"golang.org/x/sys/unix"
)

// raisePriority attempts to elevate the calling process's scheduling
// priority so the readout loop is less likely to be starved under load.
// Non-fatal: timetagger.cpp's setpriority(PRIO_PROCESS, 0, -10) call in
// timetag_acquire.cpp is itself best-effort and ignores EPERM when not
// running as root.
func raisePriority() {
	_ = unix.Setpriority(unix.PRIO_PROCESS, os.Getpid(), -10)
}
