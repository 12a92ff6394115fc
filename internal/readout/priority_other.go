//go:build !linux

package readout

// raisePriority is a no-op on platforms without setpriority semantics
// matching Linux's PRIO_PROCESS scale.
func raisePriority() {}
