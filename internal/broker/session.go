package broker

// session carries per-client state across Dispatch calls: which name (if
// any) is waiting for an ancillary file descriptor, and whether this
// transport is capable of carrying one at all (only Unix-socket clients
// are; stdin is not).
type session struct {
	pendingFDName string
	fdCapable     bool
}

func (s *session) supportsFDs() bool {
	return s != nil && s.fdCapable
}
