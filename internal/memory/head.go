package memory

// Head records which side holds the authoritative copy of a buffer's bytes.
type Head int

// Synchronization states.
const (
	// Uninitialized: nothing allocated yet.
	Uninitialized Head = iota
	// HeadAtHost: host copy is current, device copy (if any) may be stale.
	HeadAtHost
	// HeadAtDevice: device copy is current, host copy (if any) may be stale.
	HeadAtDevice
	// Synced: both copies exist and hold the same bytes.
	Synced
)

// String returns a human-readable state name.
func (h Head) String() string {
	switch h {
	case Uninitialized:
		return "UNINITIALIZED"
	case HeadAtHost:
		return "HEAD_AT_HOST"
	case HeadAtDevice:
		return "HEAD_AT_DEVICE"
	case Synced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}
