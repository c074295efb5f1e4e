//go:build !(linux || darwin || freebsd)

package host

func pinnedSupported() bool {
	return false
}

func allocPinned(_ int) ([]byte, error) {
	return nil, ErrPinnedUnsupported
}

func freePinned(_ []byte) error {
	return ErrPinnedUnsupported
}
