//go:build !linux

package device

// Open is only implemented on Linux.
func Open(cfg Config) (Device, error) {
	return nil, ErrUnsupported
}
