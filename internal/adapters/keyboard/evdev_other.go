//go:build !linux

package keyboard

import "context"

// EvdevSource is only available on Linux.
type EvdevSource struct{}

// OpenEvdev always fails off Linux.
func OpenEvdev(path string, bus *Bus) (*EvdevSource, error) {
	return nil, ErrUnsupported
}

// FindEvdev always fails off Linux.
func FindEvdev(match string) (string, error) {
	return "", ErrUnsupported
}

// Run implements the Linux signature.
func (s *EvdevSource) Run(ctx context.Context) error { return ErrUnsupported }

// Close implements the Linux signature.
func (s *EvdevSource) Close() error { return nil }
