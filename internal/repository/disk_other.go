//go:build !linux && !darwin && !windows

package repository

import "errors"

// DiskUsage is not available on this platform.
func DiskUsage(path string) (DiskStats, error) {
	return DiskStats{}, errors.ErrUnsupported
}
