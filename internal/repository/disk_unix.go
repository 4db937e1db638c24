//go:build linux || darwin

package repository

import "golang.org/x/sys/unix"

// DiskUsage reports the volume holding path.
func DiskUsage(path string) (DiskStats, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return DiskStats{}, err
	}
	bsize := int64(fs.Bsize)
	total := int64(fs.Blocks) * bsize
	return DiskStats{
		Total: total,
		Free:  int64(fs.Bavail) * bsize,
		Used:  total - int64(fs.Bfree)*bsize,
	}, nil
}
