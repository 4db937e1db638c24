//go:build windows

package repository

import "golang.org/x/sys/windows"

// DiskUsage reports the volume holding path.
func DiskUsage(path string) (DiskStats, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskStats{}, err
	}
	var avail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &avail, &total, &totalFree); err != nil {
		return DiskStats{}, err
	}
	return DiskStats{
		Total: int64(total),
		Free:  int64(avail),
		Used:  int64(total) - int64(totalFree),
	}, nil
}
