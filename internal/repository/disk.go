package repository

import "os"

// DiskStats describes the volume holding a directory. Free is the space
// available to this process, which may be less than Total-Used.
type DiskStats struct {
	Total int64
	Free  int64
	Used  int64
}

// UsedPercent returns Used as a percentage of Total.
func (d DiskStats) UsedPercent() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100
}

func getFreeDiskSpace(path string) int64 {
	if fi, err := os.Stat(path); err != nil || !fi.IsDir() {
		return -1
	}
	d, err := DiskUsage(path)
	if err != nil {
		return -1
	}
	return d.Free
}
