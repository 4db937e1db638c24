//go:build windows

package handler

// sampleCPU is not tracked on Windows.
func sampleCPU() cpuSample {
	return cpuSample{}
}
