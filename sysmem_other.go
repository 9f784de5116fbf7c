//go:build !linux

package tilegrid

// getSystemMemory returns total system memory in bytes. Platforms without a
// sysinfo probe report a fixed default; the value is informational only.
func getSystemMemory() uint64 {
	return defaultSystemMemory
}
