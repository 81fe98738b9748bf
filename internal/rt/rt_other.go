//go:build !linux

package rt

// SetFIFO — заглушка на не-Linux.
func SetFIFO(priority int) error {
	_ = priority
	return nil
}

// LockMemory — заглушка на не-Linux.
func LockMemory() error { return nil }

// UnlockMemory — заглушка на не-Linux.
func UnlockMemory() error { return nil }

// GranularityNs — заглушка на не-Linux.
func GranularityNs() int64 { return 0 }
