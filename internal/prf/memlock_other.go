//go:build !linux && !darwin

package prf

// lockMemory/unlockMemory are no-ops on platforms without mlock(2); the
// subkey is still zeroed on Close, just never pinned out of swap.
func lockMemory(b []byte) error   { return nil }
func unlockMemory(b []byte) error { return nil }
