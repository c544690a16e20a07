//go:build !linux

package ble

// NewManager is only implemented on top of BlueZ.
func NewManager() (Manager, error) {
	return nil, ErrNotSupported
}
