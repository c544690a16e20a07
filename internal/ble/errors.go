package ble

import "errors"

// Discovery and session errors
var (
	ErrNoAdaptersFound         = errors.New("no Bluetooth adapters found")
	ErrDiscoveryTimeout        = errors.New("timed out scanning for the printer")
	ErrDeviceNotFound          = errors.New("printer not found")
	ErrDiscoveryTaskFailed     = errors.New("discovery task failed")
	ErrPropertiesFetch         = errors.New("failed to read device properties")
	ErrConnectFailed           = errors.New("failed to connect to printer")
	ErrCharacteristicNotFound  = errors.New("printer write characteristic not found")
	ErrCharacteristicAmbiguous = errors.New("more than one printer write characteristic")
	ErrWriteFailed             = errors.New("write to printer failed")
	ErrInvalidAddress          = errors.New("invalid Bluetooth address")
	ErrNotSupported            = errors.New("Bluetooth LE is not supported on this platform")
	ErrManagerClosed           = errors.New("Bluetooth manager closed")
)
