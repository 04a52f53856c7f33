package models

import "errors"

// Common errors for control plane operations.
var (
	// User errors
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrUserDisabled  = errors.New("user account is disabled")

	// Device errors
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDuplicateDevice = errors.New("device already exists")
	ErrDeviceActive    = errors.New("device is active")
)
