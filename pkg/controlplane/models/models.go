// Package models defines the control plane's persistent entities: API users
// and encrypted device registrations.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Device{},
	}
}
