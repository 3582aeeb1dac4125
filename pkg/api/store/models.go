package store

import (
	"time"
)

// User source constants.
const (
	SourceConfig = "config"
	SourceAdmin  = "admin"
)

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an active user session.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// ConnectionSettings is the persisted configuration of the report-side
// database. A single row (id 1) holds the current settings; saving
// replaces it. The password is stored as entered and never returned to
// API clients.
type ConnectionSettings struct {
	ID                  uint      `gorm:"primaryKey" json:"-"`
	Driver              string    `json:"driver"`
	Host                string    `json:"host"`
	Port                int       `json:"port"`
	Database            string    `json:"database"`
	DefinitionsDatabase string    `json:"definitions_database"`
	RuntimeDatabase     string    `json:"runtime_database"`
	Username            string    `json:"username"`
	Password            string    `json:"-"`
	SSLMode             string    `json:"ssl_mode"`
	SQLitePath          string    `json:"sqlite_path"`
	UpdatedAt           time.Time `json:"updated_at"`
}
