package database

import "time"

// Config holds the SQLite connection settings shared by the store and
// its tests.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}
