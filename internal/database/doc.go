// Package database manages the GORM connection pool behind the conversation
// store: tuning, periodic health checks, stats, and transaction retry for
// transient failures. Internal to agentrun.
package database
