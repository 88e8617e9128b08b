// Package storage persists the bench's signal-update audit trail: every
// accepted live mutation of a running transmit task is appended so a test
// run can be reconstructed afterwards.
package storage

import (
	"context"
	"errors"
	"strings"

	logx "canbench/pkg/logx"
)

// Store is the minimal persistence API used by the scheduler facade.
type Store interface {
	AppendUpdate(ctx context.Context, e UpdateEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
