package storage

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open returns the configured backend and a closer for it. For sqlite, path is
// the database file; for badger, the directory.
func Open(backend, path string, log *slog.Logger) (Storage, io.Closer, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), io.NopCloser(nil), nil
	case BackendSQLite:
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "participant.db")
		}
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendBadger:
		b, err := OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
