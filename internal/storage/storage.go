// Package storage is the participant's durable local key/value store.
//
// It plays the role a browser's localStorage plays for a web client: string
// keys mapped to JSON blobs, each independently readable, writable and
// corruption-tolerant. Callers treat it as a best-effort cache, never as the
// system of record.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// Keys used by the survey response subsystem.
const (
	KeySession       = "survey_session"
	KeyProgress      = "survey_progress"
	KeyResponses     = "survey_responses"
	KeyLedger        = "completed_surveys"
	KeyCompletion    = "survey_completion"
	KeyProgressStore = "survey-progress-storage"
)

// ErrUnavailable is returned by backends that cannot be reached at all.
var ErrUnavailable = errors.New("storage unavailable")

// Storage is a string-keyed blob store.
type Storage interface {
	// Get returns the value for key. A missing key is ("", false, nil).
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// ReadJSON decodes the blob stored at key into v. It reports false when the
// key is missing, the store fails, or the blob is not valid JSON for v.
// Failures are logged, never returned.
func ReadJSON(s Storage, key string, v any, log *slog.Logger) bool {
	if s == nil {
		return false
	}
	if log == nil {
		log = slog.Default()
	}
	raw, ok, err := s.Get(key)
	if err != nil {
		log.Warn("storage read failed", "key", key, "error", err)
		return false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Warn("storage blob corrupt", "key", key, "error", err)
		return false
	}
	return true
}

// WriteJSON encodes v and stores it at key. Failures are logged and reported
// as false so callers may react, but nothing is returned as an error.
func WriteJSON(s Storage, key string, v any, log *slog.Logger) bool {
	if s == nil {
		return false
	}
	if log == nil {
		log = slog.Default()
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn("storage encode failed", "key", key, "error", err)
		return false
	}
	if err := s.Set(key, string(b)); err != nil {
		log.Warn("storage write failed", "key", key, "error", err)
		return false
	}
	return true
}

// RemoveKeys deletes every key, logging failures and continuing.
func RemoveKeys(s Storage, log *slog.Logger, keys ...string) {
	if s == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	for _, k := range keys {
		if err := s.Remove(k); err != nil {
			log.Warn("storage remove failed", "key", k, "error", err)
		}
	}
}
