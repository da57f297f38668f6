package services

import (
	"encoding/json"
	"time"
)

// SessionRecord is the server's view of one anonymous session.
type SessionRecord struct {
	Token             string
	SurveyID          int
	FingerprintDigest string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ResponseID        string
	SubmittedAt       time.Time
	CompletedAt       time.Time
	Answers           []Answer
}

func (r *SessionRecord) Submitted() bool { return !r.SubmittedAt.IsZero() }

func (r *SessionRecord) Completed() bool { return !r.CompletedAt.IsZero() }

// Answer is one submitted answer; the value is kept verbatim.
type Answer struct {
	QuestionID int             `json:"questionId" validate:"gt=0"`
	Answer     json.RawMessage `json:"answer"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}
