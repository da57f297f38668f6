package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is an anonymous, time-boxed token binding this device to one
// survey attempt. It carries nothing that identifies the participant.
type Session struct {
	SessionToken string    `json:"session_token"`
	SurveyID     int       `json:"survey_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the session is no longer usable at now.
// A session is live only while ExpiresAt is strictly after now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// ValidToken reports whether tok is a canonical RFC 4122 UUID of version 1-5.
func ValidToken(tok string) bool {
	if len(tok) != 36 {
		return false
	}
	id, err := uuid.Parse(tok)
	if err != nil {
		return false
	}
	if v := id.Version(); v < 1 || v > 5 {
		return false
	}
	return id.Variant() == uuid.RFC4122
}

// ResponsePayload is one answer as sent to responses-submit.
type ResponsePayload struct {
	QuestionID int `json:"questionId"`
	Answer     any `json:"answer"`
}

// SubmitResult is the responses-submit reply.
type SubmitResult struct {
	Success     bool      `json:"success"`
	ResponseID  string    `json:"response_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ServerAnswer mirrors progress.Answer on the wire.
type ServerAnswer struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerProgress is the server-authoritative progress snapshot.
type ServerProgress struct {
	SurveyID             int                     `json:"survey_id"`
	SessionID            string                  `json:"session_id,omitempty"`
	CurrentQuestionIndex int                     `json:"current_question_index"`
	TotalQuestions       int                     `json:"total_questions"`
	Responses            map[string]ServerAnswer `json:"responses"`
	IsCompleted          bool                    `json:"is_completed"`
	StartedAt            time.Time               `json:"started_at"`
	LastUpdated          time.Time               `json:"last_updated"`
}

// CompletionMarker is written after session-complete succeeds and read by the
// completion confirmation view.
type CompletionMarker struct {
	SurveyID    int       `json:"survey_id"`
	SessionID   string    `json:"session_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Receipt     string    `json:"receipt,omitempty"`
}

// ResponseBackup is the local copy of answers kept until the caches are purged.
type ResponseBackup struct {
	SurveyID  int               `json:"survey_id"`
	SessionID string            `json:"session_id"`
	Responses []ResponsePayload `json:"responses"`
	SavedAt   time.Time         `json:"saved_at"`
}
