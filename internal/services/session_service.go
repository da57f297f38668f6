package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStore abstracts persistence operations required by SessionService.
type SessionStore interface {
	AddSession(r *SessionRecord) error
	GetSession(token string) (*SessionRecord, error)
	UpdateSession(r *SessionRecord) error
	// MarkSubmitted stores a submission only if the stored session has none
	// and no other session of the survey submitted with the same digest. The
	// check and the write happen under one lock; it returns ErrAlreadySubmitted
	// or ErrDeviceSubmitted otherwise.
	MarkSubmitted(r *SessionRecord) error
	// FindSubmittedByDigest returns a submitted session for surveyID whose
	// fingerprint digest equals digest, or nil.
	FindSubmittedByDigest(surveyID int, digest string) (*SessionRecord, error)
	AddAudit(entry AuditEntry)
}

// ReceiptSigner produces the completion receipt handed back by Complete.
type ReceiptSigner func(surveyID int, sessionID string, issuedAt time.Time) (string, error)

// CreateSessionRequest carries the sanitized session-create input.
type CreateSessionRequest struct {
	SurveyID    int
	Fingerprint json.RawMessage
}

// SubmitRequest carries the sanitized responses-submit input.
type SubmitRequest struct {
	SurveyID  int
	SessionID string
	Answers   []Answer
}

type SubmitResult struct {
	ResponseID  string
	SubmittedAt time.Time
}

// ProgressSnapshot is what the progress endpoint reports for a session.
type ProgressSnapshot struct {
	SurveyID    int
	SessionID   string
	Answers     []Answer
	IsCompleted bool
	StartedAt   time.Time
	LastUpdated time.Time
}

var (
	// ErrStoreNil is returned when the service was built without a store.
	ErrStoreNil = errors.New("session service store is nil")

	ErrAlreadySubmitted = errors.New("session already submitted")
	ErrDeviceSubmitted  = errors.New("digest already submitted for survey")
)

// SessionService issues anonymous sessions and is the sole arbiter of
// duplicate submissions.
type SessionService struct {
	store       SessionStore
	now         func() time.Time
	idGenerator func() string
	ttl         time.Duration
	sign        ReceiptSigner
}

// NewSessionService constructs a service bound to the provided persistence interface.
func NewSessionService(store SessionStore, ttl time.Duration, sign ReceiptSigner) *SessionService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		idGenerator: uuid.NewString,
		ttl:         ttl,
		sign:        sign,
	}
}

func (s *SessionService) Create(req CreateSessionRequest) (*SessionRecord, error) {
	if s.store == nil {
		return nil, ErrStoreNil
	}
	if req.SurveyID <= 0 {
		return nil, NewInvalidError("survey_id required")
	}
	now := s.now()
	rec := &SessionRecord{
		Token:             s.idGenerator(),
		SurveyID:          req.SurveyID,
		FingerprintDigest: FingerprintDigest(req.Fingerprint),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}
	if err := s.store.AddSession(rec); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: "participant", Action: "session_create", Target: shortToken(rec.Token)})
	return rec, nil
}

// live loads the session for token and checks it belongs to surveyID and has
// not expired. An expired session is returned alongside its error.
func (s *SessionService) live(token string, surveyID int) (*SessionRecord, error) {
	if s.store == nil {
		return nil, ErrStoreNil
	}
	if token == "" || surveyID <= 0 {
		return nil, NewInvalidError("survey_id/session_id required")
	}
	rec, err := s.store.GetSession(token)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewSessionInvalidError("session not found")
	}
	if rec.SurveyID != surveyID {
		return nil, NewSessionInvalidError("session does not belong to this survey")
	}
	if !rec.ExpiresAt.After(s.now()) {
		return rec, NewSessionExpiredError("session expired")
	}
	return rec, nil
}

// Submit stores every answer of an attempt at once. A session submits at
// most once, and a device whose fingerprint already submitted this survey is
// refused. The checks below reject early; MarkSubmitted decides races.
func (s *SessionService) Submit(req SubmitRequest) (*SubmitResult, error) {
	rec, err := s.live(req.SessionID, req.SurveyID)
	if err != nil {
		return nil, err
	}
	if rec.Submitted() {
		return nil, NewSessionLockedError("responses already submitted")
	}
	if rec.FingerprintDigest != "" {
		prior, err := s.store.FindSubmittedByDigest(req.SurveyID, rec.FingerprintDigest)
		if err != nil {
			return nil, err
		}
		if prior != nil && prior.Token != rec.Token {
			s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "participant", Action: "duplicate_rejected", Target: shortToken(rec.Token)})
			return nil, NewSessionLockedError("survey already completed on this device")
		}
	}

	answers := make([]Answer, 0, len(req.Answers))
	seen := map[int]bool{}
	for _, a := range req.Answers {
		if a.QuestionID <= 0 || seen[a.QuestionID] {
			continue
		}
		seen[a.QuestionID] = true
		answers = append(answers, a)
	}

	rec.Answers = answers
	rec.SubmittedAt = s.now()
	rec.ResponseID = s.idGenerator()
	switch err := s.store.MarkSubmitted(rec); {
	case errors.Is(err, ErrAlreadySubmitted):
		return nil, NewSessionLockedError("responses already submitted")
	case errors.Is(err, ErrDeviceSubmitted):
		s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "participant", Action: "duplicate_rejected", Target: shortToken(rec.Token)})
		return nil, NewSessionLockedError("survey already completed on this device")
	case err != nil:
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: rec.SubmittedAt, Actor: "participant", Action: "responses_submit", Target: rec.ResponseID})
	return &SubmitResult{ResponseID: rec.ResponseID, SubmittedAt: rec.SubmittedAt}, nil
}

// Progress reports the server's view of the attempt. Expired sessions still
// report, so a client can reconcile after the fact.
func (s *SessionService) Progress(sessionID string, surveyID int) (*ProgressSnapshot, error) {
	rec, err := s.live(sessionID, surveyID)
	if err != nil {
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorSessionExpired || rec == nil {
			return nil, err
		}
	}
	last := rec.CreatedAt
	if rec.Submitted() {
		last = rec.SubmittedAt
	}
	if rec.Completed() {
		last = rec.CompletedAt
	}
	return &ProgressSnapshot{
		SurveyID:    rec.SurveyID,
		SessionID:   rec.Token,
		Answers:     append([]Answer(nil), rec.Answers...),
		IsCompleted: rec.Submitted(),
		StartedAt:   rec.CreatedAt,
		LastUpdated: last,
	}, nil
}

// Complete closes the attempt and returns a signed receipt. Completing twice
// is allowed and re-issues the receipt.
func (s *SessionService) Complete(surveyID int, sessionID string) (string, error) {
	rec, err := s.live(sessionID, surveyID)
	if err != nil {
		return "", err
	}
	if !rec.Submitted() {
		return "", NewConflictError("responses not submitted")
	}
	now := s.now()
	if !rec.Completed() {
		rec.CompletedAt = now
		if err := s.store.UpdateSession(rec); err != nil {
			return "", err
		}
		s.store.AddAudit(AuditEntry{Time: now, Actor: "participant", Action: "session_complete", Target: rec.ResponseID})
	}
	if s.sign == nil {
		return "", nil
	}
	return s.sign(surveyID, sessionID, now)
}

func shortToken(tok string) string {
	if len(tok) > 8 {
		return tok[:8]
	}
	return tok
}
