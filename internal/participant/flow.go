// Package participant is the single entry point a survey UI talks to. It owns
// the ledger, the progress store and the session client together so purge
// rules live in one place.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/synap-respond/internal/ledger"
	"github.com/soaringjerry/synap-respond/internal/progress"
	"github.com/soaringjerry/synap-respond/internal/session"
)

var (
	ErrAlreadyCompleted = errors.New("survey already completed on this device")
	ErrNotStarted       = errors.New("survey not started")
	ErrNoSession        = errors.New("no valid session for survey")
)

type Flow struct {
	ledger   *ledger.Ledger
	progress *progress.Store
	client   *session.Client
	log      *slog.Logger
}

type Option func(*Flow)

func WithLogger(l *slog.Logger) Option { return func(f *Flow) { f.log = l } }

func New(l *ledger.Ledger, p *progress.Store, c *session.Client, opts ...Option) *Flow {
	f := &Flow{ledger: l, progress: p, client: c, log: slog.Default()}
	for _, o := range opts {
		o(f)
	}
	return f
}

func key(surveyID int) string { return strconv.Itoa(surveyID) }

// Start opens an attempt. A valid cached session for the survey is reused;
// otherwise a new one is created. Unfinished progress for the same survey and
// question count is kept, anything else restarts at question 0.
func (f *Flow) Start(ctx context.Context, surveyID, totalQuestions int) (*session.Session, error) {
	id := key(surveyID)
	if f.ledger.IsCompleted(id) {
		return nil, ErrAlreadyCompleted
	}

	s := f.client.GetSession()
	if s == nil || s.SurveyID != surveyID || !f.client.ValidateSession(s) {
		var err error
		if s, err = f.client.CreateSession(ctx, surveyID); err != nil {
			f.client.HandleSessionError(err)
			return nil, err
		}
	}

	if rec, ok := f.progress.Progress(id); !ok || rec.IsCompleted || rec.TotalQuestions != totalQuestions {
		f.progress.StartSurvey(id, totalQuestions)
	}
	f.log.Info("survey started", "survey_id", surveyID, "total_questions", totalQuestions)
	return s, nil
}

func (f *Flow) Answer(surveyID int, questionID string, value any) bool {
	return f.progress.SaveResponse(key(surveyID), questionID, value)
}

func (f *Flow) Next(surveyID int) bool     { return f.progress.NextQuestion(key(surveyID)) }
func (f *Flow) Previous(surveyID int) bool { return f.progress.PreviousQuestion(key(surveyID)) }

// Resume reloads persisted progress and, when a session is cached for the
// survey, reconciles with the server. A server that reports the attempt
// complete wins: the ledger is marked, local caches are purged and
// ErrAlreadyCompleted is returned. Network failures leave the local record
// as it is.
func (f *Flow) Resume(ctx context.Context, surveyID int) (progress.Record, error) {
	id := key(surveyID)
	if f.ledger.IsCompleted(id) {
		return progress.Record{}, ErrAlreadyCompleted
	}
	f.progress.Reload()
	rec, ok := f.progress.Progress(id)

	if s := f.client.GetSession(); s != nil && s.SurveyID == surveyID && f.client.ValidateSession(s) {
		sp, err := f.client.GetSurveyProgress(ctx, s.SessionToken, surveyID)
		switch {
		case err == nil && sp.IsCompleted:
			f.finish(id)
			return progress.Record{}, ErrAlreadyCompleted
		case err != nil && f.client.HandleSessionError(err):
			f.log.Info("resume dropped stale session", "survey_id", surveyID, "kind", session.KindOf(err).String())
		case err != nil:
			f.log.Warn("server progress unavailable, resuming locally", "survey_id", surveyID, "error", err)
		}
	}
	if !ok {
		return progress.Record{}, ErrNotStarted
	}
	return rec, nil
}

// Submit sends every collected answer, completes the session and purges the
// local caches. A locked rejection means the server already holds a
// submission for this device, so the ledger is marked anyway. When only the
// completion call fails the caches are still purged and the result is
// returned alongside the error; no receipt is recorded.
func (f *Flow) Submit(ctx context.Context, surveyID int) (*session.SubmitResult, error) {
	id := key(surveyID)
	if f.ledger.IsCompleted(id) {
		return nil, ErrAlreadyCompleted
	}
	rec, ok := f.progress.Progress(id)
	if !ok {
		return nil, ErrNotStarted
	}
	s := f.client.GetSession()
	if s == nil || s.SurveyID != surveyID || !f.client.ValidateSession(s) {
		return nil, ErrNoSession
	}

	res, err := f.client.SubmitResponses(ctx, surveyID, s.SessionToken, f.payloads(rec))
	if err != nil {
		if session.KindOf(err) == session.KindLocked {
			f.ledger.MarkCompleted(id)
		}
		f.client.HandleSessionError(err)
		return nil, err
	}
	f.ledger.MarkCompleted(id)
	f.progress.CompleteSurvey(id)

	if err := f.client.CompleteSession(ctx, surveyID, s.SessionToken); err != nil {
		f.client.HandleSessionError(err)
		f.finish(id)
		f.log.Warn("complete session failed", "survey_id", surveyID, "response_id", res.ResponseID, "error", err)
		return res, fmt.Errorf("complete session: %w", err)
	}
	f.finish(id)
	f.log.Info("survey submitted", "survey_id", surveyID, "response_id", res.ResponseID)
	return res, nil
}

func (f *Flow) finish(id string) {
	f.ledger.MarkCompleted(id)
	f.client.ClearSessionData()
	f.progress.ClearProgress(id)
}

// payloads orders answers by question id. Keys are numeric, optionally
// prefixed with "q"; anything else cannot be addressed on the wire and is
// dropped.
func (f *Flow) payloads(rec progress.Record) []session.ResponsePayload {
	out := make([]session.ResponsePayload, 0, len(rec.Responses))
	for k, a := range rec.Responses {
		qid, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(k), "q"))
		if err != nil || qid <= 0 {
			f.log.Warn("dropping answer with non-numeric question id", "survey_id", rec.SurveyID, "question_id", k)
			continue
		}
		out = append(out, session.ResponsePayload{QuestionID: qid, Answer: a.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

// Status is a read-only summary for a survey.
type Status struct {
	SurveyID     int              `json:"survey_id"`
	Completed    bool             `json:"completed"`
	SessionState string           `json:"session_state"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	Progress     *progress.Record `json:"progress,omitempty"`
	Ratio        float64          `json:"ratio"`
	Receipt      string           `json:"receipt,omitempty"`
}

func (f *Flow) Status(surveyID int) Status {
	id := key(surveyID)
	st := Status{SurveyID: surveyID, Completed: f.ledger.IsCompleted(id)}
	if s := f.client.GetSession(); s != nil && s.SurveyID == surveyID {
		exp := s.ExpiresAt
		st.ExpiresAt = &exp
	}
	st.SessionState = f.client.State(surveyID)
	if rec, ok := f.progress.Progress(id); ok {
		st.Progress = &rec
		st.Ratio = f.progress.CompletionRatio(id)
	}
	if m, ok := f.client.CompletionMarker(); ok && m.SurveyID == surveyID {
		st.Receipt = m.Receipt
	}
	return st
}

// Reset forgets everything this device knows about the survey, including
// its ledger entry.
func (f *Flow) Reset(surveyID int) {
	id := key(surveyID)
	f.client.ClearSessionData()
	if m, ok := f.client.CompletionMarker(); ok && m.SurveyID == surveyID {
		f.client.ClearCompletionMarker()
	}
	f.progress.ClearProgress(id)
	f.ledger.Remove(id)
}

// Cleanup drops ledger entries past retention and returns how many went.
func (f *Flow) Cleanup() int {
	return f.ledger.Cleanup()
}
