// Package session talks to the remote session endpoint on behalf of an
// anonymous participant and mirrors session, progress and response data into
// durable local storage so a reload can recover.
//
// Lifecycle per survey: none -> (create) -> active -> (expire | invalidate |
// complete) -> none. Expiry is checked on every read, and any session that
// fails validation is purged locally rather than retried.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/synap-respond/internal/activity"
	"github.com/soaringjerry/synap-respond/internal/storage"
)

// Endpoints are paths relative to the client's base URL.
type Endpoints struct {
	Create   string `yaml:"create"`
	Submit   string `yaml:"submit"`
	Progress string `yaml:"progress"`
	Complete string `yaml:"complete"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Create:   "/api/sessions",
		Submit:   "/api/responses",
		Progress: "/api/progress",
		Complete: "/api/sessions/complete",
	}
}

type Client struct {
	baseURL   string
	endpoints Endpoints
	http      *http.Client
	store     storage.Storage
	log       *slog.Logger
	now       func() time.Time
	sources   Sources
	activity  *activity.Tracker
	machines  *machines
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *slog.Logger) Option     { return func(c *Client) { c.log = l } }
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}
func WithEndpoints(e Endpoints) Option { return func(c *Client) { c.endpoints = e } }

// WithActivity reports every network call to t.
func WithActivity(t *activity.Tracker) Option { return func(c *Client) { c.activity = t } }

func WithFingerprintSources(s Sources) Option { return func(c *Client) { c.sources = s } }

func NewClient(baseURL string, store storage.Storage, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: DefaultEndpoints(),
		http:      &http.Client{Timeout: 15 * time.Second},
		store:     store,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		sources:   DefaultSources(),
	}
	for _, o := range opts {
		o(c)
	}
	c.machines = newMachines(c.log)
	if c.sources.StorageEnabled == nil {
		c.sources.StorageEnabled = c.storageWritable
	}
	return c
}

// GenerateFingerprint collects the environment signals. It never fails: any
// collection error yields a fallback carrying only a timestamp and a flag.
func (c *Client) GenerateFingerprint() Fingerprint {
	now := c.now()
	fp, err := c.sources.collect(now)
	if err != nil {
		c.log.Debug("fingerprint fallback", "error", err)
		return fallbackFingerprint(now)
	}
	return fp
}

func (c *Client) storageWritable() bool {
	const testKey = "__storage_test__"
	if c.store == nil || c.store.Set(testKey, "1") != nil {
		return false
	}
	_ = c.store.Remove(testKey)
	return true
}

// CreateSession asks the server for a new session bound to surveyID and
// caches it locally, superseding any previously cached session.
func (c *Client) CreateSession(ctx context.Context, surveyID int) (*Session, error) {
	body := map[string]any{
		"survey_id":   surveyID,
		"fingerprint": c.GenerateFingerprint(),
	}
	var resp struct {
		SessionToken string    `json:"session_token"`
		SurveyID     int       `json:"survey_id"`
		ExpiresAt    time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, "create session", http.MethodPost, c.endpoints.Create, body, &resp, "Failed to create session"); err != nil {
		return nil, err
	}
	if !ValidToken(resp.SessionToken) {
		return nil, &Error{Kind: KindInvalid, Op: "create session", Message: "Server returned a malformed session token"}
	}
	s := &Session{
		SessionToken: resp.SessionToken,
		SurveyID:     resp.SurveyID,
		ExpiresAt:    resp.ExpiresAt,
		CreatedAt:    c.now(),
	}
	if s.SurveyID == 0 {
		s.SurveyID = surveyID
	}
	if prev := c.cachedSession(); prev != nil {
		c.machines.fire(prev.SurveyID, eventInvalidate)
	}
	storage.WriteJSON(c.store, storage.KeySession, s, c.log)
	c.machines.fire(s.SurveyID, eventCreate)
	c.log.Info("session created", "survey_id", s.SurveyID, "token_prefix", tokenPrefix(s.SessionToken), "expires_at", s.ExpiresAt)
	return s, nil
}

func (c *Client) cachedSession() *Session {
	var s Session
	if !storage.ReadJSON(c.store, storage.KeySession, &s, c.log) || s.SessionToken == "" {
		return nil
	}
	return &s
}

// GetSession returns the cached session, or nil. An expired session purges
// every local session cache before nil is returned.
func (c *Client) GetSession() *Session {
	s := c.cachedSession()
	if s == nil {
		return nil
	}
	if s.Expired(c.now()) {
		c.log.Info("session expired", "survey_id", s.SurveyID)
		c.machines.fire(s.SurveyID, eventExpire)
		c.ClearSessionData()
		return nil
	}
	c.machines.fire(s.SurveyID, eventCreate)
	return s
}

// ValidateSession reports whether s is usable. A nil, expired or malformed
// session purges the local caches as a side effect.
func (c *Client) ValidateSession(s *Session) bool {
	switch {
	case s == nil:
		c.ClearSessionData()
		return false
	case s.Expired(c.now()):
		c.machines.fire(s.SurveyID, eventExpire)
		c.ClearSessionData()
		return false
	case !ValidToken(s.SessionToken):
		c.log.Warn("session token malformed, purging", "survey_id", s.SurveyID)
		c.machines.fire(s.SurveyID, eventInvalidate)
		c.ClearSessionData()
		return false
	}
	return true
}

// SubmitResponses posts every answer in one request. Duplicate detection is
// the server's job; a rejection comes back as an *Error.
func (c *Client) SubmitResponses(ctx context.Context, surveyID int, sessionID string, responses []ResponsePayload) (*SubmitResult, error) {
	if responses == nil {
		responses = []ResponsePayload{}
	}
	c.SaveResponseBackup(surveyID, sessionID, responses)
	body := map[string]any{
		"survey_id":  surveyID,
		"session_id": sessionID,
		"responses":  responses,
	}
	var res SubmitResult
	if err := c.do(ctx, "submit responses", http.MethodPost, c.endpoints.Submit, body, &res, "Failed to submit responses"); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, &Error{Kind: KindUnknown, Op: "submit responses", Status: http.StatusOK, Message: "Failed to submit responses"}
	}
	c.log.Info("responses submitted", "survey_id", surveyID, "count", len(responses), "response_id", res.ResponseID)
	return &res, nil
}

// GetSurveyProgress fetches the server's view of progress and mirrors it
// into local storage.
func (c *Client) GetSurveyProgress(ctx context.Context, sessionID string, surveyID int) (*ServerProgress, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("survey_id", strconv.Itoa(surveyID))
	var p ServerProgress
	if err := c.do(ctx, "get progress", http.MethodGet, c.endpoints.Progress+"?"+q.Encode(), nil, &p, "Failed to load survey progress"); err != nil {
		return nil, err
	}
	storage.WriteJSON(c.store, storage.KeyProgress, p, c.log)
	return &p, nil
}

// CompleteSession tells the server the attempt is finished and writes the
// completion marker. Purging the remaining caches is the caller's job.
func (c *Client) CompleteSession(ctx context.Context, surveyID int, sessionID string) error {
	body := map[string]any{
		"survey_id":  surveyID,
		"session_id": sessionID,
	}
	var resp struct {
		Receipt string `json:"receipt"`
	}
	if err := c.do(ctx, "complete session", http.MethodPost, c.endpoints.Complete, body, &resp, "Failed to complete session"); err != nil {
		return err
	}
	marker := CompletionMarker{SurveyID: surveyID, SessionID: sessionID, SubmittedAt: c.now(), Receipt: resp.Receipt}
	storage.WriteJSON(c.store, storage.KeyCompletion, marker, c.log)
	c.machines.fire(surveyID, eventComplete)
	return nil
}

// CompletionMarker returns the marker written by CompleteSession.
func (c *Client) CompletionMarker() (*CompletionMarker, bool) {
	var m CompletionMarker
	if !storage.ReadJSON(c.store, storage.KeyCompletion, &m, c.log) {
		return nil, false
	}
	return &m, true
}

func (c *Client) ClearCompletionMarker() {
	storage.RemoveKeys(c.store, c.log, storage.KeyCompletion)
}

// SaveResponseBackup keeps a local copy of answers about to be submitted.
func (c *Client) SaveResponseBackup(surveyID int, sessionID string, responses []ResponsePayload) {
	b := ResponseBackup{SurveyID: surveyID, SessionID: sessionID, Responses: responses, SavedAt: c.now()}
	storage.WriteJSON(c.store, storage.KeyResponses, b, c.log)
}

func (c *Client) ResponseBackup() (*ResponseBackup, bool) {
	var b ResponseBackup
	if !storage.ReadJSON(c.store, storage.KeyResponses, &b, c.log) {
		return nil, false
	}
	return &b, true
}

// CachedProgress returns the last server progress mirrored locally.
func (c *Client) CachedProgress() (*ServerProgress, bool) {
	var p ServerProgress
	if !storage.ReadJSON(c.store, storage.KeyProgress, &p, c.log) {
		return nil, false
	}
	return &p, true
}

// ClearSessionData removes the session, progress and response caches. It is
// idempotent and never fails.
func (c *Client) ClearSessionData() {
	storage.RemoveKeys(c.store, c.log, storage.KeySession, storage.KeyProgress, storage.KeyResponses)
	c.machines.reset()
}

// HandleSessionError purges local session data when err says the session is
// expired, invalid or locked, and reports whether it did. Errors from other
// sources fall back to the keyword match on their message.
func (c *Client) HandleSessionError(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	var kind Kind
	if errors.As(err, &se) {
		kind = se.Kind
	} else {
		kind = keywordKind(err.Error())
	}
	if !kind.SessionScoped() {
		return false
	}
	c.log.Info("session error, purging local session", "kind", kind.String(), "error", err)
	c.ClearSessionData()
	return true
}

// State is the session state for surveyID: StateNone or StateActive.
func (c *Client) State(surveyID int) string {
	return c.machines.state(surveyID)
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any, fallback string) error {
	end := c.activity.Begin()
	defer end()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindUnknown, Op: op, Message: fallback, Err: err}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Message: fallback, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Message: fallback, Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Status: res.StatusCode, Message: fallback, Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var env errorEnvelope
		msg := fallback
		if json.Unmarshal(raw, &env) == nil && strings.TrimSpace(env.Error.Message) != "" {
			msg = env.Error.Message
		}
		kind := classifyRemote(res.StatusCode, env.Error.Code, msg)
		c.log.Warn("session endpoint rejected request", "op", op, "status", res.StatusCode, "kind", kind.String())
		return &Error{
			Kind:    kind,
			Op:      op,
			Status:  res.StatusCode,
			Code:    env.Error.Code,
			Message: msg,
			Err:     fmt.Errorf("%s: status %d", op, res.StatusCode),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindUnknown, Op: op, Status: res.StatusCode, Message: fallback, Err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}

func tokenPrefix(tok string) string {
	if len(tok) > 8 {
		return tok[:8]
	}
	return tok
}
