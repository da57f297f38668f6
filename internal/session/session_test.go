package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/synap-respond/internal/activity"
	"github.com/soaringjerry/synap-respond/internal/storage"
)

const validToken = "3f2b8c1e-9a4d-4c6b-8e2f-1a2b3c4d5e6f"

type fakeServer struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
	handler  map[string]http.HandlerFunc
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{requests: map[string][]map[string]any{}, handler: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.mu.Lock()
		fs.requests[r.URL.Path] = append(fs.requests[r.URL.Path], body)
		h := fs.handler[r.URL.Path]
		fs.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) on(path string, status int, body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handler[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type testEnv struct {
	client *Client
	store  *storage.Memory
	fake   *fakeServer
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fake, srv := newFakeServer(t)
	env := &testEnv{store: storage.NewMemory(), fake: fake, now: time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)}
	env.client = NewClient(srv.URL, env.store,
		WithClock(func() time.Time { return env.now }),
		WithFingerprintSources(Sources{
			Display:  func() (Display, bool, error) { return Display{Width: 120, Height: 40}, true, nil },
			Locale:   func() (string, error) { return "en-US", nil },
			Platform: func() string { return "linux/amd64" },
		}),
	)
	return env
}

func (e *testEnv) seedCaches(t *testing.T, s Session) {
	t.Helper()
	require.True(t, storage.WriteJSON(e.store, storage.KeySession, s, nil))
	require.NoError(t, e.store.Set(storage.KeyProgress, `{"survey_id":1}`))
	require.NoError(t, e.store.Set(storage.KeyResponses, `{"survey_id":1}`))
}

func (e *testEnv) assertPurged(t *testing.T) {
	t.Helper()
	for _, k := range []string{storage.KeySession, storage.KeyProgress, storage.KeyResponses} {
		_, ok, _ := e.store.Get(k)
		assert.False(t, ok, "key %s should be purged", k)
	}
}

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken(validToken))
	assert.True(t, ValidToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "v1")
	assert.False(t, ValidToken("not-a-uuid"))
	assert.False(t, ValidToken("3f2b8c1e9a4d4c6b8e2f1a2b3c4d5e6f"), "no dashes")
	assert.False(t, ValidToken("3f2b8c1e-9a4d-7c6b-8e2f-1a2b3c4d5e6f"), "version 7")
	assert.False(t, ValidToken("3f2b8c1e-9a4d-4c6b-cf2f-1a2b3c4d5e6f"), "non-RFC variant")
	assert.False(t, ValidToken("00000000-0000-0000-0000-000000000000"), "nil uuid")
}

func TestCreateSessionPersists(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"`+validToken+`","survey_id":7,"expires_at":"2025-09-18T12:00:00Z"}`)

	s, err := env.client.CreateSession(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, validToken, s.SessionToken)
	assert.Equal(t, 7, s.SurveyID)
	assert.Equal(t, env.now, s.CreatedAt)
	assert.Equal(t, StateActive, env.client.State(7))

	got := env.client.GetSession()
	require.NotNil(t, got)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
	assert.Equal(t, s.SessionToken, got.SessionToken)

	reqs := env.fake.requests["/api/sessions"]
	require.Len(t, reqs, 1)
	assert.EqualValues(t, 7, reqs[0]["survey_id"])
	fp, ok := reqs[0]["fingerprint"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "en-US", fp["locale"])
	assert.Equal(t, true, fp["storage_enabled"])
}

func TestCreateSessionServerError(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/sessions", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	_, err := env.client.CreateSession(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, "slow down", err.Error())

	env.fake.on("/api/sessions", http.StatusInternalServerError, `<html>oops</html>`)
	_, err = env.client.CreateSession(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, "Failed to create session", err.Error())
	assert.Equal(t, StateNone, env.client.State(7))
	assert.Nil(t, env.client.GetSession())
}

func TestCreateSessionRejectsMalformedToken(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"nope","survey_id":7,"expires_at":"2025-09-18T12:00:00Z"}`)
	_, err := env.client.CreateSession(context.Background(), 7)
	assert.Equal(t, KindInvalid, KindOf(err))
	assert.Nil(t, env.client.GetSession())
}

func TestNetworkErrorKind(t *testing.T) {
	env := newTestEnv(t)
	env.client.baseURL = "http://127.0.0.1:1"
	_, err := env.client.CreateSession(context.Background(), 1)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestGetSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	s := Session{SessionToken: validToken, SurveyID: 1, ExpiresAt: env.now.Add(time.Minute), CreatedAt: env.now}
	env.seedCaches(t, s)

	require.NotNil(t, env.client.GetSession())

	env.now = s.ExpiresAt // now >= expiresAt
	assert.Nil(t, env.client.GetSession())
	env.assertPurged(t)
	assert.Equal(t, StateNone, env.client.State(1))
}

func TestValidateSession(t *testing.T) {
	env := newTestEnv(t)
	good := Session{SessionToken: validToken, SurveyID: 1, ExpiresAt: env.now.Add(time.Hour)}

	env.seedCaches(t, good)
	assert.True(t, env.client.ValidateSession(&good))

	bad := good
	bad.SessionToken = "not-a-uuid"
	assert.False(t, env.client.ValidateSession(&bad))
	env.assertPurged(t)

	env.seedCaches(t, good)
	expired := good
	expired.ExpiresAt = env.now.Add(-time.Second)
	assert.False(t, env.client.ValidateSession(&expired))
	env.assertPurged(t)

	env.seedCaches(t, good)
	assert.False(t, env.client.ValidateSession(nil))
	env.assertPurged(t)
}

func TestSubmitResponses(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/responses", http.StatusOK, `{"success":true,"response_id":"r-1","submitted_at":"2025-09-17T12:00:01Z"}`)

	res, err := env.client.SubmitResponses(context.Background(), 3, validToken, []ResponsePayload{
		{QuestionID: 1, Answer: "A"},
		{QuestionID: 2, Answer: []string{"x", "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.ResponseID)

	reqs := env.fake.requests["/api/responses"]
	require.Len(t, reqs, 1, "all answers go in one request")
	assert.Len(t, reqs[0]["responses"], 2)

	backup, ok := env.client.ResponseBackup()
	require.True(t, ok)
	assert.Equal(t, 3, backup.SurveyID)
	assert.Len(t, backup.Responses, 2)
}

func TestSubmitDuplicateIsLocked(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/responses", http.StatusConflict, `{"error":{"message":"responses already submitted","code":"session_locked"}}`)
	_, err := env.client.SubmitResponses(context.Background(), 3, validToken, nil)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindLocked, se.Kind)
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "responses already submitted", se.Message)
}

func TestSubmitUnsuccessfulBody(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/responses", http.StatusOK, `{"success":false}`)
	_, err := env.client.SubmitResponses(context.Background(), 3, validToken, nil)
	assert.EqualError(t, err, "Failed to submit responses")
}

func TestGetSurveyProgressMirrors(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/progress", http.StatusOK, `{"survey_id":4,"current_question_index":2,"total_questions":5,"responses":{"1":{"value":"A"}},"is_completed":false}`)

	p, err := env.client.GetSurveyProgress(context.Background(), validToken, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentQuestionIndex)

	cached, ok := env.client.CachedProgress()
	require.True(t, ok)
	assert.Equal(t, 5, cached.TotalQuestions)
	assert.Equal(t, "A", cached.Responses["1"].Value)
}

func TestCompleteSessionWritesMarker(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"`+validToken+`","survey_id":9,"expires_at":"2025-09-18T12:00:00Z"}`)
	env.fake.on("/api/sessions/complete", http.StatusNoContent, ``)

	_, err := env.client.CreateSession(context.Background(), 9)
	require.NoError(t, err)
	require.NoError(t, env.client.CompleteSession(context.Background(), 9, validToken))

	m, ok := env.client.CompletionMarker()
	require.True(t, ok)
	assert.Equal(t, 9, m.SurveyID)
	assert.Equal(t, validToken, m.SessionID)
	assert.Equal(t, env.now, m.SubmittedAt)
	assert.Equal(t, StateNone, env.client.State(9))

	env.client.ClearCompletionMarker()
	_, ok = env.client.CompletionMarker()
	assert.False(t, ok)
}

func TestClearSessionDataIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedCaches(t, Session{SessionToken: validToken, SurveyID: 1, ExpiresAt: env.now.Add(time.Hour)})
	env.client.ClearSessionData()
	env.client.ClearSessionData()
	env.assertPurged(t)

	env.store.FailWrites = true
	env.client.ClearSessionData()
}

func TestHandleSessionError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		purge bool
	}{
		{"expired kind", &Error{Kind: KindExpired, Message: "gone"}, true},
		{"locked kind", &Error{Kind: KindLocked, Message: "dup"}, true},
		{"network kind", &Error{Kind: KindNetwork, Message: "Session invalid maybe"}, false},
		{"unknown kind ignores words", &Error{Kind: KindUnknown, Message: "invalid survey"}, false},
		{"foreign error keyword", errors.New("Session Expired"), true},
		{"foreign error other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seedCaches(t, Session{SessionToken: validToken, SurveyID: 1, ExpiresAt: env.now.Add(time.Hour)})
			assert.Equal(t, tc.purge, env.client.HandleSessionError(tc.err))
			_, present, _ := env.store.Get(storage.KeySession)
			assert.Equal(t, !tc.purge, present)
		})
	}
}

func TestClassifyRemote(t *testing.T) {
	assert.Equal(t, KindExpired, classifyRemote(400, CodeExpired, "x"))
	assert.Equal(t, KindInvalid, classifyRemote(404, CodeInvalid, "x"))
	assert.Equal(t, KindLocked, classifyRemote(409, CodeLocked, "x"))
	assert.Equal(t, KindExpired, classifyRemote(410, "", "x"))
	assert.Equal(t, KindLocked, classifyRemote(423, "", "x"))
	assert.Equal(t, KindUnknown, classifyRemote(400, "invalid", "invalid survey_id"), "structured code beats keywords")
	assert.Equal(t, KindInvalid, classifyRemote(400, "", "Invalid session"), "legacy keyword fallback")
	assert.Equal(t, KindUnknown, classifyRemote(500, "", "boom"))
}

func TestFingerprintFallback(t *testing.T) {
	env := newTestEnv(t)
	env.client.sources.Locale = func() (string, error) { return "", errors.New("no locale") }
	fp := env.client.GenerateFingerprint()
	assert.True(t, fp.Fallback)
	assert.Equal(t, env.now.UnixMilli(), fp.Timestamp)
	assert.Nil(t, fp.Display)
	assert.Empty(t, fp.Locale)

	env.client.sources.Locale = func() (string, error) { panic("boom") }
	assert.True(t, env.client.GenerateFingerprint().Fallback)
}

func TestFingerprintCollects(t *testing.T) {
	env := newTestEnv(t)
	fp := env.client.GenerateFingerprint()
	assert.False(t, fp.Fallback)
	require.NotNil(t, fp.Display)
	assert.Equal(t, 120, fp.Display.Width)
	assert.Equal(t, "linux/amd64", fp.Platform)
	assert.True(t, fp.StorageEnabled)

	env.store.FailWrites = true
	assert.False(t, env.client.GenerateFingerprint().StorageEnabled)
}

func TestEnvLocale(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "zh_CN.UTF-8")
	loc, err := envLocale()
	require.NoError(t, err)
	assert.Equal(t, "zh-CN", loc)

	t.Setenv("LANG", "C")
	loc, err = envLocale()
	require.NoError(t, err)
	assert.Equal(t, "und", loc)
}

func TestActivityTracksCalls(t *testing.T) {
	env := newTestEnv(t)
	tr := activity.NewTracker()
	env.client.activity = tr
	var edges []bool
	tr.Subscribe(activity.ObserverFunc(func(busy bool) { edges = append(edges, busy) }))
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"`+validToken+`","survey_id":1,"expires_at":"2025-09-18T12:00:00Z"}`)

	_, err := env.client.CreateSession(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, edges)
	assert.False(t, tr.Busy())
}

func TestSupersedeSession(t *testing.T) {
	env := newTestEnv(t)
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"`+validToken+`","survey_id":1,"expires_at":"2025-09-18T12:00:00Z"}`)
	_, err := env.client.CreateSession(context.Background(), 1)
	require.NoError(t, err)

	second := strings.Replace(validToken, "3f2b", "aaaa", 1)
	env.fake.on("/api/sessions", http.StatusOK, `{"session_token":"`+second+`","survey_id":1,"expires_at":"2025-09-18T12:00:00Z"}`)
	_, err = env.client.CreateSession(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, second, env.client.GetSession().SessionToken)
	assert.Equal(t, StateActive, env.client.State(1))
}
