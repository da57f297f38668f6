package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soaringjerry/synap-respond/internal/middleware"
	"github.com/soaringjerry/synap-respond/internal/services"
	"github.com/soaringjerry/synap-respond/internal/utils"
)

// Options configures the development session endpoint.
type Options struct {
	Logger      *slog.Logger
	SessionTTL  time.Duration
	Receipts    *middleware.Receipts
	CORSOrigins []string
	Commit      string
	BuildTime   string
}

type Router struct {
	svc      *services.SessionService
	store    *memoryStore
	metrics  *metrics
	validate *validator.Validate
	log      *slog.Logger
	opts     Options
}

func NewRouter(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Receipts == nil {
		opts.Receipts = middleware.NewReceipts("", 0)
	}
	store := newMemoryStore()
	return &Router{
		svc:      services.NewSessionService(store, opts.SessionTTL, opts.Receipts.Sign),
		store:    store,
		metrics:  newMetrics(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      opts.Logger,
		opts:     opts,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.CORS(rt.opts.CORSOrigins))
	r.Use(middleware.Locale)

	r.Get("/health", rt.handleHealth)
	r.Get("/version", rt.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Post("/sessions", rt.handleCreateSession)
		r.Post("/sessions/complete", rt.handleCompleteSession)
		r.Post("/responses", rt.handleSubmitResponses)
		r.Get("/progress", rt.handleProgress)
	})
	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"name":   "Synap respond",
		"locale": locale,
		"msg":    utils.T(locale, "health.ok"),
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"commit": rt.opts.Commit, "build_time": rt.opts.BuildTime})
}

type createSessionRequest struct {
	SurveyID    int             `json:"survey_id" validate:"gt=0"`
	Fingerprint json.RawMessage `json:"fingerprint"`
}

// POST /api/sessions
func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !rt.decode(w, r, &req) {
		return
	}
	rec, err := rt.svc.Create(services.CreateSessionRequest{SurveyID: req.SurveyID, Fingerprint: req.Fingerprint})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.metrics.sessions.Inc()
	rt.log.Info("session issued", "survey_id", rec.SurveyID, "token", rec.Token[:8], "fingerprinted", rec.FingerprintDigest != "")
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_token": rec.Token,
		"survey_id":     rec.SurveyID,
		"expires_at":    rec.ExpiresAt,
	})
}

type submitRequest struct {
	SurveyID  int               `json:"survey_id" validate:"gt=0"`
	SessionID string            `json:"session_id" validate:"required"`
	Responses []services.Answer `json:"responses" validate:"dive"`
}

// POST /api/responses
func (rt *Router) handleSubmitResponses(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !rt.decode(w, r, &req) {
		return
	}
	res, err := rt.svc.Submit(services.SubmitRequest{SurveyID: req.SurveyID, SessionID: req.SessionID, Answers: req.Responses})
	if err != nil {
		rt.metrics.submissions.WithLabelValues("rejected").Inc()
		rt.writeError(w, r, err)
		return
	}
	rt.metrics.submissions.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"response_id":  res.ResponseID,
		"submitted_at": res.SubmittedAt,
	})
}

type progressAnswer struct {
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
}

// GET /api/progress?session_id=...&survey_id=...
func (rt *Router) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	surveyID, err := strconv.Atoi(r.URL.Query().Get("survey_id"))
	if err != nil || surveyID <= 0 || sessionID == "" {
		rt.writeError(w, r, services.NewInvalidError("session_id and survey_id required"))
		return
	}
	snap, err := rt.svc.Progress(sessionID, surveyID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	responses := make(map[string]progressAnswer, len(snap.Answers))
	for _, a := range snap.Answers {
		responses[strconv.Itoa(a.QuestionID)] = progressAnswer{Value: a.Answer, Timestamp: snap.LastUpdated}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"survey_id":              snap.SurveyID,
		"session_id":             snap.SessionID,
		"current_question_index": len(snap.Answers),
		"total_questions":        len(snap.Answers),
		"responses":              responses,
		"is_completed":           snap.IsCompleted,
		"started_at":             snap.StartedAt,
		"last_updated":           snap.LastUpdated,
	})
}

type completeRequest struct {
	SurveyID  int    `json:"survey_id" validate:"gt=0"`
	SessionID string `json:"session_id" validate:"required"`
}

// POST /api/sessions/complete
func (rt *Router) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !rt.decode(w, r, &req) {
		return
	}
	receipt, err := rt.svc.Complete(req.SurveyID, req.SessionID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.metrics.completions.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "receipt": receipt})
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		rt.writeError(w, r, services.NewInvalidError("malformed JSON body"))
		return false
	}
	if err := rt.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		msg := "request failed validation"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = "field " + verrs[0].Namespace() + " failed " + verrs[0].Tag()
		}
		rt.writeError(w, r, services.NewInvalidError(msg))
		return false
	}
	return true
}

var statusByCode = map[services.ErrorCode]int{
	services.ErrorInvalid:         http.StatusBadRequest,
	services.ErrorNotFound:        http.StatusNotFound,
	services.ErrorConflict:        http.StatusConflict,
	services.ErrorSessionExpired:  http.StatusGone,
	services.ErrorSessionInvalid:  http.StatusNotFound,
	services.ErrorSessionLocked:   http.StatusConflict,
	services.ErrorTooManyRequests: http.StatusTooManyRequests,
}

// writeError renders {"error":{"message","code"}}. Messages for codes in the
// catalogue are localised; the rest pass the service message through.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.log.Error("session endpoint failure", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error", "internal"))
		return
	}
	rt.metrics.rejections.WithLabelValues(string(se.Code)).Inc()
	status, ok := statusByCode[se.Code]
	if !ok {
		status = http.StatusBadRequest
	}
	msg := se.Message
	key := "error." + string(se.Code)
	if utils.Has(key) && se.Code != services.ErrorInvalid {
		msg = utils.T(middleware.LocaleFromContext(r.Context()), key)
	}
	writeJSON(w, status, errorBody(msg, string(se.Code)))
}

func errorBody(message, code string) map[string]any {
	return map[string]any{"error": map[string]string{"message": message, "code": code}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
