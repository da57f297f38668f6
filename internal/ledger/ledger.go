// Package ledger records which surveys this device has completed.
//
// The ledger is a single JSON array under storage.KeyLedger. Every read path
// treats an unavailable store, a corrupt blob or a non-array blob as "no
// data"; every write failure is logged and swallowed, since completion marking
// is best-effort.
package ledger

import (
	"log/slog"
	"time"

	"github.com/soaringjerry/synap-respond/internal/storage"
)

// DefaultRetention is how long an untouched record survives Cleanup.
const DefaultRetention = 30 * 24 * time.Hour

// Record is one completion entry. At most one exists per SurveyID.
type Record struct {
	SurveyID     string    `json:"surveyId"`
	Completed    bool      `json:"completed"`
	LastAccessed time.Time `json:"lastAccessed"`
}

type Ledger struct {
	store     storage.Storage
	log       *slog.Logger
	now       func() time.Time
	retention time.Duration
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option { return func(lg *Ledger) { lg.log = l } }

func WithClock(now func() time.Time) Option { return func(lg *Ledger) { lg.now = now } }

// WithRetention overrides DefaultRetention. Non-positive values are ignored.
func WithRetention(d time.Duration) Option {
	return func(lg *Ledger) {
		if d > 0 {
			lg.retention = d
		}
	}
}

func New(store storage.Storage, opts ...Option) *Ledger {
	lg := &Ledger{
		store:     store,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
	}
	for _, o := range opts {
		o(lg)
	}
	return lg
}

// GetAll returns every record, or an empty slice if the ledger cannot be read.
func (l *Ledger) GetAll() []Record {
	var recs []Record
	if !storage.ReadJSON(l.store, storage.KeyLedger, &recs, l.log) {
		return []Record{}
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.SurveyID != "" {
			out = append(out, r)
		}
	}
	return out
}

// GetOne returns the record for surveyID if present.
func (l *Ledger) GetOne(surveyID string) (Record, bool) {
	for _, r := range l.GetAll() {
		if r.SurveyID == surveyID {
			return r, true
		}
	}
	return Record{}, false
}

// IsCompleted is true only for an existing record with Completed set.
func (l *Ledger) IsCompleted(surveyID string) bool {
	r, ok := l.GetOne(surveyID)
	return ok && r.Completed
}

// MarkCompleted upserts the record for surveyID and refreshes LastAccessed.
func (l *Ledger) MarkCompleted(surveyID string) {
	if surveyID == "" {
		return
	}
	recs := l.GetAll()
	now := l.now()
	found := false
	for i := range recs {
		if recs[i].SurveyID == surveyID {
			recs[i].Completed = true
			recs[i].LastAccessed = now
			found = true
			break
		}
	}
	if !found {
		recs = append(recs, Record{SurveyID: surveyID, Completed: true, LastAccessed: now})
	}
	if !l.write(recs) {
		l.log.Warn("ledger: completion not recorded", "survey_id", surveyID)
	}
}

// Remove drops the record for surveyID, if any.
func (l *Ledger) Remove(surveyID string) {
	recs := l.GetAll()
	kept := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.SurveyID != surveyID {
			kept = append(kept, r)
		}
	}
	if len(kept) != len(recs) {
		l.write(kept)
	}
}

// Cleanup removes records last touched more than the retention ago and
// writes the remainder back in one write. It returns the number removed.
// A record exactly at the retention boundary is kept.
func (l *Ledger) Cleanup() int {
	recs := l.GetAll()
	now := l.now()
	kept := make([]Record, 0, len(recs))
	for _, r := range recs {
		if now.Sub(r.LastAccessed) > l.retention {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(recs) - len(kept)
	if removed > 0 {
		l.write(kept)
		l.log.Info("ledger cleanup", "removed", removed, "kept", len(kept))
	}
	return removed
}

func (l *Ledger) write(recs []Record) bool {
	return storage.WriteJSON(l.store, storage.KeyLedger, recs, l.log)
}
