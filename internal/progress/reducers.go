package progress

import "time"

// Answer is one collected response. Value is whatever the question produced:
// string, number, bool or a list.
type Answer struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the in-flight state of one survey.
type Record struct {
	SurveyID             string            `json:"surveyId"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	TotalQuestions       int               `json:"totalQuestions"`
	Responses            map[string]Answer `json:"responses"`
	IsCompleted          bool              `json:"isCompleted"`
	StartedAt            time.Time         `json:"startedAt"`
	LastUpdated          time.Time         `json:"lastUpdated"`
}

// State is everything the store persists.
type State struct {
	Progress      map[string]Record `json:"progress"`
	CurrentSurvey string            `json:"currentSurvey,omitempty"`
}

func emptyState() State {
	return State{Progress: map[string]Record{}}
}

// The reducers below never mutate their input: each returns a new State that
// shares untouched records with the old one, and whether anything changed.

func (s State) with(id string, r Record) State {
	next := State{Progress: make(map[string]Record, len(s.Progress)+1), CurrentSurvey: s.CurrentSurvey}
	for k, v := range s.Progress {
		next.Progress[k] = v
	}
	next.Progress[id] = r
	return next
}

func (s State) without(id string) State {
	next := State{Progress: make(map[string]Record, len(s.Progress)), CurrentSurvey: s.CurrentSurvey}
	for k, v := range s.Progress {
		if k != id {
			next.Progress[k] = v
		}
	}
	if next.CurrentSurvey == id {
		next.CurrentSurvey = ""
	}
	return next
}

func copyResponses(in map[string]Answer) map[string]Answer {
	out := make(map[string]Answer, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func lastIndex(r Record) int {
	if r.TotalQuestions <= 1 {
		return 0
	}
	return r.TotalQuestions - 1
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}

// startSurvey replaces any prior attempt with a fresh record at index 0.
func startSurvey(s State, id string, total int, now time.Time) (State, bool) {
	if total < 0 {
		total = 0
	}
	next := s.with(id, Record{
		SurveyID:       id,
		TotalQuestions: total,
		Responses:      map[string]Answer{},
		StartedAt:      now,
		LastUpdated:    now,
	})
	next.CurrentSurvey = id
	return next, true
}

func saveResponse(s State, id, questionID string, value any, now time.Time) (State, bool) {
	r, ok := s.Progress[id]
	if !ok || r.IsCompleted {
		return s, false
	}
	r.Responses = copyResponses(r.Responses)
	r.Responses[questionID] = Answer{Value: value, Timestamp: now}
	r.LastUpdated = now
	return s.with(id, r), true
}

func moveQuestion(s State, id string, delta int, now time.Time) (State, bool) {
	r, ok := s.Progress[id]
	if !ok || r.IsCompleted {
		return s, false
	}
	idx := clamp(r.CurrentQuestionIndex+delta, 0, lastIndex(r))
	if idx == r.CurrentQuestionIndex {
		return s, false
	}
	r.CurrentQuestionIndex = idx
	r.LastUpdated = now
	return s.with(id, r), true
}

func completeSurvey(s State, id string, now time.Time) (State, bool) {
	r, ok := s.Progress[id]
	if !ok || r.IsCompleted {
		return s, false
	}
	r.IsCompleted = true
	r.LastUpdated = now
	next := s.with(id, r)
	if next.CurrentSurvey == id {
		next.CurrentSurvey = ""
	}
	return next, true
}

func clearProgress(s State, id string) (State, bool) {
	if _, ok := s.Progress[id]; !ok && s.CurrentSurvey != id {
		return s, false
	}
	return s.without(id), true
}

// normalize repairs state decoded from storage: nil maps and out-of-range
// indexes left behind by older writers or hand edits.
func normalize(s State) State {
	if s.Progress == nil {
		s.Progress = map[string]Record{}
	}
	for id, r := range s.Progress {
		if r.Responses == nil {
			r.Responses = map[string]Answer{}
		}
		if r.SurveyID == "" {
			r.SurveyID = id
		}
		r.CurrentQuestionIndex = clamp(r.CurrentQuestionIndex, 0, lastIndex(r))
		s.Progress[id] = r
	}
	if _, ok := s.Progress[s.CurrentSurvey]; !ok {
		s.CurrentSurvey = ""
	}
	return s
}
