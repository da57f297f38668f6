package api

import (
	"sync"

	"github.com/soaringjerry/synap-respond/internal/services"
)

// memoryStore keeps issued sessions for the lifetime of the process.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*services.SessionRecord
	// submitted[surveyID][digest] = token
	submitted map[int]map[string]string
	audit     []services.AuditEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions:  map[string]*services.SessionRecord{},
		submitted: map[int]map[string]string{},
	}
}

func copyRecord(r *services.SessionRecord) *services.SessionRecord {
	cp := *r
	cp.Answers = append([]services.Answer(nil), r.Answers...)
	return &cp
}

func (s *memoryStore) AddSession(r *services.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[r.Token] = copyRecord(r)
	return nil
}

func (s *memoryStore) GetSession(token string) (*services.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (s *memoryStore) UpdateSession(r *services.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[r.Token] = copyRecord(r)
	return nil
}

func (s *memoryStore) MarkSubmitted(r *services.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[r.Token]; ok && cur.Submitted() {
		return services.ErrAlreadySubmitted
	}
	if r.FingerprintDigest != "" {
		if tok, ok := s.submitted[r.SurveyID][r.FingerprintDigest]; ok && tok != r.Token {
			return services.ErrDeviceSubmitted
		}
		if s.submitted[r.SurveyID] == nil {
			s.submitted[r.SurveyID] = map[string]string{}
		}
		s.submitted[r.SurveyID][r.FingerprintDigest] = r.Token
	}
	s.sessions[r.Token] = copyRecord(r)
	return nil
}

func (s *memoryStore) FindSubmittedByDigest(surveyID int, digest string) (*services.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.submitted[surveyID][digest]
	if !ok {
		return nil, nil
	}
	return copyRecord(s.sessions[tok]), nil
}

func (s *memoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	// cap audit log
	if len(s.audit) > 1000 {
		s.audit = s.audit[len(s.audit)-1000:]
	}
}

func (s *memoryStore) auditLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.audit)
}
