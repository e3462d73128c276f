package handoff

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps handoff records in memory for the life of the process. Terminal
// records are retained in a bounded window; non-terminal records are never
// evicted. At most one non-terminal record may exist per session.
type Store struct {
	mu            sync.Mutex
	records       map[string]*Record
	activeBySess  map[string]string // session id -> non-terminal record id
	terminalOrder []string          // terminal record ids, oldest first
	historyLimit  int
}

// NewStore creates a store retaining up to historyLimit terminal records.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Store{
		records:      make(map[string]*Record),
		activeBySess: make(map[string]string),
		historyLimit: historyLimit,
	}
}

// Create registers a new REQUESTED record for the session. Returns
// DuplicateHandoffError if the session already has a handoff in flight.
func (s *Store) Create(sessionID, targetCategory string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if activeID, busy := s.activeBySess[sessionID]; busy {
		return nil, &DuplicateHandoffError{SessionID: sessionID, ActiveID: activeID}
	}

	now := time.Now()
	rec := &Record{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		TargetCategory: targetCategory,
		State:          StateRequested,
		CorrelationID:  uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.records[rec.ID] = rec
	s.activeBySess[sessionID] = rec.ID
	return s.snapshotLocked(rec), nil
}

// Transition advances a record to the next state, applying the optional mutate
// function under the store lock. Terminal transitions release the session's
// in-flight guard and enroll the record in the retention window.
func (s *Store) Transition(id string, to State, mutate func(*Record)) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if !canTransition(rec.State, to) {
		return nil, ErrInvalidTransition
	}

	rec.State = to
	rec.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(rec)
	}

	if to.IsTerminal() {
		if s.activeBySess[rec.SessionID] == id {
			delete(s.activeBySess, rec.SessionID)
		}
		s.terminalOrder = append(s.terminalOrder, id)
		s.evictLocked()
	}
	return s.snapshotLocked(rec), nil
}

// Get returns a copy of the record, or ErrRecordNotFound.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.snapshotLocked(rec), nil
}

// Active returns the session's in-flight record id, if any.
func (s *Store) Active(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.activeBySess[sessionID]
	return id, ok
}

// Len reports the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) evictLocked() {
	for len(s.terminalOrder) > s.historyLimit {
		oldest := s.terminalOrder[0]
		s.terminalOrder = s.terminalOrder[1:]
		delete(s.records, oldest)
	}
}

func (s *Store) snapshotLocked(rec *Record) *Record {
	out := *rec
	if rec.Result != nil {
		out.Result = make(map[string]interface{}, len(rec.Result))
		for k, v := range rec.Result {
			out.Result[k] = v
		}
	}
	out.ResolvedVia = append([]string(nil), rec.ResolvedVia...)
	return &out
}
