// Package memory provides a map-backed implementation of the persistence
// repositories. It mirrors the SQL store's semantics (unique keys, cascading
// deletes) and records every call so tests can assert on write volume.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/elektrorate/calendario-taller-jesus/internal/persistence"
)

// Operation names reported to failure hooks and call counters.
const (
	OpCreateEnrollee = "create_enrollee"
	OpUpdateEnrollee = "update_enrollee"
	OpGetEnrollee    = "get_enrollee"
	OpListEnrollees  = "list_enrollees"
	OpDeleteEnrollee = "delete_enrollee"
	OpReplaceSlots   = "replace_slots"
	OpCreateSession  = "create_session"
	OpUpdateSession  = "update_session"
	OpGetSession     = "get_session"
	OpFindSessions   = "find_sessions"
	OpDeleteSession  = "delete_session"
	OpFindLinks      = "find_links"
	OpUpsertLinks    = "upsert_links"
	OpDeleteLinks    = "delete_links"
)

var writeOps = map[string]bool{
	OpCreateEnrollee: true,
	OpUpdateEnrollee: true,
	OpDeleteEnrollee: true,
	OpReplaceSlots:   true,
	OpCreateSession:  true,
	OpUpdateSession:  true,
	OpDeleteSession:  true,
	OpUpsertLinks:    true,
	OpDeleteLinks:    true,
}

// FailureFunc decides whether a call should fail. key identifies the target
// row (an id, or "date|start" for session lookups).
type FailureFunc func(op, key string) error

type linkKey struct {
	sessionID  string
	enrolleeID string
}

// Storage is an in-memory store for enrollees, sessions and links.
type Storage struct {
	mu        sync.RWMutex
	enrollees map[string]persistence.Enrollee
	sessions  map[string]persistence.Session
	links     map[linkKey]persistence.Link
	calls     map[string]int
	fail      FailureFunc
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		enrollees: make(map[string]persistence.Enrollee),
		sessions:  make(map[string]persistence.Session),
		links:     make(map[linkKey]persistence.Link),
		calls:     make(map[string]int),
	}
}

// InjectFailure installs fn as the failure hook; nil removes it.
func (s *Storage) InjectFailure(fn FailureFunc) {
	s.mu.Lock()
	s.fail = fn
	s.mu.Unlock()
}

// Calls returns how many times op was invoked, including failed calls.
func (s *Storage) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Writes returns the number of write calls issued so far.
func (s *Storage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for op, n := range s.calls {
		if writeOps[op] {
			total += n
		}
	}
	return total
}

// ResetCalls zeroes the call counters.
func (s *Storage) ResetCalls() {
	s.mu.Lock()
	s.calls = make(map[string]int)
	s.mu.Unlock()
}

func (s *Storage) enterLocked(op, key string) error {
	s.calls[op]++
	if s.fail == nil {
		return nil
	}
	return s.fail(op, key)
}

// --- EnrolleeRepository implementation ---

// CreateEnrollee stores a new enrollee.
func (s *Storage) CreateEnrollee(ctx context.Context, enrollee persistence.Enrollee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpCreateEnrollee, enrollee.ID); err != nil {
		return err
	}
	if enrollee.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.enrollees[enrollee.ID]; ok {
		return fmt.Errorf("memory: enrollee %s: %w", enrollee.ID, persistence.ErrDuplicate)
	}
	s.enrollees[enrollee.ID] = persistence.CloneEnrollee(enrollee)
	return nil
}

// UpdateEnrollee replaces the enrollee's profile fields. The slot list is
// only changed through ReplaceSlots.
func (s *Storage) UpdateEnrollee(ctx context.Context, enrollee persistence.Enrollee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpUpdateEnrollee, enrollee.ID); err != nil {
		return err
	}
	existing, ok := s.enrollees[enrollee.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	updated := persistence.CloneEnrollee(enrollee)
	updated.Slots = existing.Slots
	updated.CreatedAt = existing.CreatedAt
	s.enrollees[enrollee.ID] = updated
	return nil
}

// GetEnrollee retrieves an enrollee by ID.
func (s *Storage) GetEnrollee(ctx context.Context, id string) (persistence.Enrollee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpGetEnrollee, id); err != nil {
		return persistence.Enrollee{}, err
	}
	enrollee, ok := s.enrollees[id]
	if !ok {
		return persistence.Enrollee{}, persistence.ErrNotFound
	}
	return persistence.CloneEnrollee(enrollee), nil
}

// ListEnrollees returns all enrollees ordered by last name, first name and ID.
func (s *Storage) ListEnrollees(ctx context.Context) ([]persistence.Enrollee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpListEnrollees, ""); err != nil {
		return nil, err
	}
	out := make([]persistence.Enrollee, 0, len(s.enrollees))
	for _, enrollee := range s.enrollees {
		out = append(out, persistence.CloneEnrollee(enrollee))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteEnrollee removes an enrollee and its links.
func (s *Storage) DeleteEnrollee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpDeleteEnrollee, id); err != nil {
		return err
	}
	if _, ok := s.enrollees[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.enrollees, id)
	for key := range s.links {
		if key.enrolleeID == id {
			delete(s.links, key)
		}
	}
	return nil
}

// ReplaceSlots overwrites the stored slot list of an enrollee.
func (s *Storage) ReplaceSlots(ctx context.Context, enrolleeID string, slots []persistence.AssignedSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpReplaceSlots, enrolleeID); err != nil {
		return err
	}
	enrollee, ok := s.enrollees[enrolleeID]
	if !ok {
		return persistence.ErrNotFound
	}
	enrollee.Slots = slices.Clone(slots)
	s.enrollees[enrolleeID] = enrollee
	return nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new session.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpCreateSession, session.ID); err != nil {
		return err
	}
	if session.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("memory: session %s: %w", session.ID, persistence.ErrDuplicate)
	}
	s.sessions[session.ID] = persistence.CloneSession(session)
	return nil
}

// UpdateSession replaces an existing session.
func (s *Storage) UpdateSession(ctx context.Context, session persistence.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpUpdateSession, session.ID); err != nil {
		return err
	}
	existing, ok := s.sessions[session.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	updated := persistence.CloneSession(session)
	updated.CreatedAt = existing.CreatedAt
	s.sessions[session.ID] = updated
	return nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpGetSession, id); err != nil {
		return persistence.Session{}, err
	}
	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return persistence.CloneSession(session), nil
}

// FindSessions returns sessions matching filter ordered by date, start time,
// creation time and ID.
func (s *Storage) FindSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpFindSessions, filter.Date+"|"+filter.StartTime); err != nil {
		return nil, err
	}
	out := make([]persistence.Session, 0)
	for _, session := range s.sessions {
		if matchesSession(session, filter) {
			out = append(out, persistence.CloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes a session and its links.
func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpDeleteSession, id); err != nil {
		return err
	}
	if _, ok := s.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.sessions, id)
	for key := range s.links {
		if key.sessionID == id {
			delete(s.links, key)
		}
	}
	return nil
}

func matchesSession(session persistence.Session, filter persistence.SessionFilter) bool {
	switch {
	case filter.Date != "" && session.Date != filter.Date:
		return false
	case filter.StartTime != "" && session.StartTime != filter.StartTime:
		return false
	case filter.EndTime != "" && session.EndTime != filter.EndTime:
		return false
	case filter.Kind != "" && session.Kind != filter.Kind:
		return false
	case filter.DateFrom != "" && session.Date < filter.DateFrom:
		return false
	case filter.DateTo != "" && session.Date > filter.DateTo:
		return false
	}
	return true
}

// --- LinkRepository implementation ---

// FindLinks returns links matching filter ordered by session and name.
func (s *Storage) FindLinks(ctx context.Context, filter persistence.LinkFilter) ([]persistence.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpFindLinks, filter.SessionID+"|"+filter.EnrolleeID); err != nil {
		return nil, err
	}
	out := make([]persistence.Link, 0)
	for _, link := range s.links {
		if matchesLink(link, filter) {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		if out[i].NameSnapshot != out[j].NameSnapshot {
			return out[i].NameSnapshot < out[j].NameSnapshot
		}
		return out[i].EnrolleeID < out[j].EnrolleeID
	})
	return out, nil
}

// UpsertLinks inserts or replaces rows keyed on (SessionID, EnrolleeID).
// Referenced sessions and enrollees must exist.
func (s *Storage) UpsertLinks(ctx context.Context, links []persistence.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ""
	if len(links) > 0 {
		key = links[0].SessionID + "|" + links[0].EnrolleeID
	}
	if err := s.enterLocked(OpUpsertLinks, key); err != nil {
		return err
	}
	for _, link := range links {
		if _, ok := s.sessions[link.SessionID]; !ok {
			return fmt.Errorf("memory: session %s: %w", link.SessionID, persistence.ErrForeignKeyViolation)
		}
		if _, ok := s.enrollees[link.EnrolleeID]; !ok {
			return fmt.Errorf("memory: enrollee %s: %w", link.EnrolleeID, persistence.ErrForeignKeyViolation)
		}
	}
	for _, link := range links {
		s.links[linkKey{sessionID: link.SessionID, enrolleeID: link.EnrolleeID}] = link
	}
	return nil
}

// DeleteLinks removes rows matching filter.
func (s *Storage) DeleteLinks(ctx context.Context, filter persistence.LinkFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enterLocked(OpDeleteLinks, filter.SessionID+"|"+filter.EnrolleeID); err != nil {
		return err
	}
	if filter.SessionID == "" && filter.EnrolleeID == "" && len(filter.EnrolleeIDs) == 0 {
		return persistence.ErrConstraintViolation
	}
	for key, link := range s.links {
		if matchesLink(link, filter) {
			delete(s.links, key)
		}
	}
	return nil
}

func matchesLink(link persistence.Link, filter persistence.LinkFilter) bool {
	if filter.SessionID != "" && link.SessionID != filter.SessionID {
		return false
	}
	if filter.EnrolleeID != "" && link.EnrolleeID != filter.EnrolleeID {
		return false
	}
	if filter.EnrolleeIDs != nil && !slices.Contains(filter.EnrolleeIDs, link.EnrolleeID) {
		return false
	}
	return true
}
