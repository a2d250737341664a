package signaling

import (
	"errors"
	"sort"

	"call-signaling/internal/calls"
)

var errDuplicateCall = errors.New("signaling: duplicate call id")

// Store holds live (non-terminal) sessions keyed by call id.
type Store struct {
	sessions map[string]*calls.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*calls.Session)}
}

func (s *Store) Create(sess *calls.Session) error {
	if _, exists := s.sessions[sess.ID]; exists {
		return errDuplicateCall
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) Get(callID string) (*calls.Session, bool) {
	sess, ok := s.sessions[callID]
	return sess, ok
}

func (s *Store) Delete(callID string) {
	delete(s.sessions, callID)
}

func (s *Store) Len() int { return len(s.sessions) }

// ByConn returns the sessions that froze connID as caller or participant,
// oldest first.
func (s *Store) ByConn(connID string) []*calls.Session {
	var out []*calls.Session
	for _, sess := range s.sessions {
		if sess.HasParty(connID) {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out
}

// Busy reports whether identityID is a party to any live session.
func (s *Store) Busy(identityID string) bool {
	for _, sess := range s.sessions {
		if sess.CallerID == identityID || sess.ParticipantID == identityID {
			return true
		}
	}
	return false
}

// List copies every live session, oldest first.
func (s *Store) List() []calls.Session {
	ptrs := make([]*calls.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		ptrs = append(ptrs, sess)
	}
	sortSessions(ptrs)

	out := make([]calls.Session, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

func sortSessions(ss []*calls.Session) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].CreatedAt.Before(ss[j].CreatedAt)
	})
}
