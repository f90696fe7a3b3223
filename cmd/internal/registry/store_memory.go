package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"brandlink/cmd/internal/ids"
)

// ErrKindMismatch is returned when a like does not pair a brand with an ambassador.
var ErrKindMismatch = errors.New("registry: like requires one brand and one ambassador")

// MemoryStore is the dev/test implementation of ProfileStore and MatchStore.
// Semantics mirror PostgresStore so tests exercise the same contract.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	likes    map[[2]string]time.Time // [sender, receiver]
	matches  map[string]Match
	byPair   map[[2]string]string // ordered pair -> match id
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]Profile),
		likes:    make(map[[2]string]time.Time),
		matches:  make(map[string]Match),
		byPair:   make(map[[2]string]string),
	}
}

// CreateProfile persists a new profile, assigning id and creation time.
func (s *MemoryStore) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	now := time.Now().UTC()
	p.ID = ids.MustULID(now)
	p.CreatedAt = now

	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

// GetProfile returns a profile by id.
func (s *MemoryStore) GetProfile(_ context.Context, id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// UpdateProfile replaces mutable profile fields.
func (s *MemoryStore) UpdateProfile(_ context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.profiles[p.ID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	p.Kind = cur.Kind
	p.CreatedAt = cur.CreatedAt
	s.profiles[p.ID] = p
	return p, nil
}

// ListAmbassadors returns ambassador profiles, newest first.
func (s *MemoryStore) ListAmbassadors(_ context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	out := make([]Profile, 0, limit)
	for _, p := range s.profiles {
		if p.Kind == KindAmbassador {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Like records a like and forms a match when reciprocal.
func (s *MemoryStore) Like(_ context.Context, senderID, receiverID string) (LikeResult, error) {
	if senderID == receiverID {
		return LikeResult{}, ErrSelfLike
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.profiles[senderID]
	if !ok {
		return LikeResult{}, ErrProfileNotFound
	}
	receiver, ok := s.profiles[receiverID]
	if !ok {
		return LikeResult{}, ErrProfileNotFound
	}
	if sender.Kind == receiver.Kind {
		return LikeResult{}, ErrKindMismatch
	}

	now := time.Now().UTC()
	if _, seen := s.likes[[2]string{senderID, receiverID}]; !seen {
		s.likes[[2]string{senderID, receiverID}] = now
	}

	pair := orderedPair(senderID, receiverID)
	if id, ok := s.byPair[pair]; ok {
		m := s.matches[id]
		return LikeResult{Match: &m}, nil
	}

	if _, reciprocal := s.likes[[2]string{receiverID, senderID}]; !reciprocal {
		return LikeResult{}, nil
	}

	m := Match{ID: ids.MustULID(now), CreatedAt: now}
	if sender.Kind == KindBrand {
		m.BrandID, m.AmbassadorID = senderID, receiverID
	} else {
		m.BrandID, m.AmbassadorID = receiverID, senderID
	}
	s.matches[m.ID] = m
	s.byPair[pair] = m.ID
	return LikeResult{Matched: true, Match: &m}, nil
}

// GetMatch returns a match by id.
func (s *MemoryStore) GetMatch(_ context.Context, id string) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return Match{}, ErrMatchNotFound
	}
	return m, nil
}

// MatchBetween returns the match for an unordered pair, if any.
func (s *MemoryStore) MatchBetween(_ context.Context, a, b string) (Match, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[orderedPair(a, b)]
	if !ok {
		return Match{}, false, nil
	}
	return s.matches[id], true, nil
}

// ListMatches returns all matches a participant belongs to, newest first.
func (s *MemoryStore) ListMatches(_ context.Context, participantID string) ([]Match, error) {
	s.mu.Lock()
	out := make([]Match, 0, 8)
	for _, m := range s.matches {
		if m.Has(participantID) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func orderedPair(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
