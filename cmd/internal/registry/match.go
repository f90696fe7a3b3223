package registry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMatchNotFound is returned when a match id does not exist.
	ErrMatchNotFound = errors.New("registry: match not found")
	// ErrSelfLike is returned when a participant likes themselves.
	ErrSelfLike = errors.New("registry: cannot like own profile")
)

// Match is a mutually-established channel between exactly two participants.
// BrandID is the initiator side. Matches are immutable after creation; their
// only evolving state lives in child messages.
type Match struct {
	ID           string
	BrandID      string
	AmbassadorID string
	CreatedAt    time.Time
}

// Participants returns both participant ids.
func (m Match) Participants() (string, string) {
	return m.BrandID, m.AmbassadorID
}

// Has reports whether id is one of the match's two participants.
func (m Match) Has(id string) bool {
	return id != "" && (id == m.BrandID || id == m.AmbassadorID)
}

// Counterpart returns the other participant, or "" if id is not a member.
func (m Match) Counterpart(id string) string {
	switch id {
	case m.BrandID:
		return m.AmbassadorID
	case m.AmbassadorID:
		return m.BrandID
	default:
		return ""
	}
}

// LikeResult reports the outcome of recording a like.
type LikeResult struct {
	// Matched is true when the like was reciprocal and a match now exists.
	Matched bool
	// Match is set when Matched is true, or when the pair was already matched.
	Match *Match
}

// MatchStore persists likes and matches.
//
// Invariants:
//   - a match's two participant ids are distinct
//   - at most one match exists per unordered pair
//   - Like is idempotent; re-liking never creates a second match
type MatchStore interface {
	// Like records sender's interest in receiver and atomically forms a
	// match when the reverse like already exists.
	Like(ctx context.Context, senderID, receiverID string) (LikeResult, error)
	GetMatch(ctx context.Context, id string) (Match, error)
	// MatchBetween returns the match for an unordered pair, if any.
	MatchBetween(ctx context.Context, a, b string) (Match, bool, error)
	ListMatches(ctx context.Context, participantID string) ([]Match, error)
}
