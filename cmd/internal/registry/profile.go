// Package registry owns marketplace participants: brand and ambassador
// profiles, likes, and the mutual matches they form.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Profile kinds.
const (
	KindBrand      = "brand"
	KindAmbassador = "ambassador"
)

var (
	// ErrProfileNotFound is returned when a profile id does not exist.
	ErrProfileNotFound = errors.New("registry: profile not found")
	// ErrInvalidProfile is returned for structurally invalid profile input.
	ErrInvalidProfile = errors.New("registry: invalid profile")
)

// Profile is a marketplace participant.
//
// Simulated and Preview are the two-sided opt-in for automated replies:
// Simulated marks an ambassador whose side of a chat is machine-generated,
// Preview marks a demo brand account eligible to receive those replies.
// Automated replies require both flags across the pair, never one alone.
type Profile struct {
	ID          string
	Kind        string
	DisplayName string
	Bio         string
	Location    string
	Age         *int
	Skills      []string
	Email       string
	Simulated   bool
	Preview     bool
	CreatedAt   time.Time
}

// Validate checks the fields a store refuses to persist without.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("%w: missing display_name", ErrInvalidProfile)
	}
	switch p.Kind {
	case KindBrand, KindAmbassador:
	default:
		return fmt.Errorf("%w: kind must be brand or ambassador", ErrInvalidProfile)
	}
	if p.Age != nil && (*p.Age < 16 || *p.Age > 120) {
		return fmt.Errorf("%w: age out of range", ErrInvalidProfile)
	}
	return nil
}

// ProfileStore persists participant profiles.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	GetProfile(ctx context.Context, id string) (Profile, error)
	UpdateProfile(ctx context.Context, p Profile) (Profile, error)
	// ListAmbassadors returns the discovery feed for the swipe UI,
	// newest first.
	ListAmbassadors(ctx context.Context, limit int) ([]Profile, error)
}
