// Package ai produces simulated chat replies "as" an ambassador persona.
//
// It knows nothing about matches, locks, or sockets: callers hand it a
// persona and a role-tagged history and get text back. Single-flight and
// timing are the caller's concern.
package ai

import "context"

// Role tags a history turn by speaker side.
type Role string

const (
	// RoleCounterpart is the simulated ambassador whose voice we generate.
	RoleCounterpart Role = "counterpart"
	// RoleVisitor is the human party.
	RoleVisitor Role = "visitor"
)

// Turn is one message of conversational context, oldest first.
type Turn struct {
	Role Role
	Text string
}

// Persona is the subset of an ambassador profile the prompt needs.
// Age and Location are optional and omitted from the prompt when absent.
type Persona struct {
	Name     string
	Age      *int
	Location string
	Bio      string
	Skills   []string
}

// Generator produces a reply in the persona's voice given prior conversation.
type Generator interface {
	Generate(ctx context.Context, persona Persona, history []Turn) (string, error)
}
