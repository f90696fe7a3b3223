package ai

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt renders a persona into the system instruction for the
// chat model. Optional fields (age, location) are skipped when absent rather
// than rendered as blanks.
func BuildSystemPrompt(p Persona) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "the ambassador"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a brand ambassador chatting with a brand representative inside a marketplace app.", name)

	var facts []string
	if p.Age != nil {
		facts = append(facts, fmt.Sprintf("You are %d years old.", *p.Age))
	}
	if loc := strings.TrimSpace(p.Location); loc != "" {
		facts = append(facts, fmt.Sprintf("You are based in %s.", loc))
	}
	if bio := strings.TrimSpace(p.Bio); bio != "" {
		facts = append(facts, fmt.Sprintf("About you: %s", bio))
	}
	if len(p.Skills) > 0 {
		facts = append(facts, fmt.Sprintf("Your skills and specialties: %s.", strings.Join(p.Skills, ", ")))
	}
	if len(facts) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(facts, "\n"))
	}

	b.WriteString("\n\nStay in character as ")
	b.WriteString(name)
	b.WriteString(". Reply with a single short, friendly chat message. ")
	b.WriteString("Be professional but casual, show interest in the brand's needs, and never mention being an AI or a simulation.")
	return b.String()
}
