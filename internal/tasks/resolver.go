package tasks

import (
	"regexp"
	"strings"
)

var (
	idPatternRe    = regexp.MustCompile(`initiative-([A-Za-z0-9_-]+)`)
	titlePrefixRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*-[A-Za-z0-9]+):\s`)
)

// ResolveInitiative infers the initiative a task belongs to. Precedence,
// first match wins:
//  1. the explicit initiative_id field
//  2. an "initiative-<id>" pattern embedded in the task id
//  3. an "<ID>: " prefix on the task title
//
// Returns the initiative id and true, or "" and false when the task is
// not attached to any initiative.
func ResolveInitiative(t *Task) (string, bool) {
	if t == nil {
		return "", false
	}
	if v := strings.TrimSpace(t.InitiativeID); v != "" {
		return v, true
	}
	if m := idPatternRe.FindStringSubmatch(t.ID); m != nil {
		return m[1], true
	}
	if m := titlePrefixRe.FindStringSubmatch(t.Title); m != nil {
		return m[1], true
	}
	return "", false
}
