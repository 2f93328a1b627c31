package recurrence

import "strings"

// Scope selects whether a series mutation touches one occurrence or the whole series.
type Scope string

const (
	ScopeThis Scope = "this"
	ScopeAll  Scope = "all"
)

// ParseScope accepts "this" or "all" in any case.
func ParseScope(raw string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeThis:
		return ScopeThis, true
	case ScopeAll:
		return ScopeAll, true
	}
	return "", false
}

// IsPartOfSeries is the single predicate deciding whether a mutation needs a scope choice.
func IsPartOfSeries(t Type, parentID *string) bool {
	if parentID != nil && *parentID != "" {
		return true
	}
	return t != "" && t != TypeNone
}
