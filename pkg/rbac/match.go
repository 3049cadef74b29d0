package rbac

import (
	"fmt"
	"strings"
)

// Match reports whether pattern grants permission. Rules, first match wins:
// exact equality, bare "*", then "resource.*" on the resource segment.
func Match(pattern, permission string) bool {
	if pattern == permission {
		return true
	}
	if pattern == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return prefix != "" && resourceOf(permission) == prefix
	}
	return false
}

// MatchAny reports whether any pattern grants permission
func MatchAny(patterns []string, permission string) bool {
	for _, p := range patterns {
		if Match(p, permission) {
			return true
		}
	}
	return false
}

// resourceOf returns the text before the first '.'
func resourceOf(permission string) string {
	resource, _, _ := strings.Cut(permission, ".")
	return resource
}

// ValidatePattern rejects patterns that can never match a "resource.action" permission
func ValidatePattern(pattern string) error {
	if pattern == Wildcard {
		return nil
	}
	resource, action, ok := strings.Cut(pattern, ".")
	if !ok || resource == "" || action == "" {
		return fmt.Errorf("%w: %q must be resource.action, resource.* or *", ErrInvalidPattern, pattern)
	}
	if strings.ContainsAny(pattern, " \t\n") || strings.Contains(resource, "*") {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if strings.Contains(action, "*") && action != Wildcard {
		return fmt.Errorf("%w: %q only a whole action may be a wildcard", ErrInvalidPattern, pattern)
	}
	return nil
}

// dedupe returns the distinct patterns in first-seen order
func dedupe(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
