package rbac

import "strings"

// MatchPattern reports whether a dotted action or resource pattern matches name.
//
//	*                matches everything
//	dashboard.*      matches dashboard.summary and dashboard.summary.q1, not dashboard
//	*.view           matches any two-segment name ending in view
//	scan.ruleset*    matches scan.ruleset and scan.ruleset.x, never scan.rulesetX
//
// Matching is per segment, so a wildcard never crosses or splits a dot.
func MatchPattern(pattern, name string) bool {
	if pattern == "" || name == "" {
		return false
	}
	if pattern == "*" || pattern == name {
		return true
	}

	pp := strings.Split(pattern, ".")
	np := strings.Split(name, ".")

	for i, seg := range pp {
		last := i == len(pp)-1

		if seg == "*" {
			if last {
				return len(np) > i
			}
			if i >= len(np) {
				return false
			}
			continue
		}

		if last && strings.HasSuffix(seg, "*") {
			// trailing partial wildcard is widened to the segment boundary
			prefix := strings.TrimSuffix(seg, "*")
			return i < len(np) && np[i] == prefix
		}

		if i >= len(np) || np[i] != seg {
			return false
		}
	}
	return len(pp) == len(np)
}

// IsWildcard reports whether pattern contains a wildcard segment
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// ValidPattern reports whether pattern is a well-formed dotted name, allowing
// "*" segments and a trailing partial wildcard.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if seg == "" {
			return false
		}
		if seg == "*" {
			continue
		}
		star := strings.IndexByte(seg, '*')
		if star >= 0 && (i != len(segs)-1 || star != len(seg)-1) {
			return false
		}
	}
	return true
}
