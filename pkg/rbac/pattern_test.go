package rbac

import (
	"testing"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything.at.all", true},
		{"dashboard.view", "dashboard.view", true},
		{"dashboard.view", "dashboard.edit", false},
		{"dashboard.*", "dashboard.summary", true},
		{"dashboard.*", "dashboard.summary.q1", true},
		{"dashboard.*", "dashboard", false},
		{"*.view", "dashboard.view", true},
		{"*.view", "dashboard.summary.view", false},
		{"table.*.read", "table.sales.read", true},
		{"table.*.read", "table.sales.write", false},
		{"scan.ruleset*", "scan.ruleset", true},
		{"scan.ruleset*", "scan.ruleset.nightly", true},
		{"scan.ruleset*", "scan.rulesetX", false},
		{"", "dashboard", false},
		{"dashboard", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.name, func(t *testing.T) {
			if got := MatchPattern(tt.pattern, tt.name); got != tt.want {
				t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
			}
		})
	}
}

func TestValidPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"*", true},
		{"dashboard.view", true},
		{"dashboard.*", true},
		{"scan.ruleset*", true},
		{"", false},
		{"dashboard..view", false},
		{".dashboard", false},
		{"dash*board", false},
	}

	for _, tt := range tests {
		if got := ValidPattern(tt.pattern); got != tt.want {
			t.Errorf("ValidPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}
