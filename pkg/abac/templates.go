package abac

import (
	"encoding/json"
	"time"
)

// Template is a reusable, named condition.
type Template struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Conditions  json.RawMessage `json:"conditions"`
	IsBuiltIn   bool            `json:"is_built_in"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BuiltInTemplates returns the templates shipped with the service.
func BuiltInTemplates() []Template {
	return []Template{
		{
			ID:          "same_region",
			Name:        "Same region",
			Description: "Resource region must match the user's region",
			Category:    "location",
			Conditions:  json.RawMessage(`{"region":{"op":"user_attr","value":"region"}}`),
			IsBuiltIn:   true,
		},
		{
			ID:          "owner_only",
			Name:        "Owner only",
			Description: "Only the resource owner",
			Category:    "ownership",
			Conditions:  json.RawMessage(`{"resource.owner_id":{"op":"user_attr","value":"id"}}`),
			IsBuiltIn:   true,
		},
		{
			ID:          "same_department",
			Name:        "Same department",
			Description: "Resource department must match the user's department",
			Category:    "organization",
			Conditions:  json.RawMessage(`{"resource.department":{"op":"user_attr","value":"department"}}`),
			IsBuiltIn:   true,
		},
		{
			ID:          "mfa_required",
			Name:        "MFA required",
			Description: "User must have multi-factor authentication enabled",
			Category:    "security",
			Conditions:  json.RawMessage(`{"user.mfa_enabled":true}`),
			IsBuiltIn:   true,
		},
		{
			ID:          "high_clearance",
			Name:        "High clearance",
			Description: "User clearance level 3 or above",
			Category:    "security",
			Conditions:  json.RawMessage(`{"user.clearance":{"op":"gte","value":3}}`),
			IsBuiltIn:   true,
		},
	}
}
