// Package rules persists escalation and auto-close rule definitions and
// serves the active-rule set behind a TTL-bounded snapshot cache.
package rules

import (
	"fmt"
	"time"

	"github.com/fleetworks/klaxon/internal/alerts"
)

// AutoCloseDocumentValid is the only auto-close sentinel currently evaluated.
// Unknown sentinels are stored but never fire.
const AutoCloseDocumentValid = "document_valid"

// Conditions is the predicate payload of a rule. Escalation rules set
// EscalateIfCount (and usually WindowMins); auto-close rules set AutoCloseIf.
// At least one field must be set.
type Conditions struct {
	EscalateIfCount int    `json:"escalate_if_count,omitempty" yaml:"escalate_if_count"`
	WindowMins      int    `json:"window_mins,omitempty" yaml:"window_mins"`
	AutoCloseIf     string `json:"auto_close_if,omitempty" yaml:"auto_close_if"`
	ExpireAfterMins int    `json:"expire_after_mins,omitempty" yaml:"expire_after_mins"`
}

// Empty reports whether no condition field is set.
func (c Conditions) Empty() bool {
	return c.EscalateIfCount == 0 && c.WindowMins == 0 && c.AutoCloseIf == "" && c.ExpireAfterMins == 0
}

// Rule is a named predicate bound to one source type.
type Rule struct {
	RuleID      string            `json:"rule_id"`
	SourceType  alerts.SourceType `json:"source_type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Conditions  Conditions        `json:"conditions"`
	IsActive    bool              `json:"is_active"`
	Priority    int               `json:"priority"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
}

// Patch carries a partial rule update; nil fields are left unchanged.
type Patch struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	SourceType  *alerts.SourceType `json:"source_type,omitempty"`
	Conditions  *Conditions        `json:"conditions,omitempty"`
	IsActive    *bool              `json:"is_active,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
}

func validateRule(rule Rule) error {
	if rule.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if !alerts.ValidSourceType(rule.SourceType) {
		return fmt.Errorf("unknown source_type: %s", rule.SourceType)
	}
	if rule.Name == "" {
		return fmt.Errorf("name is required")
	}
	if rule.Conditions.Empty() {
		return fmt.Errorf("at least one condition is required")
	}
	return nil
}
