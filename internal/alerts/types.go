// Package alerts implements the alert store and the state machine that
// governs every alert's lifecycle: OPEN → ESCALATED → AUTO_CLOSED/RESOLVED.
package alerts

import (
	"errors"
	"fmt"
	"time"
)

// SourceType identifies the domain channel an alert originated from.
type SourceType string

const (
	SourceOverspeeding     SourceType = "OVERSPEEDING"
	SourceCompliance       SourceType = "COMPLIANCE"
	SourceFeedbackNegative SourceType = "FEEDBACK_NEGATIVE"
	SourceFeedbackPositive SourceType = "FEEDBACK_POSITIVE"
	SourceDocumentExpiry   SourceType = "DOCUMENT_EXPIRY"
	SourceSafety           SourceType = "SAFETY"
)

// Severity classifies alert impact. Escalation promotes to CRITICAL; a
// severity is never demoted.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the alert lifecycle state. AUTO_CLOSED and RESOLVED are terminal.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusEscalated  Status = "ESCALATED"
	StatusAutoClosed Status = "AUTO_CLOSED"
	StatusResolved   Status = "RESOLVED"
)

// TriggeredBySystem marks transitions applied by the engine rather than a user.
const TriggeredBySystem = "system"

// defaultSeverity maps each source type to the severity assigned when the
// caller does not supply one.
var defaultSeverity = map[SourceType]Severity{
	SourceOverspeeding:     SeverityWarning,
	SourceCompliance:       SeverityInfo,
	SourceFeedbackNegative: SeverityWarning,
	SourceFeedbackPositive: SeverityInfo,
	SourceDocumentExpiry:   SeverityWarning,
	SourceSafety:           SeverityCritical,
}

// DefaultSeverity returns the default severity for a source type
// (INFO for unknown sources).
func DefaultSeverity(source SourceType) Severity {
	if sev, ok := defaultSeverity[source]; ok {
		return sev
	}
	return SeverityInfo
}

// ValidSourceType reports whether s is a known source type.
func ValidSourceType(s SourceType) bool {
	_, ok := defaultSeverity[s]
	return ok
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusEscalated, StatusAutoClosed, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAutoClosed || s == StatusResolved
}

// Metadata carries the domain attributes of an alert. The core reads only
// driver_id and document_valid; everything else is persisted opaquely.
type Metadata map[string]any

// DriverID returns the driver_id field, or "" when absent.
func (m Metadata) DriverID() string {
	if m == nil {
		return ""
	}
	if v, ok := m["driver_id"].(string); ok {
		return v
	}
	return ""
}

// DocumentValid reports the document_valid field and whether it was set.
func (m Metadata) DocumentValid() (bool, bool) {
	if m == nil {
		return false, false
	}
	v, ok := m["document_valid"].(bool)
	return v, ok
}

// StateTransition is one immutable entry in an alert's state history.
type StateTransition struct {
	FromStatus    Status    `json:"from_status"`
	ToStatus      Status    `json:"to_status"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason"`
	TriggeredBy   string    `json:"triggered_by"`
	RuleTriggered string    `json:"rule_triggered,omitempty"`
}

// Alert is the central entity: one flagged fleet event plus the state machine
// tracking its resolution.
type Alert struct {
	AlertID         string            `json:"alert_id"`
	SourceType      SourceType        `json:"source_type"`
	Severity        Severity          `json:"severity"`
	Status          Status            `json:"status"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        Metadata          `json:"metadata"`
	StateHistory    []StateTransition `json:"state_history"`
	EscalatedAt     *time.Time        `json:"escalated_at,omitempty"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	AutoCloseReason string            `json:"auto_close_reason,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
}

// validTransitions is the allowed-transition table. Absent targets (and all
// self-transitions) are rejected.
var validTransitions = map[Status][]Status{
	StatusOpen:       {StatusEscalated, StatusAutoClosed, StatusResolved},
	StatusEscalated:  {StatusAutoClosed, StatusResolved},
	StatusAutoClosed: {},
	StatusResolved:   {},
}

// TransitionError reports a disallowed state change. No mutation occurs when
// one is returned.
type TransitionError struct {
	AlertID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("alert %s is already in %s status", e.AlertID, e.To)
	}
	return fmt.Sprintf("invalid state transition for alert %s: %s -> %s (allowed: %v)",
		e.AlertID, e.From, e.To, validTransitions[e.From])
}

// IsInvalidTransition reports whether err is a rejected state change.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// ValidateTransition checks (from, to) against the allowed-transition table.
func ValidateTransition(alertID string, from, to Status) error {
	if from == to {
		return &TransitionError{AlertID: alertID, From: from, To: to}
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{AlertID: alertID, From: from, To: to}
}
