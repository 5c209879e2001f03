// Package engine evaluates escalation and auto-close rules against alerts.
//
// Two evaluation paths exist:
//   - CheckAndEscalate runs synchronously when an alert is created and applies
//     count-in-window escalation rules.
//   - EvaluateAllPending runs from the background scanner and applies
//     auto-close rules plus the time-window expiry fallback.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetworks/klaxon/internal/alerts"
	"github.com/fleetworks/klaxon/internal/events"
	"github.com/fleetworks/klaxon/internal/metrics"
	"github.com/fleetworks/klaxon/internal/rules"
	"github.com/fleetworks/klaxon/internal/telemetry"
)

const (
	// DefaultWindowMins is the lookback window for escalation rules that do
	// not set window_mins.
	DefaultWindowMins = 60

	// perAlertTimeout bounds each alert's evaluation during a scan pass so
	// one stuck alert cannot stall the whole sweep.
	perAlertTimeout = 10 * time.Second
)

// Stats summarises one full evaluation pass over pending alerts.
type Stats struct {
	TotalChecked int      `json:"total_checked"`
	AutoClosed   int      `json:"auto_closed"`
	Errors       []string `json:"errors,omitempty"`
}

// Engine binds the alert store, the rule store, and the event bus.
type Engine struct {
	alerts *alerts.Store
	rules  *rules.Store
	bus    *events.Bus
	log    *zap.Logger
}

// New creates an engine. A nil logger or bus is replaced with a no-op.
func New(alertStore *alerts.Store, ruleStore *rules.Store, bus *events.Bus, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Engine{alerts: alertStore, rules: ruleStore, bus: bus, log: log}
}

// CheckAndEscalate evaluates the count-in-window escalation rules for a newly
// created alert. Active rules for the alert's source type are tried in
// priority order; the first whose threshold is met escalates the alert and
// short-circuits the rest. Alerts without a driver_id never escalate this way.
// Returns whether the alert was escalated.
func (e *Engine) CheckAndEscalate(ctx context.Context, alert *alerts.Alert) (bool, error) {
	if alert == nil || alert.Status != alerts.StatusOpen {
		return false, nil
	}
	driverID := alert.Metadata.DriverID()
	if driverID == "" {
		return false, nil
	}

	ctx, span := telemetry.StartEscalationSpan(ctx, alert.AlertID, string(alert.SourceType))
	defer span.End()

	active, err := e.rules.ActiveForSource(ctx, alert.SourceType)
	if err != nil {
		return false, fmt.Errorf("load rules for %s: %w", alert.SourceType, err)
	}

	for _, rule := range active {
		threshold := rule.Conditions.EscalateIfCount
		if threshold <= 0 {
			continue
		}
		windowMins := rule.Conditions.WindowMins
		if windowMins <= 0 {
			windowMins = DefaultWindowMins
		}

		windowStart := time.Now().UTC().Add(-time.Duration(windowMins) * time.Minute)
		similar, err := e.alerts.CountSimilar(ctx, driverID, alert.SourceType, windowStart, alert.AlertID)
		if err != nil {
			return false, fmt.Errorf("count window for rule %s: %w", rule.RuleID, err)
		}

		count := similar + 1 // include the alert being evaluated
		if count < threshold {
			continue
		}

		reason := fmt.Sprintf("%d %s incidents detected within %d minutes (threshold: %d)",
			count, alert.SourceType, windowMins, threshold)
		updated, err := e.alerts.UpdateStatus(ctx, alert.AlertID, alerts.StatusEscalated,
			reason, alerts.TriggeredBySystem, rule.RuleID)
		if err != nil {
			return false, fmt.Errorf("escalate %s: %w", alert.AlertID, err)
		}

		metrics.AlertsEscalatedTotal.WithLabelValues(string(alert.SourceType)).Inc()
		e.bus.Publish(events.Event{
			Type:    events.EventAlertEscalated,
			AlertID: alert.AlertID,
			Payload: updated,
		})
		e.log.Info("alert escalated",
			zap.String("alert_id", alert.AlertID),
			zap.String("rule_id", rule.RuleID),
			zap.Int("count", count),
			zap.Int("threshold", threshold),
			zap.Int("window_mins", windowMins),
		)
		*alert = *updated
		return true, nil
	}

	return false, nil
}

// CheckAutoClose decides whether a pending alert should be auto-closed.
// Rule-based closure (the document_valid sentinel) is checked before the
// time-window expiry fallback. Returns the close decision, the reason to
// record, and the rule that fired (empty for expiry).
func (e *Engine) CheckAutoClose(ctx context.Context, alert *alerts.Alert) (bool, string, string, error) {
	if alert == nil || alert.Status.Terminal() {
		return false, "", "", nil
	}

	ctx, span := telemetry.StartAutoCloseSpan(ctx, alert.AlertID)
	defer span.End()

	active, err := e.rules.ActiveForSource(ctx, alert.SourceType)
	if err != nil {
		return false, "", "", fmt.Errorf("load rules for %s: %w", alert.SourceType, err)
	}

	for _, rule := range active {
		if rule.Conditions.AutoCloseIf != rules.AutoCloseDocumentValid {
			continue
		}
		if valid, ok := alert.Metadata.DocumentValid(); ok && valid {
			reason := fmt.Sprintf("Document renewed (rule: %s)", rule.RuleID)
			return true, reason, rule.RuleID, nil
		}
	}

	if alert.ExpiresAt != nil && !alert.ExpiresAt.After(time.Now().UTC()) {
		reason := fmt.Sprintf("Time window expired (expired at: %s)",
			alert.ExpiresAt.UTC().Format(time.RFC3339Nano))
		return true, reason, "", nil
	}

	return false, "", "", nil
}

// ApplyAutoClose transitions an alert to AUTO_CLOSED with the given reason.
func (e *Engine) ApplyAutoClose(ctx context.Context, alertID, reason, ruleID string) (*alerts.Alert, error) {
	updated, err := e.alerts.UpdateStatus(ctx, alertID, alerts.StatusAutoClosed,
		reason, alerts.TriggeredBySystem, ruleID)
	if err != nil {
		return nil, err
	}

	trigger := "expiry"
	if ruleID != "" {
		trigger = "rule"
	}
	metrics.AlertsAutoClosedTotal.WithLabelValues(trigger).Inc()
	e.bus.Publish(events.Event{
		Type:    events.EventAlertAutoClosed,
		AlertID: alertID,
		Payload: updated,
	})
	e.log.Info("alert auto-closed",
		zap.String("alert_id", alertID),
		zap.String("reason", reason),
		zap.String("rule_id", ruleID),
	)
	return updated, nil
}

// EvaluateAllPending sweeps every non-terminal alert and auto-closes the ones
// whose conditions are met. A failure on one alert is recorded and the sweep
// continues; an alert closed by a concurrent writer mid-pass is skipped, not
// an error. Each alert gets its own evaluation deadline.
func (e *Engine) EvaluateAllPending(ctx context.Context) (Stats, error) {
	pending, err := e.alerts.ListPending(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list pending alerts: %w", err)
	}

	stats := Stats{TotalChecked: len(pending)}
	for i := range pending {
		alert := &pending[i]
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		closed, err := e.evaluateOne(ctx, alert)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", alert.AlertID, err))
			e.log.Warn("auto-close evaluation failed",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
			continue
		}
		if closed {
			stats.AutoClosed++
		}
	}

	return stats, nil
}

func (e *Engine) evaluateOne(ctx context.Context, alert *alerts.Alert) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, perAlertTimeout)
	defer cancel()

	shouldClose, reason, ruleID, err := e.CheckAutoClose(ctx, alert)
	if err != nil {
		return false, err
	}
	if !shouldClose {
		return false, nil
	}

	if _, err := e.ApplyAutoClose(ctx, alert.AlertID, reason, ruleID); err != nil {
		if alerts.IsInvalidTransition(err) {
			// Another writer closed or resolved it first.
			return false, nil
		}
		return false, err
	}
	return true, nil
}
