package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/google/uuid"
)

// Alert events passed to channels
const (
	EventFired    = "fired"
	EventResolved = "resolved"
)

const builtinPrefix = "builtin:"

// Dispatcher delivers alert events to named channels. Delivery is
// fire-and-forget from the evaluator's point of view.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []string, ruleID, event string, payload map[string]any)
}

// Tier is a built-in budget usage threshold
type Tier struct {
	Severity models.Severity
	Percent  float64
}

// DefaultTiers returns the warning and critical budget tiers
func DefaultTiers() []Tier {
	return []Tier{
		{Severity: models.SeverityWarning, Percent: 80},
		{Severity: models.SeverityCritical, Percent: 90},
	}
}

// Transition is one rule edge produced by an evaluation
type Transition struct {
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Event     string          `json:"event"`
	Metric    models.Metric   `json:"metric"`
	Severity  models.Severity `json:"severity"`
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
}

// Evaluator compares rules against metric snapshots and records edges
type Evaluator struct {
	mu              sync.Mutex
	store           RuleStore
	dispatcher      Dispatcher
	metrics         *Metrics
	logger          *slog.Logger
	tiers           []Tier
	defaultChannels []string
	window          time.Duration
	now             func() time.Time
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithDispatcher sets where alert events are delivered
func WithDispatcher(d Dispatcher) EvaluatorOption {
	return func(e *Evaluator) { e.dispatcher = d }
}

// WithTiers replaces the built-in budget tiers
func WithTiers(tiers []Tier) EvaluatorOption {
	return func(e *Evaluator) { e.tiers = tiers }
}

// WithDefaultChannels sets channels for rules that name none
func WithDefaultChannels(channels ...string) EvaluatorOption {
	return func(e *Evaluator) { e.defaultChannels = channels }
}

// WithEvaluatorMetrics exports transitions to Prometheus
func WithEvaluatorMetrics(m *Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithLogger sets the evaluator logger
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// WithWindow sets the metrics window for rules that declare none
func WithWindow(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.window = d }
}

// WithEvaluatorClock sets the time source
func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator over a rule store
func NewEvaluator(store RuleStore, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		tiers:  DefaultTiers(),
		window: time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	sort.SliceStable(e.tiers, func(i, j int) bool { return e.tiers[i].Percent < e.tiers[j].Percent })
	return e
}

// BuiltinRuleID names a user's synthetic budget tier rule
func BuiltinRuleID(userID string, severity models.Severity) string {
	return fmt.Sprintf("%sbudget_usage:%s:%s", builtinPrefix, severity, userID)
}

// IsBuiltin reports whether a rule is a synthetic budget tier
func IsBuiltin(rule *models.AlertRule) bool {
	return strings.HasPrefix(rule.ID, builtinPrefix)
}

// Evaluate runs every active rule of a user against metrics from src, each
// over the rule's own window or the default one. A MetricsSnapshot is a
// valid src for every window. Only edges have side effects, so evaluating
// unchanged metrics twice leaves the same state and produces no second
// firing.
func (e *Evaluator) Evaluate(ctx context.Context, userID string, src Source) ([]Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureBuiltins(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to prepare budget tiers: %w", err)
	}
	rules, err := e.store.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	snaps := make(map[time.Duration]MetricsSnapshot)
	over := func(window time.Duration) MetricsSnapshot {
		if window <= 0 {
			window = e.window
		}
		snap, ok := snaps[window]
		if !ok {
			snap = src.Over(window)
			snaps[window] = snap
		}
		return snap
	}

	// Only the highest tier reached counts as firing
	var highestTier models.Severity
	usage := over(0).BudgetUsage
	for _, tier := range e.tiers {
		if usage >= tier.Percent {
			highestTier = tier.Severity
		}
	}

	var transitions []Transition
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		value, ok := over(rule.Window()).Value(rule.Metric)
		if !ok {
			e.logger.Warn("rule has unknown metric", "rule", rule.ID, "metric", rule.Metric)
			continue
		}

		var holds bool
		if IsBuiltin(rule) {
			holds = rule.Severity == highestTier
		} else {
			holds, err = rule.Condition.Holds(value, rule.Threshold)
			if err != nil {
				e.logger.Warn("rule has invalid condition", "rule", rule.ID, "error", err)
				continue
			}
		}

		var tr *Transition
		switch {
		case holds && !rule.IsFiring:
			tr, err = e.fire(ctx, rule, value)
		case !holds && rule.IsFiring:
			tr, err = e.resolve(ctx, rule, value)
		}
		if err != nil {
			return transitions, err
		}
		if tr != nil {
			transitions = append(transitions, *tr)
		}
	}
	return transitions, nil
}

func (e *Evaluator) ensureBuiltins(ctx context.Context, userID string) error {
	for _, tier := range e.tiers {
		id := BuiltinRuleID(userID, tier.Severity)
		existing, err := e.store.GetRule(ctx, id)
		if err == nil {
			if existing.Threshold != tier.Percent {
				existing.Threshold = tier.Percent
				if err := e.store.UpdateRule(ctx, existing); err != nil {
					return err
				}
			}
			continue
		}
		if !errors.Is(err, ErrRuleNotFound) {
			return err
		}
		rule := &models.AlertRule{
			ID:        id,
			UserID:    userID,
			Name:      fmt.Sprintf("budget %s", tier.Severity),
			Metric:    models.MetricBudgetUsage,
			Condition: models.ConditionGTE,
			Threshold: tier.Percent,
			Channels:  e.defaultChannels,
			Severity:  tier.Severity,
			Active:    true,
			CreatedAt: e.now(),
		}
		if err := e.store.CreateRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) fire(ctx context.Context, rule *models.AlertRule, value float64) (*Transition, error) {
	now := e.now()
	severity := severityOf(rule)
	firing := &models.AlertFiring{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		UserID:    rule.UserID,
		Metric:    rule.Metric,
		Value:     value,
		Threshold: rule.Threshold,
		Severity:  severity,
		FiredAt:   now,
	}
	if err := e.store.AppendFiring(ctx, firing); err != nil {
		return nil, fmt.Errorf("failed to record firing for %s: %w", rule.ID, err)
	}
	rule.IsFiring = true
	rule.LastFiredAt = &now
	if err := e.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}

	e.logger.Info("alert fired", "rule", rule.ID, "user", rule.UserID, "metric", rule.Metric,
		"value", value, "threshold", rule.Threshold, "severity", severity)
	return e.emit(ctx, rule, EventFired, value), nil
}

func (e *Evaluator) resolve(ctx context.Context, rule *models.AlertRule, value float64) (*Transition, error) {
	if err := e.store.ResolveFiring(ctx, rule.ID, e.now()); err != nil {
		return nil, fmt.Errorf("failed to resolve firing for %s: %w", rule.ID, err)
	}
	rule.IsFiring = false
	if err := e.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}

	e.logger.Info("alert resolved", "rule", rule.ID, "user", rule.UserID, "metric", rule.Metric, "value", value)
	return e.emit(ctx, rule, EventResolved, value), nil
}

func (e *Evaluator) emit(ctx context.Context, rule *models.AlertRule, event string, value float64) *Transition {
	tr := &Transition{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Event:     event,
		Metric:    rule.Metric,
		Severity:  severityOf(rule),
		Value:     value,
		Threshold: rule.Threshold,
	}
	e.metrics.ObserveAlert(event, string(tr.Severity))

	if e.dispatcher != nil {
		channels := rule.Channels
		if len(channels) == 0 {
			channels = e.defaultChannels
		}
		e.dispatcher.Dispatch(ctx, channels, rule.ID, event, map[string]any{
			"user_id":   rule.UserID,
			"rule_name": rule.Name,
			"metric":    string(rule.Metric),
			"value":     value,
			"threshold": rule.Threshold,
			"severity":  string(tr.Severity),
		})
	}
	return tr
}

func severityOf(rule *models.AlertRule) models.Severity {
	if rule.Severity == "" {
		return models.SeverityWarning
	}
	return rule.Severity
}
