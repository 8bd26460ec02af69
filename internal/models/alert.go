package models

import (
	"fmt"
	"time"
)

// Metric names an alertable value in a metrics snapshot
type Metric string

const (
	MetricBudgetUsage Metric = "budget_usage"
	MetricErrorRate   Metric = "error_rate"
	MetricQueueDepth  Metric = "queue_depth"
	MetricThroughput  Metric = "throughput"
	MetricTotalCost   Metric = "total_cost"
)

// ValidMetric reports whether m is a known metric
func ValidMetric(m Metric) bool {
	switch m {
	case MetricBudgetUsage, MetricErrorRate, MetricQueueDepth, MetricThroughput, MetricTotalCost:
		return true
	}
	return false
}

// Condition compares a metric value against a threshold
type Condition string

const (
	ConditionGT  Condition = "gt"
	ConditionGTE Condition = "gte"
	ConditionLT  Condition = "lt"
	ConditionLTE Condition = "lte"
)

// Holds evaluates value <condition> threshold
func (c Condition) Holds(value, threshold float64) (bool, error) {
	switch c {
	case ConditionGT:
		return value > threshold, nil
	case ConditionGTE:
		return value >= threshold, nil
	case ConditionLT:
		return value < threshold, nil
	case ConditionLTE:
		return value <= threshold, nil
	}
	return false, fmt.Errorf("unknown condition %q", c)
}

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is a threshold rule evaluated against a user's metrics
type AlertRule struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	UserID        string     `json:"user_id" gorm:"index;size:64"`
	Name          string     `json:"name"`
	Metric        Metric     `json:"metric" gorm:"size:32"`
	Condition     Condition  `json:"condition" gorm:"size:8"`
	Threshold     float64    `json:"threshold"`
	WindowMinutes int        `json:"window_minutes"`
	Channels      []string   `json:"channels,omitempty" gorm:"serializer:json"`
	Severity      Severity   `json:"severity" gorm:"size:16"`
	Active        bool       `json:"active"`
	IsFiring      bool       `json:"is_firing"`
	LastFiredAt   *time.Time `json:"last_fired_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Window returns the rule's own metrics window, zero when it has none
func (r *AlertRule) Window() time.Duration {
	if r.WindowMinutes <= 0 {
		return 0
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

// AlertFiring is an append-only record of a pending->firing edge
type AlertFiring struct {
	ID         string     `json:"id" gorm:"primaryKey;size:64"`
	RuleID     string     `json:"rule_id" gorm:"index;size:64"`
	UserID     string     `json:"user_id" gorm:"index;size:64"`
	Metric     Metric     `json:"metric" gorm:"size:32"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Severity   Severity   `json:"severity" gorm:"size:16"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Open reports whether the firing has not been resolved
func (f AlertFiring) Open() bool {
	return f.ResolvedAt == nil
}
