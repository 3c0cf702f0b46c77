package evaluator

import (
	"iter"
	"slices"

	"twin-gateway/internal/models"
)

// Evaluator checks telemetry against a threshold table. It holds no mutable
// state and is safe for concurrent use.
type Evaluator struct {
	table Table
}

// NewEvaluator creates an evaluator over table.
func NewEvaluator(table Table) *Evaluator {
	return &Evaluator{table: table}
}

// Table returns the table in use.
func (e *Evaluator) Table() Table {
	return e.table
}

// Alerts lazily yields the alerts for ev in table order. For each metric the
// below-minimum check comes before the above-maximum check.
func (e *Evaluator) Alerts(ev models.TelemetryEvent) iter.Seq[models.AlertEvent] {
	return func(yield func(models.AlertEvent) bool) {
		for _, th := range e.table.entries {
			v, ok := ev.Value(th.Metric)
			if !ok {
				continue
			}
			if th.Min != nil && v < *th.Min {
				if !yield(newAlert(ev, th.Metric, v, *th.Min, models.BelowMinimum, models.SeverityWarning)) {
					return
				}
			}
			if th.Max != nil && v > *th.Max {
				if !yield(newAlert(ev, th.Metric, v, *th.Max, models.AboveMaximum, severityAbove(v, *th.Max))) {
					return
				}
			}
		}
	}
}

// Evaluate collects Alerts into a slice.
func (e *Evaluator) Evaluate(ev models.TelemetryEvent) []models.AlertEvent {
	return slices.Collect(e.Alerts(ev))
}

// severityAbove: v == max*CriticalFactor is still a warning.
func severityAbove(v, max float64) models.Severity {
	if v > max*CriticalFactor {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

func newAlert(ev models.TelemetryEvent, metric models.Metric, v, threshold float64, dir models.Direction, sev models.Severity) models.AlertEvent {
	return models.AlertEvent{
		AssetID:   ev.AssetID,
		Type:      models.AlertTypeThreshold,
		Metric:    metric,
		Value:     v,
		Threshold: threshold,
		Direction: dir,
		Severity:  sev,
		Timestamp: ev.Timestamp,
	}
}
