package evaluator

import (
	"fmt"

	"twin-gateway/internal/models"
)

// CriticalFactor escalates an above-maximum alert to critical once the value
// exceeds max*CriticalFactor.
const CriticalFactor = 1.2

// Threshold bounds one metric. A nil bound is not checked.
type Threshold struct {
	Metric models.Metric
	Min    *float64
	Max    *float64
}

// Table is an ordered list of thresholds. It is never mutated after
// construction, so a Table can be shared freely between goroutines.
type Table struct {
	entries []Threshold
}

// NewTable builds a table in the given order. A later entry for the same
// metric replaces the earlier one in place.
func NewTable(entries ...Threshold) Table {
	t := Table{}
	for _, e := range entries {
		t = t.With(e)
	}
	return t
}

// DefaultTable returns the built-in bounds.
func DefaultTable() Table {
	return NewTable(
		Threshold{Metric: models.MetricTemperature, Min: bound(15), Max: bound(30)},
		Threshold{Metric: models.MetricHumidity, Min: bound(30), Max: bound(70)},
		Threshold{Metric: models.MetricPressure, Min: bound(95), Max: bound(110)},
		Threshold{Metric: models.MetricVibration, Max: bound(1.0)},
		Threshold{Metric: models.MetricPowerConsumption, Max: bound(25)},
	)
}

// With returns a copy of t with th added or replacing the existing entry for
// th.Metric.
func (t Table) With(th Threshold) Table {
	out := make([]Threshold, 0, len(t.entries)+1)
	replaced := false
	for _, e := range t.entries {
		if e.Metric == th.Metric {
			out = append(out, th)
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, th)
	}
	return Table{entries: out}
}

// Override returns a copy of t where non-nil min/max replace the current bounds
// of metric. Unknown metrics are rejected.
func (t Table) Override(metric models.Metric, min, max *float64) (Table, error) {
	known := false
	for _, m := range models.Metrics {
		if m == metric {
			known = true
			break
		}
	}
	if !known {
		return t, fmt.Errorf("unknown metric %q", metric)
	}

	th, _ := t.Lookup(metric)
	th.Metric = metric
	if min != nil {
		th.Min = min
	}
	if max != nil {
		th.Max = max
	}
	if th.Min != nil && th.Max != nil && *th.Min > *th.Max {
		return t, fmt.Errorf("threshold %s: min %v greater than max %v", metric, *th.Min, *th.Max)
	}
	return t.With(th), nil
}

// Lookup returns the threshold for metric.
func (t Table) Lookup(metric models.Metric) (Threshold, bool) {
	for _, e := range t.entries {
		if e.Metric == metric {
			return e, true
		}
	}
	return Threshold{}, false
}

// Thresholds returns the entries in declaration order.
func (t Table) Thresholds() []Threshold {
	out := make([]Threshold, len(t.entries))
	copy(out, t.entries)
	return out
}

func bound(v float64) *float64 { return &v }
