package models

import "time"

// MetricSample is one append-only measurement for the time-series store.
type MetricSample struct {
	Time       time.Time      `json:"time"`
	Host       string         `json:"host"`
	MetricName string         `json:"metric_name"`
	Value      float64        `json:"value"`
	Unit       string         `json:"unit,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ServiceStatusSample records a unit's state at a point in time.
type ServiceStatusSample struct {
	Time        time.Time `json:"time"`
	Host        string    `json:"host"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	ActiveState string    `json:"active_state,omitempty"`
}

// LogEventSample is a persisted log record of note.
type LogEventSample struct {
	Time     time.Time      `json:"time"`
	Host     string         `json:"host"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Unit     string         `json:"unit,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TriggerEventRecord is an Event flattened for the time-series store.
type TriggerEventRecord struct {
	Time     time.Time      `json:"time"`
	Host     string         `json:"host"`
	Kind     EventKind      `json:"kind"`
	Severity Severity       `json:"severity"`
	Source   EventSource    `json:"source"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// MetricBucket is one row of a bucketed aggregate query.
type MetricBucket struct {
	Bucket time.Time `json:"bucket"`
	Avg    float64   `json:"avg"`
	Max    float64   `json:"max"`
	Min    float64   `json:"min"`
}

// MetricStats summarises one metric over a time window.
type MetricStats struct {
	MetricName string  `json:"metric_name"`
	Avg        float64 `json:"avg"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	StdDev     float64 `json:"stddev"`
	Count      int64   `json:"count"`
}

// LatestMetric is the most recent sample for one metric name.
type LatestMetric struct {
	Time       time.Time `json:"time"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
}
