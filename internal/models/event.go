package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the qualitative severity of an event or finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is one of the known levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the ordering of the severity (low=1 .. critical=4, 0 for unknown).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Weight returns the numeric weight of the severity for scoring (0.25 .. 1.0).
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// SeverityForScore maps a bounded [0,1] score onto a severity bucket.
// Buckets: low <0.25, medium <0.5, high <0.75, critical >=0.75.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 0.75:
		return SeverityCritical
	case score >= 0.5:
		return SeverityHigh
	case score >= 0.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PayloadKind discriminates the closed set of event payload variants.
type PayloadKind string

const (
	PayloadTelemetry  PayloadKind = "telemetry"
	PayloadSecurity   PayloadKind = "security"
	PayloadCost       PayloadKind = "cost"
	PayloadGovernance PayloadKind = "governance"
	PayloadCustom     PayloadKind = "custom"
)

// IsValid checks if the payload kind is one of the known variants.
func (k PayloadKind) IsValid() bool {
	switch k {
	case PayloadTelemetry, PayloadSecurity, PayloadCost, PayloadGovernance, PayloadCustom:
		return true
	default:
		return false
	}
}

// EventPayload is the closed variant type for producer payloads. Exactly one
// concrete type exists per PayloadKind; consumers switch on Kind() and the
// switch is total.
type EventPayload interface {
	Kind() PayloadKind

	// Metrics returns the numeric metrics carried by the payload, keyed by
	// metric name. Values are already-computed statistics from upstream.
	Metrics() map[string]float64

	isPayload()
}

// TelemetryPayload carries performance telemetry statistics.
type TelemetryPayload struct {
	Metric         string  `json:"metric"`
	Value          float64 `json:"value"`
	Unit           string  `json:"unit,omitempty"`
	LatencyDeltaMS float64 `json:"latency_delta_ms,omitempty"`
}

func (p TelemetryPayload) Kind() PayloadKind { return PayloadTelemetry }
func (p TelemetryPayload) isPayload()        {}

func (p TelemetryPayload) Metrics() map[string]float64 {
	return map[string]float64{
		"value":            p.Value,
		"latency_delta_ms": p.LatencyDeltaMS,
	}
}

// SecurityPayload carries a security incident observation.
type SecurityPayload struct {
	Category  string  `json:"category"`
	Action    string  `json:"action,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	RiskScore float64 `json:"risk_score"`
}

func (p SecurityPayload) Kind() PayloadKind { return PayloadSecurity }
func (p SecurityPayload) isPayload()        {}

func (p SecurityPayload) Metrics() map[string]float64 {
	return map[string]float64{
		"value":      p.RiskScore,
		"risk_score": p.RiskScore,
	}
}

// CostPayload carries a cost event (spend delta against an expected run rate).
type CostPayload struct {
	Service   string  `json:"service"`
	CostDelta float64 `json:"cost_delta"`
	Currency  string  `json:"currency,omitempty"`
	BudgetPct float64 `json:"budget_pct,omitempty"`
}

func (p CostPayload) Kind() PayloadKind { return PayloadCost }
func (p CostPayload) isPayload()        {}

func (p CostPayload) Metrics() map[string]float64 {
	return map[string]float64{
		"value":      p.CostDelta,
		"cost_delta": p.CostDelta,
		"budget_pct": p.BudgetPct,
	}
}

// GovernancePayload carries a governance or policy event.
type GovernancePayload struct {
	Policy     string `json:"policy"`
	Resource   string `json:"resource,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Violations int    `json:"violations"`
}

func (p GovernancePayload) Kind() PayloadKind { return PayloadGovernance }
func (p GovernancePayload) isPayload()        {}

func (p GovernancePayload) Metrics() map[string]float64 {
	return map[string]float64{
		"value":      float64(p.Violations),
		"violations": float64(p.Violations),
	}
}

// CustomPayload carries producer-defined data that does not fit the other
// variants. Numeric fields are exposed as metrics; everything else is opaque.
type CustomPayload struct {
	Fields map[string]interface{} `json:"fields"`
}

func (p CustomPayload) Kind() PayloadKind { return PayloadCustom }
func (p CustomPayload) isPayload()        {}

func (p CustomPayload) Metrics() map[string]float64 {
	m := make(map[string]float64)
	for k, v := range p.Fields {
		switch n := v.(type) {
		case float64:
			m[k] = n
		case int:
			m[k] = float64(n)
		case int64:
			m[k] = float64(n)
		}
	}
	return m
}

// NormalizedEvent is the common event shape delivered by the ingestion layer.
// The engine reads it and never mutates it.
type NormalizedEvent struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Type          string            `json:"type"`
	Severity      Severity          `json:"severity"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ParentEventID string            `json:"parent_event_id,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Payload       EventPayload      `json:"-"`
}

// normalizedEventJSON is the wire shape; the payload variant is discriminated
// by payload_kind.
type normalizedEventJSON struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	Type          string            `json:"type"`
	Severity      Severity          `json:"severity"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	ParentEventID string            `json:"parent_event_id,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	PayloadKind   PayloadKind       `json:"payload_kind,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
}

// MarshalJSON encodes the event with its payload variant discriminator.
func (e NormalizedEvent) MarshalJSON() ([]byte, error) {
	out := normalizedEventJSON{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		Source:        e.Source,
		Type:          e.Type,
		Severity:      e.Severity,
		CorrelationID: e.CorrelationID,
		ParentEventID: e.ParentEventID,
		Tags:          e.Tags,
	}

	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		out.PayloadKind = e.Payload.Kind()
		out.Payload = data
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the event, dispatching the payload by payload_kind.
func (e *NormalizedEvent) UnmarshalJSON(data []byte) error {
	var raw normalizedEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.Timestamp = raw.Timestamp
	e.Source = raw.Source
	e.Type = raw.Type
	e.Severity = raw.Severity
	e.CorrelationID = raw.CorrelationID
	e.ParentEventID = raw.ParentEventID
	e.Tags = raw.Tags
	e.Payload = nil

	if raw.PayloadKind == "" {
		return nil
	}

	payload, err := decodePayload(raw.PayloadKind, raw.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

func decodePayload(kind PayloadKind, data json.RawMessage) (EventPayload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch kind {
	case PayloadTelemetry:
		var p TelemetryPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode telemetry payload: %w", err)
		}
		return p, nil
	case PayloadSecurity:
		var p SecurityPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode security payload: %w", err)
		}
		return p, nil
	case PayloadCost:
		var p CostPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode cost payload: %w", err)
		}
		return p, nil
	case PayloadGovernance:
		var p GovernancePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode governance payload: %w", err)
		}
		return p, nil
	case PayloadCustom:
		var p CustomPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode custom payload: %w", err)
		}
		return p, nil
	default:
		return nil, &ValidationError{Field: "payload_kind", Reason: fmt.Sprintf("unknown payload kind %q", kind)}
	}
}

// Validate checks that the event is well formed enough to enter the engine.
func (e *NormalizedEvent) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "event id is required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "event timestamp is required"}
	}
	if e.Source == "" {
		return &ValidationError{Field: "source", Reason: "event source is required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "event type is required"}
	}
	if !e.Severity.IsValid() {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", e.Severity)}
	}
	return nil
}

// PartitionKey returns the key events are sharded by: the inherited
// correlation id when present, otherwise the source module. Events sharing a
// correlation id must land on the same partition so the inherited-id strategy
// sees them together.
func (e *NormalizedEvent) PartitionKey() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.Source
}

// MetricValue returns the payload's headline metric ("value") when present.
func (e *NormalizedEvent) MetricValue() (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	v, ok := e.Payload.Metrics()["value"]
	return v, ok
}

// EventRef is the small indexed projection of a NormalizedEvent kept inside
// correlations so payloads are never copied.
type EventRef struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
}

// RefOf builds an EventRef from a normalized event.
func RefOf(e *NormalizedEvent) EventRef {
	return EventRef{
		EventID:   e.ID,
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Type:      e.Type,
		Severity:  e.Severity,
	}
}
