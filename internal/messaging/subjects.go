package messaging

// Subject constants for the analytics hub message bus.
// Subjects follow the pattern: {domain}.{action}.{resource}
const (
	// SubjectEventsNormalized is the parent subject for normalized event
	// delivery. Producers append their source name, e.g.
	// events.normalized.aws.
	SubjectEventsNormalized = "events.normalized"

	// SubjectEventsNormalizedAll matches every normalized event source.
	SubjectEventsNormalizedAll = "events.normalized.>"

	// Finding subjects published by the correlation engine.
	SubjectCorrelationFoundEvent   = "correlation.found.event"
	SubjectCorrelationFoundAnomaly = "correlation.found.anomaly"
)

// Queue group names for load-balanced consumers. Workers in the same queue
// group share messages so each event is admitted once.
const (
	QueueEngineWorkers = "causeway-engine"
)

// EventSubject returns the per-source subject for normalized events.
// Example: events.normalized.aws
func EventSubject(source string) string {
	return SubjectEventsNormalized + "." + source
}
