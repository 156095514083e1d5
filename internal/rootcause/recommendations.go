package rootcause

import "github.com/telhawk-systems/causeway/internal/models"

// recommendationTable maps each correlation type to its recommended actions.
// The table is static: recommendations describe operator playbooks, not
// per-group reasoning.
var recommendationTable = map[models.CorrelationType][]string{
	models.TypeCausalChain: {
		"Inspect the root event's source service for the originating change",
		"Verify downstream consumers of the root event have recovered",
	},
	models.TypeTemporal: {
		"Review co-occurring changes across the involved sources",
		"Check shared infrastructure for the window of the correlation",
	},
	models.TypePatternMatch: {
		"Follow the matched pattern's runbook",
		"Confirm each pattern step's source has been triaged",
	},
	models.TypeAnomaly: {
		"Compare the flagged baseline against recent deployment history",
		"Widen the anomaly window to confirm the deviation persists",
	},
	models.TypeCostImpact: {
		"Review budget alert thresholds for the affected services",
		"Audit recent scaling or pricing changes driving the spend delta",
	},
	models.TypeSecurityIncident: {
		"Rotate credentials referenced by the involved events",
		"Review access logs for the window of the correlation",
		"Escalate to the security on-call if privileged resources are involved",
	},
	models.TypePerformanceDegradation: {
		"Check capacity and autoscaling for the degraded services",
		"Compare latency against the most recent model or config rollout",
	},
	models.TypeComplianceCascade: {
		"Notify the governance owner of the violated policies",
		"Verify the policy rollout order across dependent services",
	},
}

// recommendationsFor looks up the static actions for a correlation type.
func recommendationsFor(t models.CorrelationType) []string {
	if recs, ok := recommendationTable[t]; ok {
		return recs
	}
	return []string{"Triage the involved events manually"}
}
