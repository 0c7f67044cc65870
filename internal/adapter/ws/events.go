package ws

// Typed payloads for broadcast events. The event type strings live in the
// broadcast port so services do not import this adapter.

// AssignmentEvent is broadcast when an assignment is created, transitions,
// or is reassigned.
type AssignmentEvent struct {
	AssignmentID string `json:"assignment_id"`
	EvidenceID   string `json:"evidence_id"`
	ValidatorID  string `json:"validator_id"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

// ValidationEvent is broadcast when a validation is recorded.
type ValidationEvent struct {
	ValidationID string  `json:"validation_id"`
	EvidenceID   string  `json:"evidence_id"`
	Type         string  `json:"type"`
	OverallScore float64 `json:"overall_score"`
	Decision     string  `json:"decision"`
}

// ConsensusEvent is broadcast when consensus decides an evidence item.
type ConsensusEvent struct {
	EvidenceID   string  `json:"evidence_id"`
	Decision     string  `json:"decision"`
	Score        float64 `json:"score"`
	DisplayScore float64 `json:"display_score"`
	Confidence   float64 `json:"confidence"`
}
