// Package evidence defines the read model of an externally-owned evidence
// item. The workflow core never creates or mutates evidence; it reads the
// metadata the automatic heuristic and consensus publishing need.
package evidence

import "time"

// MinDescriptionLength is the description length at which the automatic
// heuristic grants its detail bonus.
const MinDescriptionLength = 100

// Evidence is a snapshot of an evidence item as served by the evidence
// collaborator.
type Evidence struct {
	ID              string    `json:"id"`
	ChallengeID     string    `json:"challenge_id"`
	SubmitterID     string    `json:"submitter_id"`
	Description     string    `json:"description"`
	AttachmentCount int       `json:"attachment_count"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// HasAttachments reports whether at least one attachment was submitted.
func (e *Evidence) HasAttachments() bool {
	return e.AttachmentCount > 0
}

// HasDetailedDescription reports whether the description meets the
// heuristic's minimum length.
func (e *Evidence) HasDetailedDescription() bool {
	return len(e.Description) >= MinDescriptionLength
}
