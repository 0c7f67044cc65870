// Package consensus aggregates the recorded opinions about one evidence
// item into a single decision with a confidence measure. "Consensus" here
// means combining several human opinions, not a distributed agreement
// protocol.
package consensus

import (
	"github.com/proofworks/ProofWorks/internal/domain/validation"
)

// Decision is the aggregate outcome for an evidence item.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// DisplayScale is the upper bound of the external 0-10 score scale.
// All internal scores are canonical 0-1; display scaling is a pure transform.
const DisplayScale = 10.0

// Policy holds the tunable knobs of consensus computation.
type Policy struct {
	// ApprovalThreshold is the minimum overall score counted as an approval.
	ApprovalThreshold float64
	// SinglePassTypes short-circuit consensus: one completed validation of
	// such a type decides the evidence outright. Used for content where peer
	// review is not required.
	SinglePassTypes []validation.Type
}

// DefaultPolicy matches the platform defaults: 0.70 approval threshold and
// no single-pass short-circuit.
func DefaultPolicy() Policy {
	return Policy{ApprovalThreshold: 0.70}
}

// Result is the derived consensus for one evidence item. It is computed on
// demand and never persisted.
type Result struct {
	EvidenceID       string   `json:"evidence_id"`
	TotalValidations int      `json:"total_validations"`
	ApprovalCount    int      `json:"approval_count"`
	RejectionCount   int      `json:"rejection_count"`
	Score            float64  `json:"score"` // approval fraction, 0-1
	Decision         Decision `json:"decision"`
	Confidence       float64  `json:"confidence"`
	ShortCircuited   bool     `json:"short_circuited,omitempty"`
}

// DisplayScore returns the consensus score on the external 0-10 scale.
func (r Result) DisplayScore() float64 {
	return r.Score * DisplayScale
}

// Compute aggregates the given validations for one evidence item. Automatic
// validations are excluded unless the policy lists them as single-pass. The
// result depends only on the set of validations, not their order.
func Compute(evidenceID string, vals []validation.Validation, policy Policy) Result {
	res := Result{EvidenceID: evidenceID, Decision: DecisionPending}

	if sp := singlePass(vals, policy); len(sp) > 0 {
		res.ShortCircuited = true
		tally(&res, sp, policy)
		if len(sp) == 1 {
			// A lone privileged opinion carries its own score and confidence.
			res.Score = sp[0].OverallScore
			res.Confidence = sp[0].Confidence
		}
		return res
	}

	var counted []validation.Validation
	for i := range vals {
		if vals[i].Type == validation.TypeAutomatic || vals[i].CompletedAt == nil {
			continue
		}
		counted = append(counted, vals[i])
	}
	if len(counted) == 0 {
		return res
	}
	tally(&res, counted, policy)
	return res
}

// tally classifies each validation against the approval threshold and
// derives the decision, approval-fraction score, and confidence. The result
// depends only on the multiset of scores, never on slice order.
func tally(res *Result, vals []validation.Validation, policy Policy) {
	res.TotalValidations = len(vals)
	for i := range vals {
		if vals[i].OverallScore >= policy.ApprovalThreshold {
			res.ApprovalCount++
		} else {
			res.RejectionCount++
		}
	}

	res.Score = float64(res.ApprovalCount) / float64(res.TotalValidations)
	if res.ApprovalCount > res.RejectionCount {
		res.Decision = DecisionApproved
	} else {
		// Ties reject: approval requires a strict majority.
		res.Decision = DecisionRejected
	}
	diff := res.ApprovalCount - res.RejectionCount
	if diff < 0 {
		diff = -diff
	}
	res.Confidence = float64(diff) / float64(res.TotalValidations)
}

// singlePass returns every completed validation whose type the policy marks
// as decisive. All of them are aggregated, so two disagreeing moderators
// resolve the same way regardless of creation or fetch order.
func singlePass(vals []validation.Validation, policy Policy) []validation.Validation {
	var out []validation.Validation
	for i := range vals {
		if vals[i].CompletedAt == nil {
			continue
		}
		for _, t := range policy.SinglePassTypes {
			if vals[i].Type == t {
				out = append(out, vals[i])
				break
			}
		}
	}
	return out
}
