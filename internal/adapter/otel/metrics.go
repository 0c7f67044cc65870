package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "proofworks"

// Metrics holds all workflow metric instruments.
type Metrics struct {
	AssignmentsCreated   metric.Int64Counter
	AssignmentsCompleted metric.Int64Counter
	AssignmentsEscalated metric.Int64Counter
	ValidationsRecorded  metric.Int64Counter
	ConsensusDecisions   metric.Int64Counter
	ReviewDuration       metric.Float64Histogram
	ConsensusScore       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AssignmentsCreated, err = meter.Int64Counter("proofworks.assignments.created",
		metric.WithDescription("Number of assignments created"))
	if err != nil {
		return nil, err
	}

	m.AssignmentsCompleted, err = meter.Int64Counter("proofworks.assignments.completed",
		metric.WithDescription("Number of assignments completed"))
	if err != nil {
		return nil, err
	}

	m.AssignmentsEscalated, err = meter.Int64Counter("proofworks.assignments.escalated",
		metric.WithDescription("Number of overdue assignments escalated"))
	if err != nil {
		return nil, err
	}

	m.ValidationsRecorded, err = meter.Int64Counter("proofworks.validations.recorded",
		metric.WithDescription("Number of validations recorded"))
	if err != nil {
		return nil, err
	}

	m.ConsensusDecisions, err = meter.Int64Counter("proofworks.consensus.decisions",
		metric.WithDescription("Number of consensus decisions computed"))
	if err != nil {
		return nil, err
	}

	m.ReviewDuration, err = meter.Float64Histogram("proofworks.assignment.review_duration_seconds",
		metric.WithDescription("Time from assignment to completion in seconds"))
	if err != nil {
		return nil, err
	}

	m.ConsensusScore, err = meter.Float64Histogram("proofworks.consensus.score",
		metric.WithDescription("Final consensus score on the 0-1 scale"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
