package observability

import (
	coreevents "strikelend/core/events"
)

// EventRecorder translates engine events into metrics. It implements
// events.Emitter so it can sit in the engine fanout next to the websocket
// hub and the persisted event log.
type EventRecorder struct {
	loans *LoanMetrics
}

// NewEventRecorder builds a recorder against the shared loan registry.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{loans: Loans()}
}

// Emit implements events.Emitter.
func (r *EventRecorder) Emit(evt coreevents.Event) {
	if r == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case coreevents.LoanExpired:
		r.loans.RecordExpiration(e.RefiEligible)
	case coreevents.RefinanceAttempt:
		r.loans.RecordRefinance(e.Success)
	case coreevents.LoanRefinanced:
		// Counted through the attempt that produced it.
	case coreevents.LoanSettled:
		r.loans.RecordSettlement(e.Region)
	case coreevents.LoanClaimed:
		r.loans.RecordClaim(e.Party)
	}
}
