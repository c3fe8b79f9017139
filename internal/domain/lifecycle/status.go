package lifecycle

import (
	"sort"

	"github.com/ehr/claimsync/internal/domain/response"
)

// Derive computes a claim's status from its complete event history. The
// first rule that applies wins:
//
//	latest remittance_detail        paid, partial or denied
//	voided                          voided
//	clearinghouse_rejected          rejected
//	clearinghouse_accepted          accepted
//	latest status_update            pended if it signals a pend, else in_process
//	submitted or acknowledged       submitted
//	nothing                         draft
//
// Order of the input does not matter.
func Derive(events []*Event) Status {
	ordered := make([]*Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})

	var (
		remit, update                         *Event
		voided, rejected, accepted, submitted bool
	)
	for _, e := range ordered {
		switch e.Type {
		case EventRemittanceDetail:
			remit = e
		case EventStatusUpdate:
			update = e
		case EventVoided:
			voided = true
		case EventClearinghouseRejected:
			rejected = true
		case EventClearinghouseAccepted:
			accepted = true
		case EventSubmitted, EventAcknowledged:
			submitted = true
		}
	}

	switch {
	case remit != nil:
		return remittanceStatus(remit)
	case voided:
		return StatusVoided
	case rejected:
		return StatusRejected
	case accepted:
		return StatusAccepted
	case update != nil:
		var d StatusDetail
		if err := update.DecodeDetail(&d); err == nil && d.Status == response.StatusPended {
			return StatusPended
		}
		return StatusInProcess
	case submitted:
		return StatusSubmitted
	}
	return StatusDraft
}

func remittanceStatus(e *Event) Status {
	var d RemittanceDetail
	if err := e.DecodeDetail(&d); err != nil {
		return StatusDenied
	}
	switch d.Outcome {
	case response.RemitPaid:
		return StatusPaid
	case response.RemitPartial:
		return StatusPartial
	}
	return StatusDenied
}
