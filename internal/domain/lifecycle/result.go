package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/x12"
	"github.com/google/uuid"
)

// SubmissionDetail is the payload of submitted and voided events.
type SubmissionDetail struct {
	SubmissionID       uuid.UUID               `json:"submission_id"`
	Frequency          string                  `json:"frequency"`
	InterchangeControl string                  `json:"interchange_control"`
	GroupControl       string                  `json:"group_control"`
	TransactionControl string                  `json:"transaction_control"`
	Filename           string                  `json:"filename"`
	PayerClaimNumber   string                  `json:"payer_claim_number,omitempty"`
	Reason             string                  `json:"reason,omitempty"`
	Warnings           []claim.ValidationError `json:"warnings,omitempty"`
}

// CorrectedDetail is the payload of a corrected event on the original claim.
type CorrectedDetail struct {
	ReplacementClaimID uuid.UUID `json:"replacement_claim_id"`
	ControlNumber      string    `json:"control_number"`
	PayerClaimNumber   string    `json:"payer_claim_number,omitempty"`
}

// AckDetail is the payload of acknowledged and clearinghouse_rejected events
// produced from a 997 or 999.
type AckDetail struct {
	Kind               response.Kind              `json:"kind"`
	AckInterchange     string                     `json:"ack_interchange"`
	GroupControl       string                     `json:"group_control"`
	TransactionControl string                     `json:"transaction_control,omitempty"`
	Result             response.AckResult         `json:"result"`
	ResultCode         string                     `json:"result_code,omitempty"`
	Descriptions       []string                   `json:"descriptions,omitempty"`
	Errors             []response.StructuralError `json:"errors,omitempty"`
}

// StatusDetail is the payload of events produced from a 277.
type StatusDetail struct {
	Status   response.NormalizedStatus `json:"status"`
	Response *response.ClaimStatus     `json:"response"`
}

// RemittanceDetail is the payload of a remittance_detail event.
type RemittanceDetail struct {
	Outcome            response.RemitOutcome `json:"outcome"`
	TransactionControl string                `json:"transaction_control"`
	TraceNumber        string                `json:"trace_number,omitempty"`
	PaymentDate        *time.Time            `json:"payment_date,omitempty"`
	PayerName          string                `json:"payer_name,omitempty"`
	Payment            response.ClaimPayment `json:"payment"`
}

// Result is one decoded response reduced to what matching and event
// appending need.
type Result struct {
	Kind          response.Kind
	Type          EventType
	OccurredAt    time.Time
	Detail        interface{}
	ControlNumber string // CLM01 as echoed by the payer
	Identifiers   []IdentifierKey
	SubscriberID  string
	ServiceDate   *time.Time
	Charge        *x12.Amount
	Summary       string
}

// pending is an event ready to append, with the identifiers it carries.
type pending struct {
	Type        EventType
	OccurredAt  time.Time
	Detail      json.RawMessage
	Hash        string
	Identifiers []IdentifierKey
}

func (r *Result) pending() (*pending, error) {
	return newPending(r.Type, r.OccurredAt, r.Detail, r.Identifiers)
}

func newPending(t EventType, at time.Time, detail interface{}, ids []IdentifierKey) (*pending, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode %s detail: %w", t, err)
	}
	return &pending{
		Type:        t,
		OccurredAt:  at,
		Detail:      raw,
		Hash:        EventHash(t, raw),
		Identifiers: ids,
	}, nil
}

// EventHash is the content hash that makes an event idempotent per claim.
func EventHash(t EventType, detail []byte) string {
	b := make([]byte, 0, len(t)+1+len(detail))
	b = append(b, t...)
	b = append(b, '\n')
	b = append(b, detail...)
	return HashContent(b)
}

// NormalizeControl strips leading zeros so that 000001001, 1001 and 0001001
// all name the same control number.
func NormalizeControl(v string) string {
	v = strings.TrimSpace(v)
	t := strings.TrimLeft(v, "0")
	if t == "" && v != "" {
		return "0"
	}
	return t
}

func submitterKeys(interchange, group, transaction string) []IdentifierKey {
	var keys []IdentifierKey
	add := func(typ, v string) {
		if v = NormalizeControl(v); v != "" {
			keys = append(keys, IdentifierKey{System: SystemSubmitter, Type: typ, Value: v})
		}
	}
	add(TypeInterchangeControl, interchange)
	add(TypeGroupControl, group)
	add(TypeTransactionControl, transaction)
	return keys
}

func externalKeys(payerICN, trace string) []IdentifierKey {
	var keys []IdentifierKey
	if v := strings.TrimSpace(payerICN); v != "" {
		keys = append(keys, IdentifierKey{System: SystemPayer, Type: TypePayerClaimNumber, Value: v})
	}
	if v := strings.TrimSpace(trace); v != "" {
		keys = append(keys, IdentifierKey{System: SystemClearinghouse, Type: TypeClearinghouseTrace, Value: v})
	}
	return keys
}

// Results flattens a decoded document into matchable results. Eligibility
// responses are not claim events and are left out. fallback dates events
// that carry no date of their own.
func Results(doc *response.Document, fallback time.Time) []*Result {
	if doc.CreatedAt != nil {
		fallback = *doc.CreatedAt
	}
	var out []*Result
	for _, a := range doc.Acknowledgments {
		out = append(out, ackResults(doc, a, fallback)...)
	}
	for _, cs := range doc.ClaimStatuses {
		out = append(out, statusResult(cs, fallback))
	}
	for _, rm := range doc.Remittances {
		for i := range rm.Claims {
			out = append(out, remittanceResult(rm, &rm.Claims[i], fallback))
		}
	}
	return out
}

func ackEventType(r response.AckResult) EventType {
	if r == response.AckRejected {
		return EventClearinghouseRejected
	}
	return EventAcknowledged
}

func ackResults(doc *response.Document, a *response.Acknowledgment, at time.Time) []*Result {
	if len(a.Transactions) == 0 {
		return []*Result{{
			Kind:       a.Kind,
			Type:       ackEventType(a.Result),
			OccurredAt: at,
			Detail: AckDetail{
				Kind:           a.Kind,
				AckInterchange: doc.InterchangeControl,
				GroupControl:   a.GroupControlNumber,
				Result:         a.Result,
				ResultCode:     a.ResultCode,
				Descriptions:   a.GroupDescriptions,
				Errors:         a.Errors,
			},
			Identifiers: submitterKeys("", a.GroupControlNumber, ""),
			Summary:     fmt.Sprintf("%s %s for group %s", a.Kind, a.Result, a.GroupControlNumber),
		}}
	}
	var out []*Result
	for _, t := range a.Transactions {
		if t.Code != "" && t.Code != "837" {
			continue
		}
		out = append(out, &Result{
			Kind:       a.Kind,
			Type:       ackEventType(t.Result),
			OccurredAt: at,
			Detail: AckDetail{
				Kind:               a.Kind,
				AckInterchange:     doc.InterchangeControl,
				GroupControl:       a.GroupControlNumber,
				TransactionControl: t.ControlNumber,
				Result:             t.Result,
				ResultCode:         t.ResultCode,
				Descriptions:       t.Descriptions,
				Errors:             t.Errors,
			},
			Identifiers: submitterKeys("", a.GroupControlNumber, t.ControlNumber),
			Summary:     fmt.Sprintf("%s %s for transaction %s", a.Kind, t.Result, t.ControlNumber),
		})
	}
	return out
}

func statusEventType(s response.NormalizedStatus) EventType {
	switch s {
	case response.StatusRejected:
		return EventClearinghouseRejected
	case response.StatusAcknowledged:
		return EventClearinghouseAccepted
	}
	return EventStatusUpdate
}

func statusResult(cs *response.ClaimStatus, at time.Time) *Result {
	if cs.EffectiveDate != nil {
		at = *cs.EffectiveDate
	}
	return &Result{
		Kind:          response.KindClaimStatus,
		Type:          statusEventType(cs.Status),
		OccurredAt:    at,
		Detail:        StatusDetail{Status: cs.Status, Response: cs},
		ControlNumber: cs.ClaimControlNumber,
		Identifiers:   externalKeys(cs.PayerClaimNumber, cs.ClearinghouseTrace),
		SubscriberID:  cs.MemberID,
		ServiceDate:   cs.ServiceFrom,
		Charge:        cs.Charge,
		Summary:       fmt.Sprintf("277 %s for claim %s: %s", cs.Status, cs.ClaimControlNumber, cs.Description),
	}
}

func remittanceResult(rm *response.Remittance, cp *response.ClaimPayment, at time.Time) *Result {
	if rm.PaymentDate != nil {
		at = *rm.PaymentDate
	}
	serviceDate := cp.ServiceFrom
	if serviceDate == nil {
		for _, l := range cp.Lines {
			if l.ServiceDate != nil {
				serviceDate = l.ServiceDate
				break
			}
		}
	}
	charge := cp.Charge
	outcome := cp.Outcome()
	return &Result{
		Kind:       response.KindRemittance,
		Type:       EventRemittanceDetail,
		OccurredAt: at,
		Detail: RemittanceDetail{
			Outcome:            outcome,
			TransactionControl: rm.TransactionControl,
			TraceNumber:        rm.TraceNumber,
			PaymentDate:        rm.PaymentDate,
			PayerName:          rm.PayerName,
			Payment:            *cp,
		},
		ControlNumber: cp.ControlNumber,
		Identifiers:   externalKeys(cp.PayerClaimNumber, ""),
		SubscriberID:  cp.MemberID,
		ServiceDate:   serviceDate,
		Charge:        &charge,
		Summary:       fmt.Sprintf("835 %s for claim %s: paid %s of %s", outcome, cp.ControlNumber, cp.Paid, cp.Charge),
	}
}
