package response

import (
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// NormalizedStatus is the payer-neutral reading of a 277 status category.
type NormalizedStatus string

const (
	StatusAcknowledged NormalizedStatus = "acknowledged"
	StatusRejected     NormalizedStatus = "rejected"
	StatusInProcess    NormalizedStatus = "in_process"
	StatusPended       NormalizedStatus = "pended"
	StatusDenied       NormalizedStatus = "denied"
	StatusPaid         NormalizedStatus = "paid"
	StatusFinalized    NormalizedStatus = "finalized"
	StatusError        NormalizedStatus = "error"
	StatusUnknown      NormalizedStatus = "unknown"
)

// StatusCode is one STC01 (or STC10/STC11) composite.
type StatusCode struct {
	Category     string `json:"category"`
	Code         string `json:"code"`
	Entity       string `json:"entity,omitempty"`
	CategoryText string `json:"category_text"`
	CodeText     string `json:"code_text"`
}

// Acknowledgment reports whether the category is in the A (acknowledgement) family.
func (c StatusCode) Acknowledgment() bool {
	return len(c.Category) > 0 && c.Category[0] == 'A'
}

// Normalized maps the category onto a NormalizedStatus. The R family
// (requests for information) counts as pended.
func (c StatusCode) Normalized() NormalizedStatus {
	if s, ok := stcCategoryStatus[c.Category]; ok {
		return s
	}
	if len(c.Category) > 1 && c.Category[0] == 'R' {
		return StatusPended
	}
	return StatusUnknown
}

// LineStatus is the status of one service line (loop 2220).
type LineStatus struct {
	ProcedureCode string       `json:"procedure_code"`
	Modifiers     []string     `json:"modifiers,omitempty"`
	Charge        *x12.Amount  `json:"charge,omitempty"`
	Paid          *x12.Amount  `json:"paid,omitempty"`
	ControlNumber string       `json:"control_number,omitempty"`
	ServiceDate   *time.Time   `json:"service_date,omitempty"`
	Codes         []StatusCode `json:"codes,omitempty"`
}

// ClaimStatus is one claim-level result from a 277.
type ClaimStatus struct {
	TransactionControl   string           `json:"transaction_control"`
	ClaimControlNumber   string           `json:"claim_control_number"`             // TRN02, echoes CLM01
	PayerClaimNumber     string           `json:"payer_claim_number,omitempty"`     // REF*1K
	ClearinghouseTrace   string           `json:"clearinghouse_trace,omitempty"`    // REF*D9
	PatientAccountNumber string           `json:"patient_account_number,omitempty"` // REF*EJ
	PayerName            string           `json:"payer_name,omitempty"`
	PatientFirstName     string           `json:"patient_first_name,omitempty"`
	PatientLastName      string           `json:"patient_last_name,omitempty"`
	MemberID             string           `json:"member_id,omitempty"`
	HierarchicalLevel    string           `json:"hierarchical_level"`
	Status               NormalizedStatus `json:"status"`
	Description          string           `json:"description"`
	Level                string           `json:"level"` // "claim" or "line"
	Codes                []StatusCode     `json:"codes"`
	EffectiveDate        *time.Time       `json:"effective_date,omitempty"`
	Charge               *x12.Amount      `json:"charge,omitempty"`
	Paid                 *x12.Amount      `json:"paid,omitempty"`
	ServiceFrom          *time.Time       `json:"service_from,omitempty"`
	ServiceTo            *time.Time       `json:"service_to,omitempty"`
	Lines                []LineStatus     `json:"lines,omitempty"`
}

// Primary returns the first status code, which decides the claim status.
func (c *ClaimStatus) Primary() (StatusCode, bool) {
	if len(c.Codes) == 0 {
		return StatusCode{}, false
	}
	return c.Codes[0], true
}

type party struct {
	first, last, id string
}

var claimLevels = map[string]bool{"22": true, "23": true, "PT": true}

// DecodeClaimStatus groups a 277 by hierarchical level and returns one
// result per claim tracking loop (TRN) found under a subscriber, dependent
// or patient level.
func DecodeClaimStatus(tx *x12.Transaction) ([]*ClaimStatus, error) {
	if err := expect(tx, KindClaimStatus); err != nil {
		return nil, err
	}

	_, levels := x12.SplitLoops(tx.Segments, x12.StartsWith("HL"))
	parties := make(map[string]party)
	payer := ""
	var out []*ClaimStatus

	for _, level := range levels {
		hl := x12.ParseHL(level[0])
		body := level[1:]

		// Level-scoped identity, inherited from the parent level.
		who := parties[hl.ParentID]
		for _, s := range body {
			if s.ID != "NM1" {
				continue
			}
			switch s.Get(1) {
			case "PR":
				payer = s.Get(3)
			case "IL", "QC":
				who = party{first: s.Get(4), last: s.Get(3), id: firstNonEmpty(s.Get(9), who.id)}
			}
		}
		parties[hl.ID] = who

		if !claimLevels[hl.Level] {
			continue
		}
		_, claims := x12.SplitLoops(body, x12.StartsWith("TRN"))
		for _, segs := range claims {
			cs := decodeClaimLoop(tx.ControlNumber(), hl, segs)
			cs.PayerName = payer
			cs.PatientFirstName, cs.PatientLastName, cs.MemberID = who.first, who.last, who.id
			out = append(out, cs)
		}
	}
	return out, nil
}

func decodeClaimLoop(txControl string, hl x12.HL, segs []x12.Segment) *ClaimStatus {
	cs := &ClaimStatus{
		TransactionControl: txControl,
		ClaimControlNumber: segs[0].Get(2),
		HierarchicalLevel:  hl.Level,
		Level:              "claim",
	}

	claimSegs, lines := x12.SplitLoops(segs, x12.StartsWith("SVC"))
	for _, s := range claimSegs {
		switch s.ID {
		case "STC":
			cs.Codes = append(cs.Codes, stcCodes(s)...)
			if cs.EffectiveDate == nil {
				if t, err := x12.ParseDate(s.Get(2)); err == nil {
					cs.EffectiveDate = &t
				}
			}
			if cs.Charge == nil {
				cs.Charge = amountPtr(s.Get(4))
			}
			if cs.Paid == nil {
				cs.Paid = amountPtr(s.Get(5))
			}
		case "REF":
			switch s.Get(1) {
			case "1K":
				cs.PayerClaimNumber = s.Get(2)
			case "D9":
				cs.ClearinghouseTrace = s.Get(2)
			case "EJ":
				cs.PatientAccountNumber = s.Get(2)
			}
		case "DTP":
			if s.Get(1) == "472" {
				if from, to, err := x12.ParseDatePeriod(s.Get(2), s.Get(3)); err == nil {
					cs.ServiceFrom, cs.ServiceTo = &from, &to
				}
			}
		}
	}

	for _, l := range lines {
		ls := LineStatus{
			ProcedureCode: l[0].Component(1, 2),
			Charge:        amountPtr(l[0].Get(2)),
			Paid:          amountPtr(l[0].Get(3)),
		}
		if comps := l[0].Elements; len(comps) > 0 && len(comps[0].Components) > 2 {
			ls.Modifiers = append([]string(nil), comps[0].Components[2:]...)
		}
		for _, s := range l[1:] {
			switch s.ID {
			case "STC":
				ls.Codes = append(ls.Codes, stcCodes(s)...)
			case "REF":
				if s.Get(1) == "FJ" {
					ls.ControlNumber = s.Get(2)
				}
			case "DTP":
				if s.Get(1) == "472" {
					if from, _, err := x12.ParseDatePeriod(s.Get(2), s.Get(3)); err == nil {
						ls.ServiceDate = &from
					}
				}
			}
		}
		cs.Lines = append(cs.Lines, ls)
	}

	primary, ok := cs.Primary()
	if !ok && len(cs.Lines) > 0 && len(cs.Lines[0].Codes) > 0 {
		primary, ok = cs.Lines[0].Codes[0], true
		cs.Level = "line"
	}
	switch {
	case ok:
		cs.Status = primary.Normalized()
		cs.Description = primary.CategoryText
		if primary.Code != "" {
			cs.Description += ": " + primary.CodeText
		}
	default:
		cs.Status = StatusUnknown
		cs.Description = "No status reported"
	}
	return cs
}

// stcCodes reads STC01 plus the optional STC10 and STC11 composites.
func stcCodes(s x12.Segment) []StatusCode {
	var out []StatusCode
	for _, pos := range []int{1, 10, 11} {
		cat := s.Component(pos, 1)
		if cat == "" {
			continue
		}
		code := s.Component(pos, 2)
		sc := StatusCode{
			Category:     cat,
			Code:         code,
			Entity:       s.Component(pos, 3),
			CategoryText: CategoryText(cat),
		}
		if code != "" {
			sc.CodeText = StatusText(code)
		}
		out = append(out, sc)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
