package response

import (
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// RemitOutcome is the payment outcome of one CLP loop.
type RemitOutcome string

const (
	RemitPaid    RemitOutcome = "paid"
	RemitPartial RemitOutcome = "partial"
	RemitDenied  RemitOutcome = "denied"
)

// Adjustment is one CAS reason/amount pair.
type Adjustment struct {
	Group       string     `json:"group"`
	Reason      string     `json:"reason"`
	Amount      x12.Amount `json:"amount"`
	Quantity    string     `json:"quantity,omitempty"`
	Description string     `json:"description"`
}

// Remark is one LQ*HE remittance advice remark.
type Remark struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ServicePayment is one SVC loop.
type ServicePayment struct {
	ProcedureCode string       `json:"procedure_code"`
	Modifiers     []string     `json:"modifiers,omitempty"`
	Charge        x12.Amount   `json:"charge"`
	Paid          x12.Amount   `json:"paid"`
	Units         string       `json:"units,omitempty"`
	ServiceDate   *time.Time   `json:"service_date,omitempty"`
	ControlNumber string       `json:"control_number,omitempty"` // REF*6R
	Allowed       *x12.Amount  `json:"allowed,omitempty"`        // AMT*B6
	Adjustments   []Adjustment `json:"adjustments,omitempty"`
	Remarks       []Remark     `json:"remarks,omitempty"`
}

// ClaimPayment is one CLP loop.
type ClaimPayment struct {
	ControlNumber         string           `json:"control_number"` // CLP01, echoes CLM01
	StatusCode            string           `json:"status_code"`
	StatusText            string           `json:"status_text"`
	Charge                x12.Amount       `json:"charge"`
	Paid                  x12.Amount       `json:"paid"`
	PatientResponsibility x12.Amount       `json:"patient_responsibility"`
	FilingIndicator       string           `json:"filing_indicator,omitempty"`
	PayerClaimNumber      string           `json:"payer_claim_number,omitempty"` // CLP07
	PatientFirstName      string           `json:"patient_first_name,omitempty"`
	PatientLastName       string           `json:"patient_last_name,omitempty"`
	MemberID              string           `json:"member_id,omitempty"`
	ServiceFrom           *time.Time       `json:"service_from,omitempty"`
	ServiceTo             *time.Time       `json:"service_to,omitempty"`
	Adjustments           []Adjustment     `json:"adjustments,omitempty"`
	Lines                 []ServicePayment `json:"lines,omitempty"`
}

// Outcome derives paid/partial/denied from the CLP status code and amounts.
// Codes 4 and 22 are denials. Otherwise a claim whose charge is covered by
// payment plus patient responsibility is paid, even when the payer paid
// nothing because all of it went to the deductible. Only a claim with
// neither payment nor patient responsibility is denied on amounts.
func (c *ClaimPayment) Outcome() RemitOutcome {
	switch c.StatusCode {
	case "4", "22":
		return RemitDenied
	}
	if c.Paid <= 0 && c.PatientResponsibility <= 0 {
		return RemitDenied
	}
	if c.Paid+c.PatientResponsibility >= c.Charge {
		return RemitPaid
	}
	return RemitPartial
}

// ProviderAdjustment is one PLB adjustment pair.
type ProviderAdjustment struct {
	ProviderID string     `json:"provider_id"`
	Reason     string     `json:"reason"`
	Reference  string     `json:"reference,omitempty"`
	Amount     x12.Amount `json:"amount"`
}

// Remittance is the normalized content of one 835.
type Remittance struct {
	TransactionControl  string               `json:"transaction_control"`
	PaymentMethod       string               `json:"payment_method,omitempty"`
	TotalPaid           x12.Amount           `json:"total_paid"`
	PaymentDate         *time.Time           `json:"payment_date,omitempty"`
	TraceNumber         string               `json:"trace_number,omitempty"`
	PayerName           string               `json:"payer_name,omitempty"`
	PayerID             string               `json:"payer_id,omitempty"`
	PayeeName           string               `json:"payee_name,omitempty"`
	PayeeNPI            string               `json:"payee_npi,omitempty"`
	Claims              []ClaimPayment       `json:"claims"`
	ProviderAdjustments []ProviderAdjustment `json:"provider_adjustments,omitempty"`
}

// DecodeRemittance reads the header, payer/payee and every CLP loop of an 835.
func DecodeRemittance(tx *x12.Transaction) (*Remittance, error) {
	if err := expect(tx, KindRemittance); err != nil {
		return nil, err
	}
	r := &Remittance{TransactionControl: tx.ControlNumber()}

	header, claims := x12.SplitLoops(tx.Segments, x12.StartsWith("CLP"))
	for _, s := range header {
		switch s.ID {
		case "BPR":
			r.TotalPaid = amountOrZero(s.Get(2))
			r.PaymentMethod = s.Get(4)
			if t, err := x12.ParseDate(s.Get(16)); err == nil {
				r.PaymentDate = &t
			}
		case "TRN":
			r.TraceNumber = s.Get(2)
		case "N1":
			switch s.Get(1) {
			case "PR":
				r.PayerName = s.Get(2)
				if s.Get(3) == "XV" || s.Get(3) == "PI" {
					r.PayerID = s.Get(4)
				}
			case "PE":
				r.PayeeName = s.Get(2)
				if s.Get(3) == "XX" {
					r.PayeeNPI = s.Get(4)
				}
			}
		case "REF":
			if s.Get(1) == "2U" && r.PayerID == "" {
				r.PayerID = s.Get(2)
			}
		}
	}

	for _, segs := range claims {
		// PLB follows the last claim loop.
		var plb []x12.Segment
		for i, s := range segs {
			if s.ID == "PLB" {
				plb = segs[i:]
				segs = segs[:i]
				break
			}
		}
		r.Claims = append(r.Claims, decodeClaimPayment(segs))
		for _, s := range plb {
			if s.ID == "PLB" {
				r.ProviderAdjustments = append(r.ProviderAdjustments, decodePLB(s)...)
			}
		}
	}
	return r, nil
}

func decodeClaimPayment(segs []x12.Segment) ClaimPayment {
	clp := segs[0]
	c := ClaimPayment{
		ControlNumber:         clp.Get(1),
		StatusCode:            clp.Get(2),
		StatusText:            lookup(claimStatusCodeText, "Status", clp.Get(2)),
		Charge:                amountOrZero(clp.Get(3)),
		Paid:                  amountOrZero(clp.Get(4)),
		PatientResponsibility: amountOrZero(clp.Get(5)),
		FilingIndicator:       clp.Get(6),
		PayerClaimNumber:      clp.Get(7),
	}

	claimSegs, lines := x12.SplitLoops(segs[1:], x12.StartsWith("SVC"))
	for _, s := range claimSegs {
		switch s.ID {
		case "CAS":
			c.Adjustments = append(c.Adjustments, decodeCAS(s)...)
		case "NM1":
			switch s.Get(1) {
			case "QC":
				c.PatientLastName = s.Get(3)
				c.PatientFirstName = s.Get(4)
				if c.MemberID == "" {
					c.MemberID = s.Get(9)
				}
			case "IL":
				c.MemberID = s.Get(9)
			}
		case "DTM":
			t, err := x12.ParseDate(s.Get(2))
			if err != nil {
				continue
			}
			switch s.Get(1) {
			case "232":
				c.ServiceFrom = &t
			case "233":
				c.ServiceTo = &t
			}
		}
	}

	for _, l := range lines {
		svc := l[0]
		sp := ServicePayment{
			ProcedureCode: svc.Component(1, 2),
			Charge:        amountOrZero(svc.Get(2)),
			Paid:          amountOrZero(svc.Get(3)),
			Units:         svc.Get(5),
		}
		if len(svc.Elements) > 0 && len(svc.Elements[0].Components) > 2 {
			sp.Modifiers = append([]string(nil), svc.Elements[0].Components[2:]...)
		}
		for _, s := range l[1:] {
			switch s.ID {
			case "DTM":
				if s.Get(1) == "472" || s.Get(1) == "150" {
					if t, err := x12.ParseDate(s.Get(2)); err == nil && sp.ServiceDate == nil {
						sp.ServiceDate = &t
					}
				}
			case "CAS":
				sp.Adjustments = append(sp.Adjustments, decodeCAS(s)...)
			case "REF":
				if s.Get(1) == "6R" {
					sp.ControlNumber = s.Get(2)
				}
			case "AMT":
				if s.Get(1) == "B6" {
					sp.Allowed = amountPtr(s.Get(2))
				}
			case "LQ":
				if s.Get(1) == "HE" {
					sp.Remarks = append(sp.Remarks, Remark{Code: s.Get(2), Description: RemarkText(s.Get(2))})
				}
			}
		}
		c.Lines = append(c.Lines, sp)
	}

	if c.ServiceFrom == nil {
		for _, l := range c.Lines {
			if l.ServiceDate == nil {
				continue
			}
			if c.ServiceFrom == nil || l.ServiceDate.Before(*c.ServiceFrom) {
				c.ServiceFrom = l.ServiceDate
			}
			if c.ServiceTo == nil || l.ServiceDate.After(*c.ServiceTo) {
				c.ServiceTo = l.ServiceDate
			}
		}
	}
	return c
}

// decodeCAS reads up to six reason/amount/quantity triples.
func decodeCAS(s x12.Segment) []Adjustment {
	group := s.Get(1)
	var out []Adjustment
	for pos := 2; pos+1 <= 19; pos += 3 {
		reason := s.Get(pos)
		if reason == "" {
			continue
		}
		out = append(out, Adjustment{
			Group:       group,
			Reason:      reason,
			Amount:      amountOrZero(s.Get(pos + 1)),
			Quantity:    s.Get(pos + 2),
			Description: ReasonText(reason),
		})
	}
	return out
}

func decodePLB(s x12.Segment) []ProviderAdjustment {
	var out []ProviderAdjustment
	for pos := 3; pos+1 <= 14; pos += 2 {
		reason := s.Component(pos, 1)
		if reason == "" {
			continue
		}
		out = append(out, ProviderAdjustment{
			ProviderID: s.Get(1),
			Reason:     reason,
			Reference:  s.Component(pos, 2),
			Amount:     amountOrZero(s.Get(pos + 1)),
		})
	}
	return out
}
