package response

import (
	"strings"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// CoverageStatus is the aggregate result of a 271.
type CoverageStatus string

const (
	CoverageActive   CoverageStatus = "active"
	CoverageInactive CoverageStatus = "inactive"
	CoverageUnknown  CoverageStatus = "unknown"
)

// EB01 codes.
const (
	benefitCoinsurance = "A"
	benefitCopayment   = "B"
	benefitDeductible  = "C"
	benefitOutOfPocket = "G"
)

var activeBenefitCodes = map[string]bool{"1": true, "2": true, "3": true, "4": true, "5": true}
var inactiveBenefitCodes = map[string]bool{"6": true, "7": true, "8": true}

var behavioralServiceTypes = map[string]bool{
	"MH": true, "A4": true, "A5": true, "A6": true, "A7": true, "A8": true,
	"AI": true, "AJ": true, "AK": true, "CE": true, "CF": true,
}

// Benefit is one EB segment with its trailing messages.
type Benefit struct {
	Code          string      `json:"code"`
	CoverageLevel string      `json:"coverage_level,omitempty"`
	ServiceTypes  []string    `json:"service_types,omitempty"`
	InsuranceType string      `json:"insurance_type,omitempty"`
	PlanName      string      `json:"plan_name,omitempty"`
	TimePeriod    string      `json:"time_period,omitempty"`
	Amount        *x12.Amount `json:"amount,omitempty"`
	Percent       *float64    `json:"percent,omitempty"`
	InNetwork     string      `json:"in_network,omitempty"`
	Messages      []string    `json:"messages,omitempty"`
}

// Behavioral reports whether the benefit applies to a behavioral-health service type.
func (b Benefit) Behavioral() bool {
	for _, st := range b.ServiceTypes {
		if behavioralServiceTypes[st] {
			return true
		}
	}
	return false
}

// Remaining reports whether EB06 marks the amount as what is left to meet.
func (b Benefit) Remaining() bool { return b.TimePeriod == "29" }

// Accumulator holds individual and family figures for a deductible or
// out-of-pocket benefit.
type Accumulator struct {
	Individual          *x12.Amount `json:"individual,omitempty"`
	IndividualRemaining *x12.Amount `json:"individual_remaining,omitempty"`
	Family              *x12.Amount `json:"family,omitempty"`
	FamilyRemaining     *x12.Amount `json:"family_remaining,omitempty"`
}

func (a *Accumulator) add(b Benefit) {
	if b.Amount == nil {
		return
	}
	fam := b.CoverageLevel == "FAM"
	switch {
	case fam && b.Remaining():
		setOnce(&a.FamilyRemaining, b.Amount)
	case fam:
		setOnce(&a.Family, b.Amount)
	case b.Remaining():
		setOnce(&a.IndividualRemaining, b.Amount)
	default:
		setOnce(&a.Individual, b.Amount)
	}
}

func setOnce(dst **x12.Amount, v *x12.Amount) {
	if *dst == nil {
		*dst = v
	}
}

// BenefitSummary collects copay, coinsurance, deductible and out-of-pocket figures.
type BenefitSummary struct {
	Status      CoverageStatus `json:"status"`
	Copay       *x12.Amount    `json:"copay,omitempty"`
	Coinsurance *float64       `json:"coinsurance,omitempty"`
	Deductible  Accumulator    `json:"deductible"`
	OutOfPocket Accumulator    `json:"out_of_pocket"`
}

// RequestError is an AAA segment: the payer could not answer the inquiry.
type RequestError struct {
	Valid   string `json:"valid"`
	Reason  string `json:"reason"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

var aaaReasonText = map[string]string{
	"15": "Required application data missing",
	"41": "Authorization/Access Restrictions",
	"42": "Unable to Respond at Current Time",
	"43": "Invalid/Missing Provider Identification",
	"45": "Invalid/Missing Provider Specialty",
	"47": "Invalid/Missing Provider State",
	"48": "Invalid/Missing Referring Provider Identification Number",
	"49": "Provider is Not Primary Care Physician",
	"51": "Provider Not on File",
	"52": "Service Dates Not Within Provider Plan Enrollment",
	"56": "Inappropriate Date",
	"57": "Invalid/Missing Date(s) of Service",
	"58": "Invalid/Missing Date-of-Birth",
	"60": "Date of Birth Follows Date(s) of Service",
	"62": "Date of Death Precedes Date(s) of Service",
	"63": "Date of Service Not Within Allowable Inquiry Period",
	"64": "Invalid/Missing Patient ID",
	"65": "Invalid/Missing Patient Name",
	"66": "Invalid/Missing Patient Gender Code",
	"67": "Patient Not Found",
	"68": "Duplicate Patient ID Number",
	"71": "Patient Birth Date Does Not Match That for the Patient on the Database",
	"72": "Invalid/Missing Subscriber/Insured ID",
	"73": "Invalid/Missing Subscriber/Insured Name",
	"74": "Invalid/Missing Subscriber/Insured Gender Code",
	"75": "Subscriber/Insured Not Found",
	"76": "Duplicate Subscriber/Insured ID Number",
	"78": "Subscriber/Insured Not in Group/Plan Identified",
}

// Eligibility is the normalized content of one 271 transaction set.
type Eligibility struct {
	TransactionControl string          `json:"transaction_control"`
	TraceNumbers       []string        `json:"trace_numbers,omitempty"`
	PayerName          string          `json:"payer_name,omitempty"`
	PayerID            string          `json:"payer_id,omitempty"`
	SubscriberFirst    string          `json:"subscriber_first_name,omitempty"`
	SubscriberLast     string          `json:"subscriber_last_name,omitempty"`
	MemberID           string          `json:"member_id,omitempty"`
	GroupNumber        string          `json:"group_number,omitempty"`
	PlanName           string          `json:"plan_name,omitempty"`
	BenefitSummary                     // overall plan figures
	MentalHealth       *BenefitSummary `json:"mental_health,omitempty"`
	Benefits           []Benefit       `json:"benefits,omitempty"`
	Errors             []RequestError  `json:"errors,omitempty"`
}

// DecodeEligibility interprets the EB segments of a 271.
func DecodeEligibility(tx *x12.Transaction) (*Eligibility, error) {
	if err := expect(tx, KindEligibility); err != nil {
		return nil, err
	}
	e := &Eligibility{TransactionControl: tx.ControlNumber()}

	var current *Benefit
	flush := func() {
		if current != nil {
			e.Benefits = append(e.Benefits, *current)
			current = nil
		}
	}
	lastEntity := ""
	for _, s := range tx.Segments {
		switch s.ID {
		case "NM1":
			flush()
			lastEntity = s.Get(1)
			switch lastEntity {
			case "PR":
				e.PayerName = s.Get(3)
				e.PayerID = s.Get(9)
			case "IL":
				e.SubscriberLast = s.Get(3)
				e.SubscriberFirst = s.Get(4)
				e.MemberID = s.Get(9)
			}
		case "TRN":
			if v := s.Get(2); v != "" {
				e.TraceNumbers = append(e.TraceNumbers, v)
			}
		case "REF":
			if lastEntity == "IL" && (s.Get(1) == "6P" || s.Get(1) == "IG") && e.GroupNumber == "" {
				e.GroupNumber = s.Get(2)
				if s.Get(3) != "" && e.PlanName == "" {
					e.PlanName = s.Get(3)
				}
			}
		case "AAA":
			e.Errors = append(e.Errors, RequestError{
				Valid:   s.Get(1),
				Reason:  s.Get(3),
				Action:  s.Get(4),
				Message: lookup(aaaReasonText, "Reason", s.Get(3)),
			})
		case "EB":
			flush()
			b := parseBenefit(s)
			current = &b
		case "MSG":
			if current != nil {
				current.Messages = append(current.Messages, s.Get(1))
			}
		case "LS", "LE":
			// 2120C related-entity loops stay attached to the current benefit.
		default:
			if s.ID == "HL" {
				flush()
			}
		}
	}
	flush()

	e.BenefitSummary = summarize(e.Benefits, false)
	for _, b := range e.Benefits {
		if b.PlanName != "" && e.PlanName == "" && activeBenefitCodes[b.Code] {
			e.PlanName = b.PlanName
		}
	}
	if hasBehavioral(e.Benefits) {
		mh := summarize(e.Benefits, true)
		e.MentalHealth = &mh
	}
	return e, nil
}

func parseBenefit(s x12.Segment) Benefit {
	b := Benefit{
		Code:          s.Get(1),
		CoverageLevel: s.Get(2),
		InsuranceType: s.Get(4),
		PlanName:      s.Get(5),
		TimePeriod:    s.Get(6),
		Amount:        amountPtr(s.Get(7)),
		InNetwork:     s.Get(12),
	}
	for _, rep := range s.Repeats(3) {
		if len(rep) > 0 && rep[0] != "" {
			b.ServiceTypes = append(b.ServiceTypes, rep[0])
		}
	}
	if p := s.Get(8); p != "" {
		if v, err := x12.ParseAmount(p); err == nil {
			// EB08 is a fraction ("0.2"); Amount keeps two decimals of it.
			f := float64(v) / 100
			b.Percent = &f
		}
	}
	return b
}

func hasBehavioral(benefits []Benefit) bool {
	for _, b := range benefits {
		if b.Behavioral() {
			return true
		}
	}
	return false
}

// summarize applies the coverage decision rule over either the general or
// the behavioral-health benefits. An explicit active/inactive code in scope
// wins, then one from the other scope, then quantitative data implies active.
// Absence of all of these is the only way to get unknown.
func summarize(benefits []Benefit, behavioral bool) BenefitSummary {
	sum := BenefitSummary{Status: CoverageUnknown}
	explicit, fallback := CoverageUnknown, CoverageUnknown
	quantitative, otherQuantitative := false, false

	for _, b := range benefits {
		inScope := b.Behavioral() == behavioral
		if behavioral && !inScope && !isGeneralServiceType(b) {
			continue
		}
		if code := coverageCode(b.Code); code != CoverageUnknown {
			if inScope && explicit == CoverageUnknown {
				explicit = code
			} else if !inScope && fallback == CoverageUnknown {
				fallback = code
			}
			continue
		}
		if b.Amount == nil && b.Percent == nil {
			continue
		}
		if !inScope {
			// Figures for the other scope still show the member is covered.
			if quantitativeBenefit(b) {
				otherQuantitative = true
			}
			continue
		}
		switch b.Code {
		case benefitCopayment:
			if b.Amount != nil {
				quantitative = true
				setOnce(&sum.Copay, b.Amount)
			}
		case benefitCoinsurance:
			if b.Percent != nil {
				quantitative = true
				if sum.Coinsurance == nil {
					sum.Coinsurance = b.Percent
				}
			}
		case benefitDeductible:
			if b.Amount != nil {
				quantitative = true
				sum.Deductible.add(b)
			}
		case benefitOutOfPocket:
			if b.Amount != nil {
				quantitative = true
				sum.OutOfPocket.add(b)
			}
		}
	}

	switch {
	case explicit != CoverageUnknown:
		sum.Status = explicit
	case fallback != CoverageUnknown:
		sum.Status = fallback
	case quantitative, otherQuantitative:
		sum.Status = CoverageActive
	}
	return sum
}

func quantitativeBenefit(b Benefit) bool {
	switch b.Code {
	case benefitCopayment, benefitDeductible, benefitOutOfPocket:
		return b.Amount != nil
	case benefitCoinsurance:
		return b.Percent != nil
	}
	return false
}

func coverageCode(code string) CoverageStatus {
	switch {
	case activeBenefitCodes[code]:
		return CoverageActive
	case inactiveBenefitCodes[code]:
		return CoverageInactive
	}
	return CoverageUnknown
}

func isGeneralServiceType(b Benefit) bool {
	if len(b.ServiceTypes) == 0 {
		return true
	}
	for _, st := range b.ServiceTypes {
		if strings.TrimSpace(st) == "30" {
			return true
		}
	}
	return false
}
