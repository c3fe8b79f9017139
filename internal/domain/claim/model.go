package claim

import (
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// Claim frequency codes carried in CLM05-3.
const (
	FrequencyOriginal    = "1"
	FrequencyReplacement = "7"
	FrequencyVoid        = "8"
)

// Address is a postal address rendered as N3/N4.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Party identifies the submitter or receiver of the interchange.
type Party struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	ContactName string `json:"contact_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Provider is a billing or rendering provider. Organizations leave
// FirstName empty.
type Provider struct {
	LastName  string  `json:"last_name"`
	FirstName string  `json:"first_name,omitempty"`
	NPI       string  `json:"npi"`
	TaxID     string  `json:"tax_id,omitempty"`
	Taxonomy  string  `json:"taxonomy,omitempty"`
	Address   Address `json:"address"`
}

// IsPerson reports whether the provider is an individual (NM102 = 1).
func (p Provider) IsPerson() bool { return p.FirstName != "" }

// Payer is the destination payer (loop 2010BB).
type Payer struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Subscriber is the insured member (loop 2000B/2010BA).
type Subscriber struct {
	MemberID        string    `json:"member_id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	BirthDate       time.Time `json:"birth_date"`
	Gender          string    `json:"gender"`
	Address         Address   `json:"address"`
	GroupNumber     string    `json:"group_number,omitempty"`
	ClaimFilingCode string    `json:"claim_filing_code,omitempty"`
}

// Patient is set only when the patient is not the subscriber (loop 2000C).
type Patient struct {
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BirthDate    time.Time `json:"birth_date"`
	Gender       string    `json:"gender"`
	Address      Address   `json:"address"`
	Relationship string    `json:"relationship"` // PAT01: 01 spouse, 19 child, G8 other
}

// ServiceLine is one professional service (loop 2400).
type ServiceLine struct {
	ProcedureCode     string     `json:"procedure_code"`
	Modifiers         []string   `json:"modifiers,omitempty"`
	Charge            x12.Amount `json:"charge"`
	Units             float64    `json:"units"`
	DiagnosisPointers []int      `json:"diagnosis_pointers"` // 1-based into Record.Diagnoses
	ServiceDate       time.Time  `json:"service_date"`
	ServiceDateEnd    *time.Time `json:"service_date_end,omitempty"`
	PlaceOfService    string     `json:"place_of_service,omitempty"`
}

// Record is the structured input to the 837P encoder.
type Record struct {
	ControlNumber       string        `json:"control_number"` // CLM01, echoed back by payers
	Submitter           Party         `json:"submitter"`
	Receiver            Party         `json:"receiver"`
	Payer               Payer         `json:"payer"`
	BillingProvider     Provider      `json:"billing_provider"`
	RenderingProvider   *Provider     `json:"rendering_provider,omitempty"`
	Subscriber          Subscriber    `json:"subscriber"`
	Patient             *Patient      `json:"patient,omitempty"`
	Diagnoses           []string      `json:"diagnoses"` // ICD-10-CM, first is principal
	Lines               []ServiceLine `json:"lines"`
	TotalCharge         *x12.Amount   `json:"total_charge,omitempty"`
	PlaceOfService      string        `json:"place_of_service,omitempty"`
	Frequency           string        `json:"frequency,omitempty"`
	OriginalClaimNumber string        `json:"original_claim_number,omitempty"` // payer ICN for frequency 7/8
}

// LineTotal sums the service line charges.
func (r *Record) LineTotal() x12.Amount {
	var total x12.Amount
	for _, l := range r.Lines {
		total += l.Charge
	}
	return total
}

// Total returns TotalCharge when set, otherwise the line total.
func (r *Record) Total() x12.Amount {
	if r.TotalCharge != nil {
		return *r.TotalCharge
	}
	return r.LineTotal()
}

// ServicePeriod returns the earliest and latest service dates across lines.
func (r *Record) ServicePeriod() (from, to time.Time) {
	for _, l := range r.Lines {
		if l.ServiceDate.IsZero() {
			continue
		}
		end := l.ServiceDate
		if l.ServiceDateEnd != nil && l.ServiceDateEnd.After(end) {
			end = *l.ServiceDateEnd
		}
		if from.IsZero() || l.ServiceDate.Before(from) {
			from = l.ServiceDate
		}
		if end.After(to) {
			to = end
		}
	}
	return from, to
}

// PlaceOfServiceCode defaults to office (11).
func (r *Record) PlaceOfServiceCode() string {
	if r.PlaceOfService == "" {
		return "11"
	}
	return r.PlaceOfService
}

// FrequencyCode defaults to an original claim.
func (r *Record) FrequencyCode() string {
	if r.Frequency == "" {
		return FrequencyOriginal
	}
	return r.Frequency
}

// PatientIsSubscriber reports whether loop 2000C is omitted.
func (r *Record) PatientIsSubscriber() bool { return r.Patient == nil }

// PatientName returns the name of the person who received the services.
func (r *Record) PatientName() (first, last string) {
	if r.Patient != nil {
		return r.Patient.FirstName, r.Patient.LastName
	}
	return r.Subscriber.FirstName, r.Subscriber.LastName
}
