package claim

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Severity decides whether a validation problem blocks encoding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError is one problem found on a claim record.
type ValidationError struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationFailure is returned when a record has blocking errors. It carries
// every problem found, warnings included.
type ValidationFailure struct {
	Errors []ValidationError
}

func (f *ValidationFailure) Error() string {
	n := 0
	first := ""
	for _, e := range f.Errors {
		if e.Severity != SeverityError {
			continue
		}
		if n == 0 {
			first = e.Field + ": " + e.Message
		}
		n++
	}
	if n == 1 {
		return "claim validation failed: " + first
	}
	return fmt.Sprintf("claim validation failed: %s (and %d more)", first, n-1)
}

// HasBlocking reports whether any entry has error severity.
func HasBlocking(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	npiPattern       = regexp.MustCompile(`^[0-9]{10}$`)
	taxIDPattern     = regexp.MustCompile(`^[0-9]{9}$`)
	// ICD-10-CM codes may carry letters after the category (F32.A, S72.001A).
	icd10Pattern     = regexp.MustCompile(`^[A-Z][0-9]{2}(\.?[0-9A-Z]{1,4})?$`)
	procedurePattern = regexp.MustCompile(`^([0-9]{4}[0-9A-Z]|[A-Z][0-9]{4})$`)
	modifierPattern  = regexp.MustCompile(`^[0-9A-Z]{2}$`)
	zipPattern       = regexp.MustCompile(`^[0-9]{5}(-?[0-9]{4})?$`)
	posPattern       = regexp.MustCompile(`^[0-9]{2}$`)
)

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true, "DE": true,
	"DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true, "IN": true, "IA": true,
	"KS": true, "KY": true, "LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true, "NM": true,
	"NY": true, "NC": true, "ND": true, "OH": true, "OK": true, "OR": true, "PA": true, "RI": true,
	"SC": true, "SD": true, "TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true, "PR": true, "VI": true, "GU": true, "AS": true, "MP": true,
}

var validGenders = map[string]bool{"M": true, "F": true, "U": true}

var validRelationships = map[string]bool{
	"01": true, "19": true, "20": true, "21": true, "39": true, "40": true, "53": true, "G8": true,
}

const (
	maxDiagnoses    = 12
	maxServiceLines = 50
	maxPointers     = 4
	maxControlLen   = 20
	// ISA06 and ISA08 are fixed 15-character fields.
	maxPartyIDLen   = 15
)

type collector struct {
	errs []ValidationError
}

func (c *collector) fail(field, format string, args ...interface{}) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (c *collector) warn(field, format string, args ...interface{}) {
	c.errs = append(c.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func (c *collector) required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.fail(field, "is required")
		return false
	}
	return true
}

// Validate checks every field of the record and returns all problems found.
// now is used for the future-date check.
func Validate(r *Record, now time.Time) []ValidationError {
	c := &collector{}
	if r == nil {
		c.fail("claim", "is required")
		return c.errs
	}

	if c.required("control_number", r.ControlNumber) && len(r.ControlNumber) > maxControlLen {
		c.fail("control_number", "must be at most %d characters", maxControlLen)
	}

	c.required("submitter.name", r.Submitter.Name)
	if c.required("submitter.id", r.Submitter.ID) && len(strings.TrimSpace(r.Submitter.ID)) > maxPartyIDLen {
		c.fail("submitter.id", "must be at most %d characters", maxPartyIDLen)
	}
	c.required("receiver.name", r.Receiver.Name)
	if c.required("receiver.id", r.Receiver.ID) && len(strings.TrimSpace(r.Receiver.ID)) > maxPartyIDLen {
		c.fail("receiver.id", "must be at most %d characters", maxPartyIDLen)
	}
	c.required("payer.name", r.Payer.Name)
	c.required("payer.id", r.Payer.ID)

	validateProvider(c, "billing_provider", r.BillingProvider, true)
	if r.RenderingProvider != nil {
		validateProvider(c, "rendering_provider", *r.RenderingProvider, false)
	}

	validateSubscriber(c, r)
	if r.Patient != nil {
		validatePatient(c, r.Patient)
	}

	validateDiagnoses(c, r.Diagnoses)
	validateLines(c, r, now)

	if r.PlaceOfService != "" && !posPattern.MatchString(r.PlaceOfService) {
		c.fail("place_of_service", "must be a 2-digit place of service code")
	}

	switch r.FrequencyCode() {
	case FrequencyOriginal:
	case FrequencyReplacement, FrequencyVoid:
		c.required("original_claim_number", r.OriginalClaimNumber)
	default:
		c.fail("frequency", "must be 1, 7 or 8")
	}

	if r.TotalCharge != nil && len(r.Lines) > 0 {
		if sum := r.LineTotal(); *r.TotalCharge != sum {
			c.fail("total_charge", "total %s does not equal sum of service lines %s", r.TotalCharge.String(), sum.String())
		}
	}
	return c.errs
}

func validateProvider(c *collector, prefix string, p Provider, billing bool) {
	c.required(prefix+".last_name", p.LastName)
	if c.required(prefix+".npi", p.NPI) {
		if !npiPattern.MatchString(p.NPI) {
			c.fail(prefix+".npi", "must be 10 digits")
		} else if !npiCheckDigitValid(p.NPI) {
			c.warn(prefix+".npi", "check digit does not validate")
		}
	}
	if !billing {
		return
	}
	if c.required(prefix+".tax_id", p.TaxID) && !taxIDPattern.MatchString(strings.ReplaceAll(p.TaxID, "-", "")) {
		c.fail(prefix+".tax_id", "must be 9 digits")
	}
	validateAddress(c, prefix+".address", p.Address)
}

func validateSubscriber(c *collector, r *Record) {
	s := r.Subscriber
	c.required("subscriber.member_id", s.MemberID)
	c.required("subscriber.first_name", s.FirstName)
	c.required("subscriber.last_name", s.LastName)
	if r.PatientIsSubscriber() {
		if s.BirthDate.IsZero() {
			c.fail("subscriber.birth_date", "is required")
		}
		if !validGenders[s.Gender] {
			c.fail("subscriber.gender", "must be M, F or U")
		}
		validateAddress(c, "subscriber.address", s.Address)
	}
}

func validatePatient(c *collector, p *Patient) {
	c.required("patient.first_name", p.FirstName)
	c.required("patient.last_name", p.LastName)
	if p.BirthDate.IsZero() {
		c.fail("patient.birth_date", "is required")
	}
	if !validGenders[p.Gender] {
		c.fail("patient.gender", "must be M, F or U")
	}
	if !validRelationships[p.Relationship] {
		c.fail("patient.relationship", "invalid relationship code %q", p.Relationship)
	}
	validateAddress(c, "patient.address", p.Address)
}

func validateAddress(c *collector, prefix string, a Address) {
	c.required(prefix+".line1", a.Line1)
	c.required(prefix+".city", a.City)
	if c.required(prefix+".state", a.State) && !usStates[strings.ToUpper(a.State)] {
		c.fail(prefix+".state", "must be a 2-letter state code")
	}
	if c.required(prefix+".zip", a.Zip) && !zipPattern.MatchString(a.Zip) {
		c.fail(prefix+".zip", "must be 5 or 9 digits")
	}
}

func validateDiagnoses(c *collector, codes []string) {
	if len(codes) == 0 {
		c.fail("diagnoses", "at least one diagnosis code is required")
		return
	}
	if len(codes) > maxDiagnoses {
		c.fail("diagnoses", "at most %d diagnosis codes are allowed", maxDiagnoses)
	}
	for i, code := range codes {
		if !icd10Pattern.MatchString(strings.ToUpper(strings.TrimSpace(code))) {
			c.fail(fmt.Sprintf("diagnoses[%d]", i), "invalid ICD-10 code %q", code)
		}
	}
}

func validateLines(c *collector, r *Record, now time.Time) {
	if len(r.Lines) == 0 {
		c.fail("lines", "at least one service line is required")
		return
	}
	if len(r.Lines) > maxServiceLines {
		c.fail("lines", "at most %d service lines are allowed", maxServiceLines)
	}
	for i, l := range r.Lines {
		f := fmt.Sprintf("lines[%d]", i)
		if !procedurePattern.MatchString(strings.ToUpper(l.ProcedureCode)) {
			c.fail(f+".procedure_code", "invalid CPT/HCPCS code %q", l.ProcedureCode)
		}
		if len(l.Modifiers) > 4 {
			c.fail(f+".modifiers", "at most 4 modifiers are allowed")
		}
		for j, m := range l.Modifiers {
			if !modifierPattern.MatchString(strings.ToUpper(m)) {
				c.fail(fmt.Sprintf("%s.modifiers[%d]", f, j), "invalid modifier %q", m)
			}
		}
		if l.Charge <= 0 {
			c.fail(f+".charge", "must be greater than zero")
		}
		if l.Units <= 0 {
			c.fail(f+".units", "must be greater than zero")
		}
		if len(l.DiagnosisPointers) == 0 {
			c.fail(f+".diagnosis_pointers", "at least one diagnosis pointer is required")
		}
		if len(l.DiagnosisPointers) > maxPointers {
			c.fail(f+".diagnosis_pointers", "at most %d diagnosis pointers are allowed", maxPointers)
		}
		for _, p := range l.DiagnosisPointers {
			if p < 1 || p > len(r.Diagnoses) {
				c.fail(f+".diagnosis_pointers", "pointer %d does not reference a diagnosis", p)
			}
		}
		if l.ServiceDate.IsZero() {
			c.fail(f+".service_date", "is required")
		} else if l.ServiceDate.After(now) {
			c.warn(f+".service_date", "is in the future")
		}
		if l.ServiceDateEnd != nil && l.ServiceDateEnd.Before(l.ServiceDate) {
			c.fail(f+".service_date_end", "is before the service date")
		}
		if l.PlaceOfService != "" && !posPattern.MatchString(l.PlaceOfService) {
			c.fail(f+".place_of_service", "must be a 2-digit place of service code")
		}
	}
}

// npiCheckDigitValid applies the Luhn check with the 80840 card issuer prefix.
func npiCheckDigitValid(npi string) bool {
	sum := 24 // Luhn contribution of the 80840 prefix
	double := true
	for i := len(npi) - 2; i >= 0; i-- {
		d := int(npi[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	check := (10 - sum%10) % 10
	return check == int(npi[len(npi)-1]-'0')
}
