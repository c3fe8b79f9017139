package claim

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

var fixedNow = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

func validRecord() *Record {
	addr := Address{Line1: "123 Main St", City: "Springfield", State: "IL", Zip: "62701"}
	return &Record{
		ControlNumber:   "CLM0001",
		Submitter:       Party{Name: "Acme Therapy", ID: "SUB123", ContactName: "Jane Roe", Phone: "(555) 123-4567"},
		Receiver:        Party{Name: "Clearinghouse", ID: "CH001"},
		Payer:           Payer{Name: "Blue Payer", ID: "BP001"},
		BillingProvider: Provider{LastName: "Acme Therapy Group", NPI: "1234567893", TaxID: "12-3456789", Taxonomy: "101YM0800X", Address: addr},
		Subscriber: Subscriber{
			MemberID:  "MEM123",
			FirstName: "John",
			LastName:  "Doe",
			BirthDate: time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC),
			Gender:    "M",
			Address:   addr,
		},
		Diagnoses: []string{"F41.1", "F32.9"},
		Lines: []ServiceLine{
			{ProcedureCode: "90837", Charge: x12.MustAmount("100.00"), Units: 1, DiagnosisPointers: []int{1, 2}, ServiceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{ProcedureCode: "90785", Modifiers: []string{"95"}, Charge: x12.MustAmount("50.00"), Units: 1, DiagnosisPointers: []int{1}, ServiceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func fields(errs []ValidationError) map[string]Severity {
	out := make(map[string]Severity)
	for _, e := range errs {
		out[e.Field] = e.Severity
	}
	return out
}

// =========== Validation Tests ===========

func TestValidate_ValidRecord(t *testing.T) {
	if errs := Validate(validRecord(), fixedNow); HasBlocking(errs) {
		t.Fatalf("expected no blocking errors, got %+v", errs)
	}
}

func TestValidate_Exhaustive(t *testing.T) {
	r := validRecord()
	r.Patient = &Patient{
		LastName:     "Doe",
		BirthDate:    time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:       "F",
		Relationship: "19",
		Address:      r.Subscriber.Address,
	}
	r.Diagnoses = nil

	got := fields(Validate(r, fixedNow))
	if got["patient.first_name"] != SeverityError {
		t.Errorf("expected patient.first_name error, got %v", got)
	}
	if got["diagnoses"] != SeverityError {
		t.Errorf("expected diagnoses error, got %v", got)
	}
}

func TestValidate_TotalMismatch(t *testing.T) {
	r := validRecord()
	total := x12.MustAmount("140.00")
	r.TotalCharge = &total

	errs := Validate(r, fixedNow)
	if fields(errs)["total_charge"] != SeverityError {
		t.Fatalf("expected total_charge error, got %+v", errs)
	}

	matching := x12.MustAmount("150.00")
	r.TotalCharge = &matching
	if HasBlocking(Validate(r, fixedNow)) {
		t.Fatal("expected matching total to validate")
	}
}

func TestValidate_CodeFormats(t *testing.T) {
	r := validRecord()
	r.BillingProvider.NPI = "12345"
	r.BillingProvider.Address.Zip = "6270"
	r.BillingProvider.Address.State = "Illinois"
	r.Diagnoses = []string{"41.1"}
	r.Lines[0].ProcedureCode = "9083"
	r.Lines[1].DiagnosisPointers = []int{3}

	got := fields(Validate(r, fixedNow))
	for _, f := range []string{
		"billing_provider.npi",
		"billing_provider.address.zip",
		"billing_provider.address.state",
		"diagnoses[0]",
		"lines[0].procedure_code",
		"lines[1].diagnosis_pointers",
	} {
		if got[f] != SeverityError {
			t.Errorf("expected error on %s, got %v", f, got)
		}
	}
}

func TestValidate_PartyIDLength(t *testing.T) {
	r := validRecord()
	r.Submitter.ID = "SUBMITTER123456"
	r.Receiver.ID = "CLEARINGHOUSE0001"

	got := fields(Validate(r, fixedNow))
	if _, ok := got["submitter.id"]; ok {
		t.Errorf("15-character submitter id must pass, got %v", got)
	}
	if got["receiver.id"] != SeverityError {
		t.Errorf("expected error on receiver.id longer than ISA08, got %v", got)
	}
}

func TestValidate_DiagnosisCodes(t *testing.T) {
	tests := []struct {
		code string
		ok   bool
	}{
		{"F41.1", true},
		{"F411", true},
		{"F32.A", true},
		{"S72.001A", true},
		{"Z00", true},
		{"F3", false},
		{"41.1", false},
		{"F41.", false},
		{"F41.12345", false},
		{"F4A.1", false},
	}
	for _, tt := range tests {
		r := validRecord()
		r.Diagnoses = []string{tt.code}
		_, flagged := fields(Validate(r, fixedNow))["diagnoses[0]"]
		if flagged == tt.ok {
			t.Errorf("diagnosis %q: accepted = %v, want %v", tt.code, !flagged, tt.ok)
		}
	}
}

func TestValidate_Warnings(t *testing.T) {
	r := validRecord()
	r.BillingProvider.NPI = "1234567890"
	r.Lines[0].ServiceDate = fixedNow.AddDate(0, 0, 5)

	errs := Validate(r, fixedNow)
	got := fields(errs)
	if got["billing_provider.npi"] != SeverityWarning {
		t.Errorf("expected NPI check digit warning, got %v", got)
	}
	if got["lines[0].service_date"] != SeverityWarning {
		t.Errorf("expected future date warning, got %v", got)
	}
	if HasBlocking(errs) {
		t.Errorf("warnings must not block, got %+v", errs)
	}
}

func TestValidate_Frequency(t *testing.T) {
	r := validRecord()
	r.Frequency = FrequencyReplacement
	if fields(Validate(r, fixedNow))["original_claim_number"] != SeverityError {
		t.Error("expected original_claim_number to be required for replacements")
	}
	r.Frequency = "3"
	if fields(Validate(r, fixedNow))["frequency"] != SeverityError {
		t.Error("expected invalid frequency error")
	}
}

// =========== Encoder Tests ===========

func newTestEncoder() *Encoder {
	return NewEncoder(x12.NewSequence(1001), WithClock(func() time.Time { return fixedNow }))
}

func TestEncode_RoundTripEnvelope(t *testing.T) {
	enc, err := newTestEncoder().Encode(validRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ic, err := x12.Decode(enc.Payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ic.ControlNumber() != enc.InterchangeControl || enc.InterchangeControl != "000001001" {
		t.Errorf("expected ISA13 000001001, got %s / %s", ic.ControlNumber(), enc.InterchangeControl)
	}
	if ic.Groups[0].ControlNumber() != enc.GroupControl {
		t.Errorf("expected GS06 %s, got %s", enc.GroupControl, ic.Groups[0].ControlNumber())
	}
	tx := ic.Transactions()[0]
	if tx.ControlNumber() != enc.TransactionControl {
		t.Errorf("expected ST02 %s, got %s", enc.TransactionControl, tx.ControlNumber())
	}
	if tx.SegmentCount() != enc.SegmentCount || tx.Trailer.Get(1) != "27" {
		t.Errorf("expected SE01 %d (27), got %s", enc.SegmentCount, tx.Trailer.Get(1))
	}
	if tx.Code() != "837" || tx.Version() != Version837P {
		t.Errorf("expected 837 %s, got %s %s", Version837P, tx.Code(), tx.Version())
	}
}

func TestEncode_SegmentContent(t *testing.T) {
	enc, err := newTestEncoder().Encode(validRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := string(enc.Payload)
	for _, want := range []string{
		"GS*HC*SUB123*CH001*20240320*1000*1001*X*005010X222A1~",
		"ST*837*1001*005010X222A1~",
		"BHT*0019*00*CLM0001*20240320*1000*CH~",
		"NM1*41*2*ACME THERAPY*****46*SUB123~",
		"PER*IC*JANE ROE*TE*5551234567~",
		"HL*1**20*1~",
		"PRV*BI*PXC*101YM0800X~",
		"NM1*85*2*ACME THERAPY GROUP*****XX*1234567893~",
		"REF*EI*123456789~",
		"HL*2*1*22*0~",
		"SBR*P*18*******CI~",
		"NM1*IL*1*DOE*JOHN****MI*MEM123~",
		"DMG*D8*19800501*M~",
		"NM1*PR*2*BLUE PAYER*****PI*BP001~",
		"CLM*CLM0001*150.00***11:B:1*Y*A*Y*Y~",
		"HI*ABK:F411*ABF:F329~",
		"LX*1~SV1*HC:90837*100.00*UN*1***1:2~DTP*472*D8*20240301~",
		"LX*2~SV1*HC:90785:95*50.00*UN*1***1~",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in payload", want)
		}
	}
	if strings.Contains(s, "HL*3") {
		t.Error("expected no patient level when patient is the subscriber")
	}
}

func TestEncode_PatientLevelAndReplacement(t *testing.T) {
	r := validRecord()
	r.Patient = &Patient{
		FirstName:    "Amy",
		LastName:     "Doe",
		BirthDate:    time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:       "F",
		Relationship: "19",
		Address:      r.Subscriber.Address,
	}
	r.Frequency = FrequencyReplacement
	r.OriginalClaimNumber = "PAYERICN9"
	r.RenderingProvider = &Provider{LastName: "Smith", FirstName: "Ann", NPI: "1992703540", Taxonomy: "103T00000X"}

	enc, err := newTestEncoder().Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := string(enc.Payload)
	for _, want := range []string{
		"HL*2*1*22*1~SBR*P**",
		"HL*3*2*23*0~PAT*19~NM1*QC*1*DOE*AMY~",
		"11:B:7",
		"REF*F8*PAYERICN9~",
		"NM1*82*1*SMITH*ANN****XX*1992703540~PRV*PE*PXC*103T00000X~",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in payload", want)
		}
	}
}

func TestEncode_RefusesInvalid(t *testing.T) {
	r := validRecord()
	r.Subscriber.FirstName = ""
	r.Diagnoses = nil

	enc, err := newTestEncoder().Encode(r)
	if enc != nil {
		t.Fatal("expected no output for invalid record")
	}
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got %v", err)
	}
	got := fields(vf.Errors)
	if got["subscriber.first_name"] != SeverityError || got["diagnoses"] != SeverityError {
		t.Errorf("expected both errors, got %v", got)
	}
}

func TestEncode_FreshControlNumberPerCall(t *testing.T) {
	enc := newTestEncoder()
	a, err := enc.Encode(validRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := enc.Encode(validRecord())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if a.InterchangeControl == b.InterchangeControl {
		t.Errorf("expected distinct control numbers, both %s", a.InterchangeControl)
	}
}

func TestEncode_StripsDelimitersFromText(t *testing.T) {
	r := validRecord()
	r.Subscriber.LastName = "O*Brien~"
	enc, err := newTestEncoder().Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(enc.Payload), "NM1*IL*1*OBRIEN*JOHN") {
		t.Errorf("expected sanitized name in payload")
	}
}
