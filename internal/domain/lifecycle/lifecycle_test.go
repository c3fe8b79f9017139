package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/lock"
	"github.com/ehr/claimsync/internal/platform/x12"
)

var fixedNow = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

func testRecord(control string) claim.Record {
	addr := claim.Address{Line1: "123 Main St", City: "Springfield", State: "IL", Zip: "62701"}
	return claim.Record{
		ControlNumber:   control,
		Payer:           claim.Payer{Name: "Blue Payer", ID: "BP001"},
		BillingProvider: claim.Provider{LastName: "Acme Therapy Group", NPI: "1234567893", TaxID: "12-3456789", Address: addr},
		Subscriber: claim.Subscriber{
			MemberID:  "MEM123",
			FirstName: "John",
			LastName:  "Doe",
			BirthDate: time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC),
			Gender:    "M",
			Address:   addr,
		},
		Diagnoses: []string{"F41.1"},
		Lines: []claim.ServiceLine{
			{ProcedureCode: "90837", Charge: x12.MustAmount("100.00"), Units: 1, DiagnosisPointers: []int{1}, ServiceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{ProcedureCode: "90785", Charge: x12.MustAmount("50.00"), Units: 1, DiagnosisPointers: []int{1}, ServiceDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

// inbound wraps body segments in an envelope from the payer. isa keeps
// otherwise identical files distinct.
func inbound(isa int, code, version string, body ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "ISA*00*%-10s*00*%-10s*ZZ*%-15s*ZZ*%-15s*240320*1200*^*00501*%09d*0*T*:~", "", "", "PAYER", "SUB123", isa)
	fmt.Fprintf(&b, "GS*XX*PAYER*SUB123*20240320*1200*%d*X*%s~", isa, version)
	fmt.Fprintf(&b, "ST*%s*0001*%s~", code, version)
	for _, s := range body {
		b.WriteString(s + "~")
	}
	fmt.Fprintf(&b, "SE*%d*0001~GE*1*%d~IEA*1*%09d~", len(body)+2, isa, isa)
	return []byte(b.String())
}

func ack999(isa int, group, transaction, result string) []byte {
	return inbound(isa, "999", "005010X231A1",
		"AK1*HC*"+group+"*005010X222A1",
		"AK2*837*"+transaction+"*005010X222A1",
		"IK5*"+result,
		"AK9*"+result+"*1*1*1",
	)
}

func status277(isa int, control, category, icn string) []byte {
	return inbound(isa, "277", "005010X214",
		"BHT*0010*08*ABC*20240320*1200*DG",
		"HL*1**20*1",
		"NM1*PR*2*BLUE PAYER*****PI*BP001",
		"HL*2*1*21*1",
		"NM1*41*2*ACME*****46*SUB123",
		"HL*3*2*19*1",
		"NM1*85*2*ACME THERAPY GROUP*****XX*1234567893",
		"HL*4*3*PT",
		"NM1*QC*1*DOE*JOHN****MI*MEM123",
		"TRN*2*"+control,
		"STC*"+category+"*20240321*WQ*150.00",
		"REF*1K*"+icn,
		"DTP*472*D8*20240301",
	)
}

func remit835(isa int, control, status, paid, icn string) []byte {
	return inbound(isa, "835", "005010X221A1",
		"BPR*I*"+paid+"*C*ACH*CCP*01*999999999*DA*123456*1512345678**01*999988880*DA*98765*20240325",
		"TRN*1*EFT12345*1512345678",
		"N1*PR*BLUE PAYER*XV*BP001",
		"CLP*"+control+"*"+status+"*150.00*"+paid+"*0*12*"+icn,
		"NM1*QC*1*DOE*JOHN****MI*MEM123",
		"SVC*HC:90837*100.00*"+paid+"**1",
		"DTM*472*20240301",
	)
}

type fakeOutbox struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (o *fakeOutbox) Put(ctx context.Context, name string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	if o.files == nil {
		o.files = make(map[string][]byte)
	}
	o.files[name] = payload
	return nil
}

func (o *fakeOutbox) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for n := range o.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type fakeInbox struct {
	files   map[string][]byte
	failing map[string]bool
}

func (i *fakeInbox) List(ctx context.Context) ([]string, error) {
	var names []string
	for n := range i.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (i *fakeInbox) Fetch(ctx context.Context, name string) ([]byte, error) {
	if i.failing[name] {
		return nil, errors.New("connection reset")
	}
	b, ok := i.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: no such file", name)
	}
	return b, nil
}

type testEnv struct {
	store  Store
	svc    *Service
	ingest *Ingestor
	outbox *fakeOutbox
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store Store) *testEnv {
	t.Helper()
	locks := lock.NewLocal()
	clock := func() time.Time { return fixedNow }
	enc := claim.NewEncoder(x12.NewSequence(1001), claim.WithClock(clock))
	out := &fakeOutbox{}
	svc := NewService(store, enc, out, locks, zerolog.Nop(),
		WithParties(
			claim.Party{Name: "Acme Therapy", ID: "SUB123", ContactName: "Jane Roe", Phone: "5551234567"},
			claim.Party{Name: "Clearinghouse", ID: "CH001"},
		),
		WithServiceClock(clock),
	)
	ing := NewIngestor(store, locks, zerolog.Nop(), WithIngestClock(clock), WithWorkers(2))
	return &testEnv{store: store, svc: svc, ingest: ing, outbox: out}
}

func (e *testEnv) create(t *testing.T, control string) *Claim {
	t.Helper()
	c, _, err := e.svc.CreateClaim(context.Background(), testRecord(control))
	if err != nil {
		t.Fatalf("CreateClaim(%s): %v", control, err)
	}
	return c
}

func (e *testEnv) submit(t *testing.T, control string) *Claim {
	t.Helper()
	c := e.create(t, control)
	if _, err := e.svc.Submit(context.Background(), c.ID); err != nil {
		t.Fatalf("Submit(%s): %v", control, err)
	}
	return c
}

func (e *testEnv) ingestFile(t *testing.T, name string, content []byte) *IngestResult {
	t.Helper()
	res, err := e.ingest.IngestFile(context.Background(), SourceInbound, name, content)
	if err != nil {
		t.Fatalf("IngestFile(%s): %v", name, err)
	}
	return res
}

func (e *testEnv) status(t *testing.T, c *Claim) Status {
	t.Helper()
	got, err := e.svc.GetClaim(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	return got.Status
}

func event(t *testing.T, typ EventType, at time.Time, detail interface{}) *Event {
	t.Helper()
	raw, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("marshal detail: %v", err)
	}
	return &Event{Type: typ, OccurredAt: at, RecordedAt: at, Detail: raw, Hash: EventHash(typ, raw)}
}

// =========== Derive Tests ===========

func TestDerive(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	submitted := func() *Event { return event(t, EventSubmitted, day(1), SubmissionDetail{InterchangeControl: "1001"}) }
	acked := func() *Event { return event(t, EventAcknowledged, day(2), AckDetail{Result: response.AckAccepted}) }
	accepted := func() *Event {
		return event(t, EventClearinghouseAccepted, day(3), StatusDetail{Status: response.StatusAcknowledged})
	}
	rejected := func() *Event { return event(t, EventClearinghouseRejected, day(3), AckDetail{Result: response.AckRejected}) }
	update := func(d int, s response.NormalizedStatus) *Event {
		return event(t, EventStatusUpdate, day(d), StatusDetail{Status: s})
	}
	remit := func(d int, o response.RemitOutcome) *Event {
		return event(t, EventRemittanceDetail, day(d), RemittanceDetail{Outcome: o})
	}
	voided := func() *Event { return event(t, EventVoided, day(10), SubmissionDetail{Frequency: claim.FrequencyVoid}) }

	tests := []struct {
		name   string
		events []*Event
		want   Status
	}{
		{"no events", nil, StatusDraft},
		{"submitted only", []*Event{submitted()}, StatusSubmitted},
		{"acknowledged", []*Event{submitted(), acked()}, StatusSubmitted},
		{"accepted", []*Event{submitted(), acked(), accepted()}, StatusAccepted},
		{"rejected beats accepted", []*Event{submitted(), accepted(), rejected()}, StatusRejected},
		{"accepted beats status update", []*Event{submitted(), update(4, response.StatusInProcess), accepted()}, StatusAccepted},
		{"in process", []*Event{submitted(), update(4, response.StatusInProcess)}, StatusInProcess},
		{"pended", []*Event{submitted(), update(4, response.StatusPended)}, StatusPended},
		{"latest update wins", []*Event{submitted(), update(5, response.StatusInProcess), update(4, response.StatusPended)}, StatusInProcess},
		{"paid despite later in process", []*Event{submitted(), remit(6, response.RemitPaid), update(8, response.StatusInProcess)}, StatusPaid},
		{"partial", []*Event{submitted(), remit(6, response.RemitPartial)}, StatusPartial},
		{"latest remittance wins", []*Event{remit(7, response.RemitPaid), remit(6, response.RemitDenied)}, StatusPaid},
		{"denied", []*Event{submitted(), rejected(), remit(6, response.RemitDenied)}, StatusDenied},
		{"voided", []*Event{submitted(), accepted(), voided()}, StatusVoided},
		{"remittance beats void", []*Event{submitted(), voided(), remit(12, response.RemitPaid)}, StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.events); got != tt.want {
				t.Errorf("Derive() = %s, want %s", got, tt.want)
			}
			reversed := make([]*Event, len(tt.events))
			for i, e := range tt.events {
				reversed[len(tt.events)-1-i] = e
			}
			if got := Derive(reversed); got != tt.want {
				t.Errorf("Derive(reversed) = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDerive_SameInstantUsesRecordedOrder(t *testing.T) {
	at := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	first := event(t, EventStatusUpdate, at, StatusDetail{Status: response.StatusPended})
	second := event(t, EventStatusUpdate, at, StatusDetail{Status: response.StatusInProcess})
	second.RecordedAt = at.Add(time.Second)

	if got := Derive([]*Event{second, first}); got != StatusInProcess {
		t.Errorf("expected in_process from the later recorded update, got %s", got)
	}
}

func TestDerive_UndecodableRemittanceIsDenied(t *testing.T) {
	e := &Event{Type: EventRemittanceDetail, OccurredAt: fixedNow, Detail: json.RawMessage(`"bogus"`)}
	if got := Derive([]*Event{e}); got != StatusDenied {
		t.Errorf("expected denied, got %s", got)
	}
}

// =========== Result Tests ===========

func mustDocument(t *testing.T, raw []byte) *response.Document {
	t.Helper()
	doc, err := response.Decode(raw)
	if err != nil {
		t.Fatalf("response.Decode: %v", err)
	}
	return doc
}

func TestResults_Acknowledgment(t *testing.T) {
	results := Results(mustDocument(t, ack999(900, "1001", "1001", "R")), fixedNow)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Type != EventClearinghouseRejected {
		t.Errorf("expected clearinghouse_rejected, got %s", r.Type)
	}
	want := []IdentifierKey{
		{System: SystemSubmitter, Type: TypeGroupControl, Value: "1001"},
		{System: SystemSubmitter, Type: TypeTransactionControl, Value: "1001"},
	}
	if len(r.Identifiers) != len(want) {
		t.Fatalf("expected %v, got %v", want, r.Identifiers)
	}
	for i := range want {
		if r.Identifiers[i] != want[i] {
			t.Errorf("identifier %d = %+v, want %+v", i, r.Identifiers[i], want[i])
		}
	}
	if !r.OccurredAt.Equal(time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("expected the interchange timestamp, got %v", r.OccurredAt)
	}
}

func TestResults_StatusMapping(t *testing.T) {
	tests := []struct {
		category string
		want     EventType
	}{
		{"A2:20:PR", EventClearinghouseAccepted},
		{"A3:21:PR", EventClearinghouseRejected},
		{"P1:20:PR", EventStatusUpdate},
		{"P4:88:PR", EventStatusUpdate},
	}
	for _, tt := range tests {
		results := Results(mustDocument(t, status277(901, "CLM0001", tt.category, "ICN1")), fixedNow)
		if len(results) != 1 {
			t.Fatalf("%s: expected 1 result, got %d", tt.category, len(results))
		}
		if results[0].Type != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.category, tt.want, results[0].Type)
		}
		if results[0].ControlNumber != "CLM0001" {
			t.Errorf("%s: expected TRN02 control number, got %q", tt.category, results[0].ControlNumber)
		}
		if !results[0].OccurredAt.Equal(time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("%s: expected STC02 date, got %v", tt.category, results[0].OccurredAt)
		}
	}
}

func TestResults_Remittance(t *testing.T) {
	results := Results(mustDocument(t, remit835(902, "CLM0001", "1", "150.00", "PAYERICN1")), fixedNow)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Type != EventRemittanceDetail {
		t.Errorf("expected remittance_detail, got %s", r.Type)
	}
	d, ok := r.Detail.(RemittanceDetail)
	if !ok || d.Outcome != response.RemitPaid {
		t.Errorf("expected paid outcome, got %+v", r.Detail)
	}
	if r.SubscriberID != "MEM123" || r.ServiceDate == nil || r.Charge == nil || r.Charge.String() != "150.00" {
		t.Errorf("expected tuple fields, got %s %v %v", r.SubscriberID, r.ServiceDate, r.Charge)
	}
	if len(r.Identifiers) != 1 || r.Identifiers[0].Value != "PAYERICN1" {
		t.Errorf("expected payer claim number identifier, got %v", r.Identifiers)
	}
	if !r.OccurredAt.Equal(time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected BPR16 payment date, got %v", r.OccurredAt)
	}
}

func TestNormalizeControl(t *testing.T) {
	tests := map[string]string{
		"000001001": "1001",
		"1001":      "1001",
		" 0042 ":    "42",
		"0000":      "0",
		"":          "",
	}
	for in, want := range tests {
		if got := NormalizeControl(in); got != want {
			t.Errorf("NormalizeControl(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventHash_StableAndTyped(t *testing.T) {
	detail := []byte(`{"a":1}`)
	if EventHash(EventAcknowledged, detail) != EventHash(EventAcknowledged, detail) {
		t.Error("expected a stable hash")
	}
	if EventHash(EventAcknowledged, detail) == EventHash(EventClearinghouseRejected, detail) {
		t.Error("expected the event type to be part of the hash")
	}
}

func TestClaimCovers(t *testing.T) {
	c := NewClaim(testRecord("CLM0001"))
	if !c.Covers(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)) {
		t.Error("expected same-day service date to be covered")
	}
	if c.Covers(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("expected next day not to be covered")
	}
	if c.TotalCharge != x12.MustAmount("150.00") || c.SubscriberID != "MEM123" {
		t.Errorf("unexpected claim keys %s %s", c.TotalCharge, c.SubscriberID)
	}
}
