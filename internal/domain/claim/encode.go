package claim

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// Implementation guide for 837 professional claims.
const Version837P = "005010X222A1"

// Encoded is a ready-to-transfer 837P interchange.
type Encoded struct {
	Payload            []byte
	InterchangeControl string // ISA13
	GroupControl       string // GS06
	TransactionControl string // ST02
	SegmentCount       int    // SE01
	Warnings           []ValidationError
}

// Encoder builds 837P interchanges. Each call to Encode draws a fresh control
// number, so encoding the same record twice yields distinct envelopes.
type Encoder struct {
	controls          x12.ControlNumbers
	delims            x12.Delimiters
	usage             string
	senderQualifier   string
	receiverQualifier string
	now               func() time.Time
}

// EncoderOption customizes an Encoder.
type EncoderOption func(*Encoder)

// WithUsageIndicator sets ISA15 ("P" production, "T" test).
func WithUsageIndicator(u string) EncoderOption {
	return func(e *Encoder) { e.usage = u }
}

// WithClock overrides the time source used for envelope dates.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) { e.now = now }
}

// WithDelimiters overrides the default delimiters.
func WithDelimiters(d x12.Delimiters) EncoderOption {
	return func(e *Encoder) { e.delims = d }
}

// NewEncoder returns an encoder drawing control numbers from controls.
func NewEncoder(controls x12.ControlNumbers, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		controls:          controls,
		delims:            x12.DefaultDelimiters,
		usage:             "T",
		senderQualifier:   "ZZ",
		receiverQualifier: "ZZ",
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode validates the record and renders it. Blocking validation problems
// are returned as a *ValidationFailure listing every problem; no payload is
// produced in that case.
func (e *Encoder) Encode(r *Record) (*Encoded, error) {
	now := e.now()
	problems := Validate(r, now)
	if HasBlocking(problems) {
		return nil, &ValidationFailure{Errors: problems}
	}

	control, err := e.controls.Next()
	if err != nil {
		return nil, fmt.Errorf("claim: allocating control number: %w", err)
	}

	ic := x12.NewInterchange(x12.ISAHeader{
		SenderQualifier:   e.senderQualifier,
		SenderID:          e.clean(r.Submitter.ID),
		ReceiverQualifier: e.receiverQualifier,
		ReceiverID:        e.clean(r.Receiver.ID),
		Date:              now,
		ControlNumber:     control,
		UsageIndicator:    e.usage,
	}, e.delims)
	g := ic.AddGroup(x12.GSHeader{
		FunctionalID:  "HC",
		AppSender:     e.clean(r.Submitter.ID),
		AppReceiver:   e.clean(r.Receiver.ID),
		Date:          now,
		ControlNumber: control,
		Version:       Version837P,
	})
	tx := g.AddTransaction("837", control, Version837P)
	tx.Add(e.body(r, now)...)

	payload, err := x12.Encode(ic)
	if err != nil {
		return nil, fmt.Errorf("claim: encoding 837P: %w", err)
	}
	return &Encoded{
		Payload:            payload,
		InterchangeControl: ic.ControlNumber(),
		GroupControl:       g.ControlNumber(),
		TransactionControl: tx.ControlNumber(),
		SegmentCount:       tx.SegmentCount(),
		Warnings:           problems,
	}, nil
}

func (e *Encoder) body(r *Record, now time.Time) []x12.Segment {
	var segs []x12.Segment
	add := func(s ...x12.Segment) { segs = append(segs, s...) }

	// Header and 1000A/1000B
	add(x12.NewSegment("BHT", "0019", "00", e.clean(r.ControlNumber), x12.FormatDate(now), now.Format(x12.TimeLayout), "CH"))
	add(x12.NewSegment("NM1", "41", "2", e.name(r.Submitter.Name), "", "", "", "", "46", e.clean(r.Submitter.ID)))
	if r.Submitter.ContactName != "" || r.Submitter.Phone != "" {
		add(x12.NewSegment("PER", "IC", e.name(r.Submitter.ContactName), "TE", digitsOnly(r.Submitter.Phone)))
	}
	add(x12.NewSegment("NM1", "40", "2", e.name(r.Receiver.Name), "", "", "", "", "46", e.clean(r.Receiver.ID)))

	// 2000A billing provider
	bp := r.BillingProvider
	add(x12.NewSegment("HL", "1", "", "20", "1"))
	if bp.Taxonomy != "" {
		add(x12.NewSegment("PRV", "BI", "PXC", e.clean(bp.Taxonomy)))
	}
	add(e.providerName("85", bp))
	add(e.address(bp.Address)...)
	add(x12.NewSegment("REF", "EI", strings.ReplaceAll(bp.TaxID, "-", "")))

	// 2000B subscriber
	sub := r.Subscriber
	hasPatient := !r.PatientIsSubscriber()
	childCode := "0"
	if hasPatient {
		childCode = "1"
	}
	add(x12.NewSegment("HL", "2", "1", "22", childCode))
	relationship := ""
	if !hasPatient {
		relationship = "18"
	}
	filing := sub.ClaimFilingCode
	if filing == "" {
		filing = "CI"
	}
	add(x12.NewSegment("SBR", "P", relationship, e.clean(sub.GroupNumber), "", "", "", "", "", filing))
	add(x12.NewSegment("NM1", "IL", "1", e.name(sub.LastName), e.name(sub.FirstName), "", "", "", "MI", e.clean(sub.MemberID)))
	if !hasPatient {
		add(e.address(sub.Address)...)
		add(x12.NewSegment("DMG", "D8", x12.FormatDate(sub.BirthDate), sub.Gender))
	}
	add(x12.NewSegment("NM1", "PR", "2", e.name(r.Payer.Name), "", "", "", "", "PI", e.clean(r.Payer.ID)))

	// 2000C patient
	if hasPatient {
		p := r.Patient
		add(x12.NewSegment("HL", "3", "2", "23", "0"))
		add(x12.NewSegment("PAT", p.Relationship))
		add(x12.NewSegment("NM1", "QC", "1", e.name(p.LastName), e.name(p.FirstName)))
		add(e.address(p.Address)...)
		add(x12.NewSegment("DMG", "D8", x12.FormatDate(p.BirthDate), p.Gender))
	}

	// 2300 claim
	clm := x12.NewSegment("CLM", e.clean(r.ControlNumber), r.Total().String(), "", "", "", "Y", "A", "Y", "Y").
		Set(5, x12.Composite(r.PlaceOfServiceCode(), "B", r.FrequencyCode()))
	add(clm)
	if r.FrequencyCode() != FrequencyOriginal {
		add(x12.NewSegment("REF", "F8", e.clean(r.OriginalClaimNumber)))
	}
	hi := x12.Segment{ID: "HI"}
	for i, code := range r.Diagnoses {
		qualifier := "ABF"
		if i == 0 {
			qualifier = "ABK"
		}
		hi.Elements = append(hi.Elements, x12.Composite(qualifier, icdWire(code)))
	}
	add(hi)

	// 2310B rendering provider
	if rp := r.RenderingProvider; rp != nil {
		add(e.providerName("82", *rp))
		if rp.Taxonomy != "" {
			add(x12.NewSegment("PRV", "PE", "PXC", e.clean(rp.Taxonomy)))
		}
	}

	// 2400 service lines
	for i, l := range r.Lines {
		add(x12.NewSegment("LX", strconv.Itoa(i+1)))
		proc := append([]string{"HC", strings.ToUpper(l.ProcedureCode)}, upperAll(l.Modifiers)...)
		pointers := make([]string, len(l.DiagnosisPointers))
		for j, p := range l.DiagnosisPointers {
			pointers[j] = strconv.Itoa(p)
		}
		sv1 := x12.NewSegment("SV1", "", l.Charge.String(), "UN", formatUnits(l.Units), l.PlaceOfService).
			Set(1, x12.Composite(proc...)).
			Set(7, x12.Composite(pointers...))
		add(sv1)
		if l.ServiceDateEnd != nil && !l.ServiceDateEnd.Equal(l.ServiceDate) {
			add(x12.NewSegment("DTP", "472", "RD8", x12.FormatDate(l.ServiceDate)+"-"+x12.FormatDate(*l.ServiceDateEnd)))
		} else {
			add(x12.NewSegment("DTP", "472", "D8", x12.FormatDate(l.ServiceDate)))
		}
	}
	return segs
}

func (e *Encoder) providerName(entity string, p Provider) x12.Segment {
	if p.IsPerson() {
		return x12.NewSegment("NM1", entity, "1", e.name(p.LastName), e.name(p.FirstName), "", "", "", "XX", p.NPI)
	}
	return x12.NewSegment("NM1", entity, "2", e.name(p.LastName), "", "", "", "", "XX", p.NPI)
}

func (e *Encoder) address(a Address) []x12.Segment {
	return []x12.Segment{
		x12.NewSegment("N3", e.name(a.Line1), e.name(a.Line2)),
		x12.NewSegment("N4", e.name(a.City), strings.ToUpper(a.State), strings.ReplaceAll(a.Zip, "-", "")),
	}
}

// clean strips delimiter characters from free text.
func (e *Encoder) clean(s string) string {
	reserved := string([]byte{e.delims.Element, e.delims.Component, e.delims.Segment})
	if e.delims.Repetition != 0 {
		reserved += string(e.delims.Repetition)
	}
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(reserved, r) || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s))
}

func (e *Encoder) name(s string) string { return strings.ToUpper(e.clean(s)) }

// icdWire renders an ICD-10 code the way HI expects it: upper case, no dot.
func icdWire(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), ".", ""))
}

func formatUnits(u float64) string {
	return strconv.FormatFloat(u, 'f', -1, 64)
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
