// Package x12 implements the ANSI X12 envelope grammar: interchanges (ISA/IEA),
// functional groups (GS/GE) and transaction sets (ST/SE) made of delimited
// segments, elements and components. It knows nothing about the meaning of a
// particular transaction set; decoders for 271, 277, 835 and friends are built
// on top of the generic segment tree produced here.
package x12

import (
	"fmt"
	"strings"
	"time"
)

// ISALength is the fixed width of the ISA segment including its terminator.
const ISALength = 106

// Delimiters are declared once per interchange by the ISA segment.
type Delimiters struct {
	Element    byte
	Component  byte
	Segment    byte
	Repetition byte // 0 when the interchange does not declare one
}

// DefaultDelimiters are the delimiters most clearinghouses expect on 005010 files.
var DefaultDelimiters = Delimiters{Element: '*', Component: ':', Segment: '~', Repetition: '^'}

// Element is a single data element. Simple elements have one component and
// one repetition.
type Element struct {
	Value      string     // element text as it appears on the wire
	Components []string   // components of the first repetition
	Repeats    [][]string // every repetition, each split into components
}

// Simple returns an element holding one plain value.
func Simple(v string) Element {
	return Element{Value: v, Components: []string{v}, Repeats: [][]string{{v}}}
}

// Composite returns an element made of several components.
func Composite(parts ...string) Element {
	comps := append([]string(nil), parts...)
	return Element{
		Value:      strings.Join(comps, string(DefaultDelimiters.Component)),
		Components: comps,
		Repeats:    [][]string{comps},
	}
}

// Repeated returns an element carrying several repetitions of the same
// (possibly composite) value.
func Repeated(reps ...[]string) Element {
	if len(reps) == 0 {
		return Simple("")
	}
	texts := make([]string, len(reps))
	for i, r := range reps {
		texts[i] = strings.Join(r, string(DefaultDelimiters.Component))
	}
	return Element{
		Value:      strings.Join(texts, string(DefaultDelimiters.Repetition)),
		Components: reps[0],
		Repeats:    reps,
	}
}

// Segment is one delimited record, e.g. "NM1*IL*1*DOE*JOHN".
type Segment struct {
	ID       string
	Elements []Element // Elements[0] is element 01
}

// NewSegment builds a segment whose elements are all simple values.
func NewSegment(id string, values ...string) Segment {
	seg := Segment{ID: id, Elements: make([]Element, len(values))}
	for i, v := range values {
		seg.Elements[i] = Simple(v)
	}
	return seg
}

// Set returns a copy of the segment with element pos (1-based) replaced,
// growing the element list with empty values when needed.
func (s Segment) Set(pos int, e Element) Segment {
	if pos < 1 {
		return s
	}
	elems := make([]Element, len(s.Elements))
	copy(elems, s.Elements)
	for len(elems) < pos {
		elems = append(elems, Simple(""))
	}
	elems[pos-1] = e
	s.Elements = elems
	return s
}

// Get returns the text of element pos (1-based), or "" when absent.
func (s Segment) Get(pos int) string {
	if pos < 1 || pos > len(s.Elements) {
		return ""
	}
	return s.Elements[pos-1].Value
}

// Component returns component comp (1-based) of element pos (1-based).
func (s Segment) Component(pos, comp int) string {
	if pos < 1 || pos > len(s.Elements) {
		return ""
	}
	comps := s.Elements[pos-1].Components
	if comp < 1 || comp > len(comps) {
		return ""
	}
	return comps[comp-1]
}

// Repeats returns every repetition of element pos (1-based).
func (s Segment) Repeats(pos int) [][]string {
	if pos < 1 || pos > len(s.Elements) {
		return nil
	}
	return s.Elements[pos-1].Repeats
}

// Len returns the number of elements present.
func (s Segment) Len() int { return len(s.Elements) }

// Transaction is one ST/SE transaction set. Segments holds the body only.
type Transaction struct {
	Header   Segment
	Segments []Segment
	Trailer  *Segment
}

// Code returns ST01, the transaction set identifier (e.g. "837").
func (t *Transaction) Code() string { return t.Header.Get(1) }

// ControlNumber returns ST02.
func (t *Transaction) ControlNumber() string { return t.Header.Get(2) }

// Version returns ST03, the implementation convention reference.
func (t *Transaction) Version() string { return t.Header.Get(3) }

// SegmentCount is the value SE01 must carry.
func (t *Transaction) SegmentCount() int { return len(t.Segments) + 2 }

// Add appends body segments.
func (t *Transaction) Add(segs ...Segment) {
	t.Segments = append(t.Segments, segs...)
}

// Find returns the first body segment with the given id, or nil.
func (t *Transaction) Find(id string) *Segment {
	for i := range t.Segments {
		if t.Segments[i].ID == id {
			return &t.Segments[i]
		}
	}
	return nil
}

// FindAll returns every body segment with the given id.
func (t *Transaction) FindAll(id string) []Segment {
	var out []Segment
	for _, s := range t.Segments {
		if s.ID == id {
			out = append(out, s)
		}
	}
	return out
}

// FunctionalGroup is one GS/GE group.
type FunctionalGroup struct {
	Header       Segment
	Transactions []*Transaction
	Trailer      *Segment
}

// FunctionalID returns GS01 (e.g. "HC" for claims).
func (g *FunctionalGroup) FunctionalID() string { return g.Header.Get(1) }

// ControlNumber returns GS06.
func (g *FunctionalGroup) ControlNumber() string { return g.Header.Get(6) }

// Version returns GS08.
func (g *FunctionalGroup) Version() string { return g.Header.Get(8) }

// AddTransaction opens a new transaction set in the group.
func (g *FunctionalGroup) AddTransaction(code string, control int64, version string) *Transaction {
	t := &Transaction{Header: NewSegment("ST", code, fmt.Sprintf("%04d", control), version)}
	g.Transactions = append(g.Transactions, t)
	return t
}

// Interchange is the outermost ISA/IEA envelope.
type Interchange struct {
	Delimiters Delimiters
	Header     Segment
	Groups     []*FunctionalGroup
	Trailer    *Segment
}

// ControlNumber returns ISA13.
func (ic *Interchange) ControlNumber() string { return strings.TrimSpace(ic.Header.Get(13)) }

// SenderID returns ISA06 without padding.
func (ic *Interchange) SenderID() string { return strings.TrimSpace(ic.Header.Get(6)) }

// ReceiverID returns ISA08 without padding.
func (ic *Interchange) ReceiverID() string { return strings.TrimSpace(ic.Header.Get(8)) }

// UsageIndicator returns ISA15 ("P" production, "T" test).
func (ic *Interchange) UsageIndicator() string { return ic.Header.Get(15) }

// Timestamp returns the interchange date and time from ISA09/ISA10.
func (ic *Interchange) Timestamp() (time.Time, error) {
	return time.Parse("0601021504", ic.Header.Get(9)+ic.Header.Get(10))
}

// Transactions returns every transaction set in every group, in order.
func (ic *Interchange) Transactions() []*Transaction {
	var out []*Transaction
	for _, g := range ic.Groups {
		out = append(out, g.Transactions...)
	}
	return out
}

// AddGroup opens a new functional group.
func (ic *Interchange) AddGroup(h GSHeader) *FunctionalGroup {
	g := &FunctionalGroup{Header: h.Segment()}
	ic.Groups = append(ic.Groups, g)
	return g
}

// ISAHeader carries the variable parts of an ISA segment.
type ISAHeader struct {
	SenderQualifier   string
	SenderID          string
	ReceiverQualifier string
	ReceiverID        string
	Date              time.Time
	ControlNumber     int64
	AckRequested      bool
	UsageIndicator    string // "P" or "T"
	Version           string // defaults to 00501
}

// NewInterchange starts an interchange with the given header and delimiters.
func NewInterchange(h ISAHeader, d Delimiters) *Interchange {
	return &Interchange{Delimiters: d, Header: h.Segment(d)}
}

// Segment renders the fixed-width ISA segment.
func (h ISAHeader) Segment(d Delimiters) Segment {
	version := h.Version
	if version == "" {
		version = "00501"
	}
	rep := "U"
	if d.Repetition != 0 {
		rep = string(d.Repetition)
	}
	ack := "0"
	if h.AckRequested {
		ack = "1"
	}
	usage := h.UsageIndicator
	if usage == "" {
		usage = "T"
	}
	return NewSegment("ISA",
		"00", pad("", 10),
		"00", pad("", 10),
		pad(h.SenderQualifier, 2), pad(h.SenderID, 15),
		pad(h.ReceiverQualifier, 2), pad(h.ReceiverID, 15),
		h.Date.Format("060102"), h.Date.Format("1504"),
		rep, version,
		fmt.Sprintf("%09d", h.ControlNumber),
		ack, usage,
		string(d.Component),
	)
}

// GSHeader carries the parts of a GS segment.
type GSHeader struct {
	FunctionalID  string
	AppSender     string
	AppReceiver   string
	Date          time.Time
	ControlNumber int64
	Version       string
}

// Segment renders the GS segment.
func (h GSHeader) Segment() Segment {
	return NewSegment("GS",
		h.FunctionalID, h.AppSender, h.AppReceiver,
		h.Date.Format("20060102"), h.Date.Format("1504"),
		fmt.Sprintf("%d", h.ControlNumber), "X", h.Version)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
