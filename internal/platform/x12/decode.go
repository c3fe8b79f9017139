package x12

import (
	"bytes"
	"strconv"
	"strings"
)

// isaSeparatorOffsets are the byte offsets of the 16 element separators
// inside the fixed-width ISA segment.
var isaSeparatorOffsets = []int{3, 6, 17, 20, 31, 34, 50, 53, 69, 76, 81, 83, 89, 99, 101, 103}

const (
	isaRepetitionOffset = 82
	isaComponentOffset  = 104
	isaTerminatorOffset = 105
)

// Decode parses a raw interchange. Delimiters are read from the ISA header;
// whitespace around segment terminators is ignored. Every ISA/IEA, GS/GE and
// ST/SE pair is checked for matching control numbers and counts.
func Decode(raw []byte) (*Interchange, error) {
	data := bytes.TrimLeft(raw, "\xef\xbb\xbf \t\r\n")
	if len(data) < ISALength {
		return nil, syntaxErr(ErrMalformedEnvelope, "ISA", 1, "interchange is %d bytes, need at least %d", len(data), ISALength)
	}
	if string(data[:3]) != "ISA" {
		return nil, syntaxErr(ErrMalformedEnvelope, "", 1, "interchange must start with ISA")
	}
	d, err := ReadDelimiters(data[:ISALength])
	if err != nil {
		return nil, err
	}
	segs, err := splitSegments(data, d)
	if err != nil {
		return nil, err
	}
	return assemble(segs, d)
}

// ReadDelimiters extracts the delimiters from a fixed-width ISA header.
func ReadDelimiters(isa []byte) (Delimiters, error) {
	if len(isa) < ISALength || string(isa[:3]) != "ISA" {
		return Delimiters{}, syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA header must be %d bytes", ISALength)
	}
	d := Delimiters{
		Element:   isa[3],
		Component: isa[isaComponentOffset],
		Segment:   isa[isaTerminatorOffset],
	}
	for _, off := range isaSeparatorOffsets {
		if isa[off] != d.Element {
			return Delimiters{}, syntaxErr(ErrMalformedEnvelope, "ISA", 1, "expected element separator %q at byte %d, found %q", d.Element, off, isa[off])
		}
	}
	if rep := isa[isaRepetitionOffset]; isDelimiterByte(rep) {
		d.Repetition = rep
	}
	if err := d.Validate(); err != nil {
		return Delimiters{}, err
	}
	return d, nil
}

// Validate checks that the delimiters are usable and distinct.
func (d Delimiters) Validate() error {
	if !isDelimiterByte(d.Element) || !isDelimiterByte(d.Component) {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "element and component separators must be punctuation")
	}
	if !isDelimiterByte(d.Segment) && d.Segment != '\n' && d.Segment != '\r' {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "invalid segment terminator %q", d.Segment)
	}
	seen := map[byte]bool{d.Element: true}
	for _, b := range []byte{d.Component, d.Segment, d.Repetition} {
		if b == 0 {
			continue
		}
		if seen[b] {
			return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "delimiter %q used more than once", b)
		}
		seen[b] = true
	}
	return nil
}

func isDelimiterByte(b byte) bool {
	if b <= ' ' || b >= 0x7f {
		return false
	}
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return false
	}
	return true
}

func splitSegments(data []byte, d Delimiters) ([]Segment, error) {
	parts := strings.Split(string(data), string(d.Segment))
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		text := strings.Trim(p, " \t\r\n")
		if text == "" {
			continue
		}
		seg, err := parseSegment(text, d, len(segs)+1)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(text string, d Delimiters, index int) (Segment, error) {
	fields := strings.Split(text, string(d.Element))
	id := fields[0]
	if !validSegmentID(id) {
		return Segment{}, syntaxErr(ErrMalformedEnvelope, id, index, "invalid segment identifier")
	}
	seg := Segment{ID: id, Elements: make([]Element, 0, len(fields)-1)}
	for _, f := range fields[1:] {
		if id == "ISA" {
			// ISA values are positional and never split.
			seg.Elements = append(seg.Elements, Simple(f))
			continue
		}
		seg.Elements = append(seg.Elements, parseElement(f, d))
	}
	return seg, nil
}

func parseElement(text string, d Delimiters) Element {
	e := Element{Value: text}
	reps := []string{text}
	if d.Repetition != 0 {
		reps = strings.Split(text, string(d.Repetition))
	}
	for _, r := range reps {
		e.Repeats = append(e.Repeats, strings.Split(r, string(d.Component)))
	}
	e.Components = e.Repeats[0]
	return e
}

func validSegmentID(id string) bool {
	if len(id) < 2 || len(id) > 3 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func assemble(segs []Segment, d Delimiters) (*Interchange, error) {
	if len(segs) == 0 || segs[0].ID != "ISA" {
		return nil, syntaxErr(ErrMalformedEnvelope, "ISA", 1, "missing ISA header")
	}
	if len(segs[0].Elements) != 16 {
		return nil, syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA must have 16 elements, found %d", len(segs[0].Elements))
	}

	ic := &Interchange{Delimiters: d, Header: segs[0]}
	var group *FunctionalGroup
	var tx *Transaction
	groupControls := make(map[string]bool)
	var txControls map[string]bool

	for i := 1; i < len(segs); i++ {
		s := segs[i]
		idx := i + 1
		if ic.Trailer != nil {
			return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "segment after IEA")
		}
		switch s.ID {
		case "ISA":
			return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "nested interchange")
		case "GS":
			if group != nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "GS before GE of group %s", group.ControlNumber())
			}
			group = &FunctionalGroup{Header: s}
			key := controlKey(group.ControlNumber())
			if groupControls[key] {
				return nil, syntaxErr(ErrDuplicateControlNumber, s.ID, idx, "GS06 %q repeats within the interchange", group.ControlNumber())
			}
			groupControls[key] = true
			txControls = make(map[string]bool)
		case "ST":
			if group == nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "ST outside a functional group")
			}
			if tx != nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "ST before SE of transaction %s", tx.ControlNumber())
			}
			tx = &Transaction{Header: s}
			key := controlKey(tx.ControlNumber())
			if txControls[key] {
				return nil, syntaxErr(ErrDuplicateControlNumber, s.ID, idx, "ST02 %q repeats within group %s", tx.ControlNumber(), group.ControlNumber())
			}
			txControls[key] = true
		case "SE":
			if tx == nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "SE without ST")
			}
			n, err := strconv.Atoi(strings.TrimSpace(s.Get(1)))
			if err != nil || n != tx.SegmentCount() {
				return nil, syntaxErr(ErrSegmentCountMismatch, s.ID, idx, "SE01 is %q, transaction has %d segments", s.Get(1), tx.SegmentCount())
			}
			if !sameControl(s.Get(2), tx.ControlNumber()) {
				return nil, syntaxErr(ErrControlNumberMismatch, s.ID, idx, "SE02 %q does not match ST02 %q", s.Get(2), tx.ControlNumber())
			}
			trailer := s
			tx.Trailer = &trailer
			group.Transactions = append(group.Transactions, tx)
			tx = nil
		case "GE":
			if group == nil || tx != nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "GE outside a functional group")
			}
			n, err := strconv.Atoi(strings.TrimSpace(s.Get(1)))
			if err != nil || n != len(group.Transactions) {
				return nil, syntaxErr(ErrMalformedEnvelope, s.ID, idx, "GE01 is %q, group has %d transaction sets", s.Get(1), len(group.Transactions))
			}
			if !sameControl(s.Get(2), group.ControlNumber()) {
				return nil, syntaxErr(ErrControlNumberMismatch, s.ID, idx, "GE02 %q does not match GS06 %q", s.Get(2), group.ControlNumber())
			}
			trailer := s
			group.Trailer = &trailer
			ic.Groups = append(ic.Groups, group)
			group = nil
		case "IEA":
			if group != nil || tx != nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "IEA before the open group was closed")
			}
			n, err := strconv.Atoi(strings.TrimSpace(s.Get(1)))
			if err != nil || n != len(ic.Groups) {
				return nil, syntaxErr(ErrMalformedEnvelope, s.ID, idx, "IEA01 is %q, interchange has %d groups", s.Get(1), len(ic.Groups))
			}
			if !sameControl(s.Get(2), ic.ControlNumber()) {
				return nil, syntaxErr(ErrControlNumberMismatch, s.ID, idx, "IEA02 %q does not match ISA13 %q", s.Get(2), ic.ControlNumber())
			}
			trailer := s
			ic.Trailer = &trailer
		default:
			if tx == nil {
				return nil, syntaxErr(ErrUnexpectedSegment, s.ID, idx, "segment outside a transaction set")
			}
			tx.Segments = append(tx.Segments, s)
		}
	}

	if ic.Trailer == nil {
		return nil, syntaxErr(ErrMalformedEnvelope, "IEA", 0, "missing IEA trailer")
	}
	return ic, nil
}

// sameControl compares control numbers textually, then numerically so that
// "000000001" matches "1".
// controlKey normalizes a control number so that 0001 and 1 collide, the
// same equivalence sameControl applies.
func controlKey(c string) string {
	c = strings.TrimSpace(c)
	if n, err := strconv.ParseUint(c, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return c
}

func sameControl(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return a != ""
	}
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	return errA == nil && errB == nil && na == nb
}
