package x12

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// EncodeOption customizes Encode output.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	lineBreaks bool
}

// WithLineBreaks writes a newline after every segment terminator.
func WithLineBreaks() EncodeOption {
	return func(o *encodeOptions) { o.lineBreaks = true }
}

// Encode serializes an interchange. Missing SE, GE and IEA trailers are
// generated; trailers that are present must agree with the computed counts
// and control numbers. Nothing is returned unless the whole interchange is
// valid.
func Encode(ic *Interchange, opts ...EncodeOption) ([]byte, error) {
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if ic == nil {
		return nil, syntaxErr(ErrMalformedEnvelope, "", 0, "nil interchange")
	}
	d := ic.Delimiters
	if err := d.Validate(); err != nil {
		return nil, err
	}

	w := &segmentWriter{d: d, lineBreaks: o.lineBreaks}
	if err := w.writeISA(ic.Header); err != nil {
		return nil, err
	}
	if len(ic.Groups) == 0 {
		return nil, syntaxErr(ErrMalformedEnvelope, "GS", 0, "interchange has no functional groups")
	}

	for _, g := range ic.Groups {
		if g.Header.ID != "GS" {
			return nil, syntaxErr(ErrUnexpectedSegment, g.Header.ID, w.count+1, "group header must be GS")
		}
		gsControl := g.ControlNumber()
		if gsControl == "" {
			return nil, syntaxErr(ErrMalformedEnvelope, "GS", w.count+1, "GS06 control number is empty")
		}
		if err := w.write(g.Header); err != nil {
			return nil, err
		}
		if len(g.Transactions) == 0 {
			return nil, syntaxErr(ErrMalformedEnvelope, "GS", w.count, "group %s has no transaction sets", gsControl)
		}

		for _, t := range g.Transactions {
			if err := w.writeTransaction(t); err != nil {
				return nil, err
			}
		}

		ge := NewSegment("GE", strconv.Itoa(len(g.Transactions)), gsControl)
		if g.Trailer != nil {
			if n, err := strconv.Atoi(g.Trailer.Get(1)); err != nil || n != len(g.Transactions) {
				return nil, syntaxErr(ErrMalformedEnvelope, "GE", w.count+1, "GE01 is %q, group has %d transaction sets", g.Trailer.Get(1), len(g.Transactions))
			}
			if !sameControl(g.Trailer.Get(2), gsControl) {
				return nil, syntaxErr(ErrControlNumberMismatch, "GE", w.count+1, "GE02 %q does not match GS06 %q", g.Trailer.Get(2), gsControl)
			}
			ge = *g.Trailer
		}
		if err := w.write(ge); err != nil {
			return nil, err
		}
	}

	isaControl := ic.ControlNumber()
	iea := NewSegment("IEA", strconv.Itoa(len(ic.Groups)), isaControl)
	if ic.Trailer != nil {
		if n, err := strconv.Atoi(ic.Trailer.Get(1)); err != nil || n != len(ic.Groups) {
			return nil, syntaxErr(ErrMalformedEnvelope, "IEA", w.count+1, "IEA01 is %q, interchange has %d groups", ic.Trailer.Get(1), len(ic.Groups))
		}
		if !sameControl(ic.Trailer.Get(2), isaControl) {
			return nil, syntaxErr(ErrControlNumberMismatch, "IEA", w.count+1, "IEA02 %q does not match ISA13 %q", ic.Trailer.Get(2), isaControl)
		}
		iea = *ic.Trailer
	}
	if err := w.write(iea); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

type segmentWriter struct {
	buf        bytes.Buffer
	d          Delimiters
	lineBreaks bool
	count      int
}

func (w *segmentWriter) writeTransaction(t *Transaction) error {
	if t.Header.ID != "ST" {
		return syntaxErr(ErrUnexpectedSegment, t.Header.ID, w.count+1, "transaction header must be ST")
	}
	stControl := t.ControlNumber()
	if stControl == "" {
		return syntaxErr(ErrMalformedEnvelope, "ST", w.count+1, "ST02 control number is empty")
	}
	if err := w.write(t.Header); err != nil {
		return err
	}
	for _, s := range t.Segments {
		switch s.ID {
		case "ISA", "IEA", "GS", "GE", "ST", "SE":
			return syntaxErr(ErrUnexpectedSegment, s.ID, w.count+1, "envelope segment inside transaction body")
		}
		if err := w.write(s); err != nil {
			return err
		}
	}
	se := NewSegment("SE", strconv.Itoa(t.SegmentCount()), stControl)
	if t.Trailer != nil {
		if n, err := strconv.Atoi(t.Trailer.Get(1)); err != nil || n != t.SegmentCount() {
			return syntaxErr(ErrSegmentCountMismatch, "SE", w.count+1, "SE01 is %q, transaction has %d segments", t.Trailer.Get(1), t.SegmentCount())
		}
		if !sameControl(t.Trailer.Get(2), stControl) {
			return syntaxErr(ErrControlNumberMismatch, "SE", w.count+1, "SE02 %q does not match ST02 %q", t.Trailer.Get(2), stControl)
		}
		se = *t.Trailer
	}
	return w.write(se)
}

func (w *segmentWriter) writeISA(isa Segment) error {
	if isa.ID != "ISA" || len(isa.Elements) != 16 {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA must have 16 elements")
	}
	if isa.Get(16) != string(w.d.Component) {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA16 %q does not match component separator %q", isa.Get(16), w.d.Component)
	}
	if w.d.Repetition != 0 && isa.Get(11) != string(w.d.Repetition) {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA11 %q does not match repetition separator %q", isa.Get(11), w.d.Repetition)
	}
	if c := isa.Get(13); len(c) != 9 || strings.Trim(c, "0123456789") != "" {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA13 must be 9 digits, got %q", c)
	}
	values := make([]string, len(isa.Elements))
	for i, e := range isa.Elements {
		// ISA11 and ISA16 carry delimiters themselves.
		if i != 10 && i != 15 && strings.ContainsAny(e.Value, w.reserved()) {
			return syntaxErr(ErrDelimiterInValue, "ISA", 1, "ISA%02d contains a delimiter", i+1)
		}
		values[i] = e.Value
	}
	line := "ISA" + string(w.d.Element) + strings.Join(values, string(w.d.Element))
	if len(line)+1 != ISALength {
		return syntaxErr(ErrMalformedEnvelope, "ISA", 1, "ISA is %d bytes, must be %d", len(line)+1, ISALength)
	}
	w.emit(line)
	return nil
}

func (w *segmentWriter) write(s Segment) error {
	if !validSegmentID(s.ID) {
		return syntaxErr(ErrMalformedEnvelope, s.ID, w.count+1, "invalid segment identifier")
	}
	values := make([]string, len(s.Elements))
	for i, e := range s.Elements {
		v, err := w.element(e)
		if err != nil {
			return syntaxErr(ErrDelimiterInValue, s.ID, w.count+1, "%s%02d: %v", s.ID, i+1, err)
		}
		values[i] = v
	}
	// Trailing empty elements are not transmitted.
	for len(values) > 0 && values[len(values)-1] == "" {
		values = values[:len(values)-1]
	}
	line := s.ID
	if len(values) > 0 {
		line += string(w.d.Element) + strings.Join(values, string(w.d.Element))
	}
	w.emit(line)
	return nil
}

func (w *segmentWriter) element(e Element) (string, error) {
	reps := e.Repeats
	if len(reps) == 0 {
		if e.Components != nil {
			reps = [][]string{e.Components}
		} else {
			reps = [][]string{{e.Value}}
		}
	}
	if len(reps) > 1 && w.d.Repetition == 0 {
		return "", errRepetitionUndeclared
	}
	out := make([]string, len(reps))
	for i, comps := range reps {
		for _, c := range comps {
			if strings.ContainsAny(c, w.reserved()) {
				return "", &valueError{value: c}
			}
		}
		trimmed := comps
		for len(trimmed) > 1 && trimmed[len(trimmed)-1] == "" {
			trimmed = trimmed[:len(trimmed)-1]
		}
		out[i] = strings.Join(trimmed, string(w.d.Component))
	}
	return strings.Join(out, string(w.d.Repetition)), nil
}

func (w *segmentWriter) reserved() string {
	r := []byte{w.d.Element, w.d.Component, w.d.Segment}
	if w.d.Repetition != 0 {
		r = append(r, w.d.Repetition)
	}
	return string(r)
}

func (w *segmentWriter) emit(line string) {
	w.buf.WriteString(line)
	w.buf.WriteByte(w.d.Segment)
	if w.lineBreaks && w.d.Segment != '\n' {
		w.buf.WriteByte('\n')
	}
	w.count++
}

type valueError struct{ value string }

func (e *valueError) Error() string { return "value " + strconv.Quote(e.value) + " contains a delimiter" }

var errRepetitionUndeclared = errors.New("repeated element but no repetition separator declared")
