package x12

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEnvelope is returned when the ISA header cannot be read or
	// the envelope segments are not nested correctly.
	ErrMalformedEnvelope = errors.New("x12: malformed envelope")

	// ErrControlNumberMismatch is returned when a header/trailer pair carries
	// different control numbers (ISA13/IEA02, GS06/GE02, ST02/SE02).
	ErrControlNumberMismatch = errors.New("x12: control number mismatch")

	// ErrDuplicateControlNumber is returned when ST02 repeats within a
	// functional group or GS06 repeats within an interchange.
	ErrDuplicateControlNumber = errors.New("x12: duplicate control number")

	// ErrSegmentCountMismatch is returned when SE01 does not equal the number
	// of segments in the transaction set, ST and SE included.
	ErrSegmentCountMismatch = errors.New("x12: segment count mismatch")

	// ErrUnexpectedSegment is returned for a segment that appears outside the
	// envelope level it belongs to.
	ErrUnexpectedSegment = errors.New("x12: unexpected segment")

	// ErrDelimiterInValue is returned by Encode when a data value contains one
	// of the interchange delimiters.
	ErrDelimiterInValue = errors.New("x12: value contains a delimiter")
)

// SyntaxError describes a structural violation found while decoding or
// encoding an interchange. It unwraps to one of the package sentinels.
type SyntaxError struct {
	Err     error
	Segment string // segment id where the violation was detected
	Index   int    // 1-based position of the segment in the interchange, 0 if unknown
	Detail  string
}

func (e *SyntaxError) Error() string {
	switch {
	case e.Segment != "" && e.Index > 0:
		return fmt.Sprintf("%v: %s (segment %s #%d)", e.Err, e.Detail, e.Segment, e.Index)
	case e.Segment != "":
		return fmt.Sprintf("%v: %s (segment %s)", e.Err, e.Detail, e.Segment)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
}

func (e *SyntaxError) Unwrap() error { return e.Err }

func syntaxErr(err error, seg string, index int, format string, args ...interface{}) error {
	return &SyntaxError{
		Err:     err,
		Segment: seg,
		Index:   index,
		Detail:  fmt.Sprintf(format, args...),
	}
}
