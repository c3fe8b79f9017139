package response

import (
	"strconv"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// AckResult is the tri-state outcome of a 997/999.
type AckResult string

const (
	AckAccepted           AckResult = "accepted"
	AckAcceptedWithErrors AckResult = "accepted_with_errors"
	AckRejected           AckResult = "rejected"
)

// StructuralError is one segment or element problem reported by an
// acknowledgment. ElementPosition is 0 for segment-level problems.
type StructuralError struct {
	SegmentID       string `json:"segment_id"`
	SegmentPosition int    `json:"segment_position,omitempty"`
	LoopID          string `json:"loop_id,omitempty"`
	ElementPosition int    `json:"element_position"`
	ComponentPos    int    `json:"component_position,omitempty"`
	Code            string `json:"code"`
	Description     string `json:"description"`
	BadValue        string `json:"bad_value,omitempty"`
}

// TransactionAck is the response to one acknowledged transaction set
// (AK2/IK5 or AK2/AK5).
type TransactionAck struct {
	Code          string            `json:"code"`           // AK201, e.g. 837
	ControlNumber string            `json:"control_number"` // AK202, the ST02 acknowledged
	Version       string            `json:"version,omitempty"`
	Result        AckResult         `json:"result"`
	ResultCode    string            `json:"result_code"`
	Codes         []string          `json:"codes,omitempty"`
	Descriptions  []string          `json:"descriptions,omitempty"`
	Errors        []StructuralError `json:"errors,omitempty"`
}

// Acknowledgment is the normalized content of a 997 or 999.
type Acknowledgment struct {
	Kind               Kind              `json:"kind"`
	TransactionControl string            `json:"transaction_control"`
	FunctionalID       string            `json:"functional_id"`  // AK101
	GroupControlNumber string            `json:"group_control"`  // AK102, the GS06 acknowledged
	Result             AckResult         `json:"result"`
	ResultCode         string            `json:"result_code,omitempty"`
	Included           int               `json:"included"`
	Received           int               `json:"received"`
	Accepted           int               `json:"accepted"`
	GroupCodes         []string          `json:"group_codes,omitempty"`
	GroupDescriptions  []string          `json:"group_descriptions,omitempty"`
	Transactions       []TransactionAck  `json:"transactions,omitempty"`
	Errors             []StructuralError `json:"errors,omitempty"`
}

// DecodeAcknowledgment reads AK1/AK2/AK3|IK3/AK4|IK4/AK5|IK5/AK9.
func DecodeAcknowledgment(tx *x12.Transaction) (*Acknowledgment, error) {
	if err := expect(tx, KindAck997, KindAck999); err != nil {
		return nil, err
	}
	a := &Acknowledgment{Kind: Kind(tx.Code()), TransactionControl: tx.ControlNumber()}

	var cur *TransactionAck
	var lastSeg *StructuralError
	closeTx := func() {
		if cur != nil {
			a.Transactions = append(a.Transactions, *cur)
			cur = nil
		}
		lastSeg = nil
	}
	addErr := func(e StructuralError) {
		a.Errors = append(a.Errors, e)
		if cur != nil {
			cur.Errors = append(cur.Errors, e)
		}
	}
	haveAK9 := false

	for _, s := range tx.Segments {
		switch s.ID {
		case "AK1":
			a.FunctionalID = s.Get(1)
			a.GroupControlNumber = s.Get(2)
		case "AK2":
			closeTx()
			cur = &TransactionAck{Code: s.Get(1), ControlNumber: s.Get(2), Version: s.Get(3)}
		case "AK3", "IK3":
			code := s.Get(4)
			e := StructuralError{
				SegmentID:       s.Get(1),
				SegmentPosition: atoi(s.Get(2)),
				LoopID:          s.Get(3),
				Code:            code,
				Description:     lookup(segmentErrorText, "Segment error", code),
			}
			lastSeg = &e
			if code != "" {
				addErr(e)
			}
		case "AK4", "IK4":
			code := s.Get(3)
			e := StructuralError{
				ElementPosition: atoi(s.Component(1, 1)),
				ComponentPos:    atoi(s.Component(1, 2)),
				Code:            code,
				Description:     lookup(elementErrorText, "Element error", code),
				BadValue:        s.Get(4),
			}
			if lastSeg != nil {
				e.SegmentID = lastSeg.SegmentID
				e.SegmentPosition = lastSeg.SegmentPosition
				e.LoopID = lastSeg.LoopID
			}
			addErr(e)
		case "CTX":
			// Context segments only add business identifiers on 999s.
		case "AK5", "IK5":
			if cur == nil {
				cur = &TransactionAck{}
			}
			cur.Result = ackResult(s.Get(1))
			cur.ResultCode = s.Get(1)
			for pos := 2; pos <= 6; pos++ {
				if c := s.Get(pos); c != "" {
					cur.Codes = append(cur.Codes, c)
					cur.Descriptions = append(cur.Descriptions, lookup(transactionErrorText, "Transaction error", c))
				}
			}
			closeTx()
		case "AK9":
			closeTx()
			haveAK9 = true
			a.Result = ackResult(s.Get(1))
			a.ResultCode = s.Get(1)
			a.Included = atoi(s.Get(2))
			a.Received = atoi(s.Get(3))
			a.Accepted = atoi(s.Get(4))
			for pos := 5; pos <= 9; pos++ {
				if c := s.Get(pos); c != "" {
					a.GroupCodes = append(a.GroupCodes, c)
					a.GroupDescriptions = append(a.GroupDescriptions, lookup(groupErrorText, "Group error", c))
				}
			}
		}
	}
	closeTx()

	if !haveAK9 {
		a.Result = combine(a.Transactions)
	}
	return a, nil
}

// ResultFor returns the result for the acknowledged transaction set with
// the given ST02, falling back to the group result.
func (a *Acknowledgment) ResultFor(stControl string) AckResult {
	for _, t := range a.Transactions {
		if sameNumber(t.ControlNumber, stControl) {
			return t.Result
		}
	}
	return a.Result
}

// ackResult treats codes outside the AK9/IK5 code list as rejections; the
// raw code is kept alongside.
func ackResult(code string) AckResult {
	if r, ok := ak9Results[code]; ok {
		return r
	}
	return AckRejected
}

func combine(txs []TransactionAck) AckResult {
	if len(txs) == 0 {
		return AckRejected
	}
	result := AckAccepted
	for _, t := range txs {
		switch t.Result {
		case AckRejected:
			return AckRejected
		case AckAcceptedWithErrors:
			result = AckAcceptedWithErrors
		}
	}
	return result
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func sameNumber(a, b string) bool {
	if a == b {
		return true
	}
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	return errA == nil && errB == nil && na == nb
}
