package response

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/claimsync/internal/platform/x12"
)

// ErrUnsupportedTransaction is returned when ST01 is not a transaction set
// this package decodes.
var ErrUnsupportedTransaction = errors.New("response: unsupported transaction set")

// Kind identifies an inbound transaction set.
type Kind string

const (
	KindEligibility Kind = "271"
	KindClaimStatus Kind = "277"
	KindAck997      Kind = "997"
	KindAck999      Kind = "999"
	KindRemittance  Kind = "835"
)

// Supported reports whether code is an inbound transaction set this package
// can decode.
func Supported(code string) bool {
	switch Kind(code) {
	case KindEligibility, KindClaimStatus, KindAck997, KindAck999, KindRemittance:
		return true
	}
	return false
}

// Document is every normalized result decoded from one interchange.
type Document struct {
	InterchangeControl string            `json:"interchange_control"`
	SenderID           string            `json:"sender_id"`
	ReceiverID         string            `json:"receiver_id"`
	CreatedAt          *time.Time        `json:"created_at,omitempty"` // ISA09/ISA10
	Kinds              []Kind            `json:"kinds"`
	Eligibility        []*Eligibility    `json:"eligibility,omitempty"`
	ClaimStatuses      []*ClaimStatus    `json:"claim_statuses,omitempty"`
	Acknowledgments    []*Acknowledgment `json:"acknowledgments,omitempty"`
	Remittances        []*Remittance     `json:"remittances,omitempty"`
}

// Decode parses raw bytes and runs the decoder matching each transaction
// set's ST01. Any transaction set this package does not decode fails the
// whole document with ErrUnsupportedTransaction.
func Decode(raw []byte) (*Document, error) {
	ic, err := x12.Decode(raw)
	if err != nil {
		return nil, err
	}
	return DecodeInterchange(ic)
}

// DecodeInterchange is Decode for an already parsed interchange.
func DecodeInterchange(ic *x12.Interchange) (*Document, error) {
	doc := &Document{
		InterchangeControl: ic.ControlNumber(),
		SenderID:           ic.SenderID(),
		ReceiverID:         ic.ReceiverID(),
	}
	if ts, err := ic.Timestamp(); err == nil {
		doc.CreatedAt = &ts
	}
	seen := make(map[Kind]bool)
	for _, tx := range ic.Transactions() {
		kind := Kind(tx.Code())
		switch kind {
		case KindEligibility:
			e, err := DecodeEligibility(tx)
			if err != nil {
				return nil, err
			}
			doc.Eligibility = append(doc.Eligibility, e)
		case KindClaimStatus:
			s, err := DecodeClaimStatus(tx)
			if err != nil {
				return nil, err
			}
			doc.ClaimStatuses = append(doc.ClaimStatuses, s...)
		case KindAck997, KindAck999:
			a, err := DecodeAcknowledgment(tx)
			if err != nil {
				return nil, err
			}
			doc.Acknowledgments = append(doc.Acknowledgments, a)
		case KindRemittance:
			r, err := DecodeRemittance(tx)
			if err != nil {
				return nil, err
			}
			doc.Remittances = append(doc.Remittances, r)
		default:
			return nil, fmt.Errorf("%w: ST01 %q (ST02 %s)", ErrUnsupportedTransaction, tx.Code(), tx.ControlNumber())
		}
		if !seen[kind] {
			seen[kind] = true
			doc.Kinds = append(doc.Kinds, kind)
		}
	}
	return doc, nil
}

// Classify returns the transaction set identifiers present in raw, without
// decoding their contents.
func Classify(raw []byte) ([]string, error) {
	ic, err := x12.Decode(raw)
	if err != nil {
		return nil, err
	}
	var codes []string
	seen := make(map[string]bool)
	for _, tx := range ic.Transactions() {
		if !seen[tx.Code()] {
			seen[tx.Code()] = true
			codes = append(codes, tx.Code())
		}
	}
	return codes, nil
}

func expect(tx *x12.Transaction, codes ...Kind) error {
	for _, c := range codes {
		if Kind(tx.Code()) == c {
			return nil
		}
	}
	return fmt.Errorf("%w: ST01 %q, want %v", ErrUnsupportedTransaction, tx.Code(), codes)
}

func amountPtr(s string) *x12.Amount {
	if s == "" {
		return nil
	}
	a, err := x12.ParseAmount(s)
	if err != nil {
		return nil
	}
	return &a
}

func amountOrZero(s string) x12.Amount {
	if p := amountPtr(s); p != nil {
		return *p
	}
	return 0
}
