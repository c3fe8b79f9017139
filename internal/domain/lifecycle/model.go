package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/platform/x12"
	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("lifecycle: not found")
	ErrAlreadySubmitted      = errors.New("lifecycle: claim already submitted")
	ErrNotSubmitted          = errors.New("lifecycle: claim has not been submitted")
	ErrAlreadyVoided         = errors.New("lifecycle: claim already voided")
	ErrTransferFailed        = errors.New("lifecycle: transfer failed")
	ErrControlNumberConflict = errors.New("lifecycle: control number already used")
	ErrDuplicateClaim        = errors.New("lifecycle: claim control number already exists")
	ErrAlreadyResolved       = errors.New("lifecycle: reconciliation item already resolved")
)

// EventType is the fixed vocabulary of claim events.
type EventType string

const (
	EventSubmitted             EventType = "submitted"
	EventAcknowledged          EventType = "acknowledged"
	EventClearinghouseRejected EventType = "clearinghouse_rejected"
	EventClearinghouseAccepted EventType = "clearinghouse_accepted"
	EventStatusUpdate          EventType = "status_update"
	EventRemittanceDetail      EventType = "remittance_detail"
	EventVoided                EventType = "voided"
	EventCorrected             EventType = "corrected"
)

// Status is the derived state of a claim. It is never stored.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusInProcess Status = "in_process"
	StatusPended    Status = "pended"
	StatusPaid      Status = "paid"
	StatusPartial   Status = "partial"
	StatusDenied    Status = "denied"
	StatusVoided    Status = "voided"
)

// Claim is a stored claim record. Status is filled on read from the event
// log.
type Claim struct {
	ID              uuid.UUID    `json:"id"`
	ControlNumber   string       `json:"control_number"`
	Record          claim.Record `json:"record"`
	SubscriberID    string       `json:"subscriber_id"`
	ServiceFrom     *time.Time   `json:"service_from,omitempty"`
	ServiceTo       *time.Time   `json:"service_to,omitempty"`
	TotalCharge     x12.Amount   `json:"total_charge"`
	CorrectsClaimID *uuid.UUID   `json:"corrects_claim_id,omitempty"`
	Status          Status       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
}

// NewClaim copies the matching keys out of a record.
func NewClaim(r claim.Record) *Claim {
	c := &Claim{
		ControlNumber: r.ControlNumber,
		Record:        r,
		SubscriberID:  r.Subscriber.MemberID,
		TotalCharge:   r.Total(),
	}
	if from, to := r.ServicePeriod(); !from.IsZero() {
		c.ServiceFrom = &from
		c.ServiceTo = &to
	}
	return c
}

// Covers reports whether d falls inside the claim's service-date range,
// compared by calendar day.
func (c *Claim) Covers(d time.Time) bool {
	if c.ServiceFrom == nil {
		return false
	}
	day := x12.FormatDate(d)
	to := c.ServiceFrom
	if c.ServiceTo != nil {
		to = c.ServiceTo
	}
	return day >= x12.FormatDate(*c.ServiceFrom) && day <= x12.FormatDate(*to)
}

// File processing outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

// Raw file sources.
const (
	SourceInbound  = "inbound"
	SourceOutbound = "outbound"
	SourceUpload   = "upload"
)

// RawFile is one received or sent file, unique by content hash.
type RawFile struct {
	ID          uuid.UUID  `json:"id"`
	Source      string     `json:"source"`
	Filename    string     `json:"filename"`
	Content     []byte     `json:"-"`
	Hash        string     `json:"hash"`
	ReceivedAt  time.Time  `json:"received_at"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// HashContent is the hex SHA-256 used as the file idempotency key.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Identifier systems and types.
const (
	SystemSubmitter     = "submitter"
	SystemPayer         = "payer"
	SystemClearinghouse = "clearinghouse"

	TypeInterchangeControl = "interchange_control"
	TypeGroupControl       = "group_control"
	TypeTransactionControl = "transaction_control"
	TypePayerClaimNumber   = "payer_claim_number"
	TypeClearinghouseTrace = "clearinghouse_trace"
)

// IdentifierKey is an external reference without its owner.
type IdentifierKey struct {
	System string `json:"system"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// Identifier is an external reference a claim has accrued.
type Identifier struct {
	ID        uuid.UUID `json:"id"`
	ClaimID   uuid.UUID `json:"claim_id"`
	System    string    `json:"system"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Key drops the owner.
func (i *Identifier) Key() IdentifierKey {
	return IdentifierKey{System: i.System, Type: i.Type, Value: i.Value}
}

// Event is one append-only entry in a claim's history.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	ClaimID      uuid.UUID       `json:"claim_id"`
	Type         EventType       `json:"type"`
	OccurredAt   time.Time       `json:"occurred_at"`
	RecordedAt   time.Time       `json:"recorded_at"`
	SourceFileID *uuid.UUID      `json:"source_file_id,omitempty"`
	Detail       json.RawMessage `json:"detail"`
	Hash         string          `json:"hash"`
}

// DecodeDetail unmarshals the detail payload into v.
func (e *Event) DecodeDetail(v interface{}) error {
	return json.Unmarshal(e.Detail, v)
}

// Submission states.
const (
	SubmissionPending = "pending"
	SubmissionSent    = "sent"
	SubmissionFailed  = "failed"
)

// Submission is one attempt to transfer an 837P for a claim.
type Submission struct {
	ID                 uuid.UUID  `json:"id"`
	ClaimID            uuid.UUID  `json:"claim_id"`
	Frequency          string     `json:"frequency"`
	InterchangeControl string     `json:"interchange_control"`
	GroupControl       string     `json:"group_control"`
	TransactionControl string     `json:"transaction_control"`
	Filename           string     `json:"filename"`
	FileID             *uuid.UUID `json:"file_id,omitempty"`
	State              string     `json:"state"`
	Error              string     `json:"error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Reasons a result lands in the reconciliation queue.
const (
	ReasonNoMatch   = "no_match"
	ReasonAmbiguous = "ambiguous"
)

// Unmatched is a decoded result that could not be tied to exactly one claim.
// It keeps everything needed to apply the result once a person picks the
// claim.
type Unmatched struct {
	ID              uuid.UUID       `json:"id"`
	FileID          uuid.UUID       `json:"file_id"`
	Kind            string          `json:"kind"`
	Reason          string          `json:"reason"`
	Summary         string          `json:"summary"`
	EventType       EventType       `json:"event_type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Detail          json.RawMessage `json:"detail"`
	Hash            string          `json:"hash"`
	ControlNumber   string          `json:"control_number,omitempty"`
	Identifiers     []IdentifierKey `json:"identifiers,omitempty"`
	Candidates      []uuid.UUID     `json:"candidates,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ResolvedClaimID *uuid.UUID      `json:"resolved_claim_id,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
}

// Resolved reports whether the item has been applied to a claim.
func (u *Unmatched) Resolved() bool { return u.ResolvedClaimID != nil }
