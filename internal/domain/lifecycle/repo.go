package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ClaimRepository interface {
	// CreateClaim returns ErrDuplicateClaim when the control number is taken.
	CreateClaim(ctx context.Context, c *Claim) error
	GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error)
	ListClaims(ctx context.Context, limit, offset int) ([]*Claim, int, error)
	FindClaimsByControlNumber(ctx context.Context, control string) ([]*Claim, error)
	FindClaimsBySubscriber(ctx context.Context, subscriberID string) ([]*Claim, error)
}

type FileRepository interface {
	// InsertFile stores f unless a file with the same hash exists. It
	// reports whether f was inserted; otherwise f is overwritten with the
	// stored file.
	InsertFile(ctx context.Context, f *RawFile) (bool, error)
	GetFile(ctx context.Context, id uuid.UUID) (*RawFile, error)
	ListFiles(ctx context.Context, limit, offset int) ([]*RawFile, int, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, outcome, note string, at time.Time) error
	ClearProcessed(ctx context.Context, id uuid.UUID) error
}

type EventRepository interface {
	// AppendEvent inserts e unless (claim, type, hash) already exists and
	// reports whether it was inserted.
	AppendEvent(ctx context.Context, e *Event) (bool, error)
	// ListEvents returns a claim's history ordered by occurrence.
	ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error)
	ListEventsByType(ctx context.Context, t EventType) ([]*Event, error)
}

type IdentifierRepository interface {
	// AddIdentifier is insert-if-absent on (claim, system, type, value).
	AddIdentifier(ctx context.Context, id *Identifier) (bool, error)
	FindIdentifiers(ctx context.Context, key IdentifierKey) ([]*Identifier, error)
	ListIdentifiers(ctx context.Context, claimID uuid.UUID) ([]*Identifier, error)
}

type SubmissionRepository interface {
	// CreateSubmission returns ErrControlNumberConflict when the
	// interchange control number was used before.
	CreateSubmission(ctx context.Context, s *Submission) error
	UpdateSubmission(ctx context.Context, s *Submission) error
	ListSubmissions(ctx context.Context, claimID uuid.UUID) ([]*Submission, error)
}

type ReconciliationRepository interface {
	// EnqueueUnmatched is insert-if-absent on (file, hash).
	EnqueueUnmatched(ctx context.Context, u *Unmatched) (bool, error)
	GetUnmatched(ctx context.Context, id uuid.UUID) (*Unmatched, error)
	ListUnmatched(ctx context.Context, includeResolved bool, limit, offset int) ([]*Unmatched, int, error)
	ResolveUnmatched(ctx context.Context, id, claimID uuid.UUID, at time.Time) error
}

// Store is everything the engine persists. InTx runs fn so that every
// repository call made with the context it receives commits or rolls back
// together.
type Store interface {
	ClaimRepository
	FileRepository
	EventRepository
	IdentifierRepository
	SubmissionRepository
	ReconciliationRepository
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
	Close() error
}
