package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/platform/lock"
)

// Outbox is the outbound side of the file-transfer channel.
type Outbox interface {
	Put(ctx context.Context, name string, payload []byte) error
}

// maxControlAttempts bounds retries when a drawn control number was
// already used by an earlier submission.
const maxControlAttempts = 5

// Service runs the claim-facing operations: create, submit, void, correct
// and manual reconciliation.
type Service struct {
	store     Store
	encoder   *claim.Encoder
	outbox    Outbox
	events    *appender
	logger    zerolog.Logger
	now       func() time.Time
	submitter claim.Party
	receiver  claim.Party
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithParties sets the submitter and receiver used when a record leaves
// them empty.
func WithParties(submitter, receiver claim.Party) ServiceOption {
	return func(s *Service) {
		s.submitter = submitter
		s.receiver = receiver
	}
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, encoder *claim.Encoder, outbox Outbox, locks lock.Locker, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		encoder: encoder,
		outbox:  outbox,
		events:  &appender{store: store, locks: locks},
		logger:  logger.With().Str("component", "claims").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) fillParties(r *claim.Record) {
	if r.Submitter.ID == "" {
		r.Submitter = s.submitter
	}
	if r.Receiver.ID == "" {
		r.Receiver = s.receiver
	}
}

// CreateClaim stores a draft claim. Validation runs at submit time; the
// returned problems are informational.
func (s *Service) CreateClaim(ctx context.Context, r claim.Record) (*Claim, []claim.ValidationError, error) {
	if r.ControlNumber == "" {
		return nil, nil, &claim.ValidationFailure{Errors: []claim.ValidationError{{
			Field: "control_number", Message: "is required", Severity: claim.SeverityError,
		}}}
	}
	s.fillParties(&r)
	c := NewClaim(r)
	if err := s.store.CreateClaim(ctx, c); err != nil {
		return nil, nil, err
	}
	c.Status = StatusDraft
	return c, claim.Validate(&c.Record, s.now()), nil
}

// GetClaim returns a claim with its status derived from the event log.
func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.derive(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListClaims(ctx context.Context, limit, offset int) ([]*Claim, int, error) {
	items, total, err := s.store.ListClaims(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, c := range items {
		if err := s.derive(ctx, c); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (s *Service) derive(ctx context.Context, c *Claim) error {
	events, err := s.store.ListEvents(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load events for %s: %w", c.ID, err)
	}
	c.Status = Derive(events)
	return nil
}

func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]*Event, error) {
	if _, err := s.store.GetClaim(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

func (s *Service) Identifiers(ctx context.Context, id uuid.UUID) ([]*Identifier, error) {
	return s.store.ListIdentifiers(ctx, id)
}

func (s *Service) Submissions(ctx context.Context, id uuid.UUID) ([]*Submission, error) {
	return s.store.ListSubmissions(ctx, id)
}

// Validate runs the full claim validation against the stored record.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) ([]claim.ValidationError, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	return claim.Validate(&c.Record, s.now()), nil
}

// Submit encodes and transfers a claim that has never been submitted. A
// failed transfer is recorded on the submission and leaves the claim in
// draft so it can be retried.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*Submission, error) {
	var sub *Submission
	err := s.events.withClaimLock(ctx, id, func(ctx context.Context) error {
		c, events, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if has(events, EventSubmitted) {
			return ErrAlreadySubmitted
		}
		sent, detail, err := s.transmit(ctx, c, c.Record)
		sub = sent
		if err != nil {
			return err
		}
		return s.record(ctx, c.ID, EventSubmitted, detail)
	})
	return sub, err
}

// Void sends a frequency 8 claim referencing the payer's claim number.
func (s *Service) Void(ctx context.Context, id uuid.UUID, reason string) (*Submission, error) {
	var sub *Submission
	err := s.events.withClaimLock(ctx, id, func(ctx context.Context) error {
		c, events, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !has(events, EventSubmitted) {
			return ErrNotSubmitted
		}
		if has(events, EventVoided) {
			return ErrAlreadyVoided
		}
		icn, err := s.latestPayerClaimNumber(ctx, c.ID)
		if err != nil {
			return err
		}
		rec := c.Record
		rec.Frequency = claim.FrequencyVoid
		rec.OriginalClaimNumber = icn

		sent, detail, err := s.transmit(ctx, c, rec)
		sub = sent
		if err != nil {
			return err
		}
		detail.PayerClaimNumber = icn
		detail.Reason = reason
		return s.record(ctx, c.ID, EventVoided, detail)
	})
	return sub, err
}

// Correct stores rec as a replacement (frequency 7) for a submitted claim
// and records a corrected event on the original. The replacement is a new
// draft claim with its own control number; submit it like any other.
func (s *Service) Correct(ctx context.Context, id uuid.UUID, rec claim.Record) (*Claim, error) {
	var replacement *Claim
	err := s.events.withClaimLock(ctx, id, func(ctx context.Context) error {
		orig, events, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !has(events, EventSubmitted) {
			return ErrNotSubmitted
		}
		if has(events, EventVoided) {
			return ErrAlreadyVoided
		}
		if rec.ControlNumber == "" || rec.ControlNumber == orig.ControlNumber {
			return &claim.ValidationFailure{Errors: []claim.ValidationError{{
				Field: "control_number", Message: "replacement claim needs its own control number", Severity: claim.SeverityError,
			}}}
		}
		if rec.OriginalClaimNumber == "" {
			if rec.OriginalClaimNumber, err = s.latestPayerClaimNumber(ctx, orig.ID); err != nil {
				return err
			}
		}
		rec.Frequency = claim.FrequencyReplacement
		s.fillParties(&rec)

		replacement = NewClaim(rec)
		replacement.CorrectsClaimID = &orig.ID
		return s.store.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.CreateClaim(ctx, replacement); err != nil {
				return err
			}
			p, err := newPending(EventCorrected, s.now(), CorrectedDetail{
				ReplacementClaimID: replacement.ID,
				ControlNumber:      replacement.ControlNumber,
				PayerClaimNumber:   rec.OriginalClaimNumber,
			}, nil)
			if err != nil {
				return err
			}
			_, err = s.events.appendTx(ctx, orig.ID, nil, p)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	replacement.Status = StatusDraft
	return replacement, nil
}

// ListUnmatched returns the reconciliation queue.
func (s *Service) ListUnmatched(ctx context.Context, includeResolved bool, limit, offset int) ([]*Unmatched, int, error) {
	return s.store.ListUnmatched(ctx, includeResolved, limit, offset)
}

// Resolve applies a queued result to the claim a person picked, as if it
// had matched on ingestion.
func (s *Service) Resolve(ctx context.Context, unmatchedID, claimID uuid.UUID) (*Claim, error) {
	u, err := s.store.GetUnmatched(ctx, unmatchedID)
	if err != nil {
		return nil, err
	}
	if u.Resolved() {
		return nil, ErrAlreadyResolved
	}
	if _, err := s.store.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}

	p := &pending{
		Type:        u.EventType,
		OccurredAt:  u.OccurredAt,
		Detail:      u.Detail,
		Hash:        u.Hash,
		Identifiers: u.Identifiers,
	}
	fileID := u.FileID
	err = s.events.withClaim(ctx, claimID, func(ctx context.Context) error {
		if _, err := s.events.appendTx(ctx, claimID, &fileID, p); err != nil {
			return err
		}
		return s.store.ResolveUnmatched(ctx, unmatchedID, claimID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("unmatched_id", unmatchedID.String()).
		Str("claim_id", claimID.String()).
		Str("event_type", string(u.EventType)).
		Msg("reconciliation item resolved")
	return s.GetClaim(ctx, claimID)
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Claim, []*Event, error) {
	c, err := s.store.GetClaim(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return c, events, nil
}

// transmit encodes rec with a fresh control number, records the attempt
// and hands the payload to the outbox.
func (s *Service) transmit(ctx context.Context, c *Claim, rec claim.Record) (*Submission, SubmissionDetail, error) {
	s.fillParties(&rec)
	log := s.logger.With().Str("claim_id", c.ID.String()).Str("control_number", c.ControlNumber).Logger()

	for attempt := 1; attempt <= maxControlAttempts; attempt++ {
		enc, err := s.encoder.Encode(&rec)
		if err != nil {
			return nil, SubmissionDetail{}, err
		}
		sub := &Submission{
			ClaimID:            c.ID,
			Frequency:          rec.FrequencyCode(),
			InterchangeControl: enc.InterchangeControl,
			GroupControl:       enc.GroupControl,
			TransactionControl: enc.TransactionControl,
			Filename:           fmt.Sprintf("837P_%s_%s.x12", c.ControlNumber, enc.InterchangeControl),
			State:              SubmissionPending,
		}
		err = s.store.CreateSubmission(ctx, sub)
		if errors.Is(err, ErrControlNumberConflict) {
			log.Warn().Str("interchange_control", enc.InterchangeControl).Int("attempt", attempt).Msg("control number reused, drawing another")
			continue
		}
		if err != nil {
			return nil, SubmissionDetail{}, fmt.Errorf("record submission: %w", err)
		}

		out := &RawFile{
			Source:      SourceOutbound,
			Filename:    sub.Filename,
			Content:     enc.Payload,
			Hash:        HashContent(enc.Payload),
			ReceivedAt:  s.now(),
			Processed:   true,
			ProcessedAt: ptrTime(s.now()),
			Outcome:     OutcomeProcessed,
		}
		if _, err := s.store.InsertFile(ctx, out); err != nil {
			return nil, SubmissionDetail{}, fmt.Errorf("store outbound file: %w", err)
		}
		sub.FileID = &out.ID

		if err := s.outbox.Put(ctx, sub.Filename, enc.Payload); err != nil {
			sub.State = SubmissionFailed
			sub.Error = err.Error()
			if upErr := s.store.UpdateSubmission(ctx, sub); upErr != nil {
				log.Error().Err(upErr).Msg("record failed submission")
			}
			log.Error().Err(err).Str("filename", sub.Filename).Msg("transfer failed")
			return sub, SubmissionDetail{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}

		sub.State = SubmissionSent
		if err := s.store.UpdateSubmission(ctx, sub); err != nil {
			return sub, SubmissionDetail{}, fmt.Errorf("record submission: %w", err)
		}
		log.Info().
			Str("filename", sub.Filename).
			Str("interchange_control", sub.InterchangeControl).
			Str("frequency", sub.Frequency).
			Msg("claim transferred")
		return sub, SubmissionDetail{
			SubmissionID:       sub.ID,
			Frequency:          sub.Frequency,
			InterchangeControl: sub.InterchangeControl,
			GroupControl:       sub.GroupControl,
			TransactionControl: sub.TransactionControl,
			Filename:           sub.Filename,
			Warnings:           enc.Warnings,
		}, nil
	}
	return nil, SubmissionDetail{}, ErrControlNumberConflict
}

// record appends a submission-side event together with the envelope
// control numbers acknowledgments will quote back.
func (s *Service) record(ctx context.Context, claimID uuid.UUID, t EventType, d SubmissionDetail) error {
	p, err := newPending(t, s.now(), d, submitterKeys(d.InterchangeControl, d.GroupControl, d.TransactionControl))
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(ctx context.Context) error {
		_, err := s.events.appendTx(ctx, claimID, nil, p)
		return err
	})
}

func (s *Service) latestPayerClaimNumber(ctx context.Context, claimID uuid.UUID) (string, error) {
	ids, err := s.store.ListIdentifiers(ctx, claimID)
	if err != nil {
		return "", err
	}
	var latest *Identifier
	for _, id := range ids {
		if id.System == SystemPayer && id.Type == TypePayerClaimNumber {
			if latest == nil || !id.CreatedAt.Before(latest.CreatedAt) {
				latest = id
			}
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.Value, nil
}

func has(events []*Event, t EventType) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func ptrTime(t time.Time) *time.Time { return &t }
