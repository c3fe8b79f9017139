package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/claimsync/internal/platform/db"
	"github.com/ehr/claimsync/internal/platform/x12"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the PostgreSQL Store. Schema lives in migrations.Postgres().
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (s *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.pool, fn)
}

func (s *PGStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Claims ===========

const claimCols = `id, control_number, record, subscriber_id, service_from, service_to,
	total_charge, corrects_claim_id, created_at`

func scanClaimPG(row pgx.Row) (*Claim, error) {
	var c Claim
	var record []byte
	var total int64
	if err := row.Scan(&c.ID, &c.ControlNumber, &record, &c.SubscriberID, &c.ServiceFrom, &c.ServiceTo,
		&total, &c.CorrectsClaimID, &c.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(record, &c.Record); err != nil {
		return nil, fmt.Errorf("decode claim record %s: %w", c.ID, err)
	}
	c.TotalCharge = x12.Amount(total)
	return &c, nil
}

func (s *PGStore) CreateClaim(ctx context.Context, c *Claim) error {
	record, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("encode claim record: %w", err)
	}
	c.ID = uuid.New()
	err = s.conn(ctx).QueryRow(ctx, `
		INSERT INTO claims (id, control_number, record, subscriber_id, service_from, service_to,
			total_charge, corrects_claim_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		c.ID, c.ControlNumber, record, c.SubscriberID, c.ServiceFrom, c.ServiceTo,
		int64(c.TotalCharge), c.CorrectsClaimID).Scan(&c.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateClaim
	}
	return err
}

func (s *PGStore) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaimPG(s.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	return c, notFound(err)
}

func (s *PGStore) ListClaims(ctx context.Context, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return items, total, err
}

func (s *PGStore) FindClaimsByControlNumber(ctx context.Context, control string) ([]*Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE control_number = $1 ORDER BY created_at`, control)
}

func (s *PGStore) FindClaimsBySubscriber(ctx context.Context, subscriberID string) ([]*Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE subscriber_id = $1 ORDER BY created_at`, subscriberID)
}

func (s *PGStore) queryClaims(ctx context.Context, sql string, args ...interface{}) ([]*Claim, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaimPG(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// =========== Files ===========

const fileCols = `id, source, filename, content, hash, received_at, processed, processed_at, outcome, note`

func scanFilePG(row pgx.Row) (*RawFile, error) {
	var f RawFile
	err := row.Scan(&f.ID, &f.Source, &f.Filename, &f.Content, &f.Hash, &f.ReceivedAt,
		&f.Processed, &f.ProcessedAt, &f.Outcome, &f.Note)
	return &f, err
}

func (s *PGStore) InsertFile(ctx context.Context, f *RawFile) (bool, error) {
	id := uuid.New()
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = time.Now().UTC()
	}
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO raw_files (id, source, filename, content, hash, received_at, processed, processed_at, outcome, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (hash) DO NOTHING
		RETURNING id`,
		id, f.Source, f.Filename, f.Content, f.Hash, f.ReceivedAt,
		f.Processed, f.ProcessedAt, f.Outcome, f.Note).Scan(&f.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	existing, err := scanFilePG(s.conn(ctx).QueryRow(ctx, `SELECT `+fileCols+` FROM raw_files WHERE hash = $1`, f.Hash))
	if err != nil {
		return false, notFound(err)
	}
	*f = *existing
	return false, nil
}

func (s *PGStore) GetFile(ctx context.Context, id uuid.UUID) (*RawFile, error) {
	f, err := scanFilePG(s.conn(ctx).QueryRow(ctx, `SELECT `+fileCols+` FROM raw_files WHERE id = $1`, id))
	return f, notFound(err)
}

func (s *PGStore) ListFiles(ctx context.Context, limit, offset int) ([]*RawFile, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM raw_files`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+fileCols+` FROM raw_files ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RawFile
	for rows.Next() {
		f, err := scanFilePG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

func (s *PGStore) MarkProcessed(ctx context.Context, id uuid.UUID, outcome, note string, at time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE raw_files SET processed = TRUE, processed_at = $2, outcome = $3, note = $4
		WHERE id = $1`, id, at, outcome, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ClearProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE raw_files SET processed = FALSE, processed_at = NULL, outcome = '', note = ''
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Events ===========

const eventCols = `id, claim_id, type, occurred_at, recorded_at, source_file_id, detail, hash`

func scanEventPG(row pgx.Row) (*Event, error) {
	var e Event
	var detail []byte
	if err := row.Scan(&e.ID, &e.ClaimID, &e.Type, &e.OccurredAt, &e.RecordedAt,
		&e.SourceFileID, &detail, &e.Hash); err != nil {
		return nil, err
	}
	e.Detail = json.RawMessage(detail)
	return &e, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) (bool, error) {
	id := uuid.New()
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_events (id, claim_id, type, occurred_at, source_file_id, detail, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (claim_id, type, hash) DO NOTHING
		RETURNING recorded_at`,
		id, e.ClaimID, e.Type, e.OccurredAt, e.SourceFileID, []byte(e.Detail), e.Hash).Scan(&e.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.ID = id
	return true, nil
}

func (s *PGStore) ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM claim_events WHERE claim_id = $1 ORDER BY occurred_at, seq`, claimID)
}

func (s *PGStore) ListEventsByType(ctx context.Context, t EventType) ([]*Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM claim_events WHERE type = $1 ORDER BY occurred_at, seq`, t)
}

func (s *PGStore) queryEvents(ctx context.Context, sql string, args ...interface{}) ([]*Event, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEventPG(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Identifiers ===========

const identifierCols = `id, claim_id, system, type, value, created_at`

func (s *PGStore) AddIdentifier(ctx context.Context, id *Identifier) (bool, error) {
	newID := uuid.New()
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_identifiers (id, claim_id, system, type, value)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (claim_id, system, type, value) DO NOTHING
		RETURNING created_at`,
		newID, id.ClaimID, id.System, id.Type, id.Value).Scan(&id.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	id.ID = newID
	return true, nil
}

func (s *PGStore) FindIdentifiers(ctx context.Context, key IdentifierKey) ([]*Identifier, error) {
	return s.queryIdentifiers(ctx, `SELECT `+identifierCols+` FROM claim_identifiers
		WHERE system = $1 AND type = $2 AND value = $3 ORDER BY created_at`, key.System, key.Type, key.Value)
}

func (s *PGStore) ListIdentifiers(ctx context.Context, claimID uuid.UUID) ([]*Identifier, error) {
	return s.queryIdentifiers(ctx, `SELECT `+identifierCols+` FROM claim_identifiers
		WHERE claim_id = $1 ORDER BY created_at`, claimID)
}

func (s *PGStore) queryIdentifiers(ctx context.Context, sql string, args ...interface{}) ([]*Identifier, error) {
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Identifier
	for rows.Next() {
		var id Identifier
		if err := rows.Scan(&id.ID, &id.ClaimID, &id.System, &id.Type, &id.Value, &id.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &id)
	}
	return items, rows.Err()
}

// =========== Submissions ===========

const submissionCols = `id, claim_id, frequency, interchange_control, group_control, transaction_control,
	filename, file_id, state, error, created_at, updated_at`

func (s *PGStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	sub.ID = uuid.New()
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO submissions (id, claim_id, frequency, interchange_control, group_control,
			transaction_control, filename, file_id, state, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		sub.ID, sub.ClaimID, sub.Frequency, sub.InterchangeControl, sub.GroupControl,
		sub.TransactionControl, sub.Filename, sub.FileID, sub.State, sub.Error).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrControlNumberConflict
	}
	return err
}

func (s *PGStore) UpdateSubmission(ctx context.Context, sub *Submission) error {
	err := s.conn(ctx).QueryRow(ctx, `
		UPDATE submissions SET filename = $2, file_id = $3, state = $4, error = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		sub.ID, sub.Filename, sub.FileID, sub.State, sub.Error).Scan(&sub.UpdatedAt)
	return notFound(err)
}

func (s *PGStore) ListSubmissions(ctx context.Context, claimID uuid.UUID) ([]*Submission, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+submissionCols+` FROM submissions WHERE claim_id = $1 ORDER BY created_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.ClaimID, &sub.Frequency, &sub.InterchangeControl, &sub.GroupControl,
			&sub.TransactionControl, &sub.Filename, &sub.FileID, &sub.State, &sub.Error,
			&sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &sub)
	}
	return items, rows.Err()
}

// =========== Reconciliation ===========

const unmatchedCols = `id, file_id, kind, reason, summary, event_type, occurred_at, detail, hash,
	control_number, identifiers, candidates, created_at, resolved_claim_id, resolved_at`

func scanUnmatchedPG(row pgx.Row) (*Unmatched, error) {
	var u Unmatched
	var detail, ids, candidates []byte
	if err := row.Scan(&u.ID, &u.FileID, &u.Kind, &u.Reason, &u.Summary, &u.EventType, &u.OccurredAt,
		&detail, &u.Hash, &u.ControlNumber, &ids, &candidates, &u.CreatedAt,
		&u.ResolvedClaimID, &u.ResolvedAt); err != nil {
		return nil, err
	}
	u.Detail = json.RawMessage(detail)
	if err := json.Unmarshal(ids, &u.Identifiers); err != nil {
		return nil, fmt.Errorf("decode identifiers: %w", err)
	}
	if err := json.Unmarshal(candidates, &u.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return &u, nil
}

func (s *PGStore) EnqueueUnmatched(ctx context.Context, u *Unmatched) (bool, error) {
	ids, candidates, err := marshalUnmatchedLists(u)
	if err != nil {
		return false, err
	}
	id := uuid.New()
	err = s.conn(ctx).QueryRow(ctx, `
		INSERT INTO unmatched_results (id, file_id, kind, reason, summary, event_type, occurred_at,
			detail, hash, control_number, identifiers, candidates)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (file_id, hash) DO NOTHING
		RETURNING created_at`,
		id, u.FileID, u.Kind, u.Reason, u.Summary, u.EventType, u.OccurredAt,
		[]byte(u.Detail), u.Hash, u.ControlNumber, ids, candidates).Scan(&u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	u.ID = id
	return true, nil
}

func (s *PGStore) GetUnmatched(ctx context.Context, id uuid.UUID) (*Unmatched, error) {
	u, err := scanUnmatchedPG(s.conn(ctx).QueryRow(ctx, `SELECT `+unmatchedCols+` FROM unmatched_results WHERE id = $1`, id))
	return u, notFound(err)
}

func (s *PGStore) ListUnmatched(ctx context.Context, includeResolved bool, limit, offset int) ([]*Unmatched, int, error) {
	where := ` WHERE resolved_claim_id IS NULL`
	if includeResolved {
		where = ``
	}
	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM unmatched_results`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+unmatchedCols+` FROM unmatched_results`+where+
		` ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Unmatched
	for rows.Next() {
		u, err := scanUnmatchedPG(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (s *PGStore) ResolveUnmatched(ctx context.Context, id, claimID uuid.UUID, at time.Time) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE unmatched_results SET resolved_claim_id = $2, resolved_at = $3
		WHERE id = $1 AND resolved_claim_id IS NULL`, id, claimID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUnmatched(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

func marshalUnmatchedLists(u *Unmatched) ([]byte, []byte, error) {
	ids := u.Identifiers
	if ids == nil {
		ids = []IdentifierKey{}
	}
	candidates := u.Candidates
	if candidates == nil {
		candidates = []uuid.UUID{}
	}
	a, err := json.Marshal(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("encode identifiers: %w", err)
	}
	b, err := json.Marshal(candidates)
	if err != nil {
		return nil, nil, fmt.Errorf("encode candidates: %w", err)
	}
	return a, b, nil
}
