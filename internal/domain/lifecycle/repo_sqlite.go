package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ehr/claimsync/internal/domain/lifecycle/migrations"
	"github.com/ehr/claimsync/internal/platform/db"
	"github.com/ehr/claimsync/internal/platform/x12"
)

// Fixed width so that text comparison orders the same as time.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteTxKey struct{}

type sqlQueryable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type sqlScanner interface {
	Scan(dest ...interface{}) error
}

// SQLiteStore is a single-file Store for offline and single-node use.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; transactions carry their own connection.
	conn.SetMaxOpenConns(1)

	s := NewSQLiteStore(conn)
	if err := s.Migrate(ctx, migrations.SQLite()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// NewSQLiteStore wraps an open database without migrating it.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate applies every migration in fsys newer than the recorded version.
func (s *SQLiteStore) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM _migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	all, err := db.LoadMigrations(fsys)
	if err != nil {
		return err
	}
	for _, m := range all {
		if m.Version <= current {
			continue
		}
		err := s.InTx(ctx, func(ctx context.Context) error {
			if _, err := s.conn(ctx).ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := s.conn(ctx).ExecContext(ctx,
				`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, s.now().Format(sqliteTime))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) conn(ctx context.Context) sqlQueryable {
	if tx, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(sqliteTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(context.WithValue(ctx, sqliteTxKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sqlNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func formatDatePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString, layout string) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(layout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

// -- Claims --

func scanClaimSQL(row sqlScanner) (*Claim, error) {
	var c Claim
	var record, created string
	var from, to sql.NullString
	var total int64
	var corrects uuid.NullUUID
	if err := row.Scan(&c.ID, &c.ControlNumber, &record, &c.SubscriberID, &from, &to,
		&total, &corrects, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(record), &c.Record); err != nil {
		return nil, fmt.Errorf("decode claim record %s: %w", c.ID, err)
	}
	var err error
	if c.ServiceFrom, err = parseNullTime(from, "2006-01-02"); err != nil {
		return nil, err
	}
	if c.ServiceTo, err = parseNullTime(to, "2006-01-02"); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	c.TotalCharge = x12.Amount(total)
	c.CorrectsClaimID = nullUUID(corrects)
	return &c, nil
}

func (s *SQLiteStore) CreateClaim(ctx context.Context, c *Claim) error {
	record, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("encode claim record: %w", err)
	}
	id := uuid.New()
	created := s.now()
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO claims (id, control_number, record, subscriber_id, service_from, service_to,
			total_charge, corrects_claim_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.ControlNumber, string(record), c.SubscriberID, formatDatePtr(c.ServiceFrom), formatDatePtr(c.ServiceTo),
		int64(c.TotalCharge), c.CorrectsClaimID, formatTime(created))
	if isSQLiteUnique(err) {
		return ErrDuplicateClaim
	}
	if err != nil {
		return fmt.Errorf("inserting claim: %w", err)
	}
	c.ID = id
	c.CreatedAt = created
	return nil
}

func (s *SQLiteStore) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaimSQL(s.conn(ctx).QueryRowContext(ctx, `SELECT `+claimCols+` FROM claims WHERE id = ?`, id))
	return c, sqlNotFound(err)
}

func (s *SQLiteStore) ListClaims(ctx context.Context, limit, offset int) ([]*Claim, int, error) {
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM claims`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting claims: %w", err)
	}
	items, err := s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	return items, total, err
}

func (s *SQLiteStore) FindClaimsByControlNumber(ctx context.Context, control string) ([]*Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE control_number = ? ORDER BY created_at`, control)
}

func (s *SQLiteStore) FindClaimsBySubscriber(ctx context.Context, subscriberID string) ([]*Claim, error) {
	return s.queryClaims(ctx, `SELECT `+claimCols+` FROM claims WHERE subscriber_id = ? ORDER BY created_at`, subscriberID)
}

func (s *SQLiteStore) queryClaims(ctx context.Context, query string, args ...interface{}) ([]*Claim, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying claims: %w", err)
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaimSQL(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// -- Files --

func scanFileSQL(row sqlScanner) (*RawFile, error) {
	var f RawFile
	var received string
	var processedAt sql.NullString
	if err := row.Scan(&f.ID, &f.Source, &f.Filename, &f.Content, &f.Hash, &received,
		&f.Processed, &processedAt, &f.Outcome, &f.Note); err != nil {
		return nil, err
	}
	var err error
	if f.ReceivedAt, err = parseTime(received); err != nil {
		return nil, err
	}
	if f.ProcessedAt, err = parseNullTime(processedAt, sqliteTime); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) InsertFile(ctx context.Context, f *RawFile) (bool, error) {
	id := uuid.New()
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = s.now()
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO raw_files (id, source, filename, content, hash, received_at, processed, processed_at, outcome, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING`,
		id, f.Source, f.Filename, f.Content, f.Hash, formatTime(f.ReceivedAt),
		f.Processed, formatTimePtr(f.ProcessedAt), f.Outcome, f.Note)
	if err != nil {
		return false, fmt.Errorf("inserting file: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		f.ID = id
		return true, nil
	}
	existing, err := scanFileSQL(s.conn(ctx).QueryRowContext(ctx, `SELECT `+fileCols+` FROM raw_files WHERE hash = ?`, f.Hash))
	if err != nil {
		return false, sqlNotFound(err)
	}
	*f = *existing
	return false, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, id uuid.UUID) (*RawFile, error) {
	f, err := scanFileSQL(s.conn(ctx).QueryRowContext(ctx, `SELECT `+fileCols+` FROM raw_files WHERE id = ?`, id))
	return f, sqlNotFound(err)
}

func (s *SQLiteStore) ListFiles(ctx context.Context, limit, offset int) ([]*RawFile, int, error) {
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting files: %w", err)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+fileCols+` FROM raw_files ORDER BY received_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()
	var items []*RawFile
	for rows.Next() {
		f, err := scanFileSQL(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning file: %w", err)
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id uuid.UUID, outcome, note string, at time.Time) error {
	return s.updateOne(ctx, `
		UPDATE raw_files SET processed = 1, processed_at = ?, outcome = ?, note = ?
		WHERE id = ?`, formatTime(at), outcome, note, id)
}

func (s *SQLiteStore) ClearProcessed(ctx context.Context, id uuid.UUID) error {
	return s.updateOne(ctx, `
		UPDATE raw_files SET processed = 0, processed_at = NULL, outcome = '', note = ''
		WHERE id = ?`, id)
}

func (s *SQLiteStore) updateOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Events --

func scanEventSQL(row sqlScanner) (*Event, error) {
	var e Event
	var occurred, recorded, detail string
	var source uuid.NullUUID
	if err := row.Scan(&e.ID, &e.ClaimID, &e.Type, &occurred, &recorded, &source, &detail, &e.Hash); err != nil {
		return nil, err
	}
	var err error
	if e.OccurredAt, err = parseTime(occurred); err != nil {
		return nil, err
	}
	if e.RecordedAt, err = parseTime(recorded); err != nil {
		return nil, err
	}
	e.SourceFileID = nullUUID(source)
	e.Detail = json.RawMessage(detail)
	return &e, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *Event) (bool, error) {
	id := uuid.New()
	recorded := s.now()
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO claim_events (id, claim_id, type, occurred_at, recorded_at, source_file_id, detail, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (claim_id, type, hash) DO NOTHING`,
		id, e.ClaimID, string(e.Type), formatTime(e.OccurredAt), formatTime(recorded), e.SourceFileID,
		string(e.Detail), e.Hash)
	if err != nil {
		return false, fmt.Errorf("appending event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	e.ID = id
	e.RecordedAt = recorded
	return true, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM claim_events WHERE claim_id = ? ORDER BY occurred_at, seq`, claimID)
}

func (s *SQLiteStore) ListEventsByType(ctx context.Context, t EventType) ([]*Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventCols+` FROM claim_events WHERE type = ? ORDER BY occurred_at, seq`, string(t))
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEventSQL(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// -- Identifiers --

func (s *SQLiteStore) AddIdentifier(ctx context.Context, id *Identifier) (bool, error) {
	newID := uuid.New()
	created := s.now()
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO claim_identifiers (id, claim_id, system, type, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (claim_id, system, type, value) DO NOTHING`,
		newID, id.ClaimID, id.System, id.Type, id.Value, formatTime(created))
	if err != nil {
		return false, fmt.Errorf("adding identifier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	id.ID = newID
	id.CreatedAt = created
	return true, nil
}

func (s *SQLiteStore) FindIdentifiers(ctx context.Context, key IdentifierKey) ([]*Identifier, error) {
	return s.queryIdentifiers(ctx, `SELECT `+identifierCols+` FROM claim_identifiers
		WHERE system = ? AND type = ? AND value = ? ORDER BY created_at`, key.System, key.Type, key.Value)
}

func (s *SQLiteStore) ListIdentifiers(ctx context.Context, claimID uuid.UUID) ([]*Identifier, error) {
	return s.queryIdentifiers(ctx, `SELECT `+identifierCols+` FROM claim_identifiers
		WHERE claim_id = ? ORDER BY created_at`, claimID)
}

func (s *SQLiteStore) queryIdentifiers(ctx context.Context, query string, args ...interface{}) ([]*Identifier, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying identifiers: %w", err)
	}
	defer rows.Close()
	var items []*Identifier
	for rows.Next() {
		var id Identifier
		var created string
		if err := rows.Scan(&id.ID, &id.ClaimID, &id.System, &id.Type, &id.Value, &created); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		if id.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		items = append(items, &id)
	}
	return items, rows.Err()
}

// -- Submissions --

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	id := uuid.New()
	now := s.now()
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO submissions (id, claim_id, frequency, interchange_control, group_control,
			transaction_control, filename, file_id, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sub.ClaimID, sub.Frequency, sub.InterchangeControl, sub.GroupControl,
		sub.TransactionControl, sub.Filename, sub.FileID, sub.State, sub.Error, formatTime(now), formatTime(now))
	if isSQLiteUnique(err) {
		return ErrControlNumberConflict
	}
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	sub.ID = id
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateSubmission(ctx context.Context, sub *Submission) error {
	now := s.now()
	if err := s.updateOne(ctx, `
		UPDATE submissions SET filename = ?, file_id = ?, state = ?, error = ?, updated_at = ?
		WHERE id = ?`, sub.Filename, sub.FileID, sub.State, sub.Error, formatTime(now), sub.ID); err != nil {
		return err
	}
	sub.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, claimID uuid.UUID) ([]*Submission, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE claim_id = ? ORDER BY created_at`, claimID)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()
	var items []*Submission
	for rows.Next() {
		var sub Submission
		var fileID uuid.NullUUID
		var created, updated string
		if err := rows.Scan(&sub.ID, &sub.ClaimID, &sub.Frequency, &sub.InterchangeControl, &sub.GroupControl,
			&sub.TransactionControl, &sub.Filename, &fileID, &sub.State, &sub.Error, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		sub.FileID = nullUUID(fileID)
		if sub.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if sub.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		items = append(items, &sub)
	}
	return items, rows.Err()
}

// -- Reconciliation --

func scanUnmatchedSQL(row sqlScanner) (*Unmatched, error) {
	var u Unmatched
	var occurred, detail, ids, candidates, created string
	var resolvedClaim uuid.NullUUID
	var resolvedAt sql.NullString
	if err := row.Scan(&u.ID, &u.FileID, &u.Kind, &u.Reason, &u.Summary, &u.EventType, &occurred,
		&detail, &u.Hash, &u.ControlNumber, &ids, &candidates, &created,
		&resolvedClaim, &resolvedAt); err != nil {
		return nil, err
	}
	var err error
	if u.OccurredAt, err = parseTime(occurred); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if u.ResolvedAt, err = parseNullTime(resolvedAt, sqliteTime); err != nil {
		return nil, err
	}
	u.ResolvedClaimID = nullUUID(resolvedClaim)
	u.Detail = json.RawMessage(detail)
	if err := json.Unmarshal([]byte(ids), &u.Identifiers); err != nil {
		return nil, fmt.Errorf("decode identifiers: %w", err)
	}
	if err := json.Unmarshal([]byte(candidates), &u.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) EnqueueUnmatched(ctx context.Context, u *Unmatched) (bool, error) {
	ids, candidates, err := marshalUnmatchedLists(u)
	if err != nil {
		return false, err
	}
	id := uuid.New()
	created := s.now()
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO unmatched_results (id, file_id, kind, reason, summary, event_type, occurred_at,
			detail, hash, control_number, identifiers, candidates, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, hash) DO NOTHING`,
		id, u.FileID, u.Kind, u.Reason, u.Summary, string(u.EventType), formatTime(u.OccurredAt),
		string(u.Detail), u.Hash, u.ControlNumber, string(ids), string(candidates), formatTime(created))
	if err != nil {
		return false, fmt.Errorf("enqueueing unmatched result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	u.ID = id
	u.CreatedAt = created
	return true, nil
}

func (s *SQLiteStore) GetUnmatched(ctx context.Context, id uuid.UUID) (*Unmatched, error) {
	u, err := scanUnmatchedSQL(s.conn(ctx).QueryRowContext(ctx, `SELECT `+unmatchedCols+` FROM unmatched_results WHERE id = ?`, id))
	return u, sqlNotFound(err)
}

func (s *SQLiteStore) ListUnmatched(ctx context.Context, includeResolved bool, limit, offset int) ([]*Unmatched, int, error) {
	where := ` WHERE resolved_claim_id IS NULL`
	if includeResolved {
		where = ``
	}
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM unmatched_results`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting unmatched results: %w", err)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+unmatchedCols+` FROM unmatched_results`+where+
		` ORDER BY created_at LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying unmatched results: %w", err)
	}
	defer rows.Close()
	var items []*Unmatched
	for rows.Next() {
		u, err := scanUnmatchedSQL(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning unmatched result: %w", err)
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (s *SQLiteStore) ResolveUnmatched(ctx context.Context, id, claimID uuid.UUID, at time.Time) error {
	err := s.updateOne(ctx, `
		UPDATE unmatched_results SET resolved_claim_id = ?, resolved_at = ?
		WHERE id = ? AND resolved_claim_id IS NULL`, claimID, formatTime(at), id)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := s.GetUnmatched(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyResolved
	}
	return err
}
