package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/lock"
)

// Inbox is the inbound side of the file-transfer channel.
type Inbox interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Applied describes what happened to one decoded result.
type Applied struct {
	Kind      response.Kind `json:"kind"`
	EventType EventType     `json:"event_type"`
	Summary   string        `json:"summary"`
	Match     *Match        `json:"match"`
	Appended  bool          `json:"appended"`
}

// IngestResult reports the processing of one file.
type IngestResult struct {
	FileID      uuid.UUID               `json:"file_id"`
	Filename    string                  `json:"filename"`
	Hash        string                  `json:"hash"`
	Duplicate   bool                    `json:"duplicate"`
	Outcome     string                  `json:"outcome"`
	Kinds       []response.Kind         `json:"kinds,omitempty"`
	Matched     int                     `json:"matched"`
	Unmatched   int                     `json:"unmatched"`
	Appended    int                     `json:"appended"`
	Results     []Applied               `json:"results,omitempty"`
	Eligibility []*response.Eligibility `json:"eligibility,omitempty"`
}

// FileFailure is a file a batch could not ingest.
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchResult reports one pass over an Inbox.
type BatchResult struct {
	Files    []*IngestResult `json:"files"`
	Failures []FileFailure   `json:"failures,omitempty"`
}

// Ingestor turns received files into claim events.
type Ingestor struct {
	store   Store
	matcher *Matcher
	events  *appender
	logger  zerolog.Logger
	workers int
	now     func() time.Time
}

// IngestorOption customizes an Ingestor.
type IngestorOption func(*Ingestor)

// WithWorkers bounds how many files a batch processes at once.
func WithWorkers(n int) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithIngestClock overrides the time source.
func WithIngestClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

func NewIngestor(store Store, locks lock.Locker, logger zerolog.Logger, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:   store,
		matcher: NewMatcher(store),
		events:  &appender{store: store, locks: locks},
		logger:  logger.With().Str("component", "ingest").Logger(),
		workers: 4,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestFile stores content and processes it unless a file with the same
// content hash was seen before, in which case nothing happens.
func (i *Ingestor) IngestFile(ctx context.Context, source, filename string, content []byte) (*IngestResult, error) {
	f := &RawFile{
		Source:     source,
		Filename:   filename,
		Content:    content,
		Hash:       HashContent(content),
		ReceivedAt: i.now(),
	}
	inserted, err := i.store.InsertFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("store file %s: %w", filename, err)
	}
	if !inserted {
		i.logger.Debug().Str("file_hash", f.Hash).Str("filename", filename).Msg("duplicate file skipped")
		return &IngestResult{
			FileID:    f.ID,
			Filename:  filename,
			Hash:      f.Hash,
			Duplicate: true,
			Outcome:   f.Outcome,
		}, nil
	}
	return i.process(ctx, f)
}

// Reprocess clears a file's processed flag and runs it again. Events
// already appended from it are not duplicated.
func (i *Ingestor) Reprocess(ctx context.Context, fileID uuid.UUID) (*IngestResult, error) {
	f, err := i.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := i.store.ClearProcessed(ctx, fileID); err != nil {
		return nil, err
	}
	f.Processed = false
	return i.process(ctx, f)
}

func (i *Ingestor) process(ctx context.Context, f *RawFile) (*IngestResult, error) {
	log := i.logger.With().
		Str("file_hash", f.Hash).
		Str("filename", f.Filename).
		Str("source", f.Source).
		Logger()
	res := &IngestResult{FileID: f.ID, Filename: f.Filename, Hash: f.Hash}

	doc, err := response.Decode(f.Content)
	if errors.Is(err, response.ErrUnsupportedTransaction) {
		log.Info().Err(err).Msg("file ignored")
		res.Outcome = OutcomeIgnored
		return res, i.store.MarkProcessed(ctx, f.ID, OutcomeIgnored, err.Error(), i.now())
	}
	if err != nil {
		log.Error().Err(err).Msg("structural decode failure")
		res.Outcome = OutcomeError
		if markErr := i.store.MarkProcessed(ctx, f.ID, OutcomeError, err.Error(), i.now()); markErr != nil {
			log.Error().Err(markErr).Msg("mark file failed")
		}
		return res, fmt.Errorf("decode %s: %w", f.Filename, err)
	}

	res.Kinds = doc.Kinds
	res.Eligibility = doc.Eligibility
	for _, r := range Results(doc, f.ReceivedAt) {
		applied, err := i.apply(ctx, f, r, log)
		if err != nil {
			res.Outcome = OutcomeError
			if markErr := i.store.MarkProcessed(ctx, f.ID, OutcomeError, err.Error(), i.now()); markErr != nil {
				log.Error().Err(markErr).Msg("mark file failed")
			}
			return res, err
		}
		res.Results = append(res.Results, *applied)
		if applied.Match.Matched() {
			res.Matched++
		} else {
			res.Unmatched++
		}
		if applied.Appended {
			res.Appended++
		}
	}

	res.Outcome = OutcomeProcessed
	note := fmt.Sprintf("%d matched, %d unmatched, %d new events", res.Matched, res.Unmatched, res.Appended)
	if err := i.store.MarkProcessed(ctx, f.ID, OutcomeProcessed, note, i.now()); err != nil {
		return res, fmt.Errorf("mark %s processed: %w", f.Filename, err)
	}
	log.Info().
		Strs("kinds", kindStrings(doc.Kinds)).
		Int("matched", res.Matched).
		Int("unmatched", res.Unmatched).
		Int("appended", res.Appended).
		Msg("file ingested")
	return res, nil
}

func (i *Ingestor) apply(ctx context.Context, f *RawFile, r *Result, log zerolog.Logger) (*Applied, error) {
	p, err := r.pending()
	if err != nil {
		return nil, err
	}
	m, err := i.matcher.Match(ctx, r)
	if err != nil {
		return nil, err
	}
	applied := &Applied{Kind: r.Kind, EventType: r.Type, Summary: r.Summary, Match: m}

	if !m.Matched() {
		u := &Unmatched{
			FileID:        f.ID,
			Kind:          string(r.Kind),
			Reason:        m.Reason,
			Summary:       r.Summary,
			EventType:     p.Type,
			OccurredAt:    p.OccurredAt,
			Detail:        p.Detail,
			Hash:          p.Hash,
			ControlNumber: r.ControlNumber,
			Identifiers:   p.Identifiers,
			Candidates:    m.Candidates,
		}
		if _, err := i.store.EnqueueUnmatched(ctx, u); err != nil {
			return nil, fmt.Errorf("queue unmatched result: %w", err)
		}
		log.Warn().
			Str("kind", string(r.Kind)).
			Str("reason", m.Reason).
			Str("control_number", r.ControlNumber).
			Msg("result queued for reconciliation")
		return applied, nil
	}

	fileID := f.ID
	applied.Appended, err = i.events.apply(ctx, m.ClaimID, &fileID, p)
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// IngestBatch lists the inbox and ingests every file, several at a time.
// A file that fails is reported and does not stop the others.
func (i *Ingestor) IngestBatch(ctx context.Context, inbox Inbox) (*BatchResult, error) {
	names, err := inbox.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	var (
		mu  sync.Mutex
		out = &BatchResult{}
		g   errgroup.Group
	)
	g.SetLimit(i.workers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			res, err := i.fetchAndIngest(ctx, inbox, name)
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				out.Files = append(out.Files, res)
			}
			if err != nil {
				out.Failures = append(out.Failures, FileFailure{Filename: name, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Files, func(a, b int) bool { return out.Files[a].Filename < out.Files[b].Filename })
	sort.Slice(out.Failures, func(a, b int) bool { return out.Failures[a].Filename < out.Failures[b].Filename })
	i.logger.Info().
		Int("files", len(names)).
		Int("failures", len(out.Failures)).
		Msg("batch ingested")
	return out, ctx.Err()
}

func (i *Ingestor) fetchAndIngest(ctx context.Context, inbox Inbox, name string) (*IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := inbox.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", name, err)
	}
	return i.IngestFile(ctx, SourceInbound, name, content)
}

func kindStrings(kinds []response.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
