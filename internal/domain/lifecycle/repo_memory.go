package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type eventKey struct {
	claimID uuid.UUID
	typ     EventType
	hash    string
}

type unmatchedKey struct {
	fileID uuid.UUID
	hash   string
}

// MemoryStore keeps everything in process. InTx does not roll back; it is
// meant for tests and throwaway runs.
type MemoryStore struct {
	mu          sync.RWMutex
	claims      map[uuid.UUID]*Claim
	claimOrder  []uuid.UUID
	files       map[uuid.UUID]*RawFile
	fileOrder   []uuid.UUID
	fileHashes  map[string]uuid.UUID
	events      map[uuid.UUID][]*Event
	eventKeys   map[eventKey]bool
	identifiers []*Identifier
	submissions []*Submission
	unmatched   []*Unmatched
	unmatchedBy map[unmatchedKey]bool
	seq         time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:      make(map[uuid.UUID]*Claim),
		files:       make(map[uuid.UUID]*RawFile),
		fileHashes:  make(map[string]uuid.UUID),
		events:      make(map[uuid.UUID][]*Event),
		eventKeys:   make(map[eventKey]bool),
		unmatchedBy: make(map[unmatchedKey]bool),
	}
}

// stamp returns a strictly increasing time so that rows created in the
// same instant keep their insertion order.
func (m *MemoryStore) stamp() time.Time {
	m.seq++
	return time.Now().UTC().Add(m.seq * time.Nanosecond)
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// -- Claims --

func (m *MemoryStore) CreateClaim(ctx context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.claims {
		if other.ControlNumber == c.ControlNumber {
			return ErrDuplicateClaim
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = m.stamp()
	cp := *c
	m.claims[c.ID] = &cp
	m.claimOrder = append(m.claimOrder, c.ID)
	return nil
}

func (m *MemoryStore) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListClaims(ctx context.Context, limit, offset int) ([]*Claim, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Claim
	for i := len(m.claimOrder) - 1; i >= 0; i-- {
		cp := *m.claims[m.claimOrder[i]]
		out = append(out, &cp)
	}
	return page(out, limit, offset), len(out), nil
}

func (m *MemoryStore) FindClaimsByControlNumber(ctx context.Context, control string) ([]*Claim, error) {
	return m.findClaims(func(c *Claim) bool { return c.ControlNumber == control }), nil
}

func (m *MemoryStore) FindClaimsBySubscriber(ctx context.Context, subscriberID string) ([]*Claim, error) {
	return m.findClaims(func(c *Claim) bool { return c.SubscriberID == subscriberID }), nil
}

func (m *MemoryStore) findClaims(keep func(*Claim) bool) []*Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Claim
	for _, id := range m.claimOrder {
		if c := m.claims[id]; keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// -- Files --

func (m *MemoryStore) InsertFile(ctx context.Context, f *RawFile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.fileHashes[f.Hash]; ok {
		*f = *m.files[id]
		return false, nil
	}
	f.ID = uuid.New()
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = m.stamp()
	}
	cp := *f
	m.files[f.ID] = &cp
	m.fileHashes[f.Hash] = f.ID
	m.fileOrder = append(m.fileOrder, f.ID)
	return true, nil
}

func (m *MemoryStore) GetFile(ctx context.Context, id uuid.UUID) (*RawFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) ListFiles(ctx context.Context, limit, offset int) ([]*RawFile, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RawFile
	for i := len(m.fileOrder) - 1; i >= 0; i-- {
		cp := *m.files[m.fileOrder[i]]
		out = append(out, &cp)
	}
	return page(out, limit, offset), len(out), nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, id uuid.UUID, outcome, note string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Processed = true
	f.ProcessedAt = &at
	f.Outcome = outcome
	f.Note = note
	return nil
}

func (m *MemoryStore) ClearProcessed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Processed = false
	f.ProcessedAt = nil
	f.Outcome = ""
	f.Note = ""
	return nil
}

// -- Events --

func (m *MemoryStore) AppendEvent(ctx context.Context, e *Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[e.ClaimID]; !ok {
		return false, ErrNotFound
	}
	k := eventKey{e.ClaimID, e.Type, e.Hash}
	if m.eventKeys[k] {
		return false, nil
	}
	e.ID = uuid.New()
	e.RecordedAt = m.stamp()
	cp := *e
	m.eventKeys[k] = true
	m.events[e.ClaimID] = append(m.events[e.ClaimID], &cp)
	return true, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, claimID uuid.UUID) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Event, 0, len(m.events[claimID]))
	for _, e := range m.events[claimID] {
		cp := *e
		out = append(out, &cp)
	}
	sortEvents(out)
	return out, nil
}

func (m *MemoryStore) ListEventsByType(ctx context.Context, t EventType) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, evs := range m.events {
		for _, e := range evs {
			if e.Type == t {
				cp := *e
				out = append(out, &cp)
			}
		}
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(evs []*Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		if !evs[i].OccurredAt.Equal(evs[j].OccurredAt) {
			return evs[i].OccurredAt.Before(evs[j].OccurredAt)
		}
		return evs[i].RecordedAt.Before(evs[j].RecordedAt)
	})
}

// -- Identifiers --

func (m *MemoryStore) AddIdentifier(ctx context.Context, id *Identifier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.identifiers {
		if existing.ClaimID == id.ClaimID && existing.Key() == id.Key() {
			return false, nil
		}
	}
	id.ID = uuid.New()
	id.CreatedAt = m.stamp()
	cp := *id
	m.identifiers = append(m.identifiers, &cp)
	return true, nil
}

func (m *MemoryStore) FindIdentifiers(ctx context.Context, key IdentifierKey) ([]*Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Identifier
	for _, id := range m.identifiers {
		if id.Key() == key {
			cp := *id
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListIdentifiers(ctx context.Context, claimID uuid.UUID) ([]*Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Identifier
	for _, id := range m.identifiers {
		if id.ClaimID == claimID {
			cp := *id
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Submissions --

func (m *MemoryStore) CreateSubmission(ctx context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.submissions {
		if existing.InterchangeControl == s.InterchangeControl {
			return ErrControlNumberConflict
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = m.stamp()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.submissions = append(m.submissions, &cp)
	return nil
}

func (m *MemoryStore) UpdateSubmission(ctx context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.submissions {
		if existing.ID == s.ID {
			s.UpdatedAt = m.stamp()
			cp := *s
			m.submissions[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, claimID uuid.UUID) ([]*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Submission
	for _, s := range m.submissions {
		if s.ClaimID == claimID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Reconciliation --

func (m *MemoryStore) EnqueueUnmatched(ctx context.Context, u *Unmatched) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := unmatchedKey{u.FileID, u.Hash}
	if m.unmatchedBy[k] {
		return false, nil
	}
	u.ID = uuid.New()
	u.CreatedAt = m.stamp()
	cp := *u
	m.unmatchedBy[k] = true
	m.unmatched = append(m.unmatched, &cp)
	return true, nil
}

func (m *MemoryStore) GetUnmatched(ctx context.Context, id uuid.UUID) (*Unmatched, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.unmatched {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListUnmatched(ctx context.Context, includeResolved bool, limit, offset int) ([]*Unmatched, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Unmatched
	for _, u := range m.unmatched {
		if includeResolved || !u.Resolved() {
			cp := *u
			out = append(out, &cp)
		}
	}
	return page(out, limit, offset), len(out), nil
}

func (m *MemoryStore) ResolveUnmatched(ctx context.Context, id, claimID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.unmatched {
		if u.ID == id {
			if u.Resolved() {
				return ErrAlreadyResolved
			}
			u.ResolvedClaimID = &claimID
			u.ResolvedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
