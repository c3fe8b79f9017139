package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Matching strategies, in the order they are tried.
const (
	StrategyIdentifier    = "identifier"
	StrategyControlNumber = "control_number"
	StrategyTuple         = "tuple"
)

// chargeTolerance is how far a reported charge may drift from the stored
// total and still match, in cents.
const chargeTolerance = 1

// Match is the outcome of matching one result. Exactly one of ClaimID and
// Reason is set.
type Match struct {
	ClaimID    uuid.UUID   `json:"claim_id,omitempty"`
	Strategy   string      `json:"strategy"`
	Reason     string      `json:"reason,omitempty"`
	Candidates []uuid.UUID `json:"candidates,omitempty"`
}

// Matched reports whether a single claim was found.
func (m *Match) Matched() bool { return m.Reason == "" }

type matchStore interface {
	FindIdentifiers(ctx context.Context, key IdentifierKey) ([]*Identifier, error)
	FindClaimsByControlNumber(ctx context.Context, control string) ([]*Claim, error)
	FindClaimsBySubscriber(ctx context.Context, subscriberID string) ([]*Claim, error)
}

// Matcher ties decoded results to stored claims. The first strategy that
// finds anything decides: one claim is a match, several are ambiguous and
// never guessed between.
type Matcher struct {
	store matchStore
}

func NewMatcher(store matchStore) *Matcher {
	return &Matcher{store: store}
}

// Match tries, in order: stored external identifiers, the CLM01 control
// number, then subscriber + service date + charge.
func (m *Matcher) Match(ctx context.Context, r *Result) (*Match, error) {
	if len(r.Identifiers) > 0 {
		ids, err := m.byIdentifiers(ctx, r.Identifiers)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return decide(StrategyIdentifier, ids), nil
		}
	}

	if r.ControlNumber != "" {
		claims, err := m.store.FindClaimsByControlNumber(ctx, r.ControlNumber)
		if err != nil {
			return nil, fmt.Errorf("match by control number: %w", err)
		}
		if len(claims) > 0 {
			return decide(StrategyControlNumber, claimIDs(claims)), nil
		}
	}

	if r.SubscriberID != "" && r.ServiceDate != nil && r.Charge != nil {
		claims, err := m.store.FindClaimsBySubscriber(ctx, r.SubscriberID)
		if err != nil {
			return nil, fmt.Errorf("match by subscriber: %w", err)
		}
		var hits []*Claim
		for _, c := range claims {
			diff := c.TotalCharge - *r.Charge
			if c.Covers(*r.ServiceDate) && diff.Abs() <= chargeTolerance {
				hits = append(hits, c)
			}
		}
		if len(hits) > 0 {
			return decide(StrategyTuple, claimIDs(hits)), nil
		}
	}

	return &Match{Reason: ReasonNoMatch}, nil
}

func (m *Matcher) byIdentifiers(ctx context.Context, keys []IdentifierKey) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, k := range keys {
		found, err := m.store.FindIdentifiers(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("match by identifier %s/%s: %w", k.System, k.Type, err)
		}
		for _, f := range found {
			if !seen[f.ClaimID] {
				seen[f.ClaimID] = true
				ids = append(ids, f.ClaimID)
			}
		}
	}
	return ids, nil
}

func decide(strategy string, ids []uuid.UUID) *Match {
	if len(ids) == 1 {
		return &Match{ClaimID: ids[0], Strategy: strategy}
	}
	return &Match{Strategy: strategy, Reason: ReasonAmbiguous, Candidates: ids}
}

func claimIDs(claims []*Claim) []uuid.UUID {
	ids := make([]uuid.UUID, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return ids
}
