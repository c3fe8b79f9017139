package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/claimsync/internal/platform/lock"
)

// appender writes events and identifiers for one claim at a time. Every
// write to a claim's history goes through withClaim so that two files
// naming the same claim never interleave.
type appender struct {
	store Store
	locks lock.Locker
}

func (a *appender) withClaim(ctx context.Context, claimID uuid.UUID, fn func(ctx context.Context) error) error {
	return a.withClaimLock(ctx, claimID, func(ctx context.Context) error {
		return a.store.InTx(ctx, fn)
	})
}

// withClaimLock holds the claim lock without opening a transaction.
func (a *appender) withClaimLock(ctx context.Context, claimID uuid.UUID, fn func(ctx context.Context) error) error {
	unlock, err := a.locks.Lock(ctx, "claim:"+claimID.String())
	if err != nil {
		return fmt.Errorf("lock claim %s: %w", claimID, err)
	}
	defer unlock()
	return fn(ctx)
}

// apply locks the claim and appends p.
func (a *appender) apply(ctx context.Context, claimID uuid.UUID, fileID *uuid.UUID, p *pending) (bool, error) {
	var appended bool
	err := a.withClaim(ctx, claimID, func(ctx context.Context) error {
		var err error
		appended, err = a.appendTx(ctx, claimID, fileID, p)
		return err
	})
	return appended, err
}

// appendTx must run inside withClaim. The event and any identifiers it
// carries are both insert-if-absent.
func (a *appender) appendTx(ctx context.Context, claimID uuid.UUID, fileID *uuid.UUID, p *pending) (bool, error) {
	e := &Event{
		ClaimID:      claimID,
		Type:         p.Type,
		OccurredAt:   p.OccurredAt,
		SourceFileID: fileID,
		Detail:       p.Detail,
		Hash:         p.Hash,
	}
	appended, err := a.store.AppendEvent(ctx, e)
	if err != nil {
		return false, fmt.Errorf("append %s event: %w", p.Type, err)
	}
	for _, k := range p.Identifiers {
		id := &Identifier{ClaimID: claimID, System: k.System, Type: k.Type, Value: k.Value}
		if _, err := a.store.AddIdentifier(ctx, id); err != nil {
			return false, fmt.Errorf("add identifier %s/%s: %w", k.System, k.Type, err)
		}
	}
	return appended, nil
}
