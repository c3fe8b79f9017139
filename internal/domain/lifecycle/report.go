package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/claimsync/internal/platform/reporting"
)

const reportPageSize = 500

// Reports feeds the reporting package from the store.
type Reports struct {
	store Store
}

func NewReports(store Store) *Reports {
	return &Reports{store: store}
}

var _ reporting.Source = (*Reports)(nil)

// RemittanceRows flattens every remittance_detail event.
func (r *Reports) RemittanceRows(ctx context.Context) ([]reporting.RemitRow, error) {
	events, err := r.store.ListEventsByType(ctx, EventRemittanceDetail)
	if err != nil {
		return nil, err
	}
	var rows []reporting.RemitRow
	for _, e := range events {
		var d RemittanceDetail
		if err := e.DecodeDetail(&d); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		rows = append(rows, remitRows(e, &d)...)
	}
	return rows, nil
}

func remitRows(e *Event, d *RemittanceDetail) []reporting.RemitRow {
	p := &d.Payment
	base := reporting.RemitRow{
		ClaimID:            e.ClaimID.String(),
		ClaimControlNumber: p.ControlNumber,
		PayerClaimNumber:   p.PayerClaimNumber,
		TransactionControl: d.TransactionControl,
		TraceNumber:        d.TraceNumber,
		PayerName:          d.PayerName,
		PaymentDate:        isoDate(d.PaymentDate),
		ClaimStatusCode:    p.StatusCode,
		Outcome:            string(d.Outcome),
	}
	var rows []reporting.RemitRow
	for _, a := range p.Adjustments {
		row := base
		row.AdjustmentGroup = a.Group
		row.AdjustmentReason = a.Reason
		row.AdjustmentCents = int64(a.Amount)
		rows = append(rows, row)
	}
	for i, l := range p.Lines {
		line := base
		line.LineNumber = int32(i + 1)
		line.ProcedureCode = l.ProcedureCode
		line.Modifiers = l.Modifiers
		line.ServiceDate = isoDate(l.ServiceDate)
		line.ChargedCents = int64(l.Charge)
		line.PaidCents = int64(l.Paid)
		if len(l.Adjustments) == 0 {
			rows = append(rows, line)
			continue
		}
		for _, a := range l.Adjustments {
			row := line
			row.AdjustmentGroup = a.Group
			row.AdjustmentReason = a.Reason
			row.AdjustmentCents = int64(a.Amount)
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		base.ChargedCents = int64(p.Charge)
		base.PaidCents = int64(p.Paid)
		rows = append(rows, base)
	}
	return rows
}

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// UnmatchedRows lists the reconciliation queue, oldest first.
func (r *Reports) UnmatchedRows(ctx context.Context, includeResolved bool) ([]reporting.UnmatchedRow, error) {
	var rows []reporting.UnmatchedRow
	for offset := 0; ; offset += reportPageSize {
		items, total, err := r.store.ListUnmatched(ctx, includeResolved, reportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, u := range items {
			rows = append(rows, unmatchedRow(u))
		}
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}
	return rows, nil
}

func unmatchedRow(u *Unmatched) reporting.UnmatchedRow {
	ids := make([]string, 0, len(u.Identifiers))
	for _, k := range u.Identifiers {
		ids = append(ids, k.System+"/"+k.Type+"="+k.Value)
	}
	candidates := make([]string, 0, len(u.Candidates))
	for _, c := range u.Candidates {
		candidates = append(candidates, c.String())
	}
	row := reporting.UnmatchedRow{
		ID:            u.ID.String(),
		Kind:          u.Kind,
		Reason:        u.Reason,
		EventType:     string(u.EventType),
		ControlNumber: u.ControlNumber,
		Identifiers:   strings.Join(ids, ", "),
		Candidates:    strings.Join(candidates, ", "),
		Summary:       u.Summary,
		FileID:        u.FileID.String(),
		OccurredAt:    u.OccurredAt,
		CreatedAt:     u.CreatedAt,
		ResolvedAt:    u.ResolvedAt,
	}
	if u.ResolvedClaimID != nil {
		row.ResolvedClaim = u.ResolvedClaimID.String()
	}
	return row
}

// StatusCounts derives every claim's status and counts them.
func (r *Reports) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for offset := 0; ; offset += reportPageSize {
		claims, total, err := r.store.ListClaims(ctx, reportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, c := range claims {
			events, err := r.store.ListEvents(ctx, c.ID)
			if err != nil {
				return nil, fmt.Errorf("load events for %s: %w", c.ID, err)
			}
			counts[string(Derive(events))]++
		}
		if len(claims) == 0 || offset+len(claims) >= total {
			break
		}
	}
	return counts, nil
}
