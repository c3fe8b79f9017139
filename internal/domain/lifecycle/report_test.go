package lifecycle

import (
	"context"
	"testing"

	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/x12"
)

func TestReports(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paid := env.submit(t, "CLM0001")
	env.submit(t, "CLM0002")

	env.ingestFile(t, "era.835", remit835(500, "CLM0001", "1", "150.00", "ICN777"))
	// Both claims share subscriber, date and charge, so this one is ambiguous.
	env.ingestFile(t, "status.277", status277(501, "CLM9999", "A2:20:PR", "ICN888"))

	r := NewReports(env.store)

	rows, err := r.RemittanceRows(ctx)
	if err != nil {
		t.Fatalf("RemittanceRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 remittance row, got %d: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.ClaimID != paid.ID.String() || row.ClaimControlNumber != "CLM0001" || row.PayerClaimNumber != "ICN777" {
		t.Errorf("unexpected claim columns: %+v", row)
	}
	if row.LineNumber != 1 || row.ProcedureCode != "90837" || row.ChargedCents != 10000 || row.PaidCents != 15000 {
		t.Errorf("unexpected line columns: %+v", row)
	}
	if row.Outcome != string(response.RemitPaid) || row.PaymentDate != "2024-03-25" {
		t.Errorf("unexpected outcome columns: %+v", row)
	}

	queue, err := r.UnmatchedRows(ctx, false)
	if err != nil {
		t.Fatalf("UnmatchedRows: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected 1 unmatched row, got %d", len(queue))
	}
	if queue[0].Reason != ReasonAmbiguous || queue[0].ControlNumber != "CLM9999" || queue[0].ResolvedClaim != "" {
		t.Errorf("unexpected unmatched row: %+v", queue[0])
	}

	counts, err := r.StatusCounts(ctx)
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[string(StatusPaid)] != 1 || counts[string(StatusSubmitted)] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRemitRows_Adjustments(t *testing.T) {
	e := event(t, EventRemittanceDetail, fixedNow, nil)
	d := &RemittanceDetail{
		Outcome: response.RemitPartial,
		Payment: response.ClaimPayment{
			ControlNumber: "CLM0001",
			StatusCode:    "1",
			Charge:        x12.MustAmount("150.00"),
			Paid:          x12.MustAmount("100.00"),
			Adjustments:   []response.Adjustment{{Group: "PR", Reason: "1", Amount: x12.MustAmount("20.00")}},
			Lines: []response.ServicePayment{
				{
					ProcedureCode: "90837",
					Charge:        x12.MustAmount("100.00"),
					Paid:          x12.MustAmount("70.00"),
					Adjustments: []response.Adjustment{
						{Group: "CO", Reason: "45", Amount: x12.MustAmount("20.00")},
						{Group: "PR", Reason: "2", Amount: x12.MustAmount("10.00")},
					},
				},
				{ProcedureCode: "90785", Charge: x12.MustAmount("50.00"), Paid: x12.MustAmount("30.00")},
			},
		},
	}

	rows := remitRows(e, d)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0].LineNumber != 0 || rows[0].AdjustmentGroup != "PR" || rows[0].AdjustmentCents != 2000 {
		t.Errorf("claim-level adjustment row wrong: %+v", rows[0])
	}
	if rows[1].LineNumber != 1 || rows[1].AdjustmentReason != "45" || rows[2].AdjustmentReason != "2" {
		t.Errorf("line adjustment rows wrong: %+v %+v", rows[1], rows[2])
	}
	if rows[3].LineNumber != 2 || rows[3].AdjustmentGroup != "" || rows[3].PaidCents != 3000 {
		t.Errorf("unadjusted line row wrong: %+v", rows[3])
	}
}
