package reporting

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// RemitRow is one remittance line flattened for analytics. A claim payment
// yields one row per adjustment; lines without adjustments still yield one
// row. Claim-level adjustments carry LineNumber 0.
type RemitRow struct {
	ClaimID            string   `parquet:"claim_id"`
	ClaimControlNumber string   `parquet:"claim_control_number"`
	PayerClaimNumber   string   `parquet:"payer_claim_number"`
	TransactionControl string   `parquet:"transaction_control"`
	TraceNumber        string   `parquet:"trace_number"`
	PayerName          string   `parquet:"payer_name"`
	PaymentDate        string   `parquet:"payment_date"`
	ClaimStatusCode    string   `parquet:"claim_status_code"`
	Outcome            string   `parquet:"outcome"`
	LineNumber         int32    `parquet:"line_number"`
	ProcedureCode      string   `parquet:"procedure_code"`
	Modifiers          []string `parquet:"modifiers,list"`
	ServiceDate        string   `parquet:"service_date"`
	ChargedCents       int64    `parquet:"charged_cents"`
	PaidCents          int64    `parquet:"paid_cents"`
	AdjustmentGroup    string   `parquet:"adjustment_group"`
	AdjustmentReason   string   `parquet:"adjustment_reason"`
	AdjustmentCents    int64    `parquet:"adjustment_cents"`
}

const parquetFlushInterval = 10_000

// RemitWriter streams RemitRows as Snappy-compressed Parquet.
type RemitWriter struct {
	writer *parquet.GenericWriter[RemitRow]
	count  int
}

func NewRemitWriter(w io.Writer) *RemitWriter {
	return &RemitWriter{
		writer: parquet.NewGenericWriter[RemitRow](w, parquet.Compression(&parquet.Snappy)),
	}
}

func (rw *RemitWriter) Write(rows ...RemitRow) error {
	for _, row := range rows {
		if _, err := rw.writer.Write([]RemitRow{row}); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
		rw.count++
		if rw.count%parquetFlushInterval == 0 {
			if err := rw.writer.Flush(); err != nil {
				return fmt.Errorf("flush parquet row group: %w", err)
			}
		}
	}
	return nil
}

// Close writes the footer. The underlying writer is left open.
func (rw *RemitWriter) Close() error {
	if err := rw.writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func (rw *RemitWriter) Count() int { return rw.count }

// WriteRemittance writes rows as one Parquet file to w.
func WriteRemittance(w io.Writer, rows []RemitRow) error {
	rw := NewRemitWriter(w)
	if err := rw.Write(rows...); err != nil {
		return err
	}
	return rw.Close()
}
