// Package reporting renders claim data for people and tools outside the
// service: remittance lines as Parquet, the reconciliation queue as XLSX
// and status counts as JSON.
package reporting

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/claimsync/internal/platform/auth"
)

// Source supplies report rows.
type Source interface {
	RemittanceRows(ctx context.Context) ([]RemitRow, error)
	UnmatchedRows(ctx context.Context, includeResolved bool) ([]UnmatchedRow, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// Definition describes one available report.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ContentType string `json:"content_type"`
}

const (
	ContentTypeParquet = "application/vnd.apache.parquet"
	ContentTypeXLSX    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Definitions is the list of available reports.
var Definitions = []Definition{
	{
		ID:          "remittance-lines",
		Name:        "Remittance Lines",
		Description: "Every 835 service line and adjustment applied to a claim",
		ContentType: ContentTypeParquet,
	},
	{
		ID:          "unmatched-queue",
		Name:        "Reconciliation Queue",
		Description: "Decoded responses waiting for a person to pick their claim",
		ContentType: ContentTypeXLSX,
	},
	{
		ID:          "claim-status-summary",
		Name:        "Claim Status Summary",
		Description: "Number of claims per derived status",
		ContentType: echo.MIMEApplicationJSON,
	},
}

// FindDefinition looks up a report by ID.
func FindDefinition(id string) *Definition {
	for i := range Definitions {
		if Definitions[i].ID == id {
			return &Definitions[i]
		}
	}
	return nil
}

// StatusSummary is the body of the claim-status-summary report.
type StatusSummary struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Total       int            `json:"total"`
	Counts      map[string]int `json:"counts"`
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	source Source
	now    func() time.Time
}

func NewHandler(source Source) *Handler {
	return &Handler{source: source, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleBilling, auth.RoleViewer))
	g.GET("", h.ListReports)
	g.GET("/:id", h.RunReport)
}

// ListReports returns all available report definitions.
func (h *Handler) ListReports(c echo.Context) error {
	return c.JSON(http.StatusOK, Definitions)
}

// RunReport renders one report. ?resolved=true includes resolved items in
// the reconciliation queue.
func (h *Handler) RunReport(c echo.Context) error {
	def := FindDefinition(c.Param("id"))
	if def == nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	ctx := c.Request().Context()
	stamp := h.now().UTC().Format("20060102T150405")

	switch def.ID {
	case "remittance-lines":
		rows, err := h.source.RemittanceRows(ctx)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := WriteRemittance(&buf, rows); err != nil {
			return err
		}
		return attachment(c, def, "remittance_"+stamp+".parquet", buf.Bytes())

	case "unmatched-queue":
		rows, err := h.source.UnmatchedRows(ctx, c.QueryParam("resolved") == "true")
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := WriteUnmatched(&buf, rows); err != nil {
			return err
		}
		return attachment(c, def, "unmatched_"+stamp+".xlsx", buf.Bytes())

	default:
		counts, err := h.source.StatusCounts(ctx)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return c.JSON(http.StatusOK, StatusSummary{GeneratedAt: h.now().UTC(), Total: total, Counts: counts})
	}
}

func attachment(c echo.Context, def *Definition, filename string, body []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, def.ContentType, body)
}
