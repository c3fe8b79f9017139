package lifecycle

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/auth"
	"github.com/ehr/claimsync/internal/platform/x12"
	"github.com/ehr/claimsync/pkg/pagination"
)

type Handler struct {
	svc    *Service
	ingest *Ingestor
	inbox  Inbox
}

// NewHandler wires the claim API. inbox may be nil, in which case
// POST /ingest/poll answers 503.
func NewHandler(svc *Service, ingest *Ingestor, inbox Inbox) *Handler {
	return &Handler{svc: svc, ingest: ingest, inbox: inbox}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing, viewer
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleViewer))
	readGroup.GET("/claims", h.ListClaims)
	readGroup.GET("/claims/:id", h.GetClaim)
	readGroup.GET("/claims/:id/events", h.GetClaimEvents)
	readGroup.POST("/claims/:id/validate", h.ValidateClaim)
	readGroup.GET("/reconciliation", h.ListReconciliation)
	readGroup.POST("/x12/decode", h.DecodeX12)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	writeGroup.POST("/claims", h.CreateClaim)
	writeGroup.POST("/claims/:id/submit", h.SubmitClaim)
	writeGroup.POST("/claims/:id/void", h.VoidClaim)
	writeGroup.POST("/claims/:id/correct", h.CorrectClaim)
	writeGroup.POST("/ingest", h.Ingest)
	writeGroup.POST("/ingest/poll", h.PollInbox)
	writeGroup.POST("/reconciliation/:id/resolve", h.ResolveReconciliation)
}

// ClaimView is a claim with its identifiers and transfer attempts.
type ClaimView struct {
	*Claim
	Identifiers []*Identifier `json:"identifiers"`
	Submissions []*Submission `json:"submissions"`
}

type createClaimResponse struct {
	*Claim
	Validation []claim.ValidationError `json:"validation,omitempty"`
}

type validationResponse struct {
	Valid  bool                    `json:"valid"`
	Errors []claim.ValidationError `json:"errors"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	ClaimID uuid.UUID `json:"claim_id"`
}

// -- Claim Handlers --

func (h *Handler) CreateClaim(c echo.Context) error {
	var rec claim.Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, problems, err := h.svc.CreateClaim(c.Request().Context(), rec)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, createClaimResponse{Claim: cl, Validation: problems})
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cl, err := h.svc.GetClaim(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	ids, err := h.svc.Identifiers(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	subs, err := h.svc.Submissions(ctx, id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, ClaimView{Claim: cl, Identifiers: ids, Submissions: subs})
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClaims(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) GetClaimEvents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	events, err := h.svc.Events(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": Derive(events),
		"events": events,
	})
}

func (h *Handler) ValidateClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	problems, err := h.svc.Validate(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	resp := validationResponse{Valid: true, Errors: problems}
	if resp.Errors == nil {
		resp.Errors = []claim.ValidationError{}
	}
	for _, p := range problems {
		if p.Severity == claim.SeverityError {
			resp.Valid = false
			break
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.Submit(c.Request().Context(), id)
	if err != nil {
		return submissionError(c, sub, err)
	}
	return c.JSON(http.StatusAccepted, sub)
}

func (h *Handler) VoidClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	sub, err := h.svc.Void(c.Request().Context(), id, req.Reason)
	if err != nil {
		return submissionError(c, sub, err)
	}
	return c.JSON(http.StatusAccepted, sub)
}

func (h *Handler) CorrectClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var rec claim.Record
	if err := c.Bind(&rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	replacement, err := h.svc.Correct(c.Request().Context(), id, rec)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, replacement)
}

// -- Ingestion Handlers --

func (h *Handler) Ingest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty body")
	}
	filename := c.QueryParam("filename")
	if filename == "" {
		filename = "upload.x12"
	}
	res, err := h.ingest.IngestFile(c.Request().Context(), SourceUpload, filename, body)
	if err != nil {
		var syn *x12.SyntaxError
		if errors.As(err, &syn) && res != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  err.Error(),
				"result": res,
			})
		}
		return httpError(c, err)
	}
	code := http.StatusCreated
	if res.Duplicate {
		code = http.StatusOK
	}
	return c.JSON(code, res)
}

func (h *Handler) PollInbox(c echo.Context) error {
	if h.inbox == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no inbound channel configured")
	}
	res, err := h.ingest.IngestBatch(c.Request().Context(), h.inbox)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DecodeX12(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := response.Decode(body)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// -- Reconciliation Handlers --

func (h *Handler) ListReconciliation(c echo.Context) error {
	pg := pagination.FromContext(c)
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	items, total, err := h.svc.ListUnmatched(c.Request().Context(), all, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ResolveReconciliation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ClaimID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "claim_id is required")
	}
	cl, err := h.svc.Resolve(c.Request().Context(), id, req.ClaimID)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, cl)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// submissionError answers 502 with the failed attempt when the clearinghouse
// could not be reached.
func submissionError(c echo.Context, sub *Submission, err error) error {
	if errors.Is(err, ErrTransferFailed) {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":      err.Error(),
			"submission": sub,
		})
	}
	return httpError(c, err)
}

func httpError(c echo.Context, err error) error {
	var vf *claim.ValidationFailure
	if errors.As(err, &vf) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "claim validation failed",
			"errors": vf.Errors,
		})
	}
	var syn *x12.SyntaxError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrNotSubmitted),
		errors.Is(err, ErrAlreadyVoided),
		errors.Is(err, ErrDuplicateClaim),
		errors.Is(err, ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTransferFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.As(err, &syn):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, response.ErrUnsupportedTransaction):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
