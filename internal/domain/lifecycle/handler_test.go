package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/claimsync/internal/platform/auth"
)

func newTestServer(t *testing.T, env *testEnv, roles ...string) *echo.Echo {
	t.Helper()
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "tester", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	inbox := &fakeInbox{files: map[string][]byte{}}
	NewHandler(env.svc, env.ingest, inbox).RegisterRoutes(api)
	return e
}

func doRequest(e *echo.Echo, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil && json.Valid(body) {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandler_CreateAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleBilling)

	rec := doRequest(e, http.MethodPost, "/api/v1/claims", mustJSON(t, testRecord("CLM0001")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if created.Status != StatusDraft || created.ControlNumber != "CLM0001" {
		t.Errorf("unexpected claim %+v", created)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/claims", mustJSON(t, testRecord("CLM0001")))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a duplicate control number, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/claims/"+created.ID.String()+"/submit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/claims/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view struct {
		Status      Status        `json:"status"`
		Identifiers []*Identifier `json:"identifiers"`
		Submissions []*Submission `json:"submissions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Status != StatusSubmitted || len(view.Submissions) != 1 || len(view.Identifiers) != 3 {
		t.Errorf("unexpected view %+v", view)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/claims/"+created.ID.String()+"/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on resubmit, got %d", rec.Code)
	}
}

func TestHandler_SubmitInvalidClaim(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleBilling)
	rec := testRecord("CLM0001")
	rec.Lines = nil
	c, _, err := env.svc.CreateClaim(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateClaim: %v", err)
	}

	resp := doRequest(e, http.MethodPost, "/api/v1/claims/"+c.ID.String()+"/submit", nil)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	var body struct {
		Errors []map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Errors) == 0 {
		t.Error("expected the validation problems in the body")
	}

	resp = doRequest(e, http.MethodPost, "/api/v1/claims/"+c.ID.String()+"/validate", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var v validationResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode validation: %v", err)
	}
	if v.Valid {
		t.Error("expected valid=false")
	}
}

func TestHandler_TransferFailure(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleAdmin)
	c := env.create(t, "CLM0001")
	env.outbox.err = http.ErrHandlerTimeout

	rec := doRequest(e, http.MethodPost, "/api/v1/claims/"+c.ID.String()+"/submit", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleViewer)

	if rec := doRequest(e, http.MethodGet, "/api/v1/claims/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodGet, "/api/v1/claims/00000000-0000-0000-0000-000000000001", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ViewerCannotWrite(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleViewer)

	if rec := doRequest(e, http.MethodPost, "/api/v1/claims", mustJSON(t, testRecord("CLM0001"))); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodGet, "/api/v1/claims", nil); rec.Code != http.StatusOK {
		t.Errorf("expected viewer to list claims, got %d", rec.Code)
	}
}

func TestHandler_IngestAndReconcile(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleBilling)
	env.submit(t, "CLM0001")
	b := env.submit(t, "CLM0002")

	raw := remit835(800, "UNKNOWN", "1", "150.00", "ICN")
	rec := doRequest(e, http.MethodPost, "/api/v1/ingest?filename=era.835", raw)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Filename != "era.835" || res.Unmatched != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/ingest?filename=era-again.835", raw)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a duplicate upload, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/reconciliation", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []*Unmatched `json:"data"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 queued item, got %d", page.Total)
	}

	path := "/api/v1/reconciliation/" + page.Data[0].ID.String() + "/resolve"
	rec = doRequest(e, http.MethodPost, path, mustJSON(t, resolveRequest{ClaimID: b.ID}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(e, http.MethodPost, path, mustJSON(t, resolveRequest{ClaimID: b.ID}))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on a second resolve, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/claims/"+b.ID.String()+"/events", nil)
	var history struct {
		Status Status   `json:"status"`
		Events []*Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if history.Status != StatusPaid || len(history.Events) != 2 {
		t.Errorf("unexpected history %s with %d events", history.Status, len(history.Events))
	}
}

func TestHandler_IngestMalformed(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleBilling)

	if rec := doRequest(e, http.MethodPost, "/api/v1/ingest", []byte("ISA*garbage~")); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodPost, "/api/v1/ingest", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty body, got %d", rec.Code)
	}
}

func TestHandler_Decode(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleViewer)

	rec := doRequest(e, http.MethodPost, "/api/v1/x12/decode", status277(801, "CLM0001", "A2:20:PR", "ICN"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc struct {
		ClaimStatuses []struct {
			ClaimControlNumber string `json:"claim_control_number"`
			Status             string `json:"status"`
		} `json:"claim_statuses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode doc: %v", err)
	}
	if len(doc.ClaimStatuses) != 1 || doc.ClaimStatuses[0].Status != "acknowledged" {
		t.Errorf("unexpected document %+v", doc)
	}

	if rec := doRequest(e, http.MethodPost, "/api/v1/x12/decode", []byte("nonsense")); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_PollInbox(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env, auth.RoleBilling)
	rec := doRequest(e, http.MethodPost, "/api/v1/ingest/poll", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
