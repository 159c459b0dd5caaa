package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/civicwatch/fundwatch/internal/app"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		TokenSecret: []byte("test-secret"),
		TokenTTL:    time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	h, err := NewHandler(application, Config{AllowedOrigins: []string{"*"}}, nil)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return h
}

type envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *pagination     `json:"pagination"`
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func registerUser(t *testing.T, h http.Handler, name, email, role, department string) (string, string) {
	t.Helper()
	payload := map[string]string{
		"name": name, "email": email, "password": "secret1",
	}
	if role != "" {
		payload["role"] = role
	}
	if department != "" {
		payload["department"] = department
	}
	status, env := doJSON(t, h, http.MethodPost, "/api/auth/register", "", payload)
	if status != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d (%s)", email, status, env.Message)
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	return out.User.ID, out.Token
}

func createTransaction(t *testing.T, h http.Handler, token string) string {
	t.Helper()
	status, env := doJSON(t, h, http.MethodPost, "/api/transactions", token, map[string]interface{}{
		"title":           "District hospital upgrade",
		"description":     "New wing and equipment for the district hospital",
		"amount":          750000,
		"from_department": "Treasury",
		"to_department":   "Health",
		"category":        "Healthcare",
	})
	if status != http.StatusCreated {
		t.Fatalf("create transaction: expected 201, got %d (%s)", status, env.Message)
	}
	var tx struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	return tx.ID
}

func TestAuthFlow(t *testing.T) {
	h := newTestHandler(t)

	_, token := registerUser(t, h, "Asha", "asha@example.com", "", "")

	status, env := doJSON(t, h, http.MethodGet, "/api/auth/me", token, nil)
	if status != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", status)
	}
	var me struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "asha@example.com" || me.Role != "citizen" {
		t.Fatalf("unexpected profile: %+v", me)
	}

	status, _ = doJSON(t, h, http.MethodGet, "/api/auth/me", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", status)
	}

	status, env = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "asha@example.com", "password": "wrong",
	})
	if status != http.StatusUnauthorized || env.Success {
		t.Fatalf("bad login: expected 401 failure, got %d %+v", status, env)
	}

	status, _ = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "asha@example.com", "password": "secret1",
	})
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", status)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	h := newTestHandler(t)

	_, officialToken := registerUser(t, h, "Official", "o@gov.example", "govt_official", "Treasury")
	_, citizenToken := registerUser(t, h, "Citizen", "c@example.com", "", "")
	_, adminToken := registerUser(t, h, "Admin", "a@example.com", "admin", "")

	// Citizens cannot publish.
	status, _ := doJSON(t, h, http.MethodPost, "/api/transactions", citizenToken, map[string]interface{}{
		"title": "x", "description": "y", "amount": 1,
		"from_department": "A", "to_department": "B", "category": "Education",
	})
	if status != http.StatusForbidden {
		t.Fatalf("citizen create: expected 403, got %d", status)
	}

	txID := createTransaction(t, h, officialToken)

	status, env := doJSON(t, h, http.MethodGet, "/api/transactions/"+txID, "", nil)
	if status != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", status)
	}
	var tx struct {
		Status    string `json:"status"`
		Reference string `json:"transaction_id"`
	}
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Status != "pending" || tx.Reference == "" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	status, env = doJSON(t, h, http.MethodGet, "/api/transactions?category=Healthcare", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 || env.Pagination.HasNext {
		t.Fatalf("unexpected pagination: %+v", env.Pagination)
	}

	// Admin moderation.
	status, _ = doJSON(t, h, http.MethodPatch, "/api/transactions/"+txID+"/status", citizenToken, map[string]string{"status": "rejected"})
	if status != http.StatusForbidden {
		t.Fatalf("citizen moderation: expected 403, got %d", status)
	}
	status, env = doJSON(t, h, http.MethodPatch, "/api/transactions/"+txID+"/status", adminToken, map[string]string{"status": "rejected"})
	if status != http.StatusOK {
		t.Fatalf("admin moderation: expected 200, got %d (%s)", status, env.Message)
	}

	status, env = doJSON(t, h, http.MethodGet, "/api/transactions/analytics/summary", "", nil)
	if status != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", status)
	}
	var analytics struct {
		TotalTransactions int     `json:"total_transactions"`
		TotalAmount       float64 `json:"total_amount"`
	}
	if err := json.Unmarshal(env.Data, &analytics); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if analytics.TotalTransactions != 1 || analytics.TotalAmount != 750000 {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}
}

func TestReportFlow(t *testing.T) {
	h := newTestHandler(t)

	_, officialToken := registerUser(t, h, "Official", "o@gov.example", "govt_official", "Treasury")
	txID := createTransaction(t, h, officialToken)

	var tokens []string
	for i := 0; i < 5; i++ {
		_, token := registerUser(t, h, fmt.Sprintf("Citizen %d", i), fmt.Sprintf("c%d@example.com", i), "", "")
		tokens = append(tokens, token)
	}

	for i, token := range tokens {
		status, env := doJSON(t, h, http.MethodPost, "/api/reports", token, map[string]string{
			"transaction_id": txID, "type": "flag", "reason": "inflated cost",
		})
		if status != http.StatusCreated {
			t.Fatalf("flag %d: expected 201, got %d (%s)", i+1, status, env.Message)
		}
		var out struct {
			Transaction struct {
				Flags  int    `json:"flags"`
				Status string `json:"status"`
			} `json:"transaction"`
		}
		if err := json.Unmarshal(env.Data, &out); err != nil {
			t.Fatalf("decode report response: %v", err)
		}
		if out.Transaction.Flags != i+1 {
			t.Fatalf("flag %d: expected %d flags, got %d", i+1, i+1, out.Transaction.Flags)
		}
		if i == len(tokens)-1 && out.Transaction.Status != "flagged" {
			t.Fatalf("expected flagged at threshold, got %s", out.Transaction.Status)
		}
	}

	// Duplicate report by the same citizen.
	status, env := doJSON(t, h, http.MethodPost, "/api/reports", tokens[0], map[string]string{
		"transaction_id": txID, "type": "approve",
	})
	if status != http.StatusBadRequest || env.Success {
		t.Fatalf("duplicate report: expected 400 failure, got %d %+v", status, env)
	}

	status, _ = doJSON(t, h, http.MethodPost, "/api/reports", "", map[string]string{
		"transaction_id": txID, "type": "approve",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("anonymous report: expected 401, got %d", status)
	}

	status, env = doJSON(t, h, http.MethodGet, "/api/reports/transaction/"+txID, "", nil)
	if status != http.StatusOK {
		t.Fatalf("list reports: expected 200, got %d", status)
	}
	var listed []json.RawMessage
	if err := json.Unmarshal(env.Data, &listed); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(listed) != 5 {
		t.Fatalf("expected 5 reports, got %d", len(listed))
	}
}

func TestCommentFlow(t *testing.T) {
	h := newTestHandler(t)

	_, officialToken := registerUser(t, h, "Official", "o@gov.example", "govt_official", "Treasury")
	_, citizenToken := registerUser(t, h, "Citizen", "c@example.com", "", "")
	_, adminToken := registerUser(t, h, "Admin", "a@example.com", "admin", "")
	txID := createTransaction(t, h, officialToken)

	status, env := doJSON(t, h, http.MethodPost, "/api/transactions/"+txID+"/comments", citizenToken, map[string]string{
		"text": "This allocation looks reasonable to me",
	})
	if status != http.StatusCreated {
		t.Fatalf("post comment: expected 201, got %d (%s)", status, env.Message)
	}
	var posted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &posted); err != nil {
		t.Fatalf("decode comment: %v", err)
	}

	status, _ = doJSON(t, h, http.MethodPost, "/api/transactions/"+txID+"/comments", citizenToken, map[string]string{
		"text": "short",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("short comment: expected 400, got %d", status)
	}

	// Audit lookup is admin-gated.
	status, _ = doJSON(t, h, http.MethodGet, "/api/transactions/"+txID+"/comments/"+posted.ID, citizenToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("citizen audit lookup: expected 403, got %d", status)
	}
	status, _ = doJSON(t, h, http.MethodGet, "/api/transactions/"+txID+"/comments/"+posted.ID, adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("admin audit lookup: expected 200, got %d", status)
	}

	// Another citizen cannot delete it, the author can.
	_, otherToken := registerUser(t, h, "Other", "other@example.com", "", "")
	status, _ = doJSON(t, h, http.MethodDelete, "/api/transactions/"+txID+"/comments/"+posted.ID, otherToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("foreign delete: expected 403, got %d", status)
	}
	status, _ = doJSON(t, h, http.MethodDelete, "/api/transactions/"+txID+"/comments/"+posted.ID, citizenToken, nil)
	if status != http.StatusOK {
		t.Fatalf("author delete: expected 200, got %d", status)
	}

	status, env = doJSON(t, h, http.MethodGet, "/api/transactions/"+txID+"/comments", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list comments: expected 200, got %d", status)
	}
	if env.Pagination == nil || env.Pagination.Total != 0 {
		t.Fatalf("hidden comment leaked into listing: %+v", env.Pagination)
	}
}

func TestAdminAudit(t *testing.T) {
	h := newTestHandler(t)

	_, officialToken := registerUser(t, h, "Official", "o@gov.example", "govt_official", "Treasury")
	_, adminToken := registerUser(t, h, "Admin", "a@example.com", "admin", "")
	createTransaction(t, h, officialToken)

	status, _ := doJSON(t, h, http.MethodGet, "/api/admin/audit", officialToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("official audit: expected 403, got %d", status)
	}

	status, env := doJSON(t, h, http.MethodGet, "/api/admin/audit", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("admin audit: expected 200, got %d", status)
	}
	var entries []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	}
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected audit entries for registrations and creation")
	}
	// Newest first: the transaction creation was the last mutating request.
	if entries[0].Method != http.MethodPost || entries[0].Path != "/api/transactions" {
		t.Fatalf("expected transaction creation first, got %+v", entries[0])
	}

	status, env = doJSON(t, h, http.MethodGet, "/api/admin/audit?limit=1", adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("limited audit: expected 200, got %d", status)
	}
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("decode limited audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry with limit=1, got %d", len(entries))
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	status, env := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("healthz: expected 200 success, got %d %+v", status, env)
	}
}
