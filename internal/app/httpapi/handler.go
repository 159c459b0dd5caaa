// Package httpapi exposes the fundwatch REST API.
package httpapi

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/civicwatch/fundwatch/internal/app"
	"github.com/civicwatch/fundwatch/internal/app/domain/comment"
	"github.com/civicwatch/fundwatch/internal/app/domain/transaction"
	"github.com/civicwatch/fundwatch/internal/app/domain/user"
	"github.com/civicwatch/fundwatch/internal/app/metrics"
	commentsvc "github.com/civicwatch/fundwatch/internal/app/services/comments"
	"github.com/civicwatch/fundwatch/internal/app/services/reports"
	"github.com/civicwatch/fundwatch/internal/app/services/transactions"
	"github.com/civicwatch/fundwatch/internal/app/services/users"
	"github.com/civicwatch/fundwatch/internal/auth"
	"github.com/civicwatch/fundwatch/internal/errors"
	"github.com/civicwatch/fundwatch/internal/middleware"
	"github.com/civicwatch/fundwatch/pkg/logger"
)

// Config tunes the HTTP surface.
type Config struct {
	AllowedOrigins      []string
	CommentsPerMinuteIP int
	AuditMax            int
	AuditFilePath       string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns the fully wired API handler: router, auth, CORS,
// per-IP rate limiting, metrics instrumentation and audit recording.
func NewHandler(application *app.Application, cfg Config, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(cfg.AuditFilePath)
	if err != nil {
		return nil, err
	}
	h := &handler{app: application, audit: newAuditLog(cfg.AuditMax, sink), log: log}

	authMW := middleware.NewAuthMiddleware(application.Tokens, log)
	authed := func(fn http.HandlerFunc) http.Handler { return authMW.Handler(fn) }

	perMinute := cfg.CommentsPerMinuteIP
	if perMinute <= 0 {
		perMinute = 5
	}
	commentLimiter := middleware.NewIPRateLimiter(perMinute, log)

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.Handle("/auth/me", authed(h.me)).Methods(http.MethodGet)

	api.HandleFunc("/transactions/analytics/summary", h.analytics).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	api.Handle("/transactions", authed(h.createTransaction)).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)
	api.Handle("/transactions/{id}/status", authed(h.setStatus)).Methods(http.MethodPatch)

	api.HandleFunc("/transactions/{id}/comments", h.listComments).Methods(http.MethodGet)
	api.Handle("/transactions/{id}/comments", commentLimiter.Handler(authed(h.postComment))).Methods(http.MethodPost)
	api.Handle("/transactions/{id}/comments/{cid}", authed(h.getComment)).Methods(http.MethodGet)
	api.Handle("/transactions/{id}/comments/{cid}", authed(h.deleteComment)).Methods(http.MethodDelete)

	api.Handle("/reports", authed(h.submitReport)).Methods(http.MethodPost)
	api.HandleFunc("/reports/transaction/{id}", h.listReports).Methods(http.MethodGet)

	api.Handle("/admin/audit", authed(h.adminAudit)).Methods(http.MethodGet)

	cors := middleware.NewCORSMiddleware(cfg.AllowedOrigins)
	tracing := middleware.NewTracingMiddleware(log)

	var out http.Handler = r
	out = h.recordMutations(out)
	out = cors.Handler(out)
	out = metrics.InstrumentHandler(out)
	out = tracing.Handler(out)
	return out, nil
}

// Auth ------------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload users.RegisterInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	u, token, err := h.app.Users.Register(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]interface{}{"user": u, "token": token})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	u, token, err := h.app.Users.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"user": u, "token": token})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	u, err := h.app.Users.Get(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

// Transactions ----------------------------------------------------------------

func (h *handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	var payload transactions.CreateInput
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	tx, err := h.app.Transactions.Create(r.Context(), actor, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, tx)
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Transactions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tx)
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := transaction.Filter{
		Status:   transaction.Status(q.Get("status")),
		Category: transaction.Category(q.Get("category")),
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("limit"), 0),
	}
	txs, total, err := h.app.Transactions.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = transactions.DefaultPageSize
	}
	writePage(w, http.StatusOK, txs, newPagination(total, filter.Page, pageSize))
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	tx, err := h.app.Transactions.SetStatus(r.Context(), actor, mux.Vars(r)["id"], transaction.Status(payload.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordStatusTransition(string(tx.Status), "moderation")
	writeData(w, http.StatusOK, tx)
}

func (h *handler) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Transactions.Analytics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, a)
}

// Reports ---------------------------------------------------------------------

func (h *handler) submitReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	var payload struct {
		TransactionID string `json:"transaction_id"`
		Type          string `json:"type"`
		Reason        string `json:"reason"`
		Description   string `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	rep, tx, err := h.app.Reports.Submit(r.Context(), actor, payload.TransactionID, reports.SubmitInput{
		Type:        payload.Type,
		Reason:      payload.Reason,
		Description: payload.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordReport(string(rep.Type))
	if tx.Status == transaction.StatusFlagged && tx.Flags == transaction.FlagThreshold {
		metrics.RecordStatusTransition(string(tx.Status), "threshold")
	}
	if tx.Status == transaction.StatusApproved && tx.Approvals == transaction.ApproveThreshold {
		metrics.RecordStatusTransition(string(tx.Status), "threshold")
	}
	writeData(w, http.StatusCreated, map[string]interface{}{"report": rep, "transaction": tx})
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	out, err := h.app.Reports.ListForTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

// Comments --------------------------------------------------------------------

func (h *handler) postComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeError(w, r, errors.Validation("Request body is not valid JSON."))
		return
	}
	c, err := h.app.Comments.Post(r.Context(), actor, mux.Vars(r)["id"], payload.Text)
	if err != nil {
		if svcErr := errors.GetServiceError(err); svcErr != nil {
			switch svcErr.Code {
			case errors.CodeValidation:
				metrics.RecordCommentRejected("validation")
			case errors.CodeRateLimited:
				metrics.RecordCommentRejected("rate_limited")
			}
		}
		h.writeError(w, r, err)
		return
	}
	metrics.RecordCommentPosted()
	writeData(w, http.StatusCreated, c)
}

func (h *handler) listComments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := comment.ListFilter{
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("limit"), 0),
		Sort:     comment.SortOrder(q.Get("sort")),
	}
	out, total, err := h.app.Comments.List(r.Context(), mux.Vars(r)["id"], filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = commentsvc.DefaultPageSize
	}
	writePage(w, http.StatusOK, out, newPagination(total, filter.Page, pageSize))
}

func (h *handler) getComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	if !user.Can(actor.Role, user.ActionReadAudit) {
		h.writeError(w, r, errors.Forbidden(""))
		return
	}
	vars := mux.Vars(r)
	c, err := h.app.Comments.Get(r.Context(), vars["id"], vars["cid"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (h *handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	vars := mux.Vars(r)
	c, err := h.app.Comments.Delete(r.Context(), actor, vars["id"], vars["cid"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

// Admin -----------------------------------------------------------------------

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		h.writeError(w, r, errors.Unauthorized(""))
		return
	}
	if !user.Can(actor.Role, user.ActionReadAudit) {
		h.writeError(w, r, errors.Forbidden(""))
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 0)
	writeData(w, http.StatusOK, h.audit.recent(limit))
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recordMutations appends an audit entry for every mutating request.
func (h *handler) recordMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := auditEntry{
			Time:       time.Now().UTC(),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: middleware.ClientIP(r),
			UserAgent:  r.UserAgent(),
		}
		// Audit recording runs outside the router, so verified claims are
		// not in this context yet. Verify the token directly.
		if tok, ok := auth.FromHeader(r.Header.Get("Authorization")); ok {
			if claims, err := h.app.Tokens.Verify(tok); err == nil {
				entry.User = claims.UserID
				entry.Role = claims.Role
			}
		}
		h.audit.add(entry)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Helpers ---------------------------------------------------------------------

// currentUser rebuilds the acting user from verified token claims. Role
// checks run against the token so no extra store read is needed per request.
func currentUser(r *http.Request) (user.User, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		return user.User{}, false
	}
	return user.User{ID: claims.UserID, Name: claims.Name, Role: user.Role(claims.Role)}, true
}

type pagination struct {
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

func newPagination(total, page, pageSize int) pagination {
	if page < 1 {
		page = 1
	}
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(pageSize)))
	}
	return pagination{
		Total:   total,
		Page:    page,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1 && total > 0,
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writePage(w http.ResponseWriter, status int, data interface{}, p pagination) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"data":       data,
		"pagination": p,
	})
}

// writeError maps any error to the client envelope. Internal causes are
// logged, never returned.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		svcErr = errors.Internal("", err)
	}
	if svcErr.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			WithField("method", r.Method).
			Error("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": svcErr.Message,
	})
}
