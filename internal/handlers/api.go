// Package handlers implements the tally HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/ledger"
	"github.com/rumor-ml/commons.systems/tally/internal/logger"
	"github.com/rumor-ml/commons.systems/tally/internal/middleware"
	"github.com/rumor-ml/commons.systems/tally/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tally/internal/streaming"
)

const (
	defaultMaxUpload = 100 << 20
	defaultHeartbeat = 15 * time.Second
)

// API serves the ledger and import endpoints.
type API struct {
	svc       *pipeline.Service
	hub       *streaming.StreamHub
	sessions  SessionStore
	uploadDir string
	maxUpload int64
	heartbeat time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an API.
type Option func(*API)

// WithUploadDir sets where uploads are staged. Empty means os.TempDir().
func WithUploadDir(dir string) Option {
	return func(a *API) { a.uploadDir = dir }
}

// WithMaxUpload caps the multipart body size in bytes.
func WithMaxUpload(n int64) Option {
	return func(a *API) { a.maxUpload = n }
}

// WithHeartbeat sets the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// NewAPI creates the API. hub must be the broadcaster svc was built with,
// so that import progress reaches SSE clients.
func NewAPI(svc *pipeline.Service, hub *streaming.StreamHub, sessions SessionStore, opts ...Option) *API {
	a := &API{
		svc:       svc,
		hub:       hub,
		sessions:  sessions,
		maxUpload: defaultMaxUpload,
		heartbeat: defaultHeartbeat,
		now:       time.Now,
		running:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.uploadDir == "" {
		a.uploadDir = os.TempDir()
	}
	return a
}

// Wait blocks until every background import has finished.
func (a *API) Wait() {
	a.wg.Wait()
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLowSignalDocument), errors.Is(err, domain.ErrSourceUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	log := logger.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", code).Msg("request rejected")
	}
	writeJSON(w, r, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		writeJSON(w, r, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
		return "", false
	}
	return userID, true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, key)
	}
	return n, nil
}

// ListAccounts handles GET /api/accounts
func (a *API) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.svc.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, accounts)
}

// CreateAccount handles POST /api/accounts
func (a *API) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateAccountInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := a.svc.CreateAccount(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, acct)
}

// ListCategories handles GET /api/categories
func (a *API) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.svc.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, categories)
}

type categorizeRequest struct {
	TransactionIDs []string `json:"transactionIds,omitempty"`
}

type categorizeResponse struct {
	Categorized int `json:"categorized"`
}

// Categorize handles POST /api/categorize. An empty body or id list covers
// every uncategorized transaction.
func (a *API) Categorize(w http.ResponseWriter, r *http.Request) {
	var req categorizeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	scope := ledger.AllUncategorized()
	if len(req.TransactionIDs) > 0 {
		scope = ledger.OnlyTransactions(req.TransactionIDs...)
	}
	n, err := a.svc.ApplyCategoryRules(r.Context(), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, categorizeResponse{Categorized: n})
}

// DetectRecurring handles GET /api/recurring
func (a *API) DetectRecurring(w http.ResponseWriter, r *http.Request) {
	series, err := a.svc.DetectRecurring(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, series)
}

// ListRecurringRules handles GET /api/recurring/rules
func (a *API) ListRecurringRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.svc.ListRecurringRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rules)
}

// CreateRecurringRule handles POST /api/recurring/rules
func (a *API) CreateRecurringRule(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateRecurringInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := a.svc.CreateRecurringRule(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rule)
}

// DetectTransfers handles GET /api/transfers
func (a *API) DetectTransfers(w http.ResponseWriter, r *http.Request) {
	candidates, err := a.svc.DetectTransfers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, candidates)
}

type linkRequest struct {
	TransactionAID string `json:"transactionAId"`
	TransactionBID string `json:"transactionBId"`
}

type linkResponse struct {
	TransferID string `json:"transferId"`
}

// LinkTransfer handles POST /api/transfers
func (a *API) LinkTransfer(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := a.svc.LinkTransfer(r.Context(), req.TransactionAID, req.TransactionBID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, linkResponse{TransferID: id})
}

// UnlinkTransfer handles DELETE /api/transfers/{id}. The id is a transfer id
// or the id of either linked transaction.
func (a *API) UnlinkTransfer(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.UnlinkTransfer(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /api/rules
func (a *API) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.svc.ListRules(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rules)
}

// CreateRule handles POST /api/rules
func (a *API) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateRuleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := a.svc.CreateRule(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rule)
}

// UpdateRule handles PATCH /api/rules/{id}
func (a *API) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var in ledger.UpdateRuleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	rule, err := a.svc.UpdateRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/{id}
func (a *API) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes registers the API on mux. Every route except /health goes through
// protect.
func (a *API) Routes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", HealthCheck)

	routes := map[string]http.HandlerFunc{
		"POST /api/preview/{format}":   a.Preview,
		"POST /api/parse/{format}":     a.Parse,
		"POST /api/import":             a.StartImport,
		"GET /api/import/{id}":         a.GetImport,
		"GET /api/import/{id}/events":  a.ImportEvents,
		"POST /api/import/{id}/cancel": a.CancelImport,
		"GET /api/accounts":            a.ListAccounts,
		"POST /api/accounts":           a.CreateAccount,
		"GET /api/categories":          a.ListCategories,
		"POST /api/categorize":         a.Categorize,
		"GET /api/recurring":           a.DetectRecurring,
		"GET /api/recurring/rules":     a.ListRecurringRules,
		"POST /api/recurring/rules":    a.CreateRecurringRule,
		"GET /api/transfers":           a.DetectTransfers,
		"POST /api/transfers":          a.LinkTransfer,
		"DELETE /api/transfers/{id}":   a.UnlinkTransfer,
		"GET /api/rules":               a.ListRules,
		"POST /api/rules":              a.CreateRule,
		"PATCH /api/rules/{id}":        a.UpdateRule,
		"DELETE /api/rules/{id}":       a.DeleteRule,
	}
	for pattern, h := range routes {
		mux.Handle(pattern, protect(h))
	}
}
