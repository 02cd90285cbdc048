package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/service"
)

// LifecycleService is the lifecycle surface the handlers depend on.
type LifecycleService interface {
	Create(ctx context.Context, requesterID uuid.UUID, in service.CreateInput) (model.Request, error)
	Accept(ctx context.Context, requestID, driverID uuid.UUID) (model.Request, error)
	MarkPickedUp(ctx context.Context, requestID, driverID uuid.UUID) (model.Request, error)
	UpdateLocation(ctx context.Context, requestID, driverID uuid.UUID, lat, lon float64) (model.Request, error)
	Deliver(ctx context.Context, requestID, driverID uuid.UUID, suppliedCode string) (service.DeliverResult, error)
	Cancel(ctx context.Context, requestID, actorID uuid.UUID, role model.Role, reason string) (model.Request, error)
	Get(ctx context.Context, requestID uuid.UUID) (model.Request, error)
	Positions(ctx context.Context, requestID uuid.UUID, limit int) ([]model.Position, error)
}

// WalletService is the ledger surface the handlers depend on.
type WalletService interface {
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, correlationID *uuid.UUID) (model.LedgerTransaction, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	AccountForUser(ctx context.Context, userID uuid.UUID) (model.Account, error)
	History(ctx context.Context, accountID uuid.UUID, f model.HistoryFilter) ([]model.LedgerTransaction, error)
}

// MatchService is the availability surface the handlers depend on.
type MatchService interface {
	OpenRequests(ctx context.Context, kind model.Kind) ([]model.Request, error)
	NearbyDrivers(ctx context.Context, lat, lon float64) ([]uuid.UUID, error)
}

type Handler struct {
	lifecycle LifecycleService
	wallet    WalletService
	matcher   MatchService
	log       *zap.Logger
}

func NewHandler(lifecycle LifecycleService, wallet WalletService, matcher MatchService, log *zap.Logger) *Handler {
	return &Handler{lifecycle: lifecycle, wallet: wallet, matcher: matcher, log: log}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/requests", instrument("POST", "/requests", h.CreateRequest)).Methods("POST")
	r.HandleFunc("/requests/open", instrument("GET", "/requests/open", h.OpenRequests)).Methods("GET")
	r.HandleFunc("/requests/{id}", instrument("GET", "/requests/{id}", h.GetRequest)).Methods("GET")
	r.HandleFunc("/requests/{id}/accept", instrument("POST", "/requests/{id}/accept", h.AcceptRequest)).Methods("POST")
	r.HandleFunc("/requests/{id}/pickup", instrument("POST", "/requests/{id}/pickup", h.PickupRequest)).Methods("POST")
	r.HandleFunc("/requests/{id}/location", instrument("POST", "/requests/{id}/location", h.UpdateLocation)).Methods("POST")
	r.HandleFunc("/requests/{id}/deliver", instrument("POST", "/requests/{id}/deliver", h.DeliverRequest)).Methods("POST")
	r.HandleFunc("/requests/{id}/cancel", instrument("POST", "/requests/{id}/cancel", h.CancelRequest)).Methods("POST")
	r.HandleFunc("/requests/{id}/positions", instrument("GET", "/requests/{id}/positions", h.ListPositions)).Methods("GET")

	r.HandleFunc("/wallet", instrument("GET", "/wallet", h.GetWallet)).Methods("GET")
	r.HandleFunc("/wallet/transactions", instrument("GET", "/wallet/transactions", h.WalletHistory)).Methods("GET")
	r.HandleFunc("/wallet/topup", instrument("POST", "/wallet/topup", h.TopUp)).Methods("POST")

	r.HandleFunc("/drivers/nearby", instrument("GET", "/drivers/nearby", h.NearbyDrivers)).Methods("GET")
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return
	}

	var in service.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}

	req, err := h.lifecycle.Create(r.Context(), actor.ID, in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	// The completion code travels to the requester once, at creation;
	// it is never included in any later response.
	respondJSON(w, http.StatusCreated, struct {
		model.Request
		CompletionCode string `json:"completion_code"`
	}{req, req.CompletionCode})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) OpenRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok || actor.Role == model.RoleCustomer {
		respondError(w, http.StatusForbidden, "not_authorized", "driver role required")
		return
	}
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		respondError(w, http.StatusBadRequest, "validation_error", "unknown kind")
		return
	}
	reqs, err := h.matcher.OpenRequests(r.Context(), kind)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.driverAction(w, r)
	if !ok {
		return
	}
	req, err := h.lifecycle.Accept(r.Context(), id, actor.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) PickupRequest(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.driverAction(w, r)
	if !ok {
		return
	}
	req, err := h.lifecycle.MarkPickedUp(r.Context(), id, actor.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.driverAction(w, r)
	if !ok {
		return
	}
	var body struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}
	req, err := h.lifecycle.UpdateLocation(r.Context(), id, actor.ID, body.Lat, body.Lon)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) DeliverRequest(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.driverAction(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}
	res, err := h.lifecycle.Deliver(r.Context(), id, actor.ID, body.Code)
	if err != nil {
		settlementsTotal.WithLabelValues(model.ErrorKind(err)).Inc()
		h.respondServiceError(w, err)
		return
	}
	settlementsTotal.WithLabelValues("completed").Inc()
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}
	req, err := h.lifecycle.Cancel(r.Context(), id, actor.ID, actor.Role, body.Reason)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	positions, err := h.lifecycle.Positions(r.Context(), id, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, positions)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return
	}
	acct, err := h.wallet.AccountForUser(r.Context(), actor.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

func (h *Handler) WalletHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return
	}
	acct, err := h.wallet.AccountForUser(r.Context(), actor.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	f, err := historyFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	txns, err := h.wallet.History(r.Context(), acct.ID, f)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return
	}
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}
	if body.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "amount must be positive")
		return
	}

	acct, err := h.wallet.AccountForUser(r.Context(), actor.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	txn, err := h.wallet.Credit(r.Context(), acct.ID, body.Amount, "wallet top-up", nil)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *Handler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "lat and lon are required")
		return
	}
	drivers, err := h.matcher.NearbyDrivers(r.Context(), lat, lon)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

// ── helpers ──────────────────────────────────────────────────────────

func (h *Handler) driverAction(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "no actor in context")
		return Actor{}, uuid.Nil, false
	}
	if actor.Role != model.RoleDriver && actor.Role != model.RoleAdmin {
		respondError(w, http.StatusForbidden, "not_authorized", "driver role required")
		return Actor{}, uuid.Nil, false
	}
	id, ok := pathID(w, r)
	if !ok {
		return Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "invalid request id")
		return uuid.Nil, false
	}
	return id, true
}

func historyFilter(r *http.Request) (model.HistoryFilter, error) {
	var f model.HistoryFilter
	q := r.URL.Query()

	if v := q.Get("direction"); v != "" {
		d := model.Direction(v)
		if d != model.DirectionCredit && d != model.DirectionDebit {
			return f, errInvalidParam("direction")
		}
		f.Direction = &d
	}
	for param, dst := range map[string]**int64{"min_amount": &f.MinAmount, "max_amount": &f.MaxAmount} {
		if v := q.Get(param); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return f, errInvalidParam(param)
			}
			*dst = &n
		}
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To, "before": &f.Before} {
		if v := q.Get(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errInvalidParam(param)
			}
			*dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errInvalidParam("limit")
		}
		f.Limit = n
	}
	return f, nil
}

type paramError string

func errInvalidParam(name string) error { return paramError(name) }
func (e paramError) Error() string      { return "invalid query parameter: " + string(e) }

// respondServiceError translates a domain error into a status code and
// a stable kind string. InsufficientFunds and InvalidTransition map to
// different codes so clients can tell "pay more" from "wrong state".
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	kind := model.ErrorKind(err)
	code := http.StatusInternalServerError
	switch kind {
	case "not_found":
		code = http.StatusNotFound
	case "validation_error":
		code = http.StatusBadRequest
	case "not_authorized":
		code = http.StatusForbidden
	case "already_assigned", "already_settled", "invalid_transition":
		code = http.StatusConflict
	case "invalid_code", "insufficient_funds", "settlement_failed":
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		respondError(w, code, kind, "internal server error")
		return
	}
	respondError(w, code, kind, err.Error())
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, kind, message string) {
	respondJSON(w, code, map[string]string{"kind": kind, "error": message})
}

// instrument wraps a handler with the request counter and latency
// histogram.
func instrument(method, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
