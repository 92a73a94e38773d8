// Package api provides the HTTP handlers transaction builders use: the
// mirrored state, vault change descriptors, insertion hints, redemption
// plans and transaction confirmation.
//
// All amounts are fixed.Decimal encoded as JSON strings, never float64
// for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"

	"github.com/moneyprotocol/engineering-sub002/internal/chain"
	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/hint"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
	"github.com/moneyprotocol/engineering-sub002/internal/store"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// Awaiting stays under the router's request timeout.
	defaultAwaitTimeout = 20 * time.Second
	maxAwaitTimeout     = 25 * time.Second
)

// StateReader exposes the mirrored state.
type StateReader interface {
	State() (mirror.State, bool)
}

// HintFinder computes insertion hints.
type HintFinder interface {
	ForVault(ctx context.Context, v vault.Vault, owner common.Address) (hint.Hints, error)
}

// RedemptionPlanner plans redemptions.
type RedemptionPlanner interface {
	Redeem(ctx context.Context, amount fixed.Decimal, maxRate *fixed.Decimal, c hint.Conditions) (hint.Redemption, error)
	Escalate(ctx context.Context, r hint.Redemption, maxRate *fixed.Decimal, c hint.Conditions) (hint.Redemption, error)
}

// TxConfirmer waits for mined transactions.
type TxConfirmer interface {
	Await(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Deps are the collaborators of a Service. Hints, Redemptions, Confirmer
// and Hub may be nil; their routes then answer 503 or are not mounted.
type Deps struct {
	Mirror      StateReader
	Hints       HintFinder
	Redemptions RedemptionPlanner
	Confirmer   TxConfirmer
	Store       store.Store
	Hub         *WSHub
	// DeployedAt enables the issuance fraction in fee responses.
	DeployedAt time.Time
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Service serves the mirrored protocol state over HTTP.
type Service struct {
	mirror      StateReader
	hints       HintFinder
	redemptions RedemptionPlanner
	confirmer   TxConfirmer
	store       store.Store
	wsHub       *WSHub
	deployedAt  time.Time
	clock       func() time.Time
	logger      *slog.Logger
}

// NewService creates a new service.
func NewService(d Deps) *Service {
	s := &Service{
		mirror:      d.Mirror,
		hints:       d.Hints,
		redemptions: d.Redemptions,
		confirmer:   d.Confirmer,
		store:       d.Store,
		wsHub:       d.Hub,
		deployedAt:  d.DeployedAt,
		clock:       d.Clock,
		logger:      d.Logger,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes mounts the handlers on r, normally under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		// WebSocket endpoint for real-time state changes.
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/state", s.GetState)
	r.Get("/vault", s.GetVault)
	r.Get("/fees", s.GetFees)
	r.Get("/history", s.GetHistory)
	r.Get("/history/{id}", s.GetChange)
	r.Get("/snapshot", s.GetSnapshot)

	// Transaction building.
	r.Post("/vault/changes", s.DescribeChange)
	r.Post("/vault/apply", s.ApplyChange)
	r.Post("/hints", s.GetHints)
	r.Post("/redemptions", s.PlanRedemption)
	r.Get("/transactions/{hash}", s.AwaitTransaction)
}

// --- Request/Response types ---

// VaultResponse is the tracked owner's effective vault.
type VaultResponse struct {
	Vault                  vault.UserVault `json:"vault"`
	NetDebt                fixed.Decimal   `json:"net_debt"`
	CollateralRatio        fixed.Decimal   `json:"collateral_ratio"`
	NominalCollateralRatio fixed.Decimal   `json:"nominal_collateral_ratio"`
	BelowMinimum           bool            `json:"below_minimum_collateral_ratio"`
}

// FeesResponse reports the current fee rates.
type FeesResponse struct {
	Fees             fees.Fees      `json:"fees"`
	BaseRate         fixed.Decimal  `json:"base_rate"`
	BorrowingRate    fixed.Decimal  `json:"borrowing_rate"`
	RedemptionRate   fixed.Decimal  `json:"redemption_rate"`
	RecoveryMode     bool           `json:"recovery_mode"`
	IssuanceFraction *fixed.Decimal `json:"cumulative_issuance_fraction,omitempty"`
}

// ChangeRequest is the JSON body for POST /vault/changes.
type ChangeRequest struct {
	From          vault.Vault    `json:"from"`
	To            vault.Vault    `json:"to"`
	BorrowingRate *fixed.Decimal `json:"borrowing_rate,omitempty"` // defaults to the current rate
}

// ApplyRequest is the JSON body for POST /vault/apply.
type ApplyRequest struct {
	Vault         vault.Vault     `json:"vault"`
	Change        json.RawMessage `json:"change"`
	BorrowingRate *fixed.Decimal  `json:"borrowing_rate,omitempty"`
}

// HintRequest is the JSON body for POST /hints.
type HintRequest struct {
	Collateral fixed.Decimal  `json:"collateral"`
	Debt       fixed.Decimal  `json:"debt"`
	Owner      common.Address `json:"owner"` // vault being moved, if any
}

// RedemptionRequest is the JSON body for POST /redemptions.
type RedemptionRequest struct {
	Amount            fixed.Decimal  `json:"amount"`
	MaxRedemptionRate *fixed.Decimal `json:"max_redemption_rate,omitempty"`
	Escalate          bool           `json:"escalate"`
}

// --- HTTP Handlers ---

// GetState handles GET /api/v1/state
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadedState(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetVault handles GET /api/v1/vault
func (s *Service) GetVault(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadedState(w)
	if !ok {
		return
	}
	v := state.Derived.Vault
	writeJSON(w, http.StatusOK, VaultResponse{
		Vault:                  v,
		NetDebt:                v.NetDebt(),
		CollateralRatio:        v.CollateralRatio(state.Price),
		NominalCollateralRatio: v.NominalCollateralRatio(),
		BelowMinimum:           !v.IsEmpty() && v.CollateralRatioIsBelowMinimum(state.Price),
	})
}

// GetFees handles GET /api/v1/fees?redeemed_fraction=<0..1>
func (s *Service) GetFees(w http.ResponseWriter, r *http.Request) {
	state, ok := s.loadedState(w)
	if !ok {
		return
	}

	fraction := fixed.Zero
	if q := r.URL.Query().Get("redeemed_fraction"); q != "" {
		parsed, err := fixed.Parse(q)
		if err != nil || parsed.Gt(fixed.One) {
			writeError(w, "redeemed_fraction must be a decimal between 0 and 1", http.StatusBadRequest)
			return
		}
		fraction = parsed
	}

	now := s.clock()
	resp := FeesResponse{
		Fees:           state.Fees,
		BaseRate:       state.Fees.BaseRate(now),
		BorrowingRate:  state.Fees.BorrowingRate(now),
		RedemptionRate: state.Fees.RedemptionRate(fraction, now),
		RecoveryMode:   state.RecoveryMode,
	}
	if !s.deployedAt.IsZero() {
		issued := fees.CumulativeIssuanceFraction(now.Sub(s.deployedAt))
		resp.IssuanceFraction = &issued
	}
	writeJSON(w, http.StatusOK, resp)
}

// DescribeChange handles POST /api/v1/vault/changes
// Returns the change descriptor that turns "from" into "to".
func (s *Service) DescribeChange(w http.ResponseWriter, r *http.Request) {
	var req ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rate, ok := s.borrowingRate(w, req.BorrowingRate)
	if !ok {
		return
	}

	change := req.From.WhatChanged(req.To, rate)
	data, err := vault.MarshalChange(change)
	if err != nil {
		writeError(w, "failed to encode change", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"change": data})
}

// ApplyChange handles POST /api/v1/vault/apply
func (s *Service) ApplyChange(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	change, err := vault.UnmarshalChange(req.Change)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rate, ok := s.borrowingRate(w, req.BorrowingRate)
	if !ok {
		return
	}

	result, err := req.Vault.Apply(change, rate)
	if errors.Is(err, vault.ErrDomainInvariant) {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]vault.Vault{"vault": result})
}

// GetHints handles POST /api/v1/hints
func (s *Service) GetHints(w http.ResponseWriter, r *http.Request) {
	if s.hints == nil {
		writeError(w, "hint search unavailable", http.StatusServiceUnavailable)
		return
	}
	var req HintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hints, err := s.hints.ForVault(r.Context(), vault.New(req.Collateral, req.Debt), req.Owner)
	if err != nil {
		s.logger.Error("hint search failed", "error", err)
		writeError(w, "hint search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, hints)
}

// PlanRedemption handles POST /api/v1/redemptions
// A truncated plan is a normal response; escalate asks for the next
// redeemable amount instead.
func (s *Service) PlanRedemption(w http.ResponseWriter, r *http.Request) {
	if s.redemptions == nil {
		writeError(w, "redemption planning unavailable", http.StatusServiceUnavailable)
		return
	}
	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.IsZero() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if req.MaxRedemptionRate != nil && req.MaxRedemptionRate.Gt(fixed.One) {
		writeError(w, "max_redemption_rate must not exceed 1", http.StatusBadRequest)
		return
	}
	state, ok := s.loadedState(w)
	if !ok {
		return
	}

	ctx := r.Context()
	conditions := hint.Conditions{Price: state.Price, Total: state.Total, Fees: state.Fees, Now: s.clock()}
	plan, err := s.redemptions.Redeem(ctx, req.Amount, req.MaxRedemptionRate, conditions)
	if err == nil && req.Escalate {
		plan, err = s.redemptions.Escalate(ctx, plan, req.MaxRedemptionRate, conditions)
	}
	if errors.Is(err, hint.ErrAmountTooLow) {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		s.logger.Error("redemption planning failed", "error", err)
		writeError(w, "redemption planning failed", http.StatusBadGateway)
		return
	}

	s.logger.Info("redemption planned",
		"attempted", plan.Attempted,
		"redeemable", plan.Redeemable,
		"is_truncated", plan.IsTruncated,
		"max_rate", plan.MaxRedemptionRate,
	)
	writeJSON(w, http.StatusOK, plan)
}

// GetHistory handles GET /api/v1/history?limit=<n>
// Returns the most recent journaled changes, newest first.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	changes, err := s.store.RecentChanges(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if changes == nil {
		changes = []model.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// GetChange handles GET /api/v1/history/{id}
func (s *Service) GetChange(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	change, err := s.store.GetChange(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "change not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load change", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// GetSnapshot handles GET /api/v1/snapshot
// Returns the last journaled state, which may lag the live mirror.
func (s *Service) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := s.store.LatestSnapshot(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "no snapshot recorded yet", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load snapshot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// AwaitTransaction handles GET /api/v1/transactions/{hash}?timeout=<duration>
// Waits for the transaction to be mined. A reverted transaction answers
// 422 with its receipt.
func (s *Service) AwaitTransaction(w http.ResponseWriter, r *http.Request) {
	if s.confirmer == nil {
		writeError(w, "transaction confirmation unavailable", http.StatusServiceUnavailable)
		return
	}
	raw := chi.URLParam(r, "hash")
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength || common.BytesToHash(decoded) == (common.Hash{}) {
		writeError(w, "hash must be a 0x-prefixed 32-byte hex string", http.StatusBadRequest)
		return
	}

	timeout := defaultAwaitTimeout
	if q := r.URL.Query().Get("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			writeError(w, "timeout must be a positive duration", http.StatusBadRequest)
			return
		}
		timeout = min(d, maxAwaitTimeout)
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	receipt, err := s.confirmer.Await(ctx, common.BytesToHash(decoded))
	var failed *chain.TransactionFailedError
	switch {
	case errors.As(err, &failed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   failed.Error(),
			"receipt": failed.Receipt,
		})
	case errors.Is(err, chain.ErrZeroHash):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, "transaction not mined before timeout", http.StatusGatewayTimeout)
	case err != nil:
		s.logger.Error("receipt lookup failed", "tx", strings.ToLower(raw), "error", err)
		writeError(w, "receipt lookup failed", http.StatusBadGateway)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "receipt": receipt})
	}
}

// --- helpers ---

func (s *Service) loadedState(w http.ResponseWriter) (mirror.State, bool) {
	state, ok := s.mirror.State()
	if !ok {
		writeError(w, "state not loaded yet", http.StatusServiceUnavailable)
	}
	return state, ok
}

// borrowingRate returns the requested rate, or the mirror's current one.
func (s *Service) borrowingRate(w http.ResponseWriter, requested *fixed.Decimal) (fixed.Decimal, bool) {
	if requested != nil {
		if requested.Gt(fixed.One) {
			writeError(w, "borrowing_rate must not exceed 1", http.StatusBadRequest)
			return fixed.Zero, false
		}
		return *requested, true
	}
	state, ok := s.loadedState(w)
	if !ok {
		return fixed.Zero, false
	}
	return state.BorrowingRate, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
