package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"poic-settlement/challenge"
	"poic-settlement/issuance"
	"poic-settlement/ledger"
	"poic-settlement/permit"
	"poic-settlement/reserve"
	"poic-settlement/settlement"
)

// Server holds the services behind the HTTP API.
type Server struct {
	Store      challenge.Store
	Ledger     ledger.Client
	Issuance   *issuance.Service
	Settlement *settlement.Service
	Reserve    *reserve.Accountant
	// Permits is nil when no mint signer key is configured.
	Permits  *permit.Signer
	AdminKey string
	Log      *zap.Logger
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests(s.Log))

	r.HandleFunc("/healthz", healthz).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/challenges", s.issueChallenge).Methods("POST")
	api.HandleFunc("/challenges/{id}", s.challengeByID).Methods("GET")
	api.HandleFunc("/challenges/{id}/answer", s.submitAnswer).Methods("POST")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin(s.AdminKey))
	admin.HandleFunc("/sweep", s.sweepStatus).Methods("GET")
	admin.HandleFunc("/sweep", s.sweep).Methods("POST")
	admin.HandleFunc("/challenges/{id}/reward", s.retryReward).Methods("POST")
	admin.HandleFunc("/permits", s.issuePermit).Methods("POST")

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	var req IssueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Requester == "" || req.Difficulty == "" {
		writeError(w, r, http.StatusBadRequest, "bad_request", "All fields (requester, difficulty) are required")
		return
	}
	difficulty, err := challenge.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_difficulty", err.Error())
		return
	}

	id, pub, err := s.Issuance.IssueChallenge(r.Context(), req.Requester, difficulty)
	if err != nil {
		status, code := issuanceStatus(err)
		challengesIssued.WithLabelValues(code).Inc()
		if status >= http.StatusInternalServerError {
			s.Log.Error("issue challenge", zap.String("requestId", requestID(r.Context())), zap.Error(err))
		}
		writeError(w, r, status, code, err.Error())
		return
	}

	challengesIssued.WithLabelValues("issued").Inc()
	writeJSON(w, http.StatusCreated, IssueChallengeResponse{ChallengeID: id, Challenge: pub})
}

func issuanceStatus(err error) (int, string) {
	switch {
	case errors.Is(err, issuance.ErrInvalidRequester):
		return http.StatusBadRequest, "invalid_requester"
	case errors.Is(err, challenge.ErrInvalidDifficulty):
		return http.StatusBadRequest, "invalid_difficulty"
	case errors.Is(err, issuance.ErrNotEntitled):
		return http.StatusPaymentRequired, "not_entitled"
	case errors.Is(err, issuance.ErrExhaustedRetries):
		return http.StatusServiceUnavailable, "exhausted_retries"
	case errors.Is(err, issuance.ErrEscrowForwardFailed):
		return http.StatusBadGateway, "escrow_forward_failed"
	case errors.Is(err, issuance.ErrPersistFailed):
		return http.StatusInternalServerError, "persist_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) challengeByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	c, err := s.Store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Public())
}

func (s *Server) submitAnswer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Answer == "" {
		writeError(w, r, http.StatusBadRequest, "bad_request", "answer is required")
		return
	}

	res, err := s.Settlement.SubmitAnswer(r.Context(), id, req.Answer)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	settlements.WithLabelValues(string(res.Outcome)).Inc()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) retryReward(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := s.Settlement.RetryReward(r.Context(), id)
	if errors.Is(err, challenge.ErrNotEligible) {
		writeError(w, r, http.StatusConflict, "not_eligible", err.Error())
		return
	}
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sweepStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Reserve.State(r.Context())
	if err != nil {
		s.Log.Error("read reserve state", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "ledger_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reserve.Sweep(r.Context())
	if err != nil {
		sweeps.WithLabelValues("failed").Inc()
		s.Log.Error("sweep", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "sweep_failed", err.Error())
		return
	}

	resp := SweepResponse{
		Status:        "swept",
		BalanceBefore: res.Before.OperatorBalance,
		BalanceAfter:  res.Before.OperatorBalance,
		Swept:         res.Swept,
		TxRef:         res.TxRef,
		Reason:        res.NoOp,
	}
	if res.NoOp != "" {
		resp.Status = "noop"
		sweeps.WithLabelValues(string(res.NoOp)).Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sweeps.WithLabelValues("swept").Inc()
	if after, err := s.Ledger.BalanceOf(r.Context(), s.Ledger.Operator()); err == nil {
		resp.BalanceAfter = after
	} else {
		resp.BalanceAfter = new(big.Int).Sub(res.Before.OperatorBalance, res.Swept)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issuePermit(w http.ResponseWriter, r *http.Request) {
	if s.Permits == nil {
		writeError(w, r, http.StatusServiceUnavailable, "permits_disabled", "no mint signer is configured")
		return
	}

	var req PermitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		writeError(w, r, http.StatusBadRequest, "invalid_owner", "owner must be an address")
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_amount", "amount must be a positive integer")
		return
	}

	sp, err := s.Permits.IssuePermit(common.HexToAddress(req.Owner), amount)
	if err != nil {
		s.Log.Error("issue permit", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	permitsIssued.Inc()
	writeJSON(w, http.StatusOK, PermitResponse{
		To:        sp.Permit.To.Hex(),
		Amount:    sp.Permit.Amount.String(),
		Nonce:     sp.Permit.Nonce.String(),
		Deadline:  sp.Permit.Deadline,
		Signature: sp.Signature.String(),
		Signer:    sp.Signer.Hex(),
		ExpiresAt: sp.ExpiresAt,
	})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, challenge.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "challenge not found")
		return
	}
	s.Log.Error("store", zap.String("requestId", requestID(r.Context())), zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var resp errorResponse
	resp.RequestID = requestID(r.Context())
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}
