package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poic-settlement/authoring"
	"poic-settlement/challenge"
	"poic-settlement/issuance"
	"poic-settlement/ledger"
	"poic-settlement/permit"
	"poic-settlement/reserve"
	"poic-settlement/settlement"
)

const adminKey = "s3cret"

var (
	operator  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	pool      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	requester = "0x00000000000000000000000000000000000000cc"
)

type testEnv struct {
	store  *challenge.MemoryStore
	ledger *ledger.Memory
	srv    *Server
	router http.Handler
}

func newTestEnv(t *testing.T, adapter authoring.Adapter) *testEnv {
	t.Helper()
	log := zap.NewNop()
	store := challenge.NewMemoryStore()
	l := ledger.NewMemory(operator)
	l.Credit(operator, big.NewInt(20_000_000))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := permit.NewSigner(permit.Config{PrivateKey: key, ChainID: big.NewInt(84532)}, log)
	require.NoError(t, err)

	srv := &Server{
		Store:      store,
		Ledger:     l,
		Issuance:   issuance.NewService(store, l, adapter, nil, nil, issuance.Config{Pool: pool}, log),
		Settlement: settlement.NewService(store, l, settlement.Config{}, log),
		Reserve:    reserve.NewAccountant(l, store, reserve.Config{Destination: pool}, log),
		Permits:    signer,
		AdminKey:   adminKey,
		Log:        log,
	}
	return &testEnv{store: store, ledger: l, srv: srv, router: srv.Router()}
}

func marsAdapter() authoring.Adapter {
	return authoring.AdapterFunc(func(context.Context, string, challenge.Difficulty) (authoring.Candidate, error) {
		return authoring.Candidate{
			Prompt:        "Which planet is known as the Red Planet?",
			Options:       []string{"Venus", "Mars", "Jupiter", "Saturn"},
			CorrectOption: "Mars",
			Explanation:   "Iron oxide.",
		}, nil
	})
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, "Authorization", "Bearer "+adminKey)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (e *testEnv) issue(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/challenges", IssueChallengeRequest{Requester: requester, Difficulty: "easy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[IssueChallengeResponse](t, rec).ChallengeID
}

func TestIssueAndAnswerFlow(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.do(t, http.MethodPost, "/api/challenges", IssueChallengeRequest{Requester: requester, Difficulty: "Easy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "correctOption")
	assert.NotContains(t, rec.Body.String(), "Iron oxide.")
	issued := decode[IssueChallengeResponse](t, rec)
	assert.Equal(t, []string{"Venus", "Mars", "Jupiter", "Saturn"}, issued.Challenge.Options)

	rec = env.do(t, http.MethodGet, "/api/challenges/"+issued.ChallengeID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "correctOption")

	rec = env.do(t, http.MethodPost, "/api/challenges/"+issued.ChallengeID+"/answer", AnswerRequest{Answer: "Mars"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[settlement.Result](t, rec)
	assert.Equal(t, settlement.Rewarded, first.Outcome)
	assert.True(t, first.IsCorrect)
	require.NotEmpty(t, first.RewardReference)

	rec = env.do(t, http.MethodPost, "/api/challenges/"+issued.ChallengeID+"/answer", AnswerRequest{Answer: "Mars"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[settlement.Result](t, rec)
	assert.Equal(t, settlement.Rewarded, again.Outcome)
	assert.Equal(t, first.RewardReference, again.RewardReference)
	assert.Len(t, env.ledger.Mints(), 1)

	rec = env.do(t, http.MethodGet, "/api/challenges/"+issued.ChallengeID, nil)
	pub := decode[challenge.Public](t, rec)
	assert.Equal(t, "Mars", pub.CorrectOption)
	assert.Equal(t, first.RewardReference, pub.RewardReference)
}

func TestIssueChallengeErrors(t *testing.T) {
	tests := []struct {
		name    string
		adapter authoring.Adapter
		body    any
		status  int
		code    string
	}{
		{"malformed body", marsAdapter(), "not an object", http.StatusBadRequest, "bad_request"},
		{"missing fields", marsAdapter(), IssueChallengeRequest{Requester: requester}, http.StatusBadRequest, "bad_request"},
		{"bad difficulty", marsAdapter(), IssueChallengeRequest{Requester: requester, Difficulty: "extreme"}, http.StatusBadRequest, "invalid_difficulty"},
		{"bad requester", marsAdapter(), IssueChallengeRequest{Requester: "bob", Difficulty: "hard"}, http.StatusBadRequest, "invalid_requester"},
		{
			"adapter exhausted",
			authoring.AdapterFunc(func(context.Context, string, challenge.Difficulty) (authoring.Candidate, error) {
				return authoring.Candidate{}, errors.New("upstream down")
			}),
			IssueChallengeRequest{Requester: requester, Difficulty: "medium"},
			http.StatusServiceUnavailable, "exhausted_retries",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.adapter)
			rec := env.do(t, http.MethodPost, "/api/challenges", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)

			n, err := env.store.CountAll(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestIssueChallengeEscrowFailure(t *testing.T) {
	env := newTestEnv(t, marsAdapter())
	env.ledger.FailTransfers(errors.New("rpc down"))

	rec := env.do(t, http.MethodPost, "/api/challenges", IssueChallengeRequest{Requester: requester, Difficulty: "easy"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "escrow_forward_failed", decode[errorResponse](t, rec).Error.Code)
}

func TestSubmitAnswerErrors(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.do(t, http.MethodPost, "/api/challenges/missing/answer", AnswerRequest{Answer: "Mars"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := env.issue(t)
	rec = env.do(t, http.MethodPost, "/api/challenges/"+id+"/answer", AnswerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/challenges/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWrongAnswerThenAlreadyAnswered(t *testing.T) {
	env := newTestEnv(t, marsAdapter())
	id := env.issue(t)

	rec := env.do(t, http.MethodPost, "/api/challenges/"+id+"/answer", AnswerRequest{Answer: "Venus"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settlement.Incorrect, decode[settlement.Result](t, rec).Outcome)

	rec = env.do(t, http.MethodPost, "/api/challenges/"+id+"/answer", AnswerRequest{Answer: "Mars"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[settlement.Result](t, rec)
	assert.Equal(t, settlement.AlreadyAnswered, res.Outcome)
	assert.False(t, res.IsCorrect)
}

func TestRewardFailedThenOperatorRetry(t *testing.T) {
	env := newTestEnv(t, marsAdapter())
	id := env.issue(t)
	env.ledger.FailMints(errors.New("rpc down"))

	rec := env.do(t, http.MethodPost, "/api/challenges/"+id+"/answer", AnswerRequest{Answer: "Mars"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[settlement.Result](t, rec)
	assert.Equal(t, settlement.RewardFailed, res.Outcome)
	assert.NotEmpty(t, res.Remediation)
	assert.Contains(t, res.Detail, "rpc down")

	env.ledger.FailMints(nil)
	rec = env.admin(t, http.MethodPost, "/api/admin/challenges/"+id+"/reward", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, settlement.Rewarded, decode[settlement.Result](t, rec).Outcome)
	assert.Len(t, env.ledger.Mints(), 1)
}

func TestRetryRewardNotEligible(t *testing.T) {
	env := newTestEnv(t, marsAdapter())
	id := env.issue(t)

	rec := env.admin(t, http.MethodPost, "/api/admin/challenges/"+id+"/reward", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.do(t, http.MethodGet, "/api/admin/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/sweep", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/sweep", nil, "Authorization", adminKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env.srv.AdminKey = ""
	router := env.srv.Router()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/sweep", nil)
	req.Header.Set("Authorization", "Bearer ")
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusInternalServerError, out.Code)
}

func TestSweepEndpoints(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.admin(t, http.MethodGet, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[reserve.State](t, rec)
	assert.Equal(t, "20000000", st.OperatorBalance.String())
	assert.Equal(t, "10000000", st.Sweepable.String())

	rec = env.admin(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	swept := decode[SweepResponse](t, rec)
	assert.Equal(t, "swept", swept.Status)
	assert.Equal(t, "10000000", swept.Swept.String())
	assert.Equal(t, "20000000", swept.BalanceBefore.String())
	assert.Equal(t, "10000000", swept.BalanceAfter.String())
	assert.NotEmpty(t, swept.TxRef)

	rec = env.admin(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	noop := decode[SweepResponse](t, rec)
	assert.Equal(t, "noop", noop.Status)
	assert.Equal(t, reserve.BelowThreshold, noop.Reason)
	assert.Len(t, env.ledger.Transfers(), 1)
}

func TestPermitEndpoint(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.admin(t, http.MethodPost, "/api/admin/permits", PermitRequest{Owner: requester, Amount: "1000000000000000000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[PermitResponse](t, rec)
	assert.Equal(t, common.HexToAddress(requester).Hex(), resp.To)
	assert.Equal(t, "1000000000000000000", resp.Amount)
	assert.True(t, strings.HasPrefix(resp.Signature, "0x"))
	assert.Equal(t, env.srv.Permits.Address().Hex(), resp.Signer)

	rec = env.admin(t, http.MethodPost, "/api/admin/permits", PermitRequest{Owner: requester, Amount: "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.admin(t, http.MethodPost, "/api/admin/permits", PermitRequest{Owner: "nobody", Amount: "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.srv.Permits = nil
	env.router = env.srv.Router()
	rec = env.admin(t, http.MethodPost, "/api/admin/permits", PermitRequest{Owner: requester, Amount: "1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	env := newTestEnv(t, marsAdapter())

	rec := env.do(t, http.MethodGet, "/healthz", nil, "X-Request-Id", "req_fixed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-Id"))
}
