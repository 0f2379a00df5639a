package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"datalayr/config"
	"datalayr/core"
	"datalayr/core/genesis"
	"datalayr/crypto"
	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/observability/logging"
	"datalayr/storage"
)

type testEnv struct {
	server    *Server
	http      *httptest.Server
	coord     *core.Coordinator
	keys      []*crypto.PrivateKey
	submitter [20]byte
	token     string
}

const testAdminToken = "test-admin-token"

func newTestEnv(t *testing.T, rpcCfg config.RPC) *testEnv {
	t.Helper()
	if _, set := os.LookupEnv(AuthTokenEnv); !set {
		t.Setenv(AuthTokenEnv, testAdminToken)
	}
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	coord, err := core.NewCoordinator(db, config.DefaultGlobal(), logging.Discard())
	require.NoError(t, err)

	env := &testEnv{coord: coord, submitter: [20]byte{0x5A}, token: os.Getenv(AuthTokenEnv)}
	var doc strings.Builder
	doc.WriteString("operators:\n")
	for i := 0; i < 3; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		env.keys = append(env.keys, key)
		fmt.Fprintf(&doc, "  - pubKey: \"%s\"\n    weight: \"%d\"\n    asOfIndex: 1\n",
			hex.EncodeToString(key.PubKey().Compressed()), []int{40, 30, 30}[i])
	}
	fmt.Fprintf(&doc, "alloc:\n  %s: \"1000000\"\n", crypto.FormatAddress(env.submitter))
	spec, err := genesis.ParseSpec([]byte(doc.String()))
	require.NoError(t, err)
	require.NoError(t, coord.ApplyGenesis(spec))
	_, _, err = coord.Commit()
	require.NoError(t, err)

	env.server = NewServer(coord, rpcCfg, logging.Discard())
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func defaultRPC() config.RPC {
	return config.RPC{RequestsPerSecond: 1_000, Burst: 1_000, MaxBodyBytes: 1 << 20}
}

func (e *testEnv) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, headers map[string]string) (int, *RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := new(RPCResponse)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode, out
}

func decodeResult(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, defaultRPC())
	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, defaultRPC())

	status, resp := env.call(t, "nope_method", nil, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	res, err := http.Post(env.http.URL+"/rpc", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer res.Body.Close()
	parsed := new(RPCResponse)
	require.NoError(t, json.NewDecoder(res.Body).Decode(parsed))
	require.Equal(t, codeParseError, parsed.Error.Code)

	status, resp = env.call(t, "datastore_get", map[string]interface{}{"dumpNumber": 1, "extra": true}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	_, resp = env.call(t, "datastore_get", map[string]interface{}{"dumpNumber": 99}, nil)
	require.Equal(t, codeUnknownRecord, resp.Error.Code)
}

func TestDataStoreLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, defaultRPC())
	digest := "0x" + strings.Repeat("ab", 32)

	_, resp := env.call(t, "datastore_init", map[string]interface{}{
		"submitter":   crypto.FormatAddress(env.submitter),
		"digest":      digest,
		"totalBytes":  128,
		"storePeriod": 20,
	}, env.admin())
	var initRes signedDigestResult
	decodeResult(t, resp, &initRes)
	require.Equal(t, uint64(1), initRes.Record.DumpNumber)
	require.Equal(t, uint32(6_600), initRes.Record.QuorumBps)
	require.Equal(t, "initialized", initRes.Record.Status)

	signedDigest, err := parseHash(initRes.SignedDigest)
	require.NoError(t, err)
	content, err := parseHash(digest)
	require.NoError(t, err)
	require.Equal(t, datastore.SignedDigest(1, content, 128), signedDigest)

	signers := append([]*crypto.PrivateKey(nil), env.keys[:2]...)
	sort.Slice(signers, func(i, j int) bool {
		a, b := signers[i].PubKey().Address().Bytes(), signers[j].PubKey().Address().Bytes()
		return bytes.Compare(a, b) < 0
	})
	sigs := make([]map[string]string, 0, len(signers))
	for _, key := range signers {
		sig, err := key.Sign(signedDigest)
		require.NoError(t, err)
		sigs = append(sigs, map[string]string{
			"signer":    key.PubKey().Address().String(),
			"signature": "0x" + hex.EncodeToString(sig),
		})
	}

	// Reversed order violates the strictly increasing signer rule.
	reversed := []map[string]string{sigs[1], sigs[0]}
	_, resp = env.call(t, "datastore_confirm", map[string]interface{}{
		"dumpNumber": 1, "digest": digest, "signatures": reversed,
	}, nil)
	require.Equal(t, codeDuplicateSigner, resp.Error.Code)

	_, resp = env.call(t, "datastore_confirm", map[string]interface{}{
		"dumpNumber": 1, "digest": digest, "signatures": sigs,
	}, nil)
	var confirmed recordJSON
	decodeResult(t, resp, &confirmed)
	require.Equal(t, "confirmed", confirmed.Status)
	require.Len(t, confirmed.Signers, 2)
	require.Equal(t, "100", confirmed.TotalWeight)

	_, resp = env.call(t, "datastore_confirm", map[string]interface{}{
		"dumpNumber": 1, "digest": digest, "signatures": sigs,
	}, nil)
	require.Equal(t, codeAlreadyConfirmed, resp.Error.Code)

	_, resp = env.call(t, "dispute_commitPayment", map[string]interface{}{
		"operator":   env.keys[0].PubKey().Address().String(),
		"from":       1,
		"to":         1,
		"claimed":    "10",
		"collateral": "1000",
	}, env.admin())
	require.Equal(t, codeInsufficientFunds, resp.Error.Code)

	_, resp = env.call(t, "dispute_get", map[string]interface{}{
		"operator": env.keys[0].PubKey().Address().String(), "from": 1, "to": 1,
	}, nil)
	require.Equal(t, codePaymentNotFound, resp.Error.Code)

	_, resp = env.call(t, "dispute_resolve", map[string]interface{}{
		"operator": env.keys[0].PubKey().Address().String(), "from": 1, "to": 1, "evidence": "bogus",
	}, env.admin())
	require.Equal(t, codeInvalidEvidence, resp.Error.Code)
}

func TestAdminMethodsRequireToken(t *testing.T) {
	t.Setenv(AuthTokenEnv, "secret")
	env := newTestEnv(t, defaultRPC())

	status, resp := env.call(t, "chain_commit", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	auth := map[string]string{"Authorization": "Bearer secret"}
	_, resp = env.call(t, "chain_commit", nil, auth)
	var committed commitResult
	decodeResult(t, resp, &committed)
	require.Equal(t, uint64(2), committed.Height)

	_, resp = env.call(t, "payout_setWithdrawalDelay", map[string]interface{}{"delay": 1_000_000}, auth)
	require.Equal(t, codeDelayInvalid, resp.Error.Code)

	_, resp = env.call(t, "payout_setWithdrawalDelay", map[string]interface{}{"delay": 5}, auth)
	require.Nil(t, resp.Error)

	_, resp = env.call(t, "payout_list", map[string]interface{}{"recipient": crypto.FormatAddress(env.submitter)}, nil)
	var list payoutListResult
	decodeResult(t, resp, &list)
	require.Equal(t, int64(5), list.WithdrawalDelay)
	require.Empty(t, list.Payments)
}

func TestFundMovingMethodsRequireToken(t *testing.T) {
	env := newTestEnv(t, defaultRPC())
	operator := env.keys[0].PubKey().Address()
	thief := "0x" + strings.Repeat("ee", 20)

	cases := []struct {
		method string
		params map[string]interface{}
	}{
		{"payout_create", map[string]interface{}{
			"funder": crypto.FormatAddress(env.submitter), "recipient": thief, "amount": "1000000",
		}},
		{"registry_recordStake", map[string]interface{}{
			"operator": operator.String(), "weight": "1000000", "asOfIndex": 5,
		}},
		{"datastore_init", map[string]interface{}{
			"submitter": crypto.FormatAddress(env.submitter), "digest": "0x" + strings.Repeat("ab", 32),
			"totalBytes": 128, "storePeriod": 20,
		}},
		{"dispute_commitPayment", map[string]interface{}{
			"operator": operator.String(), "from": 1, "to": 1, "claimed": "10", "collateral": "1000",
		}},
		{"dispute_openChallenge", map[string]interface{}{
			"challenger": thief, "operator": operator.String(), "from": 1, "to": 1, "collateral": "1000",
		}},
		{"dispute_resolve", map[string]interface{}{
			"operator": operator.String(), "from": 1, "to": 1, "evidence": "feeRecompute",
		}},
	}
	for _, tc := range cases {
		status, resp := env.call(t, tc.method, tc.params, nil)
		require.Equal(t, http.StatusUnauthorized, status, tc.method)
		require.Equal(t, codeUnauthorized, resp.Error.Code, tc.method)

		status, resp = env.call(t, tc.method, tc.params, map[string]string{"Authorization": "Bearer wrong"})
		require.Equal(t, http.StatusUnauthorized, status, tc.method)
		require.Equal(t, codeUnauthorized, resp.Error.Code, tc.method)
	}

	bal, err := env.coord.Balance(env.submitter)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), bal.Int64())
	weight, ok, err := env.coord.WeightAt(operator.Array(), 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), weight.Uint64())
	latest, err := env.coord.LatestDumpNumber()
	require.NoError(t, err)
	require.Zero(t, latest)

	_, resp := env.call(t, "payout_create", map[string]interface{}{
		"funder": crypto.FormatAddress(env.submitter), "recipient": thief, "amount": "1000",
	}, env.admin())
	require.Nil(t, resp.Error)
	bal, err = env.coord.Balance(env.submitter)
	require.NoError(t, err)
	require.Equal(t, int64(999_000), bal.Int64())
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	env := newTestEnv(t, config.RPC{RequestsPerSecond: 0.001, Burst: 1, MaxBodyBytes: 1 << 20})

	_, resp := env.call(t, "chain_height", nil, nil)
	require.Nil(t, resp.Error)

	status, resp := env.call(t, "chain_height", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestToRPCErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("wrapped: %w", datastore.ErrQuorumNotMet), codeQuorumNotMet},
		{dispute.ErrFraudProofWindowOpen, codeWindowOpen},
		{dispute.ErrChallengeUnresolved, codeChallengeUnresolved},
		{invalidParams("bad", nil), codeInvalidParams},
		{fmt.Errorf("boom"), codeServerError},
	}
	for _, tc := range cases {
		rpcErr, _ := toRPCError(tc.err)
		require.Equal(t, tc.code, rpcErr.Code, tc.err.Error())
	}
	rpcErr, status := toRPCError(nil)
	require.Nil(t, rpcErr)
	require.Equal(t, http.StatusOK, status)
}
