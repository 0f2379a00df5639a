package rpc

import (
	"errors"
	"net/http"

	"datalayr/core"
	"datalayr/core/state"
	"datalayr/native/aggregate"
	"datalayr/native/common"
	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/native/payout"
	"datalayr/native/registry"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Domain error codes. Each sentinel maps to one stable code so clients can
// branch without parsing messages.
const (
	codeRegistryStale         = -32100
	codeRegistryNotRegistered = -32101
	codeRegistryKey           = -32102

	codeInvalidSignature = -32110
	codeDuplicateSigner  = -32111
	codeUnknownSigner    = -32112

	codeUnknownRecord      = -32120
	codeAlreadyConfirmed   = -32121
	codeQuorumNotMet       = -32122
	codeDigestMismatch     = -32123
	codeNotYetExpired      = -32124
	codeConfirmationClosed = -32125
	codeRecordParams       = -32126

	codeRecordNotConfirmed    = -32130
	codeInsufficientColl      = -32131
	codeChallengeAlreadyOpen  = -32132
	codeChallengeNotFound     = -32133
	codeChallengeUnresolved   = -32134
	codeWindowOpen            = -32135
	codeWindowClosed          = -32136
	codePaymentNotFound       = -32137
	codePaymentConflict       = -32138
	codeInvalidEvidence       = -32139
	codeDisputeInvalidRequest = -32140

	codeDelayInvalid = -32150

	codeInsufficientFunds = -32160
	codeModulePaused      = -32170
	codeEventsDisabled    = -32180
)

// errEventsDisabled is returned by event queries on a node running without an
// event index.
var errEventsDisabled = errors.New("rpc: event index not configured")

type errorMapping struct {
	target error
	code   int
	status int
}

var errorMappings = []errorMapping{
	{common.ErrModulePaused, codeModulePaused, http.StatusServiceUnavailable},
	{errEventsDisabled, codeEventsDisabled, http.StatusServiceUnavailable},
	{state.ErrInsufficientFunds, codeInsufficientFunds, http.StatusConflict},
	{core.ErrInvalidAmount, codeInvalidParams, http.StatusBadRequest},

	{registry.ErrStaleUpdate, codeRegistryStale, http.StatusConflict},
	{registry.ErrOperatorNotRegistered, codeRegistryNotRegistered, http.StatusNotFound},
	{registry.ErrAlreadyRegistered, codeRegistryKey, http.StatusConflict},
	{registry.ErrKeyMismatch, codeRegistryKey, http.StatusBadRequest},
	{registry.ErrInvalidKey, codeRegistryKey, http.StatusBadRequest},

	{aggregate.ErrInvalidSignature, codeInvalidSignature, http.StatusBadRequest},
	{aggregate.ErrDuplicateSigner, codeDuplicateSigner, http.StatusBadRequest},
	{aggregate.ErrUnknownSigner, codeUnknownSigner, http.StatusBadRequest},
	{aggregate.ErrEmptySet, codeQuorumNotMet, http.StatusBadRequest},

	{datastore.ErrUnknownRecord, codeUnknownRecord, http.StatusNotFound},
	{datastore.ErrAlreadyConfirmed, codeAlreadyConfirmed, http.StatusConflict},
	{datastore.ErrQuorumNotMet, codeQuorumNotMet, http.StatusConflict},
	{datastore.ErrDigestMismatch, codeDigestMismatch, http.StatusBadRequest},
	{datastore.ErrNotYetExpired, codeNotYetExpired, http.StatusConflict},
	{datastore.ErrConfirmationClosed, codeConfirmationClosed, http.StatusConflict},
	{datastore.ErrInvalidSize, codeRecordParams, http.StatusBadRequest},
	{datastore.ErrInvalidQuorum, codeRecordParams, http.StatusBadRequest},
	{datastore.ErrInvalidStorePeriod, codeRecordParams, http.StatusBadRequest},

	{dispute.ErrRecordNotConfirmed, codeRecordNotConfirmed, http.StatusConflict},
	{dispute.ErrInsufficientCollateral, codeInsufficientColl, http.StatusBadRequest},
	{dispute.ErrChallengeAlreadyOpen, codeChallengeAlreadyOpen, http.StatusConflict},
	{dispute.ErrAlreadyChallenged, codeChallengeAlreadyOpen, http.StatusConflict},
	{dispute.ErrChallengeNotFound, codeChallengeNotFound, http.StatusNotFound},
	{dispute.ErrChallengeResolved, codePaymentConflict, http.StatusConflict},
	{dispute.ErrChallengeUnresolved, codeChallengeUnresolved, http.StatusConflict},
	{dispute.ErrFraudProofWindowOpen, codeWindowOpen, http.StatusConflict},
	{dispute.ErrFraudProofWindowClosed, codeWindowClosed, http.StatusConflict},
	{dispute.ErrPaymentNotFound, codePaymentNotFound, http.StatusNotFound},
	{dispute.ErrPaymentRejected, codePaymentConflict, http.StatusConflict},
	{dispute.ErrAlreadyRedeemed, codePaymentConflict, http.StatusConflict},
	{dispute.ErrRangeOverlap, codePaymentConflict, http.StatusConflict},
	{dispute.ErrInvalidEvidence, codeInvalidEvidence, http.StatusBadRequest},
	{dispute.ErrInvalidRange, codeDisputeInvalidRequest, http.StatusBadRequest},
	{dispute.ErrInvalidAmount, codeDisputeInvalidRequest, http.StatusBadRequest},

	{payout.ErrDelayTooLarge, codeDelayInvalid, http.StatusBadRequest},
	{payout.ErrInvalidDelay, codeDelayInvalid, http.StatusBadRequest},
	{payout.ErrInvalidAmount, codeInvalidParams, http.StatusBadRequest},
}

// toRPCError maps a coordinator error onto its JSON-RPC code and HTTP status.
// Unknown errors surface as server errors.
func toRPCError(err error) (*RPCError, int) {
	if err == nil {
		return nil, http.StatusOK
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, http.StatusBadRequest
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return &RPCError{Code: mapping.code, Message: err.Error()}, mapping.status
		}
	}
	return &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}, http.StatusInternalServerError
}

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data}
}
