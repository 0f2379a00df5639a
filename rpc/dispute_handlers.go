package rpc

import (
	"context"
	"encoding/json"

	"datalayr/native/dispute"
)

type commitPaymentParams struct {
	Operator   string `json:"operator"`
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
	Claimed    string `json:"claimed"`
	Collateral string `json:"collateral"`
}

type openChallengeParams struct {
	Challenger string `json:"challenger"`
	Operator   string `json:"operator"`
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
	Collateral string `json:"collateral"`
}

type resolveParams struct {
	Operator   string `json:"operator"`
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
	Evidence   string `json:"evidence,omitempty"`
	DumpNumber uint64 `json:"dumpNumber,omitempty"`
}

type paymentRefParams struct {
	Operator string `json:"operator"`
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
}

type disputeResult struct {
	Payment   *paymentJSON   `json:"payment,omitempty"`
	Challenge *challengeJSON `json:"challenge,omitempty"`
}

func (s *Server) handleCommitPayment(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p commitPaymentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	claimed, err := parseAmount(p.Claimed)
	if err != nil {
		return nil, invalidParams("invalid claimed", err.Error())
	}
	collateral, err := parseAmount(p.Collateral)
	if err != nil {
		return nil, invalidParams("invalid collateral", err.Error())
	}
	payment, err := s.coord.CommitPayment(operator, dispute.DumpRange{From: p.From, To: p.To}, claimed, collateral)
	if err != nil {
		return nil, err
	}
	return formatPayment(payment), nil
}

func (s *Server) handleOpenChallenge(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p openChallengeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	challenger, err := parseAddressParam("challenger", p.Challenger)
	if err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount(p.Collateral)
	if err != nil {
		return nil, invalidParams("invalid collateral", err.Error())
	}
	challenge, err := s.coord.OpenChallenge(challenger, operator, dispute.DumpRange{From: p.From, To: p.To}, collateral)
	if err != nil {
		return nil, err
	}
	return formatChallenge(challenge), nil
}

func (s *Server) handleResolve(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p resolveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	kind, err := dispute.ParseEvidenceKind(p.Evidence)
	if err != nil {
		return nil, err
	}
	evidence := dispute.Evidence{Kind: kind, DumpNumber: p.DumpNumber}
	challenge, err := s.coord.ResolveChallenge(operator, dispute.DumpRange{From: p.From, To: p.To}, evidence)
	if err != nil {
		return nil, err
	}
	return formatChallenge(challenge), nil
}

func (s *Server) handleRedeem(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p paymentRefParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	payment, err := s.coord.RedeemPayment(operator, dispute.DumpRange{From: p.From, To: p.To})
	if err != nil {
		return nil, err
	}
	return formatPayment(payment), nil
}

func (s *Server) handleDisputeGet(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p paymentRefParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	rng := dispute.DumpRange{From: p.From, To: p.To}
	payment, ok, err := s.coord.Payment(operator, rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispute.ErrPaymentNotFound
	}
	out := disputeResult{}
	formatted := formatPayment(payment)
	out.Payment = &formatted
	challenge, ok, err := s.coord.Challenge(operator, rng)
	if err != nil {
		return nil, err
	}
	if ok {
		formattedChallenge := formatChallenge(challenge)
		out.Challenge = &formattedChallenge
	}
	return out, nil
}
