package rpc

import (
	"context"
	"encoding/json"

	"datalayr/crypto"
)

type payoutCreateParams struct {
	Funder    string `json:"funder"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type payoutClaimParams struct {
	Recipient string `json:"recipient"`
	MaxCount  int    `json:"maxCount"`
}

type withdrawalDelayParams struct {
	Delay int64 `json:"delay"`
}

type recipientParams struct {
	Recipient string `json:"recipient"`
}

type addressParams struct {
	Address string `json:"address"`
}

type claimResult struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

type payoutListResult struct {
	Payments        []payoutJSON `json:"payments"`
	Completed       uint64       `json:"completed"`
	WithdrawalDelay int64        `json:"withdrawalDelay"`
}

type commitResult struct {
	Root   string `json:"root"`
	Height uint64 `json:"height"`
}

func (s *Server) handlePayoutCreate(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p payoutCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	funder, err := parseAddressParam("funder", p.Funder)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddressParam("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	payment, err := s.coord.CreatePayout(funder, recipient, amount)
	if err != nil {
		return nil, err
	}
	return formatPayout(payment), nil
}

func (s *Server) handlePayoutClaim(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p payoutClaimParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	recipient, err := parseAddressParam("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	if p.MaxCount <= 0 {
		return nil, invalidParams("maxCount must be positive", p.MaxCount)
	}
	count, total, err := s.coord.ClaimPayouts(recipient, p.MaxCount)
	if err != nil {
		return nil, err
	}
	return claimResult{Count: count, Total: formatAmount(total)}, nil
}

func (s *Server) handleSetWithdrawalDelay(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p withdrawalDelayParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.coord.SetWithdrawalDelay(p.Delay); err != nil {
		return nil, err
	}
	return map[string]int64{"withdrawalDelay": p.Delay}, nil
}

func (s *Server) handlePayoutList(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p recipientParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	recipient, err := parseAddressParam("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	payments, completed, err := s.coord.Payouts(recipient)
	if err != nil {
		return nil, err
	}
	delay, err := s.coord.WithdrawalDelay()
	if err != nil {
		return nil, err
	}
	out := payoutListResult{
		Payments:        make([]payoutJSON, 0, len(payments)),
		Completed:       completed,
		WithdrawalDelay: delay,
	}
	for _, payment := range payments {
		out.Payments = append(out.Payments, formatPayout(payment))
	}
	return out, nil
}

func (s *Server) handleCommit(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) > 0 {
		return nil, invalidParams("no parameters expected", nil)
	}
	root, height, err := s.coord.Commit()
	if err != nil {
		return nil, err
	}
	return commitResult{Root: root.Hex(), Height: height}, nil
}

func (s *Server) handleGetBalance(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddressParam("address", p.Address)
	if err != nil {
		return nil, err
	}
	balance, err := s.coord.Balance(addr)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": crypto.FormatAddress(addr), "balance": formatAmount(balance)}, nil
}

func (s *Server) handleHeight(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) > 0 {
		return nil, invalidParams("no parameters expected", nil)
	}
	return map[string]uint64{"height": s.coord.Height()}, nil
}
