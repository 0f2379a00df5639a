package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/holiman/uint256"

	"datalayr/crypto"
)

type registerOperatorParams struct {
	Operator string `json:"operator"`
	PubKey   string `json:"pubKey"`
}

type recordStakeParams struct {
	Operator  string `json:"operator"`
	Weight    string `json:"weight"`
	AsOfIndex uint64 `json:"asOfIndex"`
}

type weightAtParams struct {
	Operator string `json:"operator"`
	Index    uint64 `json:"index"`
}

type indexParams struct {
	Index uint64 `json:"index"`
}

type operatorParams struct {
	Operator string `json:"operator"`
}

type weightResult struct {
	Weight     string `json:"weight"`
	Registered bool   `json:"registered"`
}

func parseAddressParam(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, invalidParams("invalid "+field, err.Error())
	}
	return addr, nil
}

func (s *Server) handleRegisterOperator(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p registerOperatorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	pubKey, err := parseHexBytes(p.PubKey)
	if err != nil {
		return nil, invalidParams("invalid pubKey", err.Error())
	}
	if err := s.coord.RegisterOperator(operator, pubKey); err != nil {
		return nil, err
	}
	return map[string]string{"operator": crypto.FormatAddress(operator)}, nil
}

func (s *Server) handleRecordStake(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p recordStakeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	weight, err := uint256.FromDecimal(strings.TrimSpace(p.Weight))
	if err != nil {
		return nil, invalidParams("invalid weight", err.Error())
	}
	snap, err := s.coord.RecordStakeUpdate(operator, weight, p.AsOfIndex)
	if err != nil {
		return nil, err
	}
	return formatSnapshot(snap), nil
}

func (s *Server) handleWeightAt(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p weightAtParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	weight, ok, err := s.coord.WeightAt(operator, p.Index)
	if err != nil {
		return nil, err
	}
	return weightResult{Weight: formatWeight(weight), Registered: ok}, nil
}

func (s *Server) handleTotalWeightAt(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p indexParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	total, err := s.coord.TotalWeightAt(p.Index)
	if err != nil {
		return nil, err
	}
	return weightResult{Weight: formatWeight(total), Registered: !total.IsZero()}, nil
}

func (s *Server) handleHistory(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p operatorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	operator, err := parseAddressParam("operator", p.Operator)
	if err != nil {
		return nil, err
	}
	history, err := s.coord.OperatorHistory(operator)
	if err != nil {
		return nil, err
	}
	out := make([]snapshotJSON, 0, len(history))
	for _, snap := range history {
		out = append(out, formatSnapshot(snap))
	}
	return out, nil
}
