package config

import (
	"fmt"
	"math/big"
	"strings"
)

// Amounts holds the parsed big-integer parameters of Global.
type Amounts struct {
	FeePerBytePeriod *big.Int
	MinCollateral    *big.Int
}

// Amounts parses the configured decimal amounts into runtime values.
func (g Global) Amounts() (Amounts, error) {
	var out Amounts
	fee, err := parseUintAmount(g.DataStore.FeePerBytePeriod)
	if err != nil {
		return out, fmt.Errorf("invalid global.DataStore.FeePerBytePeriod: %w", err)
	}
	out.FeePerBytePeriod = fee
	collateral, err := parseUintAmount(g.Dispute.MinCollateral)
	if err != nil {
		return out, fmt.Errorf("invalid global.Dispute.MinCollateral: %w", err)
	}
	out.MinCollateral = collateral
	return out, nil
}

// PausedModules maps the pause flags onto module names.
func (p Pauses) PausedModules() map[string]bool {
	return map[string]bool{
		"registry":  p.Registry,
		"datastore": p.DataStore,
		"dispute":   p.Dispute,
		"payout":    p.Payout,
	}
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("must not be negative: %q", value)
	}
	return amount, nil
}
