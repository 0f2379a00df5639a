package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"datalayr/crypto"
	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/native/payout"
	"datalayr/native/registry"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type snapshotJSON struct {
	Operator   string `json:"operator"`
	Weight     string `json:"weight"`
	StartIndex uint64 `json:"startIndex"`
	EndIndex   uint64 `json:"endIndex,omitempty"`
}

func formatSnapshot(s *registry.Snapshot) snapshotJSON {
	return snapshotJSON{
		Operator:   crypto.FormatAddress(s.Operator),
		Weight:     formatWeight(s.Weight),
		StartIndex: s.StartIndex,
		EndIndex:   s.EndIndex,
	}
}

type recordJSON struct {
	DumpNumber          uint64   `json:"dumpNumber"`
	ContentDigest       string   `json:"contentDigest"`
	TotalBytes          uint64   `json:"totalBytes"`
	StorePeriod         int64    `json:"storePeriod"`
	Submitter           string   `json:"submitter"`
	QuorumBps           uint32   `json:"quorumBps"`
	Status              string   `json:"status"`
	InitTime            int64    `json:"initTime"`
	ExpiresAt           int64    `json:"expiresAt"`
	Fee                 string   `json:"fee"`
	AggregateSigHash    string   `json:"aggregateSigHash,omitempty"`
	SignatoryRecordHash string   `json:"signatoryRecordHash,omitempty"`
	Signers             []string `json:"signers,omitempty"`
	SignedWeight        string   `json:"signedWeight,omitempty"`
	TotalWeight         string   `json:"totalWeight,omitempty"`
	ConfirmedAt         int64    `json:"confirmedAt,omitempty"`
}

func formatRecord(r *datastore.Record) recordJSON {
	out := recordJSON{
		DumpNumber:    r.DumpNumber,
		ContentDigest: formatHash(r.ContentDigest),
		TotalBytes:    r.TotalBytes,
		StorePeriod:   r.StorePeriod,
		Submitter:     crypto.FormatAddress(r.Submitter),
		QuorumBps:     r.QuorumBps,
		Status:        r.Status.String(),
		InitTime:      r.InitTime,
		ExpiresAt:     r.ExpiresAt(),
		Fee:           formatAmount(r.Fee),
	}
	if r.Status == datastore.StatusConfirmed {
		out.AggregateSigHash = formatHash(r.AggregateSigHash)
		out.SignatoryRecordHash = formatHash(r.SignatoryRecordHash)
		out.SignedWeight = formatWeight(r.SignedWeight)
		out.TotalWeight = formatWeight(r.TotalWeight)
		out.ConfirmedAt = r.ConfirmedAt
		out.Signers = make([]string, 0, len(r.Signers))
		for _, signer := range r.Signers {
			out.Signers = append(out.Signers, crypto.FormatAddress(signer))
		}
	}
	return out
}

type paymentJSON struct {
	Operator           string `json:"operator"`
	From               uint64 `json:"from"`
	To                 uint64 `json:"to"`
	Claimed            string `json:"claimed"`
	Collateral         string `json:"collateral"`
	CommittedAt        int64  `json:"committedAt"`
	Deadline           int64  `json:"deadline"`
	Status             string `json:"status"`
	CollateralReleased bool   `json:"collateralReleased"`
}

func formatPayment(p *dispute.Payment) paymentJSON {
	return paymentJSON{
		Operator:           crypto.FormatAddress(p.Operator),
		From:               p.Range.From,
		To:                 p.Range.To,
		Claimed:            formatAmount(p.Claimed),
		Collateral:         formatAmount(p.Collateral),
		CommittedAt:        p.CommittedAt,
		Deadline:           p.Deadline,
		Status:             p.Status.String(),
		CollateralReleased: p.CollateralReleased,
	}
}

type challengeJSON struct {
	Operator   string `json:"operator"`
	From       uint64 `json:"from"`
	To         uint64 `json:"to"`
	Challenger string `json:"challenger"`
	Collateral string `json:"collateral"`
	OpenedAt   int64  `json:"openedAt"`
	Deadline   int64  `json:"deadline"`
	Outcome    string `json:"outcome"`
	Evidence   string `json:"evidence"`
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
}

func formatChallenge(c *dispute.Challenge) challengeJSON {
	return challengeJSON{
		Operator:   crypto.FormatAddress(c.Operator),
		From:       c.Range.From,
		To:         c.Range.To,
		Challenger: crypto.FormatAddress(c.Challenger),
		Collateral: formatAmount(c.Collateral),
		OpenedAt:   c.OpenedAt,
		Deadline:   c.Deadline,
		Outcome:    c.Outcome.String(),
		Evidence:   c.Evidence.String(),
		ResolvedAt: c.ResolvedAt,
	}
}

type payoutJSON struct {
	Recipient string `json:"recipient"`
	Index     uint64 `json:"index"`
	Amount    string `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
	Claimed   bool   `json:"claimed"`
}

func formatPayout(p *payout.Payment) payoutJSON {
	return payoutJSON{
		Recipient: crypto.FormatAddress(p.Recipient),
		Index:     p.Index,
		Amount:    formatAmount(p.Amount),
		CreatedAt: p.CreatedAt,
		Claimed:   p.Claimed,
	}
}

func formatHash(h [32]byte) string { return "0x" + hex.EncodeToString(h[:]) }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatWeight(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseHash(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := parseHexBytes(value)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("hex value required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
