package config

import "fmt"

// MaxQuorumBps mirrors the ledger's upper bound on quorum thresholds.
const MaxQuorumBps = uint32(10_000)

func ValidateConfig(g Global) error {
	if g.DataStore.DefaultQuorumBps > MaxQuorumBps {
		return fmt.Errorf("datastore: default_quorum_bps > %d", MaxQuorumBps)
	}
	if g.DataStore.MinStorePeriod <= 0 || g.DataStore.MinStorePeriod > g.DataStore.MaxStorePeriod {
		return fmt.Errorf("datastore: min_store_period > max_store_period or non-positive")
	}
	if g.Dispute.FraudProofInterval <= 0 {
		return fmt.Errorf("dispute: fraud_proof_interval <= 0")
	}
	if g.Payout.MaxWithdrawalDelay < 0 {
		return fmt.Errorf("payout: max_withdrawal_delay < 0")
	}
	if g.Payout.WithdrawalDelay < 0 || g.Payout.WithdrawalDelay > g.Payout.MaxWithdrawalDelay {
		return fmt.Errorf("payout: withdrawal_delay outside [0, max_withdrawal_delay]")
	}
	if g.RPC.RequestsPerSecond < 0 || g.RPC.Burst < 0 {
		return fmt.Errorf("rpc: negative rate limit")
	}
	if g.RPC.RequestsPerSecond > 0 && g.RPC.Burst == 0 {
		return fmt.Errorf("rpc: burst must be positive when rate limiting")
	}
	if _, err := g.Amounts(); err != nil {
		return err
	}
	return nil
}
