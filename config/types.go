package config

// DataStore holds the ledger parameters applied to new records.
type DataStore struct {
	DefaultQuorumBps uint32
	FeePerBytePeriod string // base units, decimal
	MinStorePeriod   int64
	MaxStorePeriod   int64
}

// Dispute configures the fraud-proof window and collateral floor.
type Dispute struct {
	FraudProofInterval int64
	MinCollateral      string // base units, decimal
}

// Payout bounds the escrow withdrawal delay.
type Payout struct {
	WithdrawalDelay    int64
	MaxWithdrawalDelay int64
}

type Pauses struct {
	Registry  bool
	DataStore bool
	Dispute   bool
	Payout    bool
}

// RPC controls request admission on the JSON-RPC endpoint.
type RPC struct {
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	DataStore DataStore
	Dispute   Dispute
	Payout    Payout
	Pauses    Pauses
	RPC       RPC
}

// DefaultGlobal returns the parameters used for a freshly created node.
func DefaultGlobal() Global {
	return Global{
		DataStore: DataStore{
			DefaultQuorumBps: 6_600,
			FeePerBytePeriod: "1",
			MinStorePeriod:   10,
			MaxStorePeriod:   100_000,
		},
		Dispute: Dispute{
			FraudProofInterval: 50,
			MinCollateral:      "1000",
		},
		Payout: Payout{
			WithdrawalDelay:    100,
			MaxWithdrawalDelay: 10_000,
		},
		RPC: RPC{
			RequestsPerSecond: 20,
			Burst:             40,
			MaxBodyBytes:      1 << 20,
		},
	}
}
