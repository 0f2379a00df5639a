package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"datalayr/config"
	"datalayr/core/events"
	"datalayr/core/genesis"
	"datalayr/crypto"
	"datalayr/native/aggregate"
	nativecommon "datalayr/native/common"
	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/native/registry"
	"datalayr/observability/logging"
	"datalayr/storage"
)

type testOperator struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

type fixture struct {
	coord      *Coordinator
	sink       *events.Recorder
	operators  []testOperator
	submitter  [20]byte
	challenger [20]byte
}

func newOperators(t *testing.T, n int) []testOperator {
	t.Helper()
	ops := make([]testOperator, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		ops = append(ops, testOperator{key: key, addr: key.PubKey().Address().Array()})
	}
	return ops
}

func genesisDoc(ops []testOperator, weights []uint64, alloc map[[20]byte]uint64) string {
	var b strings.Builder
	b.WriteString("operators:\n")
	for i, op := range ops {
		fmt.Fprintf(&b, "  - pubKey: \"%s\"\n    weight: \"%d\"\n    asOfIndex: 1\n",
			hex.EncodeToString(op.key.PubKey().Compressed()), weights[i])
	}
	b.WriteString("alloc:\n")
	for addr, amount := range alloc {
		fmt.Fprintf(&b, "  %s: \"%d\"\n", crypto.FormatAddress(addr), amount)
	}
	return b.String()
}

func newFixture(t *testing.T, db storage.Database, global config.Global) *fixture {
	t.Helper()
	coord, err := NewCoordinator(db, global, logging.Discard())
	require.NoError(t, err)

	f := &fixture{
		coord:      coord,
		sink:       &events.Recorder{},
		operators:  newOperators(t, 3),
		submitter:  [20]byte{0x51},
		challenger: [20]byte{0xC1},
	}
	coord.SetEventSink(f.sink)

	alloc := map[[20]byte]uint64{
		f.submitter:  1_000_000,
		f.challenger: 10_000,
	}
	for _, op := range f.operators {
		alloc[op.addr] = 10_000
	}
	spec, err := genesis.ParseSpec([]byte(genesisDoc(f.operators, []uint64{40, 30, 30}, alloc)))
	require.NoError(t, err)
	require.NoError(t, coord.ApplyGenesis(spec))
	_, height, err := coord.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
	return f
}

func (f *fixture) sign(t *testing.T, record *datastore.Record, signers ...testOperator) aggregate.SignatureSet {
	t.Helper()
	digest := datastore.SignedDigest(record.DumpNumber, record.ContentDigest, record.TotalBytes)
	sorted := append([]testOperator(nil), signers...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].addr[:], sorted[j].addr[:]) < 0 })
	set := make(aggregate.SignatureSet, 0, len(sorted))
	for _, op := range sorted {
		sig, err := op.key.Sign(digest)
		require.NoError(t, err)
		set = append(set, aggregate.Signature{Signer: op.addr, Signature: sig})
	}
	return set
}

func (f *fixture) advance(t *testing.T, blocks int) {
	t.Helper()
	for i := 0; i < blocks; i++ {
		_, _, err := f.coord.Commit()
		require.NoError(t, err)
	}
}

func balance(t *testing.T, c *Coordinator, addr [20]byte) int64 {
	t.Helper()
	bal, err := c.Balance(addr)
	require.NoError(t, err)
	return bal.Int64()
}

func TestCoordinatorEndToEnd(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	f := newFixture(t, db, config.DefaultGlobal())
	c := f.coord
	opA, opB := f.operators[0], f.operators[1]

	total, err := c.TotalWeightAt(1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), total.Uint64())

	digest := ethcrypto.Keccak256Hash([]byte("blob")).Bytes()
	var content [32]byte
	copy(content[:], digest)
	record, err := c.InitDataStore(f.submitter, content, 100, 20, c.DefaultQuorumBps())
	require.NoError(t, err)
	require.Equal(t, uint64(1), record.DumpNumber)
	require.Equal(t, int64(2_000), record.Fee.Int64())
	require.Equal(t, int64(2_000), balance(t, c, c.Vaults().Fees))

	record, err = c.ConfirmDataStore(record.DumpNumber, content, f.sign(t, record, opA, opB))
	require.NoError(t, err)
	require.Equal(t, datastore.StatusConfirmed, record.Status)

	rng := dispute.DumpRange{From: 1, To: 1}
	payment, err := c.CommitPayment(opA.addr, rng, big.NewInt(800), big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, int64(9_000), balance(t, c, opA.addr))

	_, err = c.RedeemPayment(opA.addr, rng)
	require.ErrorIs(t, err, dispute.ErrFraudProofWindowOpen)

	f.advance(t, int(payment.Deadline-int64(c.Height())))
	_, err = c.RedeemPayment(opA.addr, rng)
	require.NoError(t, err)
	require.Equal(t, int64(10_000), balance(t, c, opA.addr))

	count, claimed, err := c.ClaimPayouts(opA.addr, 10)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, claimed.Sign())

	delay, err := c.WithdrawalDelay()
	require.NoError(t, err)
	f.advance(t, int(delay))
	count, claimed, err = c.ClaimPayouts(opA.addr, 10)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(800), claimed.Int64())
	require.Equal(t, int64(10_800), balance(t, c, opA.addr))

	payments, completed, err := c.Payouts(opA.addr)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, uint64(1), completed)

	types := f.sink.Types()
	require.Contains(t, types, "datastore.confirmed")
	require.Contains(t, types, "dispute.paymentRedeemed")
	require.Contains(t, types, "payout.claimed")

	var prev events.Envelope
	for i, evt := range f.sink.Events() {
		env, ok := evt.(events.Envelope)
		require.True(t, ok)
		require.NotNil(t, env.Payload)
		if i > 0 {
			require.True(t, env.Height > prev.Height || (env.Height == prev.Height && env.Seq == prev.Seq+1),
				"event %d out of order", i)
		}
		prev = env
	}
}

func TestCoordinatorRollsBackFailedOperation(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	f := newFixture(t, db, config.DefaultGlobal())
	c := f.coord

	record, err := c.InitDataStore(f.submitter, [32]byte{1}, 64, 20, 6_600)
	require.NoError(t, err)

	rootBefore := c.manager.PendingRoot()
	eventsBefore := len(f.sink.Events())

	set := f.sign(t, record, f.operators...)
	set[1].Signature = append([]byte(nil), set[1].Signature...)
	set[1].Signature[5] ^= 0xFF
	_, err = c.ConfirmDataStore(record.DumpNumber, record.ContentDigest, set)
	require.ErrorIs(t, err, aggregate.ErrInvalidSignature)

	require.Equal(t, rootBefore, c.manager.PendingRoot())
	require.Len(t, f.sink.Events(), eventsBefore)

	stored, ok, err := c.DataStoreRecord(record.DumpNumber)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, datastore.StatusInitialized, stored.Status)

	// Insufficient collateral leaves no partial escrow.
	_, err = c.ConfirmDataStore(record.DumpNumber, record.ContentDigest, f.sign(t, record, f.operators...))
	require.NoError(t, err)
	rng := dispute.DumpRange{From: record.DumpNumber, To: record.DumpNumber}
	_, err = c.CommitPayment(f.operators[0].addr, rng, big.NewInt(10), big.NewInt(1_000))
	require.NoError(t, err)
	_, err = c.OpenChallenge(f.challenger, f.operators[0].addr, rng, big.NewInt(999))
	require.ErrorIs(t, err, dispute.ErrInsufficientCollateral)
	require.Equal(t, int64(10_000), balance(t, c, f.challenger))
	_, ok, err = c.Challenge(f.operators[0].addr, rng)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCoordinatorChallengeResolution(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	f := newFixture(t, db, config.DefaultGlobal())
	c := f.coord
	opA, opB, opC := f.operators[0], f.operators[1], f.operators[2]

	record, err := c.InitDataStore(f.submitter, [32]byte{7}, 100, 20, 6_600)
	require.NoError(t, err)
	_, err = c.ConfirmDataStore(record.DumpNumber, record.ContentDigest, f.sign(t, record, opA, opB))
	require.NoError(t, err)

	// opC did not sign yet claims a share.
	rng := dispute.DumpRange{From: 1, To: 1}
	_, err = c.CommitPayment(opC.addr, rng, big.NewInt(600), big.NewInt(1_000))
	require.NoError(t, err)
	_, err = c.OpenChallenge(f.challenger, opC.addr, rng, big.NewInt(1_000))
	require.NoError(t, err)

	challenge, err := c.ResolveChallenge(opC.addr, rng, dispute.NonSigner(1))
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeChallengerWins, challenge.Outcome)
	require.Equal(t, int64(11_000), balance(t, c, f.challenger))

	payment, ok, err := c.Payment(opC.addr, rng)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dispute.PaymentRejected, payment.Status)

	_, err = c.RedeemPayment(opC.addr, rng)
	require.ErrorIs(t, err, dispute.ErrPaymentRejected)
}

func TestCoordinatorFreezesWeightsOfAllocatedDumps(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	f := newFixture(t, db, config.DefaultGlobal())
	c := f.coord
	opA, opB := f.operators[0], f.operators[1]

	for i := byte(1); i <= 2; i++ {
		record, err := c.InitDataStore(f.submitter, [32]byte{i}, 100, 20, 6_600)
		require.NoError(t, err)
		_, err = c.ConfirmDataStore(record.DumpNumber, record.ContentDigest, f.sign(t, record, opA, opB))
		require.NoError(t, err)
	}
	rng := dispute.DumpRange{From: 2, To: 2}
	before, err := dispute.RecomputeFee(opA.addr, rng, c.datastore)
	require.NoError(t, err)
	require.Equal(t, int64(800), before.Int64())

	for _, idx := range []uint64{1, 2} {
		_, err = c.RecordStakeUpdate(opA.addr, uint256.NewInt(1_000_000), idx)
		require.ErrorIs(t, err, registry.ErrStaleUpdate, "index %d", idx)
	}
	weight, ok, err := c.WeightAt(opA.addr, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), weight.Uint64())

	_, err = c.RecordStakeUpdate(opA.addr, uint256.NewInt(1_000_000), 3)
	require.NoError(t, err)
	after, err := dispute.RecomputeFee(opA.addr, rng, c.datastore)
	require.NoError(t, err)
	require.Equal(t, before.String(), after.String())
}

func TestCoordinatorChallengeSurvivesDefenderEvidence(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	f := newFixture(t, db, config.DefaultGlobal())
	c := f.coord
	opA, opB := f.operators[0], f.operators[1]

	record, err := c.InitDataStore(f.submitter, [32]byte{9}, 100, 20, 6_600)
	require.NoError(t, err)
	_, err = c.ConfirmDataStore(record.DumpNumber, record.ContentDigest, f.sign(t, record, opA, opB))
	require.NoError(t, err)

	// opA earned 800 but claims 5000.
	rng := dispute.DumpRange{From: 1, To: 1}
	_, err = c.CommitPayment(opA.addr, rng, big.NewInt(5_000), big.NewInt(1_000))
	require.NoError(t, err)
	_, err = c.OpenChallenge(f.challenger, opA.addr, rng, big.NewInt(1_000))
	require.NoError(t, err)

	_, err = c.ResolveChallenge(opA.addr, rng, dispute.NonSigner(1))
	require.ErrorIs(t, err, dispute.ErrInvalidEvidence)
	challenge, ok, err := c.Challenge(opA.addr, rng)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dispute.OutcomePending, challenge.Outcome)

	challenge, err = c.ResolveChallenge(opA.addr, rng, dispute.FeeRecompute())
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeChallengerWins, challenge.Outcome)
	require.Equal(t, int64(11_000), balance(t, c, f.challenger))
	require.Equal(t, int64(9_000), balance(t, c, opA.addr))
}

func TestCoordinatorHonoursPauses(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	global := config.DefaultGlobal()
	global.Pauses.DataStore = true
	f := newFixture(t, db, global)

	_, err := f.coord.InitDataStore(f.submitter, [32]byte{1}, 10, 20, 6_600)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	weight, ok, err := f.coord.WeightAt(f.operators[0].addr, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), weight.Uint64())
}

func TestCoordinatorReopensCommittedState(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	f := newFixture(t, db, config.DefaultGlobal())
	_, err = f.coord.InitDataStore(f.submitter, [32]byte{3}, 10, 20, 6_600)
	require.NoError(t, err)
	root, height, err := f.coord.Commit()
	require.NoError(t, err)
	require.Equal(t, uint64(2), height)
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	coord, err := NewCoordinator(reopened, config.DefaultGlobal(), logging.Discard())
	require.NoError(t, err)
	require.True(t, coord.Initialized())
	require.Equal(t, uint64(3), coord.Height())
	require.Equal(t, root, coord.manager.PendingRoot())

	latest, err := coord.LatestDumpNumber()
	require.NoError(t, err)
	require.Equal(t, uint64(1), latest)
	require.Equal(t, int64(1_000_000-200), balance(t, coord, f.submitter))
}

func TestNewCoordinatorRejectsInvalidConfig(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	global := config.DefaultGlobal()
	global.DataStore.DefaultQuorumBps = 10_001
	_, err := NewCoordinator(db, global, nil)
	require.Error(t, err)
}
