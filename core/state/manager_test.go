package state

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/native/payout"
	"datalayr/native/registry"
	"datalayr/storage"
	"datalayr/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewManager(tr)
}

func TestKVRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ok, err := m.KVGet([]byte("missing"), new(uint64))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.KVPut([]byte("answer"), uint64(42)))
	var got uint64
	ok, err = m.KVGet([]byte("answer"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), got)

	require.NoError(t, m.KVDelete([]byte("answer")))
	ok, err = m.KVGet([]byte("answer"), &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, m.KVPut(nil, uint64(1)))
}

func TestTransfer(t *testing.T) {
	m := newTestManager(t)
	alice, bob := [20]byte{1}, [20]byte{2}
	require.NoError(t, m.SetBalance(alice, big.NewInt(100)))

	require.ErrorIs(t, m.Transfer(alice, bob, big.NewInt(101)), ErrInsufficientFunds)
	require.NoError(t, m.Transfer(alice, bob, big.NewInt(60)))

	a, err := m.Balance(alice)
	require.NoError(t, err)
	b, err := m.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, int64(40), a.Int64())
	require.Equal(t, int64(60), b.Int64())

	require.Error(t, m.Transfer(alice, bob, big.NewInt(-1)))
	require.Error(t, m.SetBalance(alice, big.NewInt(-1)))
}

func TestSavepointRestore(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{7}
	require.NoError(t, m.SetBalance(addr, big.NewInt(10)))
	rootBefore := m.PendingRoot()

	savepoint, err := m.Savepoint()
	require.NoError(t, err)
	require.NoError(t, m.SetBalance(addr, big.NewInt(99)))
	require.NotEqual(t, rootBefore, m.PendingRoot())

	m.Restore(savepoint)
	bal, err := m.Balance(addr)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Int64())
	require.Equal(t, rootBefore, m.PendingRoot())
}

func TestPauses(t *testing.T) {
	m := newTestManager(t)
	require.False(t, m.IsPaused("datastore"))
	require.NoError(t, m.SetPaused("datastore", true))
	require.True(t, m.IsPaused("datastore"))
	require.False(t, m.IsPaused("payout"))
	require.NoError(t, m.SetPaused("datastore", false))
	require.False(t, m.IsPaused("datastore"))
}

func TestRegistryStateBacksEngine(t *testing.T) {
	m := newTestManager(t)
	engine := registry.NewEngine()
	engine.SetState(m)

	op := [20]byte{0xAA}
	require.NoError(t, m.RegistryPutOperatorKey(op, []byte{0x02, 0x01}))
	require.NoError(t, m.RegistryPutOperatorKey(op, []byte{0x02, 0x01}))
	operators, err := m.RegistryOperators()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{op}, operators)

	_, err = engine.RecordStakeUpdate(op, uint256.NewInt(10), 1)
	require.NoError(t, err)
	_, err = engine.RecordStakeUpdate(op, uint256.NewInt(25), 4)
	require.NoError(t, err)

	count, err := m.RegistrySnapshotCount(op)
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	first, err := m.RegistrySnapshot(op, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4), first.EndIndex)

	weight, ok, err := engine.WeightAt(op, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), weight.Uint64())

	_, err = m.RegistrySnapshot(op, 5)
	require.ErrorIs(t, err, registry.ErrSnapshotNotFound)
}

func TestDataStoreRecordRoundTrip(t *testing.T) {
	m := newTestManager(t)
	latest, err := m.DataStoreLatest()
	require.NoError(t, err)
	require.Zero(t, latest)

	record := &datastore.Record{
		DumpNumber:    3,
		ContentDigest: [32]byte{9},
		TotalBytes:    2048,
		StorePeriod:   60,
		Submitter:     [20]byte{5},
		QuorumBps:     6_600,
		Status:        datastore.StatusConfirmed,
		InitTime:      100,
		Fee:           big.NewInt(1234),
		Signers:       [][20]byte{{1}, {2}},
		SignerWeights: []*uint256.Int{uint256.NewInt(40), uint256.NewInt(30)},
		SignedWeight:  uint256.NewInt(70),
		TotalWeight:   uint256.MustFromDecimal("340282366920938463463374607431768211456"),
		ConfirmedAt:   120,
	}
	require.NoError(t, m.DataStorePut(record))
	require.NoError(t, m.DataStorePutLatest(3))

	got, ok, err := m.DataStoreGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.ContentDigest, got.ContentDigest)
	require.Equal(t, record.Signers, got.Signers)
	weight, ok := got.WeightOf([20]byte{2})
	require.True(t, ok)
	require.Equal(t, uint64(30), weight.Uint64())
	require.Equal(t, record.Status, got.Status)
	require.Equal(t, 0, record.Fee.Cmp(got.Fee))
	require.True(t, record.TotalWeight.Eq(got.TotalWeight))
	require.True(t, record.SignedWeight.Eq(got.SignedWeight))
	require.Equal(t, record.ExpiresAt(), got.ExpiresAt())

	_, ok, err = m.DataStoreGet(4)
	require.NoError(t, err)
	require.False(t, ok)

	latest, err = m.DataStoreLatest()
	require.NoError(t, err)
	require.Equal(t, uint64(3), latest)
}

func TestDisputeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	op := [20]byte{0x0A}
	rng := dispute.DumpRange{From: 1, To: 4}

	payment := &dispute.Payment{
		Operator:    op,
		Range:       rng,
		Claimed:     big.NewInt(500),
		Collateral:  big.NewInt(100),
		CommittedAt: 10,
		Deadline:    60,
		Status:      dispute.PaymentChallenged,
	}
	require.NoError(t, m.DisputePutPayment(payment))
	got, ok, err := m.DisputePayment(op, rng)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payment.Status, got.Status)
	require.Equal(t, payment.Deadline, got.Deadline)
	require.Equal(t, 0, payment.Claimed.Cmp(got.Claimed))

	_, ok, err = m.DisputePayment(op, dispute.DumpRange{From: 1, To: 3})
	require.NoError(t, err)
	require.False(t, ok)

	challenge := &dispute.Challenge{
		Operator:   op,
		Range:      rng,
		Challenger: [20]byte{0xCC},
		Collateral: big.NewInt(100),
		OpenedAt:   20,
		Deadline:   70,
		Outcome:    dispute.OutcomeChallengerWins,
		Evidence:   dispute.EvidenceNonSigner,
		ResolvedAt: 30,
	}
	require.NoError(t, m.DisputePutChallenge(challenge))
	gotChallenge, ok, err := m.DisputeChallenge(op, rng)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, challenge.Outcome, gotChallenge.Outcome)
	require.Equal(t, challenge.Evidence, gotChallenge.Evidence)
	require.Equal(t, challenge.Challenger, gotChallenge.Challenger)

	require.NoError(t, m.DisputePutLastCommitted(op, 4))
	last, ok, err := m.DisputeLastCommitted(op)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(4), last)
}

func TestPayoutStateBacksEngine(t *testing.T) {
	m := newTestManager(t)
	vault := [20]byte{0xEE}
	recipient := [20]byte{0x01}
	require.NoError(t, m.SetBalance(vault, big.NewInt(1_000)))

	now := int64(10)
	engine := payout.NewEngine()
	engine.SetState(m)
	engine.SetBank(m)
	engine.SetParams(payout.Params{DefaultWithdrawalDelay: 100, MaxWithdrawalDelay: 500, Vault: vault})
	engine.SetNowFunc(func() int64 { return now })

	_, err := engine.CreatePayment(recipient, big.NewInt(300))
	require.NoError(t, err)
	now = 110
	count, total, err := engine.Claim(recipient, 5)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(300), total.Int64())

	bal, err := m.Balance(recipient)
	require.NoError(t, err)
	require.Equal(t, int64(300), bal.Int64())

	completed, err := m.PayoutCompleted(recipient)
	require.NoError(t, err)
	require.Equal(t, uint64(1), completed)

	require.NoError(t, engine.SetWithdrawalDelay(250))
	delay, ok, err := m.PayoutWithdrawalDelay()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(250), delay)
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	m := NewManager(tr)

	addr := [20]byte{3}
	require.NoError(t, m.SetBalance(addr, big.NewInt(77)))
	root, err := m.Commit(1)
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	tr2, err := trie.NewTrie(reopened, root.Bytes())
	require.NoError(t, err)
	bal, err := NewManager(tr2).Balance(addr)
	require.NoError(t, err)
	require.Equal(t, int64(77), bal.Int64())
}
