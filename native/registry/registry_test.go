package registry

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"datalayr/core/events"
	"datalayr/crypto"
)

type mockState struct {
	keys      map[[20]byte][]byte
	order     [][20]byte
	snapshots map[[20]byte][]*Snapshot
}

func newMockState() *mockState {
	return &mockState{
		keys:      make(map[[20]byte][]byte),
		snapshots: make(map[[20]byte][]*Snapshot),
	}
}

func (m *mockState) RegistryOperatorKey(operator [20]byte) ([]byte, bool, error) {
	key, ok := m.keys[operator]
	return append([]byte(nil), key...), ok, nil
}

func (m *mockState) RegistryPutOperatorKey(operator [20]byte, pubKey []byte) error {
	if _, ok := m.keys[operator]; !ok {
		m.order = append(m.order, operator)
	}
	m.keys[operator] = append([]byte(nil), pubKey...)
	return nil
}

func (m *mockState) RegistryOperators() ([][20]byte, error) {
	return append([][20]byte(nil), m.order...), nil
}

func (m *mockState) RegistrySnapshotCount(operator [20]byte) (uint64, error) {
	return uint64(len(m.snapshots[operator])), nil
}

func (m *mockState) RegistrySnapshot(operator [20]byte, position uint64) (*Snapshot, error) {
	return m.snapshots[operator][position].Clone(), nil
}

func (m *mockState) RegistryPutSnapshot(operator [20]byte, position uint64, snap *Snapshot) error {
	list := m.snapshots[operator]
	if position == uint64(len(list)) {
		m.snapshots[operator] = append(list, snap.Clone())
		return nil
	}
	list[position] = snap.Clone()
	return nil
}

type testOperator struct {
	key  *crypto.PrivateKey
	addr [20]byte
}

func newTestOperator(t *testing.T) testOperator {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return testOperator{key: key, addr: key.PubKey().Address().Array()}
}

func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	engine := NewEngine()
	engine.SetState(newMockState())
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	return engine, rec
}

func registered(t *testing.T, engine *Engine) testOperator {
	t.Helper()
	op := newTestOperator(t)
	require.NoError(t, engine.RegisterOperator(op.addr, op.key.PubKey().Compressed()))
	return op
}

func weightOf(t *testing.T, engine *Engine, operator [20]byte, index uint64) uint64 {
	t.Helper()
	weight, ok, err := engine.WeightAt(operator, index)
	require.NoError(t, err)
	if !ok {
		return 0
	}
	return weight.Uint64()
}

func TestRegisterOperator(t *testing.T) {
	engine, rec := newTestEngine(t)
	op := newTestOperator(t)
	other := newTestOperator(t)

	require.ErrorIs(t, engine.RegisterOperator(op.addr, other.key.PubKey().Compressed()), ErrKeyMismatch)
	require.ErrorIs(t, engine.RegisterOperator(op.addr, []byte{0x01}), ErrInvalidKey)

	require.NoError(t, engine.RegisterOperator(op.addr, op.key.PubKey().Compressed()))
	require.NoError(t, engine.RegisterOperator(op.addr, op.key.PubKey().Compressed()))
	require.Equal(t, []string{EventTypeOperatorRegistered}, rec.Types())

	key, ok, err := engine.OperatorKey(op.addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, op.key.PubKey().Compressed(), key)
}

func TestRecordStakeUpdateRequiresRegistration(t *testing.T) {
	engine, _ := newTestEngine(t)
	op := newTestOperator(t)
	_, err := engine.RecordStakeUpdate(op.addr, uint256.NewInt(10), 1)
	require.ErrorIs(t, err, ErrOperatorNotRegistered)
}

func TestRecordStakeUpdateRejectsStaleIndex(t *testing.T) {
	engine, _ := newTestEngine(t)
	op := registered(t, engine)

	_, err := engine.RecordStakeUpdate(op.addr, uint256.NewInt(10), 5)
	require.NoError(t, err)

	for _, idx := range []uint64{5, 4, 0} {
		_, err = engine.RecordStakeUpdate(op.addr, uint256.NewInt(20), idx)
		require.ErrorIs(t, err, ErrStaleUpdate, "index %d", idx)
	}
	history, err := engine.History(op.addr)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Open())
}

func TestWeightAtResolvesWindows(t *testing.T) {
	engine, rec := newTestEngine(t)
	op := registered(t, engine)

	updates := []struct {
		weight uint64
		index  uint64
	}{{100, 3}, {250, 7}, {0, 12}, {40, 20}}
	for _, u := range updates {
		_, err := engine.RecordStakeUpdate(op.addr, uint256.NewInt(u.weight), u.index)
		require.NoError(t, err)
	}

	cases := []struct {
		index  uint64
		weight uint64
		ok     bool
	}{
		{0, 0, false},
		{2, 0, false},
		{3, 100, true},
		{6, 100, true},
		{7, 250, true},
		{11, 250, true},
		{12, 0, false},
		{19, 0, false},
		{20, 40, true},
		{1_000_000, 40, true},
	}
	for _, tc := range cases {
		weight, ok, err := engine.WeightAt(op.addr, tc.index)
		require.NoError(t, err)
		require.Equal(t, tc.ok, ok, "index %d", tc.index)
		if tc.ok {
			require.Equal(t, tc.weight, weight.Uint64(), "index %d", tc.index)
		}
	}

	history, err := engine.History(op.addr)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 0; i < len(history)-1; i++ {
		require.Equal(t, history[i+1].StartIndex, history[i].EndIndex)
	}
	require.Len(t, rec.Events(), 1+len(updates))
}

func TestWeightLookupsStableUnderHistoryGrowth(t *testing.T) {
	engine, _ := newTestEngine(t)
	a := registered(t, engine)
	b := registered(t, engine)

	_, err := engine.RecordStakeUpdate(a.addr, uint256.NewInt(10), 1)
	require.NoError(t, err)
	_, err = engine.RecordStakeUpdate(b.addr, uint256.NewInt(30), 2)
	require.NoError(t, err)

	before := make(map[uint64][2]uint64)
	for idx := uint64(0); idx < 10; idx++ {
		before[idx] = [2]uint64{weightOf(t, engine, a.addr, idx), weightOf(t, engine, b.addr, idx)}
	}

	_, err = engine.RecordStakeUpdate(a.addr, uint256.NewInt(500), 10)
	require.NoError(t, err)

	for idx := uint64(0); idx < 10; idx++ {
		got := [2]uint64{weightOf(t, engine, a.addr, idx), weightOf(t, engine, b.addr, idx)}
		require.Equal(t, before[idx], got, "index %d", idx)
	}
	require.Equal(t, uint64(500), weightOf(t, engine, a.addr, 10))
}

type fixedIndex uint64

func (f *fixedIndex) LatestDumpNumber() (uint64, error) { return uint64(*f), nil }

func TestRecordStakeUpdateCannotReachAllocatedDumps(t *testing.T) {
	engine, _ := newTestEngine(t)
	latest := fixedIndex(0)
	engine.SetIndexSource(&latest)
	a := registered(t, engine)
	b := registered(t, engine)

	_, err := engine.RecordStakeUpdate(a.addr, uint256.NewInt(40), 1)
	require.NoError(t, err)
	_, err = engine.RecordStakeUpdate(b.addr, uint256.NewInt(30), 1)
	require.NoError(t, err)

	// Dumps 1 and 2 exist; their weights must not move.
	latest = 2
	for _, idx := range []uint64{1, 2} {
		_, err = engine.RecordStakeUpdate(a.addr, uint256.NewInt(1_000_000), idx)
		require.ErrorIs(t, err, ErrStaleUpdate, "index %d", idx)
	}
	require.Equal(t, uint64(40), weightOf(t, engine, a.addr, 2))
	total, err := engine.TotalWeightAt(2)
	require.NoError(t, err)
	require.Equal(t, uint64(70), total.Uint64())

	_, err = engine.RecordStakeUpdate(a.addr, uint256.NewInt(1_000_000), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(40), weightOf(t, engine, a.addr, 2))
	require.Equal(t, uint64(1_000_000), weightOf(t, engine, a.addr, 3))
}

func TestTotalWeightAt(t *testing.T) {
	engine, _ := newTestEngine(t)
	a := registered(t, engine)
	b := registered(t, engine)
	c := registered(t, engine)

	_, err := engine.RecordStakeUpdate(a.addr, uint256.NewInt(40), 1)
	require.NoError(t, err)
	_, err = engine.RecordStakeUpdate(b.addr, uint256.NewInt(30), 1)
	require.NoError(t, err)
	_, err = engine.RecordStakeUpdate(c.addr, uint256.NewInt(30), 5)
	require.NoError(t, err)

	total, err := engine.TotalWeightAt(0)
	require.NoError(t, err)
	require.True(t, total.IsZero())

	total, err = engine.TotalWeightAt(4)
	require.NoError(t, err)
	require.Equal(t, uint64(70), total.Uint64())

	total, err = engine.TotalWeightAt(5)
	require.NoError(t, err)
	require.Equal(t, uint64(100), total.Uint64())
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	_, _, err := engine.WeightAt([20]byte{}, 1)
	require.Error(t, err)
	_, err = engine.TotalWeightAt(1)
	require.Error(t, err)
}
