package state

import (
	"math/big"

	"datalayr/native/registry"
)

var (
	registryKeyPrefix       = []byte("registry/key/")
	registryOperatorsKey    = []byte("registry/operators")
	registrySnapCountPrefix = []byte("registry/snapshots/count/")
	registrySnapPrefix      = []byte("registry/snapshots/entry/")
)

type storedSnapshot struct {
	Operator   [20]byte
	Weight     *big.Int
	StartIndex uint64
	EndIndex   uint64
}

func newStoredSnapshot(s *registry.Snapshot) *storedSnapshot {
	return &storedSnapshot{
		Operator:   s.Operator,
		Weight:     weightToBig(s.Weight),
		StartIndex: s.StartIndex,
		EndIndex:   s.EndIndex,
	}
}

func (s *storedSnapshot) toSnapshot() (*registry.Snapshot, error) {
	weight, err := weightFromBig(s.Weight)
	if err != nil {
		return nil, err
	}
	return &registry.Snapshot{
		Operator:   s.Operator,
		Weight:     weight,
		StartIndex: s.StartIndex,
		EndIndex:   s.EndIndex,
	}, nil
}

// RegistryOperatorKey returns the compressed public key registered for the
// operator.
func (m *Manager) RegistryOperatorKey(operator [20]byte) ([]byte, bool, error) {
	var pub []byte
	ok, err := m.KVGet(key(registryKeyPrefix, operator[:]), &pub)
	if err != nil || !ok {
		return nil, ok, err
	}
	return pub, true, nil
}

// RegistryPutOperatorKey stores the operator key and indexes new operators.
func (m *Manager) RegistryPutOperatorKey(operator [20]byte, pubKey []byte) error {
	_, existed, err := m.RegistryOperatorKey(operator)
	if err != nil {
		return err
	}
	if err := m.KVPut(key(registryKeyPrefix, operator[:]), pubKey); err != nil {
		return err
	}
	if existed {
		return nil
	}
	operators, err := m.RegistryOperators()
	if err != nil {
		return err
	}
	return m.KVPut(registryOperatorsKey, append(operators, operator))
}

// RegistryOperators lists operators in registration order.
func (m *Manager) RegistryOperators() ([][20]byte, error) {
	var operators [][20]byte
	if _, err := m.KVGet(registryOperatorsKey, &operators); err != nil {
		return nil, err
	}
	return operators, nil
}

// RegistrySnapshotCount returns the length of the operator's history.
func (m *Manager) RegistrySnapshotCount(operator [20]byte) (uint64, error) {
	count, _, err := m.getUint64(key(registrySnapCountPrefix, operator[:]))
	return count, err
}

// RegistrySnapshot loads the snapshot at position in the operator's history.
func (m *Manager) RegistrySnapshot(operator [20]byte, position uint64) (*registry.Snapshot, error) {
	stored := new(storedSnapshot)
	ok, err := m.KVGet(key(registrySnapPrefix, operator[:], uint64Bytes(position)), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, registry.ErrSnapshotNotFound
	}
	return stored.toSnapshot()
}

// RegistryPutSnapshot writes the snapshot at position, extending the history
// when position equals its current length.
func (m *Manager) RegistryPutSnapshot(operator [20]byte, position uint64, snap *registry.Snapshot) error {
	if err := m.KVPut(key(registrySnapPrefix, operator[:], uint64Bytes(position)), newStoredSnapshot(snap)); err != nil {
		return err
	}
	count, err := m.RegistrySnapshotCount(operator)
	if err != nil {
		return err
	}
	if position >= count {
		return m.KVPut(key(registrySnapCountPrefix, operator[:]), position+1)
	}
	return nil
}
