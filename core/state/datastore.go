package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"datalayr/native/datastore"
)

var (
	datastoreLatestKey    = []byte("datastore/latest")
	datastoreRecordPrefix = []byte("datastore/record/")
)

type storedRecord struct {
	DumpNumber          uint64
	ContentDigest       [32]byte
	TotalBytes          uint64
	StorePeriod         uint64
	Submitter           [20]byte
	QuorumBps           uint32
	Status              uint8
	InitTime            uint64
	Fee                 *big.Int
	AggregateSigHash    [32]byte
	SignatoryRecordHash [32]byte
	Signers             [][20]byte
	SignerWeights       []*big.Int
	SignedWeight        *big.Int
	TotalWeight         *big.Int
	ConfirmedAt         uint64
}

func newStoredRecord(r *datastore.Record) *storedRecord {
	weights := make([]*big.Int, len(r.SignerWeights))
	for i, w := range r.SignerWeights {
		weights[i] = weightToBig(w)
	}
	return &storedRecord{
		DumpNumber:          r.DumpNumber,
		ContentDigest:       r.ContentDigest,
		TotalBytes:          r.TotalBytes,
		StorePeriod:         encodeTime(r.StorePeriod),
		Submitter:           r.Submitter,
		QuorumBps:           r.QuorumBps,
		Status:              uint8(r.Status),
		InitTime:            encodeTime(r.InitTime),
		Fee:                 bigOrZero(r.Fee),
		AggregateSigHash:    r.AggregateSigHash,
		SignatoryRecordHash: r.SignatoryRecordHash,
		Signers:             append([][20]byte(nil), r.Signers...),
		SignerWeights:       weights,
		SignedWeight:        weightToBig(r.SignedWeight),
		TotalWeight:         weightToBig(r.TotalWeight),
		ConfirmedAt:         encodeTime(r.ConfirmedAt),
	}
}

func (s *storedRecord) toRecord() (*datastore.Record, error) {
	status := datastore.Status(s.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("state: invalid record status %d", s.Status)
	}
	signed, err := weightFromBig(s.SignedWeight)
	if err != nil {
		return nil, err
	}
	total, err := weightFromBig(s.TotalWeight)
	if err != nil {
		return nil, err
	}
	if len(s.SignerWeights) != len(s.Signers) {
		return nil, fmt.Errorf("state: record %d has %d signers but %d weights", s.DumpNumber, len(s.Signers), len(s.SignerWeights))
	}
	var weights []*uint256.Int
	if len(s.SignerWeights) > 0 {
		weights = make([]*uint256.Int, len(s.SignerWeights))
		for i, w := range s.SignerWeights {
			if weights[i], err = weightFromBig(w); err != nil {
				return nil, err
			}
		}
	}
	return &datastore.Record{
		DumpNumber:          s.DumpNumber,
		ContentDigest:       s.ContentDigest,
		TotalBytes:          s.TotalBytes,
		StorePeriod:         int64(s.StorePeriod),
		Submitter:           s.Submitter,
		QuorumBps:           s.QuorumBps,
		Status:              status,
		InitTime:            int64(s.InitTime),
		Fee:                 bigOrZero(s.Fee),
		AggregateSigHash:    s.AggregateSigHash,
		SignatoryRecordHash: s.SignatoryRecordHash,
		Signers:             s.Signers,
		SignerWeights:       weights,
		SignedWeight:        signed,
		TotalWeight:         total,
		ConfirmedAt:         int64(s.ConfirmedAt),
	}, nil
}

// DataStoreLatest returns the most recently allocated dump number.
func (m *Manager) DataStoreLatest() (uint64, error) {
	latest, _, err := m.getUint64(datastoreLatestKey)
	return latest, err
}

// DataStorePutLatest records the most recently allocated dump number.
func (m *Manager) DataStorePutLatest(dumpNumber uint64) error {
	return m.KVPut(datastoreLatestKey, dumpNumber)
}

// DataStoreGet loads the record for dumpNumber.
func (m *Manager) DataStoreGet(dumpNumber uint64) (*datastore.Record, bool, error) {
	stored := new(storedRecord)
	ok, err := m.KVGet(key(datastoreRecordPrefix, uint64Bytes(dumpNumber)), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// DataStorePut persists record under its dump number.
func (m *Manager) DataStorePut(record *datastore.Record) error {
	if record == nil {
		return fmt.Errorf("state: nil record")
	}
	return m.KVPut(key(datastoreRecordPrefix, uint64Bytes(record.DumpNumber)), newStoredRecord(record))
}
