package datastore

import (
	"encoding/hex"
	"strconv"

	"datalayr/core/types"
	"datalayr/crypto"
)

const (
	EventTypeDataStoreInitialized = "datastore.initialized"
	EventTypeDataStoreConfirmed   = "datastore.confirmed"
	EventTypeDataStoreExpired     = "datastore.expired"
)

// NewInitializedEvent returns the canonical payload for a new record.
func NewInitializedEvent(r *Record) *types.Event {
	return newRecordEvent(EventTypeDataStoreInitialized, r)
}

// NewConfirmedEvent returns the payload emitted when quorum is reached.
func NewConfirmedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeDataStoreConfirmed, r)
	if r == nil {
		return evt
	}
	evt.Attributes["aggregateSigHash"] = "0x" + hex.EncodeToString(r.AggregateSigHash[:])
	evt.Attributes["signatoryRecordHash"] = "0x" + hex.EncodeToString(r.SignatoryRecordHash[:])
	evt.Attributes["signers"] = strconv.Itoa(len(r.Signers))
	if r.SignedWeight != nil {
		evt.Attributes["signedWeight"] = r.SignedWeight.Dec()
	}
	if r.TotalWeight != nil {
		evt.Attributes["totalWeight"] = r.TotalWeight.Dec()
	}
	return evt
}

// NewExpiredEvent returns the payload emitted when a record expires
// unconfirmed.
func NewExpiredEvent(r *Record) *types.Event {
	return newRecordEvent(EventTypeDataStoreExpired, r)
}

func newRecordEvent(eventType string, r *Record) *types.Event {
	evt := types.NewEvent(eventType)
	if r == nil {
		return evt
	}
	attrs := evt.Attributes
	attrs["dumpNumber"] = strconv.FormatUint(r.DumpNumber, 10)
	attrs["digest"] = "0x" + hex.EncodeToString(r.ContentDigest[:])
	attrs["totalBytes"] = strconv.FormatUint(r.TotalBytes, 10)
	attrs["storePeriod"] = strconv.FormatInt(r.StorePeriod, 10)
	attrs["submitter"] = crypto.FormatAddress(r.Submitter)
	attrs["quorumBps"] = strconv.FormatUint(uint64(r.QuorumBps), 10)
	attrs["status"] = r.Status.String()
	if r.Fee != nil {
		attrs["fee"] = r.Fee.String()
	}
	return evt
}
