package rpc

import (
	"context"
	"encoding/json"

	"datalayr/native/aggregate"
	"datalayr/native/datastore"
)

type dataStoreInitParams struct {
	Submitter   string  `json:"submitter"`
	Digest      string  `json:"digest"`
	TotalBytes  uint64  `json:"totalBytes"`
	StorePeriod int64   `json:"storePeriod"`
	QuorumBps   *uint32 `json:"quorumBps,omitempty"`
}

type signatureParam struct {
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

type dataStoreConfirmParams struct {
	DumpNumber uint64           `json:"dumpNumber"`
	Digest     string           `json:"digest"`
	Signatures []signatureParam `json:"signatures"`
}

type dumpNumberParams struct {
	DumpNumber uint64 `json:"dumpNumber"`
}

type signedDigestResult struct {
	Record       recordJSON `json:"record"`
	SignedDigest string     `json:"signedDigest"`
}

func (s *Server) handleDataStoreInit(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p dataStoreInitParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	submitter, err := parseAddressParam("submitter", p.Submitter)
	if err != nil {
		return nil, err
	}
	digest, err := parseHash(p.Digest)
	if err != nil {
		return nil, invalidParams("invalid digest", err.Error())
	}
	quorum := s.coord.DefaultQuorumBps()
	if p.QuorumBps != nil {
		quorum = *p.QuorumBps
	}
	record, err := s.coord.InitDataStore(submitter, digest, p.TotalBytes, p.StorePeriod, quorum)
	if err != nil {
		return nil, err
	}
	signed := datastore.SignedDigest(record.DumpNumber, record.ContentDigest, record.TotalBytes)
	return signedDigestResult{Record: formatRecord(record), SignedDigest: formatHash(signed)}, nil
}

func (s *Server) handleDataStoreConfirm(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p dataStoreConfirmParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	digest, err := parseHash(p.Digest)
	if err != nil {
		return nil, invalidParams("invalid digest", err.Error())
	}
	set := make(aggregate.SignatureSet, 0, len(p.Signatures))
	for i, entry := range p.Signatures {
		signer, err := parseAddressParam("signer", entry.Signer)
		if err != nil {
			return nil, invalidParams("invalid signer", map[string]interface{}{"index": i, "error": err.Error()})
		}
		sig, err := parseHexBytes(entry.Signature)
		if err != nil {
			return nil, invalidParams("invalid signature encoding", map[string]interface{}{"index": i, "error": err.Error()})
		}
		set = append(set, aggregate.Signature{Signer: signer, Signature: sig})
	}
	record, err := s.coord.ConfirmDataStore(p.DumpNumber, digest, set)
	if err != nil {
		return nil, err
	}
	return formatRecord(record), nil
}

func (s *Server) handleDataStoreExpire(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p dumpNumberParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	record, err := s.coord.ExpireDataStore(p.DumpNumber)
	if err != nil {
		return nil, err
	}
	return formatRecord(record), nil
}

func (s *Server) handleDataStoreGet(_ context.Context, params []json.RawMessage) (interface{}, error) {
	var p dumpNumberParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	record, ok, err := s.coord.DataStoreRecord(p.DumpNumber)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, datastore.ErrUnknownRecord
	}
	return formatRecord(record), nil
}
