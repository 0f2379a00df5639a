package rpc

import (
	"context"
	"encoding/json"
	"time"

	"datalayr/core/events"
	"datalayr/indexer"
)

// EventIndex answers historical event queries.
type EventIndex interface {
	Query(ctx context.Context, filter indexer.Filter) ([]indexer.EventRecord, error)
}

// EventFeed streams events as they are published.
type EventFeed interface {
	Subscribe() (<-chan events.Envelope, func())
}

type eventsQueryParams struct {
	Module     string `json:"module,omitempty"`
	Type       string `json:"type,omitempty"`
	FromHeight uint64 `json:"fromHeight,omitempty"`
	ToHeight   uint64 `json:"toHeight,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type eventJSON struct {
	Height     uint64            `json:"height"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	IndexedAt  string            `json:"indexedAt,omitempty"`
}

func formatEnvelope(env events.Envelope) eventJSON {
	out := eventJSON{Height: env.Height, Seq: env.Seq, Type: env.Type, Attributes: map[string]string{}}
	if env.Payload != nil && env.Payload.Attributes != nil {
		out.Attributes = env.Payload.Attributes
	}
	return out
}

func (s *Server) handleEventsQuery(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if s.index == nil {
		return nil, errEventsDisabled
	}
	var p eventsQueryParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.ToHeight > 0 && p.FromHeight > p.ToHeight {
		return nil, invalidParams("fromHeight exceeds toHeight", nil)
	}
	records, err := s.index.Query(ctx, indexer.Filter{
		Module:     p.Module,
		Type:       p.Type,
		FromHeight: p.FromHeight,
		ToHeight:   p.ToHeight,
		Limit:      p.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventJSON, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Attrs()
		if err != nil {
			return nil, err
		}
		out = append(out, eventJSON{
			Height:     rec.Height,
			Seq:        rec.Seq,
			Type:       rec.Type,
			Attributes: attrs,
			IndexedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}
