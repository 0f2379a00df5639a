package registry

import (
	"encoding/hex"
	"strconv"

	"datalayr/core/types"
	"datalayr/crypto"
)

const (
	EventTypeOperatorRegistered = "registry.operatorRegistered"
	EventTypeStakeUpdated       = "registry.stakeUpdated"
)

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// NewOperatorRegisteredEvent returns the payload emitted when an operator key
// is registered.
func NewOperatorRegisteredEvent(operator [20]byte, pubKey []byte) *types.Event {
	return &types.Event{Type: EventTypeOperatorRegistered, Attributes: map[string]string{
		"operator": crypto.FormatAddress(operator),
		"pubKey":   hex.EncodeToString(pubKey),
	}}
}

// NewStakeUpdatedEvent returns the payload emitted when a new snapshot is
// appended. previous may be nil for the first snapshot.
func NewStakeUpdatedEvent(current, previous *Snapshot) *types.Event {
	attrs := map[string]string{}
	if current != nil {
		attrs["operator"] = crypto.FormatAddress(current.Operator)
		attrs["weight"] = current.Clone().Weight.Dec()
		attrs["asOfIndex"] = strconv.FormatUint(current.StartIndex, 10)
	}
	if previous != nil {
		attrs["previousWeight"] = previous.Clone().Weight.Dec()
	}
	return &types.Event{Type: EventTypeStakeUpdated, Attributes: attrs}
}
