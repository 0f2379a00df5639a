package payout

import (
	"math/big"
	"strconv"

	"datalayr/core/types"
	"datalayr/crypto"
)

const (
	EventTypePaymentCreated = "payout.created"
	EventTypePaymentClaimed = "payout.claimed"
	EventTypeDelayUpdated   = "payout.delayUpdated"
)

type payoutEvent struct {
	evt *types.Event
}

func (e payoutEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e payoutEvent) Event() *types.Event { return e.evt }

// NewPaymentCreatedEvent returns the payload for a newly escrowed payment.
func NewPaymentCreatedEvent(p *Payment) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["recipient"] = crypto.FormatAddress(p.Recipient)
		attrs["index"] = strconv.FormatUint(p.Index, 10)
		attrs["amount"] = p.Clone().Amount.String()
		attrs["createdAt"] = strconv.FormatInt(p.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypePaymentCreated, Attributes: attrs}
}

// NewPaymentsClaimedEvent summarises one claim call.
func NewPaymentsClaimedEvent(recipient [20]byte, count int, total *big.Int, completed uint64) *types.Event {
	amount := "0"
	if total != nil {
		amount = total.String()
	}
	return &types.Event{Type: EventTypePaymentClaimed, Attributes: map[string]string{
		"recipient": crypto.FormatAddress(recipient),
		"count":     strconv.Itoa(count),
		"amount":    amount,
		"completed": strconv.FormatUint(completed, 10),
	}}
}

// NewDelayUpdatedEvent returns the payload emitted when the withdrawal delay
// changes.
func NewDelayUpdatedEvent(previous, next int64) *types.Event {
	return &types.Event{Type: EventTypeDelayUpdated, Attributes: map[string]string{
		"previous": strconv.FormatInt(previous, 10),
		"delay":    strconv.FormatInt(next, 10),
	}}
}
