package dispute

import (
	"strconv"

	"datalayr/core/types"
	"datalayr/crypto"
)

const (
	EventTypePaymentCommitted  = "dispute.paymentCommitted"
	EventTypeChallengeOpened   = "dispute.challengeOpened"
	EventTypeChallengeResolved = "dispute.challengeResolved"
	EventTypePaymentRedeemed   = "dispute.paymentRedeemed"
)

type disputeEvent struct {
	evt *types.Event
}

func (e disputeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e disputeEvent) Event() *types.Event { return e.evt }

// NewPaymentCommittedEvent returns the payload for a new payment commitment.
func NewPaymentCommittedEvent(p *Payment) *types.Event {
	return newPaymentEvent(EventTypePaymentCommitted, p)
}

// NewPaymentRedeemedEvent returns the payload emitted once a payment clears the
// fraud-proof window and is handed to escrow.
func NewPaymentRedeemedEvent(p *Payment) *types.Event {
	return newPaymentEvent(EventTypePaymentRedeemed, p)
}

// NewChallengeOpenedEvent returns the payload for a newly opened challenge.
func NewChallengeOpenedEvent(c *Challenge) *types.Event {
	return newChallengeEvent(EventTypeChallengeOpened, c)
}

// NewChallengeResolvedEvent returns the payload for a resolved challenge.
func NewChallengeResolvedEvent(c *Challenge) *types.Event {
	return newChallengeEvent(EventTypeChallengeResolved, c)
}

func newPaymentEvent(eventType string, p *Payment) *types.Event {
	evt := types.NewEvent(eventType)
	if p != nil {
		attrs := evt.Attributes
		attrs["operator"] = crypto.FormatAddress(p.Operator)
		attrs["from"] = strconv.FormatUint(p.Range.From, 10)
		attrs["to"] = strconv.FormatUint(p.Range.To, 10)
		attrs["claimed"] = cloneBigInt(p.Claimed).String()
		attrs["collateral"] = cloneBigInt(p.Collateral).String()
		attrs["deadline"] = strconv.FormatInt(p.Deadline, 10)
		attrs["status"] = p.Status.String()
	}
	return evt
}

func newChallengeEvent(eventType string, c *Challenge) *types.Event {
	evt := types.NewEvent(eventType)
	if c != nil {
		attrs := evt.Attributes
		attrs["operator"] = crypto.FormatAddress(c.Operator)
		attrs["challenger"] = crypto.FormatAddress(c.Challenger)
		attrs["from"] = strconv.FormatUint(c.Range.From, 10)
		attrs["to"] = strconv.FormatUint(c.Range.To, 10)
		attrs["collateral"] = cloneBigInt(c.Collateral).String()
		attrs["deadline"] = strconv.FormatInt(c.Deadline, 10)
		attrs["outcome"] = c.Outcome.String()
		if c.Outcome != OutcomePending {
			attrs["evidence"] = c.Evidence.String()
		}
	}
	return evt
}
