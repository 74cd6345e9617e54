package channel

import (
	"github.com/google/uuid"
)

// EventKind enumerates the fixed event schema emitted by the Adjudicator.
type EventKind string

const (
	EventChannelOpened   EventKind = "ChannelOpened"
	EventChannelToppedUp EventKind = "ChannelToppedUp"
	EventCloseInitiated  EventKind = "CloseInitiated"
	EventDisputeRaised   EventKind = "DisputeRaised"
	EventProofSubmitted  EventKind = "ProofSubmitted"
	EventChannelSettled  EventKind = "ChannelSettled"
	EventBondDeposited   EventKind = "BondDeposited"
	EventBondWithdrawn   EventKind = "BondWithdrawn"
	EventBondSlashed     EventKind = "BondSlashed"
	EventPayerPenalized  EventKind = "PayerPenalized"
)

// Event is emitted by the Adjudicator after every state-mutating operation
// commits. ID is a fresh correlation ID per emission (google/uuid), so an
// observer persisting events to an at-least-once delivery log can dedupe on
// ID.
type Event struct {
	ID          string
	Kind        EventKind
	Payer       Account
	Facilitator Account
	Receiver    Account
	Amount      Amount
	Generation  uint64
}

func newEvent(kind EventKind, ch *Channel, amount Amount) Event {
	return Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payer:       ch.Payer,
		Facilitator: ch.Facilitator,
		Receiver:    ch.Receiver,
		Amount:      amount,
		Generation:  ch.Generation,
	}
}

// EventSink receives events emitted by the Adjudicator. The adjudicator
// treats a nil sink as "drop everything", so callers that don't need an
// event bus aren't forced to wire a no-op.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f.
func (f EventSinkFunc) Emit(e Event) { f(e) }

// Hooks are optional observer callbacks invoked around every per-channel
// Adjudicator operation; the bond operations DepositBond and WithdrawBond
// do not invoke them. They never influence the operation's outcome: Before cannot
// abort and After cannot recover, because adjudication correctness must
// not depend on an external observer's behavior. They exist for logging,
// metrics, and watchtower-style monitoring.
type Hooks struct {
	Before func(op string, payer Account)
	After  func(op string, payer Account, err error)
}

func (h *Hooks) before(op string, payer Account) {
	if h != nil && h.Before != nil {
		h.Before(op, payer)
	}
}

func (h *Hooks) after(op string, payer Account, err error) {
	if h != nil && h.After != nil {
		h.After(op, payer, err)
	}
}
