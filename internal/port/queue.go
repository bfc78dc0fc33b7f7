package port

import (
	"context"

	"github.com/rl1809/ticket-rush/internal/core/domain"
)

// Outcome tells the queue what to do with a delivered message.
type Outcome int

const (
	Ack Outcome = iota
	NackRequeue
	NackDiscard
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case NackRequeue:
		return "nack_requeue"
	case NackDiscard:
		return "nack_discard"
	default:
		return "unknown"
	}
}

// Handler resolves one work item. The returned error is the cause recorded
// for nack outcomes; the Outcome alone decides what happens to the message.
type Handler func(ctx context.Context, item domain.WorkItem) (Outcome, error)

type Publisher interface {
	Publish(ctx context.Context, item domain.WorkItem) error
}

type Consumer interface {
	// Consume delivers messages to handler until ctx is cancelled and applies each returned Outcome
	Consume(ctx context.Context, handler Handler) error
}
