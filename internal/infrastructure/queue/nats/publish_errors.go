package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/infrastructure/resilience"
)

// brokerUnavailable are connection states that clear once the client
// reconnects.
var brokerUnavailable = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrConnectionDraining,
	nats.ErrDisconnected,
}

// ackRejected are refusals of the acknowledgment itself. They say nothing
// about broker health.
var ackRejected = []error{
	nats.ErrMaxPayload,
	nats.ErrBadSubject,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classifyPublishError tells the executor whether an acknowledgment publish
// is worth another attempt and whether it counts against the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), matchesAny(err, brokerUnavailable):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case matchesAny(err, ackRejected):
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// publishError maps a final publish failure onto the domain error kinds.
func publishError(subject string, err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case errors.Is(err, nats.ErrMaxPayload):
		return domain.WrapError(domain.ErrInvalidInput, "publish "+subject, err)
	case classifyPublishError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, "publish "+subject, err)
	default:
		return err
	}
}
