package channel

import (
	"context"
	"time"

	"dispatchq/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

type breakerTransmitter struct {
	next    Transmitter
	breaker *circuitbreaker.CircuitBreaker
}

// WithCircuitBreaker guards next with cb. While the circuit is open Transmit returns a
// TransientError without calling next. Permanent errors do not count against the circuit.
func WithCircuitBreaker(next Transmitter, cb *circuitbreaker.CircuitBreaker) Transmitter {
	return &breakerTransmitter{next: next, breaker: cb}
}

// NewCircuitBreaker builds a breaker for a provider that ignores permanent errors
func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger, opts ...circuitbreaker.Option) *circuitbreaker.CircuitBreaker {
	opts = append([]circuitbreaker.Option{circuitbreaker.WithFailurePredicate(IsTransient)}, opts...)
	return circuitbreaker.NewWithLogger(name, maxFailures, timeout, logger, opts...)
}

func (b *breakerTransmitter) Name() string {
	return b.next.Name()
}

func (b *breakerTransmitter) Transmit(ctx context.Context, env *Envelope) (*Receipt, error) {
	var receipt *Receipt
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = b.next.Transmit(ctx, env)
		return err
	})
	if circuitbreaker.IsCircuitBreakerError(err) {
		return nil, Transient(b.next.Name(), err)
	}
	return receipt, err
}

// Breaker exposes the wrapped breaker for health reporting, or nil when t is not guarded
func Breaker(t Transmitter) *circuitbreaker.CircuitBreaker {
	if b, ok := t.(*breakerTransmitter); ok {
		return b.breaker
	}
	return nil
}
