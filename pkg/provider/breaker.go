package provider

import (
	"errors"
	"net/http"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Breaker guards provider calls with a circuit breaker. Client errors (4xx
// other than 429) count as successes so a bad token cannot open the circuit.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *logrus.Entry
}

// NewBreaker creates a breaker that trips after more than five consecutive
// failures, or a 60% failure rate over at least ten requests
func NewBreaker(name string, log logrus.FieldLogger) *Breaker {
	entry := logger.Component(log, "breaker").WithField("breaker", name)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			entry.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), log: entry}
}

// Do runs fn through the breaker. An open circuit surfaces as a 503 provider error.
func (b *Breaker) Do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.log.WithField("op", op).Warn("Provider call rejected, circuit open")
		return emaildomain.NewProviderError(op, http.StatusServiceUnavailable, err)
	}
	return err
}

// State reports the breaker state for health output
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func isClientError(err error) bool {
	var pe *emaildomain.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode >= 400 && pe.StatusCode < 500 && pe.StatusCode != http.StatusTooManyRequests
}
