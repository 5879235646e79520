package ai

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures BreakerGenerator.
type BreakerSettings struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// BreakerGenerator stops calling a failing backend for a while. Rejections
// are returned as errors like any other generation failure; nothing is retried.
type BreakerGenerator struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next Generator, s BreakerSettings, logger *zap.Logger) *BreakerGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	logger = logger.With(zap.String("component", "ai.breaker"))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("generation breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerGenerator{next: next, cb: cb}
}

func (b *BreakerGenerator) Generate(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, systemInstruction, userPrompt)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state for status endpoints.
func (b *BreakerGenerator) State() string {
	return b.cb.State().String()
}
