// Package validator defines the external answer-validator capability
// and the wrapper that keeps a misbehaving validator from ever
// blocking price reporting.
package validator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// Validator is notified after a round computes a new answer. The
// engine treats it as untrusted: errors, panics and overruns are all
// absorbed by Safe.
type Validator interface {
	Validate(ctx context.Context, prevAnsweredRound uint32, prevAnswer *big.Int, roundID uint32, answer *big.Int) error
}

// Safe wraps a Validator so that notification can never fail or hang.
// The validator gets the budget to respond, then the engine moves on.
type Safe struct {
	inner     Validator
	budget    time.Duration
	onFailure func(error)
}

// DefaultBudget bounds how long a validator may run per notification.
const DefaultBudget = 100 * time.Millisecond

// NewSafe wraps v. A nil v yields a Safe whose Notify is a no-op.
func NewSafe(v Validator, budget time.Duration) *Safe {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Safe{inner: v, budget: budget}
}

// WithFailureHook registers a callback observing swallowed failures,
// for metrics. Returns the receiver for chaining.
func (s *Safe) WithFailureHook(hook func(error)) *Safe {
	s.onFailure = hook
	return s
}

// Enabled reports whether a validator is attached.
func (s *Safe) Enabled() bool {
	return s != nil && s.inner != nil
}

// Notify invokes the validator and discards any failure. It never
// returns an error and never takes longer than the budget.
func (s *Safe) Notify(prevAnsweredRound uint32, prevAnswer *big.Int, roundID uint32, answer *big.Int) {
	if !s.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("validator panicked: %v", r)
			}
		}()
		done <- s.inner.Validate(ctx, prevAnsweredRound, prevAnswer, roundID, answer)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"round":      roundID,
			"prev_round": prevAnsweredRound,
		}).Warnf("answer validator failed, ignoring: %v", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
	}
}
