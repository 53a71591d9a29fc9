package validator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	err     error
	panics  bool
	blocks  bool
	called  chan struct{}
}

func (s *stubValidator) Validate(ctx context.Context, prevAnsweredRound uint32, prevAnswer *big.Int, roundID uint32, answer *big.Int) error {
	if s.called != nil {
		close(s.called)
	}
	if s.panics {
		panic("boom")
	}
	if s.blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func TestSafeNotifySwallowsFailures(t *testing.T) {
	tests := []struct {
		name string
		stub *stubValidator
	}{
		{"error", &stubValidator{err: errors.New("bad answer")}},
		{"panic", &stubValidator{panics: true}},
		{"overrun", &stubValidator{blocks: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failures int
			safe := NewSafe(tt.stub, 10*time.Millisecond).WithFailureHook(func(error) {
				failures++
			})

			// Must return, not propagate.
			safe.Notify(1, big.NewInt(100), 2, big.NewInt(105))
			require.Equal(t, 1, failures)
		})
	}
}

func TestSafeNotifyNoopWithoutValidator(t *testing.T) {
	safe := NewSafe(nil, 0)
	require.False(t, safe.Enabled())
	safe.Notify(1, big.NewInt(100), 2, big.NewInt(105))
}

func TestSafeNotifyInvokesValidator(t *testing.T) {
	stub := &stubValidator{called: make(chan struct{})}
	safe := NewSafe(stub, 0)
	require.True(t, safe.Enabled())

	safe.Notify(1, big.NewInt(100), 2, big.NewInt(105))
	select {
	case <-stub.called:
	case <-time.After(time.Second):
		t.Fatal("validator was not invoked")
	}
}
