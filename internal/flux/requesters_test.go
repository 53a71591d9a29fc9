package flux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/flux-aggregator/internal/model"
)

var requester = outside

func TestRequesterPermissions(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SetRequesterPermissions(outside, requester, true, 0)
	require.ErrorIs(t, err, ErrNotOwner)

	events, err := f.engine.SetRequesterPermissions(owner, requester, true, 1)
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventRequesterPermissionsSet}, eventTypes(events))

	// Granting again is a silent no-op.
	events, err = f.engine.SetRequesterPermissions(owner, requester, true, 1)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = f.engine.SetRequesterPermissions(owner, requester, false, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, _, err = f.engine.RequestNewRound(requester)
	require.ErrorIs(t, err, ErrNotAuthorizedRequester)
}

func TestRequestNewRound(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)
	_, err := f.engine.SetRequesterPermissions(owner, requester, true, 1)
	require.NoError(t, err)

	round, events, err := f.engine.RequestNewRound(requester)
	require.NoError(t, err)
	require.Equal(t, model.RoundID(1), round)
	require.Equal(t, []model.EventType{model.EventNewRound}, eventTypes(events))
	require.Equal(t, model.RoundID(1), f.engine.ReportingRound())

	// The requested round is open for submissions without any oracle
	// having initiated it.
	f.submit(oracleA, 1, 10)
	f.submit(oracleB, 1, 20)

	// Delay of 1: the very next round is off limits for this requester.
	_, _, err = f.engine.RequestNewRound(requester)
	require.ErrorIs(t, err, ErrMustDelayRequests)
}

func TestRequestNewRoundNeedsSupersedableCurrent(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)
	_, err := f.engine.SetRequesterPermissions(owner, requester, true, 0)
	require.NoError(t, err)

	f.submit(oracleA, 1, 10)

	// Round 1 is unanswered and not timed out.
	_, _, err = f.engine.RequestNewRound(requester)
	require.ErrorIs(t, err, ErrRoundNotSupersedable)

	// Past the deadline the request goes through, and opening round 2
	// finalizes round 1 with no answer to copy.
	f.advance((testTimeout + 1) * time.Second)
	round, _, err := f.engine.RequestNewRound(requester)
	require.NoError(t, err)
	require.Equal(t, model.RoundID(2), round)
}
