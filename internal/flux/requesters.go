package flux

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/model"
)

// SetRequesterPermissions grants or revokes a non-oracle address the
// right to trigger new rounds, with a per-requester delay between
// requests. Owner only. Granting an already-granted (or revoking an
// already-revoked) requester is a no-op with no event.
func (a *Aggregator) SetRequesterPermissions(caller, requester common.Address, authorized bool, delay uint32) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}

	existing := a.requesters[requester]
	if (existing != nil && existing.Authorized) == authorized {
		return nil, nil
	}

	if authorized {
		if existing == nil {
			existing = &model.Requester{}
			a.requesters[requester] = existing
		}
		existing.Authorized = true
		existing.Delay = delay
	} else {
		delete(a.requesters, requester)
	}

	ev := model.NewEvent(model.EventRequesterPermissionsSet, a.clock())
	ev.Requester = requester
	ev.Enabled = authorized
	ev.Delay = delay
	return []model.Event{ev}, nil
}

// RequestNewRound opens the next round on behalf of an authorized
// requester without submitting data. The current round must be
// supersedable and the requester clear of its delay throttle.
func (a *Aggregator) RequestNewRound(caller common.Address) (model.RoundID, []model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := a.requesters[caller]
	if req == nil || !req.Authorized {
		return model.NoRound, nil, ErrNotAuthorizedRequester
	}

	now := a.clock()
	current := a.reportingRoundID
	if r := a.rounds[current]; (r == nil || r.UpdatedAt == 0) && !a.timedOut(current, now) {
		return model.NoRound, nil, ErrRoundNotSupersedable
	}

	newRound := current + 1
	if req.LastStartedRound != 0 && newRound <= req.LastStartedRound+req.Delay {
		return model.NoRound, nil, ErrMustDelayRequests
	}

	events := a.initializeNewRound(newRound, caller, now)
	req.LastStartedRound = newRound
	return newRound, events, nil
}
