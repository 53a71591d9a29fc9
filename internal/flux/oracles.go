package flux

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/model"
)

// ChangeOracles atomically removes and adds oracles and re-tunes the
// submission-count parameters for future rounds. Owner only. Every
// constraint is checked against the prospective oracle set before any
// change applies, so a rejected call leaves the registry untouched.
func (a *Aggregator) ChangeOracles(caller common.Address, removed []common.Address, added []common.Address, addedAdmins []common.Address, minSubmissions, maxSubmissions, restartDelay uint32) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	if len(added) != len(addedAdmins) {
		return nil, ErrOracleMismatchedAdmins
	}

	removedSet := make(map[common.Address]bool, len(removed))
	for _, addr := range removed {
		if removedSet[addr] || !a.oracleEnabled(addr) {
			return nil, ErrOracleNotEnabled
		}
		removedSet[addr] = true
	}

	addedSet := make(map[common.Address]bool, len(added))
	for i, addr := range added {
		if addedSet[addr] {
			return nil, ErrOracleAlreadyEnabled
		}
		addedSet[addr] = true
		if a.oracleEnabled(addr) && !removedSet[addr] {
			return nil, ErrOracleAlreadyEnabled
		}
		admin := addedAdmins[i]
		if admin == (common.Address{}) {
			return nil, ErrAdminAddressZero
		}
		if existing, ok := a.oracles[addr]; ok {
			if existing.Admin != (common.Address{}) && existing.Admin != admin {
				return nil, ErrCannotOverwriteAdmin
			}
		}
	}

	newCount := len(a.oracleList) - len(removed) + len(added)
	if newCount > MaxOracleCount {
		return nil, ErrMaxOraclesExceeded
	}

	cfg := a.config
	cfg.MinSubmissionCount = minSubmissions
	cfg.MaxSubmissionCount = maxSubmissions
	cfg.RestartDelay = restartDelay
	if err := a.validateRoundConfig(cfg, newCount); err != nil {
		return nil, err
	}

	now := a.clock()
	var events []model.Event
	for _, addr := range removed {
		events = append(events, a.removeOracle(addr, now)...)
	}
	for i, addr := range added {
		events = append(events, a.addOracle(addr, addedAdmins[i], now)...)
	}
	events = append(events, a.applyRoundConfig(cfg, now))
	return events, nil
}

// addOracle enables the oracle starting at the next round, or at the
// current round when it was removed mid-round and is being re-added,
// and appends it to the dense active list. Caller holds the lock and
// has validated.
func (a *Aggregator) addOracle(oracle, admin common.Address, now time.Time) []model.Event {
	o, ok := a.oracles[oracle]
	if !ok {
		o = &model.OracleStatus{Withdrawable: new(big.Int), LatestSubmission: new(big.Int)}
		a.oracles[oracle] = o
	}
	o.StartingRound = a.startingRound(oracle)
	o.EndingRound = model.RoundMax
	o.Admin = admin

	a.oracleIdx[oracle] = len(a.oracleList)
	a.oracleList = append(a.oracleList, oracle)

	pe := model.NewEvent(model.EventOraclePermissionsUpdated, now)
	pe.Oracle = oracle
	pe.Enabled = true
	ae := model.NewEvent(model.EventOracleAdminUpdated, now)
	ae.Oracle = oracle
	ae.NewAdmin = admin
	return []model.Event{pe, ae}
}

// removeOracle disables the oracle after the in-flight round and
// removes it from the dense list via swap-and-pop, keeping the index
// map in step. The status record itself persists so earned payments
// stay withdrawable.
func (a *Aggregator) removeOracle(oracle common.Address, now time.Time) []model.Event {
	a.oracles[oracle].EndingRound = a.reportingRoundID + 1

	idx := a.oracleIdx[oracle]
	tail := a.oracleList[len(a.oracleList)-1]
	a.oracleList[idx] = tail
	a.oracleIdx[tail] = idx
	a.oracleList = a.oracleList[:len(a.oracleList)-1]
	delete(a.oracleIdx, oracle)

	ev := model.NewEvent(model.EventOraclePermissionsUpdated, now)
	ev.Oracle = oracle
	ev.Enabled = false
	return []model.Event{ev}
}

// startingRound keeps an oracle removed and re-added within the same
// round continuous; otherwise authorization begins with the next round.
func (a *Aggregator) startingRound(oracle common.Address) model.RoundID {
	current := a.reportingRoundID
	if o, ok := a.oracles[oracle]; ok && current != 0 && current == o.EndingRound {
		return current
	}
	return current + 1
}

func (a *Aggregator) oracleEnabled(oracle common.Address) bool {
	o, ok := a.oracles[oracle]
	return ok && o.EndingRound == model.RoundMax
}

// TransferAdmin proposes handing an oracle's admin role to newAdmin.
// Only the current admin may propose; ownership cannot bypass this.
func (a *Aggregator) TransferAdmin(caller, oracle, newAdmin common.Address) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.oracles[oracle]
	if !ok || o.Admin != caller {
		return nil, ErrNotAdmin
	}
	o.PendingAdmin = newAdmin

	ev := model.NewEvent(model.EventOracleAdminUpdateRequest, a.clock())
	ev.Oracle = oracle
	ev.Admin = caller
	ev.NewAdmin = newAdmin
	return []model.Event{ev}, nil
}

// AcceptAdmin completes a proposed admin handoff.
func (a *Aggregator) AcceptAdmin(caller, oracle common.Address) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.oracles[oracle]
	if !ok || o.PendingAdmin != caller || caller == (common.Address{}) {
		return nil, ErrNotPendingAdmin
	}
	o.Admin = caller
	o.PendingAdmin = common.Address{}

	ev := model.NewEvent(model.EventOracleAdminUpdated, a.clock())
	ev.Oracle = oracle
	ev.NewAdmin = caller
	return []model.Event{ev}, nil
}

// OracleCount reports the active oracle set size.
func (a *Aggregator) OracleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.oracleList)
}

// Oracles lists the active oracle addresses. Order is unstable across
// removals.
func (a *Aggregator) Oracles() []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]common.Address, len(a.oracleList))
	copy(out, a.oracleList)
	return out
}

// OracleAdmin returns the admin address for an oracle.
func (a *Aggregator) OracleAdmin(oracle common.Address) common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o, ok := a.oracles[oracle]; ok {
		return o.Admin
	}
	return common.Address{}
}

// WithdrawablePayment reports the oracle's earned, unwithdrawn balance.
func (a *Aggregator) WithdrawablePayment(oracle common.Address) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o, ok := a.oracles[oracle]; ok && o.Withdrawable != nil {
		return new(big.Int).Set(o.Withdrawable)
	}
	return new(big.Int)
}
