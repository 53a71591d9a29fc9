package flux

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/model"
)

// UpdateFutureRounds re-tunes payment and round parameters for rounds
// that have not opened yet. In-flight rounds keep their snapshots.
// Owner only; rejected unless the available balance already covers the
// reserve for the new payment amount.
func (a *Aggregator) UpdateFutureRounds(caller common.Address, cfg model.RoundConfig) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	next := cfg
	next.PaymentAmount = bigOrZero(cfg.PaymentAmount)
	if err := a.validateRoundConfig(next, len(a.oracleList)); err != nil {
		return nil, err
	}
	return []model.Event{a.applyRoundConfig(next, a.clock())}, nil
}

// validateRoundConfig checks a prospective parameter set against an
// oracle count. Caller holds the lock.
func (a *Aggregator) validateRoundConfig(cfg model.RoundConfig, oracleCount int) error {
	switch {
	case cfg.MaxSubmissionCount < cfg.MinSubmissionCount:
		return ErrMaxBelowMin
	case int(cfg.MaxSubmissionCount) > oracleCount:
		return ErrMaxExceedsTotal
	case oracleCount > 0 && int(cfg.RestartDelay) >= oracleCount:
		return ErrDelayExceedsTotal
	case oracleCount > 0 && cfg.MinSubmissionCount == 0:
		return ErrMinSubmissionsZero
	case a.funds.Available.Cmp(requiredReserve(cfg.PaymentAmount, oracleCount)) < 0:
		return ErrInsufficientForPayment
	}
	return nil
}

// applyRoundConfig installs the parameter set and returns the
// corresponding event. Caller holds the lock and has validated.
func (a *Aggregator) applyRoundConfig(cfg model.RoundConfig, now time.Time) model.Event {
	a.config = cfg
	ev := model.NewEvent(model.EventRoundDetailsUpdated, now)
	snapshot := cfg
	snapshot.PaymentAmount = new(big.Int).Set(cfg.PaymentAmount)
	ev.Config = &snapshot
	return ev
}

// requiredReserve is the floor the available balance may never dip
// under: payment for every oracle across ReserveRounds rounds.
func requiredReserve(payment *big.Int, oracleCount int) *big.Int {
	r := new(big.Int).SetInt64(int64(oracleCount) * ReserveRounds)
	return r.Mul(r, payment)
}

// UpdateAvailableFunds recomputes the spendable balance from the
// actual token balance minus allocations. Self-corrects for tokens
// sent directly to the feed's account outside the funding hook.
func (a *Aggregator) UpdateAvailableFunds() []model.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updateAvailableFunds(a.clock())
}

func (a *Aggregator) updateAvailableFunds(now time.Time) []model.Event {
	balance := a.tok.BalanceOf(a.addr)
	available := new(big.Int).Sub(balance, a.funds.Allocated)
	if available.Cmp(a.funds.Available) == 0 {
		return nil
	}
	a.funds.Available = available

	ev := model.NewEvent(model.EventAvailableFundsUpdated, now)
	ev.Value = new(big.Int).Set(available)
	return []model.Event{ev}
}

// OnTokenTransfer is the funding hook invoked when tokens arrive via
// TransferAndCall. Attached calldata is rejected.
func (a *Aggregator) OnTokenTransfer(_ common.Address, _ *big.Int, data []byte) error {
	if len(data) != 0 {
		return ErrCalldataNotAccepted
	}
	a.UpdateAvailableFunds()
	return nil
}

// WithdrawFunds pays out owner surplus. The reserve for the current
// payment amount stays untouchable.
func (a *Aggregator) WithdrawFunds(caller, recipient common.Address, amount *big.Int) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInsufficientReserve
	}
	surplus := new(big.Int).Sub(a.funds.Available, requiredReserve(a.config.PaymentAmount, len(a.oracleList)))
	if surplus.Cmp(amount) < 0 {
		return nil, ErrInsufficientReserve
	}

	// Debit before the external transfer; restore if the token rejects,
	// so the operation stays all-or-nothing.
	a.funds.Available = new(big.Int).Sub(a.funds.Available, amount)
	if err := a.tok.Transfer(a.addr, recipient, amount); err != nil {
		a.funds.Available = new(big.Int).Add(a.funds.Available, amount)
		return nil, fmt.Errorf("token transfer failed: %w", err)
	}
	return a.updateAvailableFunds(a.clock()), nil
}

// WithdrawPayment moves earned payment out to a recipient. Only the
// oracle's admin may withdraw.
func (a *Aggregator) WithdrawPayment(caller, oracle, recipient common.Address, amount *big.Int) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.oracles[oracle]
	if !ok || o.Admin != caller {
		return nil, ErrNotAdmin
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInsufficientWithdrawable
	}
	withdrawable := withdrawableOf(o)
	if withdrawable.Cmp(amount) < 0 {
		return nil, ErrInsufficientWithdrawable
	}

	o.Withdrawable = new(big.Int).Sub(withdrawable, amount)
	a.funds.Allocated = new(big.Int).Sub(a.funds.Allocated, amount)
	if err := a.tok.Transfer(a.addr, recipient, amount); err != nil {
		o.Withdrawable = new(big.Int).Add(o.Withdrawable, amount)
		a.funds.Allocated = new(big.Int).Add(a.funds.Allocated, amount)
		return nil, fmt.Errorf("token transfer failed: %w", err)
	}
	return nil, nil
}

// AvailableFunds reports the spendable balance.
func (a *Aggregator) AvailableFunds() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.funds.Available)
}

// AllocatedFunds reports the sum of unwithdrawn oracle balances.
func (a *Aggregator) AllocatedFunds() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(big.Int).Set(a.funds.Allocated)
}

// RoundConfig returns the parameter set future rounds will snapshot.
func (a *Aggregator) RoundConfig() model.RoundConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := a.config
	cfg.PaymentAmount = new(big.Int).Set(a.config.PaymentAmount)
	return cfg
}
