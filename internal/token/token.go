// Package token models the payment token the aggregator pays oracles
// with. The engine only sees the Token interface; SimToken is the
// in-memory ledger the server and tests run against.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the opaque payment-token collaborator.
type Token interface {
	// BalanceOf reports the balance held by addr.
	BalanceOf(addr common.Address) *big.Int

	// Transfer moves amount from one account to another.
	Transfer(from, to common.Address, amount *big.Int) error

	// TransferAndCall moves amount and then invokes the recipient's
	// transfer hook with the attached data, rolling the transfer back
	// if the hook rejects it.
	TransferAndCall(from, to common.Address, amount *big.Int, data []byte) error
}

// TransferReceiver is implemented by accounts that want to be notified
// when tokens arrive via TransferAndCall.
type TransferReceiver interface {
	OnTokenTransfer(from common.Address, amount *big.Int, data []byte) error
}

var (
	// ErrInsufficientBalance rejects transfers exceeding the sender's balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrInvalidAmount rejects nil or negative transfer amounts.
	ErrInvalidAmount = errors.New("invalid transfer amount")
)

// SimToken is a thread-safe in-memory ERC-677-style token ledger.
type SimToken struct {
	mu        sync.RWMutex
	balances  map[common.Address]*big.Int
	receivers map[common.Address]TransferReceiver
}

// NewSimToken creates an empty ledger.
func NewSimToken() *SimToken {
	return &SimToken{
		balances:  make(map[common.Address]*big.Int),
		receivers: make(map[common.Address]TransferReceiver),
	}
}

// Mint credits amount to addr. Test and bootstrap helper.
func (t *SimToken) Mint(addr common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(addr, amount)
}

// RegisterReceiver attaches a transfer hook to an account address.
func (t *SimToken) RegisterReceiver(addr common.Address, r TransferReceiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receivers[addr] = r
}

// BalanceOf reports the balance held by addr.
func (t *SimToken) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount between accounts.
func (t *SimToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferAndCall moves amount and invokes the recipient's hook. A
// rejecting hook undoes the transfer, so the call is all-or-nothing.
func (t *SimToken) TransferAndCall(from, to common.Address, amount *big.Int, data []byte) error {
	t.mu.Lock()
	if err := t.move(from, to, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	receiver := t.receivers[to]
	t.mu.Unlock()

	if receiver == nil {
		return nil
	}
	if err := receiver.OnTokenTransfer(from, amount, data); err != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if moveErr := t.move(to, from, amount); moveErr != nil {
			return fmt.Errorf("transfer hook rejected and rollback failed: %w", moveErr)
		}
		return fmt.Errorf("transfer hook rejected: %w", err)
	}
	return nil
}

// TotalSupply reports the sum of all balances.
func (t *SimToken) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := new(big.Int)
	for _, b := range t.balances {
		total.Add(total, b)
	}
	return total
}

// Balances returns a copy of the full ledger, for persistence.
func (t *SimToken) Balances() map[common.Address]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(t.balances))
	for a, b := range t.balances {
		out[a] = new(big.Int).Set(b)
	}
	return out
}

// SetBalances replaces the ledger, for restore on restart.
func (t *SimToken) SetBalances(balances map[common.Address]*big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[common.Address]*big.Int, len(balances))
	for a, b := range balances {
		t.balances[a] = new(big.Int).Set(b)
	}
}

func (t *SimToken) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

func (t *SimToken) credit(addr common.Address, amount *big.Int) {
	if b, ok := t.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[addr] = new(big.Int).Set(amount)
}
