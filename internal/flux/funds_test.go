package flux

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/flux-aggregator/internal/model"
)

func TestUpdateFutureRoundsRequiresReserve(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	// Available is 100_000; a payment needing more than
	// payment * 3 oracles * ReserveRounds is refused.
	cfg := f.engine.RoundConfig()
	cfg.PaymentAmount = big.NewInt(20_000)
	_, err := f.engine.UpdateFutureRounds(owner, cfg)
	require.ErrorIs(t, err, ErrInsufficientForPayment)

	cfg.PaymentAmount = big.NewInt(10_000)
	events, err := f.engine.UpdateFutureRounds(owner, cfg)
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventRoundDetailsUpdated}, eventTypes(events))
	require.Equal(t, int64(10_000), f.engine.RoundConfig().PaymentAmount.Int64())
}

func TestWithdrawFundsKeepsReserveUntouchable(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	// Reserve is payment * 3 oracles * ReserveRounds = 18.
	reserve := int64(testPayment * 3 * ReserveRounds)
	available := f.engine.AvailableFunds().Int64()

	_, err := f.engine.WithdrawFunds(outside, outside, big.NewInt(1))
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = f.engine.WithdrawFunds(owner, owner, big.NewInt(available))
	require.ErrorIs(t, err, ErrInsufficientReserve)

	before := f.tok.BalanceOf(owner)
	_, err = f.engine.WithdrawFunds(owner, owner, big.NewInt(available-reserve))
	require.NoError(t, err)
	require.Equal(t, int64(reserve), f.engine.AvailableFunds().Int64())

	got := new(big.Int).Sub(f.tok.BalanceOf(owner), before)
	require.Equal(t, available-reserve, got.Int64())
}

func TestWithdrawPaymentRequiresAdminAndBalance(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)
	f.submit(oracleA, 1, 10)

	// Only the oracle's admin may withdraw; the oracle itself may not.
	_, err := f.engine.WithdrawPayment(oracleA, oracleA, oracleA, big.NewInt(1))
	require.ErrorIs(t, err, ErrNotAdmin)

	_, err = f.engine.WithdrawPayment(adminA, oracleA, adminA, big.NewInt(testPayment+1))
	require.ErrorIs(t, err, ErrInsufficientWithdrawable)

	_, err = f.engine.WithdrawPayment(adminA, oracleA, adminA, big.NewInt(testPayment))
	require.NoError(t, err)
	require.Zero(t, f.engine.WithdrawablePayment(oracleA).Sign())
	require.Zero(t, f.engine.AllocatedFunds().Sign())
	require.Equal(t, big.NewInt(testPayment), f.tok.BalanceOf(adminA))
}

func TestFundingHookRejectsCalldata(t *testing.T) {
	f := newFixture(t)

	err := f.tok.TransferAndCall(owner, feed, big.NewInt(100), []byte{0x01})
	require.ErrorIs(t, err, ErrCalldataNotAccepted)

	// The rejected transfer rolled back.
	available := f.engine.AvailableFunds()
	require.Equal(t, f.tok.BalanceOf(feed), available)
}

func TestUpdateAvailableFundsTracksDirectTransfers(t *testing.T) {
	f := newFixture(t)
	before := f.engine.AvailableFunds()

	// Tokens moved without the hook are invisible until a refresh.
	require.NoError(t, f.tok.Transfer(owner, feed, big.NewInt(500)))
	require.Equal(t, before, f.engine.AvailableFunds())

	events := f.engine.UpdateAvailableFunds()
	require.Equal(t, []model.EventType{model.EventAvailableFundsUpdated}, eventTypes(events))
	require.Equal(t, new(big.Int).Add(before, big.NewInt(500)), f.engine.AvailableFunds())

	// A refresh with nothing to reconcile emits nothing.
	require.Empty(t, f.engine.UpdateAvailableFunds())
}
