package flux

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/flux-aggregator/internal/model"
)

func TestChangeOraclesValidation(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	tests := []struct {
		name    string
		removed []common.Address
		added   []common.Address
		admins  []common.Address
		min     uint32
		max     uint32
		delay   uint32
		err     error
	}{
		{
			name:   "mismatched admins",
			added:  []common.Address{outside},
			admins: nil,
			min:    2, max: 3,
			err: ErrOracleMismatchedAdmins,
		},
		{
			name:    "removing unknown oracle",
			removed: []common.Address{outside},
			min:     2, max: 2,
			err: ErrOracleNotEnabled,
		},
		{
			name:   "adding enabled oracle",
			added:  []common.Address{oracleA},
			admins: []common.Address{adminA},
			min:    2, max: 3,
			err: ErrOracleAlreadyEnabled,
		},
		{
			name:   "duplicate in added list",
			added:  []common.Address{outside, outside},
			admins: []common.Address{adminA, adminA},
			min:    2, max: 3,
			err: ErrOracleAlreadyEnabled,
		},
		{
			name:   "zero admin address",
			added:  []common.Address{outside},
			admins: []common.Address{{}},
			min:    2, max: 3,
			err: ErrAdminAddressZero,
		},
		{
			name: "max below min",
			min:  3, max: 2,
			err: ErrMaxBelowMin,
		},
		{
			name: "max exceeds oracle count",
			min:  2, max: 4,
			err: ErrMaxExceedsTotal,
		},
		{
			name: "restart delay too large",
			min:  2, max: 3, delay: 3,
			err: ErrDelayExceedsTotal,
		},
		{
			name: "zero min with oracles",
			min:  0, max: 3,
			err: ErrMinSubmissionsZero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ChangeOracles(owner, tt.removed, tt.added, tt.admins, tt.min, tt.max, tt.delay)
			require.ErrorIs(t, err, tt.err)
		})
	}

	// Nothing above changed the registry.
	require.Equal(t, 3, f.engine.OracleCount())

	_, err := f.engine.ChangeOracles(outside, nil, nil, nil, 2, 3, 0)
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestChangeOraclesEnforcesMaxCount(t *testing.T) {
	f := newFixture(t)

	added := make([]common.Address, MaxOracleCount)
	admins := make([]common.Address, MaxOracleCount)
	for i := range added {
		added[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+0x1000))
		admins[i] = adminA
	}
	_, err := f.engine.ChangeOracles(owner, nil, added, admins, 1, 1, 0)
	require.NoError(t, err)
	require.Equal(t, MaxOracleCount, f.engine.OracleCount())

	_, err = f.engine.ChangeOracles(owner, nil,
		[]common.Address{outside}, []common.Address{adminA}, 1, 1, 0)
	require.ErrorIs(t, err, ErrMaxOraclesExceeded)
}

func TestRemovedOracleEligibilityWindow(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	f.submit(oracleA, 1, 10)
	f.submit(oracleB, 1, 20)

	// Removal mid-frontier: C may still finish round reporting+1, then
	// is locked out.
	_, err := f.engine.ChangeOracles(owner,
		[]common.Address{oracleC}, nil, nil, 2, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 2, f.engine.OracleCount())
	require.NotContains(t, f.engine.Oracles(), oracleC)

	f.submit(oracleC, 2, 30)

	f.submit(oracleA, 2, 40)
	_, err = f.engine.Submit(oracleC, 3, big.NewInt(50))
	require.ErrorIs(t, err, ErrOracleNoLongerAllowed)
}

func TestRemovedOracleKeepsWithdrawablePayment(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	f.submit(oracleA, 1, 10)
	f.submit(oracleC, 1, 20)

	_, err := f.engine.ChangeOracles(owner,
		[]common.Address{oracleC}, nil, nil, 2, 2, 0)
	require.NoError(t, err)

	require.Equal(t, int64(testPayment), f.engine.WithdrawablePayment(oracleC).Int64())

	_, err = f.engine.WithdrawPayment(adminC, oracleC, adminC, big.NewInt(testPayment))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(testPayment), f.tok.BalanceOf(adminC))
}

func TestReAddedOracleKeepsAdminContinuity(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	_, err := f.engine.ChangeOracles(owner,
		[]common.Address{oracleC}, nil, nil, 2, 2, 0)
	require.NoError(t, err)

	// Re-adding with a different admin is refused; the record survives
	// removal.
	_, err = f.engine.ChangeOracles(owner, nil,
		[]common.Address{oracleC}, []common.Address{adminA}, 2, 3, 0)
	require.ErrorIs(t, err, ErrCannotOverwriteAdmin)

	_, err = f.engine.ChangeOracles(owner, nil,
		[]common.Address{oracleC}, []common.Address{adminC}, 2, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 3, f.engine.OracleCount())
}

func TestSwapAndPopRemovalKeepsListDense(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	// Remove the middle entry; the tail should take its slot.
	_, err := f.engine.ChangeOracles(owner,
		[]common.Address{oracleB}, nil, nil, 2, 2, 0)
	require.NoError(t, err)

	require.ElementsMatch(t, []common.Address{oracleA, oracleC}, f.engine.Oracles())

	// Removing the relocated tail still works.
	_, err = f.engine.ChangeOracles(owner,
		[]common.Address{oracleC}, nil, nil, 1, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []common.Address{oracleA}, f.engine.Oracles())
}

func TestAdminTransferIsTwoPhase(t *testing.T) {
	f := newFixture(t)
	f.addOracles(2, 3, 0)

	_, err := f.engine.TransferAdmin(adminB, oracleA, outside)
	require.ErrorIs(t, err, ErrNotAdmin)

	_, err = f.engine.TransferAdmin(adminA, oracleA, outside)
	require.NoError(t, err)
	require.Equal(t, adminA, f.engine.OracleAdmin(oracleA))

	_, err = f.engine.AcceptAdmin(adminB, oracleA)
	require.ErrorIs(t, err, ErrNotPendingAdmin)

	events, err := f.engine.AcceptAdmin(outside, oracleA)
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventOracleAdminUpdated}, eventTypes(events))
	require.Equal(t, outside, f.engine.OracleAdmin(oracleA))
}
