package flux

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/model"
)

// Snapshot is a serializable copy of the engine's full state, used by
// the store to persist across restarts. The dense-list index map is
// derived, not stored.
type Snapshot struct {
	Owner        common.Address `json:"owner"`
	PendingOwner common.Address `json:"pending_owner"`

	Config             model.RoundConfig `json:"config"`
	MinSubmissionValue *big.Int          `json:"min_submission_value"`
	MaxSubmissionValue *big.Int          `json:"max_submission_value"`
	Decimals           uint8             `json:"decimals"`
	Description        string            `json:"description"`

	ReportingRoundID model.RoundID `json:"reporting_round_id"`
	LatestRoundID    model.RoundID `json:"latest_round_id"`

	Rounds  map[model.RoundID]*model.Round        `json:"rounds"`
	Details map[model.RoundID]*model.RoundDetails `json:"details"`

	Oracles    map[common.Address]*model.OracleStatus `json:"oracles"`
	OracleList []common.Address                       `json:"oracle_list"`
	Requesters map[common.Address]*model.Requester    `json:"requesters"`

	Funds model.Funds `json:"funds"`
}

// Snapshot captures a deep copy of the current state.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Snapshot{
		Owner:              a.owner,
		PendingOwner:       a.pendingOwner,
		Config:             a.config,
		MinSubmissionValue: new(big.Int).Set(a.minSubmissionValue),
		MaxSubmissionValue: new(big.Int).Set(a.maxSubmissionValue),
		Decimals:           a.decimals,
		Description:        a.description,
		ReportingRoundID:   a.reportingRoundID,
		LatestRoundID:      a.latestRoundID,
		Rounds:             make(map[model.RoundID]*model.Round, len(a.rounds)),
		Details:            make(map[model.RoundID]*model.RoundDetails, len(a.details)),
		Oracles:            make(map[common.Address]*model.OracleStatus, len(a.oracles)),
		OracleList:         append([]common.Address(nil), a.oracleList...),
		Requesters:         make(map[common.Address]*model.Requester, len(a.requesters)),
		Funds: model.Funds{
			Available: new(big.Int).Set(a.funds.Available),
			Allocated: new(big.Int).Set(a.funds.Allocated),
		},
	}
	s.Config.PaymentAmount = new(big.Int).Set(a.config.PaymentAmount)

	for id, r := range a.rounds {
		cp := *r
		cp.Answer = bigOrZero(r.Answer)
		s.Rounds[id] = &cp
	}
	for id, d := range a.details {
		cp := *d
		cp.PaymentAmount = bigOrZero(d.PaymentAmount)
		cp.Submissions = make([]*big.Int, len(d.Submissions))
		for i, v := range d.Submissions {
			cp.Submissions[i] = new(big.Int).Set(v)
		}
		s.Details[id] = &cp
	}
	for addr, o := range a.oracles {
		cp := *o
		cp.Withdrawable = bigOrZero(o.Withdrawable)
		cp.LatestSubmission = bigOrZero(o.LatestSubmission)
		s.Oracles[addr] = &cp
	}
	for addr, r := range a.requesters {
		cp := *r
		s.Requesters[addr] = &cp
	}
	return s
}

// Restore replaces the engine's state with the snapshot's. The token
// and validator collaborators are untouched.
func (a *Aggregator) Restore(s *Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.owner = s.Owner
	a.pendingOwner = s.PendingOwner
	a.config = s.Config
	a.config.PaymentAmount = bigOrZero(s.Config.PaymentAmount)
	a.minSubmissionValue = bigOrZero(s.MinSubmissionValue)
	a.maxSubmissionValue = bigOrZero(s.MaxSubmissionValue)
	a.decimals = s.Decimals
	a.description = s.Description
	a.reportingRoundID = s.ReportingRoundID
	a.latestRoundID = s.LatestRoundID

	a.rounds = make(map[model.RoundID]*model.Round, len(s.Rounds))
	for id, r := range s.Rounds {
		cp := *r
		cp.Answer = bigOrZero(r.Answer)
		a.rounds[id] = &cp
	}
	a.details = make(map[model.RoundID]*model.RoundDetails, len(s.Details))
	for id, d := range s.Details {
		cp := *d
		cp.PaymentAmount = bigOrZero(d.PaymentAmount)
		cp.Submissions = make([]*big.Int, len(d.Submissions))
		for i, v := range d.Submissions {
			cp.Submissions[i] = new(big.Int).Set(v)
		}
		a.details[id] = &cp
	}
	a.oracles = make(map[common.Address]*model.OracleStatus, len(s.Oracles))
	for addr, o := range s.Oracles {
		cp := *o
		cp.Withdrawable = bigOrZero(o.Withdrawable)
		cp.LatestSubmission = bigOrZero(o.LatestSubmission)
		a.oracles[addr] = &cp
	}
	a.oracleList = append([]common.Address(nil), s.OracleList...)
	a.oracleIdx = make(map[common.Address]int, len(a.oracleList))
	for i, addr := range a.oracleList {
		a.oracleIdx[addr] = i
	}
	a.requesters = make(map[common.Address]*model.Requester, len(s.Requesters))
	for addr, r := range s.Requesters {
		cp := *r
		a.requesters[addr] = &cp
	}
	a.funds = model.Funds{
		Available: bigOrZero(s.Funds.Available),
		Allocated: bigOrZero(s.Funds.Allocated),
	}
}
