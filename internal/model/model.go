// Package model defines the core data structures for the flux aggregator engine.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundID identifies one discrete aggregation cycle. ID 0 is the
// sentinel "no round"; ids are assigned sequentially from 1.
type RoundID = uint32

// NoRound is the sentinel round id.
const NoRound RoundID = 0

// RoundMax is the highest assignable round id.
const RoundMax RoundID = ^RoundID(0)

// Round is the durable record of one aggregation cycle.
// UpdatedAt > 0 iff the round has a computed answer, and
// AnsweredInRound is always <= the round's own id.
type Round struct {
	// Answer is the aggregate value computed for this round
	Answer *big.Int `json:"answer"`

	// StartedAt is the Unix time the round was opened
	StartedAt int64 `json:"started_at"`

	// UpdatedAt is the Unix time the answer was last computed
	UpdatedAt int64 `json:"updated_at"`

	// AnsweredInRound is the id of the round whose computation produced
	// Answer. It lags the round's own id when a timed-out round copied
	// the previous answer forward.
	AnsweredInRound RoundID `json:"answered_in_round"`
}

// RoundDetails holds the ephemeral working set of an open round: the
// raw submissions in arrival order plus a snapshot of the round
// parameters taken at open time. Later configuration changes never
// affect an in-flight round. Deleted once the round is full or times out.
type RoundDetails struct {
	Submissions    []*big.Int `json:"submissions"`
	MaxSubmissions uint32     `json:"max_submissions"`
	MinSubmissions uint32     `json:"min_submissions"`
	Timeout        uint32     `json:"timeout"` // seconds; 0 disables the deadline
	PaymentAmount  *big.Int   `json:"payment_amount"`
}

// OracleStatus is the per-oracle registry record.
type OracleStatus struct {
	// Withdrawable is the earned, not yet withdrawn payment balance
	Withdrawable *big.Int `json:"withdrawable"`

	// StartingRound and EndingRound bound the oracle's authorization
	// window. StartingRound == 0 means never enabled; EndingRound is
	// RoundMax while the oracle is active.
	StartingRound RoundID `json:"starting_round"`
	EndingRound   RoundID `json:"ending_round"`

	// LastReportedRound is the most recent round the oracle submitted to
	LastReportedRound RoundID `json:"last_reported_round"`

	// LastStartedRound throttles how often the oracle may initiate rounds
	LastStartedRound RoundID `json:"last_started_round"`

	// LatestSubmission is the oracle's most recent accepted value
	LatestSubmission *big.Int `json:"latest_submission"`

	// Admin controls payment withdrawal and admin handoff for this
	// oracle. PendingAdmin is the proposed successor awaiting acceptance.
	Admin        common.Address `json:"admin"`
	PendingAdmin common.Address `json:"pending_admin"`
}

// Requester is a non-oracle address authorized to trigger new rounds.
type Requester struct {
	Authorized       bool    `json:"authorized"`
	Delay            uint32  `json:"delay"`
	LastStartedRound RoundID `json:"last_started_round"`
}

// Funds splits the feed's token balance into the owner-withdrawable
// reserve and the sum of all oracles' unwithdrawn balances. The two
// must always add up to the actual token balance.
type Funds struct {
	Available *big.Int `json:"available"`
	Allocated *big.Int `json:"allocated"`
}

// RoundData is the modern read surface's view of an answered round.
type RoundData struct {
	RoundID         RoundID  `json:"round_id"`
	Answer          *big.Int `json:"answer"`
	StartedAt       int64    `json:"started_at"`
	UpdatedAt       int64    `json:"updated_at"`
	AnsweredInRound RoundID  `json:"answered_in_round"`
}

// OracleRoundState is the off-chain diagnostic oracle operator software
// polls to decide whether and what to submit next.
type OracleRoundState struct {
	EligibleToSubmit bool     `json:"eligible_to_submit"`
	RoundID          RoundID  `json:"round_id"`
	LatestSubmission *big.Int `json:"latest_submission"`
	StartedAt        int64    `json:"started_at"`
	Timeout          uint32   `json:"timeout"`
	AvailableFunds   *big.Int `json:"available_funds"`
	OracleCount      int      `json:"oracle_count"`
	PaymentAmount    *big.Int `json:"payment_amount"`
}

// RoundConfig is the tunable parameter set applied to future rounds.
type RoundConfig struct {
	PaymentAmount      *big.Int `json:"payment_amount"`
	MinSubmissionCount uint32   `json:"min_submission_count"`
	MaxSubmissionCount uint32   `json:"max_submission_count"`
	RestartDelay       uint32   `json:"restart_delay"`
	Timeout            uint32   `json:"timeout"`
}
