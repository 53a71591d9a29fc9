package flux

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/aggregate"
	"github.com/yourorg/flux-aggregator/internal/model"
)

// The feed exposes two read surfaces over the same storage. The legacy
// one never errors and signals absence with zero values, kept for
// consumers that cannot handle failing reads. The modern one fails
// closed: reading a round that was never answered is an error, so an
// unset storage zero can never be mistaken for a real answer.

// LatestAnswer returns the most recently computed answer, or 0.
func (a *Aggregator) LatestAnswer() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answerFor(a.latestRoundID)
}

// LatestTimestamp returns when the latest answer was computed, or 0.
func (a *Aggregator) LatestTimestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timestampFor(a.latestRoundID)
}

// LatestRound returns the most recently answered round id.
func (a *Aggregator) LatestRound() model.RoundID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latestRoundID
}

// ReportingRound returns the frontier round id.
func (a *Aggregator) ReportingRound() model.RoundID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reportingRoundID
}

// GetAnswer returns the answer recorded for a round, or 0 when absent.
func (a *Aggregator) GetAnswer(roundID model.RoundID) *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answerFor(roundID)
}

// GetTimestamp returns when a round's answer was computed, or 0.
func (a *Aggregator) GetTimestamp(roundID model.RoundID) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timestampFor(roundID)
}

func (a *Aggregator) answerFor(roundID model.RoundID) *big.Int {
	if r, ok := a.rounds[roundID]; ok && r.Answer != nil {
		return new(big.Int).Set(r.Answer)
	}
	return new(big.Int)
}

func (a *Aggregator) timestampFor(roundID model.RoundID) int64 {
	if r, ok := a.rounds[roundID]; ok {
		return r.UpdatedAt
	}
	return 0
}

// ReportingRoundStats summarizes the dispersion of the reporting
// round's pending submission set. Count is zero when the round holds
// no pending submissions, in which case min and max are nil. The
// working set is discarded once the round accepts its last
// submission, so the stats cover in-flight rounds only.
func (a *Aggregator) ReportingRoundStats() (min, max, spread *big.Int, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := a.details[a.reportingRoundID]
	if d == nil || len(d.Submissions) == 0 {
		return nil, nil, new(big.Int), 0
	}
	return aggregate.Min(d.Submissions), aggregate.Max(d.Submissions), aggregate.Spread(d.Submissions), len(d.Submissions)
}

// RoundData returns the full record of an answered round, erroring on
// rounds that have never been answered.
func (a *Aggregator) RoundData(roundID model.RoundID) (model.RoundData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roundData(roundID)
}

// LatestRoundData returns the record of the most recently answered round.
func (a *Aggregator) LatestRoundData() (model.RoundData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roundData(a.latestRoundID)
}

func (a *Aggregator) roundData(roundID model.RoundID) (model.RoundData, error) {
	r, ok := a.rounds[roundID]
	if !ok || r.AnsweredInRound == 0 {
		return model.RoundData{}, ErrNoData
	}
	return model.RoundData{
		RoundID:         roundID,
		Answer:          new(big.Int).Set(r.Answer),
		StartedAt:       r.StartedAt,
		UpdatedAt:       r.UpdatedAt,
		AnsweredInRound: r.AnsweredInRound,
	}, nil
}

// OracleRoundState is the diagnostic oracle operator software polls to
// decide whether and what to submit. A non-zero queriedRoundID reports
// that specific round; zero asks the engine to suggest the round the
// oracle should work on next. Exposed only on the external operator
// surface, never consumed by engine code.
func (a *Aggregator) OracleRoundState(oracle common.Address, queriedRoundID model.RoundID) model.OracleRoundState {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if queriedRoundID > 0 {
		return a.oracleRoundStateFor(oracle, queriedRoundID)
	}
	return a.oracleRoundStateSuggested(oracle, now)
}

func (a *Aggregator) oracleRoundStateFor(oracle common.Address, roundID model.RoundID) model.OracleRoundState {
	now := a.clock()
	r := a.rounds[roundID]
	d := a.details[roundID]

	eligible := false
	if r != nil && r.StartedAt > 0 {
		eligible = a.acceptingSubmissions(roundID)
	} else {
		eligible = a.delayed(oracle, roundID)
	}
	if a.validateOracleRound(oracle, roundID, now) != nil {
		eligible = false
	}

	state := model.OracleRoundState{
		EligibleToSubmit: eligible,
		RoundID:          roundID,
		AvailableFunds:   new(big.Int).Set(a.funds.Available),
		OracleCount:      len(a.oracleList),
		PaymentAmount:    new(big.Int).Set(a.config.PaymentAmount),
	}
	if o, ok := a.oracles[oracle]; ok && o.LatestSubmission != nil {
		state.LatestSubmission = new(big.Int).Set(o.LatestSubmission)
	}
	if r != nil {
		state.StartedAt = r.StartedAt
	}
	if d != nil {
		state.Timeout = d.Timeout
		state.PaymentAmount = new(big.Int).Set(d.PaymentAmount)
	}
	return state
}

func (a *Aggregator) oracleRoundStateSuggested(oracle common.Address, now time.Time) model.OracleRoundState {
	rr := a.reportingRoundID

	var o *model.OracleStatus
	if existing, ok := a.oracles[oracle]; ok {
		o = existing
	}

	shouldSupersede := (o != nil && o.LastReportedRound == rr) || !a.acceptingSubmissions(rr)

	var roundID model.RoundID
	var eligible bool
	var payment *big.Int
	if a.supersedable(rr, now) && shouldSupersede {
		roundID = rr + 1
		eligible = a.delayed(oracle, roundID)
		payment = a.config.PaymentAmount
	} else {
		roundID = rr
		eligible = a.acceptingSubmissions(roundID)
		if d := a.details[roundID]; d != nil {
			payment = d.PaymentAmount
		} else {
			payment = a.config.PaymentAmount
		}
	}
	if a.validateOracleRound(oracle, roundID, now) != nil {
		eligible = false
	}

	state := model.OracleRoundState{
		EligibleToSubmit: eligible,
		RoundID:          roundID,
		AvailableFunds:   new(big.Int).Set(a.funds.Available),
		OracleCount:      len(a.oracleList),
		PaymentAmount:    new(big.Int).Set(payment),
	}
	if o != nil && o.LatestSubmission != nil {
		state.LatestSubmission = new(big.Int).Set(o.LatestSubmission)
	}
	if r := a.rounds[roundID]; r != nil {
		state.StartedAt = r.StartedAt
	}
	if d := a.details[roundID]; d != nil {
		state.Timeout = d.Timeout
	}
	return state
}
