// Package flux implements the round-based submission, aggregation and
// payment state machine behind a flux-monitor price feed: oracles race
// to submit values into numbered rounds, a median answer is computed
// once quorum is reached, and every accepted submission earns the
// round's snapshotted payment.
//
// All state lives in one mutex-guarded aggregate. Every operation is
// atomic: it validates fully before mutating anything, so a failed
// call leaves no trace. Mutating operations return the domain events
// they produced; the engine never emits side effects of its own beyond
// token transfers and the isolated validator notification.
package flux

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yourorg/flux-aggregator/internal/aggregate"
	"github.com/yourorg/flux-aggregator/internal/model"
	"github.com/yourorg/flux-aggregator/internal/token"
	"github.com/yourorg/flux-aggregator/internal/validator"
)

const (
	// Version of the read surface this feed exposes.
	Version = 3

	// ReserveRounds sizes the payment reserve the owner can never
	// withdraw: enough to pay every oracle for this many full rounds.
	ReserveRounds = 2

	// MaxOracleCount caps the active oracle set.
	MaxOracleCount = 77
)

// Clock supplies the engine's notion of now. Injectable so tests can
// drive round timeouts deterministically.
type Clock func() time.Time

// Config fixes the feed's immutable parameters at construction.
type Config struct {
	// Owner holds the administrative privilege channel
	Owner common.Address

	// Address is the feed's own token account
	Address common.Address

	// PaymentAmount is the initial per-submission payment
	PaymentAmount *big.Int

	// Timeout is the initial round deadline in seconds
	Timeout uint32

	// MinSubmissionValue and MaxSubmissionValue bound accepted values, inclusive
	MinSubmissionValue *big.Int
	MaxSubmissionValue *big.Int

	// Decimals and Description describe the feed to consumers
	Decimals    uint8
	Description string
}

// Aggregator is the round aggregation engine plus its oracle registry
// and funds ledger. Safe for concurrent use; each operation holds the
// single lock for its full duration, which is the serialization
// discipline the round semantics assume.
type Aggregator struct {
	mu sync.Mutex

	addr         common.Address
	owner        common.Address
	pendingOwner common.Address

	tok       token.Token
	validator *validator.Safe

	clock Clock

	config             model.RoundConfig
	minSubmissionValue *big.Int
	maxSubmissionValue *big.Int
	decimals           uint8
	description        string

	reportingRoundID model.RoundID
	latestRoundID    model.RoundID

	rounds  map[model.RoundID]*model.Round
	details map[model.RoundID]*model.RoundDetails

	oracles    map[common.Address]*model.OracleStatus
	oracleList []common.Address
	oracleIdx  map[common.Address]int

	requesters map[common.Address]*model.Requester

	funds model.Funds
}

// Option customizes a new Aggregator.
type Option func(*Aggregator)

// WithClock overrides the engine clock.
func WithClock(c Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithValidator attaches an external answer validator. It is wrapped
// so its failures can never propagate into submissions.
func WithValidator(v *validator.Safe) Option {
	return func(a *Aggregator) { a.validator = v }
}

// New creates an engine for the given token and feed configuration.
func New(tok token.Token, cfg Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		addr:               cfg.Address,
		owner:              cfg.Owner,
		tok:                tok,
		clock:              time.Now,
		minSubmissionValue: bigOrZero(cfg.MinSubmissionValue),
		maxSubmissionValue: bigOrZero(cfg.MaxSubmissionValue),
		decimals:           cfg.Decimals,
		description:        cfg.Description,
		rounds:             make(map[model.RoundID]*model.Round),
		details:            make(map[model.RoundID]*model.RoundDetails),
		oracles:            make(map[common.Address]*model.OracleStatus),
		oracleIdx:          make(map[common.Address]int),
		requesters:         make(map[common.Address]*model.Requester),
		funds: model.Funds{
			Available: new(big.Int),
			Allocated: new(big.Int),
		},
	}
	a.config = model.RoundConfig{
		PaymentAmount: bigOrZero(cfg.PaymentAmount),
		Timeout:       cfg.Timeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.validator == nil {
		a.validator = validator.NewSafe(nil, 0)
	}

	// Backdate the sentinel round so round 1 is immediately openable.
	a.rounds[model.NoRound] = &model.Round{
		Answer:    new(big.Int),
		UpdatedAt: a.clock().Unix() - int64(cfg.Timeout),
	}
	return a
}

// Submit records an oracle's value for the given round. It is the
// single entry point of the state machine: it opens the round when the
// sender is initiating it, records the value, recomputes the median
// once quorum is reached, pays the sender, reclaims the round's
// working set when full, and notifies the validator of a new answer.
func (a *Aggregator) Submit(sender common.Address, roundID model.RoundID, value *big.Int) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()

	if err := a.validateOracleRound(sender, roundID, now); err != nil {
		return nil, err
	}
	if value == nil || value.Cmp(a.minSubmissionValue) < 0 {
		return nil, ErrValueBelowMinimum
	}
	if value.Cmp(a.maxSubmissionValue) > 0 {
		return nil, ErrValueAboveMaximum
	}

	// A sender targeting reportingRound+1 only opens the round when
	// clear of its restart throttle; otherwise the round has no
	// working set and the submission is rejected below.
	opening := roundID == a.reportingRoundID+1 && a.delayed(sender, roundID)

	payment := a.config.PaymentAmount
	if !opening {
		d, ok := a.details[roundID]
		if !ok || d.MaxSubmissions == 0 {
			return nil, ErrRoundNotAcceptingSubmissions
		}
		payment = d.PaymentAmount
	}
	if a.funds.Available.Cmp(payment) < 0 {
		return nil, ErrInsufficientAvailable
	}

	// All checks passed; everything below must succeed.
	var events []model.Event
	if opening {
		events = append(events, a.initializeNewRound(roundID, sender, now)...)
		a.oracles[sender].LastStartedRound = roundID
	}

	d := a.details[roundID]
	d.Submissions = append(d.Submissions, new(big.Int).Set(value))
	st := a.oracles[sender]
	st.LastReportedRound = roundID
	st.LatestSubmission = new(big.Int).Set(value)

	ev := model.NewEvent(model.EventSubmissionReceived, now)
	ev.Round = roundID
	ev.Oracle = sender
	ev.Value = new(big.Int).Set(value)
	events = append(events, ev)

	var newAnswer *big.Int
	if uint32(len(d.Submissions)) >= d.MinSubmissions {
		newAnswer = aggregate.Median(d.Submissions)
		r := a.round(roundID)
		r.Answer = newAnswer
		r.UpdatedAt = now.Unix()
		r.AnsweredInRound = roundID
		a.latestRoundID = roundID

		aev := model.NewEvent(model.EventAnswerUpdated, now)
		aev.Round = roundID
		aev.Value = new(big.Int).Set(newAnswer)
		events = append(events, aev)
	}

	// Payment is unconditional on every accepted submission, at the
	// amount snapshotted when the round opened.
	a.funds.Available = new(big.Int).Sub(a.funds.Available, d.PaymentAmount)
	a.funds.Allocated = new(big.Int).Add(a.funds.Allocated, d.PaymentAmount)
	st.Withdrawable = new(big.Int).Add(withdrawableOf(st), d.PaymentAmount)

	fev := model.NewEvent(model.EventAvailableFundsUpdated, now)
	fev.Value = new(big.Int).Set(a.funds.Available)
	events = append(events, fev)

	if uint32(len(d.Submissions)) >= d.MaxSubmissions {
		delete(a.details, roundID)
	}

	if newAnswer != nil {
		prev := a.rounds[roundID-1]
		var prevAnswer *big.Int
		var prevAnswered model.RoundID
		if prev != nil {
			prevAnswer = prev.Answer
			prevAnswered = prev.AnsweredInRound
		}
		a.validator.Notify(prevAnswered, prevAnswer, roundID, newAnswer)
	}

	return events, nil
}

// validateOracleRound answers "may this address submit to this round
// right now". Read-only.
func (a *Aggregator) validateOracleRound(sender common.Address, roundID model.RoundID, now time.Time) error {
	o, ok := a.oracles[sender]
	switch {
	case !ok || o.StartingRound == 0:
		return ErrOracleNotEnabled
	case o.StartingRound > roundID:
		return ErrOracleNotYetEnabled
	case o.EndingRound < roundID:
		return ErrOracleNoLongerAllowed
	case o.LastReportedRound >= roundID:
		return ErrReportedOnPreviousRound
	}

	rr := a.reportingRoundID
	if roundID != rr && roundID != rr+1 && !a.previousAndCurrentUnanswered(roundID, rr) {
		return ErrInvalidRoundToReport
	}
	if roundID != 1 && !a.supersedable(roundID-1, now) {
		return ErrPreviousRoundNotSupersedable
	}
	return nil
}

// previousAndCurrentUnanswered covers the straggler case: the frontier
// advanced past the oracle's target but neither round has answered yet.
func (a *Aggregator) previousAndCurrentUnanswered(roundID, rr model.RoundID) bool {
	if roundID+1 != rr {
		return false
	}
	r := a.rounds[rr]
	return r == nil || r.UpdatedAt == 0
}

// initializeNewRound advances the frontier to roundID, copying forward
// the previous round's answer first if it timed out, and snapshots the
// current round parameters into the new round's working set.
func (a *Aggregator) initializeNewRound(roundID model.RoundID, startedBy common.Address, now time.Time) []model.Event {
	a.updateTimedOutRoundInfo(roundID-1, now)

	a.reportingRoundID = roundID
	a.details[roundID] = &model.RoundDetails{
		Submissions:    make([]*big.Int, 0, a.config.MaxSubmissionCount),
		MaxSubmissions: a.config.MaxSubmissionCount,
		MinSubmissions: a.config.MinSubmissionCount,
		Timeout:        a.config.Timeout,
		PaymentAmount:  new(big.Int).Set(a.config.PaymentAmount),
	}
	a.round(roundID).StartedAt = now.Unix()

	ev := model.NewEvent(model.EventNewRound, now)
	ev.Round = roundID
	ev.Oracle = startedBy
	return []model.Event{ev}
}

// updateTimedOutRoundInfo finalizes a round that expired without
// reaching quorum: it inherits the prior round's answer, its working
// set is reclaimed, and it counts as supersedable from here on.
func (a *Aggregator) updateTimedOutRoundInfo(roundID model.RoundID, now time.Time) {
	if !a.timedOut(roundID, now) {
		return
	}
	r := a.round(roundID)
	if prev, ok := a.rounds[roundID-1]; ok {
		if prev.Answer != nil {
			r.Answer = new(big.Int).Set(prev.Answer)
		}
		r.AnsweredInRound = prev.AnsweredInRound
	}
	r.UpdatedAt = now.Unix()
	delete(a.details, roundID)
}

// timedOut reports whether the round's deadline has passed. Rounds
// whose working set is gone, or that never started, have no deadline.
func (a *Aggregator) timedOut(roundID model.RoundID, now time.Time) bool {
	r, ok := a.rounds[roundID]
	if !ok || r.StartedAt == 0 {
		return false
	}
	d, ok := a.details[roundID]
	if !ok || d.Timeout == 0 {
		return false
	}
	return r.StartedAt+int64(d.Timeout) < now.Unix()
}

// supersedable: answered, or past its deadline. Round N can only open
// once round N-1 is supersedable.
func (a *Aggregator) supersedable(roundID model.RoundID, now time.Time) bool {
	r := a.rounds[roundID]
	return (r != nil && r.UpdatedAt > 0) || a.timedOut(roundID, now)
}

// delayed reports whether the oracle is clear of its restart throttle
// for initiating roundID.
func (a *Aggregator) delayed(sender common.Address, roundID model.RoundID) bool {
	o, ok := a.oracles[sender]
	if !ok {
		return false
	}
	last := o.LastStartedRound
	return last == 0 || roundID > last+a.config.RestartDelay
}

// acceptingSubmissions reports whether the round's working set is live.
func (a *Aggregator) acceptingSubmissions(roundID model.RoundID) bool {
	d, ok := a.details[roundID]
	return ok && d.MaxSubmissions != 0
}

// round returns the storage record for roundID, creating it on first write.
func (a *Aggregator) round(roundID model.RoundID) *model.Round {
	r, ok := a.rounds[roundID]
	if !ok {
		r = &model.Round{Answer: new(big.Int)}
		a.rounds[roundID] = r
	}
	return r
}

// TransferOwnership proposes a new owner. Two-phase: the proposed
// owner must accept before any privilege moves.
func (a *Aggregator) TransferOwnership(caller, to common.Address) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	a.pendingOwner = to

	ev := model.NewEvent(model.EventOwnershipTransferRequest, a.clock())
	ev.Admin = caller
	ev.NewAdmin = to
	return []model.Event{ev}, nil
}

// AcceptOwnership completes a proposed ownership transfer.
func (a *Aggregator) AcceptOwnership(caller common.Address) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.pendingOwner || caller == (common.Address{}) {
		return nil, ErrNotPendingOwner
	}
	prev := a.owner
	a.owner = caller
	a.pendingOwner = common.Address{}

	ev := model.NewEvent(model.EventOwnershipTransferred, a.clock())
	ev.Admin = prev
	ev.NewAdmin = caller
	return []model.Event{ev}, nil
}

// SetValidator swaps the external answer validator. Owner only.
func (a *Aggregator) SetValidator(caller common.Address, v *validator.Safe) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return nil, ErrNotOwner
	}
	if v == nil {
		v = validator.NewSafe(nil, 0)
	}
	a.validator = v

	return []model.Event{model.NewEvent(model.EventValidatorUpdated, a.clock())}, nil
}

// Owner returns the current owner address.
func (a *Aggregator) Owner() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Address returns the feed's own token account.
func (a *Aggregator) Address() common.Address {
	return a.addr
}

// Decimals reports the feed's answer precision.
func (a *Aggregator) Decimals() uint8 { return a.decimals }

// Description reports the feed's human-readable description.
func (a *Aggregator) Description() string { return a.description }

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func withdrawableOf(o *model.OracleStatus) *big.Int {
	if o.Withdrawable == nil {
		return new(big.Int)
	}
	return o.Withdrawable
}
