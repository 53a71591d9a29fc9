package validator

import (
	"context"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// Flags is an in-memory registry of raised feed flags, the stand-in
// for the external flags collaborator monitoring tooling subscribes to.
type Flags struct {
	mu      sync.RWMutex
	raised  map[string]bool
	onRaise func(subject string)
}

// NewFlags creates an empty flag registry.
func NewFlags() *Flags {
	return &Flags{raised: make(map[string]bool)}
}

// WithRaiseHook registers a callback observing newly raised flags, for
// alerting. Returns the receiver for chaining.
func (f *Flags) WithRaiseHook(hook func(subject string)) *Flags {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRaise = hook
	return f
}

// Raise marks the subject as flagged. Raising an already-raised flag
// is a no-op and does not re-fire the hook.
func (f *Flags) Raise(subject string) {
	f.mu.Lock()
	if f.raised[subject] {
		f.mu.Unlock()
		return
	}
	f.raised[subject] = true
	hook := f.onRaise
	f.mu.Unlock()

	logrus.WithField("subject", subject).Warn("flag raised")
	if hook != nil {
		hook(subject)
	}
}

// Lower clears the subject's flag.
func (f *Flags) Lower(subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.raised, subject)
}

// IsRaised reports whether the subject is currently flagged.
func (f *Flags) IsRaised(subject string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.raised[subject]
}

// Raised lists all currently flagged subjects.
func (f *Flags) Raised() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.raised))
	for s := range f.raised {
		out = append(out, s)
	}
	return out
}

// DeviationFlagging raises a flag when a new answer deviates from the
// previous one by more than a configured threshold, measured in parts
// per million of the previous answer. Validation itself always
// succeeds; the flag is the signal.
type DeviationFlagging struct {
	flags        *Flags
	subject      string
	thresholdPPM uint32
}

// ppmDivisor scales deviation ratios to parts per million.
var ppmDivisor = big.NewInt(1_000_000)

// NewDeviationFlagging builds a validator flagging subject when the
// answer moves more than thresholdPPM parts-per-million.
func NewDeviationFlagging(flags *Flags, subject string, thresholdPPM uint32) *DeviationFlagging {
	return &DeviationFlagging{flags: flags, subject: subject, thresholdPPM: thresholdPPM}
}

// Validate checks the new answer against the previous one. A previous
// answer of zero is treated as valid, since there is no basis to
// measure deviation against.
func (d *DeviationFlagging) Validate(_ context.Context, prevAnsweredRound uint32, prevAnswer *big.Int, roundID uint32, answer *big.Int) error {
	if prevAnswer == nil || prevAnswer.Sign() == 0 || answer == nil {
		return nil
	}

	if !d.withinThreshold(prevAnswer, answer) {
		logrus.WithFields(logrus.Fields{
			"subject":    d.subject,
			"round":      roundID,
			"prev_round": prevAnsweredRound,
		}).Warn("answer deviation over threshold")
		d.flags.Raise(d.subject)
	}
	return nil
}

func (d *DeviationFlagging) withinThreshold(prev, answer *big.Int) bool {
	diff := new(big.Int).Sub(answer, prev)
	diff.Abs(diff)
	// ratioPPM = |answer - prev| * 1e6 / |prev|
	ratio := diff.Mul(diff, ppmDivisor)
	ratio.Quo(ratio, new(big.Int).Abs(prev))
	return ratio.Cmp(new(big.Int).SetUint64(uint64(d.thresholdPPM))) <= 0
}
