package flux

import "errors"

// Engine errors. Every failure aborts the whole operation with no
// partial state change; the taxonomy below groups them for transport
// layers that map errors onto status codes.
var (
	// Permission errors
	ErrNotOwner               = errors.New("only callable by owner")
	ErrNotPendingOwner        = errors.New("only callable by pending owner")
	ErrNotAdmin               = errors.New("only callable by admin")
	ErrNotPendingAdmin        = errors.New("only callable by pending admin")
	ErrNotAuthorizedRequester = errors.New("not authorized requester")
	ErrOracleNotEnabled       = errors.New("not enabled oracle")
	ErrOracleNotYetEnabled    = errors.New("not yet enabled oracle")
	ErrOracleNoLongerAllowed  = errors.New("no longer allowed oracle")

	// Sequencing errors
	ErrReportedOnPreviousRound      = errors.New("cannot report on previous rounds")
	ErrInvalidRoundToReport         = errors.New("invalid round to report")
	ErrPreviousRoundNotSupersedable = errors.New("previous round not supersedable")
	ErrRoundNotAcceptingSubmissions = errors.New("round not accepting submissions")
	ErrRoundNotSupersedable         = errors.New("prev round must be supersedable")
	ErrMustDelayRequests            = errors.New("must delay requests")

	// Bounds errors
	ErrValueBelowMinimum         = errors.New("value below min submission value")
	ErrValueAboveMaximum         = errors.New("value above max submission value")
	ErrInsufficientAvailable     = errors.New("insufficient available funds")
	ErrInsufficientReserve       = errors.New("insufficient reserve funds")
	ErrInsufficientForPayment    = errors.New("insufficient funds for payment")
	ErrInsufficientWithdrawable  = errors.New("insufficient withdrawable funds")
	ErrMaxOraclesExceeded        = errors.New("max oracles allowed")
	ErrOracleAlreadyEnabled      = errors.New("oracle already enabled")
	ErrOracleMismatchedAdmins    = errors.New("need same oracle and admin count")
	ErrAdminAddressZero          = errors.New("cannot set admin to zero address")
	ErrCannotOverwriteAdmin      = errors.New("owner cannot overwrite admin")
	ErrMaxBelowMin               = errors.New("max must equal/exceed min")
	ErrMaxExceedsTotal           = errors.New("max cannot exceed total")
	ErrDelayExceedsTotal         = errors.New("delay cannot exceed total")
	ErrMinSubmissionsZero        = errors.New("min must be greater than 0")
	ErrCalldataNotAccepted       = errors.New("transfer doesn't accept calldata")

	// Missing-data errors
	ErrNoData = errors.New("no data present")
)

// ErrorClass buckets engine errors for transport layers.
type ErrorClass string

const (
	ClassPermission ErrorClass = "permission"
	ClassSequencing ErrorClass = "sequencing"
	ClassBounds     ErrorClass = "bounds"
	ClassMissing    ErrorClass = "missing_data"
	ClassUnknown    ErrorClass = "unknown"
)

// Classify maps an engine error to its taxonomy class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrNotPendingOwner),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrNotPendingAdmin),
		errors.Is(err, ErrNotAuthorizedRequester),
		errors.Is(err, ErrOracleNotEnabled),
		errors.Is(err, ErrOracleNotYetEnabled),
		errors.Is(err, ErrOracleNoLongerAllowed):
		return ClassPermission
	case errors.Is(err, ErrReportedOnPreviousRound),
		errors.Is(err, ErrInvalidRoundToReport),
		errors.Is(err, ErrPreviousRoundNotSupersedable),
		errors.Is(err, ErrRoundNotAcceptingSubmissions),
		errors.Is(err, ErrRoundNotSupersedable),
		errors.Is(err, ErrMustDelayRequests):
		return ClassSequencing
	case errors.Is(err, ErrNoData):
		return ClassMissing
	default:
		return ClassBounds
	}
}
