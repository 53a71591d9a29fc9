package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminates the domain events an engine operation can emit.
type EventType string

// Domain event types. These mirror the log surface consumers index:
// every state transition the engine makes is visible through exactly
// one of them.
const (
	EventNewRound                  EventType = "new_round"
	EventSubmissionReceived        EventType = "submission_received"
	EventAnswerUpdated             EventType = "answer_updated"
	EventAvailableFundsUpdated     EventType = "available_funds_updated"
	EventRoundDetailsUpdated       EventType = "round_details_updated"
	EventOraclePermissionsUpdated  EventType = "oracle_permissions_updated"
	EventOracleAdminUpdateRequest  EventType = "oracle_admin_update_requested"
	EventOracleAdminUpdated        EventType = "oracle_admin_updated"
	EventRequesterPermissionsSet   EventType = "requester_permissions_set"
	EventValidatorUpdated          EventType = "validator_updated"
	EventOwnershipTransferRequest  EventType = "ownership_transfer_requested"
	EventOwnershipTransferred      EventType = "ownership_transferred"
)

// Event is one entry in the append-only domain event log. Mutating
// engine operations return the events they produced instead of hiding
// emission inside business logic; the caller relays or indexes them.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	At        time.Time      `json:"at"`
	Round     RoundID        `json:"round,omitempty"`
	Oracle    common.Address `json:"oracle,omitempty"`
	Requester common.Address `json:"requester,omitempty"`
	Admin     common.Address `json:"admin,omitempty"`
	NewAdmin  common.Address `json:"new_admin,omitempty"`
	Value     *big.Int       `json:"value,omitempty"`
	Enabled   bool           `json:"enabled,omitempty"`
	Delay     uint32         `json:"delay,omitempty"`
	Config    *RoundConfig   `json:"config,omitempty"`
}

// NewEvent creates an event of the given type stamped with a fresh id.
func NewEvent(t EventType, at time.Time) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: t,
		At:   at,
	}
}
