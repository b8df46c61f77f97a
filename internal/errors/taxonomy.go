package errors

import "errors"

// Failure kinds surfaced by the orchestration and negotiation layers. Call
// sites wrap these with context and callers match them with errors.Is.
var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrInvalidToken        = errors.New("invalid token")
	ErrBudgetExhausted     = errors.New("negotiation budget exhausted")
	ErrCoreNotFound        = errors.New("discipline core not found")
	ErrPlanningFailure     = errors.New("planning failure")
	ErrValidationFailure   = errors.New("validation failure")
	ErrDeadlock            = errors.New("deadlock: pending tasks with unsatisfiable dependencies")
	ErrIterationLimit      = errors.New("iteration limit reached with pending tasks")

	ErrChannelNotFound       = errors.New("channel not found")
	ErrChannelRevoked        = errors.New("channel revoked")
	ErrChannelExpired        = errors.New("channel expired")
	ErrSequenceRegression    = errors.New("envelope sequence is not monotonic")
	ErrMessageTypeNotAllowed = errors.New("message type not allowed on channel")
	ErrTranscriptExists      = errors.New("transcript entry already recorded")
	ErrPeerFailure           = errors.New("peer handler failed")
)

// Kind returns a short stable label for the taxonomy error wrapped by err, or
// "internal" when err carries none of them.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "internal"
}

var kinds = []struct {
	err   error
	label string
}{
	{ErrAuthorizationDenied, "authorization_denied"},
	{ErrInvalidToken, "invalid_token"},
	{ErrBudgetExhausted, "budget_exhausted"},
	{ErrCoreNotFound, "core_not_found"},
	{ErrPlanningFailure, "planning_failure"},
	{ErrValidationFailure, "validation_failure"},
	{ErrDeadlock, "deadlock"},
	{ErrIterationLimit, "iteration_limit"},
	{ErrChannelNotFound, "channel_not_found"},
	{ErrChannelRevoked, "channel_revoked"},
	{ErrChannelExpired, "channel_expired"},
	{ErrSequenceRegression, "sequence_regression"},
	{ErrMessageTypeNotAllowed, "message_type_not_allowed"},
	{ErrTranscriptExists, "transcript_exists"},
	{ErrPeerFailure, "peer_failure"},
}
