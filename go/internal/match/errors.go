package match

import (
	"errors"
	"fmt"

	"github.com/mcdev12/matchday/go/internal/models"
)

// ErrRejected is returned when the backend acknowledges a call with success=false.
var ErrRejected = errors.New("rejected by server")

// ValidationError is a score rejected before any network call.
type ValidationError struct {
	Format models.MatchFormat
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s score: %s", e.Format, e.Reason)
}

// ProtocolStateError records an operation attempted from a state that does
// not allow it. It is logged, never returned.
type ProtocolStateError struct {
	MatchID   string
	Operation string
	State     State
}

func (e *ProtocolStateError) Error() string {
	return fmt.Sprintf("%s not allowed for match %s in state %s", e.Operation, e.MatchID, e.State)
}
