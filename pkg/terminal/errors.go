package terminal

import (
	"fmt"

	"github.com/gregLibert/se-terminal/pkg/iso7816"
)

// SelectFailedError is returned by OpenLogicalChannel when the channel was opened
// but the application could not be selected. The channel has been released.
//
// Cause is set when the SELECT did not complete (transport failure, protocol
// violation); otherwise Status holds the rejecting status word.
type SelectFailedError struct {
	Channel int
	Status  iso7816.StatusWord
	Cause   error
}

func (e *SelectFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("select on channel %d failed: %v", e.Channel, e.Cause)
	}
	return fmt.Sprintf("select on channel %d failed: %s", e.Channel, iso7816.Classify(e.Status))
}

func (e *SelectFailedError) Unwrap() error {
	return e.Cause
}

// Is matches iso7816.ErrSelectFailed.
func (e *SelectFailedError) Is(target error) bool {
	return target == iso7816.ErrSelectFailed
}
