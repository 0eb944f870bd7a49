// ABOUTME: Sentinel errors returned by the pipeline service
// ABOUTME: Callers compare with errors.Is; transport layers map them to status codes
package pipeline

import (
	"errors"
	"fmt"

	"github.com/harperreed/funnel/db"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("actor is not assigned to this client")
	ErrInvalidTransition   = errors.New("invalid stage transition")
	ErrInvalidStage        = errors.New("invalid stage")
	ErrInvalidActivityType = errors.New("invalid activity type")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidInput        = errors.New("invalid input")
	ErrMeetingNotPending   = errors.New("meeting is not pending")
	ErrConflict            = errors.New("client was modified concurrently")
)

// translate maps storage errors onto the pipeline's sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrClientNotFound):
		return fmt.Errorf("client: %w", ErrNotFound)
	case errors.Is(err, db.ErrActivityNotFound):
		return fmt.Errorf("activity: %w", ErrNotFound)
	case errors.Is(err, db.ErrVersionConflict):
		return ErrConflict
	default:
		return err
	}
}
