package protocol

import (
	"errors"
	"fmt"

	"github.com/Alexandr23/shared-canvas/domain"
)

var errPersistence = errors.New("persistence failure")

func persistenceFailure(err error) error {
	return fmt.Errorf("%w: %w", errPersistence, err)
}

// publicMessage is the error text sent back to the requester. Store internals
// stay in the server log.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, errPersistence):
		return errPersistence.Error()
	case errors.Is(err, domain.ErrNotIdentified), errors.Is(err, domain.ErrInvalidRequest):
		return err.Error()
	}
	return "internal error"
}
