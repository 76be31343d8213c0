package session

import (
	"errors"
	"fmt"

	"github.com/edumarques81/yoganc/internal/infra/vpc"
)

// OSD prompts shown to the user.
const (
	PromptConnectFail      = "ConnectFail"
	PromptUnavailable      = "YogaSMC Unavailable"
	PromptAlreadyConnected = "AlreadyConnected"
	PromptUnknownClass     = "Unknown Class"
	PromptECAccess         = "ECAccessUnavailable"
	PromptMoveApp          = "MoveApp"
)

var (
	// ErrStopped is returned by operations submitted after the actor exited.
	ErrStopped = errors.New("session stopped")
	// ErrNoFan is returned when addressing a fan that is not controlled.
	ErrNoFan = errors.New("fan not available")
)

// FatalError is a session establishment failure. The process must notify the
// user with Prompt and exit.
type FatalError struct {
	Reason string
	Prompt string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

func openFailure(err error) *FatalError {
	switch {
	case errors.Is(err, vpc.ErrAlreadyOpen):
		return &FatalError{Reason: "another instance is connected", Prompt: PromptAlreadyConnected, Err: err}
	case errors.Is(err, vpc.ErrOpenFailed):
		// A service was found but no connection resulted.
		return &FatalError{Reason: "service found but not connected", Prompt: PromptAlreadyConnected, Err: err}
	default:
		return &FatalError{Reason: "failed to connect to service", Prompt: PromptConnectFail, Err: err}
	}
}
