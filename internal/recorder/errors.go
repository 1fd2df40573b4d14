package recorder

import (
	"errors"
)

// Setup failures. Each is reported wrapped in a *SetupError that also
// carries the underlying cause.
var (
	ErrInitFailed    = errors.New("codec library initialization failed")
	ErrNoDisplay     = errors.New("no display to capture")
	ErrScreenCapture = errors.New("screen capture unavailable")
	ErrAudioCapture  = errors.New("audio capture unavailable")
	ErrEncoderOpen   = errors.New("encoder could not be opened")
	ErrContainer     = errors.New("output container could not be created")
)

// SetupError is returned by New when the recorder could not be started.
type SetupError struct {
	Kind error
	Err  error
}

func (e *SetupError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func setupError(kind, err error) error {
	return &SetupError{Kind: kind, Err: err}
}
