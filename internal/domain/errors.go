package domain

import (
	"errors"
	"strconv"
)

// Domain errors.
var (
	// ErrMissingURL is returned when a request omits the media URL.
	ErrMissingURL = errors.New("missing url")

	// ErrInvalidInput is returned for request parameters that are present but unusable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLaunch is returned when the extractor process cannot be started.
	ErrLaunch = errors.New("extractor failed to launch")

	// ErrExtractionFailed is returned when the extractor exits with a nonzero code.
	ErrExtractionFailed = errors.New("extractor failed")

	// ErrEmptyOutput is returned when the extractor exits cleanly but prints nothing.
	ErrEmptyOutput = errors.New("extractor returned no data")

	// ErrMalformedOutput is returned when extractor output is not the expected JSON.
	ErrMalformedOutput = errors.New("invalid extractor JSON")

	// ErrStreamInterrupted is returned when a download ends early after headers were sent.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrBusy is returned when no extractor slot frees up in time.
	ErrBusy = errors.New("extractor busy")

	// ErrInsufficientStorage is returned when the download volume is too full.
	ErrInsufficientStorage = errors.New("insufficient storage space")

	// ErrFileNotFound is returned when a stored download cannot be found.
	ErrFileNotFound = errors.New("download file not found")

	// ErrInvalidFileName is returned for names that escape the storage directory.
	ErrInvalidFileName = errors.New("invalid file name")
)

// InputError names the request parameter that was rejected and why.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// LaunchError wraps a process start failure with the binary that was tried.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return "launch " + e.Binary + ": " + e.Err.Error()
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunch, e.Err}
}

// ExtractionError carries the exit code and diagnostic text of a failed run.
type ExtractionError struct {
	ExitCode int
	Stderr   string
}

func (e *ExtractionError) Error() string {
	return "extractor exited with code " + strconv.Itoa(e.ExitCode)
}

func (e *ExtractionError) Unwrap() error {
	return ErrExtractionFailed
}

// Details returns the captured stderr, or the exit code when stderr was empty.
func (e *ExtractionError) Details() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return "Exit code " + strconv.Itoa(e.ExitCode)
}

// EmptyOutputError is returned when the extractor succeeded without output.
type EmptyOutputError struct {
	Stderr string
}

func (e *EmptyOutputError) Error() string {
	return ErrEmptyOutput.Error()
}

func (e *EmptyOutputError) Unwrap() error {
	return ErrEmptyOutput
}

// MalformedOutputError keeps a bounded excerpt of the output that failed to parse.
type MalformedOutputError struct {
	Excerpt string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return ErrMalformedOutput.Error() + ": " + e.Err.Error()
	}
	return ErrMalformedOutput.Error()
}

func (e *MalformedOutputError) Unwrap() error {
	return ErrMalformedOutput
}
