package conversation

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by every handler except connect and
// disconnect while no session is live.
var ErrNotConnected = errors.New("not connected")

// ConnectionError means capability handles could not be set up. The
// session stays absent.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SensingError is a failed microphone sample. It is recovered per tick and
// only ever logged.
type SensingError struct {
	Op  string
	Err error
}

func (e *SensingError) Error() string {
	return fmt.Sprintf("sensing %s: %v", e.Op, e.Err)
}

func (e *SensingError) Unwrap() error { return e.Err }

// ActuationError is a failed cosmetic actuation (LEDs, tracking, gestures,
// animation). It is logged and never fails a command.
type ActuationError struct {
	Op  string
	Err error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("actuation %s: %v", e.Op, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

// RetrievalError means the recorded audio could not be copied off the robot.
type RetrievalError struct {
	Path string
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Path, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// TranscriptionError is a failed speech-to-text call. Status is the
// upstream HTTP status, zero for transport failures.
type TranscriptionError struct {
	Status int
	Detail string
	Err    error
}

func (e *TranscriptionError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transcription failed: %s", e.Detail)
	}
	return fmt.Sprintf("transcription API error code %d", e.Status)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// InferenceError is a failed chat completion call.
type InferenceError struct {
	Status int
	Detail string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("inference failed: %s", e.Detail)
	}
	return fmt.Sprintf("inference API error code %d", e.Status)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ErrUnsupportedLanguage rejects languages other than fr and en.
var ErrUnsupportedLanguage = errors.New("unsupported language")
