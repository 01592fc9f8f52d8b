package runner

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a Result variant. The values double as the error_type of the
// HTTP envelope and the outcome column of the audit log.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindMalformedOutput Kind = "malformed_output"
	KindNonZeroExit     Kind = "non_zero_exit"
	KindTimeout         Kind = "timeout"
	KindLaunchFailure   Kind = "launch_failure"
)

// Result is the outcome of one invocation. Exactly one of Success,
// MalformedOutput, NonZeroExit, Timeout or LaunchFailure.
type Result interface {
	Kind() Kind
	result()
}

// Success carries the single JSON value the target wrote to stdout.
type Success struct {
	Payload json.RawMessage
}

// MalformedOutput means the target exited 0 but stdout was not exactly one
// JSON value. Raw holds at most PreviewBytes of stdout.
type MalformedOutput struct {
	Raw []byte
	Err error
}

// NonZeroExit means the target exited with a non-zero status or died from a
// signal (Code -1). Diagnostic is the captured stderr, for logs only.
type NonZeroExit struct {
	Code       int
	Diagnostic string
}

// Timeout means the deadline passed and the process group was killed.
type Timeout struct {
	Elapsed time.Duration
}

// LaunchFailure means no process ran to completion: unknown target, missing
// executable or script, or a failed start.
type LaunchFailure struct {
	Reason string
}

func (Success) Kind() Kind         { return KindSuccess }
func (MalformedOutput) Kind() Kind { return KindMalformedOutput }
func (NonZeroExit) Kind() Kind     { return KindNonZeroExit }
func (Timeout) Kind() Kind         { return KindTimeout }
func (LaunchFailure) Kind() Kind   { return KindLaunchFailure }

func (Success) result()         {}
func (MalformedOutput) result() {}
func (NonZeroExit) result()     {}
func (Timeout) result()         {}
func (LaunchFailure) result()   {}

func (m MalformedOutput) String() string {
	return fmt.Sprintf("malformed output: %v", m.Err)
}

func (n NonZeroExit) String() string {
	return fmt.Sprintf("exit status %d", n.Code)
}

func (t Timeout) String() string {
	return fmt.Sprintf("timed out after %s", t.Elapsed.Round(time.Millisecond))
}

func (l LaunchFailure) String() string {
	return "launch failure: " + l.Reason
}
