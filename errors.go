package symphonycore

import "fmt"

// MeasurementIncompatibilityError reports an operation over Measurements or
// Measurement-bearing collections whose base units do not agree.
type MeasurementIncompatibilityError struct {
	Want, Got string
}

func (e *MeasurementIncompatibilityError) Error() string {
	return fmt.Sprintf("measurement incompatibility: want base unit %q, got %q", e.Want, e.Got)
}

// StimulusError reports misbehavior of a Stimulus's block enumerator: a
// produced block whose unit or sample rate does not match the stimulus, or
// an out-of-order did_output_data callback.
type StimulusError struct {
	Reason string
}

func (e *StimulusError) Error() string { return "stimulus error: " + e.Reason }

// ResponseError reports an inconsistency in a Response's appended segments,
// most commonly heterogeneous sample rates across segments.
type ResponseError struct {
	Reason string
}

func (e *ResponseError) Error() string { return "response error: " + e.Reason }

// StreamInvariantViolationError reports a broken stream contract: a
// sample-rate mismatch between sequence members, self-addition, addition
// after completion, a pull from an ended stream, or output/push that would
// exceed position/remaining duration. These are always programmer errors.
type StreamInvariantViolationError struct {
	Reason string
}

func (e *StreamInvariantViolationError) Error() string {
	return "stream invariant violation: " + e.Reason
}

// DAQError reports a fault specific to the DAQ process loop: setting a
// background on a stream that is not owned by this controller, or on a
// stream whose controller is still running.
type DAQError struct {
	Reason string
}

func (e *DAQError) Error() string { return "daq error: " + e.Reason }

// PersistenceError reports a failure of the hierarchical persistor: a
// missing, invalid or version-mismatched container, an attempt to delete the root
// Experiment, an open EpochGroup, the current EpochBlock, or a Source with
// an associated EpochGroup, or an Epoch whose protocol_id does not match
// its open EpochBlock's.
type PersistenceError struct {
	Reason string
	Cause  error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persistence error: %s: %v", e.Reason, e.Cause)
	}
	return "persistence error: " + e.Reason
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// ValidationError is returned by a component's validate() to report a
// configuration-time failure in human-readable form; it carries no sentinel
// beyond its message since validation is surfaced to operators, not matched
// programmatically by callers.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Reason }

// ErrStreamAtEnd is returned by pull_output_data when the stream has no more
// data to give and is not an indefinite stream.
var ErrStreamAtEnd = &StreamInvariantViolationError{Reason: "pull from a stream that is already at end"}
