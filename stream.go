package symphonycore

import (
	"math"
	"time"
)

// IODataStream is the contract common to every output and input stream
// variant.
type IODataStream interface {
	// SampleRate returns the stream's sample rate, or ok=false if unknown
	// (e.g. an empty SequenceOutputStream with no children added yet).
	SampleRate() (Measurement, bool)
	// Duration returns the stream's total duration, or ok=false if
	// indefinite.
	Duration() (time.Duration, bool)
	// Position is the monotone non-decreasing cursor of data already
	// produced (output streams) or accepted (input streams).
	Position() time.Duration
	// IsAtEnd is always false for an indefinite stream.
	IsAtEnd() bool
}

// OutputStream is the pull side of the stream layer: the DAQ loop asks it
// for up to `d` worth of outbound samples each tick.
type OutputStream interface {
	IODataStream
	// PullOutputData returns a block with 0 < result.Duration() <= d,
	// advances Position() by that amount, and errors with ErrStreamAtEnd
	// if the stream is already at end.
	PullOutputData(d time.Duration) (OutputData, error)
	// DidOutputData informs the stream that previously pulled data of the
	// given span reached the wire at outputTime, tagged with configs. It is
	// a StreamInvariantViolationError if OutputPosition()+span would
	// exceed Position().
	DidOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error
	OutputPosition() time.Duration
	IsOutputAtEnd() bool
}

// InputStream is the push side of the stream layer: the DAQ loop hands it
// captured samples each tick.
type InputStream interface {
	IODataStream
	// PushInputData accepts a captured block. It is a
	// StreamInvariantViolationError if d.Duration() would overrun the
	// stream's remaining duration by more than one sample's worth.
	PushInputData(d InputData) error
}

func samplesCeil(d time.Duration, rateHz float64) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()*rateHz - 1e-9))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// oneSampleEpsilon returns the duration of one sample at rateHz, used as the
// tolerance ResponseInputStream applies to overrun checks.
func oneSampleEpsilon(rateHz float64) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return DurationFromSamples(1, rateHz)
}

// NullOutputStream is a trivial OutputStream of zero-valued samples used in tests and
// as a placeholder leg of a SequenceOutputStream.
type NullOutputStream struct {
	duration *time.Duration
	position time.Duration
	outPos   time.Duration
	rate     Measurement
}

// NewNullOutputStream returns a stream that yields silence (zero-valued
// samples) for the given bound duration (nil ⇒ indefinite, never at end).
func NewNullOutputStream(rate Measurement, duration *time.Duration) *NullOutputStream {
	return &NullOutputStream{rate: rate, duration: duration}
}

func (n *NullOutputStream) SampleRate() (Measurement, bool) { return n.rate, true }
func (n *NullOutputStream) Duration() (time.Duration, bool) {
	if n.duration == nil {
		return 0, false
	}
	return *n.duration, true
}
func (n *NullOutputStream) Position() time.Duration { return n.position }
func (n *NullOutputStream) IsAtEnd() bool {
	if n.duration == nil {
		return false
	}
	return n.position >= *n.duration
}
func (n *NullOutputStream) PullOutputData(d time.Duration) (OutputData, error) {
	if n.IsAtEnd() {
		return OutputData{}, ErrStreamAtEnd
	}
	actual := d
	isLast := false
	if n.duration != nil {
		remaining := *n.duration - n.position
		if actual > remaining {
			actual = remaining
		}
		isLast = n.position+actual >= *n.duration
	}
	count := samplesCeil(actual, n.rate.BaseQuantity())
	data := make([]Measurement, count)
	for i := range data {
		data[i] = Measurement{BaseUnit: n.rate.BaseUnit}
	}
	block := NewOutputData(data, n.rate)
	block.IsLast = isLast
	n.position += block.Duration()
	return block, nil
}
func (n *NullOutputStream) DidOutputData(t time.Time, span time.Duration, configs []NodeConfiguration) error {
	if n.outPos+span > n.position {
		return &StreamInvariantViolationError{Reason: "did_output_data span exceeds position"}
	}
	n.outPos += span
	return nil
}
func (n *NullOutputStream) OutputPosition() time.Duration { return n.outPos }
func (n *NullOutputStream) IsOutputAtEnd() bool {
	if n.duration == nil {
		return false
	}
	return n.outPos >= *n.duration
}

// NullInputStream is a sink that advances its position without retaining
// any data.
type NullInputStream struct {
	duration *time.Duration
	position time.Duration
	rate     *Measurement
}

// NewNullInputStream returns a sink bounded by duration (nil ⇒ indefinite).
func NewNullInputStream(rate *Measurement, duration *time.Duration) *NullInputStream {
	return &NullInputStream{rate: rate, duration: duration}
}

func (n *NullInputStream) SampleRate() (Measurement, bool) {
	if n.rate == nil {
		return Measurement{}, false
	}
	return *n.rate, true
}
func (n *NullInputStream) Duration() (time.Duration, bool) {
	if n.duration == nil {
		return 0, false
	}
	return *n.duration, true
}
func (n *NullInputStream) Position() time.Duration { return n.position }
func (n *NullInputStream) IsAtEnd() bool {
	if n.duration == nil {
		return false
	}
	return n.position >= *n.duration
}
func (n *NullInputStream) PushInputData(d InputData) error {
	if n.duration != nil {
		eps := oneSampleEpsilon(d.SampleRate().BaseQuantity())
		remaining := *n.duration - n.position
		if d.Duration() > remaining+eps {
			return &StreamInvariantViolationError{Reason: "push would overrun null input stream's remaining duration"}
		}
	}
	n.position += d.Duration()
	return nil
}
