package symphonycore

import "time"

// Background is the constant value emitted on an output channel in the
// absence of a bound stimulus. It carries the same append-only output-span
// accounting as a Stimulus, but has no intrinsic duration of its own — the
// bound is imposed externally by whatever stream wraps it (epoch duration).
type Background struct {
	Value      Measurement
	sampleRate Measurement
	accounting outputAccounting
}

// NewBackground constructs a Background of the given constant value and
// sample rate.
func NewBackground(value, sampleRate Measurement) *Background {
	return &Background{Value: value, sampleRate: sampleRate}
}

func (b *Background) SampleRate() Measurement { return b.sampleRate }

func (b *Background) DidOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error {
	return b.accounting.didOutputData(outputTime, span, configs)
}

func (b *Background) OutputSpans() []OutputSpan    { return b.accounting.spans() }
func (b *Background) StartTime() (time.Time, bool) { return b.accounting.start() }

// ConstantBlock synthesizes n samples of Value at the background's sample
// rate, as BackgroundOutputStream requires.
func (b *Background) ConstantBlock(n int) OutputData {
	data := make([]Measurement, n)
	for i := range data {
		data[i] = b.Value
	}
	return NewOutputData(data, b.sampleRate)
}
