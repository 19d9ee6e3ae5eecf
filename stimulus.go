package symphonycore

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// OutputSpan records one did_output_data callback: how much wire-confirmed
// duration was reported, and which node configurations were active over it.
type OutputSpan struct {
	Duration           time.Duration
	NodeConfigurations []NodeConfiguration
}

// outputAccounting is the append-only output-span ledger shared by every
// Stimulus variant and by Background, guarded by its own lock per §5
// ("Stimulus's output-span append is guarded by an internal lock; its
// completion flag is read under the same lock").
type outputAccounting struct {
	mu             sync.Mutex
	duration       *time.Duration // nil = indefinite
	outputSpans    []OutputSpan
	startTime      *time.Time
	lastOutputTime *time.Time
}

func (a *outputAccounting) didOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastOutputTime != nil && outputTime.Before(*a.lastOutputTime) {
		return &StimulusError{Reason: "did_output_data called with non-monotone output time"}
	}
	if a.startTime == nil {
		t := outputTime
		a.startTime = &t
	}
	a.lastOutputTime = &outputTime
	a.outputSpans = append(a.outputSpans, OutputSpan{Duration: span, NodeConfigurations: CloneNodeConfigurations(configs)})
	return nil
}

func (a *outputAccounting) totalOutput() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total time.Duration
	for _, s := range a.outputSpans {
		total += s.Duration
	}
	return total
}

func (a *outputAccounting) spans() []OutputSpan {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]OutputSpan, len(a.outputSpans))
	copy(out, a.outputSpans)
	return out
}

func (a *outputAccounting) start() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startTime == nil {
		return time.Time{}, false
	}
	return *a.startTime, true
}

func (a *outputAccounting) isComplete() bool {
	a.mu.Lock()
	dur := a.duration
	var total time.Duration
	for _, s := range a.outputSpans {
		total += s.Duration
	}
	a.mu.Unlock()
	if dur == nil {
		return false
	}
	return total >= *dur
}

// BlockRenderer is the single-method capability a DelegatedStimulus uses to
// produce its next block of samples; satisfied equally by a closure wrapper
// or a stateful object (DESIGN NOTES: "delegate-as-value").
type BlockRenderer interface {
	RenderBlock(requested time.Duration, alreadyRendered time.Duration) (OutputData, error)
}

// BlockRendererFunc adapts a function to a BlockRenderer.
type BlockRendererFunc func(requested, alreadyRendered time.Duration) (OutputData, error)

func (f BlockRendererFunc) RenderBlock(requested, alreadyRendered time.Duration) (OutputData, error) {
	return f(requested, alreadyRendered)
}

// DurationCalculator is the single-method capability that determines a
// DelegatedStimulus's total duration (None ⇒ indefinite).
type DurationCalculator interface {
	CalculateDuration() (time.Duration, bool)
}

// DurationCalculatorFunc adapts a function to a DurationCalculator.
type DurationCalculatorFunc func() (time.Duration, bool)

func (f DurationCalculatorFunc) CalculateDuration() (time.Duration, bool) { return f() }

// Combiner is the single-method capability a CombinedStimulus uses to merge
// two equal-length sample arrays pointwise (e.g. add, subtract).
type Combiner interface {
	Combine(a, b *mat.VecDense) *mat.VecDense
	Name() string
}

// AddCombiner combines by elementwise addition.
type AddCombiner struct{}

func (AddCombiner) Name() string { return "add" }
func (AddCombiner) Combine(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}

// SubtractCombiner combines by elementwise subtraction.
type SubtractCombiner struct{}

func (SubtractCombiner) Name() string { return "subtract" }
func (SubtractCombiner) Combine(a, b *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}

// Stimulus is the polymorphic producer of OutputData blocks for one device
// within one epoch.
type Stimulus interface {
	StimulusID() string
	Parameters() *OrderedMap
	SampleRate() Measurement
	Units() string
	Duration() (time.Duration, bool)
	DataSnapshot() ([]Measurement, bool)
	// NextBlock produces the next lazy block of at most blockDuration. It
	// errors with a *StimulusError if called after the stimulus is already
	// exhausted (finite and fully rendered).
	NextBlock(blockDuration time.Duration) (OutputData, error)
	DidOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error
	OutputSpans() []OutputSpan
	StartTime() (time.Time, bool)
	IsComplete() bool
}

type stimulusBase struct {
	id           string
	parameters   *OrderedMap
	sampleRate   Measurement
	units        string
	dataSnapshot []Measurement
	accounting   outputAccounting
	renderPos    time.Duration // how much has been lazily produced so far
	renderMu     sync.Mutex
}

func (s *stimulusBase) StimulusID() string      { return s.id }
func (s *stimulusBase) Parameters() *OrderedMap { return s.parameters }
func (s *stimulusBase) SampleRate() Measurement { return s.sampleRate }
func (s *stimulusBase) Units() string           { return s.units }

func (s *stimulusBase) DataSnapshot() ([]Measurement, bool) {
	if s.dataSnapshot == nil {
		return nil, false
	}
	out := make([]Measurement, len(s.dataSnapshot))
	copy(out, s.dataSnapshot)
	return out, true
}

func (s *stimulusBase) Duration() (time.Duration, bool) {
	if s.accounting.duration == nil {
		return 0, false
	}
	return *s.accounting.duration, true
}

func (s *stimulusBase) DidOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error {
	return s.accounting.didOutputData(outputTime, span, configs)
}

func (s *stimulusBase) OutputSpans() []OutputSpan   { return s.accounting.spans() }
func (s *stimulusBase) StartTime() (time.Time, bool) { return s.accounting.start() }
func (s *stimulusBase) IsComplete() bool            { return s.accounting.isComplete() }

// remainingToRender returns the clipped block duration to request from the
// underlying renderer/source: min(requested, duration-renderPos) if finite,
// else requested. Returns ok=false if the stimulus is already exhausted.
func (s *stimulusBase) remainingToRender(requested time.Duration) (time.Duration, bool) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if s.accounting.duration == nil {
		return requested, true
	}
	remaining := *s.accounting.duration - s.renderPos
	if remaining <= 0 {
		return 0, false
	}
	if requested < remaining {
		return requested, true
	}
	return remaining, true
}

func (s *stimulusBase) advanceRenderPos(d time.Duration) {
	s.renderMu.Lock()
	s.renderPos += d
	s.renderMu.Unlock()
}

// DelegatedStimulus defers block rendering and duration calculation to
// caller-supplied capabilities.
type DelegatedStimulus struct {
	stimulusBase
	renderer BlockRenderer
}

// NewDelegatedStimulus builds a Stimulus whose data comes from renderer, with
// total duration fixed at construction time by durCalc.
func NewDelegatedStimulus(id string, parameters *OrderedMap, sampleRate Measurement, units string,
	renderer BlockRenderer, durCalc DurationCalculator, dataSnapshot []Measurement) *DelegatedStimulus {
	d := &DelegatedStimulus{
		stimulusBase: stimulusBase{id: id, parameters: parameters, sampleRate: sampleRate, units: units, dataSnapshot: dataSnapshot},
		renderer:     renderer,
	}
	if durCalc != nil {
		if dur, ok := durCalc.CalculateDuration(); ok {
			d.accounting.duration = &dur
		}
	}
	return d
}

func (d *DelegatedStimulus) NextBlock(blockDuration time.Duration) (OutputData, error) {
	actual, ok := d.remainingToRender(blockDuration)
	if !ok {
		return OutputData{}, &StimulusError{Reason: "stimulus " + d.id + " is already exhausted"}
	}
	block, err := d.renderer.RenderBlock(actual, d.renderPos)
	if err != nil {
		return OutputData{}, err
	}
	d.advanceRenderPos(block.Duration())
	if dur, finite := d.Duration(); finite && d.renderPos >= dur {
		block.IsLast = true
	}
	return block, nil
}

// RenderedStimulus emits a pre-materialized OutputData, repeating it to fill
// request sizes and optionally clipping to a declared duration.
type RenderedStimulus struct {
	stimulusBase
	source       OutputData
	repeats      bool
	sourceOffset int // sample offset into the (repeating) source pattern
}

// NewRenderedStimulus builds a Stimulus around pre-materialized data. If
// duration is nil, the source plays exactly once (indefinite repeat is not
// implied); if duration is set and exceeds the source's own duration, the
// source repeats (if repeats is true) to fill it.
func NewRenderedStimulus(id string, parameters *OrderedMap, units string, source OutputData,
	duration *time.Duration, repeats bool) *RenderedStimulus {
	r := &RenderedStimulus{
		stimulusBase: stimulusBase{id: id, parameters: parameters, sampleRate: source.SampleRate(), units: units},
		source:       source,
		repeats:      repeats,
	}
	if duration != nil {
		d := *duration
		r.accounting.duration = &d
	} else {
		d := source.Duration()
		r.accounting.duration = &d
	}
	return r
}

func (r *RenderedStimulus) NextBlock(blockDuration time.Duration) (OutputData, error) {
	actual, ok := r.remainingToRender(blockDuration)
	if !ok {
		return OutputData{}, &StimulusError{Reason: "stimulus " + r.id + " is already exhausted"}
	}
	n := SamplesForDuration(actual, r.sampleRate.BaseQuantity())
	srcLen := len(r.source.Data())
	out := make([]Measurement, 0, n)
	pos := r.sourceOffset
	for len(out) < n {
		if pos >= srcLen {
			if !r.repeats {
				break
			}
			pos = 0
		}
		out = append(out, r.source.Data()[pos])
		pos++
	}
	r.sourceOffset = pos % maxInt(srcLen, 1)
	block := NewOutputData(out, r.sampleRate)
	r.advanceRenderPos(block.Duration())
	if dur, finite := r.Duration(); finite && r.renderPos >= dur {
		block.IsLast = true
	}
	return block, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// CombinedStimulus pointwise-combines equal-duration, equal-rate,
// equal-unit operand stimuli (e.g. add, subtract).
type CombinedStimulus struct {
	stimulusBase
	operands []Stimulus
	combiner Combiner
}

// NewCombinedStimulus validates that all operands share sample rate, units
// and (when finite) duration, then builds the combined stimulus. Parameters
// are merged with each operand's keys prefixed by the combiner's name and
// the operand's index ("add.0.key") to avoid collisions.
func NewCombinedStimulus(id string, operands []Stimulus, combiner Combiner) (*CombinedStimulus, error) {
	if len(operands) == 0 {
		return nil, &StimulusError{Reason: "CombinedStimulus requires at least one operand"}
	}
	rate := operands[0].SampleRate()
	units := operands[0].Units()
	dur, finite := operands[0].Duration()
	for i, op := range operands {
		if !op.SampleRate().Equal(rate) {
			return nil, &StimulusError{Reason: "CombinedStimulus operands must share a sample rate"}
		}
		if op.Units() != units {
			return nil, &StimulusError{Reason: "CombinedStimulus operands must share units"}
		}
		d, f := op.Duration()
		if f != finite || (finite && d != dur) {
			return nil, &StimulusError{Reason: "CombinedStimulus operands must share a duration"}
		}
		_ = i
	}
	params := NewOrderedMap()
	for i, op := range operands {
		prefix := combiner.Name()
		for _, k := range op.Parameters().Keys() {
			v, _ := op.Parameters().Get(k)
			params.Set(prefixedKey(prefix, i, k), v)
		}
	}
	c := &CombinedStimulus{
		stimulusBase: stimulusBase{id: id, parameters: params, sampleRate: rate, units: units},
		operands:     operands,
		combiner:     combiner,
	}
	if finite {
		c.accounting.duration = &dur
	}
	return c, nil
}

func prefixedKey(prefix string, idx int, key string) string {
	return prefix + "." + itoa(idx) + "." + key
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (c *CombinedStimulus) NextBlock(blockDuration time.Duration) (OutputData, error) {
	actual, ok := c.remainingToRender(blockDuration)
	if !ok {
		return OutputData{}, &StimulusError{Reason: "stimulus " + c.id + " is already exhausted"}
	}
	blocks := make([]OutputData, len(c.operands))
	for i, op := range c.operands {
		b, err := op.NextBlock(actual)
		if err != nil {
			return OutputData{}, err
		}
		blocks[i] = b
	}
	n := len(blocks[0].Data())
	acc := mat.NewVecDense(n, toFloats(blocks[0].Data()))
	for i := 1; i < len(blocks); i++ {
		next := mat.NewVecDense(n, toFloats(blocks[i].Data()))
		acc = c.combiner.Combine(acc, next)
	}
	out := make([]Measurement, n)
	for i := 0; i < n; i++ {
		out[i] = Measurement{Quantity: acc.AtVec(i), BaseUnit: c.units}
	}
	block := NewOutputData(out, c.sampleRate)
	c.advanceRenderPos(block.Duration())
	isLast := true
	for _, b := range blocks {
		isLast = isLast && b.IsLast
	}
	block.IsLast = isLast
	return block, nil
}

func toFloats(ms []Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.BaseQuantity()
	}
	return out
}
