package symphonycore

import (
	"sync"
	"time"
)

// StimulusOutputStream wraps a Stimulus, splicing the stimulus's own lazily
// produced blocks into a buffer and splitting off exactly the duration each
// pull requests.
type StimulusOutputStream struct {
	mu            sync.Mutex
	stimulus      Stimulus
	blockDuration time.Duration
	buffer        OutputData
	haveBuffer    bool
	stimulusDone  bool
	position      time.Duration
	outputPos     time.Duration
}

// NewStimulusOutputStream returns an OutputStream over stim, requesting
// blockDuration-sized chunks from the stimulus as it fills pull requests.
func NewStimulusOutputStream(stim Stimulus, blockDuration time.Duration) *StimulusOutputStream {
	return &StimulusOutputStream{stimulus: stim, blockDuration: blockDuration}
}

func (s *StimulusOutputStream) SampleRate() (Measurement, bool) { return s.stimulus.SampleRate(), true }
func (s *StimulusOutputStream) Duration() (time.Duration, bool) { return s.stimulus.Duration() }
func (s *StimulusOutputStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *StimulusOutputStream) IsAtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAtEndLocked()
}

func (s *StimulusOutputStream) isAtEndLocked() bool {
	dur, finite := s.stimulus.Duration()
	if !finite {
		return false
	}
	return s.position >= dur && !s.haveBuffer
}

func (s *StimulusOutputStream) bufferDuration() time.Duration {
	if !s.haveBuffer {
		return 0
	}
	return s.buffer.Duration()
}

func (s *StimulusOutputStream) PullOutputData(d time.Duration) (OutputData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isAtEndLocked() {
		return OutputData{}, ErrStreamAtEnd
	}
	for s.bufferDuration() < d && !s.stimulusDone {
		block, err := s.stimulus.NextBlock(s.blockDuration)
		if err != nil {
			if _, ok := err.(*StimulusError); ok {
				s.stimulusDone = true
				break
			}
			return OutputData{}, err
		}
		if block.IsLast {
			s.stimulusDone = true
		}
		if !s.haveBuffer {
			s.buffer = block
			s.haveBuffer = true
		} else {
			merged, err := s.buffer.Concat(block)
			if err != nil {
				return OutputData{}, err
			}
			s.buffer = merged
		}
	}
	if !s.haveBuffer || s.buffer.Duration() == 0 {
		return OutputData{}, ErrStreamAtEnd
	}
	actual := minDuration(d, s.buffer.Duration())
	head, rest := s.buffer.SplitData(actual)
	s.buffer = rest
	s.haveBuffer = rest.Duration() > 0
	if s.haveBuffer == false && !s.stimulusDone {
		// rest is empty but more may come from the stimulus later; keep the
		// zero-length rest out of the way without losing done-state info.
		s.haveBuffer = false
	}
	if !s.haveBuffer && s.stimulusDone {
		head.IsLast = true
	}
	s.position += head.Duration()
	return head, nil
}

func (s *StimulusOutputStream) DidOutputData(t time.Time, span time.Duration, configs []NodeConfiguration) error {
	s.mu.Lock()
	if s.outputPos+span > s.position {
		s.mu.Unlock()
		return &StreamInvariantViolationError{Reason: "did_output_data span exceeds stimulus stream position"}
	}
	s.mu.Unlock()
	if err := s.stimulus.DidOutputData(t, span, configs); err != nil {
		return err
	}
	s.mu.Lock()
	s.outputPos += span
	s.mu.Unlock()
	return nil
}

func (s *StimulusOutputStream) OutputPosition() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputPos
}

func (s *StimulusOutputStream) IsOutputAtEnd() bool {
	dur, finite := s.stimulus.Duration()
	if !finite {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputPos >= dur
}

// backgroundSource is the minimal surface StimulusOutputStream's background
// cousins need from a Background.
type backgroundSource interface {
	SampleRate() Measurement
	ConstantBlock(n int) OutputData
	DidOutputData(outputTime time.Time, span time.Duration, configs []NodeConfiguration) error
}

// BackgroundOutputStream synthesizes constant-valued samples from a
// Background, optionally bounded by a duration (nil ⇒ indefinite).
type BackgroundOutputStream struct {
	mu        sync.Mutex
	bg        *Background
	duration  *time.Duration
	position  time.Duration
	outputPos time.Duration
}

// NewBackgroundOutputStream returns a standalone, optionally bounded
// background stream.
func NewBackgroundOutputStream(bg *Background, duration *time.Duration) *BackgroundOutputStream {
	return &BackgroundOutputStream{bg: bg, duration: duration}
}

func (b *BackgroundOutputStream) SampleRate() (Measurement, bool) { return b.bg.SampleRate(), true }
func (b *BackgroundOutputStream) Duration() (time.Duration, bool) {
	if b.duration == nil {
		return 0, false
	}
	return *b.duration, true
}
func (b *BackgroundOutputStream) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}
func (b *BackgroundOutputStream) IsAtEnd() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.duration == nil {
		return false
	}
	return b.position >= *b.duration
}

func (b *BackgroundOutputStream) PullOutputData(d time.Duration) (OutputData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.duration != nil && b.position >= *b.duration {
		return OutputData{}, ErrStreamAtEnd
	}
	actual := d
	isLast := false
	if b.duration != nil {
		remaining := *b.duration - b.position
		if actual > remaining {
			actual = remaining
		}
		isLast = b.position+actual >= *b.duration
	}
	n := samplesCeil(actual, b.bg.SampleRate().BaseQuantity())
	block := b.bg.ConstantBlock(n)
	block.IsLast = isLast
	b.position += block.Duration()
	return block, nil
}

func (b *BackgroundOutputStream) DidOutputData(t time.Time, span time.Duration, configs []NodeConfiguration) error {
	b.mu.Lock()
	if b.outputPos+span > b.position {
		b.mu.Unlock()
		return &StreamInvariantViolationError{Reason: "did_output_data span exceeds background stream position"}
	}
	b.mu.Unlock()
	if err := b.bg.DidOutputData(t, span, configs); err != nil {
		return err
	}
	b.mu.Lock()
	b.outputPos += span
	b.mu.Unlock()
	return nil
}

func (b *BackgroundOutputStream) OutputPosition() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputPos
}

func (b *BackgroundOutputStream) IsOutputAtEnd() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.duration == nil {
		return false
	}
	return b.outputPos >= *b.duration
}

// DeviceBackgroundOutputStream is the epoch-bound flavor of
// BackgroundOutputStream: the same synthesis, constructed specifically to
// fill a device's output slot when no stimulus is bound, per Epoch's
// get_output_stream priority order.
type DeviceBackgroundOutputStream struct {
	*BackgroundOutputStream
}

// NewDeviceBackgroundOutputStream returns a background stream bounded by the
// owning epoch's duration (nil if the epoch is indefinite).
func NewDeviceBackgroundOutputStream(bg *Background, epochDuration *time.Duration) *DeviceBackgroundOutputStream {
	return &DeviceBackgroundOutputStream{BackgroundOutputStream: NewBackgroundOutputStream(bg, epochDuration)}
}

// SequenceOutputStream is a FIFO concatenation of child OutputStreams.
type SequenceOutputStream struct {
	mu              sync.Mutex
	unended         []OutputStream
	ended           []OutputStream
	addingCompleted bool
	sampleRate      *Measurement
	position        time.Duration
	outputPos       time.Duration
}

// NewSequenceOutputStream returns an empty sequence. Children are appended
// with Add; call MarkAddingCompleted once no more children will be added.
func NewSequenceOutputStream() *SequenceOutputStream {
	return &SequenceOutputStream{}
}

// Add appends child to the sequence. Adding after MarkAddingCompleted,
// adding the sequence to itself, or adding a child with a sample rate that
// disagrees with the sequence's established rate, are all
// StreamInvariantViolationErrors.
func (s *SequenceOutputStream) Add(child OutputStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addingCompleted {
		return &StreamInvariantViolationError{Reason: "cannot add to a SequenceOutputStream after completion"}
	}
	if same, ok := child.(*SequenceOutputStream); ok && same == s {
		return &StreamInvariantViolationError{Reason: "cannot add a SequenceOutputStream to itself"}
	}
	if rate, ok := child.SampleRate(); ok {
		if s.sampleRate == nil {
			s.sampleRate = &rate
		} else if !s.sampleRate.Equal(rate) {
			return &StreamInvariantViolationError{Reason: "child sample rate does not match sequence sample rate"}
		}
	}
	s.unended = append(s.unended, child)
	return nil
}

// MarkAddingCompleted declares that no further children will be added.
func (s *SequenceOutputStream) MarkAddingCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addingCompleted = true
}

func (s *SequenceOutputStream) SampleRate() (Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleRate == nil {
		return Measurement{}, false
	}
	return *s.sampleRate, true
}

func (s *SequenceOutputStream) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.addingCompleted {
		return 0, false
	}
	var total time.Duration
	for _, c := range append(append([]OutputStream{}, s.ended...), s.unended...) {
		d, ok := c.Duration()
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}

func (s *SequenceOutputStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *SequenceOutputStream) IsAtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addingCompleted && len(s.unended) == 0
}

func (s *SequenceOutputStream) PullOutputData(d time.Duration) (OutputData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addingCompleted && len(s.unended) == 0 {
		return OutputData{}, ErrStreamAtEnd
	}
	if len(s.unended) == 0 {
		return OutputData{}, &StreamInvariantViolationError{Reason: "no streams available to pull from an open sequence"}
	}
	var collected OutputData
	haveAny := false
	remaining := d
	for remaining > 0 && len(s.unended) > 0 {
		child := s.unended[0]
		block, err := child.PullOutputData(remaining)
		if err != nil {
			if err == ErrStreamAtEnd {
				s.evictFront()
				continue
			}
			return OutputData{}, err
		}
		if !haveAny {
			collected = block
			haveAny = true
		} else {
			merged, err := collected.Concat(block)
			if err != nil {
				return OutputData{}, err
			}
			collected = merged
		}
		remaining -= block.Duration()
		if child.IsAtEnd() {
			s.evictFront()
		}
	}
	if !haveAny {
		return OutputData{}, ErrStreamAtEnd
	}
	s.position += collected.Duration()
	return collected, nil
}

// evictFront moves the current head of unended into ended. Caller holds
// s.mu.
func (s *SequenceOutputStream) evictFront() {
	child := s.unended[0]
	s.unended = s.unended[1:]
	s.ended = append(s.ended, child)
}

func (s *SequenceOutputStream) DidOutputData(t time.Time, span time.Duration, configs []NodeConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outputPos+span > s.position {
		return &StreamInvariantViolationError{Reason: "did_output_data span exceeds sequence position"}
	}
	remaining := span
	queue := append(append([]OutputStream{}, s.ended...), s.unended...)
	for _, child := range queue {
		if remaining <= 0 {
			break
		}
		childRemaining := child.Position() - child.OutputPosition()
		if childRemaining <= 0 {
			continue
		}
		give := minDuration(remaining, childRemaining)
		if err := child.DidOutputData(t, give, configs); err != nil {
			return err
		}
		remaining -= give
	}
	s.outputPos += span
	newEnded := s.ended[:0]
	for _, child := range s.ended {
		if !child.IsOutputAtEnd() {
			newEnded = append(newEnded, child)
		}
	}
	s.ended = newEnded
	return nil
}

func (s *SequenceOutputStream) OutputPosition() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputPos
}

func (s *SequenceOutputStream) IsOutputAtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addingCompleted && len(s.unended) == 0 && len(s.ended) == 0
}
