package symphonycore

import (
	"sync"
	"time"
)

// ResponseInputStream is the push side of the stream layer for a Response:
// captured samples are appended as segments, bounded (when the owning
// epoch's duration is known) by an overrun tolerance of one sample.
type ResponseInputStream struct {
	mu       sync.Mutex
	response *Response
	duration *time.Duration
	position time.Duration
	rate     *Measurement
}

// NewResponseInputStream returns an InputStream over response, bounded by
// duration (nil ⇒ indefinite, e.g. an epoch with no established duration).
func NewResponseInputStream(response *Response, duration *time.Duration) *ResponseInputStream {
	return &ResponseInputStream{response: response, duration: duration}
}

func (r *ResponseInputStream) SampleRate() (Measurement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rate == nil {
		return Measurement{}, false
	}
	return *r.rate, true
}

func (r *ResponseInputStream) Duration() (time.Duration, bool) {
	if r.duration == nil {
		return 0, false
	}
	return *r.duration, true
}

func (r *ResponseInputStream) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *ResponseInputStream) IsAtEnd() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.duration == nil {
		return false
	}
	return r.position >= *r.duration
}

// PushInputData appends d to the response. It is a
// StreamInvariantViolationError if d's sample rate disagrees with a rate
// already established by a prior push, or if d.Duration() would overrun the
// stream's remaining duration by more than one sample's worth.
func (r *ResponseInputStream) PushInputData(d InputData) error {
	r.mu.Lock()
	if r.rate == nil {
		rate := d.SampleRate()
		r.rate = &rate
	} else if !r.rate.Equal(d.SampleRate()) {
		r.mu.Unlock()
		return &StreamInvariantViolationError{Reason: "pushed input data sample rate does not match response input stream rate"}
	}
	if r.duration != nil {
		eps := oneSampleEpsilon(d.SampleRate().BaseQuantity())
		remaining := *r.duration - r.position
		if d.Duration() > remaining+eps {
			r.mu.Unlock()
			return &StreamInvariantViolationError{Reason: "push would overrun response input stream's remaining duration"}
		}
	}
	r.position += d.Duration()
	r.mu.Unlock()

	r.response.Append(d)
	return nil
}

// SequenceInputStream distributes pushed data across a FIFO of child
// InputStreams, splitting each push at each child's remaining duration.
type SequenceInputStream struct {
	mu              sync.Mutex
	unended         []InputStream
	ended           []InputStream
	addingCompleted bool
	sampleRate      *Measurement
	position        time.Duration
}

// NewSequenceInputStream returns an empty sequence. Children are appended
// with Add; call MarkAddingCompleted once no more children will be added.
func NewSequenceInputStream() *SequenceInputStream {
	return &SequenceInputStream{}
}

// Add appends child to the sequence, subject to the same invariants as
// SequenceOutputStream.Add.
func (s *SequenceInputStream) Add(child InputStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addingCompleted {
		return &StreamInvariantViolationError{Reason: "cannot add to a SequenceInputStream after completion"}
	}
	if same, ok := child.(*SequenceInputStream); ok && same == s {
		return &StreamInvariantViolationError{Reason: "cannot add a SequenceInputStream to itself"}
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
func (s *SequenceInputStream) MarkAddingCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addingCompleted = true
}

func (s *SequenceInputStream) SampleRate() (Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleRate == nil {
		return Measurement{}, false
	}
	return *s.sampleRate, true
}

func (s *SequenceInputStream) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.addingCompleted {
		return 0, false
	}
	var total time.Duration
	for _, c := range append(append([]InputStream{}, s.ended...), s.unended...) {
		d, ok := c.Duration()
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}

func (s *SequenceInputStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *SequenceInputStream) IsAtEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addingCompleted && len(s.unended) == 0
}

// PushInputData splits d across the unended children in order, each child
// taking up to its own remaining duration before the next child receives
// the rest. A child is moved to ended once it reports IsAtEnd().
func (s *SequenceInputStream) PushInputData(d InputData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addingCompleted && len(s.unended) == 0 {
		if d.Duration() == 0 {
			return nil
		}
		return &StreamInvariantViolationError{Reason: "push to a completed, empty SequenceInputStream"}
	}
	remaining := d
	for remaining.Duration() > 0 {
		if len(s.unended) == 0 {
			return &StreamInvariantViolationError{Reason: "no input streams available to receive pushed data"}
		}
		child := s.unended[0]
		childDur, bounded := child.Duration()
		var take time.Duration
		if bounded {
			take = minDuration(remaining.Duration(), childDur-child.Position())
		} else {
			take = remaining.Duration()
		}
		var head, rest InputData
		if take >= remaining.Duration() {
			head, rest = remaining, InputData{}
		} else {
			head, rest = remaining.SplitData(take)
		}
		if err := child.PushInputData(head); err != nil {
			return err
		}
		if child.IsAtEnd() {
			s.unended = s.unended[1:]
			s.ended = append(s.ended, child)
		}
		s.position += head.Duration()
		remaining = rest
		if rest.Duration() == 0 {
			break
		}
	}
	return nil
}
