package symphonycore

import (
	"sync"
	"time"
)

// DeviceRef identifies the device a stimulus, response or background is
// bound to, mirroring the persistence Device entity's natural key.
type DeviceRef struct {
	Name         string
	Manufacturer string
}

// Epoch is the aggregate describing one bounded experimental trial: a
// protocol, its parameters, and the per-device stimuli/responses/
// backgrounds that drive and capture it.
type Epoch struct {
	ProtocolID           string
	ProtocolParameters   *OrderedMap
	Properties           *OrderedMap
	ShouldWaitForTrigger bool
	ShouldBePersisted    bool

	mu          sync.Mutex
	keywords    map[string]struct{}
	stimuli     map[DeviceRef]Stimulus
	responses   map[DeviceRef]*Response
	backgrounds map[DeviceRef]*Background
	streamedFor map[DeviceRef]bool // devices whose stream has been handed out (freeze marker)
}

// NewEpoch constructs an Epoch with empty per-device maps and parameters.
func NewEpoch(protocolID string, parameters *OrderedMap) *Epoch {
	if parameters == nil {
		parameters = NewOrderedMap()
	}
	return &Epoch{
		ProtocolID:         protocolID,
		ProtocolParameters: parameters,
		Properties:         NewOrderedMap(),
		keywords:           make(map[string]struct{}),
		stimuli:            make(map[DeviceRef]Stimulus),
		responses:          make(map[DeviceRef]*Response),
		backgrounds:        make(map[DeviceRef]*Background),
		streamedFor:        make(map[DeviceRef]bool),
	}
}

// streamFrozen reports whether a stream has already been handed out for
// device; mutation of that device's slot is then a documented caller error
// rather than an enforced one, per §4.2.
func (e *Epoch) streamFrozen(device DeviceRef) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamedFor[device]
}

// SetStimulus installs a Stimulus for device.
func (e *Epoch) SetStimulus(device DeviceRef, s Stimulus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stimuli[device] = s
}

// Stimulus returns the Stimulus bound to device, if any.
func (e *Epoch) Stimulus(device DeviceRef) (Stimulus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stimuli[device]
	return s, ok
}

// AddResponse declares (idempotently) a response slot for device and
// returns it.
func (e *Epoch) AddResponse(device DeviceRef) *Response {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.responses[device]
	if !ok {
		r = NewResponse()
		e.responses[device] = r
	}
	return r
}

// Response returns the Response bound to device, if any.
func (e *Epoch) Response(device DeviceRef) (*Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.responses[device]
	return r, ok
}

// SetBackground installs a Background of the given value and sample rate
// for device.
func (e *Epoch) SetBackground(device DeviceRef, value, sampleRate Measurement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backgrounds[device] = NewBackground(value, sampleRate)
}

// Background returns the Background bound to device, if any.
func (e *Epoch) Background(device DeviceRef) (*Background, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.backgrounds[device]
	return b, ok
}

// AddKeyword/RemoveKeyword/Keywords manage the epoch's keyword set.
func (e *Epoch) AddKeyword(k string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keywords[k] = struct{}{}
}

func (e *Epoch) RemoveKeyword(k string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.keywords, k)
}

func (e *Epoch) Keywords() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.keywords))
	for k := range e.keywords {
		out = append(out, k)
	}
	return out
}

// Devices returns the set of devices with a stimulus, response, or
// background bound, deduplicated.
func (e *Epoch) Devices() []DeviceRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[DeviceRef]struct{})
	for d := range e.stimuli {
		seen[d] = struct{}{}
	}
	for d := range e.responses {
		seen[d] = struct{}{}
	}
	for d := range e.backgrounds {
		seen[d] = struct{}{}
	}
	out := make([]DeviceRef, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}

// GetOutputStream returns, in priority order, a StimulusOutputStream if a
// stimulus is bound for device, otherwise a BackgroundOutputStream bounded
// by the epoch's duration, otherwise ok=false.
func (e *Epoch) GetOutputStream(device DeviceRef, blockDuration time.Duration) (OutputStream, bool) {
	e.mu.Lock()
	e.streamedFor[device] = true
	stim, hasStim := e.stimuli[device]
	bg, hasBg := e.backgrounds[device]
	e.mu.Unlock()

	if hasStim {
		return NewStimulusOutputStream(stim, blockDuration), true
	}
	if hasBg {
		dur, ok := e.Duration()
		var durPtr *time.Duration
		if ok {
			durPtr = &dur
		}
		return NewDeviceBackgroundOutputStream(bg, durPtr), true
	}
	return nil, false
}

// GetInputStream returns a ResponseInputStream bounded by the epoch's
// duration if a response slot exists for device, otherwise ok=false.
func (e *Epoch) GetInputStream(device DeviceRef) (InputStream, bool) {
	e.mu.Lock()
	e.streamedFor[device] = true
	r, ok := e.responses[device]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	dur, hasDur := e.Duration()
	var durPtr *time.Duration
	if hasDur {
		durPtr = &dur
	}
	return NewResponseInputStream(r, durPtr), true
}

// IsIndefinite reports whether any bound stimulus has an indefinite
// (None) duration.
func (e *Epoch) IsIndefinite() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.stimuli {
		if _, ok := s.Duration(); !ok {
			return true
		}
	}
	return false
}

// Duration is max(max stimulus.duration, max response.duration), or
// ok=false if indefinite or if no component establishes a bound.
func (e *Epoch) Duration() (time.Duration, bool) {
	if e.IsIndefinite() {
		return 0, false
	}
	e.mu.Lock()
	stimuli := make([]Stimulus, 0, len(e.stimuli))
	for _, s := range e.stimuli {
		stimuli = append(stimuli, s)
	}
	responses := make([]*Response, 0, len(e.responses))
	for _, r := range e.responses {
		responses = append(responses, r)
	}
	e.mu.Unlock()

	var max time.Duration
	found := false
	for _, s := range stimuli {
		if d, ok := s.Duration(); ok {
			if !found || d > max {
				max = d
				found = true
			}
		}
	}
	for _, r := range responses {
		d := r.Duration()
		if !found || d > max {
			max = d
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return max, true
}

// StartTime is the earliest start_time across stimuli and backgrounds that
// have begun.
func (e *Epoch) StartTime() (time.Time, bool) {
	e.mu.Lock()
	stimuli := make([]Stimulus, 0, len(e.stimuli))
	for _, s := range e.stimuli {
		stimuli = append(stimuli, s)
	}
	backgrounds := make([]*Background, 0, len(e.backgrounds))
	for _, b := range e.backgrounds {
		backgrounds = append(backgrounds, b)
	}
	e.mu.Unlock()

	var earliest time.Time
	found := false
	consider := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	for _, s := range stimuli {
		consider(s.StartTime())
	}
	for _, b := range backgrounds {
		consider(b.StartTime())
	}
	return earliest, found
}

// IsComplete reports whether every bound stimulus is complete and every
// bound response's duration is at least the epoch's duration.
func (e *Epoch) IsComplete() bool {
	e.mu.Lock()
	stimuli := make([]Stimulus, 0, len(e.stimuli))
	for _, s := range e.stimuli {
		stimuli = append(stimuli, s)
	}
	responses := make([]*Response, 0, len(e.responses))
	for _, r := range e.responses {
		responses = append(responses, r)
	}
	e.mu.Unlock()

	for _, s := range stimuli {
		if !s.IsComplete() {
			return false
		}
	}
	dur, hasDur := e.Duration()
	if hasDur {
		for _, r := range responses {
			if r.Duration() < dur {
				return false
			}
		}
	}
	return true
}
