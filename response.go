package symphonycore

import (
	"sort"
	"sync"
	"time"
)

// ConfigSpan is a contiguous time region (relative to the start of the
// owning Response or Stimulus data) annotated with the node configurations
// active over it.
type ConfigSpan struct {
	StartTime          time.Duration
	Duration           time.Duration
	NodeConfigurations []NodeConfiguration
}

// Response is the append-only, ordered collector of InputData segments for
// one device within one epoch.
type Response struct {
	mu         sync.Mutex
	pushOrder  []InputData // order segments were appended, for stable re-derivation
}

// NewResponse returns an empty Response.
func NewResponse() *Response { return &Response{} }

// Append adds a segment. Segments remain in push order internally; the
// public segment view sorts by input_time for presentation, per §5.
func (r *Response) Append(d InputData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushOrder = append(r.pushOrder, d)
}

// Segments returns the appended segments ordered by input_time.
func (r *Response) Segments() []InputData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]InputData(nil), r.pushOrder...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].InputTime.Before(out[j].InputTime) })
	return out
}

// SampleRate returns the common sample rate across all segments. An empty
// Response returns a zero Measurement and a nil error; heterogeneous segment
// sample rates are a ResponseError.
func (r *Response) SampleRate() (Measurement, error) {
	segs := r.Segments()
	if len(segs) == 0 {
		return Measurement{}, nil
	}
	rate := segs[0].SampleRate()
	for _, s := range segs[1:] {
		if !s.SampleRate().Equal(rate) {
			return Measurement{}, &ResponseError{Reason: "response segments have heterogeneous sample rates"}
		}
	}
	return rate, nil
}

// Duration is the sum of segment durations.
func (r *Response) Duration() time.Duration {
	segs := r.Segments()
	var total time.Duration
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

// Data returns the concatenation of all segment samples in presentation
// (input_time-sorted) order.
func (r *Response) Data() []Measurement {
	segs := r.Segments()
	var out []Measurement
	for _, s := range segs {
		out = append(out, s.Data()...)
	}
	return out
}

// ConfigurationSpans returns one ConfigSpan per segment, in presentation
// order, with StartTime set to the running sum of prior segment durations.
func (r *Response) ConfigurationSpans() []ConfigSpan {
	segs := r.Segments()
	out := make([]ConfigSpan, 0, len(segs))
	var t time.Duration
	for _, s := range segs {
		out = append(out, ConfigSpan{StartTime: t, Duration: s.Duration(), NodeConfigurations: s.NodeConfigurations()})
		t += s.Duration()
	}
	return out
}

// SegmentCount reports how many segments have been appended.
func (r *Response) SegmentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushOrder)
}
