package symphonycore

import (
	"math"
	"time"
)

// TicksPerSecond is the tick granularity (100 ns, matching .NET's
// DateTimeOffset/TimeSpan tick and the persistor's on-disk DATETIMEOFFSET
// record) at which durations are rounded.
const TicksPerSecond = 10_000_000

const tickDuration = time.Second / TicksPerSecond

// DurationFromSamples returns ceil(samples / sampleRateHz), rounded up to
// the next whole tick, as required of IOData.Duration.
func DurationFromSamples(samples int, sampleRateHz float64) time.Duration {
	if samples <= 0 {
		return 0
	}
	seconds := float64(samples) / sampleRateHz
	ticks := math.Ceil(seconds*TicksPerSecond - 1e-9)
	return time.Duration(ticks) * tickDuration
}

// SamplesForDuration returns the number of whole samples that fit within d
// at sampleRateHz, used when splitting a data block at a requested duration.
func SamplesForDuration(d time.Duration, sampleRateHz float64) int {
	if d <= 0 {
		return 0
	}
	return int(d.Seconds() * sampleRateHz)
}

// NodeConfiguration is the named configuration snapshot of one pipeline
// node that processed an IOData block.
type NodeConfiguration struct {
	Name   string
	Values *OrderedMap
}

// CloneNodeConfigurations deep-enough-copies a configuration slice.
func CloneNodeConfigurations(cfgs []NodeConfiguration) []NodeConfiguration {
	out := make([]NodeConfiguration, len(cfgs))
	for i, c := range cfgs {
		out[i] = NodeConfiguration{Name: c.Name, Values: c.Values.Clone()}
	}
	return out
}

func configNamesUnique(cfgs []NodeConfiguration, newName string) error {
	for _, c := range cfgs {
		if c.Name == newName {
			return &StreamInvariantViolationError{Reason: "node configuration name " + newName + " already present on this IOData"}
		}
	}
	return nil
}

// ioCore holds the fields and behavior shared by OutputData and InputData.
type ioCore struct {
	Data               []Measurement
	SampleRate         Measurement // base unit "Hz", must be positive
	NodeConfigurations []NodeConfiguration
}

func (c ioCore) duration() time.Duration {
	return DurationFromSamples(len(c.Data), c.SampleRate.BaseQuantity())
}

func (c ioCore) splitAt(dur time.Duration) (ioCore, ioCore) {
	n := SamplesForDuration(dur, c.SampleRate.BaseQuantity())
	if n > len(c.Data) {
		n = len(c.Data)
	}
	head := ioCore{
		Data:               append([]Measurement(nil), c.Data[:n]...),
		SampleRate:         c.SampleRate,
		NodeConfigurations: CloneNodeConfigurations(c.NodeConfigurations),
	}
	rest := ioCore{
		Data:               append([]Measurement(nil), c.Data[n:]...),
		SampleRate:         c.SampleRate,
	}
	return head, rest
}

func (c ioCore) concat(other ioCore) (ioCore, error) {
	if !c.SampleRate.Equal(other.SampleRate) {
		return ioCore{}, &StreamInvariantViolationError{Reason: "concat requires matching sample rates"}
	}
	if len(c.NodeConfigurations) != 0 || len(other.NodeConfigurations) != 0 {
		return ioCore{}, &StreamInvariantViolationError{Reason: "concat requires empty node configuration on both sides"}
	}
	data := make([]Measurement, 0, len(c.Data)+len(other.Data))
	data = append(data, c.Data...)
	data = append(data, other.Data...)
	return ioCore{Data: data, SampleRate: c.SampleRate}, nil
}

func (c ioCore) withNodeConfiguration(name string, values *OrderedMap) (ioCore, error) {
	if err := configNamesUnique(c.NodeConfigurations, name); err != nil {
		return ioCore{}, err
	}
	out := c
	out.NodeConfigurations = append(CloneNodeConfigurations(c.NodeConfigurations), NodeConfiguration{Name: name, Values: values})
	return out, nil
}

func (c ioCore) withConversion(f func(Measurement) Measurement) ioCore {
	out := c
	out.Data = make([]Measurement, len(c.Data))
	for i, m := range c.Data {
		out.Data[i] = f(m)
	}
	return out
}

func (c ioCore) withUnits(toUnit string, registry *ConversionRegistry) (ioCore, error) {
	out := c
	out.Data = make([]Measurement, len(c.Data))
	for i, m := range c.Data {
		conv, err := registry.Convert(m, toUnit)
		if err != nil {
			return ioCore{}, err
		}
		out.Data[i] = conv
	}
	return out, nil
}

// OutputData is an immutable block of samples bound for a device, tagged
// with the sample rate and the per-node configuration that produced it.
type OutputData struct {
	core       ioCore
	OutputTime *time.Time
	IsLast     bool
}

// NewOutputData constructs an OutputData block from raw samples.
func NewOutputData(data []Measurement, sampleRate Measurement) OutputData {
	return OutputData{core: ioCore{Data: data, SampleRate: sampleRate}}
}

func (d OutputData) Data() []Measurement                   { return d.core.Data }
func (d OutputData) SampleRate() Measurement                { return d.core.SampleRate }
func (d OutputData) NodeConfigurations() []NodeConfiguration { return d.core.NodeConfigurations }
func (d OutputData) Duration() time.Duration                { return d.core.duration() }

// SplitData returns (head, rest) where head.Duration() <= dur and rest holds
// the remainder (possibly empty).
func (d OutputData) SplitData(dur time.Duration) (OutputData, OutputData) {
	h, r := d.core.splitAt(dur)
	head := OutputData{core: h}
	rest := OutputData{core: r, OutputTime: d.OutputTime, IsLast: d.IsLast}
	if dur >= d.Duration() {
		head.IsLast = d.IsLast
		head.OutputTime = d.OutputTime
		rest.IsLast = false
	}
	return head, rest
}

// Concat appends other after d. Both sides must have matching sample rate
// and no node configuration. is_last is OR'd; output_time is taken from d.
func (d OutputData) Concat(other OutputData) (OutputData, error) {
	core, err := d.core.concat(other.core)
	if err != nil {
		return OutputData{}, err
	}
	return OutputData{
		core:       core,
		OutputTime: d.OutputTime,
		IsLast:     d.IsLast || other.IsLast,
	}, nil
}

func (d OutputData) WithUnits(toUnit string, registry *ConversionRegistry) (OutputData, error) {
	core, err := d.core.withUnits(toUnit, registry)
	if err != nil {
		return OutputData{}, err
	}
	return OutputData{core: core, OutputTime: d.OutputTime, IsLast: d.IsLast}, nil
}

func (d OutputData) WithConversion(f func(Measurement) Measurement) OutputData {
	return OutputData{core: d.core.withConversion(f), OutputTime: d.OutputTime, IsLast: d.IsLast}
}

func (d OutputData) WithNodeConfiguration(name string, values *OrderedMap) (OutputData, error) {
	core, err := d.core.withNodeConfiguration(name, values)
	if err != nil {
		return OutputData{}, err
	}
	return OutputData{core: core, OutputTime: d.OutputTime, IsLast: d.IsLast}, nil
}

// InputData is an immutable block of samples captured from a device.
type InputData struct {
	core      ioCore
	InputTime time.Time
}

// NewInputData constructs an InputData block from raw samples.
func NewInputData(data []Measurement, sampleRate Measurement, inputTime time.Time) InputData {
	return InputData{core: ioCore{Data: data, SampleRate: sampleRate}, InputTime: inputTime}
}

func (d InputData) Data() []Measurement                   { return d.core.Data }
func (d InputData) SampleRate() Measurement                { return d.core.SampleRate }
func (d InputData) NodeConfigurations() []NodeConfiguration { return d.core.NodeConfigurations }
func (d InputData) Duration() time.Duration                { return d.core.duration() }

// SplitData returns (head, rest) where head.Duration() <= dur.
func (d InputData) SplitData(dur time.Duration) (InputData, InputData) {
	h, r := d.core.splitAt(dur)
	head := InputData{core: h, InputTime: d.InputTime}
	rest := InputData{core: r}
	if dur < d.Duration() {
		n := SamplesForDuration(dur, d.core.SampleRate.BaseQuantity())
		restStart := DurationFromSamples(n, d.core.SampleRate.BaseQuantity())
		rest.InputTime = d.InputTime.Add(restStart)
	}
	return head, rest
}

// Concat appends other after d. input_time of the left operand is kept.
func (d InputData) Concat(other InputData) (InputData, error) {
	core, err := d.core.concat(other.core)
	if err != nil {
		return InputData{}, err
	}
	return InputData{core: core, InputTime: d.InputTime}, nil
}

func (d InputData) WithUnits(toUnit string, registry *ConversionRegistry) (InputData, error) {
	core, err := d.core.withUnits(toUnit, registry)
	if err != nil {
		return InputData{}, err
	}
	return InputData{core: core, InputTime: d.InputTime}, nil
}

func (d InputData) WithConversion(f func(Measurement) Measurement) InputData {
	return InputData{core: d.core.withConversion(f), InputTime: d.InputTime}
}

func (d InputData) WithNodeConfiguration(name string, values *OrderedMap) (InputData, error) {
	core, err := d.core.withNodeConfiguration(name, values)
	if err != nil {
		return InputData{}, err
	}
	return InputData{core: core, InputTime: d.InputTime}, nil
}
