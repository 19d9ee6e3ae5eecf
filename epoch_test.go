package symphonycore

import (
	"testing"
	"time"
)

func TestEpochDurationIsMaxOfStimuliAndResponses(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	rate := NewMeasurement(1000, "Hz")
	devA := DeviceRef{Name: "A", Manufacturer: "Acme"}
	devB := DeviceRef{Name: "B", Manufacturer: "Acme"}

	shortDur := 3 * time.Millisecond
	longDur := 8 * time.Millisecond
	e.SetStimulus(devA, NewRenderedStimulus("s1", NewOrderedMap(), "V",
		NewOutputData(samplesOf(1, 2, 3), rate), &shortDur, false))
	e.SetStimulus(devB, NewRenderedStimulus("s2", NewOrderedMap(), "V",
		NewOutputData(samplesOf(1, 2, 3, 4, 5, 6, 7, 8), rate), &longDur, false))

	dur, ok := e.Duration()
	if !ok {
		t.Fatal("epoch with two finite stimuli should have a finite duration")
	}
	if dur != longDur {
		t.Errorf("want %v, have %v", longDur, dur)
	}
}

func TestEpochIndefiniteWhenAnyStimulusIsIndefinite(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	devA := DeviceRef{Name: "A"}
	rate := NewMeasurement(1000, "Hz")
	renderer := BlockRendererFunc(func(requested, rendered time.Duration) (OutputData, error) {
		return NewOutputData(samplesOf(1), rate), nil
	})
	e.SetStimulus(devA, NewDelegatedStimulus("indefinite", NewOrderedMap(), rate, "V", renderer, nil, nil))

	if !e.IsIndefinite() {
		t.Error("an epoch with a stimulus of unbounded duration should be indefinite")
	}
	if _, ok := e.Duration(); ok {
		t.Error("an indefinite epoch should report ok=false for Duration")
	}
}

func TestEpochDevicesDeduplicatesAcrossRoles(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	dev := DeviceRef{Name: "shared"}
	rate := NewMeasurement(1000, "Hz")
	dur := 3 * time.Millisecond
	e.SetStimulus(dev, NewRenderedStimulus("s", NewOrderedMap(), "V",
		NewOutputData(samplesOf(1, 2, 3), rate), &dur, false))
	e.AddResponse(dev)
	e.SetBackground(dev, NewMeasurement(0, "V"), rate)

	devices := e.Devices()
	if len(devices) != 1 {
		t.Fatalf("want exactly 1 device, have %d", len(devices))
	}
	if devices[0] != dev {
		t.Errorf("want %v, have %v", dev, devices[0])
	}
}

func TestEpochGetOutputStreamPrefersStimulusOverBackground(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	dev := DeviceRef{Name: "A"}
	rate := NewMeasurement(1000, "Hz")
	dur := 3 * time.Millisecond
	e.SetStimulus(dev, NewRenderedStimulus("s", NewOrderedMap(), "V",
		NewOutputData(samplesOf(1, 2, 3), rate), &dur, false))
	e.SetBackground(dev, NewMeasurement(9, "V"), rate)

	stream, ok := e.GetOutputStream(dev, time.Millisecond)
	if !ok {
		t.Fatal("expected an output stream for a device with a bound stimulus")
	}
	if _, ok := stream.(*StimulusOutputStream); !ok {
		t.Errorf("expected a StimulusOutputStream, have %T", stream)
	}
}

func TestEpochGetOutputStreamFallsBackToBackground(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	dev := DeviceRef{Name: "A"}
	rate := NewMeasurement(1000, "Hz")
	e.SetBackground(dev, NewMeasurement(9, "V"), rate)

	stream, ok := e.GetOutputStream(dev, time.Millisecond)
	if !ok {
		t.Fatal("expected a background output stream for a device with no bound stimulus")
	}
	if _, ok := stream.(*DeviceBackgroundOutputStream); !ok {
		t.Errorf("expected a DeviceBackgroundOutputStream, have %T", stream)
	}
}

func TestEpochIsCompleteRequiresResponsesToCoverDuration(t *testing.T) {
	e := NewEpoch("protocol.test", nil)
	dev := DeviceRef{Name: "A"}
	rate := NewMeasurement(1000, "Hz")
	dur := 5 * time.Millisecond
	e.SetStimulus(dev, NewRenderedStimulus("s", NewOrderedMap(), "V",
		NewOutputData(samplesOf(1, 2, 3, 4, 5), rate), &dur, false))
	resp := e.AddResponse(dev)

	if e.IsComplete() {
		t.Error("epoch should not be complete before its stimulus output has been reported")
	}
	stim, _ := e.Stimulus(dev)
	if _, err := stim.NextBlock(dur); err != nil {
		t.Fatal(err)
	}
	if err := stim.DidOutputData(time.Time{}, dur, nil); err != nil {
		t.Fatal(err)
	}
	resp.Append(NewInputData(samplesOf(1, 2, 3), rate, time.Time{}))
	if e.IsComplete() {
		t.Error("epoch should not be complete while the response is shorter than the stimulus duration")
	}
	resp.Append(NewInputData(samplesOf(4, 5), rate, time.Time{}.Add(3*time.Millisecond)))
	if !e.IsComplete() {
		t.Error("epoch should be complete once the stimulus output is reported in full and the response covers its duration")
	}
}
