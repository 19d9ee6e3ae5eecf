package symphonycore

import (
	"testing"
	"time"
)

func samplesOf(vals ...float64) []Measurement {
	out := make([]Measurement, len(vals))
	for i, v := range vals {
		out[i] = NewMeasurement(v, "V")
	}
	return out
}

func TestStimulusOutputStreamSplitsAcrossPulls(t *testing.T) {
	rate := NewMeasurement(1000, "Hz")
	source := NewOutputData(samplesOf(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), rate)
	dur := 10 * time.Millisecond
	stim := NewRenderedStimulus("stim1", NewOrderedMap(), "V", source, &dur, false)
	stream := NewStimulusOutputStream(stim, 10*time.Millisecond)

	block, err := stream.PullOutputData(6 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(block.Data()) != 6 {
		t.Errorf("want 6 samples, have %d", len(block.Data()))
	}
	if block.IsLast {
		t.Error("first of two pulls should not be last")
	}

	block, err = stream.PullOutputData(4 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(block.Data()) != 4 {
		t.Errorf("want 4 samples, have %d", len(block.Data()))
	}
	if !block.IsLast {
		t.Error("second pull exhausting the stimulus should be last")
	}
	if !stream.IsAtEnd() {
		t.Error("stream should be at end once the stimulus is exhausted")
	}
	if _, err := stream.PullOutputData(time.Millisecond); err != ErrStreamAtEnd {
		t.Errorf("want ErrStreamAtEnd, have %v", err)
	}
}

func TestStimulusOutputStreamDidOutputDataRejectsOverrun(t *testing.T) {
	rate := NewMeasurement(1000, "Hz")
	source := NewOutputData(samplesOf(1, 2, 3), rate)
	dur := 3 * time.Millisecond
	stim := NewRenderedStimulus("stim1", NewOrderedMap(), "V", source, &dur, false)
	stream := NewStimulusOutputStream(stim, 3*time.Millisecond)

	if _, err := stream.PullOutputData(2 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := stream.DidOutputData(time.Now(), 3*time.Millisecond, nil); err == nil {
		t.Error("confirming more than was pulled should be a StreamInvariantViolationError")
	}
	if err := stream.DidOutputData(time.Now(), 2*time.Millisecond, nil); err != nil {
		t.Errorf("confirming exactly what was pulled should succeed: %v", err)
	}
}

func TestBackgroundOutputStreamBoundedConstant(t *testing.T) {
	rate := NewMeasurement(1000, "Hz")
	bg := NewBackground(NewMeasurement(5, "V"), rate)
	dur := 5 * time.Millisecond
	stream := NewBackgroundOutputStream(bg, &dur)

	block, err := stream.PullOutputData(5 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !block.IsLast {
		t.Error("pulling the full bounded duration should mark the block last")
	}
	for _, m := range block.Data() {
		if m.BaseQuantity() != 5 {
			t.Errorf("every background sample should equal the constant value, have %v", m.BaseQuantity())
		}
	}
}

func TestDeviceBackgroundOutputStreamIndefiniteWhenEpochUnbounded(t *testing.T) {
	rate := NewMeasurement(1000, "Hz")
	bg := NewBackground(NewMeasurement(1, "V"), rate)
	stream := NewDeviceBackgroundOutputStream(bg, nil)
	if _, finite := stream.Duration(); finite {
		t.Error("a DeviceBackgroundOutputStream with no epoch duration should be indefinite")
	}
}

func TestSequenceOutputStreamFIFOEviction(t *testing.T) {
	rate := NewMeasurement(1000, "Hz")
	dur1 := 5 * time.Millisecond
	dur2 := 5 * time.Millisecond
	seq := NewSequenceOutputStream()
	if err := seq.Add(NewNullOutputStream(rate, &dur1)); err != nil {
		t.Fatal(err)
	}
	if err := seq.Add(NewNullOutputStream(rate, &dur2)); err != nil {
		t.Fatal(err)
	}
	seq.MarkAddingCompleted()

	total, ok := seq.Duration()
	if !ok || total != 10*time.Millisecond {
		t.Errorf("want total duration 10ms, have %v (ok=%v)", total, ok)
	}

	block, err := seq.PullOutputData(8 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if block.Duration() != 8*time.Millisecond {
		t.Errorf("want 8ms pulled across both children, have %v", block.Duration())
	}

	block, err = seq.PullOutputData(2 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !block.IsLast {
		t.Error("final pull exhausting the sequence should be last")
	}
	if !seq.IsAtEnd() {
		t.Error("sequence should be at end once all children are exhausted")
	}
}

func TestSequenceOutputStreamRejectsMismatchedRate(t *testing.T) {
	seq := NewSequenceOutputStream()
	dur := 5 * time.Millisecond
	if err := seq.Add(NewNullOutputStream(NewMeasurement(1000, "Hz"), &dur)); err != nil {
		t.Fatal(err)
	}
	if err := seq.Add(NewNullOutputStream(NewMeasurement(2000, "Hz"), &dur)); err == nil {
		t.Error("adding a child with a different sample rate should be a StreamInvariantViolationError")
	}
}

func TestSequenceOutputStreamRejectsAddAfterCompletion(t *testing.T) {
	seq := NewSequenceOutputStream()
	seq.MarkAddingCompleted()
	dur := 5 * time.Millisecond
	if err := seq.Add(NewNullOutputStream(NewMeasurement(1000, "Hz"), &dur)); err == nil {
		t.Error("adding after MarkAddingCompleted should be a StreamInvariantViolationError")
	}
}

func TestSequenceOutputStreamRejectsSelfAddition(t *testing.T) {
	seq := NewSequenceOutputStream()
	if err := seq.Add(seq); err == nil {
		t.Error("adding a sequence to itself should be a StreamInvariantViolationError")
	}
}
