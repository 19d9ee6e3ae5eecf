package symphonycore

import (
	"testing"
	"time"
)

func TestNullOutputStreamBoundedExhausts(t *testing.T) {
	dur := 100 * time.Millisecond
	rate := NewMeasurement(1000, "Hz")
	s := NewNullOutputStream(rate, &dur)

	block, err := s.PullOutputData(60 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if block.IsLast {
		t.Error("first partial pull should not be marked last")
	}
	if s.IsAtEnd() {
		t.Error("stream should not be at end after a partial pull")
	}

	block, err = s.PullOutputData(60 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !block.IsLast {
		t.Error("final pull covering the remaining duration should be marked last")
	}
	if !s.IsAtEnd() {
		t.Error("stream should be at end once its full duration has been pulled")
	}
	if _, err := s.PullOutputData(time.Millisecond); err != ErrStreamAtEnd {
		t.Errorf("want ErrStreamAtEnd, have %v", err)
	}
}

func TestNullOutputStreamIndefiniteNeverEnds(t *testing.T) {
	s := NewNullOutputStream(NewMeasurement(1000, "Hz"), nil)
	for i := 0; i < 5; i++ {
		if _, err := s.PullOutputData(time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if s.IsAtEnd() {
		t.Error("an indefinite stream must never report at-end")
	}
}

func TestNullInputStreamOverrunTolerance(t *testing.T) {
	dur := 10 * time.Millisecond
	rate := NewMeasurement(1000, "Hz")
	s := NewNullInputStream(&rate, &dur)

	samples := make([]Measurement, 11) // 11ms worth at 1kHz, one sample over
	data := NewInputData(samples, rate, time.Time{})
	if err := s.PushInputData(data); err != nil {
		t.Fatalf("a one-sample overrun should be tolerated: %v", err)
	}
}

func TestNullInputStreamRejectsLargeOverrun(t *testing.T) {
	dur := 10 * time.Millisecond
	rate := NewMeasurement(1000, "Hz")
	s := NewNullInputStream(&rate, &dur)

	samples := make([]Measurement, 50) // 50ms at 1kHz, far past the bound
	data := NewInputData(samples, rate, time.Time{})
	if err := s.PushInputData(data); err == nil {
		t.Error("expected a StreamInvariantViolationError for a large overrun")
	}
}
