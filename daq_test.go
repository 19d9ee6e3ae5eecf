package symphonycore

import (
	"sync"
	"testing"
	"time"
)

// fakeHardware is a minimal Hardware implementation for exercising
// Controller's process loop without a real DAQ board.
type fakeHardware struct {
	mu           sync.Mutex
	interval     time.Duration
	started      bool
	waitTrigger  bool
	stopped      bool
	iterations   int
	failOn       int // iteration number (1-based) on which ProcessLoopIteration errors, 0 = never
	restoredFor  []DeviceRef
}

func (h *fakeHardware) StartHardware(waitForTrigger bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.waitTrigger = waitForTrigger
	return nil
}

func (h *fakeHardware) ProcessLoopIteration(outgoing map[DeviceRef]OutputData, deficit time.Duration) (map[DeviceRef]InputData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.iterations++
	if h.failOn != 0 && h.iterations == h.failOn {
		return nil, &DAQError{Reason: "simulated hardware fault"}
	}
	incoming := make(map[DeviceRef]InputData, len(outgoing))
	for dev, out := range outgoing {
		incoming[dev] = NewInputData(out.Data(), out.SampleRate(), time.Time{})
	}
	return incoming, nil
}

func (h *fakeHardware) ApplyStreamBackgroundAsync(device DeviceRef, bg *Background) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restoredFor = append(h.restoredFor, device)
}

func (h *fakeHardware) ProcessInterval() time.Duration { return h.interval }

func (h *fakeHardware) StopHardware() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func TestControllerStartRequestStop(t *testing.T) {
	hw := &fakeHardware{interval: 5 * time.Millisecond}
	c := NewController(hw, nil)

	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Error("controller should report running right after Start")
	}
	time.Sleep(30 * time.Millisecond)
	if err := c.RequestStop(); err != nil {
		t.Fatal(err)
	}
	if c.Running() {
		t.Error("controller should not report running after RequestStop")
	}
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if !hw.stopped && hw.iterations == 0 {
		t.Error("expected at least one process loop iteration before stop")
	}
}

func TestControllerRejectsDoubleStart(t *testing.T) {
	hw := &fakeHardware{interval: 20 * time.Millisecond}
	c := NewController(hw, nil)
	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	defer c.RequestStop()
	if err := c.Start(false); err == nil {
		t.Error("starting an already-running controller should error")
	}
}

func TestControllerFailStopsTheLoopAndAllowsRestart(t *testing.T) {
	hw := &fakeHardware{interval: 5 * time.Millisecond, failOn: 1}
	bus := NewEventBus()
	var mu sync.Mutex
	var gotExceptionalStop bool
	bus.Subscribe(func(e Event) {
		if e.Kind == EventExceptionalStop {
			mu.Lock()
			gotExceptionalStop = true
			mu.Unlock()
		}
	})
	c := NewController(hw, bus)

	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	// Wait for the single iteration to fail and the loop to exit on its own.
	deadline := time.Now().Add(500 * time.Millisecond)
	for c.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.Running() {
		t.Fatal("controller should stop running on its own after an unrecoverable hardware error")
	}
	mu.Lock()
	if !gotExceptionalStop {
		t.Error("expected an EventExceptionalStop to have been published")
	}
	mu.Unlock()

	// A fresh fake hardware (no pending failure) should allow a clean restart.
	hw2 := &fakeHardware{interval: 5 * time.Millisecond}
	c.hardware = hw2
	if err := c.Start(false); err != nil {
		t.Fatalf("expected Start to succeed after the prior run failed out cleanly: %v", err)
	}
	c.RequestStop()
}

func TestControllerBindDeviceRejectedWhileRunning(t *testing.T) {
	hw := &fakeHardware{interval: 20 * time.Millisecond}
	c := NewController(hw, nil)
	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	defer c.RequestStop()

	rate := NewMeasurement(1000, "Hz")
	dur := 10 * time.Millisecond
	output := NewNullOutputStream(rate, &dur)
	if err := c.BindDevice(DeviceRef{Name: "A"}, output, nil); err == nil {
		t.Error("binding a device while the controller is running should error")
	}
}

func TestControllerPullsAndPushesBoundStreams(t *testing.T) {
	hw := &fakeHardware{interval: 5 * time.Millisecond}
	c := NewController(hw, nil)
	c.SetClock(NewFixedClock(time.Now()))

	rate := NewMeasurement(1000, "Hz")
	outDur := 50 * time.Millisecond
	output := NewNullOutputStream(rate, &outDur)
	input := NewNullInputStream(&rate, &outDur)
	dev := DeviceRef{Name: "chan0"}
	if err := c.BindDevice(dev, output, input); err != nil {
		t.Fatal(err)
	}

	if err := c.Start(false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	c.RequestStop()

	if output.Position() == 0 {
		t.Error("expected the bound output stream to have been pulled from")
	}
	if input.Position() == 0 {
		t.Error("expected the bound input stream to have received data")
	}
}
