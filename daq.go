package symphonycore

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Hardware is the driver contract a physical or simulated DAQ board
// implements. Controller never touches a device register directly; it only
// calls through this interface.
type Hardware interface {
	// StartHardware switches the board into streaming mode. waitForTrigger
	// tells the board to hold off producing data until its trigger fires.
	StartHardware(waitForTrigger bool) error
	// ProcessLoopIteration delivers one tick's worth of outgoing samples per
	// device and returns the captured incoming samples per device. deficit
	// is how far the loop is currently running behind real time; a driver
	// may use it to detect and report an overrun.
	ProcessLoopIteration(outgoing map[DeviceRef]OutputData, deficit time.Duration) (map[DeviceRef]InputData, error)
	// ApplyStreamBackgroundAsync tells the board to fall back to a device's
	// background value without blocking the calling goroutine, used when
	// the controller stops a run early and must restore idle levels.
	ApplyStreamBackgroundAsync(device DeviceRef, bg *Background)
	// ProcessInterval is the hardware's natural tick period.
	ProcessInterval() time.Duration
	// StopHardware ends streaming mode.
	StopHardware() error
}

// deviceStreams bundles the live output/input streams bound to one device
// for the current run.
type deviceStreams struct {
	device DeviceRef
	output OutputStream
	input  InputStream
}

// runState is the Controller's atomically-swapped status snapshot.
type runState struct {
	Running      bool
	WaitTrigger  bool
	IterationNum int64
	LastDeficit  time.Duration
}

// Controller runs the fixed-interval process loop: each tick it pulls
// outbound samples from every active output stream, hands them to the
// hardware along with the previous tick's timing deficit, and distributes
// whatever the hardware captured back into the active input streams.
type Controller struct {
	hardware Hardware
	bus      *EventBus
	clock    Clock

	changeMutex sync.Mutex // guards the stream table below
	streams     []deviceStreams

	runMutex  sync.Mutex
	abortSelf chan struct{}
	runDone   sync.WaitGroup

	state atomic.Value // runState
}

// NewController returns a Controller driving hardware, reporting lifecycle
// events on bus (which may be nil). A real Clock is used unless overridden
// with SetClock, for deterministic tests.
func NewController(hardware Hardware, bus *EventBus) *Controller {
	c := &Controller{hardware: hardware, bus: bus, clock: SystemClock}
	c.state.Store(runState{})
	return c
}

// SetClock overrides the Controller's time source. Must be called before
// Start.
func (c *Controller) SetClock(clock Clock) { c.clock = clock }

// State returns a snapshot of the controller's current run status.
func (c *Controller) State() runState { return c.state.Load().(runState) }

func (c *Controller) setState(s runState) { c.state.Store(s) }

// Running reports whether the process loop goroutine is active.
func (c *Controller) Running() bool {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.abortSelf == nil {
		return false
	}
	select {
	case <-c.abortSelf:
		return false
	default:
		return true
	}
}

// BindDevice attaches device's output and input streams to the controller
// for the duration of the next run. Call before Start; calling while
// Running is a StreamInvariantViolationError.
func (c *Controller) BindDevice(device DeviceRef, output OutputStream, input InputStream) error {
	if c.Running() {
		return &StreamInvariantViolationError{Reason: "cannot bind a device while the controller is running"}
	}
	c.changeMutex.Lock()
	defer c.changeMutex.Unlock()
	for i, s := range c.streams {
		if s.device == device {
			c.streams[i] = deviceStreams{device: device, output: output, input: input}
			return nil
		}
	}
	c.streams = append(c.streams, deviceStreams{device: device, output: output, input: input})
	return nil
}

// UnbindAll clears every bound device, for reuse across runs.
func (c *Controller) UnbindAll() {
	c.changeMutex.Lock()
	defer c.changeMutex.Unlock()
	c.streams = nil
}

func (c *Controller) emit(kind EventKind, extra Event) {
	if c.bus == nil {
		return
	}
	extra.Kind = kind
	extra.Time = c.clock.Now()
	c.bus.Publish(extra)
}

// Start begins the process loop: it switches the hardware into streaming
// mode, then launches a goroutine that calls ProcessLoopIteration once per
// ProcessInterval until RequestStop is called or the hardware returns an
// unrecoverable error. It is an error to Start an already-running
// controller.
func (c *Controller) Start(waitForTrigger bool) error {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.abortSelf != nil {
		select {
		case <-c.abortSelf:
		default:
			return fmt.Errorf("cannot Start a controller that is already running")
		}
	}
	if err := c.hardware.StartHardware(waitForTrigger); err != nil {
		return err
	}
	c.abortSelf = make(chan struct{})
	c.setState(runState{Running: true, WaitTrigger: waitForTrigger})
	c.emit(EventStarted, Event{})

	c.runDone.Add(1)
	go c.loop()
	return nil
}

// RequestStop asks the process loop to exit after its current iteration and
// blocks until it has. On the way out, each device whose bound output
// stream is a BackgroundOutputStream or DeviceBackgroundOutputStream is
// restored to that stream's background level; devices bound to any other
// kind of output stream are not restored.
func (c *Controller) RequestStop() error {
	c.runMutex.Lock()
	if c.abortSelf == nil {
		c.runMutex.Unlock()
		return fmt.Errorf("controller not running, cannot stop")
	}
	select {
	case <-c.abortSelf:
		c.runMutex.Unlock()
		return fmt.Errorf("controller not running, cannot stop")
	default:
		close(c.abortSelf)
	}
	c.runMutex.Unlock()

	c.runDone.Wait()
	c.restoreBackgrounds()
	c.setState(runState{})
	c.emit(EventStopped, Event{})
	return nil
}

// WaitForInputTasks blocks until the running loop goroutine has exited,
// without itself requesting a stop.
func (c *Controller) WaitForInputTasks() {
	c.runDone.Wait()
}

func (c *Controller) restoreBackgrounds() {
	c.changeMutex.Lock()
	defer c.changeMutex.Unlock()
	for _, s := range c.streams {
		switch bos := s.output.(type) {
		case *BackgroundOutputStream:
			c.hardware.ApplyStreamBackgroundAsync(s.device, bos.bg)
		case *DeviceBackgroundOutputStream:
			c.hardware.ApplyStreamBackgroundAsync(s.device, bos.bg)
		}
	}
}

// loop free-runs at ProcessInterval, fanning out per-device pulls
// concurrently each tick and then pushing captured input to each device
// in turn, and stops itself on an unrecoverable hardware error.
func (c *Controller) loop() {
	defer c.runDone.Done()
	interval := c.hardware.ProcessInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deficit time.Duration
	var iteration int64

	for {
		select {
		case <-c.abortSelf:
			return
		case tickTime := <-ticker.C:
			start := c.clock.Now()
			outgoing, err := c.pullOutgoing(interval + deficit)
			if err != nil {
				c.fail(err)
				return
			}
			incoming, err := c.hardware.ProcessLoopIteration(outgoing, deficit)
			if err != nil {
				c.fail(err)
				return
			}
			if err := c.pushIncoming(incoming); err != nil {
				c.fail(err)
				return
			}
			c.recordOutputs(outgoing, tickTime)
			iteration++
			processingTime := c.clock.Now().Sub(start)
			if processingTime > interval {
				deficit = processingTime - interval
			} else {
				deficit = 0
			}
			st := c.State()
			st.IterationNum = iteration
			st.LastDeficit = deficit
			c.setState(st)
			c.emit(EventProcessIteration, Event{})
		}
	}
}

// pullOutgoing fans out a PullOutputData(d) call to every bound device's
// output stream concurrently, joined with a WaitGroup.
func (c *Controller) pullOutgoing(d time.Duration) (map[DeviceRef]OutputData, error) {
	c.changeMutex.Lock()
	streams := append([]deviceStreams(nil), c.streams...)
	c.changeMutex.Unlock()

	results := make([]OutputData, len(streams))
	errs := make([]error, len(streams))
	var wg sync.WaitGroup
	for i, s := range streams {
		if s.output == nil {
			continue
		}
		wg.Add(1)
		go func(i int, out OutputStream) {
			defer wg.Done()
			block, err := out.PullOutputData(d)
			if err != nil && err != ErrStreamAtEnd {
				errs[i] = err
				return
			}
			results[i] = block
		}(i, s.output)
	}
	wg.Wait()

	out := make(map[DeviceRef]OutputData, len(streams))
	for i, s := range streams {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if s.output != nil {
			out[s.device] = results[i]
		}
	}
	return out, nil
}

// pushIncoming distributes captured samples to each device's bound input
// stream. Devices with no bound input stream are silently dropped, the way
// a channel with noProcess set drains without recording.
func (c *Controller) pushIncoming(incoming map[DeviceRef]InputData) error {
	c.changeMutex.Lock()
	streams := append([]deviceStreams(nil), c.streams...)
	c.changeMutex.Unlock()

	for _, s := range streams {
		if s.input == nil {
			continue
		}
		data, ok := incoming[s.device]
		if !ok {
			continue
		}
		if err := s.input.PushInputData(data); err != nil {
			return err
		}
	}
	return nil
}

// recordOutputs tells each device's output stream that its slice of
// outgoing was actually written to the wire at tickTime, and mirrors each
// as a StimulusOutput event.
func (c *Controller) recordOutputs(outgoing map[DeviceRef]OutputData, tickTime time.Time) {
	c.changeMutex.Lock()
	streams := append([]deviceStreams(nil), c.streams...)
	c.changeMutex.Unlock()

	for _, s := range streams {
		block, ok := outgoing[s.device]
		if !ok || s.output == nil || block.Duration() == 0 {
			continue
		}
		if err := s.output.DidOutputData(tickTime, block.Duration(), block.NodeConfigurations()); err != nil {
			continue
		}
		c.emit(EventStimulusOutput, Event{Device: s.device, Span: block.Duration()})
	}
}

// fail stops the loop on an unrecoverable error, logging it, restoring
// backgrounds, and emitting ExceptionalStop. It closes abortSelf itself
// (rather than waiting for a caller to notice and call RequestStop) so
// Running() reflects the dead loop immediately.
func (c *Controller) fail(err error) {
	c.runMutex.Lock()
	if c.abortSelf != nil {
		select {
		case <-c.abortSelf:
		default:
			close(c.abortSelf)
		}
	}
	c.runMutex.Unlock()

	c.changeMutex.Lock()
	streams := append([]deviceStreams(nil), c.streams...)
	c.changeMutex.Unlock()
	log.Printf("symphonycore: process loop stopping on error: %v", err)
	log.Printf("symphonycore: bound streams at failure:\n%s", spew.Sdump(streams))

	c.restoreBackgrounds()
	c.setState(runState{})
	c.emit(EventExceptionalStop, Event{Err: err})
}
