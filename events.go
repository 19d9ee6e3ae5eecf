package symphonycore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	czmq "github.com/zeromq/goczmq"
)

// Event is the tagged union of lifecycle notifications the DAQ loop emits.
// Exactly one of the typed fields applies; callers discriminate with Kind.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Err       error      // ExceptionalStop only
	Device    DeviceRef  // StimulusOutput only
	Span      time.Duration
	EpochID   string
}

// EventKind enumerates the Event variants.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStopped
	EventExceptionalStop
	EventProcessIteration
	EventStimulusOutput
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventExceptionalStop:
		return "exceptional_stop"
	case EventProcessIteration:
		return "process_iteration"
	case EventStimulusOutput:
		return "stimulus_output"
	default:
		return "unknown"
	}
}

// EventBus serializes dispatch to every registered listener behind one
// lock, mirroring the single changeMutex discipline the process loop uses
// elsewhere: listeners never race each other, and a slow listener stalls
// the whole bus rather than corrupting it.
type EventBus struct {
	mu        sync.Mutex
	listeners []func(Event)
	publisher *EventPublisher
}

// NewEventBus returns an EventBus with no listeners and no ZMQ publisher.
func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers fn to receive every future event.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// SetPublisher installs an optional ZMQ mirror for StimulusOutput events.
// Pass nil to remove it.
func (b *EventBus) SetPublisher(p *EventPublisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher = p
}

// Publish dispatches e to every listener in registration order, then to the
// ZMQ publisher if one is installed and e is a StimulusOutput event.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fn := range b.listeners {
		fn(e)
	}
	if b.publisher != nil && e.Kind == EventStimulusOutput {
		b.publisher.PublishStimulusOutput(e)
	}
}

// EventPublisher mirrors StimulusOutput events onto a ZMQ PUB socket: a nil
// PubEvents means publishing is disabled, an optional leg rather than a
// required one.
type EventPublisher struct {
	PubEvents *czmq.Channeler
}

// HasPubEvents reports whether ZMQ mirroring is active.
func (p *EventPublisher) HasPubEvents() bool { return p.PubEvents != nil }

// SetPubEvents starts publishing over tcp at the given port.
func (p *EventPublisher) SetPubEvents(port int) {
	p.SetPubEventsWithHostname(fmt.Sprintf("tcp://*:%d", port))
}

// SetPubEventsWithHostname starts publishing at an explicit ZMQ endpoint.
func (p *EventPublisher) SetPubEventsWithHostname(hostname string) {
	if p.PubEvents != nil {
		panic("dont set this twice! Destroy first!")
	}
	p.PubEvents = czmq.NewPubChanneler(hostname)
}

// RemovePubEvents tears down the ZMQ publisher.
func (p *EventPublisher) RemovePubEvents() {
	p.PubEvents.Destroy()
	p.PubEvents = nil
}

// PublishStimulusOutput sends a two-part ZMQ message for e: a fixed header
// followed by the device's name.
//
// header layout:
//
//	 8 bits: header version
//	 8 bits: event kind (always StimulusOutput here)
//	64 bits: event time, UnixNano
//	64 bits: span, nanoseconds
//	16 bits: length of the device-name payload that follows
func (p *EventPublisher) PublishStimulusOutput(e Event) {
	if !p.HasPubEvents() {
		return
	}
	const headerVersion = uint8(0)
	name := []byte(e.Device.Name)

	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, headerVersion)
	binary.Write(header, binary.LittleEndian, uint8(EventStimulusOutput))
	binary.Write(header, binary.LittleEndian, uint64(e.Time.UnixNano()))
	binary.Write(header, binary.LittleEndian, uint64(e.Span.Nanoseconds()))
	binary.Write(header, binary.LittleEndian, uint16(len(name)))

	p.PubEvents.SendChan <- [][]byte{header.Bytes(), name}
}
