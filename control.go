package symphonycore

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync/atomic"
	"time"
)

// Status is what StatusControl reports to clients: a read-only snapshot of
// the Controller's run state.
type Status struct {
	Running      bool
	WaitTrigger  bool
	IterationNum int64
	LastDeficitMs float64
	DeviceCount  int
}

// Heartbeat is the periodic liveness signal sent to RPC clients.
type Heartbeat struct {
	Running bool
	Time    float64
}

// StatusControl is a thin, read-only net/rpc service over a Controller: it
// exposes no configuration or mutation methods, only Status and Heartbeat.
type StatusControl struct {
	controller *Controller
	status     atomic.Value
}

// NewStatusControl wraps controller for RPC exposure.
func NewStatusControl(controller *Controller) *StatusControl {
	s := &StatusControl{controller: controller}
	s.status.Store(Status{})
	return s
}

// Refresh recomputes the cached Status snapshot from the live Controller.
// Call periodically (e.g. once per process-loop tick) rather than on every
// RPC call.
func (s *StatusControl) Refresh() {
	st := s.controller.State()
	c := s.controller
	c.changeMutex.Lock()
	n := len(c.streams)
	c.changeMutex.Unlock()
	s.status.Store(Status{
		Running:       st.Running,
		WaitTrigger:   st.WaitTrigger,
		IterationNum:  st.IterationNum,
		LastDeficitMs: float64(st.LastDeficit) / float64(time.Millisecond),
		DeviceCount:   n,
	})
}

// Status is the RPC method returning the last-refreshed snapshot.
func (s *StatusControl) Status(args *struct{}, reply *Status) error {
	*reply = s.status.Load().(Status)
	return nil
}

// Heartbeat is the RPC method returning current liveness info.
func (s *StatusControl) Heartbeat(args *struct{}, reply *Heartbeat) error {
	st := s.status.Load().(Status)
	*reply = Heartbeat{Running: st.Running, Time: float64(time.Now().UnixNano()) / 1e9}
	return nil
}

// ServeStatusControl registers a StatusControl on a new net/rpc server and
// serves each connection accepted on listener with the JSON-RPC codec,
// blocking until listener is closed. Exposes only the read-only status
// surface, not device configuration.
func ServeStatusControl(listener net.Listener, control *StatusControl) error {
	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return err
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
