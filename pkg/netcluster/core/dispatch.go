package core

import (
	"sync"

	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

// Verdict is a handler's instruction back to the dispatcher.
type Verdict int

const (
	// Handled - success; drop the packet.
	Handled Verdict = iota
	// Discard - handler consumed the packet but nothing further is
	// required; drop it.
	Discard
	// Redispatch - not yet applicable (e.g. arrived for a future
	// version); requeue and move on so the command thread doesn't spin.
	Redispatch
)

// Command is a queued, already-decoded incoming packet paired with the
// node reference it arrived from. Handlers read the sender via GetNode
// and the typed payload via Decode; there is no per-command packet
// struct hierarchy beyond the header.
type Command struct {
	Header  wire.ObjectHeader
	Payload []byte
	node    *Node
}

// GetNode returns the node this command was received from.
func (c *Command) GetNode() *Node { return c.node }

// Decode unmarshals the command's payload into v.
func (c *Command) Decode(v interface{}) error {
	return wire.Decode(c.Payload, v)
}

// HandlerFunc is a command handler registered by an object at attach
// time, a closure capturing the object it dispatches into.
type HandlerFunc func(cmd *Command) Verdict

// instanceHandlers is the command table for one replica (one instanceID)
// of one object.
type instanceHandlers map[wire.Command]HandlerFunc

// objectInstances tracks every locally-attached replica of one object ID,
// in attach order, so an ANY-addressed packet has something deterministic
// to rotate through.
type objectInstances struct {
	order []types.InstanceID
	table map[types.InstanceID]instanceHandlers
	next  int
}

// pickAny returns the next instance ID in rotation. Must be called with
// the Queue's mutex held. Round-robining rather than always picking
// order[0] is what lets two ANY-addressed deliveries for the same object
// reach two distinct replicas instead of starving every instance but the
// first.
func (oi *objectInstances) pickAny() types.InstanceID {
	if len(oi.order) == 0 {
		return types.InstanceIDAny
	}
	id := oi.order[oi.next%len(oi.order)]
	oi.next++
	return id
}

// Queue is a session's command queue and command thread: packets are
// parked here paired with their origin node, and a single background
// goroutine pops them one at a time, resolves the target replica, and
// invokes its handler synchronously, so at most one handler runs at a
// time per object.
//
// Handlers are keyed by (object ID, instance ID): more than one replica
// of the same object may be attached on a single node (e.g. two
// independent barrier replicas sharing a master), and a packet addressed
// to the ANY sentinel instance must still land on exactly one of them
// per delivery. Resolution round-robins across the attached instances so
// that N ANY-addressed deliveries reach N distinct waiters instead of
// replaying onto whichever replica attached first.
//
// REDISPATCH packets are moved to a side list keyed by object ID instead
// of the queue tail: a packet that is not yet applicable typically becomes
// applicable when *that object's* version advances, not when "some other
// packet arrived", so indexing the side-park by object and re-injecting on
// Notify(objectID) avoids rescanning the FIFO for every unrelated packet.
// (The barrier does not use this path: its early arrivals are recorded in
// its own per-version contributor lists and answered with Discard.)
type Queue struct {
	log types.Logger

	mu       sync.Mutex
	handlers map[types.ObjectID]*objectInstances
	sidePark map[types.ObjectID][]*Command

	incoming chan *Command
	done     chan struct{}
	wake     chan types.ObjectID
}

// NewQueue creates a session's command queue. Start must be called to
// begin draining it on the command thread.
func NewQueue(log types.Logger) *Queue {
	return &Queue{
		log:      log,
		handlers: make(map[types.ObjectID]*objectInstances),
		sidePark: make(map[types.ObjectID][]*Command),
		incoming: make(chan *Command, 256),
		done:     make(chan struct{}),
		wake:     make(chan types.ObjectID, 256),
	}
}

// RegisterHandler binds a command code for (objectID, instanceID) to fn.
// Called through object.Base.RegisterHandler from a replica's OnAttach.
func (q *Queue) RegisterHandler(objectID types.ObjectID, instanceID types.InstanceID, command wire.Command, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	oi, ok := q.handlers[objectID]
	if !ok {
		oi = &objectInstances{table: make(map[types.InstanceID]instanceHandlers)}
		q.handlers[objectID] = oi
	}
	ih, ok := oi.table[instanceID]
	if !ok {
		ih = make(instanceHandlers)
		oi.table[instanceID] = ih
		oi.order = append(oi.order, instanceID)
	}
	ih[command] = fn
}

// Unregister drops the handlers and, if no instance of objectID remains,
// the parked packets for it too - called when a replica detaches from
// its session.
func (q *Queue) Unregister(objectID types.ObjectID, instanceID types.InstanceID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	oi, ok := q.handlers[objectID]
	if !ok {
		return
	}
	delete(oi.table, instanceID)
	for i, id := range oi.order {
		if id == instanceID {
			oi.order = append(oi.order[:i], oi.order[i+1:]...)
			break
		}
	}
	if len(oi.order) == 0 {
		delete(q.handlers, objectID)
		delete(q.sidePark, objectID)
	}
}

// Push enqueues an incoming command for dispatch.
func (q *Queue) Push(cmd *Command) {
	select {
	case q.incoming <- cmd:
	case <-q.done:
	}
}

// Notify re-injects any side-parked REDISPATCH commands for objectID -
// called whenever that object's state changes in a way that might make
// them applicable (e.g. its version advances).
func (q *Queue) Notify(objectID types.ObjectID) {
	select {
	case q.wake <- objectID:
	case <-q.done:
	default:
		// wake is full of pending wakes, possibly for other objects; hand
		// this one to a goroutine so it is delivered once Run drains the
		// buffer instead of being lost.
		go func() {
			select {
			case q.wake <- objectID:
			case <-q.done:
			}
		}()
	}
}

// Run drains the queue on the calling goroutine until Stop is called.
// Sessions spawn this as their command thread.
func (q *Queue) Run() {
	for {
		select {
		case <-q.done:
			return
		case cmd := <-q.incoming:
			q.dispatch(cmd)
		case objectID := <-q.wake:
			q.redispatchParked(objectID)
		}
	}
}

// Stop terminates the command thread.
func (q *Queue) Stop() {
	close(q.done)
}

func (q *Queue) dispatch(cmd *Command) {
	objectID := types.ObjectID(cmd.Header.ObjectID)
	instanceID := types.InstanceID(cmd.Header.InstanceID)

	q.mu.Lock()
	var fn HandlerFunc
	if oi, ok := q.handlers[objectID]; ok {
		target := instanceID
		if instanceID == types.InstanceIDAny {
			target = oi.pickAny()
		}
		if ih, ok := oi.table[target]; ok {
			fn = ih[cmd.Header.Command]
		}
	}
	q.mu.Unlock()

	if fn == nil {
		q.log.Warnf("protocol violation: no handler for object %d instance %d command %d", cmd.Header.ObjectID, instanceID, cmd.Header.Command)
		return
	}

	switch fn(cmd) {
	case Handled, Discard:
		return
	case Redispatch:
		q.park(cmd)
	}
}

func (q *Queue) park(cmd *Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	objectID := types.ObjectID(cmd.Header.ObjectID)
	q.sidePark[objectID] = append(q.sidePark[objectID], cmd)
}

func (q *Queue) redispatchParked(objectID types.ObjectID) {
	q.mu.Lock()
	parked := q.sidePark[objectID]
	q.sidePark[objectID] = nil
	q.mu.Unlock()

	for _, cmd := range parked {
		q.dispatch(cmd)
	}
}
