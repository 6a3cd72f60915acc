// Package barrier implements the N-way rendezvous primitive: one
// designated master node arbitrates contributors entering at a given
// object version.
package barrier

import (
	"sort"
	"sync"

	"github.com/jabolina/netcluster/pkg/netcluster/core"
	"github.com/jabolina/netcluster/pkg/netcluster/object"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

// Barrier is a distributed object specialization implementing N-way
// rendezvous keyed on (object-id, version).
type Barrier struct {
	object.Base

	mu       sync.Mutex
	masterID types.NodeID
	master   *core.Node
	height   uint32

	leaveNotify *LeaveNotifier

	// enteredNodes is mutated only on the master's command thread.
	enteredNodes map[types.Version][]*core.Node
}

// NewMasterBarrier constructs the master replica of a new barrier, with
// masterNode as the node hosting it and the given fixed height.
func NewMasterBarrier(masterNode *core.Node, height uint32) *Barrier {
	if height < 1 {
		types.PanicPrecondition("barrier height must be >= 1, got %d", height)
	}
	return &Barrier{
		masterID:     masterNode.ID(),
		master:       masterNode,
		height:       height,
		leaveNotify:  NewLeaveNotifier(),
		enteredNodes: make(map[types.Version][]*core.Node),
	}
}

// NewSlaveBarrier constructs an uninitialized slave replica; callers must
// apply the master's instance data (ApplyInstanceData) before attaching
// it to a session.
func NewSlaveBarrier() *Barrier {
	return &Barrier{
		leaveNotify:  NewLeaveNotifier(),
		enteredNodes: make(map[types.Version][]*core.Node),
	}
}

// GetInstanceData serializes the full replica state: (height, masterID),
// the master->slave attach-time payload.
func (b *Barrier) GetInstanceData() wire.BarrierInstanceData {
	var masterID [16]byte
	copy(masterID[:], b.masterID[:])
	return wire.BarrierInstanceData{Height: b.height, MasterID: masterID}
}

// ApplyInstanceData applies a master's (height, masterID) to this
// (presumably slave) replica.
func (b *Barrier) ApplyInstanceData(data wire.BarrierInstanceData) {
	b.height = data.Height
	b.masterID = types.NodeID(data.MasterID)
}

// Pack serializes only the replicated-from-master subset: height. The
// masterID is fixed for the barrier's lifetime and known from the
// server's object map, so it never rides in version updates.
func (b *Barrier) Pack() uint32 { return b.height }

// Unpack applies a replicated height update.
func (b *Barrier) Unpack(height uint32) { b.height = height }

// Height returns the barrier's fixed contributor count.
func (b *Barrier) Height() uint32 { return b.height }

// OnAttach wires the barrier's handlers into the session's command queue.
func (b *Barrier) OnAttach(session *core.Session, objectID types.ObjectID, instanceID types.InstanceID) {
	b.Base.OnAttach(session, objectID, instanceID)
	if b.master == nil && !b.masterID.IsZero() && b.masterID == session.LocalNode().ID() {
		b.master = session.LocalNode()
	}
	b.RegisterHandler(wire.CmdBarrierEnter, b.cmdEnter)
	b.RegisterHandler(wire.CmdBarrierEnterReply, b.cmdEnterReply)
}

// Enter blocks the calling thread until this barrier's height has been
// reached at the replica's current version.
func (b *Barrier) Enter() error {
	if b.height < 1 {
		types.PanicPrecondition("barrier height must be >= 1")
	}
	if b.masterID.IsZero() {
		types.PanicPrecondition("barrier masterID must be set before Enter")
	}
	if b.Session() == nil {
		types.PanicPrecondition("barrier must be attached to a session before Enter")
	}
	if b.height == 1 {
		// Trivial: a single contributor never needs to wait for itself.
		return nil
	}

	master, err := b.resolveMaster()
	if err != nil {
		return err
	}

	// Reserve the target *before* sending: this closes the race where the
	// reply arrives and increments the counter before the waiter
	// subscribes.
	expected := b.leaveNotify.Value() + 1

	payload := wire.BarrierEnterPayload{Version: uint32(b.Version())}
	if err := b.Base.Send(master, wire.CmdBarrierEnter, payload, true); err != nil {
		return err
	}

	b.leaveNotify.WaitEqual(expected)
	return nil
}

func (b *Barrier) resolveMaster() (*core.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.master != nil {
		return b.master, nil
	}
	node, err := b.Session().Connect(b.masterID)
	if err != nil {
		return nil, err
	}
	b.master = node
	return node, nil
}

// cmdEnter is the master-side handler for BARRIER_ENTER, run on the
// master's command thread.
func (b *Barrier) cmdEnter(cmd *core.Command) core.Verdict {
	var payload wire.BarrierEnterPayload
	if err := cmd.Decode(&payload); err != nil {
		return core.Discard
	}
	version := types.Version(payload.Version)
	sender := cmd.GetNode()
	current := b.Version()

	b.mu.Lock()
	b.enteredNodes[version] = append(b.enteredNodes[version], sender)
	count := len(b.enteredNodes[version])
	b.mu.Unlock()

	// Early arrival: note it, but don't rendezvous until our own version
	// catches up. The regular update flow is assumed to eventually drive
	// the master to every version contributors accumulate at; a version
	// the master never reaches would leave them blocked.
	if version > current {
		return core.Discard
	}

	if version < current {
		// Stale: a version this barrier has already passed. Nothing to
		// rendezvous against; drop it like any other inapplicable packet.
		b.mu.Lock()
		delete(b.enteredNodes, version)
		b.mu.Unlock()
		return core.Discard
	}

	if count < int(b.height) {
		return core.Discard
	}

	b.mu.Lock()
	nodes := b.enteredNodes[version]
	delete(b.enteredNodes, version)
	b.mu.Unlock()

	b.release(nodes)
	return core.Discard
}

// release fires the rendezvous: sorts contributors for deterministic
// reply order, then unlocks each - locally via leaveNotify, remotely via
// BARRIER_ENTER_REPLY.
//
// Sorting is for deterministic transmission order only; it does NOT
// deduplicate. Each list entry - even a repeat from the same node -
// represents one pending waiter and must release exactly one.
func (b *Barrier) release(nodes []*core.Node) {
	sorted := make([]*core.Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID().Less(sorted[j].ID())
	})

	for _, node := range sorted {
		if node.IsLocal() {
			b.leaveNotify.Increment()
			continue
		}
		header := wire.ObjectHeader{
			Header: wire.Header{
				Datatype: wire.DatatypeObject,
				Command:  wire.CmdBarrierEnterReply,
			},
			SessionID:  uint32(b.Session().ID()),
			ObjectID:   uint32(b.ObjectID()),
			InstanceID: uint32(types.InstanceIDAny),
		}
		if err := node.Send(header, nil); err != nil {
			// A reply send failure is a transport concern; there is no
			// retry. The contributor simply never leaves.
			b.Session().Logger().Errorf("failed sending barrier enter reply to %s: %v", node.ID(), err)
		}
	}
}

// cmdEnterReply is the contributor-side handler for BARRIER_ENTER_REPLY.
func (b *Barrier) cmdEnterReply(cmd *core.Command) core.Verdict {
	b.leaveNotify.Increment()
	return core.Handled
}
