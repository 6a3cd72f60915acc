// Package nettest provides in-process cluster-bootstrap helpers for
// exercising the session/object/barrier stack without real sockets.
package nettest

import (
	"testing"
	"time"

	"github.com/jabolina/netcluster/pkg/netcluster/barrier"
	"github.com/jabolina/netcluster/pkg/netcluster/core"
	"github.com/jabolina/netcluster/pkg/netcluster/definition"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

// NewLogger builds the stderr logger used across tests, with debug
// output disabled.
func NewLogger() types.Logger {
	log := definition.NewLogrusLogger("nettest")
	log.ToggleDebug(false)
	return log
}

// NewSession spins up a fresh local session with its own random node
// identity and starts its command thread. Callers must Stop the returned
// session when done.
func NewSession(t *testing.T) *core.Session {
	t.Helper()
	session := core.NewLocalSession(1, types.NewNodeID(), NewLogger())
	go session.Run()
	return session
}

// Link wires a and b's sessions together over an in-process
// LocalConnection pair, skipping the CMD_NODE_CONNECT handshake since
// both sides' identities are already known in-process. A test harness
// plays the role of the connection-establishment layer, so it's allowed
// to short-circuit it.
func Link(a, b *core.Session) {
	connA, connB := core.NewLocalConnectionPair()
	bAtA := core.NewRemoteNode(b.LocalNode().ID(), connA)
	aAtB := core.NewRemoteNode(a.LocalNode().ID(), connB)
	a.Listen(connA, bAtA)
	b.Listen(connB, aAtB)
	a.Remember(bAtA)
	b.Remember(aAtB)
}

// Cluster is a master session hosting a barrier of the given height, plus
// one slave session per remaining contributor, each holding exactly one
// attached replica of that same barrier object.
type Cluster struct {
	MasterSession *core.Session
	Master        *barrier.Barrier

	SlaveSessions []*core.Session
	Slaves        []*barrier.Barrier

	ObjectID types.ObjectID
}

// NewCluster builds a barrier of the given height: one local master
// replica plus height-1 slave replicas, each on its own session/node,
// all linked to the master.
func NewCluster(t *testing.T, height uint32) *Cluster {
	t.Helper()
	master := NewSession(t)
	masterBarrier := barrier.NewMasterBarrier(master.LocalNode(), height)
	objectID := master.RegisterObject(masterBarrier)

	c := &Cluster{
		MasterSession: master,
		Master:        masterBarrier,
		ObjectID:      objectID,
	}

	for i := 0; i < int(height)-1; i++ {
		slaveSession := NewSession(t)
		Link(master, slaveSession)

		replica := barrier.NewSlaveBarrier()
		replica.ApplyInstanceData(masterBarrier.GetInstanceData())
		slaveSession.MapObject(objectID, replica)

		c.SlaveSessions = append(c.SlaveSessions, slaveSession)
		c.Slaves = append(c.Slaves, replica)
	}
	return c
}

// AddReplicaOn attaches another replica of this cluster's barrier object
// to an already-linked session (e.g. a second instance on an existing
// slave node, for the "two replicas share a node" scenario).
func (c *Cluster) AddReplicaOn(session *core.Session) *barrier.Barrier {
	replica := barrier.NewSlaveBarrier()
	replica.ApplyInstanceData(c.Master.GetInstanceData())
	session.MapObject(c.ObjectID, replica)
	return replica
}

// All returns every replica in the cluster, master first.
func (c *Cluster) All() []*barrier.Barrier {
	return append([]*barrier.Barrier{c.Master}, c.Slaves...)
}

// Stop tears down every session's command thread.
func (c *Cluster) Stop() {
	c.MasterSession.Stop()
	for _, s := range c.SlaveSessions {
		s.Stop()
	}
}

// WaitOrTimeout runs cb in its own goroutine and reports whether it
// finished before duration elapsed.
func WaitOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

// InstanceData round-trips a barrier's instance data through the wire
// codec, exactly as it travels from master to slave at attach time.
func InstanceData(data wire.BarrierInstanceData) (wire.BarrierInstanceData, error) {
	encoded, err := wire.Encode(data)
	if err != nil {
		return wire.BarrierInstanceData{}, err
	}
	var out wire.BarrierInstanceData
	if err := wire.Decode(encoded, &out); err != nil {
		return wire.BarrierInstanceData{}, err
	}
	return out, nil
}
